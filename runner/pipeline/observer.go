package pipeline

import (
	"time"

	"github.com/perf-cascade/runner/types"
)

// Phase says where in its lifecycle a stage (or the run) is
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseFinished  Phase = "finished"
	PhaseCompleted Phase = "completed"
)

// StageEvent reports pipeline progress. Outcome is set for finished stages,
// Result once the whole run has completed.
type StageEvent struct {
	RunID   string                `json:"run_id"`
	Stage   string                `json:"stage,omitempty"`
	Phase   Phase                 `json:"phase"`
	Outcome *StageOutcome         `json:"outcome,omitempty"`
	Result  *types.AnalysisResult `json:"result,omitempty"`
	Time    time.Time             `json:"time"`
}

// Observer receives progress events. OnStage is called synchronously from the
// pipeline and must not block.
type Observer interface {
	OnStage(ev StageEvent)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(StageEvent)

// OnStage calls f(ev)
func (f ObserverFunc) OnStage(ev StageEvent) {
	f(ev)
}
