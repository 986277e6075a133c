package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/types"
)

// CollectEnvironment gathers static host information for the analysis header.
// Probes that fail leave their field empty.
func CollectEnvironment(ctx context.Context, log logrus.FieldLogger) types.EnvironmentInfo {
	log = log.WithField("component", "environment")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	env := types.EnvironmentInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
		CPUCores:     runtime.NumCPU(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		env.Hostname = info.Hostname
	} else {
		log.WithError(err).Debug("Failed to read host info")
	}

	if cpuInfo, err := cpu.InfoWithContext(ctx); err == nil && len(cpuInfo) > 0 {
		env.CPUModel = cpuInfo[0].ModelName
	} else if err != nil {
		log.WithError(err).Debug("Failed to read CPU info")
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil && cores > 0 {
		env.CPUCores = cores
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		env.TotalMemoryGB = round2(float64(memInfo.Total) / 1024 / 1024 / 1024)
	} else {
		log.WithError(err).Debug("Failed to read memory info")
	}

	return env
}
