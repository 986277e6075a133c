package functional

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/types"
)

const mavenOutput = `[INFO] -------------------------------------------------------
[INFO]  T E S T S
[INFO] -------------------------------------------------------
[INFO] Running com.example.ItemsTest
[INFO] Tests run: 4, Failures: 0, Errors: 0, Skipped: 1, Time elapsed: 0.2 s - in com.example.ItemsTest
[INFO] Running com.example.OrdersTest
[ERROR] Tests run: 3, Failures: 1, Errors: 0, Skipped: 0, Time elapsed: 0.1 s <<< FAILURE! - in com.example.OrdersTest
[INFO]
[INFO] Results:
[INFO]
[ERROR] Tests run: 7, Failures: 1, Errors: 0, Skipped: 1
[INFO]
[INFO] BUILD FAILURE
`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("sh not available")
	}
}

func TestScanOutputMavenAggregate(t *testing.T) {
	c := ScanOutput(mavenOutput)

	assert.True(t, c.Found)
	assert.Equal(t, 7, c.Total)
	assert.Equal(t, 1, c.Failures)
	assert.Equal(t, 0, c.Errors)
	assert.Equal(t, 1, c.Skipped)
	assert.Equal(t, "FAILURE", c.BuildResult)
}

func TestScanOutputPartialMaven(t *testing.T) {
	// cut off before the Results section
	partial := mavenOutput[:strings.Index(mavenOutput, "[INFO] Results:")]
	c := ScanOutput(partial)

	assert.Equal(t, 7, c.Total)
	assert.Equal(t, 1, c.Failures)
	assert.Empty(t, c.BuildResult)
}

func TestScanOutputMultiModule(t *testing.T) {
	out := "[INFO] Tests run: 2, Failures: 0, Errors: 0, Skipped: 0\n" +
		"[INFO] Tests run: 5, Failures: 0, Errors: 1, Skipped: 0\n" +
		"[INFO] BUILD SUCCESS\n"
	c := ScanOutput(out)

	assert.Equal(t, 7, c.Total)
	assert.Equal(t, 1, c.Errors)
	assert.Equal(t, "SUCCESS", c.BuildResult)
}

func TestScanOutputGoTest(t *testing.T) {
	out := "=== RUN   TestA\n--- PASS: TestA (0.00s)\n=== RUN   TestB\n--- FAIL: TestB (0.01s)\n" +
		"    --- SKIP: TestB/sub (0.00s)\nFAIL\n"
	c := ScanOutput(out)

	assert.True(t, c.Found)
	assert.Equal(t, 3, c.Total)
	assert.Equal(t, 1, c.Failures)
	assert.Equal(t, 1, c.Skipped)
}

func TestScanOutputPastOverlongLine(t *testing.T) {
	out := "[INFO] Tests run: 4, Failures: 0, Errors: 0, Skipped: 0\r\n" +
		"[DEBUG] " + strings.Repeat("x", 2*1024*1024) + "\n" +
		"[ERROR] Tests run: 5, Failures: 1, Errors: 0, Skipped: 0\n" +
		"[INFO] BUILD FAILURE\n"
	c := ScanOutput(out)

	assert.Equal(t, 9, c.Total)
	assert.Equal(t, 1, c.Failures)
	assert.Equal(t, "FAILURE", c.BuildResult)

	summary := Summarize(out, 0, nil)
	assert.False(t, summary.Passed)
}

func TestScanOutputNothing(t *testing.T) {
	c := ScanOutput("compiling...\n")
	assert.False(t, c.Found)
	assert.Zero(t, c.Total)
}

func TestCaptureWindow(t *testing.T) {
	c := NewCapture(0)

	_, _ = c.Write([]byte("before"))
	assert.Empty(t, c.Output())

	c.Start()
	assert.True(t, c.Active())
	_, _ = c.Write([]byte("during"))
	c.Stop()
	_, _ = c.Write([]byte("after"))

	assert.False(t, c.Active())
	assert.Equal(t, "during", c.Output())
	assert.GreaterOrEqual(t, c.Elapsed(), time.Duration(0))
}

func TestCaptureLimitKeepsTail(t *testing.T) {
	c := NewCapture(8)
	c.Start()
	_, _ = c.Write([]byte("0123456789"))
	_, _ = c.Write([]byte("ab"))

	assert.Equal(t, "456789ab", c.Output())
	assert.Equal(t, int64(4), c.Dropped())
}

func TestCaptureConcurrentWrites(t *testing.T) {
	c := NewCapture(0)
	c.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = c.Write([]byte("x"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, c.Output(), 800)
}

func TestRunnerDisabled(t *testing.T) {
	r := NewRunner(config.FunctionalConfig{Command: []string{}}, testLogger())

	summary, err := r.Run(context.Background(), NewCapture(0))
	require.NoError(t, err)
	assert.False(t, summary.Executed)
	assert.Contains(t, summary.Message, "disabled")
	assert.False(t, r.Available())
}

func TestRunnerPasses(t *testing.T) {
	requireShell(t)
	r := NewRunner(config.FunctionalConfig{
		Command: []string{"sh", "-c", `echo "Tests run: 3, Failures: 0, Errors: 0, Skipped: 0"; echo "BUILD SUCCESS"; echo "$SUITE"`},
		Env:     map[string]string{"SUITE": "smoke"},
		Timeout: 10 * time.Second,
	}, testLogger())

	capture := NewCapture(0)
	summary, err := r.Run(context.Background(), capture)
	require.NoError(t, err)

	assert.True(t, summary.Executed)
	assert.True(t, summary.Passed)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, "3 tests, 0 failures, 0 errors, 0 skipped", summary.Message)
	assert.Contains(t, capture.Output(), "smoke")
}

func TestRunnerNonZeroExitKeepsSummary(t *testing.T) {
	requireShell(t)
	r := NewRunner(config.FunctionalConfig{
		Command: []string{"sh", "-c", `echo "Tests run: 5, Failures: 2, Errors: 0, Skipped: 0"; exit 1`},
		Timeout: 10 * time.Second,
	}, testLogger())

	summary, err := r.Run(context.Background(), NewCapture(0))
	require.Error(t, err)

	assert.True(t, summary.Executed)
	assert.False(t, summary.Passed)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.Failures)
	assert.Equal(t, 1, summary.ExitCode)
	assert.Contains(t, summary.Message, "exit code 1")
}

func TestRunnerTimeoutKeepsPartialOutput(t *testing.T) {
	requireShell(t)
	r := NewRunner(config.FunctionalConfig{
		Command: []string{"sh", "-c", `echo "Tests run: 2, Failures: 0, Errors: 0, Skipped: 0, Time elapsed: 0.1 s"; sleep 30`},
		Timeout: 300 * time.Millisecond,
	}, testLogger())

	summary, err := r.Run(context.Background(), NewCapture(0))
	require.Error(t, err)

	assert.True(t, summary.TimedOut)
	assert.False(t, summary.Passed)
	assert.Equal(t, 2, summary.Total)
	assert.Contains(t, summary.Message, "timed out")
}

func TestRunnerStageDeadlineIsTimeout(t *testing.T) {
	requireShell(t)
	r := NewRunner(config.FunctionalConfig{
		Command: []string{"sh", "-c", `echo "Tests run: 3, Failures: 0, Errors: 0, Skipped: 0, Time elapsed: 0.1 s"; sleep 30`},
		Timeout: 5 * time.Minute,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	summary, err := r.Run(ctx, NewCapture(0))
	require.Error(t, err)

	assert.True(t, summary.Executed)
	assert.True(t, summary.TimedOut)
	assert.False(t, summary.Passed)
	assert.Equal(t, 3, summary.Total)
	assert.Contains(t, summary.Message, "timed out")
	assert.NotContains(t, summary.Message, "could not be started")
}

func TestSummarizeCancelled(t *testing.T) {
	runErr := &types.ExternalToolError{Tool: "mvn", ExitCode: -1, Err: context.Canceled}

	summary := Summarize("", -1, runErr)
	assert.True(t, summary.Executed)
	assert.False(t, summary.TimedOut)
	assert.False(t, summary.Passed)
	assert.Contains(t, summary.Message, "cancelled")
}

func TestRunnerMissingBinary(t *testing.T) {
	r := NewRunner(config.FunctionalConfig{Command: []string{"definitely-not-mvn-xyz", "test"}}, testLogger())

	summary, err := r.Run(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, summary.Executed)
	assert.Contains(t, summary.Message, "could not be started")
}
