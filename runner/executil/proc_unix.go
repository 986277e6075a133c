//go:build unix

package executil

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own process group and kills the
// whole group on cancellation, so tools that fork (jmeter, mvn) do not leak.
func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
