//go:build !unix

package executil

import "os/exec"

func setProcessGroup(c *exec.Cmd) {
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return c.Process.Kill()
	}
}
