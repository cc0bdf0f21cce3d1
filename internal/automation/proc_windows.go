//go:build windows

package automation

import "os/exec"

// configureProcessGroup is a no-op on Windows; runners are killed directly.
func configureProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup force-kills the runner process.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
