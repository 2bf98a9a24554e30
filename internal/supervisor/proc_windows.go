//go:build windows

package supervisor

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// Windows has no SIGTERM; the process is killed outright.
func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func killGroup(cmd *exec.Cmd) error {
	return terminateGroup(cmd)
}
