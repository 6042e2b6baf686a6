//go:build !windows

package execute

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup starts the agent in its own process group so that
// signals reach any children it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// processAlive checks whether a process with the given PID is still running
// by sending signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// terminate asks the process group to exit.
func terminate(pid int) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		return unix.Kill(pid, unix.SIGTERM)
	}
	return nil
}

// forceKill kills the process group outright.
func forceKill(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		return unix.Kill(pid, unix.SIGKILL)
	}
	return nil
}
