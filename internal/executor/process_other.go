//go:build !unix

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup is a no-op on platforms without POSIX process
// groups; termination falls back to killing the child process directly.
func configureProcessGroup(cmd *exec.Cmd, useGroups bool) {}

func termSignal() syscall.Signal { return syscall.SIGTERM }
func killSignal() syscall.Signal { return syscall.SIGKILL }

func signalProcess(cmd *exec.Cmd, useGroups bool, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
