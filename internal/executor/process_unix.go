//go:build unix

package executor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcessGroup makes the child the leader of a new process group
// when useGroups is set, so every descendant it spawns is reachable with a
// single signal to -pid (spec.md §4.3 step 1).
func configureProcessGroup(cmd *exec.Cmd, useGroups bool) {
	if !useGroups {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func termSignal() syscall.Signal { return syscall.SIGTERM }
func killSignal() syscall.Signal { return syscall.SIGKILL }

// signalProcess sends sig to the child's process group (if useGroups) or to
// the child alone, ignoring "no such process" since the target may have
// already exited between the caller's liveness check and this call.
func signalProcess(cmd *exec.Cmd, useGroups bool, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	target := cmd.Process.Pid
	if useGroups {
		target = -target
	}
	if err := unix.Kill(target, sig); err != nil && err != unix.ESRCH {
		// Best-effort: the runner already logs escalation at the call site.
		_ = err
	}
}
