// Package executor implements the Process Runner (C3): it spawns one task
// in its own process group, streams its stdout/stderr into Output Rings
// without ever blocking on the child, enforces a timeout with a
// SIGTERM→grace→SIGKILL escalation across the whole process group, and
// optionally samples peak memory/CPU through a pluggable Monitor.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/bastelbude1/parallelr/internal/config"
	"github.com/bastelbude1/parallelr/internal/outputring"
	"github.com/bastelbude1/parallelr/internal/task"
)

// Phase A/B grace periods from spec.md §4.3 step 4.
const (
	termGrace     = 5 * time.Second
	killWait      = 500 * time.Millisecond
	drainDeadline = 2 * time.Second
)

// Runner executes Task Specs and produces Task Results.
type Runner struct {
	cfg     config.Resolved
	monitor Monitor
	logger  hclog.Logger
}

// New builds a Runner. monitor may be nil, in which case no resource
// samples are ever attached to a Result (spec.md §9's capability pattern).
func New(cfg config.Resolved, monitor Monitor, logger hclog.Logger) *Runner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if monitor == nil {
		monitor = NoopMonitor{}
	}
	return &Runner{cfg: cfg, monitor: monitor, logger: logger}
}

// Run executes spec and blocks until it completes, times out, or ctx is
// cancelled (external scheduler-wide cancellation, spec.md §4.5). It never
// returns an error: every failure mode is captured into the Result.
func (r *Runner) Run(ctx context.Context, spec *task.Spec, workerID int) *task.Result {
	log := r.logger.Named(fmt.Sprintf("task-%d", spec.Index)).With("worker", workerID)

	start := time.Now()
	res := &task.Result{
		Index:        spec.Index,
		WorkerID:     workerID,
		StartTime:    start,
		EnvBindings:  spec.EnvBindings,
		Arguments:    spec.Arguments,
		ArgvTemplate: spec.ArgvTemplate,
		TaskFilePath: spec.TaskFilePath,
	}
	finish := func(status task.Status, exitCode *int, errMsg string) *task.Result {
		res.Status = status
		res.ExitCode = exitCode
		res.ErrorMessage = errMsg
		res.EndTime = time.Now()
		res.DurationSec = res.EndTime.Sub(res.StartTime).Seconds()
		return res
	}

	if len(spec.ArgvTemplate) == 0 {
		return finish(task.StatusLaunchError, nil, "empty command")
	}

	stdoutRing, err := outputring.New(r.cfg.MaxOutputCapture)
	if err != nil {
		return finish(task.StatusLaunchError, nil, fmt.Sprintf("allocate stdout ring: %v", err))
	}
	stderrRing, err := outputring.New(r.cfg.MaxOutputCapture)
	if err != nil {
		return finish(task.StatusLaunchError, nil, fmt.Sprintf("allocate stderr ring: %v", err))
	}

	workDir := spec.WorkingDirectory
	if r.cfg.WorkspaceIsolation {
		isolated, err := isolatedWorkspace(workDir, workerID)
		if err != nil {
			return finish(task.StatusLaunchError, nil, fmt.Sprintf("preparing isolated workspace: %v", err))
		}
		workDir = isolated
	}

	cmd := exec.Command(spec.ArgvTemplate[0], spec.ArgvTemplate[1:]...)
	cmd.Dir = workDir
	cmd.Env = buildEnv(spec.EnvBindings)
	cmd.Stdin = nil // child reads from the null device

	configureProcessGroup(cmd, r.cfg.UseProcessGroups)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return finish(task.StatusLaunchError, nil, fmt.Sprintf("stdout pipe: %v", err))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return finish(task.StatusLaunchError, nil, fmt.Sprintf("stderr pipe: %v", err))
	}

	if err := cmd.Start(); err != nil {
		return finish(task.StatusLaunchError, nil, err.Error())
	}
	log.Info("launched", "pid", cmd.Process.Pid, "argv", spec.ArgvTemplate)

	var drainWG sync.WaitGroup
	drainWG.Add(2)
	go drainStream(&drainWG, stdoutPipe, stdoutRing)
	go drainStream(&drainWG, stderrPipe, stderrRing)

	// cmd.Wait() must not run until both drain goroutines have finished
	// reading: Wait reaps the child and closes the pipes as soon as it
	// returns, and racing it against the drain goroutines can silently
	// drop buffered-but-unread output (os/exec's StdoutPipe/StderrPipe
	// docs: "incorrect to call Wait before all reads ... have completed").
	waitCh := make(chan error, 1)
	go func() {
		drainWG.Wait()
		waitCh <- cmd.Wait()
	}()

	stopMonitor := r.startMonitoring(cmd.Process.Pid, log)

	timeout := r.cfg.Timeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var status task.Status
	var exitCode *int
	var errMsg string

	select {
	case waitErr := <-waitCh:
		code := exitStatus(waitErr)
		if waitErr == nil {
			status, exitCode = task.StatusSuccess, &code
		} else if code >= 0 {
			status, exitCode = task.StatusFailed, &code
			errMsg = fmt.Sprintf("exit code %d", code)
		} else {
			status = task.StatusFailed
			errMsg = waitErr.Error()
		}

	case <-timer.C:
		log.Warn("timeout exceeded, terminating", "timeout_seconds", r.cfg.TimeoutSeconds)
		terminate(cmd, r.cfg.UseProcessGroups, waitCh, log)
		status = task.StatusTimeout
		errMsg = fmt.Sprintf("Timeout after %ds", r.cfg.TimeoutSeconds)

	case <-ctx.Done():
		log.Info("cancelled by scheduler")
		terminate(cmd, r.cfg.UseProcessGroups, waitCh, log)
		status = task.StatusCancelled
		errMsg = "cancelled"
	}

	if mem, cpu, ok := stopMonitor(); ok {
		res.PeakMemoryMB = &mem
		res.PeakCPUPct = &cpu
	}

	drained := make(chan struct{})
	go func() { drainWG.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(drainDeadline):
		log.Warn("output drain did not finish before deadline")
	}

	res.StdoutTail = stdoutRing.String()
	res.StdoutTruncated = stdoutRing.Truncated()
	res.StdoutTotalBytes = stdoutRing.TotalWritten()
	res.StderrTail = stderrRing.String()
	res.StderrTruncated = stderrRing.Truncated()
	res.StderrTotalBytes = stderrRing.TotalWritten()

	return finish(status, exitCode, errMsg)
}

// terminate runs the Phase A -> Phase B escalation of spec.md §4.3 step 4.
// It is idempotent: calling it after the process has already exited is a
// no-op once waitCh has already delivered (the select below simply falls
// through immediately).
func terminate(cmd *exec.Cmd, useGroups bool, waitCh <-chan error, log hclog.Logger) {
	if cmd.Process == nil {
		return
	}

	// Phase A: SIGTERM to the whole group (or the child alone).
	signalProcess(cmd, useGroups, termSignal())
	select {
	case <-waitCh:
		return
	case <-time.After(termGrace):
	}

	// Phase B: SIGKILL, then a brief wait; anything left is an orphan.
	log.Warn("process ignored SIGTERM, escalating to SIGKILL", "pid", cmd.Process.Pid)
	signalProcess(cmd, useGroups, killSignal())
	select {
	case <-waitCh:
		return
	case <-time.After(killWait):
	}

	if orphans := scanDescendants(cmd.Process.Pid); len(orphans) > 0 {
		log.Warn("descendants survived SIGKILL, reporting as orphans", "pids", orphans)
	}
}

func drainStream(wg *sync.WaitGroup, r io.ReadCloser, ring *outputring.Ring) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	reader := bufio.NewReader(r)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			ring.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// isolatedWorkspace returns (creating it if necessary)
// <base>/pid<pid>_worker<workerID>, spec.md §6's optional per-worker
// workspace subdirectory.
func isolatedWorkspace(base string, workerID int) (string, error) {
	dir := filepath.Join(base, fmt.Sprintf("pid%d_worker%d", os.Getpid(), workerID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func buildEnv(bindings []task.EnvBinding) []string {
	env := os.Environ()
	for _, b := range bindings {
		env = append(env, b.Name+"="+b.Value)
	}
	return env
}

// exitStatus extracts a process exit code from cmd.Wait()'s error, or -1
// if the error wasn't an ExitError (e.g. the binary could not be exec'd).
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
