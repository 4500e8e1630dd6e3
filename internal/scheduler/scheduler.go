// Package scheduler implements the Scheduler (C5): a bounded worker pool
// over an ordered Task Spec sequence, with throttled launch, cooperative
// shutdown on signal, and per-completion hand-off to the Failure Policy and
// Result Sink.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"
	tomb "gopkg.in/tomb.v1"

	"github.com/bastelbude1/parallelr/internal/config"
	"github.com/bastelbude1/parallelr/internal/executor"
	"github.com/bastelbude1/parallelr/internal/failurepolicy"
	"github.com/bastelbude1/parallelr/internal/sink"
	"github.com/bastelbude1/parallelr/internal/task"
)

// Scheduler drives a bounded worker pool over a Task Spec sequence.
type Scheduler struct {
	cfg     config.Resolved
	runner  *executor.Runner
	policy  *failurepolicy.Policy
	out     *sink.Sink
	logger  hclog.Logger
	sem     *semaphore.Weighted

	mu             sync.Mutex
	shutdownReason task.ShutdownReason
}

// New builds a Scheduler.
func New(cfg config.Resolved, runner *executor.Runner, policy *failurepolicy.Policy, out *sink.Sink, logger hclog.Logger) *Scheduler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		policy: policy,
		out:    out,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(cfg.MaxWorkers)),
	}
}

// RequestShutdown sets the shutdown reason if none is set yet, per
// spec.md §4.5. It is safe to call concurrently (e.g. from a signal
// handler in cmd/parallelr).
func (s *Scheduler) RequestShutdown(reason task.ShutdownReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownReason == task.ShutdownNone {
		s.shutdownReason = reason
	}
}

func (s *Scheduler) currentShutdownReason() task.ShutdownReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownReason
}

// Run dispatches every spec in order, enforcing bounded concurrency and
// inter-launch throttling, and returns every Task Result (in completion
// order) plus the final shutdown reason.
func (s *Scheduler) Run(ctx context.Context, sessionID string, specs []*task.Spec) ([]*task.Result, task.ShutdownReason) {
	taskCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()

	var watchdog tomb.Tomb
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown requested", "reason", "signal")
			s.RequestShutdown(task.ShutdownSignal)
			cancelTasks()
		case <-watchdog.Dying():
		}
		watchdog.Done()
	}()
	defer func() { watchdog.Kill(nil); watchdog.Wait() }()

	total := len(specs)
	resultsCh := make(chan *task.Result, total)

	idPool := make(chan int, s.cfg.MaxWorkers)
	for i := 0; i < s.cfg.MaxWorkers; i++ {
		idPool <- i
	}

	var wg sync.WaitGroup
	var lastDispatch time.Time
	var results []*task.Result
	dispatched := 0

	for _, spec := range specs {
		if s.currentShutdownReason() != task.ShutdownNone {
			break
		}

		if !lastDispatch.IsZero() {
			if wait := s.cfg.StartDelay() - time.Since(lastDispatch); wait > 0 {
				time.Sleep(wait)
			}
		}

		if !s.acquireSlot(taskCtx) {
			break
		}
		// Handle every completion that freed a slot before dispatching
		// again, so a failure-policy stop takes effect between dispatches.
		for len(resultsCh) > 0 {
			res := <-resultsCh
			results = append(results, res)
			s.handleCompletion(sessionID, res, cancelTasks)
		}
		if s.currentShutdownReason() != task.ShutdownNone {
			s.sem.Release(1)
			break
		}
		lastDispatch = time.Now()
		dispatched++

		workerID := <-idPool
		wg.Add(1)
		go func(spec *task.Spec, workerID int) {
			defer wg.Done()
			defer func() { s.sem.Release(1); idPool <- workerID }()
			resultsCh <- s.runner.Run(taskCtx, spec, workerID)
		}(spec, workerID)
	}

	// Drain every in-flight result (whether dispatched normally or
	// cancelled mid-flight), applying the failure policy and sink to each
	// as it arrives (spec.md §4.5 "Per-completion handling").
	for len(results) < dispatched {
		res := <-resultsCh
		results = append(results, res)
		s.handleCompletion(sessionID, res, cancelTasks)
	}
	wg.Wait()

	// Any spec never dispatched (because shutdown was requested first) is
	// synthesized as CANCELLED, per spec.md §4.5.
	if dispatched < total {
		now := time.Now()
		for _, spec := range specs[dispatched:] {
			cancelled := &task.Result{
				Index:        spec.Index,
				WorkerID:     -1,
				Status:       task.StatusCancelled,
				StartTime:    now,
				EndTime:      now,
				ErrorMessage: "cancelled before dispatch",
				EnvBindings:  spec.EnvBindings,
				Arguments:    spec.Arguments,
				ArgvTemplate: spec.ArgvTemplate,
				TaskFilePath: spec.TaskFilePath,
			}
			results = append(results, cancelled)
			s.handleCompletion(sessionID, cancelled, cancelTasks)
		}
	}

	return results, s.currentShutdownReason()
}

// acquireSlot blocks until a worker slot is free, re-checking the shutdown
// reason at least every PollWaitSeconds so an externally-set shutdown is
// noticed promptly even while every worker is busy (spec.md §4.5, §9 open
// question: bounded idle wait combined with prompt completion wake-up).
func (s *Scheduler) acquireSlot(ctx context.Context) bool {
	for {
		if s.currentShutdownReason() != task.ShutdownNone {
			return false
		}
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.PollWait())
		err := s.sem.Acquire(waitCtx, 1)
		cancel()
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		// Poll timeout expired with no slot free; loop and recheck.
	}
}

// handleCompletion implements spec.md §4.5's "Per-completion handling":
// append to the outcome stream (implicit in results), consult the failure
// policy, and emit to the sink.
func (s *Scheduler) handleCompletion(sessionID string, res *task.Result, cancelTasks context.CancelFunc) {
	if decision := s.policy.Observe(res.Status); decision == failurepolicy.Stop {
		if s.currentShutdownReason() == task.ShutdownNone {
			s.logger.Warn("failure policy triggered stop", "task", res.Index, "status", res.Status)
			s.RequestShutdown(task.ShutdownStopLimit)
			cancelTasks()
		}
	}
	if err := s.out.WriteTask(sessionID, res); err != nil {
		s.logger.Warn("writing task record failed", "task", res.Index, "error", err)
	}
}
