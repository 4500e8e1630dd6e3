package executor

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// Monitor is the optional resource-monitoring capability described in
// spec.md §4.3 step 5 and §9: a runner is handed one, and its absence (or
// any sampling failure) simply produces a Result with nil memory/CPU
// fields rather than aborting the task.
type Monitor interface {
	// Sample returns the current resident memory (MB) and CPU percent for
	// pid and all of its descendants.
	Sample(pid int) (memoryMB float64, cpuPercent float64, err error)
}

// NoopMonitor never samples anything; used when monitoring is disabled.
type NoopMonitor struct{}

func (NoopMonitor) Sample(int) (float64, float64, error) { return 0, 0, errNoMonitor }

var errNoMonitor = errors.New("monitoring disabled")

// GopsutilMonitor samples the current total RSS and CPU% of a pid and its
// descendants (startMonitoring keeps the peaks) via shirou/gopsutil/v3, the resource-stats library already in the
// teacher's dependency graph (used there for host/alloc stats).
type GopsutilMonitor struct{}

func (GopsutilMonitor) Sample(pid int) (float64, float64, error) {
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return 0, 0, err
	}

	procs := []*gopsprocess.Process{proc}
	for i := 0; i < len(procs); i++ {
		if children, err := procs[i].Children(); err == nil {
			procs = append(procs, children...)
		}
	}

	var totalRSS uint64
	var totalCPU float64
	for _, p := range procs {
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			totalRSS += mem.RSS
		}
		if cpu, err := p.CPUPercent(); err == nil {
			totalCPU += cpu
		}
	}

	return float64(totalRSS) / (1024 * 1024), totalCPU, nil
}

// startMonitoring launches a background sampler that polls at most every
// cfg.PollWaitSeconds (spec.md §4.3 step 5) and tracks the maximum observed
// memory/CPU. The returned stop function halts sampling and returns the
// peak values; ok is false if monitoring never produced a sample (monitor
// is a NoopMonitor, or every Sample call failed).
func (r *Runner) startMonitoring(pid int, log hclog.Logger) func() (mem, cpu float64, ok bool) {
	if _, isNoop := r.monitor.(NoopMonitor); isNoop {
		return func() (float64, float64, bool) { return 0, 0, false }
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	var mu sync.Mutex
	var peakMem, peakCPU float64
	var sampled bool

	interval := r.cfg.PollWait()
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				mem, cpu, err := r.monitor.Sample(pid)
				if err != nil {
					continue
				}
				mu.Lock()
				if mem > peakMem {
					peakMem = mem
				}
				if cpu > peakCPU {
					peakCPU = cpu
				}
				sampled = true
				mu.Unlock()
			}
		}
	}()

	return func() (float64, float64, bool) {
		close(stopCh)
		<-doneCh
		mu.Lock()
		defer mu.Unlock()
		return peakMem, peakCPU, sampled
	}
}
