// Package config holds the Resolved Configuration that is the immutable
// input to the scheduler. Parsing this struct out of CLI flags, env vars or
// config files is explicitly out of scope (spec.md §1 Non-goals); this
// package only validates a struct that has already been populated by
// whatever caller assembled it.
package config

import (
	"fmt"
	"time"
)

// Resolved is the fully validated configuration handed to the scheduler.
// It is immutable after Validate succeeds.
type Resolved struct {
	MaxWorkers        int
	TimeoutSeconds    int
	PollWaitSeconds   float64
	StartDelaySeconds float64
	MaxOutputCapture  int

	StopLimitsEnabled    bool
	MaxConsecutiveFails  int
	MaxFailureRate       float64
	MinTasksForRateCheck int

	WorkspaceIsolation bool
	UseProcessGroups   bool
	MaxFileSizeBytes   int64
	MaxArgumentLength  int

	TaskOutputLogEnabled bool

	// Workspace is the directory tasks run in (shared, unless
	// WorkspaceIsolation carves out a per-worker subdirectory under it).
	Workspace string

	// DataRoot is the per-user data root under which logs/, backups/,
	// pids/ and workspace/ are laid out (spec.md §6).
	DataRoot string
}

// Validate enforces the bounds spec.md §3 specifies. It returns the first
// violation found.
func (c Resolved) Validate() error {
	switch {
	case c.MaxWorkers < 1 || c.MaxWorkers > 100:
		return fmt.Errorf("max_workers must be in [1,100], got %d", c.MaxWorkers)
	case c.TimeoutSeconds < 1 || c.TimeoutSeconds > 3600:
		return fmt.Errorf("timeout_seconds must be in [1,3600], got %d", c.TimeoutSeconds)
	case c.PollWaitSeconds < 0.01 || c.PollWaitSeconds > 10.0:
		return fmt.Errorf("poll_wait_seconds must be in [0.01,10.0], got %v", c.PollWaitSeconds)
	case c.StartDelaySeconds < 0 || c.StartDelaySeconds > 60:
		return fmt.Errorf("start_delay_seconds must be in [0,60], got %v", c.StartDelaySeconds)
	case c.MaxOutputCapture < 1 || c.MaxOutputCapture > 10000:
		return fmt.Errorf("max_output_capture must be in [1,10000], got %d", c.MaxOutputCapture)
	case c.StopLimitsEnabled && c.MaxConsecutiveFails < 1:
		return fmt.Errorf("max_consecutive_failures must be >= 1, got %d", c.MaxConsecutiveFails)
	case c.StopLimitsEnabled && (c.MaxFailureRate < 0.0 || c.MaxFailureRate > 1.0):
		return fmt.Errorf("max_failure_rate must be in [0.0,1.0], got %v", c.MaxFailureRate)
	case c.StopLimitsEnabled && c.MinTasksForRateCheck < 1:
		return fmt.Errorf("min_tasks_for_rate_check must be >= 1, got %d", c.MinTasksForRateCheck)
	case c.Workspace == "":
		return fmt.Errorf("workspace must be set")
	case c.DataRoot == "":
		return fmt.Errorf("data_root must be set")
	}
	return nil
}

// Timeout is TimeoutSeconds as a time.Duration, for use by the runner.
func (c Resolved) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollWait is PollWaitSeconds as a time.Duration, for use by the scheduler.
func (c Resolved) PollWait() time.Duration {
	return time.Duration(c.PollWaitSeconds * float64(time.Second))
}

// StartDelay is StartDelaySeconds as a time.Duration.
func (c Resolved) StartDelay() time.Duration {
	return time.Duration(c.StartDelaySeconds * float64(time.Second))
}

// Default returns a Resolved configuration with the defaults a caller
// assembling one from scratch (e.g. cmd/parallelr's minimal main) would
// reasonably start from. It is not itself guaranteed valid for every
// Workspace/DataRoot pairing — callers must still set those and call
// Validate.
func Default() Resolved {
	return Resolved{
		MaxWorkers:           4,
		TimeoutSeconds:       300,
		PollWaitSeconds:      0.25,
		StartDelaySeconds:    0,
		MaxOutputCapture:     2000,
		StopLimitsEnabled:    false,
		MaxConsecutiveFails:  5,
		MaxFailureRate:       0.5,
		MinTasksForRateCheck: 5,
		WorkspaceIsolation:   false,
		UseProcessGroups:     true,
		MaxFileSizeBytes:     10 * 1024 * 1024,
		MaxArgumentLength:    4096,
		TaskOutputLogEnabled: true,
	}
}
