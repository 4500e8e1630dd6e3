// Package summary renders the single terminal summary spec.md §7 requires
// at the end of a run: counts by status, duration stats, memory stats.
// Rendering uses ryanuber/columnize, the same tabular-output library Nomad
// itself uses for CLI status output.
package summary

import (
	"fmt"
	"math"

	"github.com/ryanuber/columnize"

	"github.com/bastelbude1/parallelr/internal/task"
)

// Stats aggregates one metric (duration, memory, CPU) across a run.
type Stats struct {
	Count int
	Min   float64
	Max   float64
	Sum   float64
}

func (s *Stats) observe(v float64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Sum += v
	s.Count++
}

func (s Stats) mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Summary is the aggregate view over a completed run's Task Results.
type Summary struct {
	Counts       map[task.Status]int
	Duration     Stats
	Memory       Stats
	CPU          Stats
	ShutdownNote string
}

// Build aggregates results into a Summary.
func Build(results []*task.Result, shutdownNote string) Summary {
	s := Summary{Counts: map[task.Status]int{}, ShutdownNote: shutdownNote}
	for _, r := range results {
		s.Counts[r.Status]++
		s.Duration.observe(r.DurationSec)
		if r.PeakMemoryMB != nil {
			s.Memory.observe(*r.PeakMemoryMB)
		}
		if r.PeakCPUPct != nil {
			s.CPU.observe(*r.PeakCPUPct)
		}
	}
	return s
}

// Render formats the summary as a human-readable table.
func (s Summary) Render() string {
	statuses := []task.Status{
		task.StatusSuccess, task.StatusFailed, task.StatusTimeout,
		task.StatusCancelled, task.StatusLaunchError,
	}

	lines := []string{"Status | Count"}
	total := 0
	for _, st := range statuses {
		c := s.Counts[st]
		total += c
		lines = append(lines, fmt.Sprintf("%s | %d", st, c))
	}
	lines = append(lines, fmt.Sprintf("Total | %d", total))

	out := columnize.SimpleFormat(lines)
	out += "\n\n"

	if s.Duration.Count > 0 {
		out += fmt.Sprintf("Duration (s): min=%.2f max=%.2f mean=%.2f\n", s.Duration.Min, s.Duration.Max, s.Duration.mean())
	}
	if s.Memory.Count > 0 {
		out += fmt.Sprintf("Peak memory (MB): min=%.2f max=%.2f mean=%.2f\n", s.Memory.Min, s.Memory.Max, s.Memory.mean())
	}
	if s.CPU.Count > 0 {
		out += fmt.Sprintf("Peak CPU (%%): min=%.2f max=%.2f mean=%.2f\n", s.CPU.Min, s.CPU.Max, s.CPU.mean())
	}
	if s.ShutdownNote != "" {
		out += fmt.Sprintf("Shutdown reason: %s\n", s.ShutdownNote)
	}
	return out
}
