package task

import "time"

// EnvBinding is one name=value pair to set in a child's environment.
// A slice (not a map) preserves the insertion order spec.md §3 and §4.7
// require for env_vars.
type EnvBinding struct {
	Name  string
	Value string
}

// Spec is a fully resolved, ready-to-execute description of one unit of
// work, produced once by the Input Expander (C1) and never mutated after.
type Spec struct {
	Index   int // 1-based ordinal
	Total   int // count of specs in the sequence this one belongs to

	// TaskFilePath is the absolute path of the per-task file this spec was
	// generated for. Empty in arguments-only mode.
	TaskFilePath string

	// ArgvTemplate is the fully substituted, tokenized command ready to
	// exec. No @TASK@/@ARG@/@ARG_i@ placeholder remains in any token.
	ArgvTemplate []string

	// EnvBindings are set in the child's environment in order, overriding
	// any inherited variable of the same name.
	EnvBindings []EnvBinding

	// Arguments is the raw, ordered list of argument tokens this spec was
	// built from (the arguments-file line's columns, if any).
	Arguments []string

	// WorkingDirectory is the absolute directory the child is exec'd in.
	WorkingDirectory string
}

// Result is the outcome of executing one Spec, produced by the Process
// Runner (C3) and consumed by the scheduler, failure policy and sink.
type Result struct {
	Index    int
	WorkerID int
	Status   Status

	ExitCode    *int // nil when the process never produced an exit code
	StartTime   time.Time
	EndTime     time.Time
	DurationSec float64

	StdoutTail        string
	StdoutTruncated   bool
	StdoutTotalBytes  int64
	StderrTail        string
	StderrTruncated   bool
	StderrTotalBytes  int64

	PeakMemoryMB  *float64
	PeakCPUPct    *float64

	ErrorMessage string // empty on SUCCESS

	// Back-links to the originating spec, copied rather than referenced so
	// a Result can outlive its Spec in the sink pipeline.
	EnvBindings      []EnvBinding
	Arguments        []string
	ArgvTemplate     []string
	TaskFilePath     string
}
