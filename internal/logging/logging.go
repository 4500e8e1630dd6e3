// Package logging centralizes the hclog.Logger construction shared by every
// component, the way Nomad threads a single root logger down through
// client/executor, client/driver/executor and command/agent via Named
// sub-loggers.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// New builds the root logger for a scheduler session, named "parallelr".
func New(level string) hclog.Logger {
	return NewWithOutput(level, os.Stderr)
}

// NewWithOutput builds the root logger writing to out instead of stderr —
// spec.md §6's "logs/<base>.log" human-readable operations log. Rotation
// itself is explicitly out of scope (spec.md §1 Non-goals); the caller is
// responsible for opening out (typically os.OpenFile in append mode).
func NewWithOutput(level string, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "parallelr",
		Level:      hclog.LevelFromString(level),
		Output:     out,
		JSONFormat: false,
	})
}
