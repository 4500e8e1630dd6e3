// Package sink implements the Result Sink (C7): it emits one session
// record followed by one record per completed Task Result as a
// line-delimited JSON stream, and optionally drives a human-readable
// per-task output log (spec.md §4.7).
package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/bastelbude1/parallelr/internal/config"
	"github.com/bastelbude1/parallelr/internal/session"
	"github.com/bastelbude1/parallelr/internal/task"
)

// orderedEnv marshals a slice of EnvBindings as a JSON object that
// preserves insertion order, which encoding/json's native map support
// cannot guarantee (spec.md §4.7: "env_vars (object, insertion-order)").
type orderedEnv []task.EnvBinding

func (o orderedEnv) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(b.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(b.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// SessionRecord is the first line of the JSONL stream.
type SessionRecord struct {
	Type            string          `json:"type"`
	SessionID       string          `json:"session_id"`
	Hostname        string          `json:"hostname"`
	User            string          `json:"user"`
	CommandTemplate string          `json:"command_template"`
	Config          config.Resolved `json:"config"`
}

// TaskRecord is one per-task line of the JSONL stream.
type TaskRecord struct {
	Type            string     `json:"type"`
	SessionID       string     `json:"session_id"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time"`
	Status          task.Status `json:"status"`
	WorkerID        int        `json:"worker_id"`
	TaskFile        *string    `json:"task_file"`
	CommandExecuted string     `json:"command_executed"`
	EnvVars         orderedEnv `json:"env_vars"`
	Arguments       []string   `json:"arguments"`
	ExitCode        *int       `json:"exit_code"`
	DurationSeconds float64    `json:"duration_seconds"`
	MemoryMB        *float64   `json:"memory_mb"`
	CPUPercent      *float64   `json:"cpu_percent"`
	ErrorMessage    string     `json:"error_message"`
}

// Sink writes the JSONL result stream and, optionally, a human-readable
// output log.
type Sink struct {
	mu        sync.Mutex
	jsonl     io.WriteCloser
	outputLog io.WriteCloser // nil when disabled
	logger    hclog.Logger
}

// Open creates (or appends to) the JSONL result file at jsonlPath and, if
// outputLogEnabled, the human-readable log at outputLogPath.
func Open(jsonlPath, outputLogPath string, outputLogEnabled bool, logger hclog.Logger) (*Sink, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	jf, err := os.OpenFile(jsonlPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening result sink %q: %w", jsonlPath, err)
	}

	s := &Sink{jsonl: jf, logger: logger}

	if outputLogEnabled {
		of, err := os.OpenFile(outputLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Warn("could not open output log, disabling it", "error", err)
		} else {
			s.outputLog = of
		}
	}

	return s, nil
}

// WriteSession emits the single session record; it must be called exactly
// once, before any WriteTask call.
func (s *Sink) WriteSession(info session.Info, commandTemplate string, cfg config.Resolved) error {
	rec := SessionRecord{
		Type:            "session",
		SessionID:       info.ID,
		Hostname:        info.Hostname,
		User:            info.User,
		CommandTemplate: commandTemplate,
		Config:          cfg,
	}
	return s.writeLine(rec)
}

// WriteTask emits one task record and, if enabled, appends a
// human-readable block to the output log. A failure to write the output
// log is a warning, never fatal (spec.md §7): it is aggregated via
// multierror and returned to the caller for visibility without aborting
// the run.
func (s *Sink) WriteTask(sessionID string, res *task.Result) error {
	var taskFile *string
	if res.TaskFilePath != "" {
		taskFile = &res.TaskFilePath
	}

	rec := TaskRecord{
		Type:            "task",
		SessionID:       sessionID,
		StartTime:       res.StartTime.Format(time.RFC3339Nano),
		EndTime:         res.EndTime.Format(time.RFC3339Nano),
		Status:          res.Status,
		WorkerID:        res.WorkerID,
		TaskFile:        taskFile,
		CommandExecuted: joinArgv(res.ArgvTemplate),
		EnvVars:         orderedEnv(res.EnvBindings),
		Arguments:       res.Arguments,
		ExitCode:        res.ExitCode,
		DurationSeconds: res.DurationSec,
		MemoryMB:        res.PeakMemoryMB,
		CPUPercent:      res.PeakCPUPct,
		ErrorMessage:    res.ErrorMessage,
	}

	var errs *multierror.Error
	if err := s.writeLine(rec); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.outputLog != nil {
		if err := s.writeOutputLogBlock(res); err != nil {
			s.logger.Warn("writing output log block failed", "error", err)
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (s *Sink) writeLine(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling sink record: %w", err)
	}
	b = append(b, '\n')
	_, err = s.jsonl.Write(b)
	return err
}

func (s *Sink) writeOutputLogBlock(res *task.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "=== task %d (%s) ===\n", res.Index, res.Status)
	fmt.Fprintf(&b, "command: %s\n", joinArgv(res.ArgvTemplate))
	fmt.Fprintf(&b, "start: %s  end: %s  duration: %.3fs\n",
		res.StartTime.Format(time.RFC3339), res.EndTime.Format(time.RFC3339), res.DurationSec)
	if res.ErrorMessage != "" {
		fmt.Fprintf(&b, "error: %s\n", res.ErrorMessage)
	}
	fmt.Fprintf(&b, "--- stdout (%d chars retained of %d bytes, truncated=%v) ---\n%s\n",
		len([]rune(res.StdoutTail)), res.StdoutTotalBytes, res.StdoutTruncated, res.StdoutTail)
	fmt.Fprintf(&b, "--- stderr (%d chars retained of %d bytes, truncated=%v) ---\n%s\n\n",
		len([]rune(res.StderrTail)), res.StderrTotalBytes, res.StderrTruncated, res.StderrTail)

	_, err := io.WriteString(s.outputLog, b.String())
	return err
}

func joinArgv(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\"'") {
			parts[i] = fmt.Sprintf("%q", a)
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

// Close closes the underlying files.
func (s *Sink) Close() error {
	var errs *multierror.Error
	if err := s.jsonl.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.outputLog != nil {
		if err := s.outputLog.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
