// Command parallelr is the scheduler's process entry point. It is
// deliberately not a CLI parser (spec.md §1 Non-goals excludes argument
// parsing, environment-variable loading and layered config-file merging):
// Run accepts an already-resolved configuration and a minimal RunSpec, and
// main wires the two out of the standard library's flag package only far
// enough to exercise the binary from a shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bastelbude1/parallelr/internal/backup"
	"github.com/bastelbude1/parallelr/internal/config"
	"github.com/bastelbude1/parallelr/internal/executor"
	"github.com/bastelbude1/parallelr/internal/expand"
	"github.com/bastelbude1/parallelr/internal/failurepolicy"
	"github.com/bastelbude1/parallelr/internal/logging"
	"github.com/bastelbude1/parallelr/internal/registry"
	"github.com/bastelbude1/parallelr/internal/scheduler"
	"github.com/bastelbude1/parallelr/internal/session"
	"github.com/bastelbude1/parallelr/internal/sink"
	"github.com/bastelbude1/parallelr/internal/summary"
	"github.com/bastelbude1/parallelr/internal/task"
)

// RunSpec bundles the expand.Request fields a caller supplies on top of the
// Resolved Configuration; see spec.md §6.
type RunSpec struct {
	Sources           []string
	CommandTemplate   string
	ArgumentsFilePath string
	Separator         expand.Separator
	EnvNames          []string
	ExtensionFilter   string
	BackupEnabled     bool
	EnableMonitoring  bool
	LogLevel          string
}

// Run wires the full pipeline — expand, register, schedule, sink, summarize
// — and returns the process exit code spec.md §6 documents.
func Run(ctx context.Context, cfg config.Resolved, rs RunSpec) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return task.ExitConfigInvalid
	}

	sess, err := session.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting session: %v\n", err)
		return task.ExitConfigInvalid
	}

	logsDir := filepath.Join(cfg.DataRoot, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating logs directory: %v\n", err)
		return task.ExitConfigInvalid
	}
	jsonlPath := filepath.Join(logsDir, sess.Base+"_results.jsonl")
	outputLogPath := filepath.Join(logsDir, sess.Base+"_output.txt")
	opLogPath := filepath.Join(logsDir, sess.Base+".log")

	logger := logging.New(rs.LogLevel)
	if opLog, err := os.OpenFile(opLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
		logger.Warn("could not open operations log file, logging to stderr only", "error", err)
	} else {
		defer opLog.Close()
		logger = logging.NewWithOutput(rs.LogLevel, io.MultiWriter(os.Stderr, opLog))
	}
	logger = logger.With("session", sess.ID)

	reg := registry.New(filepath.Join(cfg.DataRoot, "pids", "registry"))
	entry := registry.Entry{
		PID:           sess.PID,
		StartWallTime: sess.Started,
		LogFile:       outputLogPath,
		ResultFile:    jsonlPath,
	}
	if err := reg.Register(entry); err != nil {
		logger.Warn("registering with pid registry failed", "error", err)
	}
	defer func() {
		if err := reg.Unregister(sess.PID); err != nil {
			logger.Warn("unregistering from pid registry failed", "error", err)
		}
	}()

	specs, err := expand.Expand(expand.Request{
		Sources:           rs.Sources,
		CommandTemplate:   rs.CommandTemplate,
		ArgumentsFilePath: rs.ArgumentsFilePath,
		Separator:         rs.Separator,
		EnvNames:          rs.EnvNames,
		ExtensionFilter:   rs.ExtensionFilter,
		WorkingDirectory:  cfg.Workspace,
		Config:            cfg,
		Logger:            logger.Named("expand"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "expanding tasks: %v\n", err)
		return task.ExitConfigInvalid
	}

	if rs.BackupEnabled {
		backupDir := filepath.Join(cfg.DataRoot, "backups", sess.Base)
		var taskFiles []string
		seenFiles := map[string]bool{}
		for _, sp := range specs {
			if sp.TaskFilePath != "" && !seenFiles[sp.TaskFilePath] {
				seenFiles[sp.TaskFilePath] = true
				taskFiles = append(taskFiles, sp.TaskFilePath)
			}
		}
		if err := backup.Copy(backupDir, taskFiles, rs.ArgumentsFilePath); err != nil {
			logger.Warn("backing up inputs failed", "error", err)
		}
		if err := backup.WriteSessionMetadata(backupDir, sess.ID, sess.Hostname, sess.User, rs.CommandTemplate); err != nil {
			logger.Warn("writing session metadata backup failed", "error", err)
		}
	}

	out, err := sink.Open(jsonlPath, outputLogPath, cfg.TaskOutputLogEnabled, logger.Named("sink"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening result sink: %v\n", err)
		return task.ExitConfigInvalid
	}
	defer out.Close()

	if err := out.WriteSession(sess, rs.CommandTemplate, cfg); err != nil {
		logger.Warn("writing session record failed", "error", err)
	}

	var monitor executor.Monitor
	if rs.EnableMonitoring {
		monitor = executor.GopsutilMonitor{}
	}
	runner := executor.New(cfg, monitor, logger.Named("executor"))
	policy := failurepolicy.New(cfg.StopLimitsEnabled, cfg.MaxConsecutiveFails, cfg.MaxFailureRate, cfg.MinTasksForRateCheck)
	sched := scheduler.New(cfg, runner, policy, out, logger.Named("scheduler"))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	signal.Ignore(syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		logger.Info("signal received, requesting graceful shutdown")
		sched.RequestShutdown(task.ShutdownSignal)
		cancel()

		select {
		case <-sigCh:
			logger.Warn("second signal received, forcing immediate exit")
			os.Exit(task.ExitSignal)
		case <-time.After(10 * time.Second):
		}
	}()

	results, reason := sched.Run(runCtx, sess.ID, specs)

	fmt.Println(summary.Build(results, string(reason)).Render())

	if reason == task.ShutdownSignal {
		return task.ExitSignal
	}
	return task.ExitOK
}

type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ",") }
func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var sources stringListFlag
	var envNames stringListFlag
	flag.Var(&sources, "source", "task source (file, directory, or glob); may be repeated")
	flag.Var(&envNames, "env", "env var name to bind from arguments-file columns, in order; may be repeated")
	command := flag.String("command", "", "command template, may contain @TASK@/@ARG@/@ARG_i@")
	argumentsFile := flag.String("arguments-file", "", "optional arguments file")
	separator := flag.String("separator", "", "arguments-file column separator: space|whitespace|tab|comma|semicolon|pipe|colon")
	extFilter := flag.String("extension", "", "task source extension filter, e.g. .txt")
	workspace := flag.String("workspace", "", "working directory for every task (default: current directory)")
	dataRoot := flag.String("data-root", "", "directory for logs/, backups/, pids/ (default: $HOME/.parallelr)")
	maxWorkers := flag.Int("max-workers", 4, "maximum concurrent tasks")
	timeoutSeconds := flag.Int("timeout-seconds", 300, "per-task timeout")
	stopLimits := flag.Bool("stop-limits", false, "enable auto-stop failure policy")
	maxConsecutiveFails := flag.Int("max-consecutive-fails", 5, "auto-stop threshold: consecutive failures")
	maxFailureRate := flag.Float64("max-failure-rate", 0.5, "auto-stop threshold: overall failure rate")
	minTasksForRateCheck := flag.Int("min-tasks-for-rate-check", 5, "tasks completed before the failure-rate check applies")
	backupEnabled := flag.Bool("backup", true, "back up input files into backups/<base>/")
	monitorEnabled := flag.Bool("monitor", true, "sample peak memory/CPU per task")
	logLevel := flag.String("log-level", "info", "logging level")
	flag.Parse()

	cfg := config.Default()
	cfg.MaxWorkers = *maxWorkers
	cfg.TimeoutSeconds = *timeoutSeconds
	cfg.StopLimitsEnabled = *stopLimits
	cfg.MaxConsecutiveFails = *maxConsecutiveFails
	cfg.MaxFailureRate = *maxFailureRate
	cfg.MinTasksForRateCheck = *minTasksForRateCheck

	if *workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "determining working directory: %v\n", err)
			os.Exit(task.ExitConfigInvalid)
		}
		cfg.Workspace = wd
	} else {
		cfg.Workspace = *workspace
	}

	if *dataRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "determining home directory: %v\n", err)
			os.Exit(task.ExitConfigInvalid)
		}
		cfg.DataRoot = filepath.Join(home, ".parallelr")
	} else {
		cfg.DataRoot = *dataRoot
	}

	if len(sources) == 0 && *argumentsFile == "" {
		fmt.Fprintln(os.Stderr, "at least one -source or -arguments-file is required")
		os.Exit(task.ExitUsage)
	}
	if *command == "" {
		fmt.Fprintln(os.Stderr, "-command is required")
		os.Exit(task.ExitUsage)
	}

	os.Exit(Run(context.Background(), cfg, RunSpec{
		Sources:           sources,
		CommandTemplate:   *command,
		ArgumentsFilePath: *argumentsFile,
		Separator:         expand.Separator(*separator),
		EnvNames:          envNames,
		ExtensionFilter:   *extFilter,
		BackupEnabled:     *backupEnabled,
		EnableMonitoring:  *monitorEnabled,
		LogLevel:          *logLevel,
	}))
}
