package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bastelbude1/parallelr/internal/config"
	"github.com/bastelbude1/parallelr/internal/task"
)

func baseConfig() config.Resolved {
	c := config.Default()
	c.Workspace = "/tmp"
	c.DataRoot = "/tmp"
	c.TimeoutSeconds = 5
	return c
}

func TestRunner_Success(t *testing.T) {
	r := New(baseConfig(), nil, nil)
	spec := &task.Spec{
		Index:            1,
		Total:            1,
		ArgvTemplate:     []string{"/bin/echo", "hello"},
		WorkingDirectory: "/tmp",
	}
	res := r.Run(context.Background(), spec, 0)
	require.Equal(t, task.StatusSuccess, res.Status)
	require.NotNil(t, res.ExitCode)
	require.Equal(t, 0, *res.ExitCode)
	require.Contains(t, res.StdoutTail, "hello")
	require.Empty(t, res.ErrorMessage)
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := New(baseConfig(), nil, nil)
	spec := &task.Spec{
		Index:            1,
		Total:            1,
		ArgvTemplate:     []string{"/bin/sh", "-c", "exit 7"},
		WorkingDirectory: "/tmp",
	}
	res := r.Run(context.Background(), spec, 0)
	require.Equal(t, task.StatusFailed, res.Status)
	require.Equal(t, 7, *res.ExitCode)
	require.Equal(t, "exit code 7", res.ErrorMessage)
}

func TestRunner_LaunchError(t *testing.T) {
	r := New(baseConfig(), nil, nil)
	spec := &task.Spec{
		Index:            1,
		Total:            1,
		ArgvTemplate:     []string{"/no/such/binary"},
		WorkingDirectory: "/tmp",
	}
	res := r.Run(context.Background(), spec, 0)
	require.Equal(t, task.StatusLaunchError, res.Status)
	require.NotEmpty(t, res.ErrorMessage)
}

func TestRunner_Timeout(t *testing.T) {
	cfg := baseConfig()
	cfg.TimeoutSeconds = 1
	r := New(cfg, nil, nil)
	spec := &task.Spec{
		Index:            1,
		Total:            1,
		ArgvTemplate:     []string{"/bin/sh", "-c", "sleep 30"},
		WorkingDirectory: "/tmp",
	}
	start := time.Now()
	res := r.Run(context.Background(), spec, 0)
	elapsed := time.Since(start)

	require.Equal(t, task.StatusTimeout, res.Status)
	require.Contains(t, res.ErrorMessage, "Timeout after")
	require.Less(t, elapsed, 10*time.Second)
}

func TestRunner_ProcessGroupKillsTree(t *testing.T) {
	cfg := baseConfig()
	cfg.TimeoutSeconds = 1
	cfg.UseProcessGroups = true
	r := New(cfg, nil, nil)
	spec := &task.Spec{
		Index:            1,
		Total:            1,
		ArgvTemplate:     []string{"/bin/sh", "-c", "sleep 60 & sleep 60 & wait"},
		WorkingDirectory: "/tmp",
	}
	start := time.Now()
	res := r.Run(context.Background(), spec, 0)
	elapsed := time.Since(start)

	require.Equal(t, task.StatusTimeout, res.Status)
	require.GreaterOrEqual(t, elapsed, 1*time.Second)
	require.Less(t, elapsed, 8*time.Second)
}

func TestRunner_CancellationViaContext(t *testing.T) {
	r := New(baseConfig(), nil, nil)
	spec := &task.Spec{
		Index:            1,
		Total:            1,
		ArgvTemplate:     []string{"/bin/sh", "-c", "sleep 30"},
		WorkingDirectory: "/tmp",
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	res := r.Run(ctx, spec, 0)
	require.Equal(t, task.StatusCancelled, res.Status)
}

func TestRunner_OutputTruncation(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOutputCapture = 5
	r := New(cfg, nil, nil)
	spec := &task.Spec{
		Index:            1,
		Total:            1,
		ArgvTemplate:     []string{"/bin/echo", "abcdefghij"},
		WorkingDirectory: "/tmp",
	}
	res := r.Run(context.Background(), spec, 0)
	require.Equal(t, task.StatusSuccess, res.Status)
	require.LessOrEqual(t, len([]rune(res.StdoutTail)), 5)
	require.True(t, res.StdoutTruncated)
}

func TestRunner_WorkspaceIsolation(t *testing.T) {
	cfg := baseConfig()
	cfg.WorkspaceIsolation = true
	r := New(cfg, nil, nil)
	spec := &task.Spec{
		Index:            1,
		Total:            1,
		ArgvTemplate:     []string{"/bin/sh", "-c", "pwd"},
		WorkingDirectory: "/tmp",
	}
	res := r.Run(context.Background(), spec, 3)
	require.Equal(t, task.StatusSuccess, res.Status)
	require.Contains(t, res.StdoutTail, fmt.Sprintf("worker%d", 3))
}

func TestRunner_EnvBindingsOverrideInherited(t *testing.T) {
	r := New(baseConfig(), nil, nil)
	spec := &task.Spec{
		Index:            1,
		Total:            1,
		ArgvTemplate:     []string{"/bin/sh", "-c", "echo $HOST"},
		WorkingDirectory: "/tmp",
		EnvBindings:      []task.EnvBinding{{Name: "HOST", Value: "alpha"}},
	}
	res := r.Run(context.Background(), spec, 0)
	require.Equal(t, task.StatusSuccess, res.Status)
	require.Contains(t, res.StdoutTail, "alpha")
}
