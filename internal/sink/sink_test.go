package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bastelbude1/parallelr/internal/config"
	"github.com/bastelbude1/parallelr/internal/session"
	"github.com/bastelbude1/parallelr/internal/task"
)

func TestSink_SessionThenTaskRecords(t *testing.T) {
	dir := t.TempDir()
	jsonlPath := filepath.Join(dir, "results.jsonl")
	outputPath := filepath.Join(dir, "output.txt")

	s, err := Open(jsonlPath, outputPath, true, nil)
	require.NoError(t, err)

	info := session.Info{ID: "sess-1", Hostname: "h", User: "u"}
	require.NoError(t, s.WriteSession(info, "bash template.sh", config.Default()))

	now := time.Now()
	exitCode := 0
	mem := 12.5
	cpu := 3.2
	res := &task.Result{
		Index:        1,
		WorkerID:     0,
		Status:       task.StatusSuccess,
		ExitCode:     &exitCode,
		StartTime:    now,
		EndTime:      now.Add(time.Second),
		DurationSec:  1,
		StdoutTail:   "hi",
		ArgvTemplate: []string{"bash", "template.sh"},
		Arguments:    []string{"alpha"},
		EnvBindings:  []task.EnvBinding{{Name: "HOST", Value: "alpha"}},
		PeakMemoryMB: &mem,
		PeakCPUPct:   &cpu,
	}
	require.NoError(t, s.WriteTask(info.ID, res))
	require.NoError(t, s.Close())

	f, err := os.Open(jsonlPath)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var session1 map[string]interface{}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &session1))
	require.Equal(t, "session", session1["type"])

	require.True(t, scanner.Scan())
	var taskRec map[string]interface{}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &taskRec))
	require.Equal(t, "task", taskRec["type"])
	require.Equal(t, "SUCCESS", taskRec["status"])
	require.Equal(t, "bash template.sh", taskRec["command_executed"])
	envVars := taskRec["env_vars"].(map[string]interface{})
	require.Equal(t, "alpha", envVars["HOST"])

	require.False(t, scanner.Scan())

	outBytes, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Contains(t, string(outBytes), "task 1 (SUCCESS)")
	require.Contains(t, string(outBytes), "hi")
}

func TestSink_OutputLogDisabled(t *testing.T) {
	dir := t.TempDir()
	jsonlPath := filepath.Join(dir, "results.jsonl")

	s, err := Open(jsonlPath, filepath.Join(dir, "output.txt"), false, nil)
	require.NoError(t, err)

	require.NoError(t, s.WriteSession(session.Info{ID: "s"}, "echo hi", config.Default()))
	require.NoError(t, s.Close())

	_, err = os.Stat(filepath.Join(dir, "output.txt"))
	require.True(t, os.IsNotExist(err))
}
