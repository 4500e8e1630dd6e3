package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterListUnregister(t *testing.T) {
	dir := t.TempDir()
	reg := New(filepath.Join(dir, "registry"))

	self := os.Getpid()
	require.NoError(t, reg.Register(Entry{
		PID:           self,
		StartWallTime: time.Now(),
		LogFile:       "a.log",
		ResultFile:    "a_results.jsonl",
	}))

	entries, err := reg.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, self, entries[0].PID)
	require.Equal(t, FormatVersion, entries[0].FormatVersion)

	require.NoError(t, reg.Unregister(self))
	entries, err = reg.List()
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = os.Stat(reg.Path)
	require.True(t, os.IsNotExist(err))
}

func TestRegistry_ReapsStaleEntries(t *testing.T) {
	dir := t.TempDir()
	reg := New(filepath.Join(dir, "registry"))

	// A pid that (almost certainly) does not exist.
	require.NoError(t, reg.Register(Entry{PID: 999999, StartWallTime: time.Now()}))
	require.NoError(t, reg.Register(Entry{PID: os.Getpid(), StartWallTime: time.Now()}))

	entries, err := reg.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, os.Getpid(), entries[0].PID)
}

func TestRegistry_ReapIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	reg := New(filepath.Join(dir, "registry"))
	require.NoError(t, reg.Register(Entry{PID: os.Getpid(), StartWallTime: time.Now()}))

	first, err := reg.ReapStale()
	require.NoError(t, err)
	second, err := reg.ReapStale()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRegistry_MultipleInstances(t *testing.T) {
	dir := t.TempDir()
	reg := New(filepath.Join(dir, "registry"))

	require.NoError(t, reg.Register(Entry{PID: os.Getpid(), StartWallTime: time.Now(), LogFile: "x"}))
	require.NoError(t, reg.Register(Entry{PID: os.Getpid(), StartWallTime: time.Now(), LogFile: "y"}))

	entries, err := reg.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
