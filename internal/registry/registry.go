// Package registry implements the PID Registry (C4): a single shared,
// lock-protected file listing every currently-running scheduler instance,
// with stale-entry reaping so an abnormally terminated instance's entry
// doesn't linger forever.
package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sys/unix"
)

// FormatVersion is embedded in every entry so future readers can tell
// which registry-file shape they're looking at (spec.md §6: "format
// explicitly versioned").
const FormatVersion = 1

// Entry describes one running scheduler instance.
type Entry struct {
	FormatVersion int       `json:"format_version"`
	PID           int       `json:"pid"`
	StartWallTime time.Time `json:"start_wall_time"`
	LogFile       string    `json:"log_file"`
	ResultFile    string    `json:"result_file"`
}

// Registry is a handle onto the shared registry file at Path.
type Registry struct {
	Path string
}

// New returns a Registry backed by the file at path. The file and its
// companion lock file are created lazily on first mutation.
func New(path string) *Registry {
	return &Registry{Path: path}
}

func (r *Registry) lockPath() string {
	return r.Path + ".lock"
}

// withLock acquires a blocking exclusive flock(2) on the registry's lock
// file for the duration of fn, per spec.md §4.4's "acquire an exclusive
// advisory lock ... release" contract.
func (r *Registry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	lf, err := os.OpenFile(r.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening registry lock file: %w", err)
	}
	defer lf.Close()

	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("acquiring registry lock: %w", err)
	}
	defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)

	return fn()
}

// Register appends an entry for a newly started scheduler instance.
func (r *Registry) Register(e Entry) error {
	e.FormatVersion = FormatVersion
	return r.withLock(func() error {
		entries, err := readEntries(r.Path)
		if err != nil {
			return err
		}
		entries = append(entries, e)
		return writeEntries(r.Path, entries)
	})
}

// Unregister removes every entry matching pid. If the registry becomes
// empty, the file itself is removed (spec.md §4.4).
func (r *Registry) Unregister(pid int) error {
	return r.withLock(func() error {
		entries, err := readEntries(r.Path)
		if err != nil {
			return err
		}
		kept := entries[:0]
		for _, e := range entries {
			if e.PID != pid {
				kept = append(kept, e)
			}
		}
		return writeEntries(r.Path, kept)
	})
}

// ReapStale removes every entry whose PID no longer exists on the OS and
// returns the surviving entries. It is idempotent: reaping twice in a row
// is a no-op the second time (spec.md §8 property 7).
func (r *Registry) ReapStale() ([]Entry, error) {
	var live []Entry
	err := r.withLock(func() error {
		entries, err := readEntries(r.Path)
		if err != nil {
			return err
		}
		var kept []Entry
		var errs *multierror.Error
		for _, e := range entries {
			alive, err := pidAlive(e.PID)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("checking pid %d: %w", e.PID, err))
				continue // fail safe: drop entries we can't verify
			}
			if alive {
				kept = append(kept, e)
			}
		}
		live = kept
		if err := writeEntries(r.Path, kept); err != nil {
			errs = multierror.Append(errs, err)
		}
		return errs.ErrorOrNil()
	})
	return live, err
}

// List reaps stale entries and returns everything that remains, per
// spec.md §4.4.
func (r *Registry) List() ([]Entry, error) {
	return r.ReapStale()
}

// Kill sends SIGTERM to pid, escalates to SIGKILL after 3 seconds if it's
// still alive, and unregisters the entry regardless of how the process
// actually exited (spec.md §4.4).
func (r *Registry) Kill(pid int) error {
	entries, err := r.List()
	if err != nil {
		return err
	}
	found := false
	for _, e := range entries {
		if e.PID == pid {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("pid %d is not registered", pid)
	}

	_ = unix.Kill(pid, unix.SIGTERM)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		alive, err := pidAlive(pid)
		if err != nil || !alive {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if alive, _ := pidAlive(pid); alive {
		_ = unix.Kill(pid, unix.SIGKILL)
	}

	return r.Unregister(pid)
}

// KillAll applies Kill to every live entry. Per spec.md §4.4 this is
// destructive and the caller (an out-of-scope CLI layer) is responsible
// for obtaining external confirmation before calling it.
func (r *Registry) KillAll() error {
	entries, err := r.List()
	if err != nil {
		return err
	}
	var errs *multierror.Error
	for _, e := range entries {
		if err := r.Kill(e.PID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func pidAlive(pid int) (bool, error) {
	p, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening registry %q: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // ignore malformed lines rather than failing the whole registry
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading registry %q: %w", path, err)
	}
	return entries, nil
}

// writeEntries replaces the registry file's contents atomically. An empty
// entries slice removes the file entirely (spec.md §4.4's "if result is
// empty, remove the file").
func writeEntries(path string, entries []Entry) error {
	if len(entries) == 0 {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing empty registry %q: %w", path, err)
		}
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshaling registry entry: %w", err)
		}
		w.Write(b)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp registry file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
