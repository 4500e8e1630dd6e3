// Package backup implements spec.md §6's optional, default-enabled copy of
// a session's inputs (task files, arguments file, session metadata) into
// backups/<base>/, so a run's inputs survive even if the originals are
// later edited or removed. A backup failure is always a warning, never
// fatal (spec.md §7).
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
)

// Copy copies every file in files, plus the arguments file (if non-empty),
// into dir, preserving base names. Collisions between basenames are
// disambiguated with a numeric suffix. Every failure is aggregated rather
// than aborting the rest of the copy, per spec.md §7's "warning only".
func Copy(dir string, files []string, argumentsFilePath string) error {
	sources := make([]string, 0, len(files)+1)
	sources = append(sources, files...)
	if argumentsFilePath != "" {
		sources = append(sources, argumentsFilePath)
	}
	if len(sources) == 0 {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory %q: %w", dir, err)
	}

	used := map[string]bool{}
	var errs *multierror.Error
	for _, src := range sources {
		dst := uniqueDest(dir, filepath.Base(src), used)
		if err := copyFile(src, dst); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("backing up %q: %w", src, err))
		}
	}
	return errs.ErrorOrNil()
}

// WriteSessionMetadata writes a small human-readable record of the
// session's identity into dir, satisfying spec.md §6's "and session
// metadata" backup item.
func WriteSessionMetadata(dir string, sessionID, hostname, user, commandTemplate string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory %q: %w", dir, err)
	}
	path := filepath.Join(dir, "session.txt")
	content := fmt.Sprintf("session_id: %s\nhostname: %s\nuser: %s\ncommand_template: %s\n",
		sessionID, hostname, user, commandTemplate)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing session metadata: %w", err)
	}
	return nil
}

func uniqueDest(dir, base string, used map[string]bool) string {
	candidate := base
	for i := 1; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s.%d", base, i)
	}
	used[candidate] = true
	return filepath.Join(dir, candidate)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".backup-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
