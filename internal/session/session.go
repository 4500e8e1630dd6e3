// Package session mints the per-invocation identity used by the Result
// Sink's session record and the <base> file-naming token spec.md §6
// describes ("an identifier including scheduler PID and a monotonically
// sortable timestamp, guaranteed unique per session"), the way Nomad mints
// UUIDs for allocations and evaluations with hashicorp/go-uuid.
package session

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-uuid"
)

// Info identifies one scheduler invocation.
type Info struct {
	ID       string // UUID, used as the session record's session_id
	Base     string // file-naming token: pid + sortable timestamp
	PID      int
	Started  time.Time
	Hostname string
	User     string
}

// New mints a fresh session identity for the current process.
func New() (Info, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return Info{}, fmt.Errorf("generate session id: %w", err)
	}

	now := time.Now()
	pid := os.Getpid()
	base := fmt.Sprintf("parallelr_%d_%s", pid, now.UTC().Format("20060102T150405.000000Z"))

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}

	return Info{
		ID:       id,
		Base:     base,
		PID:      pid,
		Started:  now,
		Hostname: host,
		User:     user,
	}, nil
}
