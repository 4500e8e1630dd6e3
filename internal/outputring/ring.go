// Package outputring implements the Output Ring (C2): a per-stream buffer
// that always retains the last N *characters* written to it, in O(N)
// memory, with truncation metadata. It is backed by armon/circbuf, the
// fixed-capacity byte ring Nomad itself depends on for bounded live-output
// capture; since circbuf truncates at a byte boundary and this contract is
// character-based, the ring is sized to utf8.UTFMax*N bytes and re-decoded
// on read so a split multi-byte rune at the window's start is discarded
// rather than rendered as a replacement character that was never seen.
package outputring

import (
	"sync"
	"unicode/utf8"

	"github.com/armon/circbuf"
)

// Ring retains the last N characters written to it. Safe for concurrent
// Write and String/TotalWritten/Truncated calls from different goroutines
// (a Process Runner writes from a stream-draining goroutine while another
// goroutine reads).
type Ring struct {
	mu           sync.Mutex
	maxChars     int
	buf          *circbuf.Buffer
	totalWritten int64 // bytes
	totalChars   int64 // approximate rune count across all writes
}

// New creates a Ring that retains at most maxChars characters. maxChars
// must be >= 1 (enforced by config.Resolved.Validate upstream).
func New(maxChars int) (*Ring, error) {
	capacity := int64(maxChars) * int64(utf8.UTFMax)
	buf, err := circbuf.NewBuffer(capacity)
	if err != nil {
		return nil, err
	}
	return &Ring{maxChars: maxChars, buf: buf}, nil
}

// Write appends p to the ring. It never blocks and never returns an error
// that should stop the caller: circbuf.Buffer.Write never fails.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.buf.Write(p)
	r.totalWritten += int64(n)
	r.totalChars += int64(utf8.RuneCount(p[:n]))
	return n, err
}

// String returns the last maxChars characters written, decoding the
// retained byte window as UTF-8 with U+FFFD substitution for invalid
// sequences, per spec.md §4.2.
func (r *Ring) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return decodeLastN(r.buf.Bytes(), r.maxChars)
}

// TotalWritten returns the total number of bytes ever written to the ring
// (spec.md §3's "original byte counts").
func (r *Ring) TotalWritten() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalWritten
}

// Truncated reports whether more characters have been written than the
// ring retains.
func (r *Ring) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalChars > int64(r.maxChars)
}

// decodeLastN decodes b as UTF-8 and returns the last n runes as a string.
// Continuation bytes at the start of the window are dropped, since they
// may be the tail of a multi-byte sequence whose head was overwritten by
// the ring.
func decodeLastN(b []byte, n int) string {
	if len(b) == 0 {
		return ""
	}
	runes := make([]rune, 0, len(b))
	i := 0
	first := true
	for i < len(b) {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			if first && !utf8.RuneStart(b[i]) {
				i++
				continue
			}
			runes = append(runes, utf8.RuneError)
			i++
			first = false
			continue
		}
		runes = append(runes, r)
		i += size
		first = false
	}
	if len(runes) > n {
		runes = runes[len(runes)-n:]
	}
	return string(runes)
}
