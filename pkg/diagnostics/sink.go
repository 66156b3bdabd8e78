package diagnostics

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

const defaultMaxSeenEntries = 10000

// Sink writes failure reports as JSON lines, one report per line, so the
// log can be grepped by patch id, module id or reason. Identical reports
// (same patch, module, step and reason) are written once while the
// de-duplication set has room.
type Sink struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	seen    map[string]bool
	maxSeen int

	written int64
	skipped int64
}

// NewSink writes to w. maxSeen bounds the de-duplication set; a
// non-positive value selects the default.
func NewSink(w io.Writer, maxSeen int) *Sink {
	if maxSeen <= 0 {
		maxSeen = defaultMaxSeenEntries
	}
	return &Sink{w: w, seen: make(map[string]bool), maxSeen: maxSeen}
}

// OpenSink appends to the file at path. Reports can name host internals, so
// the file is owner-only.
func OpenSink(path string, maxSeen int) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	s := NewSink(f, maxSeen)
	s.closer = f
	return s, nil
}

// Write emits report unless an identical one was already written. Errors are
// swallowed.
func (s *Sink) Write(report types.FailureReport) {
	if s == nil || s.w == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	key := report.PatchID + ":" + string(report.ModuleID) + ":" + strconv.Itoa(report.StepIndex) + ":" + string(report.Reason)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[key] {
		atomic.AddInt64(&s.skipped, 1)
		return
	}
	if len(s.seen) < s.maxSeen {
		s.seen[key] = true
	}

	buf, err := json.Marshal(report)
	if err != nil {
		return
	}
	buf = append(buf, '\n')
	if _, err := s.w.Write(buf); err == nil {
		atomic.AddInt64(&s.written, 1)
	}
}

// Metrics returns the sink counters.
func (s *Sink) Metrics() map[string]int64 {
	return map[string]int64{
		"written": atomic.LoadInt64(&s.written),
		"skipped": atomic.LoadInt64(&s.skipped),
	}
}

// Close closes the underlying file when the sink owns one.
func (s *Sink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closer.Close()
}
