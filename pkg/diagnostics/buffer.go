// Package diagnostics collects patch failures for passive inspection.
//
// Nothing here ever surfaces an error to the caller: a failure while
// recording a failure is dropped and counted.
package diagnostics

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

const DefaultCapacity = 500

// Buffer is a bounded ring of failure reports. Once full, each new report
// evicts the oldest one.
type Buffer struct {
	mu   sync.Mutex
	ring []types.FailureReport
	next int
	size int

	recorded  int64
	evictions int64
	dropped   int64
}

// NewBuffer returns a buffer holding at most capacity reports. A
// non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{ring: make([]types.FailureReport, capacity)}
}

// Capacity returns the maximum number of retained reports.
func (b *Buffer) Capacity() int {
	return len(b.ring)
}

// Record appends a report. It never panics.
func (b *Buffer) Record(report types.FailureReport) {
	defer func() {
		if recover() != nil {
			atomic.AddInt64(&b.dropped, 1)
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == len(b.ring) {
		atomic.AddInt64(&b.evictions, 1)
	} else {
		b.size++
	}
	b.ring[b.next] = report
	b.next = (b.next + 1) % len(b.ring)
	atomic.AddInt64(&b.recorded, 1)
}

// Snapshot returns the retained reports, oldest first.
func (b *Buffer) Snapshot() []types.FailureReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.FailureReport, 0, b.size)
	start := (b.next - b.size + len(b.ring)) % len(b.ring)
	for i := 0; i < b.size; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}

// Summary groups retained reports by patch id.
type Summary struct {
	ByPatchID map[string][]types.FailureReport
	Total     int
	Evicted   int64
}

// PatchIDs returns the summarized patch ids in sorted order.
func (s Summary) PatchIDs() []string {
	ids := make([]string, 0, len(s.ByPatchID))
	for id := range s.ByPatchID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary builds a read-only view of the retained reports. The combined
// number of reports never exceeds the buffer capacity.
func (b *Buffer) Summary() Summary {
	reports := b.Snapshot()
	s := Summary{
		ByPatchID: make(map[string][]types.FailureReport),
		Total:     len(reports),
		Evicted:   atomic.LoadInt64(&b.evictions),
	}
	for _, r := range reports {
		s.ByPatchID[r.PatchID] = append(s.ByPatchID[r.PatchID], r)
	}
	return s
}

// Metrics returns the buffer counters.
func (b *Buffer) Metrics() map[string]int64 {
	b.mu.Lock()
	size := b.size
	b.mu.Unlock()

	return map[string]int64{
		"size":      int64(size),
		"recorded":  atomic.LoadInt64(&b.recorded),
		"evictions": atomic.LoadInt64(&b.evictions),
		"dropped":   atomic.LoadInt64(&b.dropped),
	}
}

// Reset discards every retained report and zeroes the counters.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring = make([]types.FailureReport, len(b.ring))
	b.next, b.size = 0, 0
	atomic.StoreInt64(&b.recorded, 0)
	atomic.StoreInt64(&b.evictions, 0)
	atomic.StoreInt64(&b.dropped, 0)
}
