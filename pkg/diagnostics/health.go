package diagnostics

import (
	"sort"
	"sync"
	"time"

	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

// PatchHealth aggregates every attempt of one patch definition.
type PatchHealth struct {
	PatchID  string
	Plugin   string
	Attempts int
	Applied  int
	Partial  int
	Failed   int

	// Steps is the number of steps in the definition; FailedSteps counts
	// distinct step indexes that failed at least once.
	Steps       int
	FailedSteps int

	Duration time.Duration
}

// Healthy reports whether every attempt applied fully.
func (h PatchHealth) Healthy() bool {
	return h.Partial == 0 && h.Failed == 0
}

type healthEntry struct {
	PatchHealth
	failedSteps map[int]bool
}

// Health counts outcomes per patch id. It grows with the number of
// registered definitions, not with the number of modules.
type Health struct {
	mu      sync.Mutex
	entries map[string]*healthEntry
}

func NewHealth() *Health {
	return &Health{entries: make(map[string]*healthEntry)}
}

// Observe records one definition outcome.
func (h *Health) Observe(patchID, plugin string, steps int, outcome types.Outcome, results []types.StepResult, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[patchID]
	if !ok {
		e = &healthEntry{
			PatchHealth: PatchHealth{PatchID: patchID, Plugin: plugin, Steps: steps},
			failedSteps: make(map[int]bool),
		}
		h.entries[patchID] = e
	}

	e.Attempts++
	e.Duration += d
	switch outcome {
	case types.OutcomeApplied:
		e.Applied++
	case types.OutcomePartial:
		e.Partial++
	case types.OutcomeFailed:
		e.Failed++
	}

	for _, r := range results {
		if r.Status == types.StepFailed {
			e.failedSteps[r.Index] = true
		}
	}
	e.FailedSteps = len(e.failedSteps)
}

// ObserveCompileFailure moves an attempt previously observed with outcome
// was to failed: its output was discarded because the module did not compile.
func (h *Health) ObserveCompileFailure(patchID string, was types.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[patchID]
	if !ok {
		return
	}
	switch was {
	case types.OutcomeApplied:
		e.Applied--
	case types.OutcomePartial:
		e.Partial--
	default:
		return
	}
	e.Failed++
}

// Snapshot returns per-patch health sorted by patch id.
func (h *Health) Snapshot() []PatchHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]PatchHealth, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, e.PatchHealth)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PatchID < out[j].PatchID
	})
	return out
}
