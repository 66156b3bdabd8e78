package diagnostics

import (
	"time"

	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

// Reporter fans outcomes out to the failure buffer, the health counters and
// the optional JSON-lines sink.
type Reporter struct {
	Buffer *Buffer
	Health *Health
	Sink   *Sink
}

func NewReporter(capacity int, sink *Sink) *Reporter {
	return &Reporter{
		Buffer: NewBuffer(capacity),
		Health: NewHealth(),
		Sink:   sink,
	}
}

// Record stores one failure. It never panics.
func (r *Reporter) Record(report types.FailureReport) {
	if r == nil {
		return
	}
	if r.Buffer != nil {
		r.Buffer.Record(report)
	}
	r.Sink.Write(report)
}

// Observe records a definition outcome and its failures.
func (r *Reporter) Observe(patchID, plugin string, steps int, outcome types.Outcome, results []types.StepResult, failures []types.FailureReport, d time.Duration) {
	if r == nil {
		return
	}
	if r.Health != nil {
		r.Health.Observe(patchID, plugin, steps, outcome, results, d)
	}
	for _, f := range failures {
		r.Record(f)
	}
}

// Summary is the read-only failure view for external tooling.
func (r *Reporter) Summary() Summary {
	if r == nil || r.Buffer == nil {
		return Summary{ByPatchID: map[string][]types.FailureReport{}}
	}
	return r.Buffer.Summary()
}
