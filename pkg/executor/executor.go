// Package executor applies a patch definition's steps to a module source.
//
// Steps run as a pipeline: each sees the output of the previous one. A step
// that finds nothing is recorded and the pipeline continues with the
// unmodified source. A definition where no step applied returns its input
// unchanged; a definition where some steps applied keeps them and reports
// the rest.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/smith-xyz/go-module-patcher/pkg/patch"
	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

// Result is the outcome of one definition against one module.
type Result struct {
	PatchID  string
	ModuleID types.ModuleID

	Output       string
	AppliedSteps int
	Steps        []types.StepResult
	Failures     []types.FailureReport
	Outcome      types.Outcome
	Duration     time.Duration
}

// Changed reports whether Output differs from the input.
func (r Result) Changed() bool {
	return r.AppliedSteps > 0
}

type Executor struct {
	logger       *slog.Logger
	debugContext int
	now          func() time.Time
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDebugContext appends n characters of source context on each side of
// the closest match to failure details.
func WithDebugContext(n int) Option {
	return func(e *Executor) {
		e.debugContext = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func New(opts ...Option) *Executor {
	e := &Executor{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply runs def's steps against source. It never panics.
func (e *Executor) Apply(def *patch.Definition, moduleID types.ModuleID, source string) Result {
	start := e.now()
	res := Result{
		PatchID:  def.ID,
		ModuleID: moduleID,
		Output:   source,
		Steps:    make([]types.StepResult, 0, len(def.Steps)),
	}

	current := source
	rejected := 0

	for i := range def.Steps {
		step := &def.Steps[i]

		sr := e.runStep(def, step, i, moduleID, current)
		res.Steps = append(res.Steps, sr.StepResult)

		switch sr.Status {
		case types.StepApplied:
			current = sr.output
			res.AppliedSteps++
		case types.StepSkipped:
			if sr.rejected {
				rejected++
			}
		case types.StepFailed:
			res.Failures = append(res.Failures, e.report(def, moduleID, i, sr.Reason, sr.Detail))
			e.logFailure(def, moduleID, i, sr.Reason, sr.Detail)
		}

		if sr.Status == types.StepFailed && def.Group {
			e.logger.Warn("executor: undoing patch group",
				"patch", def.ID, "module", string(moduleID), "step", i)
			current = source
			res.AppliedSteps = 0
			break
		}
	}

	switch {
	case res.AppliedSteps == 0:
		res.Output = source
		res.Outcome = types.OutcomeFailed
		if len(res.Failures) == 0 {
			reason := types.ReasonNoMatch
			detail := fmt.Sprintf("none of %d steps matched", len(def.Steps))
			if rejected > 0 {
				reason = types.ReasonPredicateRejected
				detail = fmt.Sprintf("%d of %d steps skipped by predicate, none applied", rejected, len(def.Steps))
			}
			if rejected == len(def.Steps) {
				detail = fmt.Sprintf("all %d steps skipped by predicate", len(def.Steps))
			}
			res.Failures = append(res.Failures, e.report(def, moduleID, types.NoStep, reason, detail))
			e.logFailure(def, moduleID, types.NoStep, reason, detail)
		}
	case len(res.Failures) > 0:
		res.Output = current
		res.Outcome = types.OutcomePartial
	default:
		res.Output = current
		res.Outcome = types.OutcomeApplied
	}

	res.Duration = e.now().Sub(start)
	return res
}

type stepRun struct {
	types.StepResult
	output string

	// rejected marks a step skipped by its predicate.
	rejected bool
}

// runStep isolates a single step: predicate and replacement panics become
// exception failures.
func (e *Executor) runStep(def *patch.Definition, step *patch.Step, i int, moduleID types.ModuleID, src string) (sr stepRun) {
	sr.Index = i
	sr.output = src

	defer func() {
		if rec := recover(); rec != nil {
			sr.Status = types.StepFailed
			sr.Reason = types.ReasonException
			sr.Detail = fmt.Sprintf("%s: panic: %v", step.PatternString(), rec) + e.contextAround(step, src)
			sr.Matches = 0
			sr.output = src
		}
	}()

	if step.Predicate != nil && !step.Predicate(patch.StepContext{ModuleID: moduleID, Source: src, Index: i}) {
		sr.Status = types.StepSkipped
		sr.Detail = "predicate returned false"
		sr.rejected = true
		return sr
	}

	out, n, err := step.Apply(src)
	if err != nil {
		sr.Status = types.StepFailed
		sr.Reason = types.ReasonException
		sr.Detail = fmt.Sprintf("%s: %v", step.PatternString(), err) + e.contextAround(step, src)
		return sr
	}

	if n == 0 {
		if step.Optional {
			sr.Status = types.StepSkipped
			sr.Detail = "optional step had no match"
			return sr
		}
		sr.Status = types.StepFailed
		sr.Reason = types.ReasonNoMatch
		sr.Detail = step.PatternString()
		return sr
	}

	sr.Status = types.StepApplied
	sr.Matches = n
	sr.output = out
	return sr
}

func (e *Executor) report(def *patch.Definition, moduleID types.ModuleID, step int, reason types.Reason, detail string) types.FailureReport {
	return types.FailureReport{
		PatchID:   def.ID,
		Plugin:    def.Plugin,
		ModuleID:  moduleID,
		StepIndex: step,
		Reason:    reason,
		Detail:    detail,
		At:        e.now(),
	}
}

func (e *Executor) logFailure(def *patch.Definition, moduleID types.ModuleID, step int, reason types.Reason, detail string) {
	level := slog.LevelWarn
	switch {
	case reason == types.ReasonException:
		level = slog.LevelError
	case def.NoWarn:
		level = slog.LevelDebug
	}
	e.logger.Log(context.Background(), level, "executor: patch step failed",
		"patch", def.ID,
		"plugin", def.Plugin,
		"module", string(moduleID),
		"step", step,
		"reason", string(reason),
		"detail", detail)
}

// contextAround returns a window of src around the step's first match
// when debug context is enabled.
func (e *Executor) contextAround(step *patch.Step, src string) (ctx string) {
	if e.debugContext <= 0 {
		return ""
	}
	defer func() {
		if recover() != nil {
			ctx = ""
		}
	}()

	at := step.Index(src)
	if at < 0 {
		return ""
	}
	start := at - e.debugContext
	if start < 0 {
		start = 0
	}
	end := at + e.debugContext
	if end > len(src) {
		end = len(src)
	}
	for start > 0 && !utf8.RuneStart(src[start]) {
		start--
	}
	for end < len(src) && !utf8.RuneStart(src[end]) {
		end++
	}
	return "\ncontext: " + src[start:end]
}
