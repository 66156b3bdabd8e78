package types

import "time"

// ModuleID identifies a module factory in the host's module table.
type ModuleID string

// Reason classifies why a step, definition or module failed to patch.
type Reason string

const (
	ReasonNoMatch           Reason = "no-match"
	ReasonException         Reason = "exception"
	ReasonPredicateRejected Reason = "predicate-rejected-all-steps"
	ReasonCompileError      Reason = "compile-error"
)

// NoStep is the StepIndex of reports that concern a whole definition or module.
const NoStep = -1

// FailureReport is one recorded patch failure.
type FailureReport struct {
	PatchID  string   `json:"patch_id"`
	Plugin   string   `json:"plugin"`
	ModuleID ModuleID `json:"module_id"`

	// StepIndex is the position of the failing step within its definition,
	// or NoStep for definition-level and compile failures.
	StepIndex int `json:"step_index"`

	Reason Reason `json:"reason"`

	// Detail carries the pattern, the recovered panic message or the compiler
	// error, optionally followed by source context.
	Detail string `json:"detail"`

	At time.Time `json:"at"`
}

// StepStatus is the per-step outcome used instead of exceptions for
// ordinary control flow.
type StepStatus string

const (
	StepApplied StepStatus = "applied"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// StepResult describes what happened to a single replacement step.
type StepResult struct {
	Index  int
	Status StepStatus

	// Reason is set only when Status is StepFailed.
	Reason Reason
	Detail string

	// Matches is the number of substitutions performed.
	Matches int
}

// Outcome summarizes a definition applied to one module.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)
