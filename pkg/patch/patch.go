// Package patch holds the declarative shape of patch definitions and their
// compiled form.
package patch

import (
	"github.com/smith-xyz/go-module-patcher/pkg/finder"
	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

// ReplaceFunc computes a replacement from the full match and its capture
// groups. Groups that did not participate in the match are empty strings.
type ReplaceFunc func(match string, groups []string) string

// StepContext is what a step predicate sees.
type StepContext struct {
	ModuleID types.ModuleID
	Source   string
	Index    int
}

// Match is the pattern of a step.
type Match struct {
	Pattern string

	// Regex selects regular expression semantics; otherwise Pattern is a
	// literal.
	Regex bool

	// Flags applies to regex patterns: i (ignore case), m (multiline),
	// s (dot matches newline).
	Flags string
}

// Literal builds a literal match.
func Literal(s string) Match {
	return Match{Pattern: s}
}

// Regex builds a regular expression match.
func Regex(pattern string) Match {
	return Match{Pattern: pattern, Regex: true}
}

// Replacement is either a template with JavaScript-style $ substitutions or
// a function. Func wins when both are set.
type Replacement struct {
	Template string
	Func     ReplaceFunc
}

// Step is one pattern/replacement pair.
type Step struct {
	Match   Match
	Replace Replacement

	// Predicate gates the step; false skips it without counting as failure.
	Predicate func(StepContext) bool

	// Optional steps may match nothing without being reported.
	Optional bool

	// Single replaces only the first occurrence.
	Single bool

	compiled pattern
}

// Definition is one plugin's finder plus its ordered steps.
type Definition struct {
	// ID defaults to "<plugin>#<n>" where n counts the plugin's definitions.
	ID     string
	Plugin string
	Find   finder.Finder
	Steps  []Step

	// Enabled gates the whole definition. It is evaluated once.
	Enabled func() bool

	// All keeps the definition live after its first matching module.
	// Otherwise the definition is retired once it has matched a module.
	All bool

	// Group undoes every step of the definition as soon as one step fails.
	Group bool

	// NoWarn lowers no-match logging to debug. Failures are still recorded.
	NoWarn bool

	compiled bool
}

// Compiled reports whether the definition went through Compile.
func (d *Definition) Compiled() bool {
	return d.compiled
}

// Plugin is the registration surface consumed from plugins: only the
// patches are read.
type Plugin struct {
	Name    string
	Patches []Definition
}
