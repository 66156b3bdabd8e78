package patch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smith-xyz/go-module-patcher/pkg/canon"
)

// CompileOptions tunes how definitions are resolved.
type CompileOptions struct {
	// SelfReference is the expression $self expands to. Empty keeps $self.
	SelfReference string

	// MatchTimeout bounds a single regex evaluation. Zero means no bound.
	MatchTimeout time.Duration
}

// CompileError reports a definition that cannot be resolved.
type CompileError struct {
	PatchID string
	Step    int
	Err     error
}

func (e *CompileError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("patch %s: %v", e.PatchID, e.Err)
	}
	return fmt.Sprintf("patch %s step %d: %v", e.PatchID, e.Step, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

var (
	errNoFinder  = errors.New("definition has no finder")
	errNoSteps   = errors.New("definition has no replacement steps")
	errEmptyFind = errors.New("empty match pattern")
)

// Compile validates a definition and resolves its patterns and replacements
// once. The input is not modified; the returned definition owns its steps.
func Compile(def Definition, opts CompileOptions) (*Definition, error) {
	if def.Find == nil {
		return nil, &CompileError{PatchID: def.ID, Step: -1, Err: errNoFinder}
	}
	if len(def.Steps) == 0 {
		return nil, &CompileError{PatchID: def.ID, Step: -1, Err: errNoSteps}
	}

	out := def
	out.Steps = make([]Step, len(def.Steps))

	for i, step := range def.Steps {
		if step.Match.Pattern == "" {
			return nil, &CompileError{PatchID: def.ID, Step: i, Err: errEmptyFind}
		}

		if step.Match.Regex {
			p, err := compileRegex(canon.Match(step.Match.Pattern), step.Match.Flags, opts.MatchTimeout)
			if err != nil {
				return nil, &CompileError{PatchID: def.ID, Step: i, Err: err}
			}
			p.source = step.Match.Pattern
			step.compiled = p
		} else {
			step.compiled = literalPattern{s: step.Match.Pattern}
		}

		if opts.SelfReference != "" {
			step.Replace = canonicalReplacement(step.Replace, opts.SelfReference)
		}

		out.Steps[i] = step
	}

	out.compiled = true
	return &out, nil
}

func canonicalReplacement(r Replacement, selfRef string) Replacement {
	if r.Func == nil {
		r.Template = canon.Replace(r.Template, selfRef)
		return r
	}
	fn := r.Func
	r.Func = func(match string, groups []string) string {
		return canon.Replace(fn(match, groups), selfRef)
	}
	return r
}

// Apply runs the step against src. It returns the new source and the
// number of substitutions. A panicking replacement function propagates;
// callers isolate it.
func (s *Step) Apply(src string) (string, int, error) {
	if s.compiled == nil {
		return src, 0, errors.New("step is not compiled")
	}

	limit := -1
	if s.Single {
		limit = 1
	}

	return s.compiled.replace(src, limit, func(m matchInfo) string {
		if s.Replace.Func != nil {
			groups := m.groups
			if groups == nil {
				groups = []string{}
			}
			return s.Replace.Func(m.text, groups)
		}
		return expand(s.Replace.Template, m)
	})
}

// Index returns the byte offset of the step's first match in src, or -1.
func (s *Step) Index(src string) int {
	if s.compiled == nil {
		return -1
	}
	return s.compiled.index(src)
}

// PatternString renders the step's pattern for reports.
func (s *Step) PatternString() string {
	if s.compiled != nil {
		return s.compiled.String()
	}
	if s.Match.Regex {
		return "/" + s.Match.Pattern + "/"
	}
	return fmt.Sprintf("%q", s.Match.Pattern)
}

// Describe renders the definition for logs.
func (d *Definition) Describe() string {
	parts := make([]string, 0, len(d.Steps))
	for i := range d.Steps {
		parts = append(parts, d.Steps[i].PatternString())
	}
	find := "<nil>"
	if d.Find != nil {
		find = d.Find.String()
	}
	return fmt.Sprintf("%s find=%s steps=[%s]", d.ID, find, strings.Join(parts, " "))
}
