package executor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/smith-xyz/go-module-patcher/pkg/finder"
	"github.com/smith-xyz/go-module-patcher/pkg/patch"
	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func compile(t fataler, def patch.Definition) *patch.Definition {
	t.Helper()
	if def.ID == "" {
		def.ID = "test#0"
	}
	if def.Plugin == "" {
		def.Plugin = "test"
	}
	if def.Find == nil {
		def.Find = finder.Raw("")
	}
	out, err := patch.Compile(def, patch.CompileOptions{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return out
}

func lit(match, replace string) patch.Step {
	return patch.Step{Match: patch.Literal(match), Replace: patch.Replacement{Template: replace}}
}

func TestApply_Pipeline(t *testing.T) {
	def := compile(t, patch.Definition{Steps: []patch.Step{lit("a", "b"), lit("b", "c")}})

	res := New().Apply(def, "1", "a")

	assert.Equal(t, "c", res.Output)
	assert.Equal(t, types.OutcomeApplied, res.Outcome)
	assert.Equal(t, 2, res.AppliedSteps)
	assert.Empty(t, res.Failures)
	assert.True(t, res.Changed())
}

func TestApply_NoMatchContinues(t *testing.T) {
	def := compile(t, patch.Definition{Steps: []patch.Step{lit("zzz", "y"), lit("a", "b")}})

	res := New().Apply(def, "1", "a")

	assert.Equal(t, "b", res.Output)
	assert.Equal(t, types.OutcomePartial, res.Outcome)
	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, "test#0", f.PatchID)
	assert.Equal(t, "test", f.Plugin)
	assert.Equal(t, types.ModuleID("1"), f.ModuleID)
	assert.Equal(t, 0, f.StepIndex)
	assert.Equal(t, types.ReasonNoMatch, f.Reason)
	assert.Equal(t, `"zzz"`, f.Detail)

	require.Len(t, res.Steps, 2)
	assert.Equal(t, types.StepFailed, res.Steps[0].Status)
	assert.Equal(t, types.StepApplied, res.Steps[1].Status)
	assert.Equal(t, 1, res.Steps[1].Matches)
}

func TestApply_TotalFailureReturnsInput(t *testing.T) {
	def := compile(t, patch.Definition{Steps: []patch.Step{lit("x", "y"), lit("z", "w")}})

	res := New().Apply(def, "1", "abc")

	assert.Equal(t, "abc", res.Output)
	assert.Equal(t, types.OutcomeFailed, res.Outcome)
	assert.False(t, res.Changed())
	assert.Len(t, res.Failures, 2)
}

func TestApply_PredicateSkips(t *testing.T) {
	var seen patch.StepContext
	skip := lit("a", "b")
	skip.Predicate = func(ctx patch.StepContext) bool {
		seen = ctx
		return false
	}
	def := compile(t, patch.Definition{Steps: []patch.Step{lit("a", "c"), skip}})

	res := New().Apply(def, "7", "a")

	assert.Equal(t, "c", res.Output)
	assert.Equal(t, types.OutcomeApplied, res.Outcome)
	assert.Empty(t, res.Failures)
	assert.Equal(t, types.StepSkipped, res.Steps[1].Status)
	assert.Equal(t, patch.StepContext{ModuleID: "7", Source: "c", Index: 1}, seen)
}

func TestApply_AllStepsRejected(t *testing.T) {
	step := lit("a", "b")
	step.Predicate = func(patch.StepContext) bool { return false }
	def := compile(t, patch.Definition{Steps: []patch.Step{step, step}})

	res := New().Apply(def, "1", "a")

	assert.Equal(t, "a", res.Output)
	assert.Equal(t, types.OutcomeFailed, res.Outcome)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, types.ReasonPredicateRejected, res.Failures[0].Reason)
	assert.Equal(t, types.NoStep, res.Failures[0].StepIndex)
}

func TestApply_OptionalStep(t *testing.T) {
	opt := lit("zzz", "y")
	opt.Optional = true
	def := compile(t, patch.Definition{Steps: []patch.Step{opt}})

	res := New().Apply(def, "1", "a")

	assert.Equal(t, "a", res.Output)
	assert.Equal(t, types.OutcomeFailed, res.Outcome)
	assert.Equal(t, types.StepSkipped, res.Steps[0].Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, types.ReasonNoMatch, res.Failures[0].Reason)
	assert.Equal(t, types.NoStep, res.Failures[0].StepIndex)
}

func TestApply_RejectedAndOptionalReportsDefinition(t *testing.T) {
	rejected := lit("a", "b")
	rejected.Predicate = func(patch.StepContext) bool { return false }
	opt := lit("zzz", "y")
	opt.Optional = true
	def := compile(t, patch.Definition{Steps: []patch.Step{rejected, opt}})

	res := New().Apply(def, "1", "a")

	assert.Equal(t, "a", res.Output)
	assert.Equal(t, types.OutcomeFailed, res.Outcome)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, types.ReasonPredicateRejected, res.Failures[0].Reason)
	assert.Equal(t, types.NoStep, res.Failures[0].StepIndex)
	assert.Equal(t, "1 of 2 steps skipped by predicate, none applied", res.Failures[0].Detail)
}

func TestApply_PanicIsIsolated(t *testing.T) {
	boom := patch.Step{
		Match:   patch.Literal("a"),
		Replace: patch.Replacement{Func: func(string, []string) string { panic("bad replacement") }},
	}
	def := compile(t, patch.Definition{Steps: []patch.Step{boom, lit("a", "b")}})

	var res Result
	require.NotPanics(t, func() {
		res = New().Apply(def, "1", "a")
	})

	assert.Equal(t, "b", res.Output)
	assert.Equal(t, types.OutcomePartial, res.Outcome)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, types.ReasonException, res.Failures[0].Reason)
	assert.Contains(t, res.Failures[0].Detail, "bad replacement")
}

func TestApply_PredicatePanic(t *testing.T) {
	step := lit("a", "b")
	step.Predicate = func(patch.StepContext) bool { panic("predicate") }
	def := compile(t, patch.Definition{Steps: []patch.Step{step}})

	res := New().Apply(def, "1", "a")

	assert.Equal(t, "a", res.Output)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, types.ReasonException, res.Failures[0].Reason)
}

func TestApply_GroupUndoes(t *testing.T) {
	def := compile(t, patch.Definition{
		Group: true,
		Steps: []patch.Step{lit("a", "b"), lit("zzz", "y"), lit("b", "c")},
	})

	res := New().Apply(def, "1", "a")

	assert.Equal(t, "a", res.Output)
	assert.Equal(t, types.OutcomeFailed, res.Outcome)
	assert.Equal(t, 0, res.AppliedSteps)
	assert.Len(t, res.Steps, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].StepIndex)
}

func TestApply_Single(t *testing.T) {
	step := lit("a", "b")
	step.Single = true
	def := compile(t, patch.Definition{Steps: []patch.Step{step}})

	res := New().Apply(def, "1", "aaa")

	assert.Equal(t, "baa", res.Output)
	assert.Equal(t, 1, res.Steps[0].Matches)
}

func TestApply_DebugContext(t *testing.T) {
	boom := patch.Step{
		Match:   patch.Literal("b"),
		Replace: patch.Replacement{Func: func(string, []string) string { panic("boom") }},
	}
	def := compile(t, patch.Definition{Steps: []patch.Step{boom}})

	res := New(WithDebugContext(3)).Apply(def, "1", "aaabccc")

	require.Len(t, res.Failures, 1)
	assert.True(t, strings.HasSuffix(res.Failures[0].Detail, "\ncontext: aaabcc"), res.Failures[0].Detail)
}

func TestApply_Clock(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	def := compile(t, patch.Definition{Steps: []patch.Step{lit("zzz", "y")}})

	res := New(WithClock(func() time.Time { return at })).Apply(def, "1", "a")

	require.Len(t, res.Failures, 1)
	assert.Equal(t, at, res.Failures[0].At)
	assert.Zero(t, res.Duration)
}

// sequential is the reference pipeline: every literal step that finds its
// pattern replaces all occurrences in the running source.
func sequential(src string, steps [][2]string) string {
	for _, s := range steps {
		if strings.Contains(src, s[0]) {
			src = strings.ReplaceAll(src, s[0], s[1])
		}
	}
	return src
}

func TestApply_PipelineProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		src := rapid.StringMatching(`[abc]{0,12}`).Draw(t, "source")
		n := rapid.IntRange(1, 5).Draw(t, "steps")

		var pairs [][2]string
		var steps []patch.Step
		for i := 0; i < n; i++ {
			m := rapid.StringMatching(`[abcz]{1,2}`).Draw(t, "match")
			r := rapid.StringMatching(`[abc]{0,2}`).Draw(t, "replace")
			pairs = append(pairs, [2]string{m, r})
			steps = append(steps, lit(m, r))
		}

		def := compile(t, patch.Definition{Steps: steps})
		res := New().Apply(def, "1", src)

		want := sequential(src, pairs)
		if res.AppliedSteps == 0 {
			want = src
		}
		if res.Output != want {
			t.Fatalf("output %q, want %q", res.Output, want)
		}
		if res.AppliedSteps+len(res.Failures) != n {
			t.Fatalf("%d applied + %d failures != %d steps", res.AppliedSteps, len(res.Failures), n)
		}
	})
}

func TestApply_UnmatchableStepsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		src := rapid.StringMatching(`[ab]{0,20}`).Draw(t, "source")
		n := rapid.IntRange(1, 4).Draw(t, "steps")

		var steps []patch.Step
		for i := 0; i < n; i++ {
			steps = append(steps, lit(rapid.StringMatching(`[ab]{0,3}z`).Draw(t, "match"), "x"))
		}
		def := compile(t, patch.Definition{Steps: steps})

		res := New().Apply(def, "1", src)
		if res.Output != src || res.Outcome != types.OutcomeFailed {
			t.Fatalf("got %q (%s), want unchanged input", res.Output, res.Outcome)
		}
	})
}
