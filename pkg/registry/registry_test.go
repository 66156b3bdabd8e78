package registry

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/smith-xyz/go-module-patcher/pkg/finder"
	"github.com/smith-xyz/go-module-patcher/pkg/patch"
)

func literalDef(plugin, find string) patch.Definition {
	return patch.Definition{
		Plugin: plugin,
		Find:   finder.Raw(find),
		Steps:  []patch.Step{{Match: patch.Literal(find), Replace: patch.Replacement{Template: find}}},
	}
}

func ids(defs []*patch.Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.ID
	}
	return out
}

func TestRegister_AssignsIDs(t *testing.T) {
	r := New()

	a, err := r.Register(literalDef("NoTrack", "track"))
	require.NoError(t, err)
	b, err := r.Register(literalDef("NoTrack", "beacon"))
	require.NoError(t, err)
	c, err := r.Register(literalDef("Other", "x"))
	require.NoError(t, err)

	assert.Equal(t, "NoTrack#0", a.ID)
	assert.Equal(t, "NoTrack#1", b.ID)
	assert.Equal(t, "Other#0", c.ID)
	assert.True(t, a.Compiled())
	assert.Equal(t, 3, r.Len())

	got, ok := r.Lookup("NoTrack#1")
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestRegister_Invalid(t *testing.T) {
	r := New()

	_, err := r.Register(patch.Definition{Plugin: "P", Find: finder.Raw("x")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDefinition))

	var ce *patch.CompileError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, r.Len())
}

func TestRegister_DuplicateID(t *testing.T) {
	r := New()

	def := literalDef("P", "x")
	def.ID = "fixed"
	_, err := r.Register(def)
	require.NoError(t, err)

	_, err = r.Register(def)
	assert.True(t, errors.Is(err, ErrInvalidDefinition))
}

func TestRegister_SelfReference(t *testing.T) {
	r := New()

	def, err := r.Register(patch.Definition{
		Plugin: "NoTrack",
		Find:   finder.Raw("x"),
		Steps:  []patch.Step{{Match: patch.Literal("x"), Replace: patch.Replacement{Template: "$self.x"}}},
	})
	require.NoError(t, err)

	out, _, err := def.Steps[0].Apply("x")
	require.NoError(t, err)
	assert.Equal(t, `Vencord.Plugins.plugins["NoTrack"].x`, out)

	custom := New(WithSelfReferenceFormat("plugins.get(%s)"))
	def, err = custom.Register(patch.Definition{
		Plugin: "NoTrack",
		Find:   finder.Raw("x"),
		Steps:  []patch.Step{{Match: patch.Literal("x"), Replace: patch.Replacement{Template: "$self"}}},
	})
	require.NoError(t, err)

	out, _, err = def.Steps[0].Apply("x")
	require.NoError(t, err)
	assert.Equal(t, `plugins.get("NoTrack")`, out)
}

func TestRegisterPlugin(t *testing.T) {
	r := New()

	err := r.RegisterPlugin(patch.Plugin{
		Name: "P",
		Patches: []patch.Definition{
			{Find: finder.Raw("a"), Steps: []patch.Step{{Match: patch.Literal("a")}}},
			{Find: finder.Raw("b")},
			{Find: finder.Raw("c"), Steps: []patch.Step{{Match: patch.Literal("c")}}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin P patch 1")
	assert.Equal(t, []string{"P#0"}, ids(r.All()))
}

func TestCandidatesFor_RegistrationOrder(t *testing.T) {
	r := New()
	for _, find := range []string{"c", "a", "b"} {
		_, err := r.Register(literalDef("P", find))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"P#0", "P#1", "P#2"}, ids(r.CandidatesFor("abc")))
	assert.Equal(t, []string{"P#1", "P#2"}, ids(r.CandidatesFor("ab")))
	assert.Empty(t, r.CandidatesFor("zzz"))
}

func TestCandidatesFor_OrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		finds := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c", "d"}), 1, 20).Draw(t, "finds")
		source := rapid.StringMatching(`[abcd]{0,6}`).Draw(t, "source")

		var want []string
		for i, f := range finds {
			def := literalDef("P", f)
			def.ID = fmt.Sprintf("p%d", i)
			def.All = true
			if _, err := r.Register(def); err != nil {
				t.Fatalf("register: %v", err)
			}
			if finder.Raw(f).Matches(source) {
				want = append(want, def.ID)
			}
		}

		got := ids(r.CandidatesFor(source))
		if fmt.Sprint(got) != fmt.Sprint(want) && !(len(got) == 0 && len(want) == 0) {
			t.Fatalf("candidates %v, want %v", got, want)
		}
	})
}

func TestEnabled_EvaluatedOnce(t *testing.T) {
	r := New()

	calls := 0
	def := literalDef("P", "x")
	def.All = true
	def.Enabled = func() bool {
		calls++
		return true
	}
	_, err := r.Register(def)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Len(t, r.CandidatesFor("x"), 1)
	}
	assert.Equal(t, 1, calls)
}

func TestEnabled_DisabledAndPanicking(t *testing.T) {
	r := New()

	off := literalDef("P", "x")
	off.Enabled = func() bool { return false }
	boom := literalDef("P", "x")
	boom.Enabled = func() bool { panic("boom") }

	_, err := r.Register(off)
	require.NoError(t, err)
	_, err = r.Register(boom)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		assert.Empty(t, r.CandidatesFor("x"))
	})
	assert.Empty(t, r.Unmatched())
}

func TestMarkMatched_Retires(t *testing.T) {
	r := New()

	once, err := r.Register(literalDef("P", "x"))
	require.NoError(t, err)
	allDef := literalDef("P", "x")
	allDef.All = true
	all, err := r.Register(allDef)
	require.NoError(t, err)

	assert.Equal(t, []string{"P#0", "P#1"}, ids(r.Unmatched()))

	r.MarkMatched(once)
	r.MarkMatched(all)

	assert.Equal(t, []string{"P#1"}, ids(r.CandidatesFor("x")))
	assert.Empty(t, r.Unmatched())
	assert.Len(t, r.All(), 2)
}

func TestMarkMatched_Unknown(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() {
		r.MarkMatched(&patch.Definition{ID: "ghost"})
	})
}
