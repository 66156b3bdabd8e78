package engine

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smith-xyz/go-module-patcher/pkg/config"
	"github.com/smith-xyz/go-module-patcher/pkg/finder"
	"github.com/smith-xyz/go-module-patcher/pkg/host/memhost"
	"github.com/smith-xyz/go-module-patcher/pkg/interceptor"
	"github.com/smith-xyz/go-module-patcher/pkg/patch"
	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

type passCompiler struct{}

func (passCompiler) Compile(id types.ModuleID, source string, patchedBy []string) (interceptor.Factory, error) {
	if strings.Contains(source, "SYNTAX ERROR") {
		return nil, errors.New("syntax error")
	}
	return interceptor.RawFactory(source), nil
}

func plugin(name string, defs ...patch.Definition) patch.Plugin {
	return patch.Plugin{Name: name, Patches: defs}
}

func def(find, match, replace string) patch.Definition {
	return patch.Definition{
		Find:  finder.Raw(find),
		Steps: []patch.Step{{Match: patch.Literal(match), Replace: patch.Replacement{Template: replace}}},
	}
}

func TestNew_RequiresPorts(t *testing.T) {
	_, err := New(config.Default(), nil, passCompiler{})
	assert.Error(t, err)

	_, err = New(config.Default(), memhost.New(), nil)
	assert.Error(t, err)
}

func TestNew_OpensDiagnosticsLog(t *testing.T) {
	cfg := config.Default()
	cfg.DiagnosticsLog = filepath.Join(t.TempDir(), "missing-dir", "failures.jsonl")

	_, err := New(cfg, memhost.New(), passCompiler{})
	assert.Error(t, err)

	cfg.DiagnosticsLog = filepath.Join(t.TempDir(), "failures.jsonl")
	e, err := New(cfg, memhost.New(), passCompiler{})
	require.NoError(t, err)
	assert.NoError(t, e.Close())
}

func TestEngine_EndToEnd(t *testing.T) {
	var sink bytes.Buffer
	host := memhost.New()

	e, err := New(config.Default(), host, passCompiler{}, WithSinkWriter(&sink))
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Register(
		plugin("NoTrack", def("track(", "track(", "noop(")),
		plugin("Drifted", def("gone()", "gone()", "here()")),
		plugin("Partial", patch.Definition{
			Find: finder.Raw("a"),
			Steps: []patch.Step{
				{Match: patch.Literal("a"), Replace: patch.Replacement{Template: "b"}},
				{Match: patch.Literal("zzz"), Replace: patch.Replacement{Template: "y"}},
			},
		}),
	))

	hook := e.Hook()
	assert.Equal(t, "noop(1)", host.Load(hook, "1", "track(1)").Source())
	assert.Equal(t, "b", host.Load(hook, "2", "a").Source())
	assert.Equal(t, "plain", host.Load(hook, "3", "plain").Source())

	r := e.Report()
	assert.False(t, r.OK())
	assert.Equal(t, []string{"Drifted#0"}, r.Unmatched)
	assert.Equal(t, 3, r.Modules.Modules)
	assert.Equal(t, 2, r.Modules.Patched)
	require.Equal(t, 1, r.Failures.Total)
	assert.Equal(t, types.ReasonNoMatch, r.Failures.ByPatchID["Partial#0"][0].Reason)
	assert.Equal(t, int64(1), r.Metrics["sink_written"])
	assert.Contains(t, sink.String(), `"patch_id":"Partial#0"`)

	require.Len(t, r.Health, 2)
	assert.Equal(t, "NoTrack#0", r.Health[0].PatchID)
	assert.Equal(t, 1, r.Health[1].Partial)
}

func TestEngine_NoWarnUnmatchedIsOK(t *testing.T) {
	e, err := New(config.Default(), memhost.New(), passCompiler{})
	require.NoError(t, err)

	quiet := def("never", "never", "x")
	quiet.NoWarn = true
	require.NoError(t, e.Register(plugin("Quiet", quiet)))

	assert.True(t, e.Report().OK())
	assert.Len(t, e.Registry().Unmatched(), 1)
}

func TestEngine_NoWarnMissIsNotDrift(t *testing.T) {
	host := memhost.New()
	e, err := New(config.Default(), host, passCompiler{})
	require.NoError(t, err)

	quiet := def("module", "gone", "x")
	quiet.NoWarn = true
	require.NoError(t, e.Register(plugin("Quiet", quiet)))

	host.Load(e.Hook(), "1", "module")

	r := e.Report()
	require.Len(t, r.Failures.ByPatchID["Quiet#0"], 1)
	assert.Equal(t, 1, r.QuietMisses)
	assert.True(t, r.OK())
}

func TestEngine_RegisterJoinsErrors(t *testing.T) {
	e, err := New(config.Default(), memhost.New(), passCompiler{})
	require.NoError(t, err)

	err = e.Register(
		plugin("Bad1", patch.Definition{Find: finder.Raw("x")}),
		plugin("Good", def("x", "x", "y")),
		plugin("Bad2", patch.Definition{}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad1")
	assert.Contains(t, err.Error(), "Bad2")
	assert.Equal(t, 1, e.Registry().Len())
}

func TestEngine_CompileFailureKeepsOriginal(t *testing.T) {
	host := memhost.New()
	e, err := New(config.Default(), host, passCompiler{})
	require.NoError(t, err)
	require.NoError(t, e.Register(plugin("Breaks", def("ok", "ok", "SYNTAX ERROR"))))

	got := host.Load(e.Hook(), "1", "ok")

	assert.Equal(t, "ok", got.Source())
	r := e.Report()
	assert.Equal(t, 1, r.Modules.CompileFallbacks)
	assert.Equal(t, types.ReasonCompileError, r.Failures.ByPatchID["Breaks#0"][0].Reason)
	assert.Equal(t, 1, r.Health[0].Failed)
}

func TestEngine_SelfReferenceFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.SelfReference = "plugins.get(%s)"

	host := memhost.New()
	e, err := New(cfg, host, passCompiler{})
	require.NoError(t, err)
	require.NoError(t, e.Register(plugin("Me", def("x", "x", "$self"))))

	assert.Equal(t, `plugins.get("Me")`, host.Load(e.Hook(), "1", "x").Source())
}
