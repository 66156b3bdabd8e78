// Package interceptor sits on the host's factory registration path. Every
// factory the host defines is matched against the registry, patched,
// compiled and stored back exactly once, synchronously, and without ever
// letting a patch failure escape into the host's module loading.
package interceptor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/smith-xyz/go-module-patcher/pkg/diagnostics"
	"github.com/smith-xyz/go-module-patcher/pkg/executor"
	"github.com/smith-xyz/go-module-patcher/pkg/registry"
	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

// ModuleRecord is the transient state of one interception.
type ModuleRecord struct {
	ID              types.ModuleID
	FactorySource   string
	PatchedSource   string
	AppliedPatchIDs []string
}

// Patched reports whether any definition changed the module.
func (r ModuleRecord) Patched() bool {
	return len(r.AppliedPatchIDs) > 0
}

// ReentrancyError is logged when a module registration is triggered while
// the same module is still being patched.
type ReentrancyError struct {
	ModuleID types.ModuleID
}

func (e *ReentrancyError) Error() string {
	return fmt.Sprintf("module %s registered again while it was being patched", e.ModuleID)
}

// Stats counts interceptions.
type Stats struct {
	Modules          int
	Patched          int
	Duplicates       int
	Reentrant        int
	CompileFallbacks int
	StoreFallbacks   int
}

type Interceptor struct {
	registry  *registry.Registry
	executor  *executor.Executor
	reporter  *diagnostics.Reporter
	host      Host
	compiler  Compiler
	normalize Normalizer
	observer  func(ModuleRecord)
	logger    *slog.Logger

	mu        sync.Mutex
	processed map[types.ModuleID]Factory
	inflight  map[types.ModuleID]bool
	stats     Stats
}

type Option func(*Interceptor)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Interceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithExecutor(e *executor.Executor) Option {
	return func(i *Interceptor) {
		if e != nil {
			i.executor = e
		}
	}
}

func WithReporter(r *diagnostics.Reporter) Option {
	return func(i *Interceptor) {
		if r != nil {
			i.reporter = r
		}
	}
}

// WithNormalizer rewrites each factory source before matching and patching.
// Unpatched modules keep their raw source.
func WithNormalizer(n Normalizer) Option {
	return func(i *Interceptor) {
		i.normalize = n
	}
}

// WithObserver receives a copy of every module record after it is
// installed.
func WithObserver(fn func(ModuleRecord)) Option {
	return func(i *Interceptor) {
		i.observer = fn
	}
}

func New(reg *registry.Registry, host Host, compiler Compiler, opts ...Option) *Interceptor {
	i := &Interceptor{
		registry:  reg,
		host:      host,
		compiler:  compiler,
		logger:    slog.Default(),
		processed: make(map[types.ModuleID]Factory),
		inflight:  make(map[types.ModuleID]bool),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.executor == nil {
		i.executor = executor.New(executor.WithLogger(i.logger))
	}
	if i.reporter == nil {
		i.reporter = diagnostics.NewReporter(diagnostics.DefaultCapacity, nil)
	}
	return i
}

// Hook returns Intercept in the shape of the host's registration point.
func (i *Interceptor) Hook() Hook {
	return i.Intercept
}

// Intercept patches, compiles and installs the factory for id and returns
// it. A second call for the same id returns the factory installed by the
// first without patching again.
func (i *Interceptor) Intercept(id types.ModuleID, source string) Factory {
	i.mu.Lock()
	if f, ok := i.processed[id]; ok {
		i.stats.Duplicates++
		i.mu.Unlock()
		return f
	}
	if i.inflight[id] {
		i.stats.Reentrant++
		i.mu.Unlock()
		i.logger.Error("interceptor: reentrant registration", "module", string(id), "error", &ReentrancyError{ModuleID: id})
		return i.unpatched(id, source)
	}
	i.inflight[id] = true
	i.stats.Modules++
	i.mu.Unlock()

	f, rec := i.process(id, source)

	i.mu.Lock()
	delete(i.inflight, id)
	i.processed[id] = f
	if rec.Patched() {
		i.stats.Patched++
	}
	i.mu.Unlock()

	if i.observer != nil {
		i.notify(rec)
	}
	return f
}

// Processed reports whether id has already been intercepted.
func (i *Interceptor) Processed(id types.ModuleID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.processed[id]
	return ok
}

func (i *Interceptor) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}

type appliedPatch struct {
	id      string
	plugin  string
	outcome types.Outcome
}

func (i *Interceptor) process(id types.ModuleID, source string) (f Factory, rec ModuleRecord) {
	rec = ModuleRecord{ID: id, FactorySource: source, PatchedSource: source}

	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("interceptor: patch pipeline panicked, installing original factory",
				"module", string(id), "panic", fmt.Sprint(r))
			rec.PatchedSource = source
			rec.AppliedPatchIDs = nil
			f = i.install(id, i.unpatched(id, source), nil)
		}
	}()

	current := source
	if i.normalize != nil {
		current = i.normalize(source)
	}

	var applied []appliedPatch
	for _, def := range i.registry.CandidatesFor(current) {
		i.registry.MarkMatched(def)

		res := i.executor.Apply(def, id, current)
		i.reporter.Observe(def.ID, def.Plugin, len(def.Steps), res.Outcome, res.Steps, res.Failures, res.Duration)

		if !res.Changed() {
			continue
		}
		current = res.Output
		applied = append(applied, appliedPatch{id: def.ID, plugin: def.Plugin, outcome: res.Outcome})
		rec.AppliedPatchIDs = append(rec.AppliedPatchIDs, def.ID)
	}

	if len(applied) == 0 {
		return i.install(id, i.unpatched(id, source), nil), rec
	}

	patched, err := i.compile(id, current, patchedBy(applied))
	if err != nil {
		i.logger.Error("interceptor: patched module failed to compile, installing original factory",
			"module", string(id), "patches", rec.AppliedPatchIDs, "error", err)
		i.mu.Lock()
		i.stats.CompileFallbacks++
		i.mu.Unlock()

		for _, p := range applied {
			i.reporter.Record(types.FailureReport{
				PatchID:   p.id,
				Plugin:    p.plugin,
				ModuleID:  id,
				StepIndex: types.NoStep,
				Reason:    types.ReasonCompileError,
				Detail:    err.Error(),
			})
			if i.reporter.Health != nil {
				i.reporter.Health.ObserveCompileFailure(p.id, p.outcome)
			}
		}
		rec.AppliedPatchIDs = nil
		return i.install(id, i.unpatched(id, source), nil), rec
	}

	rec.PatchedSource = current
	return i.install(id, patched, func() Factory { return i.unpatched(id, source) }), rec
}

// patchedBy lists the plugins behind the applied patches, first-applied
// order, without repeats.
func patchedBy(applied []appliedPatch) []string {
	var plugins []string
	seen := make(map[string]bool, len(applied))
	for _, p := range applied {
		if seen[p.plugin] {
			continue
		}
		seen[p.plugin] = true
		plugins = append(plugins, p.plugin)
	}
	return plugins
}

func (i *Interceptor) compile(id types.ModuleID, source string, patchedBy []string) (f Factory, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compiler panicked: %v", r)
		}
	}()
	f, err = i.compiler.Compile(id, source, patchedBy)
	if err == nil && f == nil {
		err = fmt.Errorf("compiler returned no factory")
	}
	return f, err
}

// unpatched returns the factory for the original source: compiled the way
// the host would, else the host's own original, else the raw source.
func (i *Interceptor) unpatched(id types.ModuleID, source string) Factory {
	f, err := i.compile(id, source, nil)
	if err == nil {
		return f
	}
	i.logger.Warn("interceptor: original source failed to compile", "module", string(id), "error", err)

	if orig, ok := i.original(id); ok && orig != nil {
		return orig
	}
	return RawFactory(source)
}

func (i *Interceptor) original(id types.ModuleID) (f Factory, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("interceptor: host panicked looking up original factory", "module", string(id), "panic", fmt.Sprint(r))
			f, ok = nil, false
		}
	}()
	return i.host.OriginalFactory(id)
}

// install stores f in the host. When storing a patched factory fails, the
// fallback factory is stored instead.
func (i *Interceptor) install(id types.ModuleID, f Factory, fallback func() Factory) Factory {
	err := i.register(id, f)
	if err == nil {
		return f
	}

	i.logger.Error("interceptor: storing factory failed", "module", string(id), "error", err)
	if fallback == nil {
		return f
	}

	i.mu.Lock()
	i.stats.StoreFallbacks++
	i.mu.Unlock()

	orig := fallback()
	if err := i.register(id, orig); err != nil {
		i.logger.Error("interceptor: storing original factory failed", "module", string(id), "error", err)
	}
	return orig
}

func (i *Interceptor) register(id types.ModuleID, f Factory) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host panicked: %v", r)
		}
	}()
	return i.host.RegisterFactory(id, f)
}

func (i *Interceptor) notify(rec ModuleRecord) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("interceptor: observer panicked", "module", string(rec.ID), "panic", fmt.Sprint(r))
		}
	}()
	rec.AppliedPatchIDs = append([]string(nil), rec.AppliedPatchIDs...)
	i.observer(rec)
}
