// Package engine assembles the registry, executor, diagnostics and
// interceptor into the one process-owned object a host integration holds.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/smith-xyz/go-module-patcher/pkg/config"
	"github.com/smith-xyz/go-module-patcher/pkg/diagnostics"
	"github.com/smith-xyz/go-module-patcher/pkg/executor"
	"github.com/smith-xyz/go-module-patcher/pkg/interceptor"
	"github.com/smith-xyz/go-module-patcher/pkg/patch"
	"github.com/smith-xyz/go-module-patcher/pkg/registry"
	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

type options struct {
	logger     *slog.Logger
	normalizer interceptor.Normalizer
	observer   func(interceptor.ModuleRecord)
	sinkWriter io.Writer
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNormalizer is passed through to the interceptor.
func WithNormalizer(n interceptor.Normalizer) Option {
	return func(o *options) {
		o.normalizer = n
	}
}

// WithObserver is passed through to the interceptor.
func WithObserver(fn func(interceptor.ModuleRecord)) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// WithSinkWriter writes failure reports as JSON lines to w. It takes
// precedence over the configured diagnostics log path.
func WithSinkWriter(w io.Writer) Option {
	return func(o *options) {
		o.sinkWriter = w
	}
}

type Engine struct {
	cfg         config.Config
	logger      *slog.Logger
	registry    *registry.Registry
	reporter    *diagnostics.Reporter
	interceptor *interceptor.Interceptor
	sink        *diagnostics.Sink
}

func New(cfg config.Config, host interceptor.Host, compiler interceptor.Compiler, opts ...Option) (*Engine, error) {
	if host == nil {
		return nil, errors.New("engine: host is required")
	}
	if compiler == nil {
		return nil, errors.New("engine: compiler is required")
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	var sink *diagnostics.Sink
	switch {
	case o.sinkWriter != nil:
		sink = diagnostics.NewSink(o.sinkWriter, 0)
	case cfg.ShouldLogToFile():
		s, err := diagnostics.OpenSink(cfg.DiagnosticsLog, 0)
		if err != nil {
			return nil, fmt.Errorf("engine: open diagnostics log: %w", err)
		}
		sink = s
	}

	capacity := cfg.DiagnosticsCapacity
	if capacity <= 0 {
		capacity = diagnostics.DefaultCapacity
	}

	reg := registry.New(
		registry.WithLogger(o.logger),
		registry.WithSelfReferenceFormat(cfg.SelfReference),
		registry.WithCompileOptions(patch.CompileOptions{MatchTimeout: cfg.MatchTimeout}),
	)
	exec := executor.New(
		executor.WithLogger(o.logger),
		executor.WithDebugContext(cfg.DebugContext),
	)
	reporter := diagnostics.NewReporter(capacity, sink)

	icOpts := []interceptor.Option{
		interceptor.WithLogger(o.logger),
		interceptor.WithExecutor(exec),
		interceptor.WithReporter(reporter),
	}
	if o.normalizer != nil {
		icOpts = append(icOpts, interceptor.WithNormalizer(o.normalizer))
	}
	if o.observer != nil {
		icOpts = append(icOpts, interceptor.WithObserver(o.observer))
	}

	return &Engine{
		cfg:         cfg,
		logger:      o.logger,
		registry:    reg,
		reporter:    reporter,
		interceptor: interceptor.New(reg, host, compiler, icOpts...),
		sink:        sink,
	}, nil
}

// Register adds every plugin's patches in order. Invalid definitions are
// reported together; valid ones registered before them stay registered.
func (e *Engine) Register(plugins ...patch.Plugin) error {
	var errs []error
	for _, p := range plugins {
		if err := e.registry.RegisterPlugin(p); err != nil {
			e.logger.Error("engine: plugin registration failed", "plugin", p.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hook is the function to install at the host's factory registration point.
func (e *Engine) Hook() interceptor.Hook {
	return e.interceptor.Hook()
}

func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

func (e *Engine) Reporter() *diagnostics.Reporter {
	return e.reporter
}

// Report is a point-in-time view of everything the engine has observed.
type Report struct {
	Failures  diagnostics.Summary
	Health    []diagnostics.PatchHealth
	Unmatched []string
	Modules   interceptor.Stats
	Metrics   map[string]int64

	// QuietMisses counts no-match failures of NoWarn definitions. They are
	// part of Failures but are not drift.
	QuietMisses int
}

// OK reports whether every patch applied cleanly and every definition found
// its module.
func (r Report) OK() bool {
	return r.Failures.Total-r.QuietMisses == 0 && r.Failures.Evicted == 0 && len(r.Unmatched) == 0
}

func (e *Engine) Report() Report {
	var unmatched []string
	for _, def := range e.registry.Unmatched() {
		if def.NoWarn {
			continue
		}
		unmatched = append(unmatched, def.ID)
	}

	failures := e.reporter.Summary()
	quiet := 0
	for _, def := range e.registry.All() {
		if !def.NoWarn {
			continue
		}
		for _, f := range failures.ByPatchID[def.ID] {
			if f.Reason == types.ReasonNoMatch {
				quiet++
			}
		}
	}

	metrics := e.reporter.Buffer.Metrics()
	if e.sink != nil {
		for k, v := range e.sink.Metrics() {
			metrics["sink_"+k] = v
		}
	}

	return Report{
		Failures:    failures,
		Health:      e.reporter.Health.Snapshot(),
		Unmatched:   unmatched,
		Modules:     e.interceptor.Stats(),
		Metrics:     metrics,
		QuietMisses: quiet,
	}
}

// Close releases the diagnostics log.
func (e *Engine) Close() error {
	return e.sink.Close()
}
