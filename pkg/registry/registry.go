// Package registry keeps the ordered set of patch definitions and answers
// which of them target a given module source.
//
// Registration order is significant: when several definitions match the
// same module they are applied in the order they were registered, each on the
// output of the previous one. The registry never reorders definitions and
// does not try to resolve conflicts between them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/smith-xyz/go-module-patcher/pkg/canon"
	"github.com/smith-xyz/go-module-patcher/pkg/patch"
)

// ErrInvalidDefinition wraps every registration failure.
var ErrInvalidDefinition = errors.New("invalid patch definition")

type entry struct {
	def *patch.Definition

	enabledOnce sync.Once
	enabled     bool

	matched int
	retired bool
}

type Registry struct {
	mu        sync.Mutex
	entries   []*entry
	byID      map[string]*entry
	perPlugin map[string]int

	compile    patch.CompileOptions
	selfFormat string
	logger     *slog.Logger
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCompileOptions sets how step patterns are compiled. SelfReference is
// ignored; it is derived per plugin from the self reference format.
func WithCompileOptions(opts patch.CompileOptions) Option {
	return func(r *Registry) {
		r.compile = opts
	}
}

// WithSelfReferenceFormat sets the fmt format $self expands to; it receives
// the JSON-quoted plugin name.
func WithSelfReferenceFormat(format string) Option {
	return func(r *Registry) {
		r.selfFormat = format
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		byID:       make(map[string]*entry),
		perPlugin:  make(map[string]int),
		selfFormat: canon.DefaultSelfReferenceFormat,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register compiles def and appends it. The registered, compiled definition
// is returned; it must be treated as read-only.
func (r *Registry) Register(def patch.Definition) (*patch.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def.ID == "" {
		def.ID = def.Plugin + "#" + strconv.Itoa(r.perPlugin[def.Plugin])
	}
	if _, exists := r.byID[def.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidDefinition, def.ID)
	}

	opts := r.compile
	opts.SelfReference = ""
	if def.Plugin != "" {
		opts.SelfReference = canon.SelfReference(r.selfFormat, def.Plugin)
	}

	compiled, err := patch.Compile(def, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	e := &entry{def: compiled}
	r.entries = append(r.entries, e)
	r.byID[compiled.ID] = e
	r.perPlugin[def.Plugin]++

	r.logger.Debug("registry: registered patch", "patch", compiled.ID, "find", compiled.Find.String(), "steps", len(compiled.Steps))
	return compiled, nil
}

// RegisterPlugin registers every patch of p under p's name. Registration
// stops at the first invalid definition.
func (r *Registry) RegisterPlugin(p patch.Plugin) error {
	for i, def := range p.Patches {
		if def.Plugin == "" {
			def.Plugin = p.Name
		}
		if _, err := r.Register(def); err != nil {
			return fmt.Errorf("plugin %s patch %d: %w", p.Name, i, err)
		}
	}
	return nil
}

// All returns every registered definition in registration order.
func (r *Registry) All() []*patch.Definition {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs := make([]*patch.Definition, len(r.entries))
	for i, e := range r.entries {
		defs[i] = e.def
	}
	return defs
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Lookup returns the definition registered under id.
func (r *Registry) Lookup(id string) (*patch.Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.def, true
}

// CandidatesFor returns, in registration order, the live and enabled
// definitions whose finder accepts source.
func (r *Registry) CandidatesFor(source string) []*patch.Definition {
	var out []*patch.Definition
	for _, e := range r.live() {
		if !r.isEnabled(e) {
			continue
		}
		if e.def.Find.Matches(source) {
			out = append(out, e.def)
		}
	}
	return out
}

// MarkMatched records that def targeted a module. Definitions without All
// are retired afterwards and no longer offered as candidates.
func (r *Registry) MarkMatched(def *patch.Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[def.ID]
	if !ok {
		return
	}
	e.matched++
	if !e.def.All {
		e.retired = true
	}
}

// Unmatched returns the enabled definitions that have not matched any
// module yet. After the host finished loading, these are the patches whose
// finder no longer exists upstream.
func (r *Registry) Unmatched() []*patch.Definition {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.matched == 0 {
			entries = append(entries, e)
		}
	}
	r.mu.Unlock()

	var out []*patch.Definition
	for _, e := range entries {
		if r.isEnabled(e) {
			out = append(out, e.def)
		}
	}
	return out
}

func (r *Registry) live() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.retired {
			live = append(live, e)
		}
	}
	return live
}

func (r *Registry) isEnabled(e *entry) bool {
	e.enabledOnce.Do(func() {
		e.enabled = r.evalEnabled(e.def)
	})
	return e.enabled
}

func (r *Registry) evalEnabled(def *patch.Definition) (enabled bool) {
	if def.Enabled == nil {
		return true
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("registry: enabled predicate panicked", "patch", def.ID, "panic", fmt.Sprint(rec))
			enabled = false
		}
	}()
	return def.Enabled()
}
