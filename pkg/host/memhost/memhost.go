// Package memhost is an in-memory module table. It stands in for the host
// loader in the CLI and in tests.
package memhost

import (
	"errors"
	"sync"

	"github.com/smith-xyz/go-module-patcher/pkg/interceptor"
	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

// ErrReadOnly is returned by RegisterFactory after Freeze.
var ErrReadOnly = errors.New("module table is frozen")

type Host struct {
	mu        sync.RWMutex
	order     []types.ModuleID
	factories map[types.ModuleID]interceptor.Factory
	originals map[types.ModuleID]interceptor.Factory
	frozen    bool
}

func New() *Host {
	return &Host{
		factories: make(map[types.ModuleID]interceptor.Factory),
		originals: make(map[types.ModuleID]interceptor.Factory),
	}
}

// Define records the factory as the host originally shipped it. The
// interceptor falls back to it when nothing else can be compiled.
func (h *Host) Define(id types.ModuleID, source string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.originals[id]; !ok {
		h.originals[id] = interceptor.RawFactory(source)
	}
}

func (h *Host) RegisterFactory(id types.ModuleID, f interceptor.Factory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frozen {
		return ErrReadOnly
	}
	if _, ok := h.factories[id]; !ok {
		h.order = append(h.order, id)
	}
	h.factories[id] = f
	return nil
}

func (h *Host) OriginalFactory(id types.ModuleID) (interceptor.Factory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.originals[id]
	return f, ok
}

// Factory returns the installed factory for id.
func (h *Host) Factory(id types.ModuleID) (interceptor.Factory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.factories[id]
	return f, ok
}

// IDs returns installed module ids in first-registration order.
func (h *Host) IDs() []types.ModuleID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]types.ModuleID(nil), h.order...)
}

// Freeze makes further registrations fail.
func (h *Host) Freeze() {
	h.mu.Lock()
	h.frozen = true
	h.mu.Unlock()
}

// Load defines id and runs it through hook, the way the host loader calls
// its registration point.
func (h *Host) Load(hook interceptor.Hook, id types.ModuleID, source string) interceptor.Factory {
	h.Define(id, source)
	return hook(id, source)
}
