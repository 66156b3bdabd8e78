package interceptor

import "github.com/smith-xyz/go-module-patcher/pkg/types"

// Factory is a module factory in whatever form the host executes. The
// engine only needs its source text.
type Factory interface {
	Source() string
}

// Host is the module table the interceptor installs factories into. The
// host-specific glue that hooks the real module loader implements it.
type Host interface {
	RegisterFactory(id types.ModuleID, f Factory) error
	OriginalFactory(id types.ModuleID) (Factory, bool)
}

// Compiler turns source text back into a factory bound the same way the
// host binds its own factories.
type Compiler interface {
	Compile(id types.ModuleID, source string, patchedBy []string) (Factory, error)
}

// Hook has the shape of the host's factory registration point.
type Hook func(id types.ModuleID, source string) Factory

// Normalizer rewrites a raw factory source into the text patches are
// written against.
type Normalizer func(source string) string

// RawFactory is the last-resort factory: the original source, uncompiled.
type RawFactory string

func (f RawFactory) Source() string {
	return string(f)
}
