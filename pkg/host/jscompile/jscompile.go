// Package jscompile turns patched module source back into a factory. A
// factory is only produced for source that parses as a JavaScript
// expression; anything tree-sitter marks as an error or a missing token is
// rejected with the position of the first problem.
package jscompile

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/smith-xyz/go-module-patcher/pkg/interceptor"
	"github.com/smith-xyz/go-module-patcher/pkg/types"
)

const nearContext = 40

// SyntaxError reports the first parse error in a module. Row and Column are
// 1-based and point into the module source.
type SyntaxError struct {
	ModuleID types.ModuleID
	Row      int
	Column   int
	Near     string
	Missing  bool
}

func (e *SyntaxError) Error() string {
	kind := "syntax error"
	if e.Missing {
		kind = "missing token"
	}
	return fmt.Sprintf("module %s: %s at %d:%d near %q", e.ModuleID, kind, e.Row, e.Column, e.Near)
}

// Factory is a compiled module. Patched factories carry a header naming the
// plugins that changed them and a sourceURL so devtools show a stable name.
type Factory struct {
	ID        types.ModuleID
	Body      string
	PatchedBy []string
}

func (f *Factory) Source() string {
	if len(f.PatchedBy) == 0 {
		return f.Body
	}
	var b strings.Builder
	fmt.Fprintf(&b, "// Webpack Module %s - Patched by %s\n", f.ID, strings.Join(f.PatchedBy, ", "))
	b.WriteString(f.Body)
	fmt.Fprintf(&b, "\n//# sourceURL=WebpackModule%s", f.ID)
	return b.String()
}

type Compiler struct {
	ctx context.Context
}

func New() *Compiler {
	return &Compiler{ctx: context.Background()}
}

// WithContext returns a compiler whose parses are bounded by ctx.
func (c *Compiler) WithContext(ctx context.Context) *Compiler {
	return &Compiler{ctx: ctx}
}

func (c *Compiler) Compile(id types.ModuleID, source string, patchedBy []string) (interceptor.Factory, error) {
	if err := Validate(c.ctx, id, source); err != nil {
		return nil, err
	}
	return &Factory{
		ID:        id,
		Body:      source,
		PatchedBy: append([]string(nil), patchedBy...),
	}, nil
}

// Validate parses source as a parenthesised expression, which is how the
// host evaluates a factory.
func Validate(ctx context.Context, id types.ModuleID, source string) error {
	content := []byte("(" + source + "\n)")

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("module %s: tree-sitter parse failed: %w", id, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}

	bad := firstError(root)
	if bad == nil {
		bad = root
	}
	pt := bad.StartPoint()
	row, col := int(pt.Row)+1, int(pt.Column)+1
	if pt.Row == 0 && col > 1 {
		col--
	}

	start := int(bad.StartByte())
	end := start + nearContext
	if end > len(content) {
		end = len(content)
	}
	near := ""
	if start < end {
		near = strings.TrimSpace(string(content[start:end]))
	}

	return &SyntaxError{
		ModuleID: id,
		Row:      row,
		Column:   col,
		Near:     near,
		Missing:  bad.IsMissing(),
	}
}

func firstError(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstError(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

// NormalizeWebpack rewrites a webpack factory into the form patches are
// authored against: a single line, prefixed so a bare function expression
// evaluates as one.
func NormalizeWebpack(source string) string {
	return "0," + strings.ReplaceAll(source, "\n", "")
}
