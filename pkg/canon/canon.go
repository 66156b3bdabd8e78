// Package canon expands the placeholders patch authors use in match patterns
// and replacement templates.
//
// Host module sources are minified, so local identifiers change between
// builds. Patterns write \i wherever an identifier is expected, and
// replacements write $self to refer back to the owning plugin.
package canon

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IdentifierPattern is what \i expands to.
const IdentifierPattern = `(?:[A-Za-z_$][\w$]*)`

// SelfPlaceholder is replaced in templates by the plugin's self reference.
const SelfPlaceholder = "$self"

// DefaultSelfReferenceFormat receives the JSON-quoted plugin name.
const DefaultSelfReferenceFormat = "Vencord.Plugins.plugins[%s]"

// Match expands every unescaped \i in a regular expression source.
// An \i preceded by an escaped backslash (\\i) is left untouched.
func Match(pattern string) string {
	if !strings.Contains(pattern, `\i`) {
		return pattern
	}

	var b strings.Builder
	b.Grow(len(pattern) + 16)

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '\\' || i+1 >= len(pattern) {
			b.WriteByte(c)
			continue
		}

		next := pattern[i+1]
		if next == 'i' {
			b.WriteString(IdentifierPattern)
		} else {
			b.WriteByte(c)
			b.WriteByte(next)
		}
		i++
	}

	return b.String()
}

// SelfReference renders the expression $self stands for.
func SelfReference(format, plugin string) string {
	if format == "" {
		format = DefaultSelfReferenceFormat
	}
	quoted, err := json.Marshal(plugin)
	if err != nil {
		quoted = []byte(`"` + plugin + `"`)
	}
	return fmt.Sprintf(format, quoted)
}

// Replace substitutes $self in a replacement template.
func Replace(template, selfRef string) string {
	return strings.ReplaceAll(template, SelfPlaceholder, selfRef)
}
