package patch

import "strings"

// expand renders a replacement template the way JavaScript's
// String.prototype.replace does: $$, $&, $`, $', $1..$99 and $<name>.
// Anything else after a $ is copied literally.
func expand(template string, m matchInfo) string {
	if !strings.Contains(template, "$") {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '$' || i+1 >= len(template) {
			b.WriteByte(c)
			continue
		}

		next := template[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i++
		case next == '&':
			b.WriteString(m.text)
			i++
		case next == '`':
			b.WriteString(m.before())
			i++
		case next == '\'':
			b.WriteString(m.after())
			i++
		case next >= '0' && next <= '9':
			consumed, ok := expandGroup(&b, template[i+1:], m.groups)
			if !ok {
				b.WriteByte('$')
				continue
			}
			i += consumed
		case next == '<':
			end := strings.IndexByte(template[i+2:], '>')
			if m.named == nil || end < 0 {
				b.WriteByte('$')
				continue
			}
			b.WriteString(m.named[template[i+2:i+2+end]])
			i += end + 2
		default:
			b.WriteByte('$')
		}
	}

	return b.String()
}

// expandGroup writes the group referenced by the digits at the start of ref.
// Two digits win over one when they name an existing group.
func expandGroup(b *strings.Builder, ref string, groups []string) (int, bool) {
	one := int(ref[0] - '0')
	if len(ref) > 1 && ref[1] >= '0' && ref[1] <= '9' {
		two := one*10 + int(ref[1]-'0')
		if two >= 1 && two <= len(groups) {
			b.WriteString(groups[two-1])
			return 2, true
		}
	}
	if one >= 1 && one <= len(groups) {
		b.WriteString(groups[one-1])
		return 1, true
	}
	return 0, false
}
