package patch

import (
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

type matchInfo struct {
	text   string
	groups []string
	named  map[string]string
	before func() string
	after  func() string
}

type pattern interface {
	// replace substitutes up to limit matches (all when limit < 0) and
	// returns the new source with the number of substitutions.
	replace(src string, limit int, repl func(matchInfo) string) (string, int, error)

	// index returns the byte offset of the first match, or -1.
	index(src string) int

	String() string
}

type literalPattern struct {
	s string
}

func (p literalPattern) replace(src string, limit int, repl func(matchInfo) string) (string, int, error) {
	var b strings.Builder
	n, last := 0, 0
	for limit < 0 || n < limit {
		idx := strings.Index(src[last:], p.s)
		if idx < 0 {
			break
		}
		start := last + idx
		end := start + len(p.s)
		b.WriteString(src[last:start])
		b.WriteString(repl(matchInfo{
			text:   p.s,
			before: func() string { return src[:start] },
			after:  func() string { return src[end:] },
		}))
		last = end
		n++
	}
	if n == 0 {
		return src, 0, nil
	}
	b.WriteString(src[last:])
	return b.String(), n, nil
}

func (p literalPattern) index(src string) int {
	return strings.Index(src, p.s)
}

func (p literalPattern) String() string {
	return strconv.Quote(p.s)
}

type regexPattern struct {
	source string
	re     *regexp2.Regexp

	// groups holds the group numbers of the capturing groups in the order
	// their openers appear in source. regexp2 numbers named groups after
	// all unnamed ones.
	groups []int
}

func compileRegex(source, flags string, timeout time.Duration) (*regexPattern, error) {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'g', 'u':
			// g is implied (Single limits instead); u is the default for Go strings.
		default:
			return nil, &FlagError{Flag: f}
		}
	}
	re, err := regexp2.Compile(source, opts)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		re.MatchTimeout = timeout
	}
	return &regexPattern{source: source, re: re, groups: groupOrder(re, source)}, nil
}

// groupOrder maps textual capture order to regexp2 group numbers. It returns
// nil when the scan disagrees with the compiled regexp, in which case
// regexp2's own order is used.
func groupOrder(re *regexp2.Regexp, source string) []int {
	names := captureNames(source)
	if len(names) != len(re.GetGroupNumbers())-1 {
		return nil
	}
	nums := make([]int, 0, len(names))
	for _, name := range names {
		n := re.GroupNumberFromName(name)
		if n < 1 {
			return nil
		}
		nums = append(nums, n)
	}
	return nums
}

// captureNames lists the capturing groups of a pattern in textual order.
// Unnamed groups are reported by their ordinal among unnamed groups.
func captureNames(source string) []string {
	var names []string
	unnamed := 0
	inClass := false
	for i := 0; i < len(source); i++ {
		switch c := source[i]; {
		case c == '\\':
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '(':
			rest := source[i+1:]
			if !strings.HasPrefix(rest, "?") {
				unnamed++
				names = append(names, strconv.Itoa(unnamed))
				continue
			}
			rest = rest[1:]
			if len(rest) < 2 || (rest[0] != '<' && rest[0] != '\'') || rest[1] == '=' || rest[1] == '!' {
				continue
			}
			end := strings.IndexAny(rest[1:], ">'")
			if end < 0 {
				continue
			}
			names = append(names, rest[1:1+end])
		}
	}
	return names
}

func (p *regexPattern) replace(src string, limit int, repl func(matchInfo) string) (string, int, error) {
	var runes []rune
	runesOf := func() []rune {
		if runes == nil {
			runes = []rune(src)
		}
		return runes
	}

	n := 0
	out, err := p.re.ReplaceFunc(src, func(m regexp2.Match) string {
		n++
		// regexp2 reports rune offsets.
		start, length := m.Index, m.Length
		info := matchInfo{
			text:   m.String(),
			before: func() string { return string(runesOf()[:start]) },
			after:  func() string { return string(runesOf()[start+length:]) },
		}
		groups := m.Groups()[1:]
		if p.groups != nil {
			groups = make([]regexp2.Group, 0, len(p.groups))
			for _, num := range p.groups {
				groups = append(groups, *m.GroupByNumber(num))
			}
		}
		for _, g := range groups {
			info.groups = append(info.groups, g.String())
			if _, err := strconv.Atoi(g.Name); err != nil {
				if info.named == nil {
					info.named = make(map[string]string)
				}
				info.named[g.Name] = g.String()
			}
		}
		return repl(info)
	}, -1, limit)
	if err != nil {
		return src, 0, err
	}
	if n == 0 {
		return src, 0, nil
	}
	return out, n, nil
}

func (p *regexPattern) index(src string) int {
	m, err := p.re.FindStringMatch(src)
	if err != nil || m == nil {
		return -1
	}
	return len(string([]rune(src)[:m.Index]))
}

func (p *regexPattern) String() string {
	return "/" + p.source + "/"
}

// FlagError reports an unsupported regex flag.
type FlagError struct {
	Flag rune
}

func (e *FlagError) Error() string {
	return "unsupported regex flag " + strconv.QuoteRune(e.Flag)
}
