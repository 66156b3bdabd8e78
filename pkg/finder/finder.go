// Package finder decides whether a module factory is a candidate for a patch
// definition. Finders run against every module the host defines, so all of
// them are resolved once at construction and stay cheap to evaluate.
package finder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/smith-xyz/go-module-patcher/pkg/canon"
)

// Finder is the signature criterion of a patch definition.
type Finder interface {
	Matches(source string) bool
	String() string
}

type rawFinder struct {
	sub string
}

// Raw matches modules whose source contains sub literally.
// The empty string matches every module.
func Raw(sub string) Finder {
	return rawFinder{sub: sub}
}

func (f rawFinder) Matches(source string) bool {
	return strings.Contains(source, f.sub)
}

func (f rawFinder) String() string {
	return fmt.Sprintf("raw(%q)", f.sub)
}

type predicateFinder struct {
	name   string
	fn     func(source string) bool
	logger *slog.Logger
}

// Predicate defers to caller code. A panicking predicate is treated as no
// match and logged.
func Predicate(name string, fn func(source string) bool) Finder {
	return &predicateFinder{name: name, fn: fn, logger: slog.Default()}
}

func (f *predicateFinder) Matches(source string) (matched bool) {
	if f.fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			f.logger.Warn("finder: predicate panicked", "finder", f.name, "panic", fmt.Sprint(r))
			matched = false
		}
	}()
	return f.fn(source)
}

func (f *predicateFinder) String() string {
	return fmt.Sprintf("predicate(%s)", f.name)
}

type regexFinder struct {
	source string
	re     *regexp2.Regexp
}

// Regex matches modules in which the pattern finds a match. \i placeholders
// are expanded before compiling.
func Regex(pattern string) (Finder, error) {
	re, err := regexp2.Compile(canon.Match(pattern), regexp2.ECMAScript)
	if err != nil {
		return nil, fmt.Errorf("compile finder regex %q: %w", pattern, err)
	}
	return &regexFinder{source: pattern, re: re}, nil
}

// MustRegex is Regex for patterns known at compile time.
func MustRegex(pattern string) Finder {
	f, err := Regex(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *regexFinder) Matches(source string) bool {
	ok, err := f.re.MatchString(source)
	return err == nil && ok
}

func (f *regexFinder) String() string {
	return fmt.Sprintf("regex(/%s/)", f.source)
}
