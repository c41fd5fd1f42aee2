// Package blacklist holds the ordered, immutable list of subject matchers the
// filter rejects on, and loads it from pattern files.
package blacklist

import (
	"iter"
	"regexp"
	"strings"
)

// Kind names a matcher variant as it appears on the command line.
type Kind string

const (
	KindLiteral Kind = "literal"
	KindRegex   Kind = "regex"
)

// Matcher is a single blacklist rule. The set of implementations is closed:
// Literal and Pattern.
type Matcher interface {
	Kind() Kind
	// String returns the pattern source as loaded from the file.
	String() string
	Match(text string) bool

	sealed()
}

// Literal matches when its text occurs as a contiguous, case-sensitive substring.
type Literal struct {
	Text string
}

func (l Literal) Kind() Kind { return KindLiteral }
func (l Literal) String() string { return l.Text }
func (l Literal) Match(text string) bool { return strings.Contains(text, l.Text) }
func (Literal) sealed() {}

// Pattern matches when its expression finds an occurrence anywhere in the text.
type Pattern struct {
	Expr Regexp
}

func (p Pattern) Kind() Kind { return KindRegex }
func (p Pattern) String() string { return p.Expr.String() }
func (p Pattern) Match(text string) bool { return p.Expr.MatchString(text) }
func (Pattern) sealed() {}

// Regexp is the capability a regular-expression engine must provide.
// *regexp.Regexp satisfies it.
type Regexp interface {
	MatchString(s string) bool
	String() string
}

// Engine compiles pattern sources.
type Engine interface {
	Compile(expr string) (Regexp, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(expr string) (Regexp, error)

func (f EngineFunc) Compile(expr string) (Regexp, error) { return f(expr) }

// RE2 is the default engine, backed by package regexp.
var RE2 Engine = EngineFunc(func(expr string) (Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return re, nil
})

// List is an ordered sequence of matchers. It is never modified after construction.
type List struct {
	matchers []Matcher
}

// NewList copies ms into a new List.
func NewList(ms ...Matcher) *List {
	return &List{matchers: append([]Matcher(nil), ms...)}
}

// Len returns the number of matchers.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.matchers)
}

// All yields the matchers in load order.
func (l *List) All() iter.Seq[Matcher] {
	return func(yield func(Matcher) bool) {
		if l == nil {
			return
		}
		for _, m := range l.matchers {
			if !yield(m) {
				return
			}
		}
	}
}

// Counts returns the number of matchers per kind.
func (l *List) Counts() map[Kind]int {
	counts := map[Kind]int{KindLiteral: 0, KindRegex: 0}
	for m := range l.All() {
		counts[m.Kind()]++
	}
	return counts
}
