package console

import (
	"bytes"
	"fmt"
	"regexp"
)

// Pattern is a match target in console output: either a literal string or
// a regular expression.
type Pattern struct {
	literal string
	re      *regexp.Regexp
}

// Literal returns a pattern matching s exactly.
func Literal(s string) Pattern {
	return Pattern{literal: s}
}

// Regexp compiles expr into a pattern.
func Regexp(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return Pattern{re: re}, nil
}

// MustRegexp is like Regexp but panics on a bad expression.
// Use it for package-level prompt tables.
func MustRegexp(expr string) Pattern {
	p, err := Regexp(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether p matches nothing (an unset pattern).
func (p Pattern) IsZero() bool {
	return p.re == nil && p.literal == ""
}

// IsRegexp reports whether p is a regular expression.
func (p Pattern) IsRegexp() bool {
	return p.re != nil
}

// String returns the pattern source.
func (p Pattern) String() string {
	if p.re != nil {
		return p.re.String()
	}
	return p.literal
}

// find returns the leftmost match of p in b.
func (p Pattern) find(b []byte) (start, end int, ok bool) {
	if p.re != nil {
		loc := p.re.FindIndex(b)
		if loc == nil {
			return 0, 0, false
		}
		return loc[0], loc[1], true
	}
	if p.literal == "" {
		return 0, 0, false
	}
	i := bytes.Index(b, []byte(p.literal))
	if i < 0 {
		return 0, 0, false
	}
	return i, i + len(p.literal), true
}
