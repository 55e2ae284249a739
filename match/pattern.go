package match

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax marks a malformed pattern. It is surfaced at compile time only;
// a compiled Pattern never fails.
var ErrSyntax = errors.New("pattern syntax")

// Pattern is a compiled matcher over a colon-segmented namespace.
//
// A segment is either a literal or the wildcard "*". A mid-pattern "*"
// matches exactly one segment; a trailing "*" matches one or more remaining
// segments, giving hierarchical prefix semantics: "service:read:*" matches
// "service:read:orders" and "service:read:orders:42" but not "service:read".
type Pattern struct {
	raw      string
	segments []string
	prefix   bool
}

const segmentChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._-"

// Compile validates and compiles a pattern string.
func Compile(raw string) (Pattern, error) {
	if raw == "" {
		return Pattern{}, fmt.Errorf("%w: empty pattern", ErrSyntax)
	}
	segments := strings.Split(raw, ":")
	for i, seg := range segments {
		if seg == "" {
			return Pattern{}, fmt.Errorf("%w: empty segment in %q", ErrSyntax, raw)
		}
		if seg == "*" {
			continue
		}
		if strings.ContainsRune(seg, '*') {
			return Pattern{}, fmt.Errorf("%w: wildcard must be a whole segment in %q", ErrSyntax, raw)
		}
		for _, r := range seg {
			if !strings.ContainsRune(segmentChars, r) {
				return Pattern{}, fmt.Errorf("%w: invalid character %q in segment %d of %q", ErrSyntax, r, i, raw)
			}
		}
	}
	return Pattern{
		raw:      raw,
		segments: segments,
		prefix:   segments[len(segments)-1] == "*",
	}, nil
}

// MustCompile is Compile for patterns known valid at authorship time.
func MustCompile(raw string) Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether a concrete value satisfies the pattern. Values
// containing wildcards never match: patterns match values, not other
// patterns.
func (p Pattern) Match(value string) bool {
	if len(p.segments) == 0 || value == "" {
		return false
	}
	parts := strings.Split(value, ":")
	for _, part := range parts {
		if part == "" || part == "*" {
			return false
		}
	}

	if p.prefix {
		// Trailing "*" consumes one or more segments.
		fixed := p.segments[:len(p.segments)-1]
		if len(parts) <= len(fixed) {
			return false
		}
		return segmentsMatch(fixed, parts[:len(fixed)])
	}

	if len(parts) != len(p.segments) {
		return false
	}
	return segmentsMatch(p.segments, parts)
}

func segmentsMatch(pattern, parts []string) bool {
	for i, seg := range pattern {
		if seg == "*" {
			continue
		}
		if seg != parts[i] {
			return false
		}
	}
	return true
}

// String returns the original pattern source.
func (p Pattern) String() string {
	return p.raw
}
