package issuekey

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key is an issue tracker key such as SECO-123.
type Key struct {
	Prefix string
	Number uint64
}

// String returns the canonical PREFIX-NUMBER form.
func (k Key) String() string {
	return k.Prefix + "-" + strconv.FormatUint(k.Number, 10)
}

// Project returns the project part of the key.
func (k Key) Project() string { return k.Prefix }

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool { return k.Prefix == "" && k.Number == 0 }

// MarshalText implements encoding.TextMarshaler. The zero Key encodes as "".
func (k Key) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return []byte{}, nil
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*k = Key{}
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Strings converts a key slice to canonical strings.
func Strings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// ValidPrefix reports whether p is 2-10 uppercase ASCII letters or digits.
func ValidPrefix(p string) bool {
	if len(p) < 2 || len(p) > 10 {
		return false
	}
	for i := 0; i < len(p); i++ {
		c := p[i]
		if !(c >= 'A' && c <= 'Z') && !isDigit(c) {
			return false
		}
	}
	return true
}

// Parse parses a canonical key string without checking it against any
// configured prefix set.
func Parse(s string) (Key, error) {
	idx := strings.LastIndexByte(s, '-')
	if idx <= 0 || idx == len(s)-1 {
		return Key{}, fmt.Errorf("invalid issue key: %q", s)
	}
	prefix, digits := s[:idx], s[idx+1:]
	if !ValidPrefix(prefix) {
		return Key{}, fmt.Errorf("invalid issue key prefix: %q", s)
	}
	n, ok := parseNumber(digits)
	if !ok {
		return Key{}, fmt.Errorf("invalid issue key number: %q", s)
	}
	return Key{Prefix: prefix, Number: n}, nil
}

// Grammar matches issue keys for a fixed set of project prefixes.
// A Grammar is immutable and safe for concurrent use.
type Grammar struct {
	// sorted longest first so that overlapping prefixes prefer the longer one
	prefixes []string
}

// NewGrammar builds a Grammar. The prefix set must be non-empty and every
// prefix must satisfy ValidPrefix.
func NewGrammar(prefixes []string) (*Grammar, error) {
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("no project prefixes configured")
	}
	seen := make(map[string]bool, len(prefixes))
	var ps []string
	for _, p := range prefixes {
		if !ValidPrefix(p) {
			return nil, fmt.Errorf("invalid project prefix %q: want 2-10 uppercase letters or digits", p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		ps = append(ps, p)
	}
	sort.SliceStable(ps, func(i, j int) bool { return len(ps[i]) > len(ps[j]) })
	return &Grammar{prefixes: ps}, nil
}

// MustGrammar is NewGrammar that panics on error. Intended for tests and
// package-level literals.
func MustGrammar(prefixes ...string) *Grammar {
	g, err := NewGrammar(prefixes)
	if err != nil {
		panic(err)
	}
	return g
}

// Prefixes returns a copy of the configured prefixes, sorted alphabetically.
func (g *Grammar) Prefixes() []string {
	out := append([]string(nil), g.prefixes...)
	sort.Strings(out)
	return out
}

// Allows reports whether the key's prefix is configured.
func (g *Grammar) Allows(k Key) bool {
	for _, p := range g.prefixes {
		if p == k.Prefix {
			return true
		}
	}
	return false
}

// Extract returns the distinct keys in text, in order of first appearance.
// It never fails; text without keys yields nil.
func (g *Grammar) Extract(text string) []Key {
	var keys []Key
	seen := make(map[Key]bool)
	for i := 0; i < len(text); {
		if i > 0 && isAlnum(text[i-1]) {
			i++
			continue
		}
		k, end, ok := g.matchAt(text, i)
		if !ok {
			i++
			continue
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
		i = end
	}
	return keys
}

// First returns the first key in text.
func (g *Grammar) First(text string) (Key, bool) {
	keys := g.Extract(text)
	if len(keys) == 0 {
		return Key{}, false
	}
	return keys[0], true
}

// LeadingBracketed returns the key when text starts with "[KEY]". No
// whitespace is tolerated before the bracket or inside it.
func (g *Grammar) LeadingBracketed(text string) (Key, bool) {
	if !strings.HasPrefix(text, "[") {
		return Key{}, false
	}
	k, end, ok := g.matchAt(text, 1)
	if !ok || end >= len(text) || text[end] != ']' {
		return Key{}, false
	}
	return k, true
}

// matchAt tries to match PREFIX-DIGITS starting exactly at i. The caller
// is responsible for the left boundary; the right boundary is checked here.
func (g *Grammar) matchAt(text string, i int) (Key, int, bool) {
	for _, p := range g.prefixes {
		if !strings.HasPrefix(text[i:], p) {
			continue
		}
		j := i + len(p)
		if j >= len(text) || text[j] != '-' {
			continue
		}
		j++
		start := j
		for j < len(text) && isDigit(text[j]) {
			j++
		}
		if j == start {
			continue
		}
		if j < len(text) && isAlnum(text[j]) {
			continue
		}
		n, ok := parseNumber(text[start:j])
		if !ok {
			continue
		}
		return Key{Prefix: p, Number: n}, j, true
	}
	return Key{}, 0, false
}

// parseNumber accepts leading zeros but rejects zero and overflow.
func parseNumber(digits string) (uint64, bool) {
	if digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlnum(c byte) bool {
	return isDigit(c) || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
