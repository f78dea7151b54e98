// Package normalize provides the string canonicalization used for all
// concept matching, merging, and fact grouping. Display names are never
// compared directly; everything goes through Key.
package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ppiankov/concord/internal/model"
)

// maxScopeLen bounds normalized scope strings. Anything longer is treated as
// an extraction artifact rather than a qualifying context.
const maxScopeLen = 120

// diacriticFold maps the Latin-1/Latin Extended letters that show up in
// practice onto ASCII. Full Unicode decomposition is overkill for catalog
// keys; unmapped runes pass through lowercased.
var diacriticFold = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a',
	'ç': 'c', 'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i', 'ñ': 'n',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o', 'ø': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u', 'ý': 'y', 'ÿ': 'y',
	'ß': 's',
}

// Key produces the case/punctuation/diacritics-insensitive normalization key
// for a concept name or subject reference. Identical keys mean "the same
// concept" everywhere in the engine.
func Key(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if folded, ok := diacriticFold[r]; ok {
			r = folded
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			// Punctuation, symbols, and whitespace all collapse to a
			// single separator.
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Scope normalizes a qualifying context string. An empty input is the valid
// "unscoped" case. Failure never aborts consolidation; the caller degrades
// the affected fact's maturity bound instead.
func Scope(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", nil
	}
	norm := Key(trimmed)
	if norm == "" {
		return "", fmt.Errorf("%w: %q reduced to empty", model.ErrScopeNormalization, s)
	}
	if len(norm) > maxScopeLen {
		return "", fmt.Errorf("%w: %q exceeds %d chars", model.ErrScopeNormalization, s, maxScopeLen)
	}
	if strings.ContainsRune(trimmed, '�') {
		return "", fmt.Errorf("%w: %q contains replacement runes", model.ErrScopeNormalization, s)
	}
	return norm, nil
}

// Tokens splits a normalization key into its word tokens.
func Tokens(s string) []string {
	return strings.Fields(Key(s))
}

// TokenSet returns the tokens of s as a membership set.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokens(s) {
		set[t] = struct{}{}
	}
	return set
}

// Overlap returns the fraction of b's tokens present in a, in [0,1].
// Used for the partial-name lexical bonus.
func Overlap(a, b string) float64 {
	bt := Tokens(b)
	if len(bt) == 0 {
		return 0
	}
	as := TokenSet(a)
	hits := 0
	for _, t := range bt {
		if _, ok := as[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(bt))
}

// ContainsWord reports whether needle occurs in haystack on word boundaries,
// compared under normalization. A literal trigger "TLS" matches "uses tls."
// but not "atlas".
func ContainsWord(haystack, needle string) bool {
	n := Key(needle)
	if n == "" {
		return false
	}
	h := " " + Key(haystack) + " "
	return strings.Contains(h, " "+n+" ")
}
