// Package similarity holds the text and set similarity helpers shared by
// duplicate-proposal detection and organization team-overlap scoring.
package similarity

import "strings"

// Set is an unordered collection of distinct strings.
type Set map[string]struct{}

// NewSet builds a Set from items, collapsing duplicates.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Normalize lowercases text, replaces every character outside [a-z0-9] and
// whitespace with a space, collapses runs of whitespace and trims the result.
func Normalize(text string) string {
	lower := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lower))
	space := true // suppresses leading spaces
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Tokenize splits the normalized text on spaces and keeps tokens longer
// than two characters.
func Tokenize(text string) Set {
	out := make(Set)
	for _, tok := range strings.Split(Normalize(text), " ") {
		if len(tok) > 2 {
			out[tok] = struct{}{}
		}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|, or 0 when either set is empty.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	inter := 0
	for tok := range a {
		if b.Has(tok) {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// MeanPairwise averages Jaccard over every unordered pair of groups.
// It returns 1 when there is no pair to compare.
func MeanPairwise(groups []Set) float64 {
	total, comparisons := 0.0, 0
	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			total += Jaccard(groups[i], groups[j])
			comparisons++
		}
	}
	if comparisons == 0 {
		return 1
	}
	return total / float64(comparisons)
}
