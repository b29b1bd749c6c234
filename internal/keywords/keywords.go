// Package keywords extracts ranked keyword lists from free text and compares
// keyword sets. Search, boundary detection and compression all share it so
// that "similar" means the same thing everywhere.
package keywords

import (
	"sort"
	"strings"
)

// Set is an unordered keyword set.
type Set map[string]struct{}

// NewSet builds a Set from words.
func NewSet(words []string) Set {
	s := make(Set, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for w := range s {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Union returns the union of all sets.
func Union(sets ...Set) Set {
	out := Set{}
	for _, s := range sets {
		for w := range s {
			out[w] = struct{}{}
		}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets have similarity 0.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Tokenize lowercases text and splits it into tokens of letters, digits,
// '-' and '_'. Single-character tokens are dropped.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	flush := func() {
		tok := strings.Trim(current.String(), "-_")
		if len(tok) > 1 {
			tokens = append(tokens, tok)
		}
		current.Reset()
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Extract returns up to k keywords from text: stop-words removed, ranked by
// frequency, ties broken by first occurrence. k <= 0 means no limit.
func Extract(text string, k int) []string {
	type entry struct {
		word  string
		count int
		first int
	}
	index := map[string]*entry{}
	var order []*entry
	for i, tok := range Tokenize(text) {
		if IsStopword(tok) || isNumeric(tok) {
			continue
		}
		if e, ok := index[tok]; ok {
			e.count++
			continue
		}
		e := &entry{word: tok, count: 1, first: i}
		index[tok] = e
		order = append(order, e)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	if k > 0 && len(order) > k {
		order = order[:k]
	}
	out := make([]string, len(order))
	for i, e := range order {
		out[i] = e.word
	}
	return out
}

func isNumeric(tok string) bool {
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
