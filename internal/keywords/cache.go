package keywords

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Extractor memoizes Extract for a fixed k. Boundary detection and
// compression re-extract the same texts repeatedly; the cache keeps those
// passes cheap.
type Extractor struct {
	k     int
	cache *ristretto.Cache
}

// NewExtractor creates an Extractor holding up to maxEntries results.
func NewExtractor(k int, maxEntries int64) (*Extractor, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword cache: %w", err)
	}
	return &Extractor{k: k, cache: cache}, nil
}

// K returns the keyword limit.
func (e *Extractor) K() int {
	return e.k
}

// Extract returns the top-k keywords of text.
func (e *Extractor) Extract(text string) []string {
	if v, ok := e.cache.Get(text); ok {
		if words, ok := v.([]string); ok {
			return words
		}
	}
	words := Extract(text, e.k)
	e.cache.Set(text, words, 1)
	return words
}

// Set returns the top-k keywords of text as a Set.
func (e *Extractor) Set(text string) Set {
	return NewSet(e.Extract(text))
}

// Close releases the cache goroutines.
func (e *Extractor) Close() {
	e.cache.Close()
}
