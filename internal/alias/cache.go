// Package alias maps free-text tokens (column headers, cell values,
// observation phrases) onto tenant entities. Caches are built once per job
// from the canonical names and the overlay alias lists, then read-only.
package alias

import (
	"strings"

	"github.com/sensibyte/SensiByte/internal/parse"
)

// Entry pairs a normalized token with the overlay it resolves to.
type Entry[T any] struct {
	Token string
	Value T
}

// Cache resolves normalized tokens to entities of one overlay kind. The
// first writer wins on collision, so build order must be deterministic.
type Cache[T any] struct {
	exact   map[string]T
	ordered []Entry[T]
}

// Build constructs a cache from overlay rows. name extracts the canonical
// name of the base entity; aliases extracts the overlay alias list. Rows
// are visited in slice order, canonical name before aliases, matching the
// deterministic first-writer-wins contract.
func Build[T any](rows []T, name func(T) string, aliases func(T) []string) *Cache[T] {
	c := &Cache[T]{exact: map[string]T{}}
	add := func(token string, v T) {
		key := parse.Normalize(token)
		if key == "" {
			return
		}
		if _, taken := c.exact[key]; taken {
			return
		}
		c.exact[key] = v
		c.ordered = append(c.ordered, Entry[T]{Token: key, Value: v})
	}
	for _, row := range rows {
		add(name(row), row)
		for _, a := range aliases(row) {
			add(a, row)
		}
	}
	return c
}

// Exact resolves a token by full-string match after normalization. Used for
// the demographic columns (sex, scope, service, sample type).
func (c *Cache[T]) Exact(token string) (T, bool) {
	v, ok := c.exact[parse.Normalize(token)]
	return v, ok
}

// Contains returns every entry whose token is a substring of the normalized
// input, in build order. Used for mechanism and subtype detection in
// headers and free-text phrases.
func (c *Cache[T]) Contains(text string) []Entry[T] {
	n := parse.Normalize(text)
	if n == "" {
		return nil
	}
	var hits []Entry[T]
	for _, e := range c.ordered {
		if strings.Contains(n, e.Token) {
			hits = append(hits, e)
		}
	}
	return hits
}

// Entries exposes the cache contents in build order.
func (c *Cache[T]) Entries() []Entry[T] { return c.ordered }

// Len returns the number of distinct tokens.
func (c *Cache[T]) Len() int { return len(c.ordered) }
