package location

import (
	"time"

	"kazeguide/pkg/cache"
)

// editMemo caches rune-level edit distances. Fuzzy search re-evaluates many
// identical pairs within one session, so memoization pays for itself.
type editMemo struct {
	c *cache.Cache[string, int]
}

func newEditMemo() *editMemo {
	return &editMemo{
		c: cache.New[string, int](cache.Options{
			DefaultTTL: 24 * time.Hour,
			MaxSize:    4096,
		}),
	}
}

func (m *editMemo) distance(a, b string) int {
	if a == b {
		return 0
	}
	key := a + "\x00" + b
	if d, ok := m.c.Get(key); ok {
		return d
	}
	d := levenshtein([]rune(a), []rune(b))
	m.c.Set(key, d)
	return d
}

// levenshtein computes edit distance over runes with a two-row table.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
