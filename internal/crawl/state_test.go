package crawl

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSet_MarkNew(t *testing.T) {
	s := newSeenSet()

	assert.True(t, s.MarkNew("https://www.sephora.fr/p/P12345.html"))
	assert.False(t, s.MarkNew("https://www.sephora.fr/p/P12345.html"))
	assert.True(t, s.MarkNew("https://www.sephora.fr/p/P67890.html"))
	assert.Equal(t, 2, s.Len())
}

func TestSeenSet_CanonicalForms(t *testing.T) {
	s := newSeenSet()

	assert.True(t, s.MarkNew("https://www.sephora.fr/p/P12345.html?b=2&a=1"))

	// Equivalent spellings of the same URL are one unit of work.
	assert.False(t, s.MarkNew("HTTPS://WWW.SEPHORA.FR/p/P12345.html?a=1&b=2"))
	assert.False(t, s.MarkNew("https://www.sephora.fr:443/p/P12345.html?b=2&a=1"))
	assert.False(t, s.MarkNew("https://www.sephora.fr/p/P12345.html?b=2&a=1#reviews"))

	assert.Equal(t, 1, s.Len())
}

func TestSeenSet_ConcurrentMark(t *testing.T) {
	s := newSeenSet()
	urls := []string{
		"https://www.sephora.fr/p/P1.html",
		"https://www.sephora.fr/p/P2.html",
		"https://www.sephora.fr/p/P3.html",
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, u := range urls {
				if s.MarkNew(u) {
					mu.Lock()
					newCount++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, newCount, "each distinct URL claimed exactly once")
	assert.Equal(t, 3, s.Len())
}

func TestMissFields(t *testing.T) {
	fields := missFields(map[string]int{"price": 2, "size": 1})
	assert.ElementsMatch(t, []string{"price", "size"}, fields)

	assert.Empty(t, missFields(nil))
}
