package crawl

import (
	"sync"

	"github.com/verte-labs/refillery/internal/cache"
)

// urlState is the lifecycle of one (site, URL) unit within a run. Denied
// and any fetch failure are terminal; retries happen inside the HTTP layer,
// never here.
type urlState string

const (
	stateDiscovered urlState = "discovered"
	stateAllowed    urlState = "allowed"
	stateDenied     urlState = "denied"
	stateRateGated  urlState = "rate_gated"
	stateFetched    urlState = "fetched"
	stateExtracted  urlState = "extracted"
	stateRecorded   urlState = "recorded"
	stateFailed     urlState = "failed"
)

// seenSet deduplicates discovery output by canonical URL. Per-run state,
// cleared only between runs; any worker may mark into it.
type seenSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{urls: make(map[string]struct{})}
}

// MarkNew canonicalizes the URL and records it, reporting whether it was
// unseen. Guarantees at most one detail fetch per distinct product URL per
// run.
func (s *seenSet) MarkNew(rawURL string) bool {
	key := cache.NormalizeURL(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.urls[key]; seen {
		return false
	}
	s.urls[key] = struct{}{}
	return true
}

func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}
