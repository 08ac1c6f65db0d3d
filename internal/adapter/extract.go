package adapter

import (
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Extractor wraps a parsed document with fallback-selector extraction and
// per-field miss counting. A selector miss is observability data, never an
// error: the caller gets the zero value and the record stays partial.
type Extractor struct {
	doc  *goquery.Document
	base *url.URL

	mu     sync.Mutex
	misses map[string]int
}

// NewExtractor creates an extractor for a document fetched from pageURL.
func NewExtractor(doc *goquery.Document, pageURL string) *Extractor {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}
	return &Extractor{
		doc:    doc,
		base:   base,
		misses: make(map[string]int),
	}
}

// Text returns the first non-empty trimmed text among the selectors, trying
// each in order. Records a miss for field when nothing matches.
func (e *Extractor) Text(field string, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(e.doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	e.recordMiss(field)
	return ""
}

// Attr returns the first non-empty attribute value among the selectors.
func (e *Extractor) Attr(field, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if val, ok := e.doc.Find(sel).First().Attr(attr); ok {
			if val = strings.TrimSpace(val); val != "" {
				return val
			}
		}
	}
	e.recordMiss(field)
	return ""
}

// URL extracts an href/src attribute and resolves it against the page URL.
func (e *Extractor) URL(field, attr string, selectors ...string) string {
	raw := e.Attr(field, attr, selectors...)
	if raw == "" {
		return ""
	}
	return e.Resolve(raw)
}

// List returns the trimmed texts of every node matched by the first
// selector that matches anything.
func (e *Extractor) List(field string, selectors ...string) []string {
	for _, sel := range selectors {
		var out []string
		e.doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				out = append(out, text)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	e.recordMiss(field)
	return nil
}

// Each iterates nodes matched by selector without miss accounting, for
// structures the adapter walks manually (review blocks, product cards).
func (e *Extractor) Each(selector string, fn func(i int, s *goquery.Selection)) {
	e.doc.Find(selector).Each(fn)
}

// Resolve makes a possibly-relative URL absolute against the page URL.
func (e *Extractor) Resolve(href string) string {
	if e.base == nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.base.ResolveReference(u).String()
}

func (e *Extractor) recordMiss(field string) {
	e.mu.Lock()
	e.misses[field]++
	e.mu.Unlock()
}

// Misses returns the per-field selector miss counts for this document.
func (e *Extractor) Misses() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.misses))
	for k, v := range e.misses {
		out[k] = v
	}
	return out
}
