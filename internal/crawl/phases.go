package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verte-labs/refillery/internal/adapter"
	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/resilience"
)

// maxReviewPages caps review pagination per product.
const maxReviewPages = 3

// listingExtraction is the cached parse result of one listing page, reused
// verbatim when a re-fetch answers 304.
type listingExtraction struct {
	Refs []model.ProductRef `json:"refs"`
	Next string             `json:"next,omitempty"`
}

// productExtraction is the cached parse result of one detail page.
type productExtraction struct {
	Product *model.Product        `json:"product"`
	Signals adapter.RefillSignals `json:"signals"`
}

// reviewExtraction is the cached parse result of one review page.
type reviewExtraction struct {
	Reviews []model.Review `json:"reviews"`
}

// discover enumerates candidate product URLs from the adapter's seed
// listings, paginating up to maxPages listing fetches. Output is
// deduplicated by canonical URL.
func (o *Orchestrator) discover(ctx context.Context, run *runContext, maxPages int) []model.ProductRef {
	var refs []model.ProductRef
	pagesLeft := maxPages

	for _, seed := range run.adapter.SeedURLs(o.cfg.RefillableOnly) {
		pageURL := seed
		for pageURL != "" && pagesLeft > 0 {
			if ctx.Err() != nil {
				return refs
			}
			pagesLeft--

			result := o.fetchPage(ctx, run, pageURL)
			var extracted listingExtraction
			switch {
			case result.doc != nil:
				extracted.Refs = run.adapter.ExtractRefs(pageURL, result.doc)
				extracted.Next = run.adapter.NextPageURL(pageURL, result.doc)
				o.cacheExtraction(run, pageURL, result, extracted)
			case result.notModified:
				if !o.reuseExtraction(run, pageURL, &extracted) {
					run.log.Warn("not-modified listing without cached extraction",
						zap.String("url", pageURL))
				}
			default:
				pageURL = ""
				continue
			}

			for _, ref := range extracted.Refs {
				if run.seen.MarkNew(ref.URL) {
					refs = append(refs, ref)
					run.log.Debug("product discovered",
						zap.String("url", ref.URL),
						zap.String("state", string(stateDiscovered)),
					)
				}
			}
			pageURL = extracted.Next
		}
	}

	run.log.Info("discovery complete",
		zap.Int("refs", len(refs)),
		zap.Int("distinct_urls", run.seen.Len()),
	)
	return refs
}

// fetchDetails runs the detail phase over discovered refs with a bounded
// worker pool. Each product's chain is sequential; products are independent.
func (o *Orchestrator) fetchDetails(ctx context.Context, run *runContext, refs []model.ProductRef) []*model.Product {
	var (
		mu       sync.Mutex
		products []*model.Product
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())

	for _, ref := range refs {
		g.Go(func() error {
			p := o.fetchOneProduct(ctx, run, ref)
			if p == nil {
				return nil
			}
			mu.Lock()
			products = append(products, p)
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; failures are per-URL terminal and
	// counted. Wait only synchronizes.
	_ = g.Wait()

	run.log.Info("detail phase complete",
		zap.Int("attempted", len(refs)),
		zap.Int("extracted", len(products)),
	)
	return products
}

func (o *Orchestrator) fetchOneProduct(ctx context.Context, run *runContext, ref model.ProductRef) *model.Product {
	result := o.fetchPage(ctx, run, ref.URL)

	var extracted productExtraction
	switch {
	case result.doc != nil:
		ext := adapter.NewExtractor(result.doc, ref.URL)
		p, signals, err := run.adapter.ExtractProduct(ref, result.doc, ext)
		run.metrics.SelectorMisses(missFields(ext.Misses()))
		if err != nil {
			run.log.Warn("product page unusable",
				zap.String("url", ref.URL),
				zap.Error(err),
			)
			run.metrics.Error()
			return nil
		}
		if o.cfg.RefillableOnly {
			// Listing-facet discovery is itself a refillable signal.
			signals.Facets = append(signals.Facets, "rechargeable")
		}
		o.resolver.Apply(p, signals)
		o.stampProvenance(p, run, ref.URL, result.scrapeTS)
		extracted = productExtraction{Product: p, Signals: signals}
		o.cacheExtraction(run, ref.URL, result, extracted)

	case result.notModified:
		// Unchanged page: the prior extraction is reused as-is, no
		// re-parse.
		if !o.reuseExtraction(run, ref.URL, &extracted) || extracted.Product == nil {
			return nil
		}

	default:
		return nil
	}

	run.metrics.ProductExtracted()
	run.log.Debug("product extracted",
		zap.String("product_id", extracted.Product.ProductID),
		zap.String("state", string(stateExtracted)),
	)
	return extracted.Product
}

// fetchReviews runs the review phase for products whose adapter exposes
// reviews. Sites without a review capability are skipped wholesale.
func (o *Orchestrator) fetchReviews(ctx context.Context, run *runContext, products []*model.Product) []model.Review {
	src, ok := run.adapter.(adapter.ReviewSource)
	if !ok {
		run.log.Info("site has no review source, skipping review phase")
		return nil
	}

	var (
		mu      sync.Mutex
		reviews []model.Review
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())

	for _, p := range products {
		g.Go(func() error {
			got := o.fetchProductReviews(ctx, run, src, p)
			if len(got) == 0 {
				return nil
			}
			mu.Lock()
			reviews = append(reviews, got...)
			mu.Unlock()
			run.metrics.ReviewExtracted(len(got))
			return nil
		})
	}
	_ = g.Wait()

	run.log.Info("review phase complete", zap.Int("reviews", len(reviews)))
	return reviews
}

func (o *Orchestrator) fetchProductReviews(ctx context.Context, run *runContext, src adapter.ReviewSource, p *model.Product) []model.Review {
	ref := model.ProductRef{Site: p.Site, URL: p.SourceURL}
	var all []model.Review

	for page := 1; page <= maxReviewPages; page++ {
		pageURL := src.ReviewsURL(ref, page)
		if pageURL == "" {
			break
		}

		result := o.fetchPage(ctx, run, pageURL)
		var extracted reviewExtraction
		switch {
		case result.doc != nil:
			ext := adapter.NewExtractor(result.doc, pageURL)
			extracted.Reviews = src.ExtractReviews(ref, p.ProductID, result.doc, ext)
			o.cacheExtraction(run, pageURL, result, extracted)
		case result.notModified:
			if !o.reuseExtraction(run, pageURL, &extracted) {
				return all
			}
		default:
			return all
		}

		if len(extracted.Reviews) == 0 {
			break
		}
		for i := range extracted.Reviews {
			r := &extracted.Reviews[i]
			r.SourceSite = string(run.manifest.Site)
			r.SourceURL = pageURL
			if r.ScrapeTS.IsZero() {
				r.ScrapeTS = result.scrapeTS
			}
			r.RobotsSnapshotID = run.snapshot.ID
		}
		all = append(all, extracted.Reviews...)
	}
	return all
}

// pageResult is the orchestrator's view of one page fetch.
type pageResult struct {
	doc         *goquery.Document
	notModified bool
	outcome     resilience.Outcome
	page        model.PageManifest
	scrapeTS    time.Time
}

// fetchPage walks one URL through the per-URL state machine: robots check,
// rate admission (inside the fetcher), fetch, parse. A robots denial never
// reaches the rate limiter; a blocked domain drains without issuing the
// request.
func (o *Orchestrator) fetchPage(ctx context.Context, run *runContext, rawURL string) pageResult {
	result := pageResult{scrapeTS: time.Now().UTC()}
	domain := run.adapter.Domain()
	log := run.log.With(zap.String("url", rawURL))

	allowed := o.policy.IsAllowed(run.snapshot, rawURL)
	if !allowed {
		run.metrics.Denied()
		if o.cfg.StrictCompliance {
			log.Info("robots denied", zap.String("state", string(stateDenied)))
			return result
		}
		log.Warn("robots denied, proceeding (strict_compliance off)")
	} else {
		log.Debug("robots allowed", zap.String("state", string(stateAllowed)))
	}

	if blocked, reason := o.limiter.Blocked(domain); blocked {
		log.Debug("domain blocked, draining",
			zap.String("state", string(stateRateGated)),
			zap.String("domain", domain),
			zap.String("reason", reason),
		)
		return result
	}

	out, page := o.client.FetchPage(ctx, rawURL)
	result.outcome = out
	result.scrapeTS = page.ScrapeTS
	page.Site = run.manifest.Site
	page.RobotsAllowed = allowed
	page.CrawlDelay = run.snapshot.CrawlDelay
	result.page = page
	log.Debug("page fetched",
		zap.String("state", string(stateFetched)),
		zap.Int("status", page.StatusCode),
		zap.Float64("ms", page.ResponseTimeMS),
		zap.String("html_hash", page.HTMLHash),
	)

	switch out.Kind {
	case resilience.Success:
		run.metrics.PageFetched()
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(out.Body))
		if err != nil {
			log.Warn("unparseable html", zap.Error(err))
			run.metrics.Error()
			return result
		}
		result.doc = doc

	case resilience.NotModified:
		run.metrics.PageNotModified()
		result.notModified = true

	default:
		run.metrics.Error()
		if out.Err != nil && !resilience.IsDomainBlocked(out.Err) {
			log.Warn("fetch failed",
				zap.String("state", string(stateFailed)),
				zap.Error(out.Err),
			)
		}
	}
	return result
}

// cacheExtraction stores the page's validators and serialized extraction
// for 304 reuse on later runs.
func (o *Orchestrator) cacheExtraction(run *runContext, rawURL string, result pageResult, extraction any) {
	data, err := json.Marshal(extraction)
	if err != nil {
		run.log.Warn("extraction not cacheable", zap.String("url", rawURL), zap.Error(err))
		return
	}
	out := result.outcome
	o.cond.RecordResponse(rawURL, out.StatusCode, out.ETag, out.LastMod, out.Body, data)
}

// reuseExtraction loads the cached extraction for a 304 response.
func (o *Orchestrator) reuseExtraction(run *runContext, rawURL string, into any) bool {
	data, ok := o.cond.Extraction(rawURL)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, into); err != nil {
		run.log.Warn("cached extraction unreadable", zap.String("url", rawURL), zap.Error(err))
		return false
	}
	return true
}

func (o *Orchestrator) stampProvenance(p *model.Product, run *runContext, sourceURL string, ts time.Time) {
	p.SourceSite = string(run.manifest.Site)
	p.SourceURL = sourceURL
	p.ScrapeTS = ts
	p.RobotsSnapshotID = run.snapshot.ID
	p.FirstSeenTS = ts
	p.LastSeenTS = ts
}

func (o *Orchestrator) concurrency() int {
	n := o.cfg.ConcurrencyPerSite
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

func missFields(misses map[string]int) []string {
	fields := make([]string, 0, len(misses))
	for f := range misses {
		fields = append(fields, f)
	}
	return fields
}
