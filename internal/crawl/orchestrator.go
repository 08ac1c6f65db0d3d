// Package crawl coordinates a run: robots compliance, pacing, fetching,
// extraction, and manifest recording. Phase ordering is strict: discovery
// for a site completes before detail fetches begin, and reviews are fetched
// only for products that survived detail extraction.
package crawl

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/adapter"
	"github.com/verte-labs/refillery/internal/cache"
	"github.com/verte-labs/refillery/internal/config"
	"github.com/verte-labs/refillery/internal/evidence"
	"github.com/verte-labs/refillery/internal/fetcher"
	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/monitoring"
	"github.com/verte-labs/refillery/internal/ratelimit"
	"github.com/verte-labs/refillery/internal/resilience"
	"github.com/verte-labs/refillery/internal/robots"
	"github.com/verte-labs/refillery/internal/store"
)

// Options selects what a single run does.
type Options struct {
	Mode     model.CrawlMode
	MaxPages int
	// RefDataHash versions the reference data the run was configured with.
	RefDataHash string
}

// Orchestrator drives crawl runs for registered site adapters.
type Orchestrator struct {
	cfg      config.CrawlConfig
	registry *adapter.Registry
	policy   *robots.Policy
	limiter  *ratelimit.Limiter
	cond     *cache.Conditional
	client   *fetcher.Client
	resolver *evidence.Resolver
	st       store.Store
	log      *zap.Logger
}

// New wires an orchestrator from config. The rate limiter is the sole
// suspension point for network calls: the fetcher acquires it per attempt
// through the injected hook.
func New(cfg config.CrawlConfig, registry *adapter.Registry, st store.Store) *Orchestrator {
	cond := cache.NewConditional()
	limiter := ratelimit.New(ratelimit.Config{
		RPS:        cfg.RateLimitRPS,
		FloorDelay: time.Duration(cfg.DefaultDelaySeconds * float64(time.Second)),
		Burst:      1,
	})

	client := fetcher.New(cond, fetcher.Options{
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: cfg.AcceptLanguage,
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
		Retry:          resilience.RetryConfig{MaxAttempts: cfg.MaxRetries},
		Acquire:        limiter.Acquire,
		Feedback:       limiter.Feedback,
	})

	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		policy:   robots.NewPolicy(cfg.UserAgent),
		limiter:  limiter,
		cond:     cond,
		client:   client,
		resolver: evidence.NewResolver(nil, nil),
		st:       st,
		log:      zap.L().With(zap.String("component", "crawl")),
	}
}

// Run executes one crawl run for a site and returns its manifest. The
// manifest is recorded in the store whatever the outcome; a returned error
// means the run could not produce usable output at all.
func (o *Orchestrator) Run(ctx context.Context, site model.Site, opts Options) (*model.RunManifest, error) {
	ad, err := o.registry.Get(site)
	if err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeFull
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = o.cfg.MaxPages
	}

	manifest := &model.RunManifest{
		RunID:           uuid.New().String(),
		Site:            site,
		Mode:            opts.Mode,
		Started:         time.Now().UTC(),
		RefDataHash:     opts.RefDataHash,
		IntegrityStatus: model.IntegrityUnknown,
		Status:          model.RunStatusRunning,
	}
	if err := o.st.CreateRun(ctx, manifest); err != nil {
		return nil, err
	}

	log := o.log.With(
		zap.String("run_id", manifest.RunID),
		zap.String("site", string(site)),
		zap.String("mode", string(opts.Mode)),
	)
	log.Info("run started", zap.Int("max_pages", opts.MaxPages))

	// Compliance setup: one robots snapshot per domain, fetched before any
	// page request and honored for the whole run.
	domain := ad.Domain()
	snapshot, err := o.policy.Fetch(ctx, domain)
	if err != nil {
		return o.finishRun(ctx, manifest, nil, model.RunStatusFailed)
	}
	if err := o.st.SaveRobotsSnapshot(ctx, snapshot); err != nil {
		log.Warn("robots snapshot not persisted", zap.Error(err))
	}
	manifest.RobotsSnapshotID = snapshot.ID
	o.limiter.SetCrawlDelay(domain, o.policy.CrawlDelay(snapshot))

	if err := o.restoreCache(ctx); err != nil {
		log.Warn("conditional cache not restored", zap.Error(err))
	}

	run := &runContext{
		manifest: manifest,
		adapter:  ad,
		snapshot: snapshot,
		metrics:  monitoring.NewRunMetrics(),
		seen:     newSeenSet(),
		log:      log,
	}

	if snapshot.DenyAll && o.cfg.StrictCompliance {
		log.Warn("robots.txt denies all paths, nothing to crawl",
			zap.String("domain", domain))
		return o.finishRun(ctx, manifest, run, model.RunStatusFailed)
	}

	// Every mode needs discovery output: detail and review phases operate
	// on refs from the current run, never on stale URL lists.
	refs := o.discover(ctx, run, opts.MaxPages)

	var products []*model.Product
	if opts.Mode != model.ModeDiscovery {
		products = o.fetchDetails(ctx, run, refs)
	}

	var reviews []model.Review
	if opts.Mode == model.ModeReviews || opts.Mode == model.ModeFull {
		reviews = o.fetchReviews(ctx, run, products)
	}

	if err := o.recordRaw(ctx, run, products, reviews); err != nil {
		log.Error("raw records not persisted", zap.Error(err))
		run.metrics.Error()
	}
	if err := o.persistCache(ctx); err != nil {
		log.Warn("conditional cache not persisted", zap.Error(err))
	}

	status := model.RunStatusComplete
	_, _, _, _, errs, _ := run.metrics.Totals()
	blocked, _ := o.limiter.Blocked(domain)
	if errs > 0 || blocked {
		status = model.RunStatusPartial
	}
	if blocked && len(products) == 0 && opts.Mode != model.ModeDiscovery {
		status = model.RunStatusFailed
	}
	return o.finishRun(ctx, manifest, run, status)
}

// runContext carries per-run shared state between phases.
type runContext struct {
	manifest *model.RunManifest
	adapter  adapter.Adapter
	snapshot *model.RobotsSnapshot
	metrics  *monitoring.RunMetrics
	seen     *seenSet
	log      *zap.Logger
}

// finishRun fills counters into the manifest and records it.
func (o *Orchestrator) finishRun(ctx context.Context, manifest *model.RunManifest, run *runContext, status model.RunStatus) (*model.RunManifest, error) {
	now := time.Now().UTC()
	manifest.Finished = &now
	manifest.Status = status

	if run != nil {
		fetched, notMod, products, reviews, errs, denied := run.metrics.Totals()
		manifest.PagesFetched = fetched
		manifest.PagesNotModified = notMod
		manifest.ProductsCount = products
		manifest.ReviewsCount = reviews
		manifest.ErrorsCount = errs

		domain := run.adapter.Domain()
		manifest.RateLimitViolations = o.limiter.Violations(domain)
		blocked, reason := o.limiter.Blocked(domain)
		manifest.Compliance = []model.ComplianceManifest{{
			RunID:               manifest.RunID,
			Domain:              domain,
			RobotsSnapshotID:    run.snapshot.ID,
			RobotsETag:          run.snapshot.ETag,
			AllowPaths:          run.snapshot.AllowRules,
			DisallowPaths:       run.snapshot.DisallowRules,
			CrawlDelay:          run.snapshot.CrawlDelay,
			StartTS:             manifest.Started,
			EndTS:               &now,
			TotalRequests:       fetched + notMod,
			BlockedRequests:     denied,
			RateLimitViolations: manifest.RateLimitViolations,
			Blocked:             blocked,
			BlockedReason:       reason,
		}}

		for _, miss := range run.metrics.MissRates() {
			run.log.Info("selector miss rate",
				zap.String("field", miss.Field),
				zap.Int("count", miss.Count),
				zap.Float64("rate", miss.Rate),
			)
		}
	}

	if err := o.st.UpdateRun(ctx, manifest); err != nil {
		return manifest, eris.Wrap(err, "crawl: record run manifest")
	}

	o.log.Info("run finished",
		zap.String("run_id", manifest.RunID),
		zap.String("status", string(status)),
		zap.Int("products", manifest.ProductsCount),
		zap.Int("reviews", manifest.ReviewsCount),
		zap.Int("pages_fetched", manifest.PagesFetched),
		zap.Int("pages_not_modified", manifest.PagesNotModified),
	)
	return manifest, nil
}

// recordRaw appends extracted records to the raw layer, tagged by run and
// site.
func (o *Orchestrator) recordRaw(ctx context.Context, run *runContext, products []*model.Product, reviews []model.Review) error {
	var records []store.RawRecord
	for _, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			return eris.Wrapf(err, "crawl: marshal product %s", p.ProductID)
		}
		records = append(records, store.RawRecord{
			RunID:  run.manifest.RunID,
			Site:   run.manifest.Site,
			Entity: store.EntityProduct,
			Data:   data,
		})
	}
	for i := range reviews {
		data, err := json.Marshal(&reviews[i])
		if err != nil {
			return eris.Wrapf(err, "crawl: marshal review %s", reviews[i].ReviewID)
		}
		records = append(records, store.RawRecord{
			RunID:  run.manifest.RunID,
			Site:   run.manifest.Site,
			Entity: store.EntityReview,
			Data:   data,
		})
	}
	if err := o.st.AppendRaw(ctx, records); err != nil {
		return err
	}
	run.log.Debug("raw records appended",
		zap.Int("records", len(records)),
		zap.String("state", string(stateRecorded)),
	)
	return nil
}

func (o *Orchestrator) restoreCache(ctx context.Context) error {
	entries, err := o.st.LoadCacheEntries(ctx)
	if err != nil {
		return err
	}
	o.cond.Restore(entries)
	return nil
}

func (o *Orchestrator) persistCache(ctx context.Context) error {
	return o.st.SaveCacheEntries(ctx, o.cond.Entries())
}
