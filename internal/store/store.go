package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/verte-labs/refillery/internal/cache"
	"github.com/verte-labs/refillery/internal/integrity"
	"github.com/verte-labs/refillery/internal/model"
)

// Entity names for the raw layer.
const (
	EntityProduct = "product"
	EntityReview  = "review"
)

// RawRecord is one record in the raw layer, tagged by the run and site that
// collected it. Raw records are append-only; the normalize step merges them
// into the validated layer.
type RawRecord struct {
	RunID     string          `json:"run_id"`
	Site      model.Site      `json:"site"`
	Entity    string          `json:"entity"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunFilter specifies criteria for listing run manifests.
type RunFilter struct {
	Site   model.Site      `json:"site,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the crawl pipeline: run
// manifests, the raw and validated record layers, robots snapshots, the
// conditional-GET cache, and integrity reports.
type Store interface {
	// Run manifests, append-only across runs.
	CreateRun(ctx context.Context, m *model.RunManifest) error
	UpdateRun(ctx context.Context, m *model.RunManifest) error
	GetRun(ctx context.Context, runID string) (*model.RunManifest, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunManifest, error)

	// Raw layer.
	AppendRaw(ctx context.Context, records []RawRecord) error
	LoadRaw(ctx context.Context, entity string) ([]RawRecord, error)

	// Validated layer. Products are versioned by (product_id, scrape_ts);
	// reviews by (review_id, scrape_ts).
	UpsertProducts(ctx context.Context, products []*model.Product) (int, error)
	LoadProducts(ctx context.Context, site model.Site) ([]*model.Product, error)
	UpsertReviews(ctx context.Context, reviews []*model.Review) (int, error)
	LoadReviews(ctx context.Context, site model.Site) ([]*model.Review, error)

	// Robots snapshots, retained for compliance audit.
	SaveRobotsSnapshot(ctx context.Context, snap *model.RobotsSnapshot) error

	// Conditional-GET cache entries, keyed by normalized URL.
	SaveCacheEntries(ctx context.Context, entries []cache.Entry) error
	LoadCacheEntries(ctx context.Context) ([]cache.Entry, error)

	// Integrity reports.
	SaveIntegrityReport(ctx context.Context, runID string, report *integrity.Report) error
	LatestIntegrityReport(ctx context.Context) (*integrity.Report, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
