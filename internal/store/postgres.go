package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/verte-labs/refillery/internal/cache"
	"github.com/verte-labs/refillery/internal/db"
	"github.com/verte-labs/refillery/internal/integrity"
	"github.com/verte-labs/refillery/internal/model"
)

// PostgresStore implements Store using pgxpool. Used when several operators
// share one validated layer.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"insert_run":     `INSERT INTO runs (id, site, mode, status, manifest, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"update_run":     `UPDATE runs SET status = $1, manifest = $2, updated_at = $3 WHERE id = $4`,
	"get_run":        `SELECT manifest FROM runs WHERE id = $1`,
	"save_cache":     `INSERT INTO http_cache (url, etag, last_modified, body_hash, fetched_at, extraction) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (url) DO UPDATE SET etag = $2, last_modified = $3, body_hash = $4, fetched_at = $5, extraction = $6`,
	"save_snapshot":  `INSERT INTO robots_snapshots (id, domain, fetched_at, data) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
	"save_integrity": `INSERT INTO integrity_reports (id, run_id, status, report, created_at) VALUES ($1, $2, $3, $4, $5)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	site       TEXT NOT NULL,
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	manifest   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS raw_records (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	site       TEXT NOT NULL,
	entity     TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	product_id TEXT NOT NULL,
	scrape_ts  TIMESTAMPTZ NOT NULL,
	site       TEXT NOT NULL,
	data       JSONB NOT NULL,
	PRIMARY KEY (product_id, scrape_ts)
);

CREATE TABLE IF NOT EXISTS reviews (
	review_id TEXT NOT NULL,
	scrape_ts TIMESTAMPTZ NOT NULL,
	site      TEXT NOT NULL,
	data      JSONB NOT NULL,
	PRIMARY KEY (review_id, scrape_ts)
);

CREATE TABLE IF NOT EXISTS robots_snapshots (
	id         TEXT PRIMARY KEY,
	domain     TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	data       JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS http_cache (
	url           TEXT PRIMARY KEY,
	etag          TEXT,
	last_modified TEXT,
	body_hash     TEXT,
	fetched_at    TIMESTAMPTZ NOT NULL,
	extraction    JSONB
);

CREATE TABLE IF NOT EXISTS integrity_reports (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL,
	status     TEXT NOT NULL,
	report     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_site ON runs(site);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_raw_records_entity ON raw_records(entity);
CREATE INDEX IF NOT EXISTS idx_raw_records_run_id ON raw_records(run_id);
CREATE INDEX IF NOT EXISTS idx_products_site ON products(site);
CREATE INDEX IF NOT EXISTS idx_reviews_site ON reviews(site);
CREATE INDEX IF NOT EXISTS idx_robots_domain ON robots_snapshots(domain);
CREATE INDEX IF NOT EXISTS idx_integrity_run_id ON integrity_reports(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) CreateRun(ctx context.Context, m *model.RunManifest) error {
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal manifest")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, site, mode, status, manifest, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.RunID, string(m.Site), string(m.Mode), string(m.Status), manifestJSON, now, now,
	)
	return eris.Wrapf(err, "postgres: insert run %s", m.RunID)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, m *model.RunManifest) error {
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal manifest")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, manifest = $2, updated_at = $3 WHERE id = $4`,
		string(m.Status), manifestJSON, time.Now().UTC(), m.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", m.RunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", m.RunID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RunManifest, error) {
	var manifestJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT manifest FROM runs WHERE id = $1`, runID,
	).Scan(&manifestJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("run not found: %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	var m model.RunManifest
	if err := json.Unmarshal(manifestJSON, &m); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal manifest")
	}
	return &m, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunManifest, error) {
	query := `SELECT manifest FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Site != "" {
		query += fmt.Sprintf(` AND site = $%d`, argIdx)
		args = append(args, string(filter.Site))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunManifest
	for rows.Next() {
		var manifestJSON []byte
		if err := rows.Scan(&manifestJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var m model.RunManifest
		if err := json.Unmarshal(manifestJSON, &m); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal manifest")
		}
		runs = append(runs, m)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AppendRaw(ctx context.Context, records []RawRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		rows = append(rows, []any{
			uuid.New().String(), r.RunID, string(r.Site), r.Entity, []byte(r.Data), created,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "raw_records",
		[]string{"id", "run_id", "site", "entity", "data", "created_at"}, rows)
	return eris.Wrap(err, "postgres: append raw")
}

func (s *PostgresStore) LoadRaw(ctx context.Context, entity string) ([]RawRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, site, entity, data, created_at FROM raw_records WHERE entity = $1 ORDER BY created_at`,
		entity,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load raw")
	}
	defer rows.Close()

	var records []RawRecord
	for rows.Next() {
		var r RawRecord
		var site string
		var data []byte
		if err := rows.Scan(&r.RunID, &site, &r.Entity, &data, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw record")
		}
		r.Site = model.Site(site)
		r.Data = json.RawMessage(data)
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: load raw iterate")
}

func (s *PostgresStore) UpsertProducts(ctx context.Context, products []*model.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(products))
	for _, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal product %s", p.ProductID)
		}
		rows = append(rows, []any{p.ProductID, p.ScrapeTS.UTC(), string(p.Site), data})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "products",
		Columns:      []string{"product_id", "scrape_ts", "site", "data"},
		ConflictKeys: []string{"product_id", "scrape_ts"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert products")
	}
	return int(n), nil
}

func (s *PostgresStore) LoadProducts(ctx context.Context, site model.Site) ([]*model.Product, error) {
	query := `SELECT DISTINCT ON (product_id) data FROM products`
	args := []any{}
	if site != "" {
		query += ` WHERE site = $1`
		args = append(args, string(site))
	}
	query += ` ORDER BY product_id, scrape_ts DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load products")
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		var p model.Product
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal product")
		}
		products = append(products, &p)
	}
	return products, eris.Wrap(rows.Err(), "postgres: load products iterate")
}

func (s *PostgresStore) UpsertReviews(ctx context.Context, reviews []*model.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(reviews))
	for _, r := range reviews {
		data, err := json.Marshal(r)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal review %s", r.ReviewID)
		}
		rows = append(rows, []any{r.ReviewID, r.ScrapeTS.UTC(), string(r.Site), data})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "reviews",
		Columns:      []string{"review_id", "scrape_ts", "site", "data"},
		ConflictKeys: []string{"review_id", "scrape_ts"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert reviews")
	}
	return int(n), nil
}

// LoadReviews returns the latest version of each review, optionally filtered
// by site. Re-crawled reviews must not surface twice: duplicate bodies across
// scrape_ts versions are legitimate, not synthetic.
func (s *PostgresStore) LoadReviews(ctx context.Context, site model.Site) ([]*model.Review, error) {
	query := `SELECT DISTINCT ON (review_id) data FROM reviews`
	args := []any{}
	if site != "" {
		query += ` WHERE site = $1`
		args = append(args, string(site))
	}
	query += ` ORDER BY review_id, scrape_ts DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load reviews")
	}
	defer rows.Close()

	var reviews []*model.Review
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		var r model.Review
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal review")
		}
		reviews = append(reviews, &r)
	}
	return reviews, eris.Wrap(rows.Err(), "postgres: load reviews iterate")
}

func (s *PostgresStore) SaveRobotsSnapshot(ctx context.Context, snap *model.RobotsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal robots snapshot")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO robots_snapshots (id, domain, fetched_at, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		snap.ID, snap.Domain, snap.FetchedAt.UTC(), data,
	)
	return eris.Wrap(err, "postgres: save robots snapshot")
}

func (s *PostgresStore) SaveCacheEntries(ctx context.Context, entries []cache.Entry) error {
	for _, e := range entries {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO http_cache (url, etag, last_modified, body_hash, fetched_at, extraction) VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (url) DO UPDATE SET
			   etag = $2, last_modified = $3, body_hash = $4, fetched_at = $5, extraction = $6`,
			e.URL, e.ETag, e.LastModified, e.BodyHash, e.FetchedAt.UTC(), []byte(e.Extraction),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: save cache entry %s", e.URL)
		}
	}
	return nil
}

func (s *PostgresStore) LoadCacheEntries(ctx context.Context) ([]cache.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT url, etag, last_modified, body_hash, fetched_at, extraction FROM http_cache`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load cache entries")
	}
	defer rows.Close()

	var entries []cache.Entry
	for rows.Next() {
		var e cache.Entry
		var etag, lastMod, bodyHash *string
		var extraction []byte
		if err := rows.Scan(&e.URL, &etag, &lastMod, &bodyHash, &e.FetchedAt, &extraction); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache entry")
		}
		if etag != nil {
			e.ETag = *etag
		}
		if lastMod != nil {
			e.LastModified = *lastMod
		}
		if bodyHash != nil {
			e.BodyHash = *bodyHash
		}
		e.Extraction = extraction
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: load cache entries iterate")
}

func (s *PostgresStore) SaveIntegrityReport(ctx context.Context, runID string, report *integrity.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal integrity report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO integrity_reports (id, run_id, status, report, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), runID, string(report.Status), data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save integrity report")
}

func (s *PostgresStore) LatestIntegrityReport(ctx context.Context) (*integrity.Report, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM integrity_reports ORDER BY created_at DESC LIMIT 1`,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest integrity report")
	}
	var report integrity.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal integrity report")
	}
	return &report, nil
}
