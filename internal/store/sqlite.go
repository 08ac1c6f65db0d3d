package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/verte-labs/refillery/internal/cache"
	"github.com/verte-labs/refillery/internal/integrity"
	"github.com/verte-labs/refillery/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The default driver
// for single-operator crawls.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	site       TEXT NOT NULL,
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	manifest   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS raw_records (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	site       TEXT NOT NULL,
	entity     TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
	product_id TEXT NOT NULL,
	scrape_ts  DATETIME NOT NULL,
	site       TEXT NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (product_id, scrape_ts)
);

CREATE TABLE IF NOT EXISTS reviews (
	review_id TEXT NOT NULL,
	scrape_ts DATETIME NOT NULL,
	site      TEXT NOT NULL,
	data      TEXT NOT NULL,
	PRIMARY KEY (review_id, scrape_ts)
);

CREATE TABLE IF NOT EXISTS robots_snapshots (
	id         TEXT PRIMARY KEY,
	domain     TEXT NOT NULL,
	fetched_at DATETIME NOT NULL,
	data       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS http_cache (
	url           TEXT PRIMARY KEY,
	etag          TEXT,
	last_modified TEXT,
	body_hash     TEXT,
	fetched_at    DATETIME NOT NULL,
	extraction    TEXT
);

CREATE TABLE IF NOT EXISTS integrity_reports (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	status     TEXT NOT NULL,
	report     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, m *model.RunManifest) error {
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal manifest")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, site, mode, status, manifest, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, string(m.Site), string(m.Mode), string(m.Status), string(manifestJSON), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", m.RunID)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, m *model.RunManifest) error {
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal manifest")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, manifest = ?, updated_at = ? WHERE id = ?`,
		string(m.Status), string(manifestJSON), time.Now().UTC(), m.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", m.RunID)
	}
	return checkRowsAffected(res, "run", m.RunID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunManifest, error) {
	var manifestJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT manifest FROM runs WHERE id = ?`, runID,
	).Scan(&manifestJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	var m model.RunManifest
	if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal manifest")
	}
	return &m, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunManifest, error) {
	query := `SELECT manifest FROM runs WHERE 1=1`
	var args []any

	if filter.Site != "" {
		query += ` AND site = ?`
		args = append(args, string(filter.Site))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunManifest
	for rows.Next() {
		var manifestJSON string
		if err := rows.Scan(&manifestJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var m model.RunManifest
		if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal manifest")
		}
		runs = append(runs, m)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) AppendRaw(ctx context.Context, records []RawRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin raw append")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_records (id, run_id, site, entity, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare raw append")
	}
	defer stmt.Close()

	for _, r := range records {
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), r.RunID, string(r.Site), r.Entity, string(r.Data), created,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert raw record")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit raw append")
}

func (s *SQLiteStore) LoadRaw(ctx context.Context, entity string) ([]RawRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, site, entity, data, created_at FROM raw_records WHERE entity = ? ORDER BY created_at`,
		entity,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load raw")
	}
	defer rows.Close()

	var records []RawRecord
	for rows.Next() {
		var r RawRecord
		var site, data string
		if err := rows.Scan(&r.RunID, &site, &r.Entity, &data, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw record")
		}
		r.Site = model.Site(site)
		r.Data = json.RawMessage(data)
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: load raw iterate")
}

func (s *SQLiteStore) UpsertProducts(ctx context.Context, products []*model.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin product upsert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO products (product_id, scrape_ts, site, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT (product_id, scrape_ts) DO UPDATE SET site = excluded.site, data = excluded.data`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare product upsert")
	}
	defer stmt.Close()

	for _, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal product %s", p.ProductID)
		}
		if _, err := stmt.ExecContext(ctx, p.ProductID, p.ScrapeTS.UTC(), string(p.Site), string(data)); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert product %s", p.ProductID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit product upsert")
	}
	return len(products), nil
}

// LoadProducts returns the latest version of each product, optionally
// filtered by site. Pass an empty site for all sites.
func (s *SQLiteStore) LoadProducts(ctx context.Context, site model.Site) ([]*model.Product, error) {
	query := `SELECT data FROM products p
	          WHERE scrape_ts = (SELECT MAX(scrape_ts) FROM products WHERE product_id = p.product_id)`
	var args []any
	if site != "" {
		query += ` AND site = ?`
		args = append(args, string(site))
	}
	query += ` ORDER BY product_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load products")
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		var p model.Product
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal product")
		}
		products = append(products, &p)
	}
	return products, eris.Wrap(rows.Err(), "sqlite: load products iterate")
}

func (s *SQLiteStore) UpsertReviews(ctx context.Context, reviews []*model.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin review upsert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reviews (review_id, scrape_ts, site, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT (review_id, scrape_ts) DO UPDATE SET site = excluded.site, data = excluded.data`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare review upsert")
	}
	defer stmt.Close()

	for _, r := range reviews {
		data, err := json.Marshal(r)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal review %s", r.ReviewID)
		}
		if _, err := stmt.ExecContext(ctx, r.ReviewID, r.ScrapeTS.UTC(), string(r.Site), string(data)); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert review %s", r.ReviewID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit review upsert")
	}
	return len(reviews), nil
}

// LoadReviews returns the latest version of each review, optionally filtered
// by site. Re-crawled reviews must not surface twice: duplicate bodies across
// scrape_ts versions are legitimate, not synthetic.
func (s *SQLiteStore) LoadReviews(ctx context.Context, site model.Site) ([]*model.Review, error) {
	query := `SELECT data FROM reviews r
	          WHERE scrape_ts = (SELECT MAX(scrape_ts) FROM reviews WHERE review_id = r.review_id)`
	var args []any
	if site != "" {
		query += ` AND site = ?`
		args = append(args, string(site))
	}
	query += ` ORDER BY review_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load reviews")
	}
	defer rows.Close()

	var reviews []*model.Review
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review")
		}
		var r model.Review
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal review")
		}
		reviews = append(reviews, &r)
	}
	return reviews, eris.Wrap(rows.Err(), "sqlite: load reviews iterate")
}

func (s *SQLiteStore) SaveRobotsSnapshot(ctx context.Context, snap *model.RobotsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal robots snapshot")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO robots_snapshots (id, domain, fetched_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		snap.ID, snap.Domain, snap.FetchedAt.UTC(), string(data),
	)
	return eris.Wrap(err, "sqlite: save robots snapshot")
}

func (s *SQLiteStore) SaveCacheEntries(ctx context.Context, entries []cache.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin cache save")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO http_cache (url, etag, last_modified, body_hash, fetched_at, extraction) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET
		   etag = excluded.etag, last_modified = excluded.last_modified,
		   body_hash = excluded.body_hash, fetched_at = excluded.fetched_at,
		   extraction = excluded.extraction`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare cache save")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.URL, e.ETag, e.LastModified, e.BodyHash, e.FetchedAt.UTC(), string(e.Extraction),
		); err != nil {
			return eris.Wrapf(err, "sqlite: save cache entry %s", e.URL)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit cache save")
}

func (s *SQLiteStore) LoadCacheEntries(ctx context.Context) ([]cache.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, etag, last_modified, body_hash, fetched_at, extraction FROM http_cache`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load cache entries")
	}
	defer rows.Close()

	var entries []cache.Entry
	for rows.Next() {
		var e cache.Entry
		var etag, lastMod, bodyHash, extraction sql.NullString
		if err := rows.Scan(&e.URL, &etag, &lastMod, &bodyHash, &e.FetchedAt, &extraction); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache entry")
		}
		e.ETag = etag.String
		e.LastModified = lastMod.String
		e.BodyHash = bodyHash.String
		if extraction.Valid {
			e.Extraction = []byte(extraction.String)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: load cache entries iterate")
}

func (s *SQLiteStore) SaveIntegrityReport(ctx context.Context, runID string, report *integrity.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal integrity report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO integrity_reports (id, run_id, status, report, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, string(report.Status), string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save integrity report")
}

func (s *SQLiteStore) LatestIntegrityReport(ctx context.Context) (*integrity.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM integrity_reports ORDER BY created_at DESC LIMIT 1`,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest integrity report")
	}
	var report integrity.Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal integrity report")
	}
	return &report, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
