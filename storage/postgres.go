package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"oddsharvest/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		index_at TIMESTAMPTZ,
		body JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS sweep_runs (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		status TEXT,
		fixtures_new INTEGER DEFAULT 0,
		fixtures_due INTEGER DEFAULT 0,
		fixtures_crawled INTEGER DEFAULT 0,
		fixtures_complete INTEGER DEFAULT 0,
		markets_settled INTEGER DEFAULT 0,
		ticks_inserted INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_documents_index ON documents(collection, index_at NULLS FIRST);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sweep_runs(started_at);
	`)
	return err
}

func (s *PostgresStore) Collection(name string) Collection {
	return &pgCollection{pool: s.pool, name: name}
}

// =============================================================================
// Sweep runs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.SweepRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sweep_runs (id, started_at, status) VALUES ($1, $2, $3)`,
		run.ID, run.StartedAt, run.Status)
	return err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.SweepRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sweep_runs SET finished_at = $2, status = $3, fixtures_new = $4, fixtures_due = $5,
			fixtures_crawled = $6, fixtures_complete = $7, markets_settled = $8, ticks_inserted = $9, errors_count = $10
		WHERE id = $1`,
		run.ID, run.FinishedAt, run.Status, run.FixturesNew, run.FixturesDue, run.FixturesCrawled,
		run.FixturesComplete, run.MarketsSettled, run.TicksInserted, run.ErrorsCount)
	return err
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]models.SweepRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, started_at, finished_at, status, fixtures_new, fixtures_due, fixtures_crawled,
			fixtures_complete, markets_settled, ticks_inserted, errors_count
		FROM sweep_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SweepRun
	for rows.Next() {
		var r models.SweepRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.FixturesNew, &r.FixturesDue,
			&r.FixturesCrawled, &r.FixturesComplete, &r.MarketsSettled, &r.TicksInserted, &r.ErrorsCount); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// Documents
// =============================================================================

type pgCollection struct {
	pool *pgxpool.Pool
	name string
}

func (c *pgCollection) Name() string { return c.name }

func (c *pgCollection) FindByID(ctx context.Context, id string) ([]byte, error) {
	var body []byte
	err := c.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2`, c.name, id).Scan(&body)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return body, err
}

func (c *pgCollection) FindBefore(ctx context.Context, before time.Time, limit int) ([][]byte, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT body FROM documents
		WHERE collection = $1 AND (index_at IS NULL OR index_at <= $2)
		ORDER BY index_at NULLS FIRST, id
		LIMIT $3`, c.name, before, pgLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[[]byte])
}

func (c *pgCollection) IDsBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id FROM documents
		WHERE collection = $1 AND (index_at IS NULL OR index_at <= $2)
		ORDER BY index_at NULLS FIRST, id
		LIMIT $3`, c.name, before, pgLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (c *pgCollection) InsertOne(ctx context.Context, doc Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, index_at, body, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (collection, id) DO NOTHING`,
		c.name, doc.DocID(), doc.IndexTime(), body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateKey
	}
	return nil
}

func (c *pgCollection) InsertMany(ctx context.Context, docs []Document, ordered bool) (int, error) {
	return insertMany(ctx, docs, ordered, c.InsertOne)
}

func (c *pgCollection) ReplaceOne(ctx context.Context, doc Document, upsert bool) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	if upsert {
		_, err = c.pool.Exec(ctx, `
			INSERT INTO documents (collection, id, index_at, body, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (collection, id) DO UPDATE SET
				index_at = EXCLUDED.index_at,
				body = EXCLUDED.body,
				updated_at = NOW()`,
			c.name, doc.DocID(), doc.IndexTime(), body)
		return err
	}

	tag, err := c.pool.Exec(ctx, `
		UPDATE documents SET index_at = $3, body = $4, updated_at = NOW()
		WHERE collection = $1 AND id = $2`,
		c.name, doc.DocID(), doc.IndexTime(), body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *pgCollection) DeleteOne(ctx context.Context, id string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, c.name, id)
	return err
}

func (c *pgCollection) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := c.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = ANY($2)`, c.name, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgCollection) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE collection = $1`, c.name).Scan(&n)
	return n, err
}

func pgLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
