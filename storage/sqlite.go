package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"oddsharvest/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		index_at INTEGER,
		body JSON NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		fixtures_new INTEGER,
		fixtures_due INTEGER,
		fixtures_crawled INTEGER,
		fixtures_complete INTEGER,
		markets_settled INTEGER,
		ticks_inserted INTEGER,
		errors_count INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_documents_index ON documents(collection, index_at);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sweep_runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Collection(name string) Collection {
	return &sqliteCollection{db: s.db, name: name}
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.SweepRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, started_at, status, fixtures_new, fixtures_due, fixtures_crawled,
			fixtures_complete, markets_settled, ticks_inserted, errors_count)
		VALUES (?, ?, ?, 0, 0, 0, 0, 0, 0, 0)`,
		run.ID, run.StartedAt, run.Status)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.SweepRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sweep_runs SET finished_at = ?, status = ?, fixtures_new = ?, fixtures_due = ?,
			fixtures_crawled = ?, fixtures_complete = ?, markets_settled = ?, ticks_inserted = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.FixturesNew, run.FixturesDue, run.FixturesCrawled,
		run.FixturesComplete, run.MarketsSettled, run.TicksInserted, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]models.SweepRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, fixtures_new, fixtures_due, fixtures_crawled,
			fixtures_complete, markets_settled, ticks_inserted, errors_count
		FROM sweep_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SweepRun
	for rows.Next() {
		var r models.SweepRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &r.FixturesNew, &r.FixturesDue,
			&r.FixturesCrawled, &r.FixturesComplete, &r.MarketsSettled, &r.TicksInserted, &r.ErrorsCount); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type sqliteCollection struct {
	db   *sql.DB
	name string
}

func (c *sqliteCollection) Name() string { return c.name }

func (c *sqliteCollection) FindByID(ctx context.Context, id string) ([]byte, error) {
	var body []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, c.name, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return body, err
}

func (c *sqliteCollection) FindBefore(ctx context.Context, before time.Time, limit int) ([][]byte, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT body FROM documents
		WHERE collection = ? AND (index_at IS NULL OR index_at <= ?)
		ORDER BY index_at IS NOT NULL, index_at, id
		LIMIT ?`, c.name, before.UnixMilli(), sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

func (c *sqliteCollection) IDsBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id FROM documents
		WHERE collection = ? AND (index_at IS NULL OR index_at <= ?)
		ORDER BY index_at IS NOT NULL, index_at, id
		LIMIT ?`, c.name, before.UnixMilli(), sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *sqliteCollection) InsertOne(ctx context.Context, doc Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, index_at, body, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (collection, id) DO NOTHING`,
		c.name, doc.DocID(), indexMillis(doc), string(body))
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicateKey
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateKey
	}
	return nil
}

func (c *sqliteCollection) InsertMany(ctx context.Context, docs []Document, ordered bool) (int, error) {
	return insertMany(ctx, docs, ordered, c.InsertOne)
}

func (c *sqliteCollection) ReplaceOne(ctx context.Context, doc Document, upsert bool) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	if upsert {
		_, err = c.db.ExecContext(ctx, `
			INSERT INTO documents (collection, id, index_at, body, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (collection, id) DO UPDATE SET
				index_at = excluded.index_at,
				body = excluded.body,
				updated_at = CURRENT_TIMESTAMP`,
			c.name, doc.DocID(), indexMillis(doc), string(body))
		return err
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE documents SET index_at = ?, body = ?, updated_at = CURRENT_TIMESTAMP
		WHERE collection = ? AND id = ?`,
		indexMillis(doc), string(body), c.name, doc.DocID())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *sqliteCollection) DeleteOne(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, c.name, id)
	return err
}

// sqliteDeleteChunk stays below the default host parameter limit
const sqliteDeleteChunk = 500

func (c *sqliteCollection) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += sqliteDeleteChunk {
		end := min(start+sqliteDeleteChunk, len(ids))
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, c.name)
		for _, id := range chunk {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		res, err := c.db.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id IN (`+placeholders+`)`, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (c *sqliteCollection) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, c.name).Scan(&n)
	return n, err
}

func isSQLiteConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
