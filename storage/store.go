package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"oddsharvest/models"
)

const (
	CollectionFixtures    = "fixtures"
	CollectionCompleted   = "completed_fixtures"
	CollectionOddsHistory = "odds_history"
)

var (
	ErrNotFound     = errors.New("storage: document not found")
	ErrDuplicateKey = errors.New("storage: duplicate key")
)

// Document is anything stored in a collection. IndexTime feeds the indexed
// time column; nil sorts first and counts as due.
type Document interface {
	DocID() string
	IndexTime() *time.Time
}

// Collection is the narrow document-store contract the crawler relies on.
// Bodies are JSON; see FindDoc and FindDocsBefore for typed reads.
type Collection interface {
	Name() string
	FindByID(ctx context.Context, id string) ([]byte, error)
	// FindBefore returns bodies whose index time is nil or <= before, oldest first
	FindBefore(ctx context.Context, before time.Time, limit int) ([][]byte, error)
	IDsBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
	InsertOne(ctx context.Context, doc Document) error
	// InsertMany returns how many documents were written. With ordered it stops at
	// the first failure; otherwise it attempts every document and reports failures
	// in a *BulkWriteError.
	InsertMany(ctx context.Context, docs []Document, ordered bool) (int, error)
	ReplaceOne(ctx context.Context, doc Document, upsert bool) error
	DeleteOne(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// RunStore keeps the sweep history
type RunStore interface {
	CreateRun(ctx context.Context, run *models.SweepRun) error
	UpdateRun(ctx context.Context, run *models.SweepRun) error
	RecentRuns(ctx context.Context, limit int) ([]models.SweepRun, error)
}

// Store is a backend holding the named collections and the run history
type Store interface {
	RunStore
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close() error
}

// BulkWriteError collects the per-document failures of an InsertMany
type BulkWriteError struct {
	Inserted int
	Failures []error
}

func (e *BulkWriteError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("bulk write: %d inserted, %d failed: %s", e.Inserted, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *BulkWriteError) Unwrap() []error {
	return e.Failures
}

// IgnoreDuplicates drops duplicate-key failures. It returns nil when nothing else failed.
func IgnoreDuplicates(err error) error {
	if err == nil {
		return nil
	}
	var bulk *BulkWriteError
	if errors.As(err, &bulk) {
		var rest []error
		for _, f := range bulk.Failures {
			if !errors.Is(f, ErrDuplicateKey) {
				rest = append(rest, f)
			}
		}
		if len(rest) == 0 {
			return nil
		}
		return &BulkWriteError{Inserted: bulk.Inserted, Failures: rest}
	}
	if errors.Is(err, ErrDuplicateKey) {
		return nil
	}
	return err
}

// FindDoc decodes one document into T
func FindDoc[T any](ctx context.Context, c Collection, id string) (*T, error) {
	body, err := c.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var doc T
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", c.Name(), id, err)
	}
	return &doc, nil
}

// FindDocsBefore decodes the FindBefore result into T
func FindDocsBefore[T any](ctx context.Context, c Collection, before time.Time, limit int) ([]T, error) {
	bodies, err := c.FindBefore(ctx, before, limit)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(bodies))
	for _, body := range bodies {
		var doc T
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.Name(), err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func encode(doc Document) ([]byte, error) {
	if doc.DocID() == "" {
		return nil, errors.New("storage: document has no id")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", doc.DocID(), err)
	}
	return body, nil
}

// insertMany runs the shared ordered/unordered bookkeeping over a per-document insert
func insertMany(ctx context.Context, docs []Document, ordered bool, insert func(context.Context, Document) error) (int, error) {
	inserted := 0
	var failures []error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		if err := insert(ctx, doc); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", doc.DocID(), err))
			if ordered {
				break
			}
			continue
		}
		inserted++
	}
	if len(failures) > 0 {
		return inserted, &BulkWriteError{Inserted: inserted, Failures: failures}
	}
	return inserted, nil
}

func indexMillis(doc Document) *int64 {
	t := doc.IndexTime()
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
