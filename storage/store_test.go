package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"oddsharvest/models"
)

type testDoc struct {
	ID    string     `json:"id"`
	Value int        `json:"value"`
	At    *time.Time `json:"at"`
}

func (d *testDoc) DocID() string         { return d.ID }
func (d *testDoc) IndexTime() *time.Time { return d.At }

func at(minutes int) *time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
	return &t
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestCollection_CRUD(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := store.Collection(CollectionFixtures)

			if err := c.InsertOne(ctx, &testDoc{ID: "a", Value: 1, At: at(0)}); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := c.InsertOne(ctx, &testDoc{ID: "a", Value: 2}); !errors.Is(err, ErrDuplicateKey) {
				t.Fatalf("expected duplicate key, got %v", err)
			}

			got, err := FindDoc[testDoc](ctx, c, "a")
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got.Value != 1 {
				t.Fatalf("value = %d", got.Value)
			}

			if err := c.ReplaceOne(ctx, &testDoc{ID: "missing"}, false); !errors.Is(err, ErrNotFound) {
				t.Fatalf("replace without upsert: %v", err)
			}
			if err := c.ReplaceOne(ctx, &testDoc{ID: "a", Value: 3, At: at(5)}, false); err != nil {
				t.Fatalf("replace: %v", err)
			}
			if err := c.ReplaceOne(ctx, &testDoc{ID: "b", Value: 4}, true); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			got, _ = FindDoc[testDoc](ctx, c, "a")
			if got.Value != 3 {
				t.Fatalf("replace not applied: %d", got.Value)
			}

			if err := c.DeleteOne(ctx, "a"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := c.FindByID(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			if n, _ := c.Count(ctx); n != 1 {
				t.Fatalf("count = %d", n)
			}

			other := store.Collection(CollectionCompleted)
			if n, _ := other.Count(ctx); n != 0 {
				t.Fatalf("collections leak: %d", n)
			}
		})
	}
}

func TestCollection_FindBeforeOrdersNilFirst(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := store.Collection(CollectionFixtures)
			docs := []Document{
				&testDoc{ID: "late", At: at(30)},
				&testDoc{ID: "due2", At: at(-5)},
				&testDoc{ID: "new"},
				&testDoc{ID: "due1", At: at(-10)},
			}
			if _, err := c.InsertMany(ctx, docs, true); err != nil {
				t.Fatalf("insert many: %v", err)
			}

			got, err := FindDocsBefore[testDoc](ctx, c, *at(0), 0)
			if err != nil {
				t.Fatalf("find before: %v", err)
			}
			want := []string{"new", "due1", "due2"}
			if len(got) != len(want) {
				t.Fatalf("got %d docs, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].ID != want[i] {
					t.Errorf("position %d = %s, want %s", i, got[i].ID, want[i])
				}
			}

			ids, err := c.IDsBefore(ctx, *at(0), 2)
			if err != nil {
				t.Fatalf("ids before: %v", err)
			}
			if len(ids) != 2 || ids[0] != "new" {
				t.Fatalf("ids = %v", ids)
			}
		})
	}
}

func TestCollection_InsertManyUnorderedSwallowsDuplicates(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := store.Collection(CollectionOddsHistory)
			first := []Document{&testDoc{ID: "t1", At: at(0)}, &testDoc{ID: "t2", At: at(1)}}
			if n, err := c.InsertMany(ctx, first, false); err != nil || n != 2 {
				t.Fatalf("first insert: n=%d err=%v", n, err)
			}

			again := []Document{&testDoc{ID: "t1", At: at(0)}, &testDoc{ID: "t3", At: at(2)}, &testDoc{ID: "t2", At: at(1)}}
			n, err := c.InsertMany(ctx, again, false)
			if n != 1 {
				t.Fatalf("inserted %d, want 1", n)
			}
			if !errors.Is(err, ErrDuplicateKey) {
				t.Fatalf("expected duplicate failures, got %v", err)
			}
			if IgnoreDuplicates(err) != nil {
				t.Fatalf("duplicates should be swallowed: %v", IgnoreDuplicates(err))
			}

			ordered := []Document{&testDoc{ID: "t1"}, &testDoc{ID: "t4"}}
			if n, _ := c.InsertMany(ctx, ordered, true); n != 0 {
				t.Fatalf("ordered insert continued past failure: %d", n)
			}

			deleted, err := c.DeleteMany(ctx, []string{"t1", "t2", "nope"})
			if err != nil || deleted != 2 {
				t.Fatalf("delete many: n=%d err=%v", deleted, err)
			}
		})
	}
}

func TestIgnoreDuplicates_KeepsOtherFailures(t *testing.T) {
	boom := errors.New("boom")
	err := &BulkWriteError{Failures: []error{ErrDuplicateKey, boom}}
	rest := IgnoreDuplicates(err)
	if !errors.Is(rest, boom) || errors.Is(rest, ErrDuplicateKey) {
		t.Fatalf("rest = %v", rest)
	}
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			run := &models.SweepRun{ID: "6f1c7a52-8d0e-4c4b-9e58-3b0f4a2d1c11", StartedAt: time.Now().UTC(), Status: models.RunStatusRunning}
			if err := store.CreateRun(ctx, run); err != nil {
				t.Fatalf("create: %v", err)
			}
			finished := time.Now().UTC()
			run.FinishedAt = &finished
			run.Status = models.RunStatusCompleted
			run.FixturesCrawled = 7
			if err := store.UpdateRun(ctx, run); err != nil {
				t.Fatalf("update: %v", err)
			}
			runs, err := store.RecentRuns(ctx, 5)
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(runs) != 1 || runs[0].FixturesCrawled != 7 || runs[0].Status != models.RunStatusCompleted {
				t.Fatalf("runs = %+v", runs)
			}
			if runs[0].FinishedAt == nil {
				t.Fatalf("finished_at not stored")
			}
		})
	}
}
