package workers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"oddsharvest/metrics"
	"oddsharvest/models"
	"oddsharvest/storage"
)

func TestPrune_RemovesOnlyExpiredTicks(t *testing.T) {
	ctx := context.Background()
	history := storage.NewMemoryStore().Collection(storage.CollectionOddsHistory)
	now := time.Unix(1700000000, 0).UTC()

	var docs []storage.Document
	for i := 0; i < 7; i++ {
		docs = append(docs, &models.OddsTick{
			ID:   fmt.Sprintf("old-%d", i),
			Date: now.Add(-48*time.Hour - time.Duration(i)*time.Minute),
			Odds: 2,
		})
	}
	docs = append(docs, &models.OddsTick{ID: "fresh", Date: now.Add(-time.Hour), Odds: 2})
	if _, err := history.InsertMany(ctx, docs, true); err != nil {
		t.Fatalf("insert: %v", err)
	}

	m := metrics.New(prometheus.NewRegistry())
	w := NewRetentionWorker(history, 24*time.Hour, m, zap.NewNop())
	w.now = func() time.Time { return now }

	if n := w.Prune(ctx, 3); n != 7 {
		t.Fatalf("pruned %d, want 7", n)
	}
	left, _ := history.Count(ctx)
	if left != 1 {
		t.Fatalf("left %d ticks, want 1", left)
	}
	if _, err := history.FindByID(ctx, "fresh"); err != nil {
		t.Fatalf("fresh tick removed: %v", err)
	}
	if got := testutil.ToFloat64(m.TicksPruned); got != 7 {
		t.Fatalf("pruned counter = %v", got)
	}

	if n := w.Prune(ctx, 3); n != 0 {
		t.Fatalf("second prune removed %d", n)
	}
}

func TestPrune_DisabledWithoutRetention(t *testing.T) {
	ctx := context.Background()
	history := storage.NewMemoryStore().Collection(storage.CollectionOddsHistory)
	if err := history.InsertOne(ctx, &models.OddsTick{ID: "t1", Date: time.Unix(0, 0)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	w := NewRetentionWorker(history, 0, nil, zap.NewNop())
	if n := w.Prune(ctx, 10); n != 0 {
		t.Fatalf("pruned %d with retention disabled", n)
	}
}

func TestTrigger_DoesNotBlock(t *testing.T) {
	w := NewRetentionWorker(nil, time.Hour, nil, zap.NewNop())
	w.Trigger()
	w.Trigger()
	if len(w.triggerCh) != 1 {
		t.Fatalf("expected one pending trigger, got %d", len(w.triggerCh))
	}
}
