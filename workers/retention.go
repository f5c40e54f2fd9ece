package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
	"oddsharvest/metrics"
	"oddsharvest/storage"
)

// RetentionWorker prunes odds history ticks older than the retention window
type RetentionWorker struct {
	history   storage.Collection
	retention time.Duration
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
	triggerCh chan struct{}
}

func NewRetentionWorker(history storage.Collection, retention time.Duration, m *metrics.Metrics, log *zap.Logger) *RetentionWorker {
	return &RetentionWorker{
		history:   history,
		retention: retention,
		metrics:   m,
		log:       log,
		now:       time.Now,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately
func (w *RetentionWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *RetentionWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("retention worker stopping")
			return
		case <-ticker.C:
			w.Prune(ctx, batchSize)
		case <-w.triggerCh:
			w.log.Info("retention worker triggered manually")
			w.Prune(ctx, batchSize)
		}
	}
}

// Prune deletes expired ticks in batches until none are left and returns how many went
func (w *RetentionWorker) Prune(ctx context.Context, batchSize int) int64 {
	if w.retention <= 0 {
		return 0
	}
	cutoff := w.now().Add(-w.retention)

	var total int64
	for ctx.Err() == nil {
		ids, err := w.history.IDsBefore(ctx, cutoff, batchSize)
		if err != nil {
			w.log.Error("retention query failed", zap.Error(err))
			break
		}
		if len(ids) == 0 {
			break
		}

		n, err := w.history.DeleteMany(ctx, ids)
		total += n
		if err != nil {
			w.log.Error("retention delete failed", zap.Int("batch", len(ids)), zap.Error(err))
			break
		}
		if n == 0 {
			break
		}
	}

	if total > 0 {
		if w.metrics != nil {
			w.metrics.TicksPruned.Add(float64(total))
		}
		w.log.Info("pruned odds history", zap.Int64("ticks", total), zap.Time("cutoff", cutoff))
	}
	return total
}
