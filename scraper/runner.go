package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner drives sweeps from a cron spec or a fixed interval
type Runner struct {
	orchestrator *Orchestrator
	cronSpec     string
	interval     time.Duration
	log          *zap.Logger
	cron         *cron.Cron
	cancel       context.CancelFunc
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewRunner prefers cronSpec when both are set
func NewRunner(o *Orchestrator, cronSpec string, interval time.Duration, log *zap.Logger) *Runner {
	return &Runner{
		orchestrator: o,
		cronSpec:     cronSpec,
		interval:     interval,
		log:          log,
		cron:         cron.New(),
		cancel:       func() {},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cronSpec != "" {
		r.log.Info("starting sweeps with cron", zap.String("cron", r.cronSpec))
		_, err := r.cron.AddFunc(r.cronSpec, func() {
			r.sweep(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		r.cron.Start()
		return nil
	}

	if r.interval > 0 {
		r.log.Info("starting sweeps with interval", zap.Duration("interval", r.interval))
		runCtx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.orchestrator.RunForever(runCtx, r.interval); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("interval sweeps stopped", zap.Error(err))
			}
		}()
		return nil
	}

	r.log.Info("no schedule configured, sweeps only run on demand")
	return nil
}

// Stop halts scheduling and waits for the interval loop to return
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		<-r.cron.Stop().Done()
		r.cancel()
	})
	r.wg.Wait()
}

func (r *Runner) sweep(ctx context.Context) {
	if _, err := r.orchestrator.RunOnce(ctx); err != nil {
		r.log.Error("scheduled sweep error", zap.Error(err))
	}
}
