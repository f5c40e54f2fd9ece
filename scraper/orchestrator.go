package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"oddsharvest/cache"
	"oddsharvest/config"
	"oddsharvest/metrics"
	"oddsharvest/models"
	"oddsharvest/publisher"
	"oddsharvest/scheduler"
	"oddsharvest/services"
	"oddsharvest/storage"
)

// OddsCache receives the latest normalized odds of a fixture after every crawl
type OddsCache interface {
	SetOdds(ctx context.Context, v cache.FixtureOdds) error
	Evict(ctx context.Context, fixtureID string) error
}

// EventPublisher receives the markets settled when a fixture completes
type EventPublisher interface {
	Publish(ctx context.Context, events []publisher.MarketSettled) error
}

// PayloadArchive keeps the raw provider bodies of a crawl
type PayloadArchive interface {
	ArchivePayload(ctx context.Context, fixtureID, kind string, at time.Time, body []byte) error
}

var defaultMarkets = []config.MarketConfig{{BetType: models.BetType1X2, Scope: models.ScopeFullTime}}

type Orchestrator struct {
	cfg       *config.Config
	store     storage.Store
	fixtures  storage.Collection
	completed storage.Collection
	history   storage.Collection
	sched     *scheduler.Scheduler
	provider  Provider
	ingest    *services.IngestService
	log       *zap.Logger
	now       func() time.Time

	// optional sinks
	cache     OddsCache
	publisher EventPublisher
	archive   PayloadArchive
	metrics   *metrics.Metrics

	paused atomic.Bool

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewOrchestrator(cfg *config.Config, store storage.Store, sched *scheduler.Scheduler, provider Provider, ingest *services.IngestService, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		fixtures:  store.Collection(storage.CollectionFixtures),
		completed: store.Collection(storage.CollectionCompleted),
		history:   store.Collection(storage.CollectionOddsHistory),
		sched:     sched,
		provider:  provider,
		ingest:    ingest,
		log:       log,
		now:       time.Now,
		inFlight:  make(map[string]struct{}),
	}
}

// SetSinks injects the optional cache, event publisher, payload archive and metrics. Any may be nil.
func (o *Orchestrator) SetSinks(c OddsCache, p EventPublisher, a PayloadArchive, m *metrics.Metrics) {
	o.cache = c
	o.publisher = p
	o.archive = a
	o.metrics = m
}

// crawlResult is what one fixture crawl contributes to the sweep totals
type crawlResult struct {
	status    models.FixtureStatus
	completed bool
	settled   int
	ticks     int
	err       error
}

// RunOnce runs one sweep: discovery, then a crawl of every due fixture.
// It returns nil without a run record while paused.
func (o *Orchestrator) RunOnce(ctx context.Context) (*models.SweepRun, error) {
	if o.paused.Load() {
		o.log.Info("crawler is paused, skipping sweep")
		return nil, nil
	}

	started := o.now()
	run := &models.SweepRun{
		ID:        uuid.NewString(),
		StartedAt: started,
		Status:    models.RunStatusRunning,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.log.Warn("failed to create run record", zap.Error(err))
	}

	defer func() {
		finished := o.now()
		run.FinishedAt = &finished
		if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
			o.log.Warn("failed to update run record", zap.String("run", run.ID), zap.Error(err))
		}
		if o.metrics != nil {
			o.metrics.SweepDuration.Observe(finished.Sub(started).Seconds())
		}
	}()

	added, err := o.Discover(ctx)
	if err != nil {
		o.log.Warn("discovery incomplete", zap.Error(err))
	}
	run.FixturesNew = added

	due, err := o.sched.DueFixtures(ctx, o.now(), o.cfg.Crawl.SweepLimit)
	if err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorsCount++
		return run, err
	}
	run.FixturesDue = len(due)
	if o.metrics != nil {
		o.metrics.FixturesDue.Set(float64(len(due)))
	}

	workers := o.cfg.Crawl.Workers
	if workers <= 0 {
		workers = 1
	}

	var (
		g     errgroup.Group
		totMu sync.Mutex
	)
	g.SetLimit(workers)

	for i := range due {
		fx := due[i]
		if !o.claim(fx.ID) {
			o.log.Debug("fixture already in flight", zap.String("fixture", fx.ID))
			continue
		}
		g.Go(func() error {
			defer o.release(fx.ID)
			current, ok := o.reload(ctx, fx.ID)
			if !ok {
				return nil
			}
			res := o.crawlFixture(ctx, *current)

			totMu.Lock()
			defer totMu.Unlock()
			run.FixturesCrawled++
			run.MarketsSettled += res.settled
			run.TicksInserted += res.ticks
			if res.completed {
				run.FixturesComplete++
			}
			if res.err != nil {
				run.ErrorsCount++
			}
			return nil
		})
	}
	_ = g.Wait()

	run.Status = models.RunStatusCompleted
	o.log.Info("sweep finished",
		zap.String("run", run.ID),
		zap.Int("new", run.FixturesNew),
		zap.Int("due", run.FixturesDue),
		zap.Int("crawled", run.FixturesCrawled),
		zap.Int("completed", run.FixturesComplete),
		zap.Int("settled", run.MarketsSettled),
		zap.Int("ticks", run.TicksInserted),
		zap.Int("errors", run.ErrorsCount),
	)
	return run, nil
}

// RunForever sweeps immediately and then every interval until ctx is done
func (o *Orchestrator) RunForever(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.RunOnce(ctx); err != nil {
			o.log.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Discover reads the listing pages of every configured sport and tracks fixtures not seen before.
// Listing failures are collected and do not stop the other listings.
func (o *Orchestrator) Discover(ctx context.Context) (int, error) {
	sports := make([]string, 0, len(o.cfg.Sports))
	for id := range o.cfg.Sports {
		sports = append(sports, id)
	}
	sort.Strings(sports)

	now := o.now()
	added := 0
	var errs []error
	for _, sport := range sports {
		days := o.cfg.Sports[sport].DaysAhead
		for d := 0; d <= days; d++ {
			listed, err := o.provider.Listing(ctx, sport, now.AddDate(0, 0, d))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			for _, lf := range listed {
				if _, err := o.completed.FindByID(ctx, lf.ID); err == nil {
					continue
				}
				ok, err := o.sched.Track(ctx, o.sched.Discover(lf.ID, lf.Source, now))
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if ok {
					added++
				}
			}
		}
	}

	if added > 0 {
		o.log.Info("discovered fixtures", zap.Int("added", added))
	}
	return added, errors.Join(errs...)
}

// crawlFixture fetches, ingests and persists one fixture. Every failure, panics included,
// ends up as handle state so the sweep carries on.
func (o *Orchestrator) crawlFixture(ctx context.Context, fx models.Fixture) (res crawlResult) {
	log := o.log.With(zap.String("fixture", fx.ID))

	defer func() {
		if r := recover(); r != nil {
			res = o.fail(ctx, fx, fmt.Errorf("panic: %v", r), log)
		}
		if o.metrics != nil {
			o.metrics.Crawls.WithLabelValues(string(res.status)).Inc()
			o.metrics.MarketsSettled.Add(float64(res.settled))
			o.metrics.TicksInserted.Add(float64(res.ticks))
		}
	}()

	crawlCtx := ctx
	if o.cfg.Crawl.Timeout > 0 {
		var cancel context.CancelFunc
		crawlCtx, cancel = context.WithTimeout(ctx, o.cfg.Crawl.Timeout)
		defer cancel()
	}

	docs, err := o.provider.Fixture(crawlCtx, fx.ID, fx.Source, o.marketsFor(fx.Source.Sport))
	if err != nil {
		return o.fail(ctx, fx, err, log)
	}

	work, err := cloneFixture(fx)
	if err != nil {
		return o.fail(ctx, fx, err, log)
	}

	now := o.now()
	ingested := o.ingest.Apply(work, docs.Feeds, &docs.Score.Score, now)

	inserted, err := o.insertTicks(ctx, ingested.Ticks)
	if err != nil {
		return o.fail(ctx, fx, err, log)
	}
	if len(ingested.DroppedTicks) > 0 {
		if _, err := o.history.DeleteMany(ctx, ingested.DroppedTicks); err != nil {
			return o.fail(ctx, fx, fmt.Errorf("drop unresolvable ticks: %w", err), log)
		}
	}

	o.sched.Record(&work.FixtureHandle, scheduler.Outcome{Final: docs.Score.Score.Final, StartTime: docs.Score.StartTime}, now)

	if work.IsCompleted {
		if err := o.complete(ctx, work); err != nil {
			return o.fail(ctx, fx, err, log)
		}
	} else if err := o.fixtures.ReplaceOne(ctx, work, true); err != nil {
		return o.fail(ctx, fx, err, log)
	}

	o.afterCrawl(ctx, work, ingested, docs, now, log)

	log.Debug("fixture crawled",
		zap.String("status", string(work.Status)),
		zap.Int("markets", ingested.MarketsSeen),
		zap.Int("settled", ingested.MarketsSettled),
		zap.Int("unresolvable", ingested.Unresolvable),
		zap.Int("ticks", inserted),
	)
	return crawlResult{
		status:    work.Status,
		completed: work.IsCompleted,
		settled:   ingested.MarketsSettled,
		ticks:     inserted,
	}
}

// fail records err on the stored handle. Markets from the failed attempt are not kept.
func (o *Orchestrator) fail(ctx context.Context, fx models.Fixture, err error, log *zap.Logger) crawlResult {
	o.sched.Record(&fx.FixtureHandle, scheduler.Outcome{Err: err}, o.now())
	log.Warn("fixture crawl failed", zap.Int("error_count", fx.ErrorCount), zap.Error(err))

	if perr := o.fixtures.ReplaceOne(context.WithoutCancel(ctx), &fx, true); perr != nil {
		log.Error("failed to persist fixture error state", zap.Error(perr))
	}
	return crawlResult{status: fx.Status, err: err}
}

// complete moves a finished fixture to the completed collection. Safe to repeat.
func (o *Orchestrator) complete(ctx context.Context, fx *models.Fixture) error {
	if err := o.completed.ReplaceOne(ctx, fx, true); err != nil {
		return fmt.Errorf("store completed: %w", err)
	}
	if err := o.fixtures.DeleteOne(ctx, fx.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("remove active: %w", err)
	}
	return nil
}

// insertTicks writes ticks unordered; ticks already stored are not an error
func (o *Orchestrator) insertTicks(ctx context.Context, ticks []models.OddsTick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	docs := make([]storage.Document, len(ticks))
	for i := range ticks {
		docs[i] = &ticks[i]
	}
	n, err := o.history.InsertMany(ctx, docs, false)
	if err := storage.IgnoreDuplicates(err); err != nil {
		return n, fmt.Errorf("insert ticks: %w", err)
	}
	return n, nil
}

// afterCrawl feeds the optional sinks. Their failures are logged only.
func (o *Orchestrator) afterCrawl(ctx context.Context, fx *models.Fixture, ingested *services.IngestResult, docs *FixtureDocs, now time.Time, log *zap.Logger) {
	if o.archive != nil {
		kinds := make([]string, 0, len(docs.Raw))
		for kind := range docs.Raw {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			if err := o.archive.ArchivePayload(ctx, fx.ID, kind, now, docs.Raw[kind]); err != nil {
				log.Warn("failed to archive payload", zap.String("kind", kind), zap.Error(err))
			}
		}
	}

	if o.cache != nil {
		if err := o.cache.SetOdds(ctx, cache.FromFixture(fx, now)); err != nil {
			log.Warn("failed to cache odds", zap.Error(err))
		}
	}

	if o.publisher != nil && len(ingested.Settled) > 0 {
		events := make([]publisher.MarketSettled, 0, len(ingested.Settled))
		for _, rec := range ingested.Settled {
			events = append(events, publisher.NewMarketSettled(fx, rec, now))
		}
		if err := o.publisher.Publish(ctx, events); err != nil {
			log.Warn("failed to publish settled markets", zap.Error(err))
		}
	}
}

func (o *Orchestrator) marketsFor(sport string) []config.MarketConfig {
	if sc, ok := o.cfg.Sports[sport]; ok && len(sc.Markets) > 0 {
		return sc.Markets
	}
	return defaultMarkets
}

// reload re-reads a claimed fixture. The due list can be stale by the time a worker
// frees up: another sweep may have crawled, rescheduled or completed it meanwhile.
func (o *Orchestrator) reload(ctx context.Context, id string) (*models.Fixture, bool) {
	fx, err := storage.FindDoc[models.Fixture](ctx, o.fixtures, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.log.Warn("failed to reload fixture", zap.String("fixture", id), zap.Error(err))
		}
		return nil, false
	}
	if fx.IsCompleted || (fx.NextCrawlTime != nil && fx.NextCrawlTime.After(o.now())) {
		o.log.Debug("fixture no longer due", zap.String("fixture", id))
		return nil, false
	}
	return fx, true
}

func (o *Orchestrator) claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[id]; busy {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inFlight, id)
	o.mu.Unlock()
}

func (o *Orchestrator) Pause() {
	o.paused.Store(true)
	o.log.Info("crawler paused")
}

func (o *Orchestrator) Resume() {
	o.paused.Store(false)
	o.log.Info("crawler resumed")
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) MarshalStatus() ([]byte, error) {
	o.mu.Lock()
	inFlight := len(o.inFlight)
	o.mu.Unlock()

	sports := make([]string, 0, len(o.cfg.Sports))
	for id := range o.cfg.Sports {
		sports = append(sports, id)
	}
	sort.Strings(sports)

	status := map[string]interface{}{
		"paused":    o.paused.Load(),
		"sports":    sports,
		"in_flight": inFlight,
	}
	return json.Marshal(status)
}

// cloneFixture deep-copies fx so a failed crawl leaves the stored markets untouched
func cloneFixture(fx models.Fixture) (*models.Fixture, error) {
	b, err := json.Marshal(&fx)
	if err != nil {
		return nil, err
	}
	var out models.Fixture
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
