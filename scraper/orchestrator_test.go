package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"oddsharvest/config"
	"oddsharvest/feed"
	"oddsharvest/fetch"
	"oddsharvest/models"
	"oddsharvest/oddsmath"
	"oddsharvest/publisher"
	"oddsharvest/scheduler"
	"oddsharvest/services"
	"oddsharvest/storage"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

// fakeSite serves the listing, fixture pages, score and feeds of the odds site
type fakeSite struct {
	listing      []byte
	page         []byte
	feed         []byte
	scorePending []byte
	scoreFinal   []byte
	final        atomic.Bool
	scoreStatus  atomic.Int32
}

func newFakeSite(t *testing.T) *fakeSite {
	return &fakeSite{
		listing:      loadFixture(t, "listing_football.html"),
		page:         loadFixture(t, "fixture_page.html"),
		feed:         loadFixture(t, "feed_1x2_lay.json"),
		scorePending: loadFixture(t, "score_pending.json"),
		scoreFinal:   loadFixture(t, "score_final.json"),
	}
}

func (s *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasPrefix(path, "/matches/football/"):
		w.Write(s.listing)
	case strings.HasPrefix(path, "/matches/"):
		w.Write([]byte("<html><body></body></html>"))
	case strings.HasPrefix(path, "/score/"):
		if code := s.scoreStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		if s.final.Load() {
			w.Write(s.scoreFinal)
			return
		}
		w.Write(s.scorePending)
	case strings.HasPrefix(path, "/feed/"):
		w.Write(s.feed)
	default:
		w.Write(s.page)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publisher.MarketSettled
}

func (p *recordingPublisher) Publish(ctx context.Context, events []publisher.MarketSettled) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

type harness struct {
	orch  *Orchestrator
	store *storage.MemoryStore
	site  *fakeSite
	clock time.Time
}

func newHarness(t *testing.T, provider Provider) *harness {
	t.Helper()
	site := newFakeSite(t)
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Provider: config.ProviderConfig{
			SiteBaseURL:  srv.URL,
			FeedBaseURL:  srv.URL + "/feed",
			ScoreBaseURL: srv.URL + "/score",
		},
		Fetch: config.FetchConfig{MaxTries: 2, Delay: time.Millisecond},
		Crawl: config.CrawlConfig{Timeout: 5 * time.Second, Workers: 2, SweepLimit: 50},
		Sports: map[string]*config.SportConfig{
			"football": {ID: "football", Markets: []config.MarketConfig{{BetType: models.BetType1X2, Scope: models.ScopeFullTime}}},
		},
	}

	log := zap.NewNop()
	store := storage.NewMemoryStore()
	sched := scheduler.New(store.Collection(storage.CollectionFixtures), nil, 0)
	if provider == nil {
		fetcher := fetch.New(srv.Client(), log, fetch.WithJitter(func(d time.Duration) time.Duration { return d }))
		provider = NewHTTPProvider(fetcher, NewURLBuilder(cfg.Provider), cfg.Fetch, log)
	}
	ingest := services.NewIngestService(oddsmath.NewClassifier(nil), log)

	h := &harness{
		store: store,
		site:  site,
		clock: time.Unix(1700000000, 0).UTC(),
	}
	h.orch = NewOrchestrator(cfg, store, sched, provider, ingest, log)
	h.orch.now = func() time.Time { return h.clock }
	return h
}

func TestRunOnce_TracksThenCompletes(t *testing.T) {
	h := newHarness(t, nil)
	pub := &recordingPublisher{}
	h.orch.SetSinks(nil, pub, nil, nil)
	ctx := context.Background()

	run, err := h.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if run.FixturesNew != 2 || run.FixturesCrawled != 2 || run.ErrorsCount != 0 {
		t.Fatalf("first sweep = %+v", run)
	}
	if run.TicksInserted == 0 {
		t.Fatalf("expected ticks on first sweep")
	}

	fx, err := storage.FindDoc[models.Fixture](ctx, h.store.Collection(storage.CollectionFixtures), "Ab12Cd34")
	if err != nil {
		t.Fatalf("find fixture: %v", err)
	}
	if fx.Status != models.FixtureStatusTracking || fx.IsCompleted {
		t.Fatalf("status = %s completed=%v", fx.Status, fx.IsCompleted)
	}
	if len(fx.Markets) != 2 {
		t.Fatalf("expected back and lay markets, got %d", len(fx.Markets))
	}
	// kickoff is 10000s away, so the 6h tier applies
	if fx.NextCrawlTime == nil || !fx.NextCrawlTime.Equal(h.clock.Add(time.Hour)) {
		t.Fatalf("next crawl = %v", fx.NextCrawlTime)
	}

	// a second sweep right away finds nothing due
	run, err = h.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("idle sweep: %v", err)
	}
	if run.FixturesNew != 0 || run.FixturesDue != 0 {
		t.Fatalf("idle sweep = %+v", run)
	}

	h.site.final.Store(true)
	h.clock = h.clock.Add(3 * time.Hour)

	run, err = h.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("final sweep: %v", err)
	}
	if run.FixturesComplete != 2 || run.MarketsSettled != 4 {
		t.Fatalf("final sweep = %+v", run)
	}

	active, _ := h.store.Collection(storage.CollectionFixtures).Count(ctx)
	if active != 0 {
		t.Fatalf("expected no active fixtures, got %d", active)
	}
	done, err := storage.FindDoc[models.Fixture](ctx, h.store.Collection(storage.CollectionCompleted), "Ab12Cd34")
	if err != nil {
		t.Fatalf("find completed: %v", err)
	}
	for _, m := range done.Markets {
		if m.Result == nil || m.Result.Outcome == nil || *m.Result.Outcome != 1 {
			t.Fatalf("market %s result = %+v", m.Key, m.Result)
		}
	}
	if len(pub.events) != 4 {
		t.Fatalf("expected 4 settled events, got %d", len(pub.events))
	}

	// completed fixtures are not rediscovered
	h.clock = h.clock.Add(time.Hour)
	run, err = h.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("after completion: %v", err)
	}
	if run.FixturesNew != 0 || run.FixturesDue != 0 {
		t.Fatalf("after completion = %+v", run)
	}
}

func TestRunOnce_FetchFailureBacksOff(t *testing.T) {
	h := newHarness(t, nil)
	h.site.scoreStatus.Store(http.StatusBadGateway)
	ctx := context.Background()

	run, err := h.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if run.ErrorsCount != 2 {
		t.Fatalf("expected both fixtures to fail, got %+v", run)
	}

	fx, err := storage.FindDoc[models.Fixture](ctx, h.store.Collection(storage.CollectionFixtures), "Zx98Yw76")
	if err != nil {
		t.Fatalf("find fixture: %v", err)
	}
	if fx.Status != models.FixtureStatusError || fx.ErrorCount != 1 || fx.LastError == "" {
		t.Fatalf("handle = %+v", fx.FixtureHandle)
	}
	if fx.NextCrawlTime == nil || !fx.NextCrawlTime.Equal(h.clock.Add(time.Hour)) {
		t.Fatalf("next crawl = %v", fx.NextCrawlTime)
	}
	if len(fx.Markets) != 0 {
		t.Fatalf("failed crawl kept %d markets", len(fx.Markets))
	}
	ticks, _ := h.store.Collection(storage.CollectionOddsHistory).Count(ctx)
	if ticks != 0 {
		t.Fatalf("failed crawl wrote %d ticks", ticks)
	}
}

type panickingProvider struct{}

func (panickingProvider) Listing(ctx context.Context, sport string, day time.Time) ([]feed.ListedFixture, error) {
	return []feed.ListedFixture{{ID: "Pp00Qq11", Source: models.SourceLocator{Sport: sport, PagePath: "/football/x/y/a-b-Pp00Qq11/"}}}, nil
}

func (panickingProvider) Fixture(ctx context.Context, fixtureID string, src models.SourceLocator, markets []config.MarketConfig) (*FixtureDocs, error) {
	panic("boom")
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	h := newHarness(t, panickingProvider{})
	ctx := context.Background()

	run, err := h.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if run.ErrorsCount != 1 {
		t.Fatalf("run = %+v", run)
	}
	fx, err := storage.FindDoc[models.Fixture](ctx, h.store.Collection(storage.CollectionFixtures), "Pp00Qq11")
	if err != nil {
		t.Fatalf("find fixture: %v", err)
	}
	if fx.Status != models.FixtureStatusError || !strings.Contains(fx.LastError, "boom") {
		t.Fatalf("handle = %+v", fx.FixtureHandle)
	}
}

type errListingProvider struct{ panickingProvider }

func (errListingProvider) Listing(ctx context.Context, sport string, day time.Time) ([]feed.ListedFixture, error) {
	return nil, errors.New("listing down")
}

func TestRunOnce_SkipsInFlightAndPaused(t *testing.T) {
	h := newHarness(t, errListingProvider{})
	ctx := context.Background()

	sched := scheduler.New(h.store.Collection(storage.CollectionFixtures), nil, 0)
	if _, err := sched.Track(ctx, sched.Discover("Ab12Cd34", models.SourceLocator{Sport: "football"}, h.clock)); err != nil {
		t.Fatalf("track: %v", err)
	}

	if !h.orch.claim("Ab12Cd34") {
		t.Fatalf("claim failed")
	}
	run, err := h.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if run.FixturesDue != 1 || run.FixturesCrawled != 0 {
		t.Fatalf("in-flight fixture was crawled: %+v", run)
	}
	h.orch.release("Ab12Cd34")

	h.orch.Pause()
	run, err = h.orch.RunOnce(ctx)
	if err != nil || run != nil {
		t.Fatalf("paused sweep = %+v, %v", run, err)
	}
	if !h.orch.IsPaused() {
		t.Fatalf("expected paused")
	}
	h.orch.Resume()
	if h.orch.IsPaused() {
		t.Fatalf("expected resumed")
	}
}

// interferingProvider lets a test change the store while the first crawl of a sweep is running
type interferingProvider struct {
	Provider
	mu      sync.Mutex
	calls   map[string]int
	fired   bool
	onFirst func(id string)
}

func (p *interferingProvider) Fixture(ctx context.Context, fixtureID string, src models.SourceLocator, markets []config.MarketConfig) (*FixtureDocs, error) {
	p.mu.Lock()
	p.calls[fixtureID]++
	first := !p.fired
	p.fired = true
	p.mu.Unlock()
	if first {
		p.onFirst(fixtureID)
	}
	return p.Provider.Fixture(ctx, fixtureID, src, markets)
}

func TestRunOnce_RereadsStaleDueFixtures(t *testing.T) {
	other := map[string]string{"Ab12Cd34": "Zx98Yw76", "Zx98Yw76": "Ab12Cd34"}

	tests := []struct {
		name  string
		apply func(t *testing.T, h *harness, id string)
	}{
		{"rescheduled meanwhile", func(t *testing.T, h *harness, id string) {
			ctx := context.Background()
			fixtures := h.store.Collection(storage.CollectionFixtures)
			fx, err := storage.FindDoc[models.Fixture](ctx, fixtures, id)
			if err != nil {
				t.Errorf("find %s: %v", id, err)
				return
			}
			next := h.clock.Add(time.Hour)
			fx.NextCrawlTime = &next
			if err := fixtures.ReplaceOne(ctx, fx, false); err != nil {
				t.Errorf("replace: %v", err)
			}
		}},
		{"completed meanwhile", func(t *testing.T, h *harness, id string) {
			if err := h.store.Collection(storage.CollectionFixtures).DeleteOne(context.Background(), id); err != nil {
				t.Errorf("delete: %v", err)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.orch.cfg.Crawl.Workers = 1
			p := &interferingProvider{Provider: h.orch.provider, calls: make(map[string]int)}
			p.onFirst = func(id string) { tt.apply(t, h, other[id]) }
			h.orch.provider = p

			run, err := h.orch.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("sweep: %v", err)
			}
			if run.FixturesDue != 2 || run.FixturesCrawled != 1 {
				t.Fatalf("run = %+v", run)
			}
			if len(p.calls) != 1 {
				t.Fatalf("provider calls = %v", p.calls)
			}
		})
	}
}

func TestRunForever_StopsOnCancel(t *testing.T) {
	h := newHarness(t, errListingProvider{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.orch.RunForever(ctx, 5*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for {
		runs, err := h.store.RecentRuns(context.Background(), 10)
		if err != nil {
			t.Fatalf("list runs: %v", err)
		}
		if len(runs) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected repeated sweeps, got %d", len(runs))
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunForever did not stop")
	}

	if err := h.orch.RunForever(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestURLBuilder(t *testing.T) {
	b := NewURLBuilder(config.ProviderConfig{
		SiteBaseURL:  "https://site.test/",
		FeedBaseURL:  "https://site.test/feed",
		ScoreBaseURL: "https://site.test/score",
	})
	at := time.UnixMilli(1700000000123)

	feeds := b.FeedURLs("Ab12Cd34", models.BetTypeAsianHandicap, models.ScopeFullTime, []string{"yja4c", "yjb7d"}, at)
	if len(feeds) != 2 || feeds[0] != "https://site.test/feed/Ab12Cd34-5-2-yja4c?_=1700000000123" {
		t.Fatalf("feed urls = %v", feeds)
	}
	scores := b.ScoreURLs("Ab12Cd34", []string{"yjb7d"}, at)
	if scores[0] != "https://site.test/score/Ab12Cd34-yjb7d?_=1700000000123" {
		t.Fatalf("score urls = %v", scores)
	}
	if got := b.ListingURL("football", time.Date(2026, 3, 7, 22, 0, 0, 0, time.UTC)); got != "https://site.test/matches/football/20260307/" {
		t.Fatalf("listing url = %s", got)
	}
	if got := b.PageURL(models.SourceLocator{PagePath: "/football/a/b/c-Ab12Cd34/"}); got != "https://site.test/football/a/b/c-Ab12Cd34/" {
		t.Fatalf("page url = %s", got)
	}
}

func TestRunner_IntervalAndStop(t *testing.T) {
	h := newHarness(t, errListingProvider{})
	r := NewRunner(h.orch, "", 5*time.Millisecond, zap.NewNop())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		runs, _ := h.store.RecentRuns(context.Background(), 10)
		if len(runs) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected interval sweeps, got %d", len(runs))
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return")
	}

	if err := NewRunner(h.orch, "not a cron", 0, zap.NewNop()).Start(context.Background()); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}
