package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"oddsharvest/config"
	"oddsharvest/feed"
	"oddsharvest/fetch"
	"oddsharvest/models"
)

// Provider fetches and decodes what the orchestrator needs from the odds site
type Provider interface {
	Listing(ctx context.Context, sport string, day time.Time) ([]feed.ListedFixture, error)
	Fixture(ctx context.Context, fixtureID string, src models.SourceLocator, markets []config.MarketConfig) (*FixtureDocs, error)
}

// FixtureDocs is one crawl's worth of decoded documents. Raw keeps the bodies by kind for archiving.
type FixtureDocs struct {
	Page  *feed.PageInfo
	Score *feed.ScoreFeed
	Feeds []*feed.Feed
	Raw   map[string][]byte
}

// HTTPProvider reads the provider through the resilient fetcher
type HTTPProvider struct {
	fetcher  *fetch.Fetcher
	urls     URLBuilder
	maxTries int
	delay    time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewHTTPProvider(fetcher *fetch.Fetcher, urls URLBuilder, fetchCfg config.FetchConfig, log *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		fetcher:  fetcher,
		urls:     urls,
		maxTries: fetchCfg.MaxTries,
		delay:    fetchCfg.Delay,
		log:      log,
		now:      time.Now,
	}
}

func (p *HTTPProvider) Listing(ctx context.Context, sport string, day time.Time) ([]feed.ListedFixture, error) {
	resp, err := p.fetcher.FetchFirstValidOf(ctx, []string{p.urls.ListingURL(sport, day)}, p.maxTries, p.delay)
	if err != nil {
		return nil, fmt.Errorf("listing %s %s: %w", sport, day.Format("20060102"), err)
	}
	return feed.ParseListing(resp.Body, sport)
}

// Fixture fetches the page (for the signed hashes), the score and one feed per configured market.
// Any fetch or shape failure fails the whole crawl.
func (p *HTTPProvider) Fixture(ctx context.Context, fixtureID string, src models.SourceLocator, markets []config.MarketConfig) (*FixtureDocs, error) {
	docs := &FixtureDocs{Raw: make(map[string][]byte)}

	pageResp, err := p.fetcher.FetchFirstValidOf(ctx, []string{p.urls.PageURL(src)}, p.maxTries, p.delay)
	if err != nil {
		return nil, fmt.Errorf("page: %w", err)
	}
	if docs.Page, err = feed.ParsePage(pageResp.Body); err != nil {
		return nil, fmt.Errorf("page: %w", err)
	}
	hashes := docs.Page.Hashes()

	scoreResp, err := p.fetcher.FetchFirstValidOf(ctx, p.urls.ScoreURLs(fixtureID, hashes, p.now()), p.maxTries, p.delay)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	if docs.Score, err = feed.ParseScore(scoreResp.Body); err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	docs.Raw["score"] = scoreResp.Body
	if docs.Score.StartTime == nil {
		docs.Score.StartTime = docs.Page.StartTime
	}

	for _, m := range markets {
		urls := p.urls.FeedURLs(fixtureID, m.BetType, m.Scope, hashes, p.now())
		batch, err := p.fetcher.FetchFirstValid(ctx, urls, p.maxTries, p.delay)
		resp := batch.FirstValid()
		if resp == nil {
			return nil, fmt.Errorf("feed %d/%d: %w", m.BetType, m.Scope, err)
		}
		if err != nil {
			p.log.Debug("feed partially fetched",
				zap.String("fixture", fixtureID),
				zap.Int("bt", int(m.BetType)),
				zap.Int("sc", int(m.Scope)),
				zap.Error(err),
			)
		}

		f, err := feed.ParseFeed(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("feed %d/%d: %w", m.BetType, m.Scope, err)
		}
		docs.Feeds = append(docs.Feeds, f)
		docs.Raw[fmt.Sprintf("feed-%d-%d", m.BetType, m.Scope)] = resp.Body
	}

	return docs, nil
}
