package scraper

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"oddsharvest/config"
	"oddsharvest/models"
)

// URLBuilder builds provider URLs. Every feed and score URL carries a
// cache-busting millisecond timestamp.
type URLBuilder struct {
	SiteBase  string
	FeedBase  string
	ScoreBase string
}

func NewURLBuilder(cfg config.ProviderConfig) URLBuilder {
	return URLBuilder{
		SiteBase:  strings.TrimRight(cfg.SiteBaseURL, "/"),
		FeedBase:  strings.TrimRight(cfg.FeedBaseURL, "/"),
		ScoreBase: strings.TrimRight(cfg.ScoreBaseURL, "/"),
	}
}

// FeedURLs returns one URL per hash: {feedBase}/{fixture}-{bt}-{sc}-{hash}?_={ms}
func (b URLBuilder) FeedURLs(fixtureID string, bt models.BetType, sc models.Scope, hashes []string, at time.Time) []string {
	urls := make([]string, 0, len(hashes))
	for _, h := range hashes {
		path := fmt.Sprintf("%s-%d-%d-%s", fixtureID, int(bt), int(sc), url.PathEscape(h))
		urls = append(urls, fmt.Sprintf("%s/%s?_=%d", b.FeedBase, path, at.UnixMilli()))
	}
	return urls
}

// ScoreURLs returns one URL per hash: {scoreBase}/{fixture}-{hash}?_={ms}
func (b URLBuilder) ScoreURLs(fixtureID string, hashes []string, at time.Time) []string {
	urls := make([]string, 0, len(hashes))
	for _, h := range hashes {
		urls = append(urls, fmt.Sprintf("%s/%s-%s?_=%d", b.ScoreBase, fixtureID, url.PathEscape(h), at.UnixMilli()))
	}
	return urls
}

func (b URLBuilder) PageURL(src models.SourceLocator) string {
	return b.SiteBase + src.PagePath
}

// ListingURL is the day listing of a sport: {siteBase}/matches/{sport}/{YYYYMMDD}/
func (b URLBuilder) ListingURL(sport string, day time.Time) string {
	return fmt.Sprintf("%s/matches/%s/%s/", b.SiteBase, url.PathEscape(sport), day.UTC().Format("20060102"))
}
