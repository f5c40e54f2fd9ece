package feed

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"oddsharvest/models"
)

var ErrNoHashes = errors.New("feed: fixture page carries no feed hashes")

// PageInfo is what a fixture page contributes to building feed URLs
type PageInfo struct {
	HashA     string
	HashB     string
	StartTime *time.Time
}

// Hashes returns the non-empty hashes, hashA first
func (p *PageInfo) Hashes() []string {
	var out []string
	for _, h := range []string{p.HashA, p.HashB} {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// ParsePage reads the signed feed hashes off the #event-data element of a fixture page
func ParsePage(body []byte) (*PageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	sel := doc.Find("#event-data").First()
	if sel.Length() == 0 {
		return nil, ErrNoHashes
	}

	info := &PageInfo{
		HashA: decodeAttr(sel, "data-xhash"),
		HashB: decodeAttr(sel, "data-xhashf"),
	}
	if info.HashA == "" && info.HashB == "" {
		return nil, ErrNoHashes
	}
	if v, ok := sel.Attr("data-start"); ok {
		if secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && secs > 0 {
			t := time.Unix(secs, 0).UTC()
			info.StartTime = &t
		}
	}
	return info, nil
}

func decodeAttr(sel *goquery.Selection, name string) string {
	v, ok := sel.Attr(name)
	if !ok {
		return ""
	}
	if decoded, err := url.QueryUnescape(v); err == nil {
		return strings.TrimSpace(decoded)
	}
	return strings.TrimSpace(v)
}

// ListedFixture is one fixture link found on a listing page
type ListedFixture struct {
	ID     string
	Source models.SourceLocator
}

// ParseListing collects fixture links of a sport: anchors whose path is
// /{sport}/{country}/{league}/{slug-id}/. Duplicates keep the first occurrence.
func ParseListing(body []byte, sport string) ([]ListedFixture, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	seen := make(map[string]bool)
	var out []ListedFixture
	doc.Find(fmt.Sprintf(`a[href^="/%s/"]`, sport)).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		lf, ok := parseFixturePath(href, sport)
		if !ok || seen[lf.ID] {
			return
		}
		seen[lf.ID] = true
		out = append(out, lf)
	})
	return out, nil
}

func parseFixturePath(href, sport string) (ListedFixture, bool) {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	parts := strings.Split(strings.Trim(href, "/"), "/")
	if len(parts) != 4 || parts[0] != sport {
		return ListedFixture{}, false
	}

	slug := parts[3]
	dash := strings.LastIndex(slug, "-")
	if dash <= 0 || dash == len(slug)-1 {
		return ListedFixture{}, false
	}
	id := slug[dash+1:]

	return ListedFixture{
		ID: id,
		Source: models.SourceLocator{
			Sport:    sport,
			Country:  parts[1],
			League:   parts[2],
			Slug:     slug[:dash],
			PagePath: "/" + strings.Join(parts, "/") + "/",
		},
	}, true
}
