package services

import (
	"sort"
	"time"

	"go.uber.org/zap"
	"oddsharvest/feed"
	"oddsharvest/identity"
	"oddsharvest/models"
	"oddsharvest/oddsmath"
	"oddsharvest/settlement"
)

// IngestService folds fetched feeds and the score into a fixture's market records
type IngestService struct {
	classifier *oddsmath.Classifier
	log        *zap.Logger
}

// NewIngestService creates a new IngestService
func NewIngestService(classifier *oddsmath.Classifier, log *zap.Logger) *IngestService {
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestService{classifier: classifier, log: log}
}

// IngestResult contains the outcome of ingesting one crawl
type IngestResult struct {
	MarketsSeen    int
	MarketsSettled int
	Unresolvable   int
	Ticks          []models.OddsTick
	// Settled holds the markets that gained a result during this ingest
	Settled []models.MarketRecord
	// DroppedTicks are ids of stored history rows belonging to markets removed as unresolvable
	DroppedTicks []string
}

// Apply merges feeds into fx.Markets, then settles every market when the score is final.
// Markets that can never settle are left out, and markets the final score cannot settle
// are removed along with their quotes and ticks.
// Safe to call repeatedly with the same input: quotes and ticks have deterministic ids.
func (s *IngestService) Apply(fx *models.Fixture, feeds []*feed.Feed, score *models.Score, now time.Time) *IngestResult {
	result := &IngestResult{}
	if score != nil {
		fx.Score = score
	}

	drop := make(map[models.MarketKey]bool)
	idx := fx.MarketIndex()
	for _, f := range feeds {
		for i := range f.Markets {
			m := &f.Markets[i]
			key := models.MarketKey{
				FixtureID:     fx.ID,
				BetType:       f.BetType,
				Scope:         f.Scope,
				IsBack:        m.IsBack,
				AttributeText: identity.NormalizeAttribute(m.AttributeText(f.BetType)),
			}
			result.MarketsSeen++

			desc, ok := s.describe(key)
			if !ok {
				if !drop[key] {
					drop[key] = true
					result.Unresolvable++
				}
				continue
			}

			rec, ok := idx[key]
			if !ok {
				fx.Markets = append(fx.Markets, models.MarketRecord{Key: key})
				idx = fx.MarketIndex()
				rec = idx[key]
			}
			rec.Descriptor = desc

			history := f.History
			if !m.IsBack {
				history = f.LayHistory
			}
			result.Ticks = append(result.Ticks, s.mergeMarket(rec, m, history, now)...)
		}
	}

	if fx.Score != nil && fx.Score.Final {
		for i := range fx.Markets {
			rec := &fx.Markets[i]
			if rec.Result != nil || drop[rec.Key] {
				continue
			}
			res := settlement.Settle(rec.Descriptor, fx.Score.ForScope(rec.Key.Scope), fx.Score.HalfTime())
			if !res.Resolved() {
				drop[rec.Key] = true
				result.Unresolvable++
				s.log.Debug("market unresolvable",
					zap.String("fixture", fx.ID),
					zap.Int("bt", int(rec.Key.BetType)),
					zap.Int("sc", int(rec.Key.Scope)),
					zap.String("attribute", rec.Key.AttributeText),
				)
				continue
			}
			rec.Result = &res
			rec.UpdatedAt = now
			result.MarketsSettled++
			result.Settled = append(result.Settled, *rec)
		}
	}

	if len(drop) > 0 {
		s.dropMarkets(fx, drop, result)
	}
	return result
}

// describe builds the descriptor of key. It reports false for markets no score can settle.
func (s *IngestService) describe(key models.MarketKey) (models.BetDescriptor, bool) {
	desc := models.BetDescriptor{
		BetType:       key.BetType,
		Scope:         key.Scope,
		IsBack:        key.IsBack,
		AttributeText: key.AttributeText,
	}
	values, err := settlement.ParseAttribute(key.BetType, key.AttributeText)
	if err == nil {
		desc.AttributeValues = values
	}
	if err != nil || !settlement.Settleable(desc) {
		s.log.Debug("market cannot settle, skipped",
			zap.String("fixture", key.FixtureID),
			zap.Int("bt", int(key.BetType)),
			zap.String("attribute", key.AttributeText),
			zap.Error(err),
		)
		return desc, false
	}
	return desc, true
}

// dropMarkets removes the dropped markets from fx, filters their ticks out of this
// ingest and lists the ids of ticks earlier crawls may have stored for them.
func (s *IngestService) dropMarkets(fx *models.Fixture, drop map[models.MarketKey]bool, result *IngestResult) {
	quotes := make(map[string]bool)
	seen := make(map[string]bool)
	kept := fx.Markets[:0]
	for _, rec := range fx.Markets {
		if !drop[rec.Key] {
			kept = append(kept, rec)
			continue
		}
		for _, bo := range rec.Books {
			for i := range bo.Quotes {
				q := &bo.Quotes[i]
				quotes[q.ID] = true
				for _, t := range quoteTicks(fx.ID, bo.BookmakerID, q) {
					if !seen[t.ID] {
						seen[t.ID] = true
						result.DroppedTicks = append(result.DroppedTicks, t.ID)
					}
				}
			}
		}
	}
	fx.Markets = kept

	ticks := result.Ticks[:0]
	for _, t := range result.Ticks {
		if !quotes[t.QuoteID] {
			ticks = append(ticks, t)
			continue
		}
		if !seen[t.ID] {
			seen[t.ID] = true
			result.DroppedTicks = append(result.DroppedTicks, t.ID)
		}
	}
	result.Ticks = ticks
}

func (s *IngestService) mergeMarket(rec *models.MarketRecord, m *feed.Market, history map[string]map[string][]feed.HistoryPoint, now time.Time) []models.OddsTick {
	key := rec.Key
	if len(m.OutcomeIDs) > 0 {
		rec.OutcomeIDs = m.OutcomeIDs
	}
	rec.UpdatedAt = now

	books := make(map[string]*models.BookOdds, len(rec.Books))
	for i := range rec.Books {
		books[rec.Books[i].BookmakerID] = &rec.Books[i]
	}

	var ticks []models.OddsTick
	for _, bookID := range m.BookmakerIDs() {
		prices := m.Books[bookID]
		bo, ok := books[bookID]
		if !ok {
			rec.Books = append(rec.Books, models.BookOdds{BookmakerID: bookID})
			bo = &rec.Books[len(rec.Books)-1]
			books = make(map[string]*models.BookOdds, len(rec.Books))
			for i := range rec.Books {
				books[rec.Books[i].BookmakerID] = &rec.Books[i]
			}
		}
		bo.Class = s.classifier.Class(bookID)

		slots := max(len(prices.Odds), len(prices.OpeningOdds))
		for i := 0; i < slots; i++ {
			slot := i + 1
			q := findQuote(bo, slot)
			if q == nil {
				bo.Quotes = append(bo.Quotes, models.OddsQuote{
					ID:   identity.QuoteID(key, bookID, slot),
					Slot: slot,
				})
				q = &bo.Quotes[len(bo.Quotes)-1]
			}

			if q.Opening.Odds == nil {
				q.Opening = snapshot(prices.OpeningOdds, prices.OpeningTime, prices.OpeningVolume, i)
			}
			closing := snapshot(prices.Odds, prices.ChangeTime, prices.Volume, i)
			if closing.Odds != nil && !olderThan(closing.Date, q.Closing.Date) {
				q.Closing = closing
			}

			ticks = append(ticks, quoteTicks(key.FixtureID, bookID, q)...)
			if i < len(m.OutcomeIDs) {
				for _, p := range history[m.OutcomeIDs[i]][bookID] {
					ticks = append(ticks, newTick(key.FixtureID, bookID, q, p.Odds, p.Time, p.Volume))
				}
			}
		}
		sort.Slice(bo.Quotes, func(a, b int) bool { return bo.Quotes[a].Slot < bo.Quotes[b].Slot })
		bo.Normalized = oddsmath.NormalizeQuotes(key.BetType, bo.Quotes)
	}

	sort.Slice(rec.Books, func(a, b int) bool { return rec.Books[a].BookmakerID < rec.Books[b].BookmakerID })
	ids := make([]string, len(rec.Books))
	for i := range rec.Books {
		ids[i] = rec.Books[i].BookmakerID
	}
	rec.Coverage = s.classifier.Coverage(ids)

	return ticks
}

func findQuote(bo *models.BookOdds, slot int) *models.OddsQuote {
	for i := range bo.Quotes {
		if bo.Quotes[i].Slot == slot {
			return &bo.Quotes[i]
		}
	}
	return nil
}

func snapshot(odds []*float64, times []*time.Time, volumes []*int64, i int) models.PriceSnapshot {
	var s models.PriceSnapshot
	if i < len(odds) && odds[i] != nil && *odds[i] > 0 {
		s.Odds = odds[i]
	}
	if i < len(times) {
		s.Date = times[i]
	}
	if i < len(volumes) {
		s.Volume = volumes[i]
	}
	return s
}

// olderThan reports whether a is strictly before b; unknown dates never count as older
func olderThan(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Before(*b)
}

func quoteTicks(fixtureID, bookID string, q *models.OddsQuote) []models.OddsTick {
	var out []models.OddsTick
	for _, snap := range []models.PriceSnapshot{q.Opening, q.Closing} {
		if snap.Odds == nil || snap.Date == nil {
			continue
		}
		out = append(out, newTick(fixtureID, bookID, q, *snap.Odds, *snap.Date, snap.Volume))
	}
	return out
}

func newTick(fixtureID, bookID string, q *models.OddsQuote, odds float64, at time.Time, volume *int64) models.OddsTick {
	return models.OddsTick{
		ID:          identity.TickID(q.ID, at),
		QuoteID:     q.ID,
		FixtureID:   fixtureID,
		Slot:        q.Slot,
		BookmakerID: bookID,
		Odds:        odds,
		Date:        at,
		Volume:      volume,
	}
}
