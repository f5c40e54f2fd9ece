package oddsmath

import (
	"oddsharvest/models"
)

// Normalize computes the overround and payout of one snapshot of a book.
// prices is indexed by outcome slot; nil (or a price of 1.0 or less) is a missing price.
//
// A book is only normalized when every expected slot is priced. Partial books are
// never extrapolated: OK is false and all derived fields stay nil.
//
// Double Chance books sum to roughly 200% because each outcome is covered twice,
// so their overround is halved.
func Normalize(bt models.BetType, prices []*float64) models.NormalizedOdds {
	expected := bt.ExpectedPrices()

	count := 0
	for i := 0; i < len(prices) && i < expected; i++ {
		if valid(prices[i]) {
			count++
		}
	}
	if count != expected {
		return models.NormalizedOdds{}
	}

	overround := 0.0
	for i := 0; i < expected; i++ {
		overround += 1 / *prices[i]
	}
	if bt == models.BetTypeDoubleChance {
		overround /= 2
	}
	payout := 1 / overround

	trueOdds := make([]*float64, expected)
	for i := 0; i < expected; i++ {
		v := *prices[i] * overround
		trueOdds[i] = &v
	}

	return models.NormalizedOdds{
		OK:        true,
		Overround: &overround,
		Payout:    &payout,
		TrueOdds:  trueOdds,
	}
}

// NormalizeQuotes runs Normalize independently over the opening and closing prices
func NormalizeQuotes(bt models.BetType, quotes []models.OddsQuote) models.NormalizedMarketOdds {
	n := bt.ExpectedPrices()
	opening := make([]*float64, n)
	closing := make([]*float64, n)
	for _, q := range quotes {
		if q.Slot < 1 || q.Slot > n {
			continue
		}
		opening[q.Slot-1] = q.Opening.Odds
		closing[q.Slot-1] = q.Closing.Odds
	}
	return models.NormalizedMarketOdds{
		Opening: Normalize(bt, opening),
		Closing: Normalize(bt, closing),
	}
}

func valid(p *float64) bool {
	return p != nil && *p > 1
}
