package oddsmath

import (
	"math"
	"testing"

	"oddsharvest/models"
)

func price(v float64) *float64 {
	return &v
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name          string
		bt            models.BetType
		prices        []*float64
		wantOK        bool
		wantOverround float64
	}{
		{
			name:          "two-way -110/-110",
			bt:            models.BetTypeOverUnder,
			prices:        []*float64{price(1.909), price(1.909)},
			wantOK:        true,
			wantOverround: 2 / 1.909,
		},
		{
			name:          "three-way 1X2",
			bt:            models.BetType1X2,
			prices:        []*float64{price(2.0), price(3.5), price(4.0)},
			wantOK:        true,
			wantOverround: 1/2.0 + 1/3.5 + 1/4.0,
		},
		{
			name:          "double chance halves the book",
			bt:            models.BetTypeDoubleChance,
			prices:        []*float64{price(1.25), price(1.3), price(1.8)},
			wantOK:        true,
			wantOverround: (1/1.25 + 1/1.3 + 1/1.8) / 2,
		},
		{
			name:          "single priced correct score",
			bt:            models.BetTypeCorrectScore,
			prices:        []*float64{price(8.5)},
			wantOK:        true,
			wantOverround: 1 / 8.5,
		},
		{
			name:   "missing draw price",
			bt:     models.BetType1X2,
			prices: []*float64{price(2.0), nil, price(4.0)},
		},
		{
			name:   "short slice",
			bt:     models.BetTypeAsianHandicap,
			prices: []*float64{price(1.9)},
		},
		{
			name:   "price of one is not a price",
			bt:     models.BetTypeHomeAway,
			prices: []*float64{price(1.0), price(1.5)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.bt, tt.prices)
			if got.OK != tt.wantOK {
				t.Fatalf("OK = %v, want %v", got.OK, tt.wantOK)
			}
			if !tt.wantOK {
				if got.Overround != nil || got.Payout != nil || got.TrueOdds != nil {
					t.Fatalf("incomplete book produced derived values: %+v", got)
				}
				return
			}
			if math.Abs(*got.Overround-tt.wantOverround) > 1e-9 {
				t.Errorf("overround = %f, want %f", *got.Overround, tt.wantOverround)
			}
			if math.Abs(*got.Payout-1/tt.wantOverround) > 1e-9 {
				t.Errorf("payout = %f, want %f", *got.Payout, 1/tt.wantOverround)
			}
			if len(got.TrueOdds) != tt.bt.ExpectedPrices() {
				t.Fatalf("true odds len = %d", len(got.TrueOdds))
			}
		})
	}
}

func TestNormalize_TrueOddsRemoveMargin(t *testing.T) {
	got := Normalize(models.BetType1X2, []*float64{price(2.0), price(3.5), price(4.0)})
	sum := 0.0
	for _, o := range got.TrueOdds {
		sum += 1 / *o
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("fair probabilities sum to %f", sum)
	}
}

func TestNormalizeQuotes_IndependentSides(t *testing.T) {
	quotes := []models.OddsQuote{
		{Slot: 1, Opening: models.PriceSnapshot{Odds: price(1.9)}, Closing: models.PriceSnapshot{Odds: price(1.8)}},
		{Slot: 2, Opening: models.PriceSnapshot{Odds: nil}, Closing: models.PriceSnapshot{Odds: price(2.05)}},
	}
	got := NormalizeQuotes(models.BetTypeOverUnder, quotes)
	if got.Opening.OK {
		t.Errorf("opening should be incomplete")
	}
	if !got.Closing.OK {
		t.Fatalf("closing should be complete")
	}
	if *got.Closing.Overround < 1 {
		t.Errorf("overround = %f, want > 1", *got.Closing.Overround)
	}
}

func TestClassifier_Coverage(t *testing.T) {
	c := NewClassifier(map[string]models.BookmakerClass{
		"18":  models.BookmakerSharp,
		"44":  models.BookmakerExchange,
		"392": models.BookmakerBroker,
		"5":   models.BookmakerExcluded,
	})
	cov := c.Coverage([]string{"18", "44", "392", "5", "16", "417"})
	want := models.Coverage{Sharp: 1, Soft: 2, Exchange: 1, Broker: 1, Excluded: 1}
	if cov != want {
		t.Fatalf("coverage = %+v, want %+v", cov, want)
	}

	c.Set("16", models.BookmakerSharp)
	if c.Class("16") != models.BookmakerSharp {
		t.Fatalf("override not applied")
	}
}
