package models

import (
	"fmt"
	"time"
)

// BetType uses the provider's numbering
type BetType int

const (
	BetType1X2              BetType = 1
	BetTypeOverUnder        BetType = 2
	BetTypeHomeAway         BetType = 3
	BetTypeDoubleChance     BetType = 4
	BetTypeAsianHandicap    BetType = 5
	BetTypeDrawNoBet        BetType = 6
	BetTypeCorrectScore     BetType = 8
	BetTypeHalfTimeFullTime BetType = 9
	BetTypeOddEven          BetType = 10
	BetTypeEuropeanHandicap BetType = 12
	BetTypeBothTeamsScore   BetType = 13
)

var betTypeNames = map[BetType]string{
	BetType1X2:              "1X2",
	BetTypeOverUnder:        "Over/Under",
	BetTypeHomeAway:         "Home/Away",
	BetTypeDoubleChance:     "Double Chance",
	BetTypeAsianHandicap:    "Asian Handicap",
	BetTypeDrawNoBet:        "Draw No Bet",
	BetTypeCorrectScore:     "Correct Score",
	BetTypeHalfTimeFullTime: "Half Time/Full Time",
	BetTypeOddEven:          "Odd/Even",
	BetTypeEuropeanHandicap: "European Handicap",
	BetTypeBothTeamsScore:   "Both Teams to Score",
}

func (b BetType) String() string {
	if name, ok := betTypeNames[b]; ok {
		return name
	}
	return fmt.Sprintf("bt%d", int(b))
}

// Slots is the length of the win vector a settled market carries
func (b BetType) Slots() int {
	switch b {
	case BetType1X2, BetTypeDoubleChance, BetTypeEuropeanHandicap:
		return 3
	default:
		return 2
	}
}

// ExpectedPrices is how many outcome prices a complete book quotes
func (b BetType) ExpectedPrices() int {
	switch b {
	case BetTypeCorrectScore, BetTypeHalfTimeFullTime:
		return 1
	default:
		return b.Slots()
	}
}

type Scope int

const (
	ScopeFullTimeInclOT Scope = 1
	ScopeFullTime       Scope = 2
	ScopeFirstHalf      Scope = 3
	ScopeSecondHalf     Scope = 4
)

func (s Scope) String() string {
	switch s {
	case ScopeFullTimeInclOT:
		return "FT incl. OT"
	case ScopeFullTime:
		return "FT"
	case ScopeFirstHalf:
		return "1st Half"
	case ScopeSecondHalf:
		return "2nd Half"
	}
	return fmt.Sprintf("sc%d", int(s))
}

// BetDescriptor describes one priced proposition
type BetDescriptor struct {
	BetType         BetType   `json:"bet_type"`
	Scope           Scope     `json:"scope"`
	IsBack          bool      `json:"is_back"`
	AttributeText   string    `json:"attribute_text"`
	AttributeValues []float64 `json:"attribute_values,omitempty"`
}

// MarketKey is the structured identity of a market within a fixture
type MarketKey struct {
	FixtureID     string  `json:"fixture_id"`
	BetType       BetType `json:"bet_type"`
	Scope         Scope   `json:"scope"`
	IsBack        bool    `json:"is_back"`
	AttributeText string  `json:"attribute_text"`
}

func (k MarketKey) String() string {
	side := "back"
	if !k.IsBack {
		side = "lay"
	}
	return fmt.Sprintf("%s/%d/%d/%s/%s", k.FixtureID, k.BetType, k.Scope, side, k.AttributeText)
}

type BookmakerClass string

const (
	BookmakerSharp    BookmakerClass = "sharp"
	BookmakerSoft     BookmakerClass = "soft"
	BookmakerExchange BookmakerClass = "exchange"
	BookmakerBroker   BookmakerClass = "broker"
	BookmakerExcluded BookmakerClass = "excluded"
)

// Coverage counts the bookmakers pricing a market, per class
type Coverage struct {
	Sharp    int `json:"sharp"`
	Soft     int `json:"soft"`
	Exchange int `json:"exchange"`
	Broker   int `json:"broker"`
	Excluded int `json:"excluded"`
}

// MarketResult is nil-Outcome when the market could not be settled.
// Outcome 0 means push; 1..3 is the winning slot.
type MarketResult struct {
	Outcome *int      `json:"outcome"`
	Win     []float64 `json:"win"`
}

const OutcomePush = 0

func (r MarketResult) Resolved() bool {
	return r.Outcome != nil && r.Win != nil
}

// PriceSnapshot is one side (opening or closing) of a quote
type PriceSnapshot struct {
	Odds   *float64   `json:"odds"`
	Date   *time.Time `json:"date"`
	Volume *int64     `json:"volume"`
}

// OddsQuote is one bookmaker's price for one outcome slot
type OddsQuote struct {
	ID      string        `json:"id"`
	Slot    int           `json:"slot"`
	Opening PriceSnapshot `json:"opening"`
	Closing PriceSnapshot `json:"closing"`
}

// NormalizedOdds is derived from one snapshot side of a book's quotes
type NormalizedOdds struct {
	OK        bool       `json:"ok"`
	Overround *float64   `json:"overround"`
	Payout    *float64   `json:"payout"`
	TrueOdds  []*float64 `json:"true_odds,omitempty"`
}

type NormalizedMarketOdds struct {
	Opening NormalizedOdds `json:"opening"`
	Closing NormalizedOdds `json:"closing"`
}

// BookOdds groups one bookmaker's quotes for a market
type BookOdds struct {
	BookmakerID string               `json:"bookmaker_id"`
	Class       BookmakerClass       `json:"class"`
	Quotes      []OddsQuote          `json:"quotes"`
	Normalized  NormalizedMarketOdds `json:"normalized"`
}

// MarketRecord is a market of one fixture with its settlement and prices
type MarketRecord struct {
	Key        MarketKey     `json:"key"`
	Descriptor BetDescriptor `json:"descriptor"`
	OutcomeIDs []string      `json:"outcome_ids,omitempty"`
	Coverage   Coverage      `json:"coverage"`
	Result     *MarketResult `json:"result,omitempty"`
	Books      []BookOdds    `json:"books"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// OddsTick is one historical price point; stored append-only
type OddsTick struct {
	ID          string    `json:"id"`
	QuoteID     string    `json:"quote_id"`
	FixtureID   string    `json:"fixture_id"`
	Slot        int       `json:"slot"`
	BookmakerID string    `json:"bookmaker_id"`
	Odds        float64   `json:"odds"`
	Date        time.Time `json:"date"`
	Volume      *int64    `json:"volume"`
}

func (t *OddsTick) DocID() string {
	return t.ID
}

func (t *OddsTick) IndexTime() *time.Time {
	return &t.Date
}
