// Package settlement decides which side of a priced proposition won.
//
// Win vectors hold one multiplier per outcome slot: 1 win, 0 push, -1 loss,
// and ±0.5 for the half-won/half-lost legs of quarter lines.
package settlement

import (
	"math"

	"oddsharvest/models"
)

const (
	slotHome = 1
	slotDraw = 2
	slotAway = 3
)

// settled is the back-side result before it is exported as a MarketResult
type settled struct {
	outcome int
	win     []float64
}

// Settle computes the result of desc against the score of its scope.
// halfTime is only consulted by HT/FT markets. An unresolvable market
// (unknown bet type, bad line, missing score) returns the zero MarketResult.
func Settle(desc models.BetDescriptor, final *models.ScorePair, halfTime *models.ScorePair) models.MarketResult {
	if final == nil {
		return models.MarketResult{}
	}

	values := desc.AttributeValues
	if len(values) == 0 {
		var err error
		values, err = ParseAttribute(desc.BetType, desc.AttributeText)
		if err != nil {
			return models.MarketResult{}
		}
	}

	s, ok := settleBack(desc.BetType, values, *final, halfTime)
	if !ok {
		return models.MarketResult{}
	}
	if !desc.IsBack {
		s = s.lay()
	}
	return s.result()
}

// Settleable reports whether desc can be settled against some score: the bet type
// is known and its attribute decodes to a usable line. Markets failing this never
// get a result and are not worth storing.
func Settleable(desc models.BetDescriptor) bool {
	values := desc.AttributeValues
	if len(values) == 0 {
		var err error
		if values, err = ParseAttribute(desc.BetType, desc.AttributeText); err != nil {
			return false
		}
	}
	_, ok := settleBack(desc.BetType, values, models.ScorePair{}, &models.ScorePair{})
	return ok
}

func settleBack(bt models.BetType,values []float64, sc models.ScorePair, ht *models.ScorePair) (settled, bool) {
	switch bt {
	case models.BetType1X2:
		return threeWay(sc.Side1 - sc.Side2), true
	case models.BetTypeHomeAway, models.BetTypeDrawNoBet:
		return twoWayPush(float64(sc.Side1 - sc.Side2)), true
	case models.BetTypeDoubleChance:
		return doubleChance(sc.Side1 - sc.Side2), true
	case models.BetTypeOverUnder:
		if len(values) < 1 {
			return settled{}, false
		}
		return overUnder(sc, values[0])
	case models.BetTypeAsianHandicap:
		if len(values) < 1 {
			return settled{}, false
		}
		return asianHandicap(sc, values[0])
	case models.BetTypeEuropeanHandicap:
		if len(values) < 1 || values[0] != math.Trunc(values[0]) {
			return settled{}, false
		}
		return threeWay(sc.Side1 + int(values[0]) - sc.Side2), true
	case models.BetTypeCorrectScore:
		if len(values) < 2 {
			return settled{}, false
		}
		return yesNo(sc.Side1 == int(values[0]) && sc.Side2 == int(values[1])), true
	case models.BetTypeHalfTimeFullTime:
		if len(values) < 2 || ht == nil {
			return settled{}, false
		}
		htClass := threeWay(ht.Side1 - ht.Side2).outcome
		ftClass := threeWay(sc.Side1 - sc.Side2).outcome
		return yesNo(htClass == int(values[0]) && ftClass == int(values[1])), true
	case models.BetTypeOddEven:
		return yesNo(sc.Total()%2 == 1), true
	case models.BetTypeBothTeamsScore:
		return yesNo(sc.Side1 > 0 && sc.Side2 > 0), true
	}
	return settled{}, false
}

// threeWay settles home/draw/away from the goal difference
func threeWay(diff int) settled {
	win := []float64{-1, -1, -1}
	slot := slotDraw
	switch {
	case diff > 0:
		slot = slotHome
	case diff < 0:
		slot = slotAway
	}
	win[slot-1] = 1
	return settled{outcome: slot, win: win}
}

// twoWayPush settles a home/away pair where a level result returns the stake
func twoWayPush(diff float64) settled {
	switch {
	case diff > 0:
		return settled{outcome: 1, win: []float64{1, -1}}
	case diff < 0:
		return settled{outcome: 2, win: []float64{-1, 1}}
	}
	return settled{outcome: models.OutcomePush, win: []float64{0, 0}}
}

// doubleChance slots are 1X, 12 and X2. The outcome reported is the base
// 1X2 result; each composite wins when either of its components does.
func doubleChance(diff int) settled {
	base := threeWay(diff).outcome
	covers := [3][2]int{
		{slotHome, slotDraw},
		{slotHome, slotAway},
		{slotDraw, slotAway},
	}
	win := make([]float64, 3)
	for i, pair := range covers {
		if base == pair[0] || base == pair[1] {
			win[i] = 1
		} else {
			win[i] = -1
		}
	}
	return settled{outcome: base, win: win}
}

// yesNo settles a single-proposition market. Slot 1 is the proposition
// (exact score, HT/FT pair, odd total, both scored) and slot 2 its negation,
// so a correct-score miss reports outcome 2. Outcome 0 stays reserved for push.
func yesNo(happened bool) settled {
	if happened {
		return settled{outcome: 1, win: []float64{1, -1}}
	}
	return settled{outcome: 2, win: []float64{-1, 1}}
}

func overUnder(sc models.ScorePair, line float64) (settled, bool) {
	return settleLine(line, func(l float64) float64 {
		return float64(sc.Total()) - l
	})
}

func asianHandicap(sc models.ScorePair, line float64) (settled, bool) {
	return settleLine(line, func(l float64) float64 {
		return float64(sc.Side1) + l - float64(sc.Side2)
	})
}

// settleLine settles a two-way line market. margin(l) > 0 means slot 1 wins at line l.
// Quarter lines are never compared directly: both neighbouring lines are settled and
// their win vectors averaged.
func settleLine(line float64, margin func(float64) float64) (settled, bool) {
	q := line * 4
	if q != math.Trunc(q) {
		return settled{}, false
	}

	if int64(math.Abs(q))%2 == 0 {
		return twoWayPush(margin(line)), true
	}

	lo, ok := settleLine(line-0.25, margin)
	if !ok {
		return settled{}, false
	}
	hi, ok := settleLine(line+0.25, margin)
	if !ok {
		return settled{}, false
	}

	win := make([]float64, len(lo.win))
	for i := range win {
		win[i] = (lo.win[i] + hi.win[i]) / 2
	}
	if win[0]+win[1] < 0 {
		return settled{}, false
	}

	out := settled{outcome: models.OutcomePush, win: win}
	switch {
	case win[0] > win[1]:
		out.outcome = 1
	case win[1] > win[0]:
		out.outcome = 2
	}
	return out, true
}

// lay flips every multiplier; the winning slot stays the same
func (s settled) lay() settled {
	win := make([]float64, len(s.win))
	for i, w := range s.win {
		if w != 0 {
			win[i] = -w
		}
	}
	return settled{outcome: s.outcome, win: win}
}

func (s settled) result() models.MarketResult {
	outcome := s.outcome
	return models.MarketResult{Outcome: &outcome, Win: s.win}
}
