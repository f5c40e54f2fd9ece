package settlement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"oddsharvest/models"
)

var (
	ErrBadAttribute = errors.New("unparseable attribute")
	ErrBadLine      = errors.New("line is not a multiple of 0.25")
)

var quarter = decimal.NewFromFloat(0.25)

// ParseAttribute decodes the raw attribute text of a bet into its numeric values.
//
//	Over/Under, Asian Handicap: one line, "2.5", "-0.25", or split notation "0,-0.5"
//	European Handicap:          one integer handicap for side1, "-1" or "0:1"
//	Correct Score:              two goals, "2:1"
//	HT/FT:                      two classes, "1/X" (1 home, 2 draw, 3 away)
//
// Bet types without an attribute return nil.
func ParseAttribute(bt models.BetType, text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	switch bt {
	case models.BetTypeOverUnder, models.BetTypeAsianHandicap:
		line, err := parseLine(text)
		if err != nil {
			return nil, err
		}
		return []float64{line}, nil
	case models.BetTypeEuropeanHandicap:
		h, err := parseHandicap(text)
		if err != nil {
			return nil, err
		}
		return []float64{h}, nil
	case models.BetTypeCorrectScore:
		a, b, err := parsePair(text, ":")
		if err != nil {
			return nil, err
		}
		return []float64{a, b}, nil
	case models.BetTypeHalfTimeFullTime:
		parts := strings.Split(text, "/")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrBadAttribute, text)
		}
		ht, ok1 := resultClass(parts[0])
		ft, ok2 := resultClass(parts[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: %q", ErrBadAttribute, text)
		}
		return []float64{float64(ht), float64(ft)}, nil
	}
	return nil, nil
}

func parseLine(text string) (float64, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: empty line", ErrBadAttribute)
	}
	parts := strings.Split(text, ",")
	if len(parts) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadAttribute, text)
	}

	values := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(p), "+"))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadAttribute, text)
		}
		values = append(values, d)
	}

	line := values[0]
	if len(values) == 2 {
		// "0,-0.5" is the split form of -0.25
		if !values[0].Sub(values[1]).Abs().Equal(decimal.NewFromFloat(0.5)) {
			return 0, fmt.Errorf("%w: %q", ErrBadLine, text)
		}
		line = values[0].Add(values[1]).Div(decimal.NewFromInt(2))
	}

	if !line.Div(quarter).IsInteger() {
		return 0, fmt.Errorf("%w: %q", ErrBadLine, text)
	}
	f, _ := line.Float64()
	return f, nil
}

func parseHandicap(text string) (float64, error) {
	if strings.Contains(text, ":") {
		a, b, err := parsePair(text, ":")
		if err != nil {
			return 0, err
		}
		return a - b, nil
	}
	d, err := decimal.NewFromString(strings.TrimPrefix(text, "+"))
	if err != nil || !d.IsInteger() {
		return 0, fmt.Errorf("%w: %q", ErrBadAttribute, text)
	}
	f, _ := d.Float64()
	return f, nil
}

func parsePair(text, sep string) (float64, float64, error) {
	parts := strings.Split(text, sep)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadAttribute, text)
	}
	a, err := decimal.NewFromString(strings.TrimSpace(parts[0]))
	if err != nil || !a.IsInteger() {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadAttribute, text)
	}
	b, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil || !b.IsInteger() {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadAttribute, text)
	}
	af, _ := a.Float64()
	bf, _ := b.Float64()
	return af, bf, nil
}

func resultClass(s string) (int, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1":
		return slotHome, true
	case "X":
		return slotDraw, true
	case "2":
		return slotAway, true
	}
	return 0, false
}
