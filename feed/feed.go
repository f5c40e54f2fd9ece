// Package feed decodes provider payloads: odds feeds, score feeds, fixture pages and listings.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"oddsharvest/models"
)

var (
	ErrBadFeed  = errors.New("feed: unexpected payload shape")
	ErrBadScore = errors.New("feed: unexpected score shape")
)

// Feed is one (bet type, scope) odds feed of a fixture
type Feed struct {
	BetType models.BetType
	Scope   models.Scope
	Markets []Market
	// History is keyed by outcome id then bookmaker id
	History    map[string]map[string][]HistoryPoint
	LayHistory map[string]map[string][]HistoryPoint
}

// Market is one line of a feed on one side (back or lay)
type Market struct {
	ProviderKey   string
	IsBack        bool
	HandicapValue string
	MixedName     string
	OutcomeIDs    []string
	Books         map[string]*BookPrices
}

// BookPrices holds one bookmaker's per-slot prices; slices are indexed by slot-1
type BookPrices struct {
	Odds          []*float64
	ChangeTime    []*time.Time
	Volume        []*int64
	OpeningOdds   []*float64
	OpeningTime   []*time.Time
	OpeningVolume []*int64
}

type HistoryPoint struct {
	Odds   float64
	Volume *int64
	Time   time.Time
}

// AttributeText picks the raw line of a market for its bet type
func (m *Market) AttributeText(bt models.BetType) string {
	switch bt {
	case models.BetTypeOverUnder, models.BetTypeAsianHandicap, models.BetTypeEuropeanHandicap:
		if m.HandicapValue != "" {
			return m.HandicapValue
		}
		return m.MixedName
	case models.BetTypeCorrectScore, models.BetTypeHalfTimeFullTime:
		if m.MixedName != "" {
			return m.MixedName
		}
		return m.HandicapValue
	}
	return ""
}

// BookmakerIDs returns the pricing bookmakers in a stable order
func (m *Market) BookmakerIDs() []string {
	ids := make([]string, 0, len(m.Books))
	for id := range m.Books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type rawEnvelope struct {
	D *rawFeed `json:"d"`
}

type rawFeed struct {
	BetType  json.RawMessage `json:"bt"`
	Scope    json.RawMessage `json:"sc"`
	OddsData *struct {
		Back json.RawMessage `json:"back"`
		Lay  json.RawMessage `json:"lay"`
	} `json:"oddsdata"`
	History *struct {
		Back json.RawMessage `json:"back"`
		Lay  json.RawMessage `json:"lay"`
	} `json:"history"`
}

type rawMarket struct {
	HandicapValue      json.RawMessage `json:"handicapValue"`
	MixedParameterName json.RawMessage `json:"mixedParameterName"`
	OutcomeID          json.RawMessage `json:"outcomeId"`
	Odds               json.RawMessage `json:"odds"`
	ChangeTime         json.RawMessage `json:"changeTime"`
	Volume             json.RawMessage `json:"volume"`
	OpeningOdd         json.RawMessage `json:"openingOdd"`
	OpeningChangeTime  json.RawMessage `json:"openingChangeTime"`
	OpeningVolume      json.RawMessage `json:"openingVolume"`
}

// ParseFeed decodes an odds feed body. JSONP wrappers are stripped.
// Missing bt, sc or oddsdata.back is a shape failure.
func ParseFeed(body []byte) (*Feed, error) {
	var env rawEnvelope
	if err := json.Unmarshal(StripJSONP(body), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFeed, err)
	}
	if env.D == nil || env.D.OddsData == nil || len(env.D.OddsData.Back) == 0 {
		return nil, fmt.Errorf("%w: missing d.oddsdata.back", ErrBadFeed)
	}

	bt, err := rawInt(env.D.BetType)
	if err != nil {
		return nil, fmt.Errorf("%w: bt: %v", ErrBadFeed, err)
	}
	sc, err := rawInt(env.D.Scope)
	if err != nil {
		return nil, fmt.Errorf("%w: sc: %v", ErrBadFeed, err)
	}

	f := &Feed{
		BetType:    models.BetType(bt),
		Scope:      models.Scope(sc),
		History:    map[string]map[string][]HistoryPoint{},
		LayHistory: map[string]map[string][]HistoryPoint{},
	}

	for _, side := range []struct {
		raw    json.RawMessage
		isBack bool
	}{
		{env.D.OddsData.Back, true},
		{env.D.OddsData.Lay, false},
	} {
		var markets map[string]rawMarket
		if err := decodeObject(side.raw, &markets); err != nil {
			return nil, fmt.Errorf("%w: oddsdata: %v", ErrBadFeed, err)
		}
		keys := make([]string, 0, len(markets))
		for k := range markets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m, err := decodeMarket(k, markets[k], side.isBack)
			if err != nil {
				return nil, fmt.Errorf("%w: market %s: %v", ErrBadFeed, k, err)
			}
			f.Markets = append(f.Markets, m)
		}
	}

	if env.D.History != nil {
		if f.History, err = decodeHistory(env.D.History.Back); err != nil {
			return nil, fmt.Errorf("%w: history: %v", ErrBadFeed, err)
		}
		if f.LayHistory, err = decodeHistory(env.D.History.Lay); err != nil {
			return nil, fmt.Errorf("%w: lay history: %v", ErrBadFeed, err)
		}
	}

	return f, nil
}

// StripJSONP returns the outermost JSON object of a callback-wrapped payload
func StripJSONP(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' {
		return trimmed
	}
	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return trimmed
	}
	return trimmed[start : end+1]
}

func decodeMarket(key string, raw rawMarket, isBack bool) (Market, error) {
	m := Market{
		ProviderKey:   key,
		IsBack:        isBack,
		HandicapValue: rawText(raw.HandicapValue),
		MixedName:     rawText(raw.MixedParameterName),
		Books:         make(map[string]*BookPrices),
	}

	outcomes, err := slotValues(raw.OutcomeID)
	if err != nil {
		return m, fmt.Errorf("outcomeId: %w", err)
	}
	for _, o := range outcomes {
		m.OutcomeIDs = append(m.OutcomeIDs, rawText(o))
	}

	book := func(id string) *BookPrices {
		b, ok := m.Books[id]
		if !ok {
			b = &BookPrices{}
			m.Books[id] = b
		}
		return b
	}

	fields := []struct {
		name string
		raw  json.RawMessage
		set  func(b *BookPrices, v json.RawMessage) error
	}{
		{"odds", raw.Odds, func(b *BookPrices, v json.RawMessage) (err error) { b.Odds, err = floatSlots(v); return }},
		{"openingOdd", raw.OpeningOdd, func(b *BookPrices, v json.RawMessage) (err error) { b.OpeningOdds, err = floatSlots(v); return }},
		{"changeTime", raw.ChangeTime, func(b *BookPrices, v json.RawMessage) (err error) { b.ChangeTime, err = timeSlots(v); return }},
		{"openingChangeTime", raw.OpeningChangeTime, func(b *BookPrices, v json.RawMessage) (err error) { b.OpeningTime, err = timeSlots(v); return }},
		{"volume", raw.Volume, func(b *BookPrices, v json.RawMessage) (err error) { b.Volume, err = intSlots(v); return }},
		{"openingVolume", raw.OpeningVolume, func(b *BookPrices, v json.RawMessage) (err error) { b.OpeningVolume, err = intSlots(v); return }},
	}
	for _, field := range fields {
		var byBook map[string]json.RawMessage
		if err := decodeObject(field.raw, &byBook); err != nil {
			return m, fmt.Errorf("%s: %w", field.name, err)
		}
		for id, v := range byBook {
			if err := field.set(book(id), v); err != nil {
				return m, fmt.Errorf("%s[%s]: %w", field.name, id, err)
			}
		}
	}

	return m, nil
}

func decodeHistory(data json.RawMessage) (map[string]map[string][]HistoryPoint, error) {
	var raw map[string]map[string][][]json.RawMessage
	if err := decodeObject(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]map[string][]HistoryPoint, len(raw))
	for outcomeID, books := range raw {
		byBook := make(map[string][]HistoryPoint, len(books))
		for bookID, points := range books {
			for _, p := range points {
				if len(p) < 3 {
					return nil, fmt.Errorf("%s/%s: point has %d fields", outcomeID, bookID, len(p))
				}
				odds, err := rawFloat(p[0])
				if err != nil || odds == nil {
					return nil, fmt.Errorf("%s/%s: odds: %v", outcomeID, bookID, err)
				}
				vol, err := rawInt64(p[1])
				if err != nil {
					return nil, fmt.Errorf("%s/%s: volume: %v", outcomeID, bookID, err)
				}
				ts, err := rawTime(p[2])
				if err != nil || ts == nil {
					return nil, fmt.Errorf("%s/%s: time: %v", outcomeID, bookID, err)
				}
				byBook[bookID] = append(byBook[bookID], HistoryPoint{Odds: *odds, Volume: vol, Time: *ts})
			}
		}
		out[outcomeID] = byBook
	}
	return out, nil
}

// decodeObject treats null, absent and the empty array the provider sends for empty maps as no entries
func decodeObject(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || trimmed[0] == '[' {
		return nil
	}
	return json.Unmarshal(trimmed, dst)
}

// slotValues accepts either a JSON array or an object keyed "0","1",.. and returns the values in slot order
func slotValues(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		out := make([]json.RawMessage, len(obj))
		for k, v := range obj {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(obj) {
				return nil, fmt.Errorf("slot key %q", k)
			}
			out[i] = v
		}
		return out, nil
	}
	return []json.RawMessage{trimmed}, nil
}

func floatSlots(raw json.RawMessage) ([]*float64, error) {
	vals, err := slotValues(raw)
	if err != nil {
		return nil, err
	}
	out := make([]*float64, len(vals))
	for i, v := range vals {
		if out[i], err = rawFloat(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func intSlots(raw json.RawMessage) ([]*int64, error) {
	vals, err := slotValues(raw)
	if err != nil {
		return nil, err
	}
	out := make([]*int64, len(vals))
	for i, v := range vals {
		if out[i], err = rawInt64(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func timeSlots(raw json.RawMessage) ([]*time.Time, error) {
	vals, err := slotValues(raw)
	if err != nil {
		return nil, err
	}
	out := make([]*time.Time, len(vals))
	for i, v := range vals {
		if out[i], err = rawTime(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// rawText reads a JSON string or number as text; null and absent are ""
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(trimmed)
}

func rawFloat(raw json.RawMessage) (*float64, error) {
	text := rawText(raw)
	if text == "" || text == "-" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func rawInt64(raw json.RawMessage) (*int64, error) {
	f, err := rawFloat(raw)
	if err != nil || f == nil {
		return nil, err
	}
	v := int64(*f)
	return &v, nil
}

func rawInt(raw json.RawMessage) (int, error) {
	v, err := rawInt64(raw)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, errors.New("missing")
	}
	return int(*v), nil
}

func rawTime(raw json.RawMessage) (*time.Time, error) {
	v, err := rawInt64(raw)
	if err != nil || v == nil || *v <= 0 {
		return nil, err
	}
	t := time.Unix(*v, 0).UTC()
	return &t, nil
}
