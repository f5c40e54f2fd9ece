package feed

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"oddsharvest/models"
)

// finalTerms mark a result the provider will not change any more
var finalTerms = []string{"final result", "finished", "awarded", "canceled", "cancelled", "abandoned"}

// extraTimeTerms mark a displayed score that includes overtime or penalties
var extraTimeTerms = []string{"ot", "et", "pen.", "penalties", "after extra time", "overtime"}

var (
	scorePairRegex = regexp.MustCompile(`(\d+)\s*:\s*(\d+)`)
	periodsRegex   = regexp.MustCompile(`\(([^)]*)\)`)
	wordRegex      = regexp.MustCompile(`[a-z.]+`)
)

// regulationPeriods is how many leading partials make up the full-time score when overtime was played
const regulationPeriods = 2

// ScoreFeed is the decoded score payload of a fixture
type ScoreFeed struct {
	Score     models.Score
	StartTime *time.Time
}

type rawScoreEnvelope struct {
	D *struct {
		Result    json.RawMessage `json:"result"`
		StartTime json.RawMessage `json:"startTime"`
	} `json:"d"`
}

// ParseScore decodes a score payload. A missing result fragment is a shape failure;
// an empty fragment is a fixture that has not been played yet.
func ParseScore(body []byte) (*ScoreFeed, error) {
	var env rawScoreEnvelope
	if err := json.Unmarshal(StripJSONP(body), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScore, err)
	}
	if env.D == nil || env.D.Result == nil {
		return nil, fmt.Errorf("%w: missing d.result", ErrBadScore)
	}

	start, err := rawTime(env.D.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: startTime: %v", ErrBadScore, err)
	}

	score, err := ParseResultFragment(rawText(env.D.Result))
	if err != nil {
		return nil, err
	}
	return &ScoreFeed{Score: *score, StartTime: start}, nil
}

// ParseResultFragment reads the result html, e.g.
// "<p class="result"><span>Final result </span><strong>3:2 (1:0, 1:1, 1:1 OT)</strong></p>".
func ParseResultFragment(fragment string) (*models.Score, error) {
	score := &models.Score{}
	if strings.TrimSpace(fragment) == "" {
		return score, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("%w: result html: %v", ErrBadScore, err)
	}
	text := strings.Join(strings.Fields(doc.Text()), " ")
	lower := strings.ToLower(text)

	for _, term := range finalTerms {
		if strings.Contains(lower, term) {
			score.Final = true
			score.Status = term
			break
		}
	}

	// partials live in parentheses; the headline score is the first pair outside them
	var periods []models.ScorePair
	if m := periodsRegex.FindStringSubmatch(text); m != nil {
		for _, p := range scorePairRegex.FindAllStringSubmatch(m[1], -1) {
			periods = append(periods, pair(p))
		}
	}
	headline := periodsRegex.ReplaceAllString(text, " ")
	if m := scorePairRegex.FindStringSubmatch(headline); m != nil {
		displayed := pair(m)
		score.WithExtra = &displayed
		score.FullTime = &displayed
	}
	score.Periods = periods

	if score.WithExtra != nil && hasExtraTime(lower) && len(periods) > regulationPeriods {
		var ft models.ScorePair
		for _, p := range periods[:regulationPeriods] {
			ft.Side1 += p.Side1
			ft.Side2 += p.Side2
		}
		score.FullTime = &ft
	}

	return score, nil
}

func hasExtraTime(lower string) bool {
	words := wordRegex.FindAllString(lower, -1)
	joined := " " + strings.Join(words, " ") + " "
	for _, term := range extraTimeTerms {
		if strings.Contains(joined, " "+term+" ") {
			return true
		}
	}
	return false
}

func pair(m []string) models.ScorePair {
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	return models.ScorePair{Side1: a, Side2: b}
}
