package models

// ScorePair is a side1:side2 score
type ScorePair struct {
	Side1 int `json:"side1"`
	Side2 int `json:"side2"`
}

func (p ScorePair) Total() int {
	return p.Side1 + p.Side2
}

// Score is the parsed result of a fixture. Periods holds the per-period partials in order.
type Score struct {
	Final     bool        `json:"final"`
	Status    string      `json:"status,omitempty"`
	FullTime  *ScorePair  `json:"full_time"`
	WithExtra *ScorePair  `json:"with_extra"`
	Periods   []ScorePair `json:"periods,omitempty"`
}

// ForScope picks the score a market scope settles against. nil means not available.
func (s *Score) ForScope(scope Scope) *ScorePair {
	if s == nil {
		return nil
	}
	switch scope {
	case ScopeFullTime:
		return s.FullTime
	case ScopeFullTimeInclOT:
		if s.WithExtra != nil {
			return s.WithExtra
		}
		return s.FullTime
	case ScopeFirstHalf:
		if len(s.Periods) >= 1 {
			return &s.Periods[0]
		}
	case ScopeSecondHalf:
		if len(s.Periods) >= 2 {
			return &s.Periods[1]
		}
	}
	return nil
}

// HalfTime returns the first-period score, used by HT/FT markets
func (s *Score) HalfTime() *ScorePair {
	return s.ForScope(ScopeFirstHalf)
}
