package domain

import "time"

// OptionVotes is one row of a single-choice tally.
type OptionVotes struct {
	Option int `json:"option"`
	Votes  int `json:"votes"`
}

// ChoiceStats aggregates single-choice answers. Tally is sorted by votes desc, then option.
type ChoiceStats struct {
	Votes      map[int]int   `json:"votes"`
	Tally      []OptionVotes `json:"tally"`
	TotalVotes int           `json:"totalVotes"`
}

// ClearWinner returns the top option when its count is positive and strictly above the runner-up.
func (c ChoiceStats) ClearWinner() (int, bool) {
	if len(c.Tally) == 0 || c.Tally[0].Votes == 0 {
		return 0, false
	}
	if len(c.Tally) > 1 && c.Tally[1].Votes >= c.Tally[0].Votes {
		return 0, false
	}
	return c.Tally[0].Option, true
}

// RankEntry summarizes the positions one option occupied across rankings.
type RankEntry struct {
	Option          int     `json:"option"`
	AveragePosition float64 `json:"averagePosition"`
	Count           int     `json:"count"`
	Positions       []int   `json:"positions"`
}

// RankingStats is sorted by average position ascending (most preferred first).
type RankingStats struct {
	Entries []RankEntry `json:"entries"`
	Total   int         `json:"total"`
}

// PairCount is the number of participants who associated a canonical pair.
type PairCount struct {
	Pair
	Count int `json:"count"`
}

// PairStats is sorted by count descending.
type PairStats struct {
	Pairs []PairCount `json:"pairs"`
	Total int         `json:"total"`
}

// CategoryCount records how often an option was placed in category A or B.
type CategoryCount struct {
	Option int `json:"option"`
	A      int `json:"a"`
	B      int `json:"b"`
}

// CategoryStats holds one row per option in option order.
type CategoryStats struct {
	CategoryA string          `json:"categoryA"`
	CategoryB string          `json:"categoryB"`
	Options   []CategoryCount `json:"options"`
	Total     int             `json:"total"`
}

// QuestionStats carries exactly one non-nil stats block matching Type.
type QuestionStats struct {
	Index      int            `json:"index"`
	QuestionID string         `json:"questionId"`
	Type       QuestionType   `json:"type"`
	Excluded   int            `json:"excluded"`
	Choice     *ChoiceStats   `json:"choice,omitempty"`
	Ranking    *RankingStats  `json:"ranking,omitempty"`
	Pairs      *PairStats     `json:"pairs,omitempty"`
	Categories *CategoryStats `json:"categories,omitempty"`
}

// Results is the aggregated output shown during results paging.
type Results struct {
	SessionID   string          `json:"sessionId"`
	SurveyID    string          `json:"surveyId"`
	Questions   []QuestionStats `json:"questions"`
	Excluded    int             `json:"excluded"`
	FinalizedAt time.Time       `json:"finalizedAt"`
}

// Snapshot is the finalized answer set captured when results paging begins.
type Snapshot struct {
	SessionID    string        `json:"sessionId"`
	TakenAt      time.Time     `json:"takenAt"`
	Participants []Participant `json:"participants"`
}
