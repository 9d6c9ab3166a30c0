package domain

import "time"

// Phase is the explicit lifecycle state of a session.
type Phase string

const (
	PhaseLobby           Phase = "lobby"
	PhaseQuestion        Phase = "question"
	PhaseTransitionDelay Phase = "transition-delay"
	PhaseResults         Phase = "results"
)

// State is the derived view of a session record. Question is meaningful for the question and
// transition phases, Result for the results phase, EndsAt for the transition phase only.
type State struct {
	Phase    Phase     `json:"phase"`
	Question int       `json:"question"`
	Result   int       `json:"result"`
	EndsAt   time.Time `json:"endsAt,omitempty"`
	Total    int       `json:"total"`
}

// Remaining returns the countdown left in a transition delay, never negative.
func (s State) Remaining(now time.Time) time.Duration {
	if s.Phase != PhaseTransitionDelay {
		return 0
	}
	if d := s.EndsAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// State derives the lifecycle state for a survey of n questions. A session whose question
// index reached n without results mode is read as the first results page.
func (s Session) State(n int) State {
	st := State{Total: n}
	switch {
	case s.CurrentQuestionIndex < 0:
		st.Phase = PhaseLobby
		st.Question = LobbyIndex
	case s.ResultsMode || s.CurrentQuestionIndex >= n:
		st.Phase = PhaseResults
		st.Question = n
		if s.ResultsMode {
			st.Result = clamp(s.CurrentResultIndex, 0, n-1)
		}
	case s.TimerEndsAt != nil:
		st.Phase = PhaseTransitionDelay
		st.Question = s.CurrentQuestionIndex
		st.EndsAt = *s.TimerEndsAt
	default:
		st.Phase = PhaseQuestion
		st.Question = s.CurrentQuestionIndex
	}
	return st
}

// NeedsHealing reports a session stuck past the last question without results mode.
func (s Session) NeedsHealing(n int) bool {
	return n > 0 && s.CurrentQuestionIndex >= n && !s.ResultsMode
}

// Healed returns s with results paging restored at the first page. No other field changes.
func (s Session) Healed() Session {
	s.ResultsMode = true
	s.CurrentResultIndex = 0
	return s
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
