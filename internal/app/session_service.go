package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"live-survey-service/internal/domain"
	"live-survey-service/internal/metrics"
)

// DefaultTransitionDelay is the pause between an admin advancing and the next question showing.
const DefaultTransitionDelay = 10 * time.Second

// Outcome reports what a control action did. Control actions never fail for authorization
// reasons; a non-admin simply gets OutcomeIgnored.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeNoop     Outcome = "noop"
	OutcomeAllShown Outcome = "all-shown"
)

// JoinResult describes the joining participant's standing in the session.
type JoinResult struct {
	Session     domain.Session     `json:"session"`
	Participant domain.Participant `json:"participant"`
	Role        domain.Role        `json:"role"`
	State       domain.State       `json:"state"`
}

// SessionService orchestrates session phase transitions on top of a SessionStore.
type SessionService struct {
	store   SessionStore
	surveys SurveyRepository
	results *ResultsCache
	now     func() time.Time
	delay   time.Duration
	retries int
}

// Option customizes a SessionService.
type Option func(*SessionService)

// WithClock replaces time.Now, mostly for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithTransitionDelay sets the advance countdown.
func WithTransitionDelay(d time.Duration) Option {
	return func(s *SessionService) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithMaxRetries bounds how often a conditional write is retried after a conflict.
func WithMaxRetries(n int) Option {
	return func(s *SessionService) {
		if n >= 0 {
			s.retries = n
		}
	}
}

func NewSessionService(store SessionStore, surveys SurveyRepository, opts ...Option) *SessionService {
	s := &SessionService{
		store:   store,
		surveys: surveys,
		results: NewResultsCache(),
		now:     time.Now,
		delay:   DefaultTransitionDelay,
		retries: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TransitionDelay returns the configured advance countdown.
func (s *SessionService) TransitionDelay() time.Duration {
	return s.delay
}

// CreateSession provisions an empty session in the lobby. An empty id gets a generated one.
func (s *SessionService) CreateSession(ctx context.Context, sessionID, surveyID string) (domain.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if surveyID != "" {
		if _, err := s.surveys.GetSurvey(ctx, surveyID); err != nil {
			return domain.Session{}, err
		}
	}
	session := domain.NewSession(sessionID, surveyID, s.now())
	if err := s.store.CreateSession(ctx, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// AttachSurvey points a session that has not started yet at a survey. The survey is re-read
// from the backing store so one seeded after it was cached, or found missing, is picked up.
func (s *SessionService) AttachSurvey(ctx context.Context, sessionID, surveyID string) (domain.Session, error) {
	if cache, ok := s.surveys.(SurveyInvalidator); ok {
		if err := cache.Invalidate(ctx, surveyID); err != nil {
			log.Printf("attach survey %s: invalidate cache: %v", surveyID, err)
		}
	}
	if _, err := s.surveys.GetSurvey(ctx, surveyID); err != nil {
		return domain.Session{}, err
	}
	session, _, err := s.mutate(ctx, sessionID, func(next *domain.Session) (Outcome, error) {
		if next.IsActive || next.CurrentQuestionIndex != domain.LobbyIndex {
			return "", domain.ErrSessionStarted
		}
		if next.SurveyID == surveyID {
			return OutcomeNoop, nil
		}
		next.SurveyID = surveyID
		return OutcomeApplied, nil
	})
	return session, err
}

// Teardown deletes a session with all of its participants.
func (s *SessionService) Teardown(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("teardown session %s: %w", sessionID, err)
	}
	s.results.Invalidate(sessionID)
	log.Printf("session %s torn down", sessionID)
	return nil
}

// GetSession returns the raw session record.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Survey returns the survey attached to a session.
func (s *SessionService) Survey(ctx context.Context, session domain.Session) (domain.Survey, error) {
	if session.SurveyID == "" {
		return domain.Survey{}, domain.ErrNoSurveyAttached
	}
	return s.surveys.GetSurvey(ctx, session.SurveyID)
}

// questionCount returns 0 for sessions without a survey so their state derives as lobby.
func (s *SessionService) questionCount(ctx context.Context, session domain.Session) (int, error) {
	if session.SurveyID == "" {
		return 0, nil
	}
	survey, err := s.surveys.GetSurvey(ctx, session.SurveyID)
	if err != nil {
		return 0, err
	}
	return len(survey.Questions), nil
}

// Join registers a participant. The first non-spectator to join a session without an admin
// becomes admin. Joining during results makes the participant a spectator.
func (s *SessionService) Join(ctx context.Context, sessionID, name string) (JoinResult, error) {
	if name == "" {
		return JoinResult{}, domain.ErrIdentityRequired
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return JoinResult{}, err
	}
	n, err := s.questionCount(ctx, session)
	if err != nil {
		return JoinResult{}, err
	}

	participant, err := s.store.GetParticipant(ctx, sessionID, name)
	switch {
	case errors.Is(err, domain.ErrParticipantNotFound):
		participant = domain.Participant{
			Name:      name,
			Answers:   domain.Answers{},
			Spectator: session.State(n).Phase == domain.PhaseResults,
			JoinedAt:  s.now(),
		}
		if err := s.store.PutParticipant(ctx, sessionID, participant); err != nil {
			return JoinResult{}, err
		}
	case err != nil:
		return JoinResult{}, err
	}

	if session.AdminID == "" && !participant.Spectator {
		updated, claimed, err := s.store.ClaimAdmin(ctx, sessionID, name)
		if err != nil {
			return JoinResult{}, err
		}
		session = updated
		if claimed {
			log.Printf("session %s: %s is admin", sessionID, name)
		}
	}

	return JoinResult{
		Session:     session,
		Participant: participant,
		Role:        roleOf(session, participant),
		State:       session.State(n),
	}, nil
}

func roleOf(session domain.Session, participant domain.Participant) domain.Role {
	switch {
	case session.AdminID != "" && session.AdminID == participant.Name:
		return domain.RoleAdmin
	case participant.Spectator:
		return domain.RoleSpectator
	}
	return domain.RoleParticipant
}

// Role resolves the current role of identity in a session.
func (s *SessionService) Role(ctx context.Context, session domain.Session, identity string) (domain.Role, error) {
	participant, err := s.store.GetParticipant(ctx, session.ID, identity)
	if err != nil {
		return "", err
	}
	return roleOf(session, participant), nil
}

// Leave removes a participant. An admin leaving hands the role to a remaining participant; the
// last participant leaving deletes the session.
func (s *SessionService) Leave(ctx context.Context, sessionID, name string) error {
	if err := s.store.DeleteParticipant(ctx, sessionID, name); err != nil {
		return err
	}
	remaining, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		log.Printf("session %s: last participant %s left, deleting", sessionID, name)
		return s.Teardown(ctx, sessionID)
	}

	successor := pickSuccessor(remaining)
	_, outcome, err := s.mutate(ctx, sessionID, func(next *domain.Session) (Outcome, error) {
		if next.AdminID != name {
			return OutcomeNoop, nil
		}
		next.AdminID = successor
		return OutcomeApplied, nil
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if outcome == OutcomeApplied {
		log.Printf("session %s: admin handed from %s to %s", sessionID, name, successor)
	}
	return nil
}

// pickSuccessor prefers a participant who can answer over a spectator.
func pickSuccessor(remaining []domain.Participant) string {
	for _, p := range remaining {
		if !p.Spectator {
			return p.Name
		}
	}
	return remaining[0].Name
}

// Start moves the session from the lobby to the first question.
func (s *SessionService) Start(ctx context.Context, sessionID, identity string) (domain.Session, Outcome, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, "", err
	}
	if session.AdminID != identity {
		return s.ignored("start", session, identity)
	}
	survey, err := s.Survey(ctx, session)
	if err != nil {
		return session, "", err
	}
	if len(survey.Questions) == 0 {
		return session, "", domain.ErrEmptyQuestionSet
	}

	return s.control(ctx, "start", sessionID, identity, func(next *domain.Session) (Outcome, error) {
		if next.CurrentQuestionIndex != domain.LobbyIndex {
			return OutcomeNoop, nil
		}
		next.CurrentQuestionIndex = 0
		next.IsActive = true
		next.TimerEndsAt = nil
		return OutcomeApplied, nil
	})
}

// Advance starts the countdown to the next question, or opens results and then finalizes answers
// when the last question is active. It does nothing while a countdown is running.
func (s *SessionService) Advance(ctx context.Context, sessionID, identity string) (domain.Session, Outcome, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, "", err
	}
	if session.AdminID != identity {
		return s.ignored("advance", session, identity)
	}
	survey, err := s.Survey(ctx, session)
	if err != nil {
		return session, "", err
	}
	n := len(survey.Questions)

	updated, outcome, err := s.control(ctx, "advance", sessionID, identity, func(next *domain.Session) (Outcome, error) {
		state := next.State(n)
		if state.Phase != domain.PhaseQuestion {
			return OutcomeNoop, nil
		}
		if state.Question < n-1 {
			endsAt := s.now().Add(s.delay)
			next.TimerEndsAt = &endsAt
			return OutcomeApplied, nil
		}
		next.CurrentQuestionIndex = n
		next.TimerEndsAt = nil
		next.ResultsMode = true
		next.CurrentResultIndex = 0
		return OutcomeApplied, nil
	})
	if err != nil || outcome != OutcomeApplied || !updated.ResultsMode {
		return updated, outcome, err
	}
	// Answers stay open until results mode is persisted; Results finalizes lazily if this fails.
	if err := s.finalize(ctx, sessionID); err != nil {
		log.Printf("session %s: finalize answers: %v", sessionID, err)
	}
	return updated, outcome, nil
}

// CompleteTransition performs the cutover to the next question once the countdown has elapsed.
// The conditional write guarantees only one of several racing admin clients moves the index.
func (s *SessionService) CompleteTransition(ctx context.Context, sessionID, identity string) (domain.Session, Outcome, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, "", err
	}
	if session.AdminID != identity {
		return s.ignored("cutover", session, identity)
	}
	return s.control(ctx, "cutover", sessionID, identity, func(next *domain.Session) (Outcome, error) {
		if next.TimerEndsAt == nil || next.ResultsMode || next.CurrentQuestionIndex < 0 {
			return OutcomeNoop, nil
		}
		if s.now().Before(*next.TimerEndsAt) {
			return OutcomeNoop, nil
		}
		next.CurrentQuestionIndex++
		next.TimerEndsAt = nil
		return OutcomeApplied, nil
	})
}

// NextResult pages forward through results, reporting OutcomeAllShown on the last page.
func (s *SessionService) NextResult(ctx context.Context, sessionID, identity string) (domain.Session, Outcome, error) {
	return s.pageResults(ctx, "next", sessionID, identity, 1)
}

// PreviousResult pages backward through results, stopping at the first page.
func (s *SessionService) PreviousResult(ctx context.Context, sessionID, identity string) (domain.Session, Outcome, error) {
	return s.pageResults(ctx, "previous", sessionID, identity, -1)
}

func (s *SessionService) pageResults(ctx context.Context, action, sessionID, identity string, step int) (domain.Session, Outcome, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, "", err
	}
	if session.AdminID != identity {
		return s.ignored(action, session, identity)
	}
	n, err := s.questionCount(ctx, session)
	if err != nil {
		return session, "", err
	}

	return s.control(ctx, action, sessionID, identity, func(next *domain.Session) (Outcome, error) {
		if next.State(n).Phase != domain.PhaseResults {
			return OutcomeNoop, nil
		}
		if next.NeedsHealing(n) {
			*next = next.Healed()
			return OutcomeApplied, nil
		}
		target := next.CurrentResultIndex + step
		switch {
		case target > n-1:
			return OutcomeAllShown, nil
		case target < 0:
			return OutcomeNoop, nil
		}
		next.CurrentResultIndex = target
		return OutcomeApplied, nil
	})
}

// Observe derives the explicit state of a session for identity. When the session is past the
// last question without results mode, it reads as the first results page, and the admin's
// observation persists that correction.
func (s *SessionService) Observe(ctx context.Context, sessionID, identity string) (domain.Session, domain.State, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, domain.State{}, err
	}
	n, err := s.questionCount(ctx, session)
	if err != nil {
		return session, domain.State{}, err
	}
	if session.NeedsHealing(n) && identity != "" && session.AdminID == identity {
		healed, outcome, err := s.mutate(ctx, sessionID, func(next *domain.Session) (Outcome, error) {
			if !next.NeedsHealing(n) {
				return OutcomeNoop, nil
			}
			*next = next.Healed()
			return OutcomeApplied, nil
		})
		if err != nil {
			return session, session.State(n), err
		}
		if outcome == OutcomeApplied {
			log.Printf("session %s: restored results mode after index reached %d", sessionID, healed.CurrentQuestionIndex)
		}
		session = healed
	}
	return session, session.State(n), nil
}

// SubmitAnswer validates and stores a participant's answer, replacing any earlier one.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID, name string, questionIndex int, answer domain.Answer) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	participant, err := s.store.GetParticipant(ctx, sessionID, name)
	if err != nil {
		return err
	}
	if participant.Spectator {
		metrics.RecordAnswer(kindOf(answer), "spectator")
		return domain.ErrSpectatorForbidden
	}
	survey, err := s.Survey(ctx, session)
	if err != nil {
		return err
	}
	if questionIndex < 0 || questionIndex >= len(survey.Questions) {
		return fmt.Errorf("%w: index %d", domain.ErrQuestionNotFound, questionIndex)
	}
	if err := survey.Questions[questionIndex].Validate(answer); err != nil {
		metrics.RecordAnswer(string(survey.Questions[questionIndex].Type), "invalid")
		return err
	}

	if participant.Answers == nil {
		participant.Answers = domain.Answers{}
	}
	participant.Answers[questionIndex] = answer
	if err := s.store.PutParticipant(ctx, sessionID, participant); err != nil {
		return err
	}
	metrics.RecordAnswer(string(answer.Kind()), "accepted")
	return nil
}

func kindOf(answer domain.Answer) string {
	if answer == nil {
		return "unknown"
	}
	return string(answer.Kind())
}

// Results returns the statistics of a session in its results phase. They are computed once from
// the finalized snapshot and cached.
func (s *SessionService) Results(ctx context.Context, sessionID string) (domain.Results, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Results{}, err
	}
	survey, err := s.Survey(ctx, session)
	if err != nil {
		return domain.Results{}, err
	}
	if session.State(len(survey.Questions)).Phase != domain.PhaseResults {
		return domain.Results{}, domain.ErrResultsNotReady
	}

	run := session.CreatedAt.UTC().Format(time.RFC3339Nano)
	return s.results.Get(ctx, sessionID, run, func(ctx context.Context) (domain.Results, error) {
		snapshot, ok, err := s.store.LoadSnapshot(ctx, sessionID)
		if err != nil {
			return domain.Results{}, err
		}
		if !ok {
			// a session healed into results may never have been finalized
			if err := s.finalize(ctx, sessionID); err != nil {
				return domain.Results{}, err
			}
			if snapshot, _, err = s.store.LoadSnapshot(ctx, sessionID); err != nil {
				return domain.Results{}, err
			}
		}
		results := Aggregate(sessionID, survey, snapshot.Participants)
		results.FinalizedAt = snapshot.TakenAt
		if results.Excluded > 0 {
			log.Printf("session %s: excluded %d malformed answers from results", sessionID, results.Excluded)
			metrics.RecordExcluded(results.Excluded)
		}
		return results, nil
	})
}

// Subscribe returns a channel of change notifications for a session.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *SessionService) Subscribe(ctx context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	return s.store.Watch(ctx, sessionID)
}

// finalize captures the answer snapshot. The store keeps the first snapshot, so repeats are harmless.
func (s *SessionService) finalize(ctx context.Context, sessionID string) error {
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("finalize answers: %w", err)
	}
	return s.store.SaveSnapshot(ctx, domain.Snapshot{
		SessionID:    sessionID,
		TakenAt:      s.now(),
		Participants: participants,
	})
}

func (s *SessionService) ignored(action string, session domain.Session, identity string) (domain.Session, Outcome, error) {
	log.Printf("session %s: ignored %s from %q: %v", session.ID, action, identity, domain.ErrUnauthorizedControl)
	metrics.RecordControl(action, string(OutcomeIgnored))
	return session, OutcomeIgnored, nil
}

// control runs an admin-gated mutation. The admin check is repeated against every re-read so a
// handoff racing with the action still results in it being ignored.
func (s *SessionService) control(ctx context.Context, action, sessionID, identity string, decide func(*domain.Session) (Outcome, error)) (domain.Session, Outcome, error) {
	session, outcome, err := s.mutate(ctx, sessionID, func(next *domain.Session) (Outcome, error) {
		if next.AdminID != identity {
			return OutcomeIgnored, nil
		}
		return decide(next)
	})
	if err != nil {
		return session, outcome, err
	}
	metrics.RecordControl(action, string(outcome))
	return session, outcome, nil
}

// mutate reads the session, lets decide change a copy and writes it back conditionally. On a
// version conflict the whole read-decide-write step is repeated.
func (s *SessionService) mutate(ctx context.Context, sessionID string, decide func(*domain.Session) (Outcome, error)) (domain.Session, Outcome, error) {
	for attempt := 0; ; attempt++ {
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return domain.Session{}, "", err
		}
		next := session
		outcome, err := decide(&next)
		if err != nil {
			return session, "", err
		}
		if outcome != OutcomeApplied {
			return session, outcome, nil
		}
		updated, err := s.store.UpdateSession(ctx, next)
		if errors.Is(err, domain.ErrVersionConflict) && attempt < s.retries {
			continue
		}
		if err != nil {
			return session, "", err
		}
		return updated, OutcomeApplied, nil
	}
}
