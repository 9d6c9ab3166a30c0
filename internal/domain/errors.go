package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a join or control action targets an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when an organizer creates a session id that is already taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrNoSurveyAttached is returned by start when the session has no survey reference.
	ErrNoSurveyAttached = errors.New("no survey attached to session")
	// ErrEmptyQuestionSet is returned by start when the attached survey has no questions.
	ErrEmptyQuestionSet = errors.New("survey has no questions")
	// ErrInvalidAnswerShape rejects a submission that does not fit its question type.
	ErrInvalidAnswerShape = errors.New("invalid answer shape")
	// ErrSpectatorForbidden rejects writes from participants who joined during results.
	ErrSpectatorForbidden = errors.New("spectators cannot submit answers")
	// ErrUnauthorizedControl marks a control attempt by a non-admin. It is never surfaced to clients.
	ErrUnauthorizedControl = errors.New("only the session admin can control progression")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrSurveyNotFound indicates the survey content could not be loaded.
	ErrSurveyNotFound = errors.New("survey not found")
	// ErrQuestionNotFound indicates a submitted question index is out of range.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrSessionStarted is returned when a survey is attached to a session that already started.
	ErrSessionStarted = errors.New("session already started")
	// ErrResultsNotReady is returned when results are requested before the results phase.
	ErrResultsNotReady = errors.New("results are not available yet")
	// ErrIdentityRequired is returned when a participant joins without a name.
	ErrIdentityRequired = errors.New("participant name is required")
	// ErrVersionConflict is returned by conditional session writes that lost a race.
	ErrVersionConflict = errors.New("session was modified concurrently")
)
