package app

import (
	"context"

	"live-survey-service/internal/domain"
)

// SessionStore is the durable state a session needs: the session record, its participants and
// the finalized answer snapshot. Implementations live in infra/memory and infra/redis.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// CreateSession fails with domain.ErrSessionExists when the id is taken.
	CreateSession(ctx context.Context, session domain.Session) error
	// UpdateSession writes only if the stored version equals session.Version and returns the
	// record with its version bumped. A lost race yields domain.ErrVersionConflict.
	UpdateSession(ctx context.Context, session domain.Session) (domain.Session, error)
	// ClaimAdmin sets the admin only if none is set. It reports whether identity won the slot.
	ClaimAdmin(ctx context.Context, sessionID, identity string) (domain.Session, bool, error)
	// DeleteSession removes the session with its participants and snapshot. Deleting a missing
	// session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	PutParticipant(ctx context.Context, sessionID string, participant domain.Participant) error
	GetParticipant(ctx context.Context, sessionID, name string) (domain.Participant, error)
	DeleteParticipant(ctx context.Context, sessionID, name string) error
	// ListParticipants returns participants ordered by name.
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)

	// SaveSnapshot keeps the first snapshot written for a session and ignores later ones.
	SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error
	// LoadSnapshot reports ok=false with a nil error when no snapshot exists. A missing session
	// reads as no snapshot.
	LoadSnapshot(ctx context.Context, sessionID string) (domain.Snapshot, bool, error)

	// Watch delivers every write to the session and its participants, including the caller's
	// own, in write order. The caller must invoke the returned cancel function.
	Watch(ctx context.Context, sessionID string) (<-chan domain.Event, func(), error)
}

// SurveyRepository loads survey content (from cache/backing store).
type SurveyRepository interface {
	GetSurvey(ctx context.Context, surveyID string) (domain.Survey, error)
}

// SurveyInvalidator is implemented by survey caches that can drop one survey so the next read
// reaches the backing store.
type SurveyInvalidator interface {
	Invalidate(ctx context.Context, surveyID string) error
}
