package app

import (
	"context"
	"errors"
	"log"
	"time"

	"live-survey-service/internal/domain"
)

const cutoverRetry = 100 * time.Millisecond

// View is what one client should render for a session.
type View struct {
	SessionID string        `json:"sessionId"`
	Identity  string        `json:"identity"`
	Role      domain.Role   `json:"role"`
	State     domain.State  `json:"state"`
	Remaining time.Duration `json:"remaining"`
	AdminID   string        `json:"adminId"`
	Closed    bool          `json:"closed,omitempty"`
	// Stale is set when the latest read failed and this view repeats the last good one.
	Stale bool `json:"stale,omitempty"`
}

// Follower is the per-client sync loop. It watches the shared session record, keeps the last
// good view, and runs the local countdown derived from the shared end timestamp. Only when its
// identity is the admin does it write: the cutover when the countdown elapses, and the results
// correction in Observe.
type Follower struct {
	service   *SessionService
	sessionID string
	identity  string
	now       func() time.Time

	views chan View
	last  View
	seen  bool

	timer   *time.Timer
	timerAt time.Time
}

func NewFollower(service *SessionService, sessionID, identity string) *Follower {
	return &Follower{
		service:   service,
		sessionID: sessionID,
		identity:  identity,
		now:       service.now,
		views:     make(chan View, 16),
	}
}

// Views returns the stream of views. It is closed when Run returns.
func (f *Follower) Views() <-chan View {
	return f.views
}

// Run follows the session until ctx is canceled or the session disappears.
func (f *Follower) Run(ctx context.Context) error {
	defer close(f.views)
	defer f.stopTimer()

	events, cancel, err := f.service.Subscribe(ctx, f.sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			f.emit(View{SessionID: f.sessionID, Identity: f.identity, Closed: true})
		}
		return err
	}
	defer cancel()

	if f.refresh(ctx) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == domain.EventSessionDeleted {
				f.close()
				return nil
			}
			if f.refresh(ctx) {
				return nil
			}
		case <-f.timerC():
			f.timer = nil
			if f.onDeadline(ctx) {
				return nil
			}
		}
	}
}

// refresh re-reads the session and emits a view. It reports true once the session is gone.
func (f *Follower) refresh(ctx context.Context) bool {
	session, state, err := f.service.Observe(ctx, f.sessionID, f.identity)
	if errors.Is(err, domain.ErrSessionNotFound) {
		f.close()
		return true
	}
	if err != nil {
		// keep showing the last good view on transient failures
		log.Printf("session %s: refresh for %s failed: %v", f.sessionID, f.identity, err)
		if f.seen {
			stale := f.last
			stale.Stale = true
			f.emit(stale)
		}
		return false
	}

	role, err := f.service.Role(ctx, session, f.identity)
	if err != nil {
		role = domain.RoleSpectator
		if session.AdminID == f.identity {
			role = domain.RoleAdmin
		}
	}

	view := View{
		SessionID: f.sessionID,
		Identity:  f.identity,
		Role:      role,
		State:     state,
		Remaining: state.Remaining(f.now()),
		AdminID:   session.AdminID,
	}
	f.schedule(state)
	f.last = view
	f.seen = true
	f.emit(view)
	return false
}

// onDeadline fires when the local countdown reaches zero. The admin performs the cutover; every
// other client projects the next question locally until the shared record catches up.
func (f *Follower) onDeadline(ctx context.Context) bool {
	if f.last.Role == domain.RoleAdmin {
		_, outcome, err := f.service.CompleteTransition(ctx, f.sessionID, f.identity)
		if errors.Is(err, domain.ErrSessionNotFound) {
			f.close()
			return true
		}
		if err != nil {
			log.Printf("session %s: cutover by %s failed: %v", f.sessionID, f.identity, err)
		}
		if err != nil || outcome == OutcomeNoop {
			// the shared clock may lag ours; try again shortly
			f.timer = time.NewTimer(cutoverRetry)
		}
		return false
	}

	projected := f.last
	if projected.State.Phase == domain.PhaseTransitionDelay {
		projected.State = domain.State{
			Phase:    domain.PhaseQuestion,
			Question: projected.State.Question + 1,
			Total:    projected.State.Total,
		}
		projected.Remaining = 0
		f.last = projected
		f.emit(projected)
	}
	return false
}

func (f *Follower) schedule(state domain.State) {
	if state.Phase != domain.PhaseTransitionDelay {
		f.stopTimer()
		return
	}
	if f.timer != nil && f.timerAt.Equal(state.EndsAt) {
		return
	}
	f.stopTimer()
	f.timerAt = state.EndsAt
	f.timer = time.NewTimer(state.Remaining(f.now()))
}

func (f *Follower) timerC() <-chan time.Time {
	if f.timer == nil {
		return nil
	}
	return f.timer.C
}

func (f *Follower) stopTimer() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Follower) close() {
	f.stopTimer()
	f.emit(View{SessionID: f.sessionID, Identity: f.identity, Closed: true})
}

// emit never blocks: a slow reader loses the oldest pending view.
func (f *Follower) emit(view View) {
	select {
	case f.views <- view:
	default:
		select {
		case <-f.views:
		default:
		}
		f.views <- view
	}
}
