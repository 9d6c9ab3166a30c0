package memory

import (
	"context"
	"sort"
	"sync"

	"live-survey-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. A single mutex serializes
// every write, which makes the conditional operations atomic.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*record
	watchers map[string]map[chan domain.Event]struct{}
}

type record struct {
	session      domain.Session
	participants map[string]domain.Participant
	snapshot     *domain.Snapshot
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*record),
		watchers: make(map[string]map[chan domain.Event]struct{}),
	}
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(rec.session), nil
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return domain.ErrSessionExists
	}
	s.sessions[session.ID] = &record{
		session:      cloneSession(session),
		participants: make(map[string]domain.Participant),
	}
	s.notifyLocked(session.ID, domain.EventSessionUpdated, &session, "")
	return nil
}

func (s *SessionStore) UpdateSession(_ context.Context, session domain.Session) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[session.ID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if rec.session.Version != session.Version {
		return domain.Session{}, domain.ErrVersionConflict
	}
	session.Version++
	rec.session = cloneSession(session)
	s.notifyLocked(session.ID, domain.EventSessionUpdated, &session, "")
	return cloneSession(session), nil
}

func (s *SessionStore) ClaimAdmin(_ context.Context, sessionID, identity string) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, false, domain.ErrSessionNotFound
	}
	if rec.session.AdminID != "" {
		return cloneSession(rec.session), false, nil
	}
	rec.session.AdminID = identity
	rec.session.Version++
	session := cloneSession(rec.session)
	s.notifyLocked(sessionID, domain.EventSessionUpdated, &session, "")
	return session, true, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil
	}
	delete(s.sessions, sessionID)
	s.notifyLocked(sessionID, domain.EventSessionDeleted, nil, "")
	return nil
}

func (s *SessionStore) PutParticipant(_ context.Context, sessionID string, participant domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	rec.participants[participant.Name] = cloneParticipant(participant)
	s.notifyLocked(sessionID, domain.EventParticipantsChanged, nil, participant.Name)
	return nil
}

func (s *SessionStore) GetParticipant(_ context.Context, sessionID, name string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	participant, ok := rec.participants[name]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return cloneParticipant(participant), nil
}

func (s *SessionStore) DeleteParticipant(_ context.Context, sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if _, ok := rec.participants[name]; !ok {
		return nil
	}
	delete(rec.participants, name)
	s.notifyLocked(sessionID, domain.EventParticipantsChanged, nil, name)
	return nil
}

func (s *SessionStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Participant, 0, len(rec.participants))
	for _, p := range rec.participants {
		out = append(out, cloneParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *SessionStore) SaveSnapshot(_ context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[snapshot.SessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if rec.snapshot != nil {
		return nil
	}
	participants := make([]domain.Participant, len(snapshot.Participants))
	for i, p := range snapshot.Participants {
		participants[i] = cloneParticipant(p)
	}
	snapshot.Participants = participants
	rec.snapshot = &snapshot
	return nil
}

func (s *SessionStore) LoadSnapshot(_ context.Context, sessionID string) (domain.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok || rec.snapshot == nil {
		return domain.Snapshot{}, false, nil
	}
	return *rec.snapshot, true, nil
}

func (s *SessionStore) Watch(_ context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, 32)

	s.mu.Lock()
	if s.watchers[sessionID] == nil {
		s.watchers[sessionID] = make(map[chan domain.Event]struct{})
	}
	s.watchers[sessionID][ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		watchers := s.watchers[sessionID]
		if _, ok := watchers[ch]; ok {
			delete(watchers, ch)
			close(ch)
			if len(watchers) == 0 {
				delete(s.watchers, sessionID)
			}
		}
	}
	return ch, cancel, nil
}

func (s *SessionStore) notifyLocked(sessionID string, typ domain.EventType, session *domain.Session, participant string) {
	ev := domain.Event{Type: typ, SessionID: sessionID, Participant: participant}
	if session != nil {
		copied := cloneSession(*session)
		ev.Session = &copied
	}
	for ch := range s.watchers[sessionID] {
		select {
		case ch <- ev:
		default:
			// drop the oldest update so a slow watcher never blocks writers
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func cloneSession(session domain.Session) domain.Session {
	if session.TimerEndsAt != nil {
		endsAt := *session.TimerEndsAt
		session.TimerEndsAt = &endsAt
	}
	return session
}

func cloneParticipant(p domain.Participant) domain.Participant {
	answers := make(domain.Answers, len(p.Answers))
	for idx, answer := range p.Answers {
		answers[idx] = cloneAnswer(answer)
	}
	p.Answers = answers
	return p
}

func cloneAnswer(answer domain.Answer) domain.Answer {
	switch a := answer.(type) {
	case domain.RankedOrder:
		return append(domain.RankedOrder(nil), a...)
	case domain.PairedAssociation:
		return append(domain.PairedAssociation(nil), a...)
	case domain.BinaryCategorization:
		out := make(domain.BinaryCategorization, len(a))
		for k, v := range a {
			out[k] = v
		}
		return out
	}
	return answer
}
