package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"live-survey-service/internal/domain"
)

// SessionStore keeps session state in Redis so every server instance sees the same record.
//
//	survey:session:{id}               JSON session record (versioned, written under WATCH)
//	survey:session:{id}:participants  HASH name -> participant JSON
//	survey:session:{id}:snapshot      JSON finalized answers (SETNX)
//	survey:session:{id}:events        pub/sub channel of domain.Event
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) key(sessionID string) string {
	return "survey:session:" + sessionID
}

func (s *SessionStore) participantsKey(sessionID string) string {
	return s.key(sessionID) + ":participants"
}

func (s *SessionStore) snapshotKey(sessionID string) string {
	return s.key(sessionID) + ":snapshot"
}

func (s *SessionStore) channel(sessionID string) string {
	return s.key(sessionID) + ":events"
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.readSession(ctx, s.client, sessionID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *SessionStore) readSession(ctx context.Context, c getter, sessionID string) (domain.Session, error) {
	data, err := c.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(session.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return domain.ErrSessionExists
	}
	s.publish(ctx, domain.Event{Type: domain.EventSessionUpdated, SessionID: session.ID, Session: &session})
	return nil
}

// UpdateSession is an optimistic transaction: the write only commits if nobody touched the key
// between our read and EXEC, and the stored version still matches.
func (s *SessionStore) UpdateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	key := s.key(session.ID)
	var written domain.Session
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.readSession(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		if current.Version != session.Version {
			return domain.ErrVersionConflict
		}
		written = session
		written.Version++
		data, err := json.Marshal(written)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.Session{}, domain.ErrVersionConflict
	}
	if err != nil {
		return domain.Session{}, err
	}
	s.publish(ctx, domain.Event{Type: domain.EventSessionUpdated, SessionID: session.ID, Session: &written})
	return written, nil
}

func (s *SessionStore) ClaimAdmin(ctx context.Context, sessionID, identity string) (domain.Session, bool, error) {
	key := s.key(sessionID)
	var (
		result  domain.Session
		claimed bool
	)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.readSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if current.AdminID != "" {
			result, claimed = current, false
			return nil
		}
		current.AdminID = identity
		current.Version++
		data, err := json.Marshal(current)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		}); err != nil {
			return err
		}
		result, claimed = current, true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// someone else wrote first; whoever it was, re-read and report the current admin
		current, err := s.GetSession(ctx, sessionID)
		return current, current.AdminID == identity, err
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	if claimed {
		s.publish(ctx, domain.Event{Type: domain.EventSessionUpdated, SessionID: sessionID, Session: &result})
	}
	return result, claimed, nil
}

// DeleteSession removes sub-records before the parent so a partial failure leaves a session that
// a retry can delete again.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.participantsKey(sessionID), s.snapshotKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session records: %w", err)
	}
	n, err := s.client.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n > 0 {
		s.publish(ctx, domain.Event{Type: domain.EventSessionDeleted, SessionID: sessionID})
	}
	return nil
}

func (s *SessionStore) PutParticipant(ctx context.Context, sessionID string, participant domain.Participant) error {
	exists, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}
	data, err := json.Marshal(participant)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.participantsKey(sessionID), participant.Name, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.participantsKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put participant: %w", err)
	}
	s.publish(ctx, domain.Event{Type: domain.EventParticipantsChanged, SessionID: sessionID, Participant: participant.Name})
	return nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, sessionID, name string) (domain.Participant, error) {
	data, err := s.client.HGet(ctx, s.participantsKey(sessionID), name).Bytes()
	if errors.Is(err, redis.Nil) {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return domain.Participant{}, err
		}
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	var participant domain.Participant
	if err := json.Unmarshal(data, &participant); err != nil {
		return domain.Participant{}, fmt.Errorf("unmarshal participant: %w", err)
	}
	return participant, nil
}

func (s *SessionStore) DeleteParticipant(ctx context.Context, sessionID, name string) error {
	n, err := s.client.HDel(ctx, s.participantsKey(sessionID), name).Result()
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	if n > 0 {
		s.publish(ctx, domain.Event{Type: domain.EventParticipantsChanged, SessionID: sessionID, Participant: name})
	}
	return nil
}

// ListParticipants skips records that cannot be decoded; one corrupt participant must not hide
// everybody else.
func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	raw, err := s.client.HGetAll(ctx, s.participantsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(raw))
	for name, data := range raw {
		var participant domain.Participant
		if err := json.Unmarshal([]byte(data), &participant); err != nil {
			log.Printf("session %s: skipping corrupt participant record %q: %v", sessionID, name, err)
			continue
		}
		out = append(out, participant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *SessionStore) SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := s.client.SetNX(ctx, s.snapshotKey(snapshot.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SessionStore) LoadSnapshot(ctx context.Context, sessionID string) (domain.Snapshot, bool, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, true, nil
}

// Watch subscribes to the session's event channel. The subscription is confirmed before
// returning so no write made after Watch returns can be missed.
func (s *SessionStore) Watch(ctx context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	sub := s.client.Subscribe(ctx, s.channel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe session %s: %w", sessionID, err)
	}

	out := make(chan domain.Event, 32)
	done := make(chan struct{})
	go func() {
		defer close(out)
		messages := sub.Channel()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("session %s: bad event payload: %v", sessionID, err)
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}

// publish is best effort: watchers re-read the record, so a lost notification only delays them.
func (s *SessionStore) publish(ctx context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.channel(ev.SessionID), data).Err(); err != nil {
		log.Printf("session %s: publish %s: %v", ev.SessionID, ev.Type, err)
	}
}
