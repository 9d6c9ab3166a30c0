package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"live-survey-service/internal/domain"
)

func newStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := newClient(mr)
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, time.Minute), mr
}

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, domain.NewSession("s1", "team", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("survey:session:s1") {
		t.Fatalf("expected redis key to be set")
	}
	if err := store.CreateSession(ctx, domain.NewSession("s1", "team", time.Now())); !errors.Is(err, domain.ErrSessionExists) {
		t.Fatalf("expected duplicate create to fail, got %v", err)
	}
	if err := store.PutParticipant(ctx, "s1", domain.Participant{Name: "alice", Answers: domain.Answers{0: domain.SingleChoice(1)}}); err != nil {
		t.Fatalf("put participant: %v", err)
	}
	if err := store.SaveSnapshot(ctx, domain.Snapshot{SessionID: "s1"}); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, key := range []string{"survey:session:s1", "survey:session:s1:participants", "survey:session:s1:snapshot"} {
		if mr.Exists(key) {
			t.Fatalf("expected %s to be removed", key)
		}
	}
	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("expected repeated delete to succeed, got %v", err)
	}
	if err := store.PutParticipant(ctx, "s1", domain.Participant{Name: "bob"}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected put on a deleted session to fail, got %v", err)
	}
}

func TestSessionStoreConditionalUpdate(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, domain.NewSession("s1", "team", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := store.GetSession(ctx, "s1")
	second, _ := store.GetSession(ctx, "s1")

	endsAt := time.Now().Add(10 * time.Second).UTC()
	first.CurrentQuestionIndex = 0
	first.TimerEndsAt = &endsAt
	updated, err := store.UpdateSession(ctx, first)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	second.CurrentQuestionIndex = 4
	if _, err := store.UpdateSession(ctx, second); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentQuestionIndex != 0 || got.TimerEndsAt == nil || !got.TimerEndsAt.Equal(endsAt) {
		t.Fatalf("unexpected stored session %+v", got)
	}
	if _, err := store.UpdateSession(ctx, domain.NewSession("missing", "", time.Now())); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected missing session, got %v", err)
	}
}

func TestSessionStoreClaimAdmin(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, domain.NewSession("s1", "", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	session, claimed, err := store.ClaimAdmin(ctx, "s1", "alice")
	if err != nil || !claimed || session.AdminID != "alice" {
		t.Fatalf("expected alice to claim admin, got %+v %v %v", session, claimed, err)
	}
	session, claimed, err = store.ClaimAdmin(ctx, "s1", "bob")
	if err != nil || claimed || session.AdminID != "alice" {
		t.Fatalf("expected bob's claim to lose, got %+v %v %v", session, claimed, err)
	}
}

func TestSessionStoreParticipants(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, domain.NewSession("s1", "", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	answers := domain.Answers{
		0: domain.SingleChoice(2),
		1: domain.PairedAssociation{0, 3},
		2: domain.BinaryCategorization{1: 1},
	}
	for _, name := range []string{"carol", "alice"} {
		if err := store.PutParticipant(ctx, "s1", domain.Participant{Name: name, Answers: answers}); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	mr.HSet("survey:session:s1:participants", "mallory", "{not json")

	participants, err := store.ListParticipants(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(participants) != 2 || participants[0].Name != "alice" || participants[1].Name != "carol" {
		t.Fatalf("expected alice and carol in order, got %+v", participants)
	}
	if cat, ok := participants[0].Answers[2].(domain.BinaryCategorization); !ok || cat[1] != 1 {
		t.Fatalf("expected answers to survive the round trip, got %#v", participants[0].Answers)
	}

	if _, err := store.GetParticipant(ctx, "s1", "dave"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
	if err := store.DeleteParticipant(ctx, "s1", "carol"); err != nil {
		t.Fatalf("delete participant: %v", err)
	}
	if _, err := store.GetParticipant(ctx, "s1", "carol"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected carol to be gone, got %v", err)
	}
}

func TestSessionStoreSnapshotFirstWins(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	if _, ok, err := store.LoadSnapshot(ctx, "s1"); err != nil || ok {
		t.Fatalf("expected no snapshot yet, got %v %v", ok, err)
	}
	first := domain.Snapshot{SessionID: "s1", Participants: []domain.Participant{{Name: "alice"}}}
	if err := store.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveSnapshot(ctx, domain.Snapshot{SessionID: "s1"}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	snapshot, ok, err := store.LoadSnapshot(ctx, "s1")
	if err != nil || !ok || len(snapshot.Participants) != 1 {
		t.Fatalf("expected the first snapshot, got %+v %v %v", snapshot, ok, err)
	}
}

func TestSessionStoreWatch(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, domain.NewSession("s1", "", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	events, cancel, err := store.Watch(ctx, "s1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if _, _, err := store.ClaimAdmin(ctx, "s1", "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	ev := nextEvent(t, events)
	if ev.Type != domain.EventSessionUpdated || ev.Session == nil || ev.Session.AdminID != "alice" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ev := nextEvent(t, events); ev.Type != domain.EventSessionDeleted {
		t.Fatalf("expected deletion event, got %+v", ev)
	}

	cancel()
	cancel()
}

func nextEvent(t *testing.T, events <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return domain.Event{}
}
