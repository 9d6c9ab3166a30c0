package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-survey-service/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	if err := store.CreateSession(ctx, domain.NewSession("s1", "team", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateSession(ctx, domain.NewSession("s1", "team", time.Now())); !errors.Is(err, domain.ErrSessionExists) {
		t.Fatalf("expected duplicate create to fail, got %v", err)
	}
	if err := store.PutParticipant(ctx, "s1", domain.Participant{Name: "alice"}); err != nil {
		t.Fatalf("put participant: %v", err)
	}
	if err := store.SaveSnapshot(ctx, domain.Snapshot{SessionID: "s1"}); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetSession(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session removed, got %v", err)
	}
	if _, err := store.GetParticipant(ctx, "s1", "alice"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected participants removed with the session, got %v", err)
	}
	if _, ok, err := store.LoadSnapshot(ctx, "s1"); err != nil || ok {
		t.Fatalf("expected a deleted session to read as no snapshot, got ok=%v err=%v", ok, err)
	}
	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("expected repeated delete to succeed, got %v", err)
	}
}

func TestSessionStoreRejectsStaleWrites(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	if err := store.CreateSession(ctx, domain.NewSession("s1", "team", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := store.GetSession(ctx, "s1")
	second, _ := store.GetSession(ctx, "s1")

	first.CurrentQuestionIndex = 0
	updated, err := store.UpdateSession(ctx, first)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != first.Version+1 {
		t.Fatalf("expected version bump, got %d", updated.Version)
	}

	second.CurrentQuestionIndex = 5
	if _, err := store.UpdateSession(ctx, second); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if got, _ := store.GetSession(ctx, "s1"); got.CurrentQuestionIndex != 0 {
		t.Fatalf("stale write was applied: %+v", got)
	}
}

func TestSessionStoreClaimAdminOnce(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
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

func TestSessionStoreSnapshotFirstWins(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	if _, ok, err := store.LoadSnapshot(ctx, "s1"); err != nil || ok {
		t.Fatalf("expected no snapshot for an unknown session, got ok=%v err=%v", ok, err)
	}
	if err := store.CreateSession(ctx, domain.NewSession("s1", "", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	first := domain.Snapshot{SessionID: "s1", Participants: []domain.Participant{
		{Name: "alice", Answers: domain.Answers{0: domain.RankedOrder{1, 0}}},
	}}
	if err := store.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	// mutating the caller's slice must not leak into the stored snapshot
	first.Participants[0].Answers[0].(domain.RankedOrder)[0] = 9
	if err := store.SaveSnapshot(ctx, domain.Snapshot{SessionID: "s1"}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	snapshot, ok, err := store.LoadSnapshot(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if len(snapshot.Participants) != 1 {
		t.Fatalf("expected the first snapshot to win, got %+v", snapshot)
	}
	if got := snapshot.Participants[0].Answers[0].(domain.RankedOrder)[0]; got != 1 {
		t.Fatalf("stored snapshot shares memory with the caller: %d", got)
	}
}

func TestSessionStoreWatch(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	if err := store.CreateSession(ctx, domain.NewSession("s1", "", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	events, cancel, err := store.Watch(ctx, "s1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if err := store.PutParticipant(ctx, "s1", domain.Participant{Name: "alice"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ev := <-events; ev.Type != domain.EventParticipantsChanged || ev.Participant != "alice" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ev := <-events; ev.Type != domain.EventSessionDeleted {
		t.Fatalf("expected deletion event, got %+v", ev)
	}
}

func TestSessionStoreSlowWatcherKeepsLatest(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	if err := store.CreateSession(ctx, domain.NewSession("s1", "", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	events, cancel, _ := store.Watch(ctx, "s1")
	defer cancel()

	for i := 0; i < 100; i++ {
		session, _ := store.GetSession(ctx, "s1")
		session.CurrentResultIndex = i
		if _, err := store.UpdateSession(ctx, session); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	var last domain.Event
	for len(events) > 0 {
		last = <-events
	}
	if last.Session == nil || last.Session.CurrentResultIndex != 99 {
		t.Fatalf("expected the newest update to survive, got %+v", last)
	}
}
