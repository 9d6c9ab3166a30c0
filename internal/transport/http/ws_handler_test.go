package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"live-survey-service/internal/app"
	"live-survey-service/internal/domain"
	"live-survey-service/internal/infra/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.SessionService) {
	t.Helper()
	store := memory.NewSessionStore()
	surveys := memory.NewSurveyRepository(memory.NewStaticSurveyLoader(sampleSurveys()), time.Minute)
	service := app.NewSessionService(store, surveys, app.WithTransitionDelay(100*time.Millisecond))
	server := httptest.NewServer(NewRouter(service, surveys))
	t.Cleanup(server.Close)
	return server, service
}

func dial(t *testing.T, server *httptest.Server, sessionID, name string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?sessionId=" + sessionID + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSurveyFlow(t *testing.T) {
	server, service := newTestServer(t)
	if _, err := service.CreateSession(context.Background(), "s1", "team"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	alice := dial(t, server, "s1", "alice")
	_, joined := readNext(alice, t, "joined")
	if joined["role"] != string(domain.RoleAdmin) {
		t.Fatalf("expected alice to join as admin, got %v", joined["role"])
	}
	bob := dial(t, server, "s1", "bob")
	_, joined = readNext(bob, t, "joined")
	if joined["role"] != string(domain.RoleParticipant) {
		t.Fatalf("expected bob to join as participant, got %v", joined["role"])
	}

	// a participant's control is ignored, not rejected
	send(t, bob, "start", nil)
	if outcome := readUntil(bob, t, "outcome"); outcome["outcome"] != string(app.OutcomeIgnored) {
		t.Fatalf("expected ignored start, got %v", outcome)
	}

	send(t, alice, "start", nil)
	if outcome := readUntil(alice, t, "outcome"); outcome["outcome"] != string(app.OutcomeApplied) {
		t.Fatalf("expected applied start, got %v", outcome)
	}
	waitForPhase(t, bob, domain.PhaseQuestion, 0)

	send(t, bob, "answer", map[string]any{
		"questionIndex": 0,
		"answer":        map[string]any{"type": "single-choice", "value": 1},
	})
	if accepted := readUntil(bob, t, "answerAccepted"); accepted["questionIndex"] != float64(0) {
		t.Fatalf("unexpected accepted payload %v", accepted)
	}

	send(t, bob, "answer", map[string]any{
		"questionIndex": 0,
		"answer":        map[string]any{"type": "ranked-order", "value": []int{0, 1}},
	})
	readUntil(bob, t, "error")

	send(t, alice, "advance", nil)
	readUntil(alice, t, "outcome")
	waitForPhase(t, bob, domain.PhaseTransitionDelay, 0)
	waitForPhase(t, bob, domain.PhaseQuestion, 1)
}

func TestWebSocketResultsPages(t *testing.T) {
	server, service := newTestServer(t)
	ctx := context.Background()
	if _, err := service.CreateSession(ctx, "s1", "solo"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	alice := dial(t, server, "s1", "alice")
	readNext(alice, t, "joined")
	send(t, alice, "start", nil)
	readUntil(alice, t, "outcome")
	send(t, alice, "answer", map[string]any{
		"questionIndex": 0,
		"answer":        map[string]any{"type": "single-choice", "value": 0},
	})
	readUntil(alice, t, "answerAccepted")

	send(t, alice, "advance", nil)
	page := readUntil(alice, t, "results")
	if page["page"] != float64(0) || page["clearWinner"] != float64(0) {
		t.Fatalf("unexpected results page %v", page)
	}

	send(t, alice, "next", nil)
	if outcome := readUntil(alice, t, "outcome"); outcome["outcome"] != string(app.OutcomeAllShown) {
		t.Fatalf("expected all-shown on the only page, got %v", outcome)
	}

	late := dial(t, server, "s1", "carol")
	_, joined := readNext(late, t, "joined")
	if joined["role"] != string(domain.RoleSpectator) {
		t.Fatalf("expected late joiner to spectate, got %v", joined["role"])
	}
}

func TestWebSocketRejectsUnknownSession(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "missing", "alice")
	readNext(conn, t, "error")
}

func TestRESTSessionLifecycle(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"id": "s9"})
	resp, err := http.Post(server.URL+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/v1/sessions/s9/survey", bytes.NewReader([]byte(`{"surveyId":"team"}`)))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/v1/sessions/s9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if got.Session.SurveyID != "team" || got.State.Phase != domain.PhaseLobby {
		t.Fatalf("unexpected session %+v", got)
	}

	resp, _ = http.Get(server.URL + "/v1/sessions/s9/results")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected results to conflict before the results phase, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, server.URL+"/v1/sessions/s9", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(server.URL + "/v1/sessions/s9")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after teardown, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(server.URL + "/healthz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", resp.StatusCode)
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

// readUntil skips frames until one of type expect arrives.
func readUntil(conn *websocket.Conn, t *testing.T, expect string) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == expect {
			return payload
		}
	}
	t.Fatalf("no %s frame received", expect)
	return nil
}

func waitForPhase(t *testing.T, conn *websocket.Conn, phase domain.Phase, question int) {
	t.Helper()
	for i := 0; i < 50; i++ {
		state := readUntil(conn, t, "state")["state"].(map[string]any)
		if state["phase"] == string(phase) && state["question"] == float64(question) {
			return
		}
	}
	t.Fatalf("never reached %s %d", phase, question)
}

func sampleSurveys() map[string]domain.Survey {
	return map[string]domain.Survey{
		"team": {
			ID: "team",
			Questions: []domain.Question{
				{ID: "q01", Type: domain.SingleChoiceType, Text: "Who is late?", Options: []domain.Option{{Text: "Alice"}, {Text: "Bob"}}},
				{ID: "q02", Type: domain.RankedOrderType, Text: "Rank the snacks", Options: []domain.Option{{Text: "Chips"}, {Text: "Fruit"}}},
			},
		},
		"solo": {
			ID: "solo",
			Questions: []domain.Question{
				{ID: "q01", Type: domain.SingleChoiceType, Text: "Tea or coffee?", Options: []domain.Option{{Text: "Tea"}, {Text: "Coffee"}}},
			},
		},
	}
}
