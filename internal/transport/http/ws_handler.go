package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"live-survey-service/internal/app"
	"live-survey-service/internal/domain"
	"live-survey-service/internal/metrics"
)

type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex int             `json:"questionIndex"`
	Answer        json.RawMessage `json:"answer"`
}

type answerAccepted struct {
	QuestionIndex int `json:"questionIndex"`
}

type outcomePayload struct {
	Action  string      `json:"action"`
	Outcome app.Outcome `json:"outcome"`
}

type resultsPayload struct {
	Page        int                  `json:"page"`
	Total       int                  `json:"total"`
	Question    domain.Question      `json:"question"`
	Stats       domain.QuestionStats `json:"stats"`
	ClearWinner *int                 `json:"clearWinner,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// ServeWS upgrades HTTP requests to websockets and keeps one client in sync with its session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	name := r.URL.Query().Get("name")
	if sessionID == "" || name == "" {
		http.Error(w, "missing sessionId or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	joined, err := h.service.Join(r.Context(), sessionID, name)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer h.leave(sessionID, name)

	follower := app.NewFollower(h.service, sessionID, name)
	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		if err := follower.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("session %s: follower for %s stopped: %v", sessionID, name, err)
		}
	}()

	go func() {
		defer close(updatesDone)
		lastPage := -1
		for view := range follower.Views() {
			for _, msg := range h.viewMessages(ctx, view, &lastPage) {
				select {
				case send <- msg:
				case <-closeSignals:
					return
				}
			}
		}
	}()

	deliver := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	deliver(outboundMessage[any]{Type: "joined", Payload: joined})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if inbound.Type == "leave" {
			break
		}
		deliver(h.handle(ctx, sessionID, name, inbound))
	}

	close(closeSignals)
	cancel()
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(ctx context.Context, sessionID, name string, inbound inboundMessage) outboundMessage[any] {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
		}
		answer, err := domain.DecodeAnswer(payload.Answer)
		if err != nil {
			return errorMessage(err)
		}
		if err := h.service.SubmitAnswer(ctx, sessionID, name, payload.QuestionIndex, answer); err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: "answerAccepted", Payload: answerAccepted{QuestionIndex: payload.QuestionIndex}}
	case "start", "advance", "next", "previous":
		var (
			outcome app.Outcome
			err     error
		)
		switch inbound.Type {
		case "start":
			_, outcome, err = h.service.Start(ctx, sessionID, name)
		case "advance":
			_, outcome, err = h.service.Advance(ctx, sessionID, name)
		case "next":
			_, outcome, err = h.service.NextResult(ctx, sessionID, name)
		case "previous":
			_, outcome, err = h.service.PreviousResult(ctx, sessionID, name)
		}
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: "outcome", Payload: outcomePayload{Action: inbound.Type, Outcome: outcome}}
	}
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
}

// viewMessages turns a view into frames: always the state, plus the current results page
// whenever it changes.
func (h *WSHandler) viewMessages(ctx context.Context, view app.View, lastPage *int) []outboundMessage[any] {
	if view.Closed {
		return []outboundMessage[any]{{Type: "closed", Payload: view}}
	}
	msgs := []outboundMessage[any]{{Type: "state", Payload: view}}
	if view.State.Phase != domain.PhaseResults || view.State.Result == *lastPage {
		return msgs
	}

	page, err := h.resultsPage(ctx, view.SessionID, view.State.Result)
	if err != nil {
		// keep the last good page on screen; the next view retries
		log.Printf("session %s: results page %d: %v", view.SessionID, view.State.Result, err)
		return msgs
	}
	*lastPage = view.State.Result
	return append(msgs, outboundMessage[any]{Type: "results", Payload: page})
}

func (h *WSHandler) resultsPage(ctx context.Context, sessionID string, page int) (resultsPayload, error) {
	results, err := h.service.Results(ctx, sessionID)
	if err != nil {
		return resultsPayload{}, err
	}
	session, err := h.service.GetSession(ctx, sessionID)
	if err != nil {
		return resultsPayload{}, err
	}
	survey, err := h.service.Survey(ctx, session)
	if err != nil {
		return resultsPayload{}, err
	}
	if page < 0 || page >= len(results.Questions) || page >= len(survey.Questions) {
		return resultsPayload{}, domain.ErrQuestionNotFound
	}
	payload := resultsPayload{
		Page:     page,
		Total:    len(results.Questions),
		Question: survey.Questions[page],
		Stats:    results.Questions[page],
	}
	if stats := results.Questions[page].Choice; stats != nil {
		if winner, ok := stats.ClearWinner(); ok {
			payload.ClearWinner = &winner
		}
	}
	return payload, nil
}

func (h *WSHandler) leave(sessionID, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.service.Leave(ctx, sessionID, name); err != nil {
		log.Printf("session %s: leave for %s failed: %v", sessionID, name, err)
	}
}
