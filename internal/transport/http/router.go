package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"live-survey-service/internal/app"
	"live-survey-service/internal/domain"
	"live-survey-service/internal/metrics"
)

// NewRouter wires the organizer REST API, the websocket endpoint, health and metrics.
func NewRouter(service *app.SessionService, surveys app.SurveyRepository) http.Handler {
	api := &restHandler{service: service, surveys: surveys}
	ws := NewWSHandler(service)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	// the websocket route stays outside the metrics middleware, which cannot hijack connections
	r.HandleFunc("/ws", ws.ServeWS).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(metrics.Middleware)
	v1.HandleFunc("/sessions", api.createSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", api.getSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", api.teardown).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id}/survey", api.attachSurvey).Methods(http.MethodPut)
	v1.HandleFunc("/sessions/{id}/results", api.results).Methods(http.MethodGet)
	v1.HandleFunc("/surveys/{id}", api.getSurvey).Methods(http.MethodGet)
	return r
}

type restHandler struct {
	service *app.SessionService
	surveys app.SurveyRepository
}

type createSessionRequest struct {
	ID       string `json:"id"`
	SurveyID string `json:"surveyId"`
}

type attachSurveyRequest struct {
	SurveyID string `json:"surveyId"`
}

type sessionResponse struct {
	Session domain.Session `json:"session"`
	State   domain.State   `json:"state"`
}

func (h *restHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	session, err := h.service.CreateSession(r.Context(), req.ID, req.SurveyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *restHandler) getSession(w http.ResponseWriter, r *http.Request) {
	session, state, err := h.service.Observe(r.Context(), mux.Vars(r)["id"], "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: session, State: state})
}

func (h *restHandler) attachSurvey(w http.ResponseWriter, r *http.Request) {
	var req attachSurveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SurveyID == "" {
		http.Error(w, "surveyId is required", http.StatusBadRequest)
		return
	}
	session, err := h.service.AttachSurvey(r.Context(), mux.Vars(r)["id"], req.SurveyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *restHandler) teardown(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Teardown(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandler) results(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.Results(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *restHandler) getSurvey(w http.ResponseWriter, r *http.Request) {
	survey, err := h.surveys.GetSurvey(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, survey)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSurveyNotFound),
		errors.Is(err, domain.ErrParticipantNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExists), errors.Is(err, domain.ErrSessionStarted),
		errors.Is(err, domain.ErrResultsNotReady), errors.Is(err, domain.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAnswerShape), errors.Is(err, domain.ErrEmptyQuestionSet),
		errors.Is(err, domain.ErrNoSurveyAttached), errors.Is(err, domain.ErrIdentityRequired):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSpectatorForbidden):
		status = http.StatusForbidden
	}
	writeJSON(w, status, errorPayload{Message: err.Error()})
}
