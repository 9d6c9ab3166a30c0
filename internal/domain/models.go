package domain

import (
	"sort"
	"time"
)

// QuestionType is the closed set of answer shapes a question accepts.
type QuestionType string

const (
	SingleChoiceType         QuestionType = "single-choice"
	RankedOrderType          QuestionType = "ranked-order"
	PairedAssociationType    QuestionType = "paired-association"
	BinaryCategorizationType QuestionType = "binary-categorization"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case SingleChoiceType, RankedOrderType, PairedAssociationType, BinaryCategorizationType:
		return true
	}
	return false
}

// Option is one selectable item of a question.
type Option struct {
	Text  string `json:"text" yaml:"text"`
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
}

// Question models one survey item. CategoryA/CategoryB are only used by binary categorization.
type Question struct {
	ID        string       `json:"id" yaml:"id"`
	Text      string       `json:"text" yaml:"text"`
	Type      QuestionType `json:"type" yaml:"type"`
	Options   []Option     `json:"options" yaml:"options"`
	CategoryA string       `json:"categoryA,omitempty" yaml:"categoryA,omitempty"`
	CategoryB string       `json:"categoryB,omitempty" yaml:"categoryB,omitempty"`
}

// Survey is an ordered, reusable set of questions.
type Survey struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// SortQuestions orders questions by id, which defines the question sequence index.
func SortQuestions(questions []Question) {
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].ID < questions[j].ID
	})
}

// Session is the shared record every client treats as the source of truth for phase transitions.
type Session struct {
	ID                   string     `json:"id"`
	SurveyID             string     `json:"surveyId,omitempty"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	IsActive             bool       `json:"isActive"`
	AdminID              string     `json:"adminId,omitempty"`
	TimerEndsAt          *time.Time `json:"questionTimerEndTime,omitempty"`
	ResultsMode          bool       `json:"resultsMode"`
	CurrentResultIndex   int        `json:"currentResultIndex"`
	Version              int64      `json:"version"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// LobbyIndex is the question index of a session that has not started.
const LobbyIndex = -1

// NewSession returns a session in the lobby.
func NewSession(id, surveyID string, now time.Time) Session {
	return Session{
		ID:                   id,
		SurveyID:             surveyID,
		CurrentQuestionIndex: LobbyIndex,
		Version:              1,
		CreatedAt:            now,
	}
}

// Participant is one joined user. Name is the identity within a session.
type Participant struct {
	Name      string    `json:"name"`
	Answers   Answers   `json:"answers"`
	Score     int       `json:"score"`
	Spectator bool      `json:"spectator,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Role describes what a client may do in a session.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
	RoleSpectator   Role = "spectator"
)

// EventType classifies store change notifications.
type EventType string

const (
	EventSessionUpdated      EventType = "session-updated"
	EventSessionDeleted      EventType = "session-deleted"
	EventParticipantsChanged EventType = "participants-changed"
)

// Event is a change notification for one session and its sub-records.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"sessionId"`
	Session     *Session  `json:"session,omitempty"`
	Participant string    `json:"participant,omitempty"`
}
