// internal/game/events.go
package game

import "github.com/jason-s-yu/tablestakes/internal/models"

// EventType names an outbound notification.
type EventType string

const (
	EventSessionCreated     EventType = "session-created"     // creator only
	EventSessionJoined      EventType = "session-joined"      // joining player only
	EventPlayerJoined       EventType = "player-joined"       // room
	EventPlayerDisconnected EventType = "player-disconnected" // room
	EventPlayerReconnected  EventType = "player-reconnected"  // room
	EventStateChanged       EventType = "state-changed"       // room
	EventQuestionStarted    EventType = "question-started"    // room
	EventAnswerReceived     EventType = "answer-received"     // submitter + room
	EventQuestionEnded      EventType = "question-ended"      // room
	EventLeaderboardUpdated EventType = "leaderboard-updated" // room
	EventSessionFinished    EventType = "session-finished"    // room
	EventQuestionsUpdated   EventType = "questions-updated"   // host only
	EventError              EventType = "error"               // caller only
	EventPong               EventType = "pong"
)

// Event is the single outbound message shape. Only the fields relevant to
// Type are populated.
type Event struct {
	Type EventType `json:"type"`

	Session       *models.GameSession    `json:"session,omitempty"`
	Player        *models.Player         `json:"player,omitempty"`
	State         models.GameState       `json:"state,omitempty"`
	Question      *models.PublicQuestion `json:"question,omitempty"`
	TimeLimit     int                    `json:"timeLimit,omitempty"`
	Answer        *models.Answer         `json:"answer,omitempty"`
	QuestionID    string                 `json:"questionId,omitempty"`
	CorrectAnswer *int                   `json:"correctAnswer,omitempty"` // question-ended only
	Answers       []models.Answer        `json:"answers,omitempty"`
	Teams         []models.Team          `json:"teams,omitempty"`
	Results       []models.GameResult    `json:"results,omitempty"`
	Questions     []models.Question      `json:"questions,omitempty"`

	// RejoinToken is only set on session-joined.
	RejoinToken string `json:"rejoinToken,omitempty"`

	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorEvent builds the error notification for err.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Kind: KindOf(err), Message: err.Error()}
}
