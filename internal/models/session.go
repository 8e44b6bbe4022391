// internal/models/session.go
package models

import "time"

// GameState is the lifecycle phase of a session.
type GameState string

const (
	StateWaiting GameState = "waiting"
	StateLobby   GameState = "lobby"
	StatePlaying GameState = "playing"
	// StateShowingResults is reserved for an explicit between-question gap.
	// PLAYING currently covers that gap.
	StateShowingResults GameState = "showing_results"
	StateFinished       GameState = "finished"
)

// GameSession is a point-in-time copy of a session, as sent to clients and
// returned by the HTTP endpoints.
type GameSession struct {
	ID                   string       `json:"id"`
	RoomCode             string       `json:"roomCode"`
	HostID               string       `json:"hostId"`
	Teams                []Team       `json:"teams"`
	Questions            []Question   `json:"questions,omitempty"`
	QuestionCount        int          `json:"questionCount"`
	CurrentQuestionIndex int          `json:"currentQuestionIndex"`
	GameState            GameState    `json:"gameState"`
	Settings             GameSettings `json:"settings"`
	CreatedAt            time.Time    `json:"createdAt"`
}
