package models

// Answer is one player's scored response to the open question.
type Answer struct {
	PlayerID       string `json:"playerId"`
	TeamID         string `json:"teamId"`
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	TimeToAnswer   int64  `json:"timeToAnswer"` // milliseconds since question start
	IsCorrect      bool   `json:"isCorrect"`
	Points         int    `json:"points"`
}
