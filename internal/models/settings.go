// internal/models/settings.go
package models

// GameSettings is the host's configuration for a session.
type GameSettings struct {
	Rounds            int              `json:"rounds"`
	QuestionsPerRound int              `json:"questionsPerRound"`
	TimePerQuestion   int              `json:"timePerQuestion"` // seconds
	AllowTeamVoting   bool             `json:"allowTeamVoting"`
	EnableSpeedBonus  *bool            `json:"enableSpeedBonus"` // nil means on
	EnableStreakBonus bool             `json:"enableStreakBonus"`
	CustomQuestions   []CustomQuestion `json:"customQuestions"`
}

// SpeedBonus reports whether faster correct answers earn more. The bonus is
// on unless explicitly disabled.
func (s GameSettings) SpeedBonus() bool {
	return s.EnableSpeedBonus == nil || *s.EnableSpeedBonus
}
