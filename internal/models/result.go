package models

// GameResult is the final line for one team.
type GameResult struct {
	TeamID              string  `json:"teamId"`
	TeamName            string  `json:"teamName"`
	FinalScore          int     `json:"finalScore"`
	CorrectAnswers      int     `json:"correctAnswers"`
	TotalAnswers        int     `json:"totalAnswers"`
	AverageResponseTime float64 `json:"averageResponseTime"` // milliseconds
	Position            int     `json:"position"`
}
