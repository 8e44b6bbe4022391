// internal/models/question.go
package models

// NoAnswer is the selected option recorded when a player lets the clock run
// out or sends an index outside the option list.
const NoAnswer = -1

// Question is a single multiple-choice prompt.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"` // index into Options
	Points        int      `json:"points"`
	TimeLimit     int      `json:"timeLimit"` // seconds
	Category      string   `json:"category,omitempty"`
}

// PublicQuestion is what players see while a question is open.
type PublicQuestion struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Options   []string `json:"options"`
	Points    int      `json:"points"`
	TimeLimit int      `json:"timeLimit"`
	Category  string   `json:"category,omitempty"`
}

// Public strips the correct answer.
func (q Question) Public() PublicQuestion {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return PublicQuestion{
		ID:        q.ID,
		Text:      q.Text,
		Options:   opts,
		Points:    q.Points,
		TimeLimit: q.TimeLimit,
		Category:  q.Category,
	}
}

// CustomQuestion is a host-authored question as submitted by the client.
// Points are not host-controlled.
type CustomQuestion struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	TimeLimit     int      `json:"timeLimit"`
}
