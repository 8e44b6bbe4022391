// internal/game/content.go
package game

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tablestakes/internal/models"
)

// customQuestionPoints is the base value of every host-authored question.
const customQuestionPoints = 10

var (
	defaultTeamNames  = []string{"Table 1", "Table 2", "Table 3", "Table 4", "Table 5", "Table 6"}
	defaultTeamColors = []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD"}
)

// defaultTeams builds the fixed team roster every session starts with.
func defaultTeams() []*models.Team {
	teams := make([]*models.Team, len(defaultTeamNames))
	for i, name := range defaultTeamNames {
		teams[i] = &models.Team{
			ID:      fmt.Sprintf("team-%d", i+1),
			Name:    name,
			Color:   defaultTeamColors[i],
			Players: []*models.Player{},
		}
	}
	return teams
}

// defaultQuestions is the built-in set used when the host brings none.
func defaultQuestions() []models.Question {
	return []models.Question{
		{
			ID:            "q1",
			Text:          "What is the most important quality of a leader?",
			Options:       []string{"Charisma", "Integrity", "Intelligence", "Confidence"},
			CorrectAnswer: 1,
			Points:        10,
			TimeLimit:     30,
			Category:      "Leadership",
		},
		{
			ID:            "q2",
			Text:          "Which leadership style is most effective in crisis situations?",
			Options:       []string{"Democratic", "Autocratic", "Laissez-faire", "Transformational"},
			CorrectAnswer: 1,
			Points:        10,
			TimeLimit:     30,
			Category:      "Leadership",
		},
		{
			ID:            "q3",
			Text:          "What percentage of communication is non-verbal?",
			Options:       []string{"55%", "70%", "85%", "93%"},
			CorrectAnswer: 3,
			Points:        10,
			TimeLimit:     30,
			Category:      "Communication",
		},
	}
}

// convertCustomQuestion turns a host-authored question into a playable one.
// A missing id gets a fresh uuid; a non-positive time limit falls back to
// the session's per-question time.
func convertCustomQuestion(cq models.CustomQuestion, defaultTimeLimit int) (models.Question, error) {
	q := models.Question{
		ID:            cq.ID,
		Text:          cq.Text,
		Options:       append([]string(nil), cq.Options...),
		CorrectAnswer: cq.CorrectAnswer,
		Points:        customQuestionPoints,
		TimeLimit:     cq.TimeLimit,
		Category:      "Custom",
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.TimeLimit <= 0 {
		q.TimeLimit = defaultTimeLimit
	}
	if err := validateQuestion(q); err != nil {
		return models.Question{}, err
	}
	return q, nil
}

// resolveQuestions picks the question list for a new session: the custom
// list, in full, when present, otherwise the built-in set capped at
// rounds*questionsPerRound.
func resolveQuestions(settings models.GameSettings) ([]models.Question, error) {
	var questions []models.Question
	if len(settings.CustomQuestions) > 0 {
		seen := make(map[string]bool, len(settings.CustomQuestions))
		for _, cq := range settings.CustomQuestions {
			q, err := convertCustomQuestion(cq, settings.TimePerQuestion)
			if err != nil {
				return nil, err
			}
			if seen[q.ID] {
				return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidQuestion, q.ID)
			}
			seen[q.ID] = true
			questions = append(questions, q)
		}
		return questions, nil
	}

	questions = defaultQuestions()
	if limit := settings.Rounds * settings.QuestionsPerRound; limit > 0 && limit < len(questions) {
		questions = questions[:limit]
	}
	return questions, nil
}

func validateQuestion(q models.Question) error {
	if q.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidQuestion)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: at least two options are required", ErrInvalidQuestion)
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
		return fmt.Errorf("%w: correct answer %d out of range", ErrInvalidQuestion, q.CorrectAnswer)
	}
	if q.TimeLimit <= 0 {
		return fmt.Errorf("%w: time limit must be positive", ErrInvalidQuestion)
	}
	return nil
}
