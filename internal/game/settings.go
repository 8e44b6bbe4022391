// internal/game/settings.go
package game

import (
	"fmt"

	"github.com/jason-s-yu/tablestakes/internal/models"
)

// DefaultSettings are applied before a client's create-session payload is
// decoded on top, so omitted fields keep these values.
func DefaultSettings() models.GameSettings {
	return models.GameSettings{
		Rounds:            1,
		QuestionsPerRound: 10,
		TimePerQuestion:   30,
		AllowTeamVoting:   false,
		EnableSpeedBonus:  boolPtr(true),
		EnableStreakBonus: false,
		CustomQuestions:   []models.CustomQuestion{},
	}
}

// normalizeSettings validates numeric settings and fills zero values from
// the defaults.
func normalizeSettings(s models.GameSettings) (models.GameSettings, error) {
	def := DefaultSettings()

	checkInt := func(field *int, name string, fallback int) error {
		if *field < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
		if *field == 0 {
			*field = fallback
		}
		return nil
	}

	if err := checkInt(&s.Rounds, "rounds", def.Rounds); err != nil {
		return s, err
	}
	if err := checkInt(&s.QuestionsPerRound, "questionsPerRound", def.QuestionsPerRound); err != nil {
		return s, err
	}
	if err := checkInt(&s.TimePerQuestion, "timePerQuestion", def.TimePerQuestion); err != nil {
		return s, err
	}
	if s.EnableSpeedBonus == nil {
		s.EnableSpeedBonus = def.EnableSpeedBonus
	} else {
		s.EnableSpeedBonus = boolPtr(*s.EnableSpeedBonus)
	}
	if s.CustomQuestions == nil {
		s.CustomQuestions = []models.CustomQuestion{}
	}
	return s, nil
}

func boolPtr(b bool) *bool {
	return &b
}
