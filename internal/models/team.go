package models

// Team is a fixed, colored bucket of players. Score only changes when an
// answer from one of its players is scored.
type Team struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Color   string    `json:"color"`
	Players []*Player `json:"players"`
	Score   int       `json:"score"`
}

// Clone returns a deep copy safe to hand out of the session lock.
func (t *Team) Clone() Team {
	c := *t
	c.Players = make([]*Player, len(t.Players))
	for i, p := range t.Players {
		pc := *p
		c.Players[i] = &pc
	}
	return c
}
