package models

// Player is one participant inside a session. ID is the connection identity
// the player joined with and stays stable across reconnects.
type Player struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TeamID      string `json:"teamId"`
	IsConnected bool   `json:"isConnected"`
}
