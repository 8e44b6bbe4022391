// internal/game/errors.go
package game

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrGameAlreadyStarted = errors.New("game has already started")
	ErrInvalidTeam        = errors.New("invalid team")
	ErrNotHost            = errors.New("only the host can do that")
	ErrInvalidState       = errors.New("command not allowed in the current game state")
	ErrInvalidQuestion    = errors.New("invalid question")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrInvalidToken       = errors.New("invalid rejoin token")
)

// Kind values are sent to clients in error events.
const (
	KindRoomNotFound       = "room_not_found"
	KindGameAlreadyStarted = "game_already_started"
	KindInvalidTeam        = "invalid_team"
	KindNotHost            = "not_host"
	KindInvalidState       = "invalid_state"
	KindInvalidQuestion    = "invalid_question"
	KindQuestionNotFound   = "question_not_found"
	KindInvalidToken       = "invalid_token"
	KindBadRequest         = "bad_request"
)

// KindOf maps an error returned by the manager to its wire kind.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return KindRoomNotFound
	case errors.Is(err, ErrGameAlreadyStarted):
		return KindGameAlreadyStarted
	case errors.Is(err, ErrInvalidTeam):
		return KindInvalidTeam
	case errors.Is(err, ErrNotHost):
		return KindNotHost
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrInvalidQuestion):
		return KindInvalidQuestion
	case errors.Is(err, ErrQuestionNotFound):
		return KindQuestionNotFound
	case errors.Is(err, ErrInvalidToken):
		return KindInvalidToken
	default:
		return KindBadRequest
	}
}
