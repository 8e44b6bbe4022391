// internal/handlers/commands.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jason-s-yu/tablestakes/internal/game"
	"github.com/jason-s-yu/tablestakes/internal/models"
	"github.com/sirupsen/logrus"
)

// Inbound command types.
const (
	cmdCreateSession  = "create-session"
	cmdJoinRoom       = "join-room"
	cmdRejoinRoom     = "rejoin-room"
	cmdSubmitAnswer   = "submit-answer"
	cmdStartGame      = "start-game"
	cmdNextQuestion   = "next-question"
	cmdEndGame        = "end-game"
	cmdAddQuestion    = "add-question"
	cmdUpdateQuestion = "update-question"
	cmdDeleteQuestion = "delete-question"
	cmdPing           = "ping"
)

var (
	errBadRequest  = errors.New("bad request")
	errBinaryFrame = fmt.Errorf("%w: only text frames are accepted", errBadRequest)
)

// inboundMessage is the union of every command payload. Only the fields the
// command type uses are read.
type inboundMessage struct {
	Type string `json:"type"`

	Settings json.RawMessage `json:"settings"`

	RoomCode   string `json:"roomCode"`
	PlayerName string `json:"playerName"`
	TeamID     string `json:"teamId"`
	Token      string `json:"token"`

	QuestionID     string `json:"questionId"`
	SelectedOption *int   `json:"selectedOption"`
	TimeToAnswer   int64  `json:"timeToAnswer"` // milliseconds

	Question *models.CustomQuestion `json:"question"`
}

// dispatch decodes one frame and runs it. Failures go back to the sender
// only.
func (g *Gateway) dispatch(connID string, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		g.logger.WithField("conn", connID).Debugf("invalid json: %v", err)
		g.reply(connID, fmt.Errorf("%w: invalid JSON", errBadRequest))
		return
	}

	if err := g.handle(connID, msg); err != nil {
		g.logger.WithFields(logrus.Fields{
			"conn": connID,
			"type": msg.Type,
			"kind": game.KindOf(err),
		}).Debugf("command rejected: %v", err)
		g.reply(connID, err)
	}
}

func (g *Gateway) reply(connID string, err error) {
	g.registry.Send(connID, game.ErrorEvent(err))
}

func (g *Gateway) handle(connID string, msg inboundMessage) error {
	switch msg.Type {
	case cmdCreateSession:
		settings, err := decodeSettings(msg.Settings)
		if err != nil {
			return err
		}
		_, err = g.manager.CreateSession(connID, settings)
		return err

	case cmdJoinRoom:
		if msg.RoomCode == "" {
			return fmt.Errorf("%w: roomCode is required", errBadRequest)
		}
		_, err := g.manager.JoinSession(connID, msg.RoomCode, msg.PlayerName, msg.TeamID)
		return err

	case cmdRejoinRoom:
		if msg.Token == "" {
			return fmt.Errorf("%w: token is required", game.ErrInvalidToken)
		}
		_, err := g.manager.RejoinSession(connID, msg.Token)
		return err

	case cmdSubmitAnswer:
		if msg.QuestionID == "" || msg.SelectedOption == nil {
			return fmt.Errorf("%w: questionId and selectedOption are required", errBadRequest)
		}
		// Late, duplicate and unbound answers are dropped without a reply.
		g.manager.SubmitAnswer(connID, msg.QuestionID, *msg.SelectedOption, msg.TimeToAnswer)
		return nil

	case cmdStartGame:
		return g.manager.StartGame(connID)

	case cmdNextQuestion:
		return g.manager.NextQuestion(connID)

	case cmdEndGame:
		return g.manager.EndGame(connID)

	case cmdAddQuestion:
		if msg.Question == nil {
			return fmt.Errorf("%w: question is required", errBadRequest)
		}
		_, err := g.manager.AddQuestion(connID, *msg.Question)
		return err

	case cmdUpdateQuestion:
		if msg.Question == nil {
			return fmt.Errorf("%w: question is required", errBadRequest)
		}
		_, err := g.manager.UpdateQuestion(connID, *msg.Question)
		return err

	case cmdDeleteQuestion:
		_, err := g.manager.DeleteQuestion(connID, msg.QuestionID)
		return err

	case cmdPing:
		g.registry.Send(connID, game.Event{Type: game.EventPong})
		return nil

	default:
		return fmt.Errorf("%w: unknown message type %q", errBadRequest, msg.Type)
	}
}

// decodeSettings lays the client's settings over the defaults so omitted
// fields keep their default values.
func decodeSettings(raw json.RawMessage) (models.GameSettings, error) {
	settings := game.DefaultSettings()
	if len(raw) == 0 || string(raw) == "null" {
		return settings, nil
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return settings, fmt.Errorf("%w: invalid settings: %v", errBadRequest, err)
	}
	return settings, nil
}
