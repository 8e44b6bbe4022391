// internal/handlers/gateway_test.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/tablestakes/internal/auth"
	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/jason-s-yu/tablestakes/internal/game"
	"github.com/jason-s-yu/tablestakes/internal/models"
	"github.com/jason-s-yu/tablestakes/internal/registry"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleScheduler never fires, so questions only advance on host commands.
type idleScheduler struct{}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

func (idleScheduler) AfterFunc(time.Duration, func()) game.Timer { return idleTimer{} }

type stubArchive struct {
	results map[string]cache.FinishedSession
}

func (a stubArchive) LoadResults(_ context.Context, roomCode string) (cache.FinishedSession, bool, error) {
	fs, ok := a.results[roomCode]
	return fs, ok, nil
}

type testServer struct {
	srv     *httptest.Server
	manager *game.Manager
	reg     *registry.Registry
}

func newTestServer(t *testing.T, archives ...ResultsArchive) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()

	signer, err := auth.NewRejoinSigner(time.Hour)
	require.NoError(t, err)

	reg := registry.New(0)
	mgr := game.NewManager(reg, game.Options{
		Scheduler: idleScheduler{},
		Tokens:    signer,
	})
	gw := NewGateway(logger, mgr, reg, GatewayConfig{})
	srv := httptest.NewServer(NewRouter(logger, gw, NewAPI(logger, mgr, archives...)))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, manager: mgr, reg: reg}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

// readUntil skips events until one of type typ arrives.
func readUntil(t *testing.T, c *websocket.Conn, typ game.EventType) game.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var ev game.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == typ {
			return ev
		}
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func createRoom(t *testing.T, host *websocket.Conn) models.GameSession {
	t.Helper()
	send(t, host, map[string]any{"type": "create-session", "settings": map[string]any{"timePerQuestion": 20}})
	ev := readUntil(t, host, game.EventSessionCreated)
	require.NotNil(t, ev.Session)
	return *ev.Session
}

func TestGatewayFullGame(t *testing.T) {
	ts := newTestServer(t)
	host := ts.dial(t)
	player := ts.dial(t)

	room := createRoom(t, host)
	require.Len(t, room.Questions, 3, "host view carries the questions")
	assert.Equal(t, 20, room.Settings.TimePerQuestion)
	require.NotNil(t, room.Settings.EnableSpeedBonus)
	assert.True(t, *room.Settings.EnableSpeedBonus, "omitted settings keep defaults")

	send(t, player, map[string]any{"type": "join-room", "roomCode": room.RoomCode, "playerName": "Ada", "teamId": "team-2"})
	joined := readUntil(t, player, game.EventSessionJoined)
	require.NotNil(t, joined.Player)
	assert.Equal(t, "team-2", joined.Player.TeamID)
	assert.NotEmpty(t, joined.RejoinToken)
	assert.Empty(t, joined.Session.Questions, "players never see the answer key")

	assert.Equal(t, "Ada", readUntil(t, host, game.EventPlayerJoined).Player.Name)
	assert.Equal(t, models.StateLobby, readUntil(t, host, game.EventStateChanged).State)

	send(t, host, map[string]any{"type": "start-game"})
	started := readUntil(t, player, game.EventQuestionStarted)
	require.NotNil(t, started.Question)
	assert.Equal(t, room.Questions[0].ID, started.Question.ID)
	readUntil(t, host, game.EventQuestionStarted)

	send(t, player, map[string]any{
		"type":           "submit-answer",
		"questionId":     started.Question.ID,
		"selectedOption": room.Questions[0].CorrectAnswer,
		"timeToAnswer":   0,
	})
	received := readUntil(t, host, game.EventAnswerReceived)
	require.NotNil(t, received.Answer)
	assert.True(t, received.Answer.IsCorrect)
	assert.Equal(t, room.Questions[0].Points, received.Answer.Points)

	code := getJSON(t, ts.srv.URL+"/sessions/"+room.RoomCode+"/results", nil)
	assert.Equal(t, http.StatusConflict, code, "results before the end")

	send(t, host, map[string]any{"type": "end-game"})
	ended := readUntil(t, player, game.EventQuestionEnded)
	require.NotNil(t, ended.CorrectAnswer)
	assert.Equal(t, room.Questions[0].CorrectAnswer, *ended.CorrectAnswer)
	finished := readUntil(t, player, game.EventSessionFinished)
	require.NotEmpty(t, finished.Results)
	assert.Equal(t, "team-2", finished.Results[0].TeamID)
	assert.Equal(t, 1, finished.Results[0].Position)

	var body cache.FinishedSession
	code = getJSON(t, ts.srv.URL+"/sessions/"+room.RoomCode+"/results", &body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StateFinished, body.Session.GameState)
	assert.Equal(t, finished.Results, body.Results)
}

func TestGatewayErrorsGoToSenderOnly(t *testing.T) {
	ts := newTestServer(t)
	host := ts.dial(t)
	stranger := ts.dial(t)
	room := createRoom(t, host)

	send(t, stranger, map[string]any{"type": "start-game"})
	assert.Equal(t, game.KindNotHost, readUntil(t, stranger, game.EventError).Kind)

	send(t, stranger, map[string]any{"type": "join-room", "roomCode": "000000", "playerName": "x", "teamId": "team-1"})
	assert.Equal(t, game.KindRoomNotFound, readUntil(t, stranger, game.EventError).Kind)

	send(t, stranger, map[string]any{"type": "join-room", "roomCode": room.RoomCode, "playerName": "x", "teamId": "team-9"})
	assert.Equal(t, game.KindInvalidTeam, readUntil(t, stranger, game.EventError).Kind)

	send(t, stranger, map[string]any{"type": "dance"})
	assert.Equal(t, game.KindBadRequest, readUntil(t, stranger, game.EventError).Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, stranger.Write(ctx, websocket.MessageText, []byte("{not json")))
	assert.Equal(t, game.KindBadRequest, readUntil(t, stranger, game.EventError).Kind)

	// The host saw none of that; the next thing it gets is its own pong.
	send(t, host, map[string]any{"type": "ping"})
	_, data, err := host.Read(ctx)
	require.NoError(t, err)
	var ev game.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, game.EventPong, ev.Type)
}

func TestGatewayRejoinAfterDisconnect(t *testing.T) {
	ts := newTestServer(t)
	host := ts.dial(t)
	player := ts.dial(t)
	room := createRoom(t, host)

	send(t, player, map[string]any{"type": "join-room", "roomCode": room.RoomCode, "playerName": "Bo", "teamId": "team-1"})
	joined := readUntil(t, player, game.EventSessionJoined)
	playerID := joined.Player.ID

	player.Close(websocket.StatusNormalClosure, "bye")
	gone := readUntil(t, host, game.EventPlayerDisconnected)
	assert.Equal(t, playerID, gone.Player.ID)

	again := ts.dial(t)
	send(t, again, map[string]any{"type": "rejoin-room", "token": joined.RejoinToken})
	rejoined := readUntil(t, again, game.EventSessionJoined)
	assert.Equal(t, playerID, rejoined.Player.ID)
	assert.True(t, rejoined.Player.IsConnected)

	back := readUntil(t, host, game.EventPlayerReconnected)
	assert.Equal(t, playerID, back.Player.ID)

	send(t, again, map[string]any{"type": "rejoin-room", "token": "garbage"})
	assert.Equal(t, game.KindInvalidState, readUntil(t, again, game.EventError).Kind, "already bound")

	fresh := ts.dial(t)
	send(t, fresh, map[string]any{"type": "rejoin-room", "token": "garbage"})
	assert.Equal(t, game.KindInvalidToken, readUntil(t, fresh, game.EventError).Kind)
}

func TestGatewayRejectsWrongSubprotocol(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(BadSubprotocolError), websocket.CloseStatus(err))
}

func TestGatewayUnregistersOnClose(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)
	send(t, c, map[string]any{"type": "ping"})
	readUntil(t, c, game.EventPong)
	assert.Equal(t, 1, ts.reg.Len())

	c.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return ts.reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	host := ts.dial(t)
	room := createRoom(t, host)

	var snap models.GameSession
	require.Equal(t, http.StatusOK, getJSON(t, ts.srv.URL+"/sessions/"+room.RoomCode, &snap))
	assert.Equal(t, room.RoomCode, snap.RoomCode)
	assert.Equal(t, models.StateWaiting, snap.GameState)
	assert.Empty(t, snap.Questions)
	assert.Equal(t, 3, snap.QuestionCount)

	var body errorBody
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.srv.URL+"/sessions/000000", &body))
	assert.Equal(t, game.KindRoomNotFound, body.Kind)
}

func TestResultsFallBackToArchives(t *testing.T) {
	archived := cache.FinishedSession{
		Session: models.GameSession{RoomCode: "424242", GameState: models.StateFinished},
		Results: []models.GameResult{{TeamID: "team-4", TeamName: "Table 4", FinalScore: 30, Position: 1}},
	}
	ts := newTestServer(t,
		stubArchive{},
		stubArchive{results: map[string]cache.FinishedSession{"424242": archived}},
	)

	var body cache.FinishedSession
	require.Equal(t, http.StatusOK, getJSON(t, ts.srv.URL+"/sessions/424242/results", &body))
	assert.Equal(t, archived.Results, body.Results)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.srv.URL+"/sessions/111111/results", nil))
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
