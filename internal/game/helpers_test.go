// internal/game/helpers_test.go
package game

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/tablestakes/internal/models"
	"github.com/stretchr/testify/require"
)

// mockNotifier keeps a per-connection inbox the way the registry does, so
// tests can assert exactly what each connection would have received.
type mockNotifier struct {
	mu    sync.Mutex
	rooms map[string]map[string]bool // room -> subscribed conns
	inbox map[string][]Event         // conn -> delivered events, in order
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{
		rooms: make(map[string]map[string]bool),
		inbox: make(map[string][]Event),
	}
}

func (n *mockNotifier) Subscribe(roomCode, connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rooms[roomCode] == nil {
		n.rooms[roomCode] = make(map[string]bool)
	}
	n.rooms[roomCode][connID] = true
}

func (n *mockNotifier) Broadcast(roomCode string, msg any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for conn := range n.rooms[roomCode] {
		n.inbox[conn] = append(n.inbox[conn], msg.(Event))
	}
}

func (n *mockNotifier) Send(connID string, msg any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbox[connID] = append(n.inbox[connID], msg.(Event))
}

func (n *mockNotifier) events(connID string) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.inbox[connID]...)
}

func (n *mockNotifier) types(connID string) []EventType {
	var out []EventType
	for _, ev := range n.events(connID) {
		out = append(out, ev.Type)
	}
	return out
}

func (n *mockNotifier) lastOfType(connID string, typ EventType) *Event {
	evs := n.events(connID)
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == typ {
			return &evs[i]
		}
	}
	return nil
}

func (n *mockNotifier) clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbox = make(map[string][]Event)
}

// fakeScheduler records tasks instead of arming real timers. Tests fire them
// explicitly, and may fire a stopped task to simulate Stop losing the race.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// all returns every task ever scheduled, in scheduling order.
func (s *fakeScheduler) all() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTimer(nil), s.timers...)
}

// fire runs a task even if it was stopped.
func (s *fakeScheduler) fire(t *fakeTimer) {
	t.fired = true
	t.f()
}

// fireLive runs the most recently scheduled task that is neither stopped nor
// fired.
func (s *fakeScheduler) fireLive(tb testing.TB) {
	tb.Helper()
	timers := s.all()
	for i := len(timers) - 1; i >= 0; i-- {
		if !timers[i].stopped && !timers[i].fired {
			s.fire(timers[i])
			return
		}
	}
	tb.Fatal("no live timer to fire")
}

// testTokens is a reversible TokenIssuer for tests.
type testTokens struct{}

func (testTokens) IssueRejoinToken(roomCode, playerID string) (string, error) {
	return roomCode + "|" + playerID, nil
}

func (testTokens) ParseRejoinToken(token string) (string, string, error) {
	room, player, ok := strings.Cut(token, "|")
	if !ok {
		return "", "", fmt.Errorf("malformed token")
	}
	return room, player, nil
}

type testEnv struct {
	mgr   *Manager
	notif *mockNotifier
	sched *fakeScheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	notif := newMockNotifier()
	sched := &fakeScheduler{}
	mgr := NewManager(notif, Options{
		Scheduler:   sched,
		GracePeriod: time.Minute,
		Tokens:      testTokens{},
	})
	return &testEnv{mgr: mgr, notif: notif, sched: sched}
}

// createLobby creates a session hosted by "host" and joins the given players
// (conn id -> team id).
func (e *testEnv) createLobby(t *testing.T, settings models.GameSettings, players map[string]string) string {
	t.Helper()
	snap, err := e.mgr.CreateSession("host", settings)
	require.NoError(t, err)
	for conn, team := range players {
		_, err := e.mgr.JoinSession(conn, snap.RoomCode, "name-"+conn, team)
		require.NoError(t, err)
	}
	return snap.RoomCode
}

func (e *testEnv) session(t *testing.T, roomCode string) *Session {
	t.Helper()
	sess, ok := e.mgr.store.Get(roomCode)
	require.True(t, ok)
	return sess
}
