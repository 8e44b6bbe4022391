// internal/game/manager.go
package game

import (
	"fmt"
	"time"

	"github.com/jason-s-yu/tablestakes/internal/models"
	log "github.com/sirupsen/logrus"
)

// DefaultGracePeriod is how long a FINISHED session stays readable before it
// is removed from the store.
const DefaultGracePeriod = 5 * time.Minute

// TokenIssuer signs and verifies the tokens players use to take their
// identity over to a new connection.
type TokenIssuer interface {
	IssueRejoinToken(roomCode, playerID string) (string, error)
	ParseRejoinToken(token string) (roomCode, playerID string, err error)
}

// Options configures a Manager. Zero values are usable: real timers, the
// default grace period and no side channels.
type Options struct {
	Scheduler   Scheduler
	Codes       *RoomCodeGenerator
	GracePeriod time.Duration
	Actions     ActionPublisher
	Tokens      TokenIssuer

	// OnFinished runs on its own goroutine for every session that finishes.
	OnFinished func(snapshot models.GameSession, results []models.GameResult)
	// OnRemoved runs, with the session lock held, right after a finished
	// session leaves the store.
	OnRemoved func(roomCode string)
}

// Manager is the entry point for every inbound command. It resolves
// connections to sessions through the store and delegates to the session,
// which serializes the actual state change.
type Manager struct {
	store    *SessionStore
	notifier Notifier
	actions  *actionLog
	opts     Options
}

func NewManager(notifier Notifier, opts Options) *Manager {
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	m := &Manager{
		store:    NewSessionStore(opts.Codes),
		notifier: notifier,
		opts:     opts,
	}
	if opts.Actions != nil {
		m.actions = newActionLog(opts.Actions)
	}
	return m
}

// Close publishes the actions still queued and stops the publisher. Actions
// logged afterwards are dropped.
func (m *Manager) Close() {
	if m.actions != nil {
		m.actions.close()
	}
}

// SessionCount reports the number of live sessions.
func (m *Manager) SessionCount() int {
	return m.store.Len()
}

// CreateSession makes connID the host of a new WAITING session and sends it
// session-created.
func (m *Manager) CreateSession(connID string, settings models.GameSettings) (models.GameSession, error) {
	if err := m.checkUnbound(connID); err != nil {
		return models.GameSession{}, err
	}
	settings, err := normalizeSettings(settings)
	if err != nil {
		return models.GameSession{}, fmt.Errorf("invalid settings: %w", err)
	}
	questions, err := resolveQuestions(settings)
	if err != nil {
		return models.GameSession{}, err
	}

	deps := sessionDeps{
		notifier:  m.notifier,
		scheduler: m.opts.Scheduler,
		actions:   m.actions,
	}
	sess := m.store.Create(func(roomCode string) *Session {
		s := newSession(roomCode, connID, settings, questions, deps)
		s.onFinish = func(snap models.GameSession, results []models.GameResult) {
			m.sessionFinished(s, snap, results)
		}
		return s
	})

	log.WithFields(log.Fields{"room": sess.RoomCode, "host": connID}).Info("session created")
	return sess.announce(), nil
}

// JoinSession adds connID as a player of roomCode.
func (m *Manager) JoinSession(connID, roomCode, playerName, teamID string) (models.GameSession, error) {
	if err := m.checkUnbound(connID); err != nil {
		return models.GameSession{}, err
	}
	sess, ok := m.store.Get(roomCode)
	if !ok {
		return models.GameSession{}, ErrRoomNotFound
	}

	token := ""
	if m.opts.Tokens != nil {
		t, err := m.opts.Tokens.IssueRejoinToken(roomCode, connID)
		if err != nil {
			log.WithError(err).WithField("room", roomCode).Warn("failed to issue rejoin token")
		}
		token = t
	}

	snap, player, err := sess.Join(connID, playerName, teamID, token)
	if err != nil {
		return models.GameSession{}, err
	}
	m.store.BindPlayer(connID, roomCode, player.ID)
	return snap, nil
}

// RejoinSession hands the player named by token over to connID.
func (m *Manager) RejoinSession(connID, token string) (models.GameSession, error) {
	if m.opts.Tokens == nil {
		return models.GameSession{}, fmt.Errorf("%w: rejoin is disabled", ErrInvalidToken)
	}
	if err := m.checkUnbound(connID); err != nil {
		return models.GameSession{}, err
	}
	roomCode, playerID, err := m.opts.Tokens.ParseRejoinToken(token)
	if err != nil {
		return models.GameSession{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sess, ok := m.store.Get(roomCode)
	if !ok {
		return models.GameSession{}, ErrRoomNotFound
	}

	snap, player, err := sess.Rejoin(connID, playerID, token)
	if err != nil {
		return models.GameSession{}, err
	}
	m.store.BindPlayer(connID, roomCode, player.ID)
	return snap, nil
}

// SubmitAnswer records an answer for the player bound to connID. Answers from
// connections that are not players are dropped.
func (m *Manager) SubmitAnswer(connID, questionID string, selectedOption int, timeToAnswerMs int64) (models.Answer, bool) {
	sess, mem, ok := m.store.Lookup(connID)
	if !ok || mem.Role != RolePlayer {
		return models.Answer{}, false
	}
	return sess.SubmitAnswer(connID, mem.PlayerID, questionID, selectedOption, timeToAnswerMs)
}

func (m *Manager) StartGame(connID string) error {
	sess, err := m.hostSession(connID)
	if err != nil {
		return err
	}
	return sess.Start(connID)
}

func (m *Manager) NextQuestion(connID string) error {
	sess, err := m.hostSession(connID)
	if err != nil {
		return err
	}
	return sess.NextQuestion(connID)
}

func (m *Manager) EndGame(connID string) error {
	sess, err := m.hostSession(connID)
	if err != nil {
		return err
	}
	return sess.End(connID)
}

func (m *Manager) AddQuestion(connID string, q models.CustomQuestion) ([]models.Question, error) {
	sess, err := m.hostSession(connID)
	if err != nil {
		return nil, err
	}
	return sess.AddQuestion(connID, q)
}

func (m *Manager) UpdateQuestion(connID string, q models.CustomQuestion) ([]models.Question, error) {
	sess, err := m.hostSession(connID)
	if err != nil {
		return nil, err
	}
	return sess.UpdateQuestion(connID, q)
}

func (m *Manager) DeleteQuestion(connID, questionID string) ([]models.Question, error) {
	sess, err := m.hostSession(connID)
	if err != nil {
		return nil, err
	}
	return sess.DeleteQuestion(connID, questionID)
}

// HandleDisconnect forgets connID. A player is marked disconnected but stays
// on their team; a host leaving changes nothing and the game keeps running on
// its timers.
func (m *Manager) HandleDisconnect(connID string) {
	sess, mem, ok := m.store.Lookup(connID)
	m.store.Unbind(connID)
	if !ok {
		return
	}
	switch mem.Role {
	case RolePlayer:
		sess.Disconnect(mem.PlayerID)
	case RoleHost:
		log.WithFields(log.Fields{"room": mem.RoomCode, "host": connID}).Info("host disconnected")
	}
}

// Snapshot returns the public view of a live session.
func (m *Manager) Snapshot(roomCode string) (models.GameSession, bool) {
	sess, ok := m.store.Get(roomCode)
	if !ok {
		return models.GameSession{}, false
	}
	return sess.Snapshot(false), true
}

// Results returns the final standings of a live session. It fails with
// ErrRoomNotFound for unknown codes and ErrInvalidState before FINISHED.
func (m *Manager) Results(roomCode string) (models.GameSession, []models.GameResult, error) {
	sess, ok := m.store.Get(roomCode)
	if !ok {
		return models.GameSession{}, nil, ErrRoomNotFound
	}
	results, ok := sess.Results()
	if !ok {
		return models.GameSession{}, nil, fmt.Errorf("%w: game has not finished", ErrInvalidState)
	}
	return sess.Snapshot(false), results, nil
}

// hostSession resolves connID to the session it hosts.
func (m *Manager) hostSession(connID string) (*Session, error) {
	sess, mem, ok := m.store.Lookup(connID)
	if !ok || mem.Role != RoleHost {
		return nil, ErrNotHost
	}
	return sess, nil
}

// checkUnbound rejects connections that already belong to a session that has
// not finished.
func (m *Manager) checkUnbound(connID string) error {
	sess, _, ok := m.store.Lookup(connID)
	if ok && sess.State() != models.StateFinished {
		return fmt.Errorf("%w: connection already belongs to room %s", ErrInvalidState, sess.RoomCode)
	}
	return nil
}

// sessionFinished schedules removal after the grace period and hands the
// results to the persistence hook. Runs with the session lock held.
func (m *Manager) sessionFinished(sess *Session, snap models.GameSession, results []models.GameResult) {
	m.opts.Scheduler.AfterFunc(m.opts.GracePeriod, func() {
		m.removeSession(sess)
	})
	if m.opts.OnFinished != nil {
		go m.opts.OnFinished(snap, results)
	}
}

// removeSession runs under the session lock so a concurrent rejoin either
// completes before removal or finds the room gone.
func (m *Manager) removeSession(sess *Session) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	m.store.Delete(sess.RoomCode)
	if m.opts.OnRemoved != nil {
		m.opts.OnRemoved(sess.RoomCode)
	}
}
