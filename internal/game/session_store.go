// internal/game/session_store.go
package game

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Role is how a connection participates in a session.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Membership is the secondary index entry for one connection.
type Membership struct {
	RoomCode string
	Role     Role
	PlayerID string // empty for the host
}

// SessionStore maps room codes to live sessions and connection ids to their
// membership. It owns session lifetime: a session exists from Create until
// Delete.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session   // room code -> session
	members  map[string]Membership // connection id -> membership
	codes    *RoomCodeGenerator
}

func NewSessionStore(codes *RoomCodeGenerator) *SessionStore {
	if codes == nil {
		codes = NewRoomCodeGenerator()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		members:  make(map[string]Membership),
		codes:    codes,
	}
}

// Create draws room codes until one is free, builds the session with it and
// stores it, all under the store lock, so two concurrent creates can never
// share a code. The host connection is indexed as well.
func (s *SessionStore) Create(newSession func(roomCode string) *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := s.codes.Next()
	for {
		if _, taken := s.sessions[code]; !taken {
			break
		}
		code = s.codes.Next()
	}

	sess := newSession(code)
	s.sessions[code] = sess
	s.members[sess.HostID] = Membership{RoomCode: code, Role: RoleHost}
	log.WithField("room", code).Info("SessionStore: added session")
	return sess
}

func (s *SessionStore) Get(roomCode string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[roomCode]
	return sess, ok
}

// Lookup resolves a connection to its session and membership.
func (s *SessionStore) Lookup(connID string) (*Session, Membership, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[connID]
	if !ok {
		return nil, Membership{}, false
	}
	sess, ok := s.sessions[m.RoomCode]
	if !ok {
		return nil, Membership{}, false
	}
	return sess, m, true
}

// BindPlayer indexes connID as playerID in roomCode. Any other connection
// still indexed as the same player is unbound, so only the latest
// connection speaks for a player. Binding into a session that was already
// removed is a no-op.
func (s *SessionStore) BindPlayer(connID, roomCode, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[roomCode]; !ok {
		return
	}
	for other, m := range s.members {
		if other != connID && m.RoomCode == roomCode && m.Role == RolePlayer && m.PlayerID == playerID {
			delete(s.members, other)
		}
	}
	s.members[connID] = Membership{RoomCode: roomCode, Role: RolePlayer, PlayerID: playerID}
}

// Unbind drops the index entry for connID.
func (s *SessionStore) Unbind(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, connID)
}

// Delete removes the session and every index entry pointing at it.
func (s *SessionStore) Delete(roomCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[roomCode]; !ok {
		log.WithField("room", roomCode).Warn("SessionStore: attempted to delete non-existent session")
		return
	}
	delete(s.sessions, roomCode)
	for connID, m := range s.members {
		if m.RoomCode == roomCode {
			delete(s.members, connID)
		}
	}
	log.WithField("room", roomCode).Info("SessionStore: deleted session")
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
