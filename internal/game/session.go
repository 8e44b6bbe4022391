// internal/game/session.go
package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/jason-s-yu/tablestakes/internal/models"
	log "github.com/sirupsen/logrus"
)

// maxPlayerNameLen caps display names; longer names are truncated.
const maxPlayerNameLen = 32

// Notifier delivers events to connections. Calls happen with the session
// lock held, so implementations must not block and must never call back
// into the session.
type Notifier interface {
	Subscribe(roomCode, connID string)
	Broadcast(roomCode string, msg any)
	Send(connID string, msg any)
}

// ActionPublisher receives the append-only action log of every session.
type ActionPublisher interface {
	PublishAction(ctx context.Context, record cache.ActionRecord) error
}

// FinishFunc is invoked once, with the session lock held, when a session
// reaches FINISHED. It receives copies and must not touch the session.
type FinishFunc func(snapshot models.GameSession, results []models.GameResult)

type teamStats struct {
	correct        int
	total          int
	responseTimeMs int64
}

// Session holds the entire state for a single trivia room in memory. Every
// exported method takes Mu; unexported *Locked helpers assume it is held.
type Session struct {
	ID        string
	RoomCode  string
	HostID    string // connection id of the creator; not transferable
	CreatedAt time.Time

	Mu sync.Mutex

	settings             models.GameSettings
	teams                []*models.Team
	questions            []models.Question
	currentQuestionIndex int
	state                models.GameState

	stats          map[string]*teamStats // team id -> running totals
	answered       map[string]bool       // player ids that answered the open question
	currentAnswers []models.Answer       // answers to the open question, in arrival order
	advanceTimer   Timer
	results        []models.GameResult
	actionIndex    int // increments for each logged action

	notifier  Notifier
	scheduler Scheduler
	actions   *actionLog
	onFinish  FinishFunc
}

// sessionDeps are the collaborators a Manager hands to every session it
// creates.
type sessionDeps struct {
	notifier  Notifier
	scheduler Scheduler
	actions   *actionLog
	onFinish  FinishFunc
}

// newSession builds a WAITING session with the default team roster.
func newSession(roomCode, hostID string, settings models.GameSettings, questions []models.Question, deps sessionDeps) *Session {
	if deps.scheduler == nil {
		deps.scheduler = RealScheduler
	}
	s := &Session{
		ID:        uuid.NewString(),
		RoomCode:  roomCode,
		HostID:    hostID,
		CreatedAt: time.Now(),
		settings:  settings,
		teams:     defaultTeams(),
		questions: questions,
		state:     models.StateWaiting,
		stats:     make(map[string]*teamStats),
		answered:  make(map[string]bool),
		notifier:  deps.notifier,
		scheduler: deps.scheduler,
		actions:   deps.actions,
		onFinish:  deps.onFinish,
	}
	for _, t := range s.teams {
		s.stats[t.ID] = &teamStats{}
	}
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() models.GameState {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session. Questions, including correct
// answers, are only included for the host view.
func (s *Session) Snapshot(hostView bool) models.GameSession {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.snapshotLocked(hostView)
}

// Results returns the final standings once the session is FINISHED.
func (s *Session) Results() ([]models.GameResult, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.state != models.StateFinished {
		return nil, false
	}
	return append([]models.GameResult(nil), s.results...), true
}

// announce subscribes the host to the room and sends it session-created.
func (s *Session) announce() models.GameSession {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	s.notifier.Subscribe(s.RoomCode, s.HostID)
	snap := s.snapshotLocked(true)
	s.fireEventTo(s.HostID, Event{Type: EventSessionCreated, Session: &snap})
	s.logAction(s.HostID, "session_create", map[string]interface{}{"questions": len(s.questions)})
	return snap
}

// Join adds a player to teamID. The joiner receives session-joined with the
// rejoin token, then the room hears player-joined. The first join moves the
// session from WAITING to LOBBY.
func (s *Session) Join(connID, name, teamID, rejoinToken string) (models.GameSession, models.Player, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.state != models.StateWaiting && s.state != models.StateLobby {
		return models.GameSession{}, models.Player{}, ErrGameAlreadyStarted
	}
	team := s.teamByIDLocked(teamID)
	if team == nil {
		return models.GameSession{}, models.Player{}, fmt.Errorf("%w: %q", ErrInvalidTeam, teamID)
	}
	name = cleanPlayerName(name)
	if name == "" {
		return models.GameSession{}, models.Player{}, errors.New("player name is required")
	}

	player := &models.Player{
		ID:          connID,
		Name:        name,
		TeamID:      team.ID,
		IsConnected: true,
	}
	team.Players = append(team.Players, player)

	promoted := false
	if s.state == models.StateWaiting {
		s.state = models.StateLobby
		promoted = true
	}

	s.notifier.Subscribe(s.RoomCode, connID)
	snap := s.snapshotLocked(false)
	pc := *player
	s.fireEventTo(connID, Event{Type: EventSessionJoined, Session: &snap, Player: &pc, RejoinToken: rejoinToken})
	s.fireEvent(Event{Type: EventPlayerJoined, Player: &pc})
	if promoted {
		s.fireEvent(Event{Type: EventStateChanged, State: s.state})
	}

	log.WithFields(log.Fields{"room": s.RoomCode, "player": player.ID, "team": team.ID}).Info("player joined")
	s.logAction(player.ID, "player_join", map[string]interface{}{"teamId": team.ID, "name": player.Name})
	return snap, pc, nil
}

// Rejoin binds connID to an existing player, marks it connected and replays
// the session-joined view to it.
func (s *Session) Rejoin(connID, playerID, rejoinToken string) (models.GameSession, models.Player, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	player := s.playerByIDLocked(playerID)
	if player == nil {
		return models.GameSession{}, models.Player{}, fmt.Errorf("%w: player is not part of room %s", ErrInvalidToken, s.RoomCode)
	}
	player.IsConnected = true

	s.notifier.Subscribe(s.RoomCode, connID)
	snap := s.snapshotLocked(false)
	pc := *player
	s.fireEventTo(connID, Event{Type: EventSessionJoined, Session: &snap, Player: &pc, RejoinToken: rejoinToken})
	s.fireEvent(Event{Type: EventPlayerReconnected, Player: &pc})

	// A player that comes back mid-question still needs the open question.
	if s.state == models.StatePlaying && s.currentQuestionIndex < len(s.questions) {
		q := s.questions[s.currentQuestionIndex]
		pq := q.Public()
		s.fireEventTo(connID, Event{Type: EventQuestionStarted, Question: &pq, TimeLimit: q.TimeLimit})
	}

	log.WithFields(log.Fields{"room": s.RoomCode, "player": playerID, "conn": connID}).Info("player reconnected")
	s.logAction(playerID, "player_reconnect", nil)
	return snap, pc, nil
}

// Disconnect marks a player as gone. The player stays on their team and
// their points stay on the leaderboard.
func (s *Session) Disconnect(playerID string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	player := s.playerByIDLocked(playerID)
	if player == nil || !player.IsConnected {
		return
	}
	player.IsConnected = false
	pc := *player
	s.fireEvent(Event{Type: EventPlayerDisconnected, Player: &pc})
	s.logAction(playerID, "player_disconnect", nil)
}

// SubmitAnswer records the first answer of playerID to the open question.
// Answers outside PLAYING, for a question that is no longer open, from an
// unknown player, or repeated by the same player are dropped and reported
// as not accepted.
func (s *Session) SubmitAnswer(connID, playerID, questionID string, selectedOption int, timeToAnswerMs int64) (models.Answer, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	logger := log.WithFields(log.Fields{"room": s.RoomCode, "player": playerID})
	if s.state != models.StatePlaying || s.currentQuestionIndex >= len(s.questions) {
		logger.Debug("answer outside of an open question dropped")
		return models.Answer{}, false
	}
	player := s.playerByIDLocked(playerID)
	if player == nil {
		return models.Answer{}, false
	}
	q := s.questions[s.currentQuestionIndex]
	if questionID != q.ID {
		logger.WithField("question", questionID).Debug("stale answer dropped")
		return models.Answer{}, false
	}
	if s.answered[playerID] {
		logger.WithField("question", questionID).Debug("duplicate answer dropped")
		return models.Answer{}, false
	}

	if selectedOption < 0 || selectedOption >= len(q.Options) {
		selectedOption = models.NoAnswer
	}
	if timeToAnswerMs < 0 {
		timeToAnswerMs = 0
	}
	isCorrect := selectedOption == q.CorrectAnswer
	scoredTime := timeToAnswerMs
	if !s.settings.SpeedBonus() {
		scoredTime = 0
	}
	points := Score(isCorrect, scoredTime, int64(q.Points), int64(q.TimeLimit)*1000)

	answer := models.Answer{
		PlayerID:       playerID,
		TeamID:         player.TeamID,
		QuestionID:     q.ID,
		SelectedOption: selectedOption,
		TimeToAnswer:   timeToAnswerMs,
		IsCorrect:      isCorrect,
		Points:         points,
	}
	s.answered[playerID] = true
	s.currentAnswers = append(s.currentAnswers, answer)

	if team := s.teamByIDLocked(player.TeamID); team != nil {
		team.Score += points
	}
	st := s.stats[player.TeamID]
	st.total++
	st.responseTimeMs += timeToAnswerMs
	if isCorrect {
		st.correct++
	}

	ac := answer
	s.fireEventTo(connID, Event{Type: EventAnswerReceived, Answer: &ac})
	s.fireEvent(Event{Type: EventAnswerReceived, Answer: &ac})
	s.logAction(playerID, "answer_submit", map[string]interface{}{
		"questionId":     q.ID,
		"selectedOption": selectedOption,
		"timeToAnswer":   timeToAnswerMs,
		"isCorrect":      isCorrect,
		"points":         points,
	})
	return answer, true
}

// Start moves a LOBBY session with at least one player into PLAYING and
// opens the first question.
func (s *Session) Start(connID string) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if connID != s.HostID {
		return ErrNotHost
	}
	if s.state != models.StateWaiting && s.state != models.StateLobby {
		return fmt.Errorf("%w: cannot start a %s game", ErrInvalidState, s.state)
	}
	if s.playerCountLocked() == 0 {
		return fmt.Errorf("%w: at least one player must join before starting", ErrInvalidState)
	}
	if len(s.questions) == 0 {
		return fmt.Errorf("%w: no questions to play", ErrInvalidState)
	}

	s.state = models.StatePlaying
	s.currentQuestionIndex = 0
	s.fireEvent(Event{Type: EventStateChanged, State: s.state})
	s.logAction(connID, "game_start", map[string]interface{}{"questions": len(s.questions)})
	s.startQuestionLocked()
	return nil
}

// NextQuestion closes the open question on the host's request.
func (s *Session) NextQuestion(connID string) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if connID != s.HostID {
		return ErrNotHost
	}
	if s.state != models.StatePlaying {
		return fmt.Errorf("%w: no question is open", ErrInvalidState)
	}
	s.advanceFromLocked(s.currentQuestionIndex)
	return nil
}

// End finishes the session early. A question still open is closed first so
// its answers are reported.
func (s *Session) End(connID string) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if connID != s.HostID {
		return ErrNotHost
	}
	if s.state == models.StateFinished {
		return fmt.Errorf("%w: game already finished", ErrInvalidState)
	}
	if s.state == models.StatePlaying && s.currentQuestionIndex < len(s.questions) {
		s.endQuestionLocked()
	}
	s.logAction(connID, "game_end_requested", nil)
	s.finishLocked()
	return nil
}

// AddQuestion appends a host-authored question before the game starts.
func (s *Session) AddQuestion(connID string, cq models.CustomQuestion) ([]models.Question, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if err := s.checkEditableLocked(connID); err != nil {
		return nil, err
	}
	q, err := convertCustomQuestion(cq, s.settings.TimePerQuestion)
	if err != nil {
		return nil, err
	}
	if s.questionIndexLocked(q.ID) >= 0 {
		return nil, fmt.Errorf("%w: duplicate question id %q", ErrInvalidQuestion, q.ID)
	}
	s.questions = append(s.questions, q)
	s.logAction(connID, "question_add", map[string]interface{}{"questionId": q.ID})
	return s.questionsUpdatedLocked(), nil
}

// UpdateQuestion replaces the text, options, answer and time limit of an
// existing question. Points and category are kept.
func (s *Session) UpdateQuestion(connID string, cq models.CustomQuestion) ([]models.Question, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if err := s.checkEditableLocked(connID); err != nil {
		return nil, err
	}
	idx := s.questionIndexLocked(cq.ID)
	if cq.ID == "" || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrQuestionNotFound, cq.ID)
	}
	updated, err := convertCustomQuestion(cq, s.settings.TimePerQuestion)
	if err != nil {
		return nil, err
	}
	updated.Points = s.questions[idx].Points
	updated.Category = s.questions[idx].Category
	s.questions[idx] = updated
	s.logAction(connID, "question_update", map[string]interface{}{"questionId": updated.ID})
	return s.questionsUpdatedLocked(), nil
}

// DeleteQuestion removes a question. The last question cannot be removed.
func (s *Session) DeleteQuestion(connID, questionID string) ([]models.Question, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if err := s.checkEditableLocked(connID); err != nil {
		return nil, err
	}
	idx := s.questionIndexLocked(questionID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrQuestionNotFound, questionID)
	}
	if len(s.questions) == 1 {
		return nil, fmt.Errorf("%w: a session needs at least one question", ErrInvalidQuestion)
	}
	s.questions = append(s.questions[:idx], s.questions[idx+1:]...)
	s.logAction(connID, "question_delete", map[string]interface{}{"questionId": questionID})
	return s.questionsUpdatedLocked(), nil
}

// --- lock-held helpers ---

// startQuestionLocked opens the question at currentQuestionIndex and arms
// its auto-advance timer.
func (s *Session) startQuestionLocked() {
	q := s.questions[s.currentQuestionIndex]
	s.answered = make(map[string]bool)
	s.currentAnswers = nil

	pq := q.Public()
	s.fireEvent(Event{Type: EventQuestionStarted, Question: &pq, TimeLimit: q.TimeLimit})
	s.logAction(s.HostID, "question_start", map[string]interface{}{"questionId": q.ID, "index": s.currentQuestionIndex})
	s.scheduleAdvanceLocked(s.currentQuestionIndex, time.Duration(q.TimeLimit)*time.Second)
}

// scheduleAdvanceLocked arms the auto-advance for question idx. The task
// captures idx and no-ops unless the session is still PLAYING at idx, so a
// timer that fires after a manual advance or end changes nothing.
func (s *Session) scheduleAdvanceLocked(idx int, d time.Duration) {
	s.stopAdvanceTimerLocked()
	roomCode := s.RoomCode
	s.advanceTimer = s.scheduler.AfterFunc(d, func() {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		if !s.advanceFromLocked(idx) {
			log.WithFields(log.Fields{"room": roomCode, "index": idx}).Debug("stale question timer ignored")
			return
		}
		log.WithFields(log.Fields{"room": roomCode, "index": idx}).Debug("question timed out")
	})
}

func (s *Session) stopAdvanceTimerLocked() {
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
		s.advanceTimer = nil
	}
}

// advanceFromLocked closes question idx and opens the next one, or finishes
// the session after the last. It reports false, changing nothing, unless
// the session is PLAYING at idx.
func (s *Session) advanceFromLocked(idx int) bool {
	if s.state != models.StatePlaying || s.currentQuestionIndex != idx {
		return false
	}
	s.stopAdvanceTimerLocked()
	s.endQuestionLocked()
	s.currentQuestionIndex++
	if s.currentQuestionIndex < len(s.questions) {
		s.startQuestionLocked()
	} else {
		s.finishLocked()
	}
	return true
}

// endQuestionLocked reports the answers to the open question and the
// updated leaderboard.
func (s *Session) endQuestionLocked() {
	q := s.questions[s.currentQuestionIndex]
	correct := q.CorrectAnswer
	s.fireEvent(Event{
		Type:          EventQuestionEnded,
		QuestionID:    q.ID,
		CorrectAnswer: &correct,
		Answers:       append([]models.Answer{}, s.currentAnswers...),
	})
	s.fireEvent(Event{Type: EventLeaderboardUpdated, Teams: s.leaderboardLocked()})
	s.logAction(s.HostID, "question_end", map[string]interface{}{"questionId": q.ID, "answers": len(s.currentAnswers)})
}

func (s *Session) finishLocked() {
	s.stopAdvanceTimerLocked()
	s.state = models.StateFinished
	s.currentQuestionIndex = len(s.questions)
	s.results = s.computeResultsLocked()

	s.fireEvent(Event{Type: EventStateChanged, State: s.state})
	s.fireEvent(Event{Type: EventSessionFinished, Results: append([]models.GameResult(nil), s.results...)})
	log.WithField("room", s.RoomCode).Info("session finished")
	s.logAction(s.HostID, "game_finish", map[string]interface{}{"teams": len(s.results)})

	if s.onFinish != nil {
		s.onFinish(s.snapshotLocked(false), append([]models.GameResult(nil), s.results...))
	}
}

// computeResultsLocked ranks every team by final score. Ties keep roster
// order, so positions are always 1..N without gaps.
func (s *Session) computeResultsLocked() []models.GameResult {
	results := make([]models.GameResult, len(s.teams))
	for i, t := range s.teams {
		st := s.stats[t.ID]
		avg := 0.0
		if st.total > 0 {
			avg = float64(st.responseTimeMs) / float64(st.total)
		}
		results[i] = models.GameResult{
			TeamID:              t.ID,
			TeamName:            t.Name,
			FinalScore:          t.Score,
			CorrectAnswers:      st.correct,
			TotalAnswers:        st.total,
			AverageResponseTime: avg,
		}
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].FinalScore > results[b].FinalScore })
	for i := range results {
		results[i].Position = i + 1
	}
	return results
}

// leaderboardLocked returns team copies ordered by score, highest first.
func (s *Session) leaderboardLocked() []models.Team {
	teams := make([]models.Team, len(s.teams))
	for i, t := range s.teams {
		teams[i] = t.Clone()
	}
	sort.SliceStable(teams, func(a, b int) bool { return teams[a].Score > teams[b].Score })
	return teams
}

func (s *Session) snapshotLocked(hostView bool) models.GameSession {
	teams := make([]models.Team, len(s.teams))
	for i, t := range s.teams {
		teams[i] = t.Clone()
	}
	settings := s.settings
	settings.CustomQuestions = nil
	settings.EnableSpeedBonus = boolPtr(s.settings.SpeedBonus())
	snap := models.GameSession{
		ID:                   s.ID,
		RoomCode:             s.RoomCode,
		HostID:               s.HostID,
		Teams:                teams,
		QuestionCount:        len(s.questions),
		CurrentQuestionIndex: s.currentQuestionIndex,
		GameState:            s.state,
		Settings:             settings,
		CreatedAt:            s.CreatedAt,
	}
	if hostView {
		snap.Questions = append([]models.Question(nil), s.questions...)
	}
	return snap
}

func (s *Session) checkEditableLocked(connID string) error {
	if connID != s.HostID {
		return ErrNotHost
	}
	if s.state != models.StateWaiting && s.state != models.StateLobby {
		return fmt.Errorf("%w: questions can only be edited before the game starts", ErrInvalidState)
	}
	return nil
}

// questionsUpdatedLocked sends the full list to the host and returns a copy.
func (s *Session) questionsUpdatedLocked() []models.Question {
	qs := append([]models.Question(nil), s.questions...)
	s.fireEventTo(s.HostID, Event{Type: EventQuestionsUpdated, Questions: qs})
	return append([]models.Question(nil), s.questions...)
}

func (s *Session) questionIndexLocked(id string) int {
	for i, q := range s.questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) teamByIDLocked(id string) *models.Team {
	for _, t := range s.teams {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Session) playerByIDLocked(id string) *models.Player {
	for _, t := range s.teams {
		for _, p := range t.Players {
			if p.ID == id {
				return p
			}
		}
	}
	return nil
}

func (s *Session) playerCountLocked() int {
	n := 0
	for _, t := range s.teams {
		n += len(t.Players)
	}
	return n
}

// fireEvent broadcasts an event to everyone subscribed to the room.
// Assumes lock is held.
func (s *Session) fireEvent(ev Event) {
	if s.notifier == nil {
		log.WithField("room", s.RoomCode).Warnf("no notifier, dropping %s", ev.Type)
		return
	}
	s.notifier.Broadcast(s.RoomCode, ev)
}

// fireEventTo sends an event to a single connection.
// Assumes lock is held.
func (s *Session) fireEventTo(connID string, ev Event) {
	if s.notifier == nil {
		log.WithField("room", s.RoomCode).Warnf("no notifier, dropping %s for %s", ev.Type, connID)
		return
	}
	s.notifier.Send(connID, ev)
}

// logAction appends to the session's action log. The log publishes in append
// order off the lock; failures are only logged.
// Assumes lock is held.
func (s *Session) logAction(actorID, actionType string, payload map[string]interface{}) {
	s.actionIndex++
	if s.actions == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	record := cache.ActionRecord{
		SessionID:     s.ID,
		RoomCode:      s.RoomCode,
		ActionIndex:   s.actionIndex,
		ActorID:       actorID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().UnixMilli(),
	}
	s.actions.append(record)
}

func cleanPlayerName(name string) string {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > maxPlayerNameLen {
		name = string(r[:maxPlayerNameLen])
	}
	return name
}
