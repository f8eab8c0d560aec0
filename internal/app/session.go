package app

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"crowdplay-room-service/internal/domain"
)

// RoomSession is the consistent unit of room state: the room record, its
// questions, players, answer ledger and version counter. Handlers race
// against it under two levels of locking:
//
//   - mu guards room status, phase, question index and deadline. Phase
//     transitions take the write lock; submissions share the read lock so
//     players never block each other.
//   - each playerSlot has its own mutex guarding that player's score, streak
//     and answers. The slot lock makes the append-answer + mutate-score step
//     one atomic unit per (player, question) pair.
//
// Lock order is always mu before slot.mu.
type RoomSession struct {
	now     func() time.Time
	version atomic.Int64

	mu                sync.RWMutex
	room              domain.Room
	questions         []domain.Question
	phase             domain.Phase
	questionDeadline  time.Time
	questionStartedAt time.Time
	players           map[string]*playerSlot
	nextJoinOrder     int
}

type playerSlot struct {
	mu      sync.Mutex
	player  domain.Player
	order   int
	answers map[string]domain.Answer // keyed by question ID
}

// playerStanding pairs a player snapshot with its join order, the
// deterministic tie-breaker for rankings.
type playerStanding struct {
	player domain.Player
	order  int
}

// NewRoomSession seeds a session in the lobby at version 1.
func NewRoomSession(room domain.Room, questions []domain.Question) *RoomSession {
	return NewRoomSessionWithClock(room, questions, time.Now)
}

// NewRoomSessionWithClock allows deterministic timestamps in tests.
func NewRoomSessionWithClock(room domain.Room, questions []domain.Question, now func() time.Time) *RoomSession {
	s := &RoomSession{
		now:       now,
		room:      room,
		questions: questions,
		phase:     domain.PhaseLobby,
		players:   make(map[string]*playerSlot),
	}
	s.version.Store(1)
	return s
}

// RoomID returns the immutable room identifier.
func (s *RoomSession) RoomID() string {
	return s.room.RoomID
}

// Room returns a snapshot of the room record.
func (s *RoomSession) Room() domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// State returns the current version-tagged synchronization record.
func (s *RoomSession) State() domain.RoomState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

// Questions returns a copy of the question list.
func (s *RoomSession) Questions() []domain.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

func (s *RoomSession) stateLocked() domain.RoomState {
	return domain.RoomState{
		Version:          s.version.Load(),
		Phase:            s.phase,
		QuestionDeadline: s.questionDeadline,
	}
}

func (s *RoomSession) bump() int64 {
	return s.version.Add(1)
}

// Join admits a player. The capacity check reads the eligible count before
// the insert happens, so concurrent joins near the limit can overshoot by at
// most the number of in-flight joiners. That bound is a documented property
// of the room contract, not a bug to lock away. Status and the lock-on-start
// gate are rechecked under the write lock so a join never slips past a
// concurrent Start or End.
func (s *RoomSession) Join(player domain.Player) (domain.Player, int64, error) {
	s.mu.RLock()
	status := s.room.Status
	locked := s.room.Settings.LockOnStart
	capacity := s.room.MaxPlayers
	eligible := s.eligibleCountLocked()
	s.mu.RUnlock()

	if status == domain.RoomEnded {
		return domain.Player{}, 0, domain.E(domain.CodeNotFound, "room not found or has ended")
	}
	if status == domain.RoomActive && locked {
		return domain.Player{}, 0, domain.E(domain.CodeFailedPrecondition, "room is locked, no new players can join")
	}
	if eligible >= capacity {
		return domain.Player{}, 0, domain.E(domain.CodeResourceExhausted, "room is full")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room.Status == domain.RoomEnded {
		return domain.Player{}, 0, domain.E(domain.CodeNotFound, "room not found or has ended")
	}
	if s.room.Status == domain.RoomActive && s.room.Settings.LockOnStart {
		return domain.Player{}, 0, domain.E(domain.CodeFailedPrecondition, "room is locked, no new players can join")
	}
	s.players[player.PlayerID] = &playerSlot{
		player:  player,
		order:   s.nextJoinOrder,
		answers: make(map[string]domain.Answer),
	}
	s.nextJoinOrder++
	return player, s.bump(), nil
}

// Start moves the room from the lobby into the first question.
func (s *RoomSession) Start(hostID string) (domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room.HostID != hostID {
		return domain.RoomState{}, domain.E(domain.CodePermissionDenied, "only the host can start the game")
	}
	if s.room.Status != domain.RoomWaiting {
		return domain.RoomState{}, domain.E(domain.CodeFailedPrecondition, "game has already started or ended")
	}
	if s.eligibleCountLocked() == 0 {
		return domain.RoomState{}, domain.E(domain.CodeFailedPrecondition, "cannot start game without players")
	}

	now := s.now()
	s.room.Status = domain.RoomActive
	s.room.StartedAt = now
	s.room.CurrentQuestionIndex = 0
	s.questionStartedAt = now
	s.questionDeadline = now.Add(s.questions[0].TimeLimit())
	s.phase = domain.PhaseQuestion
	s.bump()
	return s.stateLocked(), nil
}

// Next advances to the following question. It is valid only once the
// current question's results are on screen, so a retried call after the
// index already moved fails instead of double-advancing.
func (s *RoomSession) Next(hostID string) (int, int, domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room.HostID != hostID {
		return 0, 0, domain.RoomState{}, domain.E(domain.CodePermissionDenied, "only the host can advance questions")
	}
	if s.room.Status != domain.RoomActive {
		return 0, 0, domain.RoomState{}, domain.E(domain.CodeFailedPrecondition, "game is not active")
	}
	if s.phase != domain.PhaseResults && s.phase != domain.PhaseLeaderboard {
		return 0, 0, domain.RoomState{}, domain.E(domain.CodeFailedPrecondition, "current question has not been revealed")
	}
	next := s.room.CurrentQuestionIndex + 1
	if next >= s.room.TotalQuestions {
		return 0, 0, domain.RoomState{}, domain.E(domain.CodeFailedPrecondition, "no more questions available")
	}

	now := s.now()
	s.room.CurrentQuestionIndex = next
	s.questionStartedAt = now
	s.questionDeadline = now.Add(s.questions[next].TimeLimit())
	s.phase = domain.PhaseQuestion
	s.bump()
	return next, s.room.TotalQuestions, s.stateLocked(), nil
}

// Reveal flips the one-way revealed flag on the current question and moves
// the room into RESULTS. Calling it again recomputes the same data, so a
// retried host call is harmless. Stale indexes are rejected.
func (s *RoomSession) Reveal(hostID string, questionIndex int) (domain.Question, []domain.Answer, domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room.HostID != hostID {
		return domain.Question{}, nil, domain.RoomState{}, domain.E(domain.CodePermissionDenied, "only the host can reveal results")
	}
	if s.phase != domain.PhaseQuestion && s.phase != domain.PhaseResults {
		return domain.Question{}, nil, domain.RoomState{}, domain.E(domain.CodeFailedPrecondition, "no question is in progress")
	}
	if questionIndex != s.room.CurrentQuestionIndex {
		return domain.Question{}, nil, domain.RoomState{}, domain.E(domain.CodeFailedPrecondition, "question index mismatch")
	}

	q := &s.questions[questionIndex]
	q.Revealed = true
	s.phase = domain.PhaseResults
	s.bump()
	return *q, s.answersForLocked(q.QuestionID), s.stateLocked(), nil
}

// ShowLeaderboard moves RESULTS to the optional LEADERBOARD interstitial.
func (s *RoomSession) ShowLeaderboard(hostID string) (domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room.HostID != hostID {
		return domain.RoomState{}, domain.E(domain.CodePermissionDenied, "only the host can show the leaderboard")
	}
	if !s.room.Settings.ShowLeaderboard {
		return domain.RoomState{}, domain.E(domain.CodeFailedPrecondition, "leaderboard is disabled for this room")
	}
	if s.phase != domain.PhaseResults {
		return domain.RoomState{}, domain.E(domain.CodeFailedPrecondition, "leaderboard is only shown after results")
	}
	s.phase = domain.PhaseLeaderboard
	s.bump()
	return s.stateLocked(), nil
}

// endSummary is the data frozen at the moment a room ends.
type endSummary struct {
	room         domain.Room
	standings    []playerStanding
	totalAnswers int
	state        domain.RoomState
}

// End terminates the room. ENDED is terminal: any later mutation attempt
// fails its own precondition check.
func (s *RoomSession) End(hostID string) (endSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room.HostID != hostID {
		return endSummary{}, domain.E(domain.CodePermissionDenied, "only the host can end the game")
	}
	if s.room.Status == domain.RoomEnded {
		return endSummary{}, domain.E(domain.CodeFailedPrecondition, "game has already ended")
	}

	s.room.Status = domain.RoomEnded
	s.room.EndedAt = s.now()
	s.phase = domain.PhaseFinal
	s.questionDeadline = time.Time{}
	s.bump()
	return endSummary{
		room:         s.room,
		standings:    s.standingsLocked(),
		totalAnswers: s.totalAnswersLocked(),
		state:        s.stateLocked(),
	}, nil
}

// Kick flags a player as removed. The player record and its answers stay in
// the ledger; the flag blocks submissions and frees a capacity seat.
func (s *RoomSession) Kick(hostID, playerID string) (domain.Player, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room.HostID != hostID {
		return domain.Player{}, 0, domain.E(domain.CodePermissionDenied, "only the host can remove players")
	}
	if s.room.Status == domain.RoomEnded {
		return domain.Player{}, 0, domain.E(domain.CodeFailedPrecondition, "game has already ended")
	}
	slot, ok := s.players[playerID]
	if !ok {
		return domain.Player{}, 0, domain.E(domain.CodeNotFound, "player not found")
	}
	slot.mu.Lock()
	slot.player.IsKicked = true
	player := slot.player
	slot.mu.Unlock()
	return player, s.bump(), nil
}

// Submit runs the whole scoring unit for one (player, question) pair. The
// room read lock stays held for the duration so the phase and deadline
// cannot move mid-flight; the slot lock serializes duplicates, and the
// losing duplicate observes AlreadyExists. The unit either fully commits or
// fails with zero visible effect.
func (s *RoomSession) Submit(playerID string, questionIndex int, resp domain.Response) (domain.Answer, domain.Player, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.room.Status != domain.RoomActive {
		return domain.Answer{}, domain.Player{}, 0, domain.E(domain.CodeFailedPrecondition, "game is not active")
	}
	if s.room.CurrentQuestionIndex != questionIndex {
		return domain.Answer{}, domain.Player{}, 0, domain.E(domain.CodeFailedPrecondition, "question index mismatch")
	}
	question := s.questions[questionIndex]
	slot, ok := s.players[playerID]
	if !ok {
		return domain.Answer{}, domain.Player{}, 0, domain.E(domain.CodeNotFound, "player not found")
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.player.IsKicked {
		return domain.Answer{}, domain.Player{}, 0, domain.E(domain.CodePermissionDenied, "player has been removed from the game")
	}
	if _, dup := slot.answers[question.QuestionID]; dup {
		return domain.Answer{}, domain.Player{}, 0, domain.E(domain.CodeAlreadyExists, "answer already submitted")
	}

	// Deadline and latency come from the server clock only.
	now := s.now()
	if now.After(s.questionDeadline) {
		return domain.Answer{}, domain.Player{}, 0, domain.E(domain.CodeDeadlineExceeded, "answer submission deadline has passed")
	}
	latency := now.Sub(s.questionStartedAt)
	if latency < 0 {
		latency = 0
	}

	correct := Grade(question, resp)
	points := Points(correct, question.BasePoints, question.SpeedFactor, latency, question.TimeLimit())

	answer := domain.Answer{
		AnswerID:     uuid.NewString(),
		PlayerID:     playerID,
		QuestionID:   question.QuestionID,
		RoomID:       s.room.RoomID,
		Response:     resp,
		IsCorrect:    correct,
		PointsEarned: points,
		LatencyMs:    latency.Milliseconds(),
		CreatedAt:    now,
	}
	slot.answers[question.QuestionID] = answer
	slot.player.Score += points
	if correct {
		slot.player.Streak++
	} else {
		slot.player.Streak = 0
	}
	slot.player.LastSeenAt = now

	return answer, slot.player, s.bump(), nil
}

// Standings returns a snapshot of every player with its join order.
func (s *RoomSession) Standings() []domain.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	standings := s.standingsLocked()
	players := make([]domain.Player, len(standings))
	for i, st := range standings {
		players[i] = st.player
	}
	return players
}

// Leaderboard ranks players by score, ties broken by join order. A limit of
// zero returns the full ranking.
func (s *RoomSession) Leaderboard(limit int) []domain.LeaderboardEntry {
	s.mu.RLock()
	standings := s.standingsLocked()
	s.mu.RUnlock()
	return buildLeaderboard(standings, limit)
}

func (s *RoomSession) standingsLocked() []playerStanding {
	standings := make([]playerStanding, 0, len(s.players))
	for _, slot := range s.players {
		slot.mu.Lock()
		standings = append(standings, playerStanding{player: slot.player, order: slot.order})
		slot.mu.Unlock()
	}
	return standings
}

func (s *RoomSession) answersForLocked(questionID string) []domain.Answer {
	var answers []domain.Answer
	for _, slot := range s.players {
		slot.mu.Lock()
		if answer, ok := slot.answers[questionID]; ok {
			answers = append(answers, answer)
		}
		slot.mu.Unlock()
	}
	return answers
}

func (s *RoomSession) totalAnswersLocked() int {
	total := 0
	for _, slot := range s.players {
		slot.mu.Lock()
		total += len(slot.answers)
		slot.mu.Unlock()
	}
	return total
}

func (s *RoomSession) eligibleCountLocked() int {
	count := 0
	for _, slot := range s.players {
		slot.mu.Lock()
		if !slot.player.IsKicked {
			count++
		}
		slot.mu.Unlock()
	}
	return count
}
