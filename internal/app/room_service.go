package app

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crowdplay-room-service/internal/domain"
	"crowdplay-room-service/internal/monitoring"
)

// codeAttempts bounds code generation; collisions are rare in a 36^6 space
// but each attempt is an independent reservation, never a retry loop around
// a single one.
const codeAttempts = 10

const defaultTokenTTL = 6 * time.Hour

// RoomRepository abstracts how live room sessions are stored
// (in-memory, Redis-marked, etc).
type RoomRepository interface {
	Add(session *RoomSession)
	Get(roomID string) (*RoomSession, bool)
}

// CodeRegistry tracks which 6-character codes are taken by WAITING/ACTIVE
// rooms. Reserve is an atomic claim; Release frees the code when a room ends.
type CodeRegistry interface {
	Reserve(ctx context.Context, code, roomID string) (bool, error)
	Lookup(ctx context.Context, code string) (string, bool, error)
	Release(ctx context.Context, code string) error
}

// TokenService is the opaque identity gateway: it mints and verifies bearer
// credentials bound to a subject and, for players, to a room and device.
type TokenService interface {
	Issue(claims domain.TokenClaims) (string, error)
	Verify(token string) (domain.TokenClaims, error)
}

// StatePublisher fans out version-tagged state events to subscribers.
// Publishing is best-effort; delivery guarantees belong to the fan-out layer.
type StatePublisher interface {
	Publish(ctx context.Context, event domain.StateEvent)
}

// Archiver persists the final record of an ended room.
type Archiver interface {
	ArchiveRoom(ctx context.Context, record ArchiveRecord) error
}

// ArchiveRecord is the durable summary written when a room ends.
type ArchiveRecord struct {
	RoomID       string                    `json:"roomId"`
	Code         string                    `json:"code"`
	Title        string                    `json:"title"`
	HostID       string                    `json:"hostId"`
	EndedAt      time.Time                 `json:"endedAt"`
	FinalResults []domain.LeaderboardEntry `json:"finalResults"`
	GameStats    domain.GameStats          `json:"gameStats"`
}

// RoomService contains the room lifecycle, phase machine and submission
// engine use cases.
type RoomService struct {
	rooms     RoomRepository
	codes     CodeRegistry
	tokens    TokenService
	publisher StatePublisher
	archiver  Archiver
	logger    *zap.Logger
	clock     func() time.Time
	rndMu     sync.Mutex // rand.Rand sources are not safe for concurrent use
	rnd       *rand.Rand
	tokenTTL  time.Duration
	joinBase  string
}

// Option customizes a RoomService.
type Option func(*RoomService)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *RoomService) { s.clock = now }
}

// WithRand injects the code-generation source for forced-collision tests.
func WithRand(rnd *rand.Rand) Option {
	return func(s *RoomService) { s.rnd = rnd }
}

// WithArchiver enables durable archiving of ended rooms.
func WithArchiver(a Archiver) Option {
	return func(s *RoomService) { s.archiver = a }
}

// WithJoinBaseURL sets the public join URL prefix.
func WithJoinBaseURL(base string) Option {
	return func(s *RoomService) { s.joinBase = base }
}

// WithTokenTTL overrides the credential lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *RoomService) { s.tokenTTL = ttl }
}

func NewRoomService(rooms RoomRepository, codes CodeRegistry, tokens TokenService, publisher StatePublisher, logger *zap.Logger, opts ...Option) *RoomService {
	s := &RoomService{
		rooms:     rooms,
		codes:     codes,
		tokens:    tokens,
		publisher: publisher,
		logger:    logger,
		clock:     time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		tokenTTL:  defaultTokenTTL,
		joinBase:  "https://play.crowdplay.app/join",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QuestionInput is the host-authored question before normalization.
type QuestionInput struct {
	Type            domain.QuestionType
	Text            string
	ImageURL        string
	Options         []domain.Option
	CorrectOptionID string
	NumRule         *domain.NumRule
	TimeLimitSec    int
	BasePoints      int
	SpeedFactor     float64
}

type CreateRoomInput struct {
	Title      string
	Mode       string
	MaxPlayers int
	Questions  []QuestionInput
	Settings   domain.Settings
}

type CreateRoomResult struct {
	RoomID  string `json:"roomId"`
	Code    string `json:"code"`
	JoinURL string `json:"joinUrl"`
}

// RegisterHost mints a host identity and its credential.
func (s *RoomService) RegisterHost(_ context.Context, displayName string) (string, string, error) {
	hostID := uuid.NewString()
	token, err := s.tokens.Issue(domain.TokenClaims{
		Subject:   hostID,
		Role:      domain.RoleHost,
		ExpiresAt: s.clock().Add(s.tokenTTL).Unix(),
	})
	if err != nil {
		s.logger.Error("issue host token", zap.Error(err))
		return "", "", domain.E(domain.CodeInternal, "failed to register host")
	}
	_ = displayName // captured by the identity gateway, not by room state
	return hostID, token, nil
}

// CreateRoom validates the question set, claims a unique room code and seeds
// the room, its normalized questions and the initial LOBBY state as one unit.
func (s *RoomService) CreateRoom(ctx context.Context, hostID string, in CreateRoomInput) (CreateRoomResult, error) {
	if hostID == "" {
		return CreateRoomResult{}, domain.E(domain.CodeUnauthenticated, "must be authenticated to create a room")
	}
	if err := validateCreateRoom(in); err != nil {
		return CreateRoomResult{}, err
	}

	roomID := uuid.NewString()
	code, err := s.claimCode(ctx, roomID)
	if err != nil {
		return CreateRoomResult{}, err
	}

	now := s.clock()
	questions := make([]domain.Question, len(in.Questions))
	for i, q := range in.Questions {
		questions[i] = domain.Question{
			QuestionID:      uuid.NewString(),
			Index:           i,
			Type:            q.Type,
			Text:            q.Text,
			ImageURL:        q.ImageURL,
			Options:         q.Options,
			CorrectOptionID: q.CorrectOptionID,
			NumRule:         q.NumRule,
			TimeLimitSec:    q.TimeLimitSec,
			BasePoints:      q.BasePoints,
			SpeedFactor:     q.SpeedFactor,
		}
	}
	room := domain.Room{
		RoomID:               roomID,
		HostID:               hostID,
		Code:                 code,
		Title:                in.Title,
		Mode:                 in.Mode,
		Status:               domain.RoomWaiting,
		MaxPlayers:           in.MaxPlayers,
		CurrentQuestionIndex: -1,
		TotalQuestions:       len(questions),
		CreatedAt:            now,
		Settings:             in.Settings,
	}

	session := NewRoomSessionWithClock(room, questions, s.clock)
	s.rooms.Add(session)
	monitoring.RoomsCreated.Inc()

	s.publishRoom(ctx, session)
	return CreateRoomResult{RoomID: roomID, Code: code, JoinURL: s.joinBase + "/" + code}, nil
}

func (s *RoomService) claimCode(ctx context.Context, roomID string) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		s.rndMu.Lock()
		code := randomCode(s.rnd)
		s.rndMu.Unlock()
		ok, err := s.codes.Reserve(ctx, code, roomID)
		if err != nil {
			s.logger.Error("reserve room code", zap.Error(err))
			return "", domain.E(domain.CodeInternal, "failed to create room")
		}
		if ok {
			return code, nil
		}
	}
	return "", domain.E(domain.CodeResourceExhausted, "could not generate unique room code")
}

type JoinInput struct {
	Code        string
	DisplayName string
	Email       string
	DeviceHash  string
}

type JoinResult struct {
	RoomID    string `json:"roomId"`
	PlayerID  string `json:"playerId"`
	Token     string `json:"token"`
	RoomTitle string `json:"roomTitle"`
}

// Join admits a player by room code and binds a credential to the new
// identity. Capacity enforcement keeps its documented bounded overshoot
// under concurrent joins near the limit.
func (s *RoomService) Join(ctx context.Context, in JoinInput) (JoinResult, error) {
	if in.Code == "" || in.DisplayName == "" {
		return JoinResult{}, domain.E(domain.CodeInvalidArgument, "room code and display name are required")
	}
	name := sanitizeDisplayName(in.DisplayName)
	if name == "" {
		return JoinResult{}, domain.E(domain.CodeInvalidArgument, "invalid display name")
	}

	session, err := s.lookupByCode(ctx, in.Code)
	if err != nil {
		return JoinResult{}, err
	}
	room := session.Room()

	now := s.clock()
	player := domain.Player{
		PlayerID:    uuid.NewString(),
		RoomID:      room.RoomID,
		DisplayName: name,
		Score:       0,
		Streak:      0,
		DeviceHash:  in.DeviceHash,
		JoinedAt:    now,
		LastSeenAt:  now,
	}
	if room.Settings.CaptureEmail && in.Email != "" {
		player.Email = in.Email
	}

	player, version, err := session.Join(player)
	if err != nil {
		return JoinResult{}, err
	}
	monitoring.PlayersJoined.Inc()

	token, err := s.tokens.Issue(domain.TokenClaims{
		Subject:    player.PlayerID,
		Role:       domain.RolePlayer,
		RoomID:     room.RoomID,
		PlayerID:   player.PlayerID,
		DeviceHash: in.DeviceHash,
		ExpiresAt:  now.Add(s.tokenTTL).Unix(),
	})
	if err != nil {
		s.logger.Error("issue player token", zap.Error(err), zap.String("roomId", room.RoomID))
		return JoinResult{}, domain.E(domain.CodeInternal, "failed to join room")
	}

	s.publishPlayer(ctx, room.RoomID, version, player)
	return JoinResult{RoomID: room.RoomID, PlayerID: player.PlayerID, Token: token, RoomTitle: room.Title}, nil
}

func (s *RoomService) lookupByCode(ctx context.Context, code string) (*RoomSession, error) {
	roomID, found, err := s.codes.Lookup(ctx, normalizeCode(code))
	if err != nil {
		s.logger.Error("lookup room code", zap.Error(err))
		return nil, domain.E(domain.CodeInternal, "failed to look up room")
	}
	if !found {
		return nil, domain.E(domain.CodeNotFound, "room not found or has ended")
	}
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "room not found or has ended")
	}
	return session, nil
}

// Start begins the game: first question, fresh deadline.
func (s *RoomService) Start(ctx context.Context, hostID, roomID string) (domain.RoomState, error) {
	session, err := s.session(roomID)
	if err != nil {
		return domain.RoomState{}, err
	}
	state, err := session.Start(hostID)
	if err != nil {
		return domain.RoomState{}, err
	}
	s.publishState(ctx, roomID, state)
	return state, nil
}

type NextResult struct {
	QuestionIndex  int `json:"questionIndex"`
	TotalQuestions int `json:"totalQuestions"`
}

// Next advances to the following question.
func (s *RoomService) Next(ctx context.Context, hostID, roomID string) (NextResult, error) {
	session, err := s.session(roomID)
	if err != nil {
		return NextResult{}, err
	}
	index, total, state, err := session.Next(hostID)
	if err != nil {
		return NextResult{}, err
	}
	s.publishState(ctx, roomID, state)
	return NextResult{QuestionIndex: index, TotalQuestions: total}, nil
}

type RevealResult struct {
	Stats       domain.QuestionStats      `json:"stats"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

// Reveal closes the current question and recomputes its statistics plus a
// top-10 leaderboard. Safe to call repeatedly.
func (s *RoomService) Reveal(ctx context.Context, hostID, roomID string, questionIndex int) (RevealResult, error) {
	session, err := s.session(roomID)
	if err != nil {
		return RevealResult{}, err
	}
	question, answers, state, err := session.Reveal(hostID, questionIndex)
	if err != nil {
		return RevealResult{}, err
	}

	s.publishQuestion(ctx, roomID, state.Version, question)
	s.publishState(ctx, roomID, state)
	return RevealResult{
		Stats:       buildQuestionStats(question, answers),
		Leaderboard: session.Leaderboard(10),
	}, nil
}

// ShowLeaderboard displays the interstitial standings screen.
func (s *RoomService) ShowLeaderboard(ctx context.Context, hostID, roomID string) (domain.RoomState, error) {
	session, err := s.session(roomID)
	if err != nil {
		return domain.RoomState{}, err
	}
	state, err := session.ShowLeaderboard(hostID)
	if err != nil {
		return domain.RoomState{}, err
	}
	s.publishState(ctx, roomID, state)
	return state, nil
}

type EndResult struct {
	FinalResults []domain.LeaderboardEntry `json:"finalResults"`
	GameStats    domain.GameStats          `json:"gameStats"`
}

// End terminates the room, releases its code for reuse and archives the
// final record when an archiver is configured.
func (s *RoomService) End(ctx context.Context, hostID, roomID string) (EndResult, error) {
	session, err := s.session(roomID)
	if err != nil {
		return EndResult{}, err
	}
	summary, err := session.End(hostID)
	if err != nil {
		return EndResult{}, err
	}
	monitoring.GamesEnded.Inc()

	if err := s.codes.Release(ctx, summary.room.Code); err != nil {
		s.logger.Warn("release room code", zap.Error(err), zap.String("roomId", roomID))
	}

	result := EndResult{
		FinalResults: buildLeaderboard(summary.standings, 0),
		GameStats:    buildGameStats(summary, summary.room.TotalQuestions),
	}

	if s.archiver != nil {
		record := ArchiveRecord{
			RoomID:       summary.room.RoomID,
			Code:         summary.room.Code,
			Title:        summary.room.Title,
			HostID:       summary.room.HostID,
			EndedAt:      summary.room.EndedAt,
			FinalResults: result.FinalResults,
			GameStats:    result.GameStats,
		}
		if err := s.archiver.ArchiveRoom(ctx, record); err != nil {
			s.logger.Warn("archive room", zap.Error(err), zap.String("roomId", roomID))
		}
	}

	s.publishRoom(ctx, session)
	s.publishState(ctx, roomID, summary.state)
	return result, nil
}

// Kick removes a player from play without touching the ledger.
func (s *RoomService) Kick(ctx context.Context, hostID, roomID, playerID string) error {
	session, err := s.session(roomID)
	if err != nil {
		return err
	}
	player, version, err := session.Kick(hostID, playerID)
	if err != nil {
		return err
	}
	s.publishPlayer(ctx, roomID, version, player)
	return nil
}

type SubmitResult struct {
	IsCorrect    bool `json:"isCorrect"`
	PointsEarned int  `json:"pointsEarned"`
	NewScore     int  `json:"newScore"`
}

// Submit scores one answer. The caller's credential must be bound to the
// exact room and player it submits for.
func (s *RoomService) Submit(ctx context.Context, claims domain.TokenClaims, roomID, playerID string, questionIndex int, resp domain.Response) (SubmitResult, error) {
	if claims.Role != domain.RolePlayer {
		return SubmitResult{}, domain.E(domain.CodeUnauthenticated, "must be authenticated as a player")
	}
	if claims.PlayerID != playerID {
		return SubmitResult{}, domain.E(domain.CodePermissionDenied, "player ID mismatch")
	}
	if claims.RoomID != roomID {
		return SubmitResult{}, domain.E(domain.CodePermissionDenied, "room ID mismatch")
	}

	session, err := s.session(roomID)
	if err != nil {
		return SubmitResult{}, err
	}
	answer, player, version, err := session.Submit(playerID, questionIndex, resp)
	if err != nil {
		monitoring.SubmissionsRejected.WithLabelValues(string(domain.CodeOf(err))).Inc()
		return SubmitResult{}, err
	}
	if answer.IsCorrect {
		monitoring.AnswersScored.WithLabelValues("correct").Inc()
	} else {
		monitoring.AnswersScored.WithLabelValues("incorrect").Inc()
	}

	s.publishPlayer(ctx, roomID, version, player)
	return SubmitResult{IsCorrect: answer.IsCorrect, PointsEarned: answer.PointsEarned, NewScore: player.Score}, nil
}

// RoomSnapshot returns the room record and current state for read-only
// consumers like the websocket stream.
func (s *RoomService) RoomSnapshot(roomID string) (domain.Room, domain.RoomState, error) {
	session, err := s.session(roomID)
	if err != nil {
		return domain.Room{}, domain.RoomState{}, err
	}
	return session.Room(), session.State(), nil
}

// VerifyToken exposes credential verification to the transport layer.
func (s *RoomService) VerifyToken(token string) (domain.TokenClaims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return domain.TokenClaims{}, err
	}
	if claims.ExpiresAt > 0 && s.clock().Unix() > claims.ExpiresAt {
		return domain.TokenClaims{}, domain.E(domain.CodeUnauthenticated, "credential expired")
	}
	return claims, nil
}

func (s *RoomService) session(roomID string) (*RoomSession, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "room not found")
	}
	return session, nil
}

func (s *RoomService) publishRoom(ctx context.Context, session *RoomSession) {
	room := session.Room()
	state := session.State()
	s.publisher.Publish(ctx, domain.StateEvent{
		RoomID:    room.RoomID,
		Version:   state.Version,
		Kind:      domain.EventRoom,
		Room:      &room,
		State:     &state,
		EmittedAt: s.clock(),
	})
}

func (s *RoomService) publishState(ctx context.Context, roomID string, state domain.RoomState) {
	s.publisher.Publish(ctx, domain.StateEvent{
		RoomID:    roomID,
		Version:   state.Version,
		Kind:      domain.EventState,
		State:     &state,
		EmittedAt: s.clock(),
	})
}

func (s *RoomService) publishPlayer(ctx context.Context, roomID string, version int64, player domain.Player) {
	// The public player event never carries the email or device hash.
	player.Email = ""
	player.DeviceHash = ""
	s.publisher.Publish(ctx, domain.StateEvent{
		RoomID:    roomID,
		Version:   version,
		Kind:      domain.EventPlayer,
		Player:    &player,
		EmittedAt: s.clock(),
	})
}

func (s *RoomService) publishQuestion(ctx context.Context, roomID string, version int64, question domain.Question) {
	s.publisher.Publish(ctx, domain.StateEvent{
		RoomID:    roomID,
		Version:   version,
		Kind:      domain.EventQuestion,
		Question:  &question,
		EmittedAt: s.clock(),
	})
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
