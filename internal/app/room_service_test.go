package app_test

import (
	"context"
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"crowdplay-room-service/internal/app"
	"crowdplay-room-service/internal/domain"
	"crowdplay-room-service/internal/infra/memory"
	"crowdplay-room-service/internal/infra/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// eventRecorder captures published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.StateEvent
}

func (r *eventRecorder) Publish(_ context.Context, event domain.StateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) lastOfKind(kind domain.EventKind) (domain.StateEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return domain.StateEvent{}, false
}

type fixture struct {
	service  *app.RoomService
	clock    *fakeClock
	recorder *eventRecorder
	codes    *memory.CodeRegistry
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()
	clock := newFakeClock()
	recorder := &eventRecorder{}
	codes := memory.NewCodeRegistry()
	opts = append([]app.Option{app.WithClock(clock.Now), app.WithRand(rand.New(rand.NewSource(7)))}, opts...)
	service := app.NewRoomService(memory.NewRoomStore(), codes, token.NewHMACService("test-secret"), recorder, zap.NewNop(), opts...)
	return &fixture{service: service, clock: clock, recorder: recorder, codes: codes}
}

func singleQuestionInput() app.CreateRoomInput {
	return app.CreateRoomInput{
		Title:      "Friday Trivia",
		Mode:       "LIVE",
		MaxPlayers: 50,
		Questions: []app.QuestionInput{
			{
				Type: domain.QuestionMC,
				Text: "Which option is right?",
				Options: []domain.Option{
					{ID: "1", Text: "Right"},
					{ID: "2", Text: "Wrong"},
				},
				CorrectOptionID: "1",
				TimeLimitSec:    20,
				BasePoints:      100,
				SpeedFactor:     0.5,
			},
		},
		Settings: domain.Settings{ShowLeaderboard: true, ShuffleOptions: true},
	}
}

func twoQuestionInput() app.CreateRoomInput {
	in := singleQuestionInput()
	in.Questions = append(in.Questions, app.QuestionInput{
		Type:            domain.QuestionTF,
		Text:            "The sky is green.",
		CorrectOptionID: "false",
		TimeLimitSec:    10,
		BasePoints:      50,
		SpeedFactor:     0.5,
	})
	return in
}

func (f *fixture) createRoom(t *testing.T, in app.CreateRoomInput) (string, app.CreateRoomResult) {
	t.Helper()
	hostID, _, err := f.service.RegisterHost(context.Background(), "Host")
	if err != nil {
		t.Fatalf("register host: %v", err)
	}
	created, err := f.service.CreateRoom(context.Background(), hostID, in)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return hostID, created
}

func (f *fixture) joinPlayer(t *testing.T, code, name string) (app.JoinResult, domain.TokenClaims) {
	t.Helper()
	joined, err := f.service.Join(context.Background(), app.JoinInput{Code: code, DisplayName: name, DeviceHash: "deadbeefdeadbeef"})
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	claims, err := f.service.VerifyToken(joined.Token)
	if err != nil {
		t.Fatalf("verify player token: %v", err)
	}
	return joined, claims
}

func TestFullGameRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())

	if !regexp.MustCompile(`^[A-Z0-9]{6}$`).MatchString(created.Code) {
		t.Fatalf("unexpected room code %q", created.Code)
	}
	if created.JoinURL != "https://play.crowdplay.app/join/"+created.Code {
		t.Fatalf("unexpected join url %q", created.JoinURL)
	}

	joined, claims := f.joinPlayer(t, created.Code, "Alice")
	if claims.Role != domain.RolePlayer || claims.RoomID != created.RoomID || claims.PlayerID != joined.PlayerID {
		t.Fatalf("player claims not bound to room: %+v", claims)
	}

	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}
	room, state, err := f.service.RoomSnapshot(created.RoomID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if room.Status != domain.RoomActive || room.CurrentQuestionIndex != 0 {
		t.Fatalf("room not on first question: %+v", room)
	}
	if state.Phase != domain.PhaseQuestion {
		t.Fatalf("expected QUESTION phase, got %s", state.Phase)
	}
	if want := f.clock.Now().Add(20 * time.Second); !state.QuestionDeadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", state.QuestionDeadline, want)
	}

	// 4s into a 20s window a correct answer earns 100 + floor(100*0.5*0.8).
	f.clock.Advance(4 * time.Second)
	submitted, err := f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 0, domain.OptionResponse{OptionID: "1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !submitted.IsCorrect || submitted.PointsEarned != 140 || submitted.NewScore != 140 {
		t.Fatalf("unexpected submit result: %+v", submitted)
	}

	revealed, err := f.service.Reveal(ctx, hostID, created.RoomID, 0)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if revealed.Stats.TotalAnswers != 1 || revealed.Stats.CorrectAnswers != 1 {
		t.Fatalf("unexpected stats: %+v", revealed.Stats)
	}
	if revealed.Stats.OptionCounts["1"] != 1 {
		t.Fatalf("unexpected option counts: %+v", revealed.Stats.OptionCounts)
	}
	if revealed.Stats.AverageLatencyMs != 4000 {
		t.Fatalf("average latency = %d, want 4000", revealed.Stats.AverageLatencyMs)
	}
	if len(revealed.Leaderboard) != 1 || revealed.Leaderboard[0].Score != 140 || revealed.Leaderboard[0].Streak != 1 {
		t.Fatalf("unexpected leaderboard: %+v", revealed.Leaderboard)
	}

	ended, err := f.service.End(ctx, hostID, created.RoomID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(ended.FinalResults) != 1 {
		t.Fatalf("expected one final entry, got %d", len(ended.FinalResults))
	}
	top := ended.FinalResults[0]
	if top.Rank != 1 || top.PlayerID != joined.PlayerID || top.Score != 140 {
		t.Fatalf("unexpected final entry: %+v", top)
	}
	if ended.GameStats.PlayerCount != 1 || ended.GameStats.TotalAnswers != 1 || ended.GameStats.TopScore != 140 {
		t.Fatalf("unexpected game stats: %+v", ended.GameStats)
	}
	if ended.GameStats.DurationMs != 4000 {
		t.Fatalf("duration = %d, want 4000", ended.GameStats.DurationMs)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*app.CreateRoomInput)
	}{
		{"missing title", func(in *app.CreateRoomInput) { in.Title = "   " }},
		{"unknown mode", func(in *app.CreateRoomInput) { in.Mode = "TURBO" }},
		{"zero players", func(in *app.CreateRoomInput) { in.MaxPlayers = 0 }},
		{"too many players", func(in *app.CreateRoomInput) { in.MaxPlayers = 500 }},
		{"no questions", func(in *app.CreateRoomInput) { in.Questions = nil }},
		{"single option", func(in *app.CreateRoomInput) {
			in.Questions[0].Options = in.Questions[0].Options[:1]
		}},
		{"correct option missing", func(in *app.CreateRoomInput) {
			in.Questions[0].CorrectOptionID = "9"
		}},
		{"tf bad flag", func(in *app.CreateRoomInput) {
			in.Questions[0] = app.QuestionInput{Type: domain.QuestionTF, Text: "?", CorrectOptionID: "yes", TimeLimitSec: 10}
		}},
		{"num without rule", func(in *app.CreateRoomInput) {
			in.Questions[0] = app.QuestionInput{Type: domain.QuestionNum, Text: "?", TimeLimitSec: 10}
		}},
		{"zero time limit", func(in *app.CreateRoomInput) { in.Questions[0].TimeLimitSec = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			hostID, _, err := f.service.RegisterHost(context.Background(), "Host")
			if err != nil {
				t.Fatalf("register host: %v", err)
			}
			in := singleQuestionInput()
			tc.mutate(&in)
			_, err = f.service.CreateRoom(context.Background(), hostID, in)
			if !domain.IsCode(err, domain.CodeInvalidArgument) {
				t.Fatalf("expected invalid-argument, got %v", err)
			}
		})
	}
}

func TestCreateRoomCodeExhausted(t *testing.T) {
	f := newFixture(t)
	hostID, _, err := f.service.RegisterHost(context.Background(), "Host")
	if err != nil {
		t.Fatalf("register host: %v", err)
	}
	// A rand source that always draws the same code turns every attempt into
	// a collision once the first reservation holds.
	stuck := rand.New(zeroSource{})
	service := app.NewRoomService(memory.NewRoomStore(), f.codes, token.NewHMACService("test-secret"), f.recorder, zap.NewNop(),
		app.WithClock(f.clock.Now), app.WithRand(stuck))

	if _, err := service.CreateRoom(context.Background(), hostID, singleQuestionInput()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err = service.CreateRoom(context.Background(), hostID, singleQuestionInput())
	if !domain.IsCode(err, domain.CodeResourceExhausted) {
		t.Fatalf("expected resource-exhausted, got %v", err)
	}
}

// zeroSource makes rand deterministic at a single value.
type zeroSource struct{}

func (zeroSource) Int63() int64 { return 0 }
func (zeroSource) Seed(int64)   {}

func TestConcurrentRoomCreation(t *testing.T) {
	f := newFixture(t)
	hostID, _, err := f.service.RegisterHost(context.Background(), "Host")
	if err != nil {
		t.Fatalf("register host: %v", err)
	}

	// All creators share one code source; the run must stay race-free and
	// every room must still claim a distinct code.
	const creators = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := make(map[string]struct{})
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := f.service.CreateRoom(context.Background(), hostID, singleQuestionInput())
			if err != nil {
				t.Errorf("create room: %v", err)
				return
			}
			mu.Lock()
			codes[created.Code] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(codes) != creators {
		t.Fatalf("expected %d distinct codes, got %d", creators, len(codes))
	}
}

func TestJoinSanitizesDisplayName(t *testing.T) {
	f := newFixture(t)
	_, created := f.createRoom(t, singleQuestionInput())

	f.joinPlayer(t, created.Code, "  Zoe✨!  ")
	event, ok := f.recorder.lastOfKind(domain.EventPlayer)
	if !ok || event.Player == nil {
		t.Fatalf("expected a player event")
	}
	if event.Player.DisplayName != "Zoe" {
		t.Fatalf("display name = %q, want %q", event.Player.DisplayName, "Zoe")
	}
	if event.Player.DeviceHash != "" || event.Player.Email != "" {
		t.Fatalf("player event leaked private fields: %+v", event.Player)
	}
}

func TestJoinRejectsUnusableName(t *testing.T) {
	f := newFixture(t)
	_, created := f.createRoom(t, singleQuestionInput())
	_, err := f.service.Join(context.Background(), app.JoinInput{Code: created.Code, DisplayName: "!!!✨"})
	if !domain.IsCode(err, domain.CodeInvalidArgument) {
		t.Fatalf("expected invalid-argument, got %v", err)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Join(context.Background(), app.JoinInput{Code: "NOSUCH", DisplayName: "Alice"})
	if !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestJoinCodeIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	_, created := f.createRoom(t, singleQuestionInput())
	lower := " " + toLower(created.Code) + " "
	if _, err := f.service.Join(context.Background(), app.JoinInput{Code: lower, DisplayName: "Alice"}); err != nil {
		t.Fatalf("join with lowercase code: %v", err)
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func TestJoinCapacity(t *testing.T) {
	f := newFixture(t)
	in := singleQuestionInput()
	in.MaxPlayers = 2
	_, created := f.createRoom(t, in)

	f.joinPlayer(t, created.Code, "Alice")
	f.joinPlayer(t, created.Code, "Bob")
	_, err := f.service.Join(context.Background(), app.JoinInput{Code: created.Code, DisplayName: "Carol"})
	if !domain.IsCode(err, domain.CodeResourceExhausted) {
		t.Fatalf("expected resource-exhausted, got %v", err)
	}
}

func TestKickFreesCapacitySeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := singleQuestionInput()
	in.MaxPlayers = 1
	hostID, created := f.createRoom(t, in)

	joined, _ := f.joinPlayer(t, created.Code, "Alice")
	if _, err := f.service.Join(ctx, app.JoinInput{Code: created.Code, DisplayName: "Bob"}); !domain.IsCode(err, domain.CodeResourceExhausted) {
		t.Fatalf("expected full room, got %v", err)
	}

	if err := f.service.Kick(ctx, hostID, created.RoomID, joined.PlayerID); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if _, err := f.service.Join(ctx, app.JoinInput{Code: created.Code, DisplayName: "Bob"}); err != nil {
		t.Fatalf("join after kick: %v", err)
	}

	if err := f.service.Kick(ctx, "not-the-host", created.RoomID, joined.PlayerID); !domain.IsCode(err, domain.CodePermissionDenied) {
		t.Fatalf("expected permission-denied, got %v", err)
	}
	if err := f.service.Kick(ctx, hostID, created.RoomID, "ghost"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestJoinLockedActiveRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := singleQuestionInput()
	in.Settings.LockOnStart = true
	hostID, created := f.createRoom(t, in)
	f.joinPlayer(t, created.Code, "Alice")

	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := f.service.Join(ctx, app.JoinInput{Code: created.Code, DisplayName: "Late"})
	if !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition, got %v", err)
	}
}

func TestStartPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())

	if _, err := f.service.Start(ctx, hostID, created.RoomID); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition for empty room, got %v", err)
	}

	f.joinPlayer(t, created.Code, "Alice")
	if _, err := f.service.Start(ctx, "not-the-host", created.RoomID); !domain.IsCode(err, domain.CodePermissionDenied) {
		t.Fatalf("expected permission-denied, got %v", err)
	}
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.Start(ctx, hostID, created.RoomID); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition on double start, got %v", err)
	}
	if _, err := f.service.Start(ctx, hostID, "no-such-room"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestNextRequiresRevealedResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, twoQuestionInput())
	f.joinPlayer(t, created.Code, "Alice")

	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.Next(ctx, hostID, created.RoomID); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition before reveal, got %v", err)
	}

	if _, err := f.service.Reveal(ctx, hostID, created.RoomID, 0); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	next, err := f.service.Next(ctx, hostID, created.RoomID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.QuestionIndex != 1 || next.TotalQuestions != 2 {
		t.Fatalf("unexpected next result: %+v", next)
	}

	// The room is back in QUESTION, so a retried advance fails instead of
	// skipping a question.
	if _, err := f.service.Next(ctx, hostID, created.RoomID); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition on retried next, got %v", err)
	}

	if _, err := f.service.Reveal(ctx, hostID, created.RoomID, 1); err != nil {
		t.Fatalf("reveal second: %v", err)
	}
	if _, err := f.service.Next(ctx, hostID, created.RoomID); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition past last question, got %v", err)
	}
}

func TestRevealIsIdempotentAndRejectsStaleIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())
	joined, claims := f.joinPlayer(t, created.Code, "Alice")

	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 0, domain.OptionResponse{OptionID: "2"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.service.Reveal(ctx, hostID, created.RoomID, 3); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition for stale index, got %v", err)
	}

	first, err := f.service.Reveal(ctx, hostID, created.RoomID, 0)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	second, err := f.service.Reveal(ctx, hostID, created.RoomID, 0)
	if err != nil {
		t.Fatalf("repeated reveal: %v", err)
	}
	if first.Stats.TotalAnswers != second.Stats.TotalAnswers || first.Stats.CorrectAnswers != second.Stats.CorrectAnswers {
		t.Fatalf("reveal not stable: %+v vs %+v", first.Stats, second.Stats)
	}
	if first.Stats.CorrectAnswers != 0 || first.Stats.OptionCounts["2"] != 1 {
		t.Fatalf("unexpected stats: %+v", first.Stats)
	}
}

func TestSubmitDuplicateKeepsFirstScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())
	joined, claims := f.joinPlayer(t, created.Code, "Alice")
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.clock.Advance(4 * time.Second)
	first, err := f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 0, domain.OptionResponse{OptionID: "1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 0, domain.OptionResponse{OptionID: "2"})
	if !domain.IsCode(err, domain.CodeAlreadyExists) {
		t.Fatalf("expected already-exists, got %v", err)
	}

	revealed, err := f.service.Reveal(ctx, hostID, created.RoomID, 0)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if revealed.Stats.TotalAnswers != 1 {
		t.Fatalf("duplicate was recorded: %+v", revealed.Stats)
	}
	if revealed.Leaderboard[0].Score != first.NewScore {
		t.Fatalf("score changed after duplicate: %d vs %d", revealed.Leaderboard[0].Score, first.NewScore)
	}
}

func TestSubmitAfterDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())
	joined, claims := f.joinPlayer(t, created.Code, "Alice")
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.clock.Advance(21 * time.Second)
	_, err := f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 0, domain.OptionResponse{OptionID: "1"})
	if !domain.IsCode(err, domain.CodeDeadlineExceeded) {
		t.Fatalf("expected deadline-exceeded, got %v", err)
	}

	// The rejected submission left no trace.
	revealed, err := f.service.Reveal(ctx, hostID, created.RoomID, 0)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if revealed.Stats.TotalAnswers != 0 {
		t.Fatalf("late answer was recorded: %+v", revealed.Stats)
	}
	if revealed.Leaderboard[0].Score != 0 || revealed.Leaderboard[0].Streak != 0 {
		t.Fatalf("late answer mutated player: %+v", revealed.Leaderboard[0])
	}
}

func TestSubmitKickedPlayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())
	joined, claims := f.joinPlayer(t, created.Code, "Alice")
	f.joinPlayer(t, created.Code, "Bob")
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.service.Kick(ctx, hostID, created.RoomID, joined.PlayerID); err != nil {
		t.Fatalf("kick: %v", err)
	}

	_, err := f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 0, domain.OptionResponse{OptionID: "1"})
	if !domain.IsCode(err, domain.CodePermissionDenied) {
		t.Fatalf("expected permission-denied, got %v", err)
	}
}

func TestSubmitCredentialBinding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())
	joined, claims := f.joinPlayer(t, created.Code, "Alice")
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp := domain.OptionResponse{OptionID: "1"}
	if _, err := f.service.Submit(ctx, claims, created.RoomID, "someone-else", 0, resp); !domain.IsCode(err, domain.CodePermissionDenied) {
		t.Fatalf("expected permission-denied for player mismatch, got %v", err)
	}
	if _, err := f.service.Submit(ctx, claims, "other-room", joined.PlayerID, 0, resp); !domain.IsCode(err, domain.CodePermissionDenied) {
		t.Fatalf("expected permission-denied for room mismatch, got %v", err)
	}
	hostClaims := domain.TokenClaims{Subject: hostID, Role: domain.RoleHost}
	if _, err := f.service.Submit(ctx, hostClaims, created.RoomID, joined.PlayerID, 0, resp); !domain.IsCode(err, domain.CodeUnauthenticated) {
		t.Fatalf("expected unauthenticated for host credential, got %v", err)
	}
	if _, err := f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 2, resp); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition for wrong index, got %v", err)
	}
}

func TestStreakAcrossQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, twoQuestionInput())
	joined, claims := f.joinPlayer(t, created.Code, "Alice")
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 0, domain.OptionResponse{OptionID: "1"}); err != nil {
		t.Fatalf("submit first: %v", err)
	}
	if _, err := f.service.Reveal(ctx, hostID, created.RoomID, 0); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, err := f.service.Next(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("next: %v", err)
	}
	// Wrong answer on the TF question resets the streak.
	if _, err := f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 1, domain.BoolResponse{Value: true}); err != nil {
		t.Fatalf("submit second: %v", err)
	}

	revealed, err := f.service.Reveal(ctx, hostID, created.RoomID, 1)
	if err != nil {
		t.Fatalf("reveal second: %v", err)
	}
	if revealed.Leaderboard[0].Streak != 0 {
		t.Fatalf("streak = %d after wrong answer, want 0", revealed.Leaderboard[0].Streak)
	}
}

func TestShowLeaderboardTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())
	f.joinPlayer(t, created.Code, "Alice")
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.service.ShowLeaderboard(ctx, hostID, created.RoomID); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition before reveal, got %v", err)
	}
	if _, err := f.service.Reveal(ctx, hostID, created.RoomID, 0); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	state, err := f.service.ShowLeaderboard(ctx, hostID, created.RoomID)
	if err != nil {
		t.Fatalf("show leaderboard: %v", err)
	}
	if state.Phase != domain.PhaseLeaderboard {
		t.Fatalf("phase = %s, want LEADERBOARD", state.Phase)
	}
}

func TestShowLeaderboardDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := singleQuestionInput()
	in.Settings.ShowLeaderboard = false
	hostID, created := f.createRoom(t, in)
	f.joinPlayer(t, created.Code, "Alice")
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.Reveal(ctx, hostID, created.RoomID, 0); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, err := f.service.ShowLeaderboard(ctx, hostID, created.RoomID); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition when disabled, got %v", err)
	}
}

func TestEndReleasesCodeAndIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())
	f.joinPlayer(t, created.Code, "Alice")

	if _, err := f.service.End(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := f.service.End(ctx, hostID, created.RoomID); !domain.IsCode(err, domain.CodeFailedPrecondition) {
		t.Fatalf("expected failed-precondition on double end, got %v", err)
	}
	if _, err := f.service.Join(ctx, app.JoinInput{Code: created.Code, DisplayName: "Late"}); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not-found after end, got %v", err)
	}

	room, state, err := f.service.RoomSnapshot(created.RoomID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if room.Status != domain.RoomEnded || state.Phase != domain.PhaseFinal {
		t.Fatalf("room not terminal: %+v %+v", room, state)
	}
}

func TestLeaderboardTiesBreakByJoinOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())

	alice, aliceClaims := f.joinPlayer(t, created.Code, "Alice")
	bob, bobClaims := f.joinPlayer(t, created.Code, "Bob")
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Same latency, same answer: a tie that must order by join time.
	if _, err := f.service.Submit(ctx, bobClaims, created.RoomID, bob.PlayerID, 0, domain.OptionResponse{OptionID: "1"}); err != nil {
		t.Fatalf("submit bob: %v", err)
	}
	if _, err := f.service.Submit(ctx, aliceClaims, created.RoomID, alice.PlayerID, 0, domain.OptionResponse{OptionID: "1"}); err != nil {
		t.Fatalf("submit alice: %v", err)
	}

	ended, err := f.service.End(ctx, hostID, created.RoomID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(ended.FinalResults) != 2 {
		t.Fatalf("expected two entries, got %d", len(ended.FinalResults))
	}
	if ended.FinalResults[0].PlayerID != alice.PlayerID || ended.FinalResults[1].PlayerID != bob.PlayerID {
		t.Fatalf("tie not broken by join order: %+v", ended.FinalResults)
	}
}

func TestVerifyTokenExpiry(t *testing.T) {
	f := newFixture(t)
	_, created := f.createRoom(t, singleQuestionInput())
	joined, _ := f.joinPlayer(t, created.Code, "Alice")

	f.clock.Advance(7 * time.Hour)
	_, err := f.service.VerifyToken(joined.Token)
	if !domain.IsCode(err, domain.CodeUnauthenticated) {
		t.Fatalf("expected unauthenticated for expired token, got %v", err)
	}
}

func TestStateVersionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hostID, created := f.createRoom(t, singleQuestionInput())
	joined, claims := f.joinPlayer(t, created.Code, "Alice")
	if _, err := f.service.Start(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.Submit(ctx, claims, created.RoomID, joined.PlayerID, 0, domain.OptionResponse{OptionID: "1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.service.Reveal(ctx, hostID, created.RoomID, 0); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, err := f.service.End(ctx, hostID, created.RoomID); err != nil {
		t.Fatalf("end: %v", err)
	}

	var last int64
	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	for _, event := range f.recorder.events {
		if event.Version < last {
			t.Fatalf("version went backwards: %d after %d (%s)", event.Version, last, event.Kind)
		}
		last = event.Version
	}
	if last < 5 {
		t.Fatalf("expected at least five versions, got %d", last)
	}
}
