package domain

import "time"

// RoomStatus is the coarse lifecycle state of a room.
type RoomStatus string

const (
	RoomWaiting RoomStatus = "WAITING"
	RoomActive  RoomStatus = "ACTIVE"
	RoomEnded   RoomStatus = "ENDED"
)

// Phase is the shared view sub-state of an active room.
type Phase string

const (
	PhaseLobby       Phase = "LOBBY"
	PhaseQuestion    Phase = "QUESTION"
	PhaseResults     Phase = "RESULTS"
	PhaseLeaderboard Phase = "LEADERBOARD"
	PhaseFinal       Phase = "FINAL"
)

// QuestionType selects the correctness rule for a question.
type QuestionType string

const (
	QuestionMC   QuestionType = "MC"
	QuestionTF   QuestionType = "TF"
	QuestionIMG  QuestionType = "IMG"
	QuestionPoll QuestionType = "POLL"
	QuestionNum  QuestionType = "NUM"
)

// Settings are the host-chosen toggles for a room.
type Settings struct {
	LockOnStart     bool `json:"lockOnStart"`
	ShowLeaderboard bool `json:"showLeaderboard"`
	CaptureEmail    bool `json:"captureEmail"`
	ShuffleOptions  bool `json:"shuffleOptions"`
}

// Room is one live quiz session.
type Room struct {
	RoomID               string     `json:"roomId"`
	HostID               string     `json:"hostId"`
	Code                 string     `json:"code"`
	Title                string     `json:"title"`
	Mode                 string     `json:"mode"`
	Status               RoomStatus `json:"status"`
	MaxPlayers           int        `json:"maxPlayers"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"` // -1 before start
	TotalQuestions       int        `json:"totalQuestions"`
	CreatedAt            time.Time  `json:"createdAt"`
	StartedAt            time.Time  `json:"startedAt,omitempty"`
	EndedAt              time.Time  `json:"endedAt,omitempty"`
	Settings             Settings   `json:"settings"`
}

// Option is one selectable choice of an MC/IMG/POLL question.
type Option struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// NumRule is the correctness rule for NUM questions.
type NumRule struct {
	ExactValue float64 `json:"exactValue"`
	Tolerance  float64 `json:"tolerance"` // zero means exact match
}

// Question is immutable after room creation except the one-way Revealed flag.
type Question struct {
	QuestionID      string       `json:"questionId"`
	Index           int          `json:"index"`
	Type            QuestionType `json:"type"`
	Text            string       `json:"text"`
	ImageURL        string       `json:"imageUrl,omitempty"`
	Options         []Option     `json:"options,omitempty"`
	CorrectOptionID string       `json:"correctOptionId,omitempty"` // "true"/"false" for TF
	NumRule         *NumRule     `json:"numRule,omitempty"`
	TimeLimitSec    int          `json:"timeLimitSec"`
	BasePoints      int          `json:"basePoints"`
	SpeedFactor     float64      `json:"speedFactor"`
	Revealed        bool         `json:"revealed"`
}

// TimeLimit returns the answering window as a duration.
func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSec) * time.Second
}

// Player is an ephemeral per-room participant. Players are never deleted;
// kicking sets a flag so the answer ledger stays intact.
type Player struct {
	PlayerID    string    `json:"playerId"`
	RoomID      string    `json:"roomId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	Score       int       `json:"score"`
	Streak      int       `json:"streak"`
	IsKicked    bool      `json:"isKicked"`
	DeviceHash  string    `json:"deviceHash"`
	JoinedAt    time.Time `json:"joinedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Answer is one scored submission. At most one exists per
// (playerId, questionId) and it is immutable once written.
type Answer struct {
	AnswerID     string    `json:"answerId"`
	PlayerID     string    `json:"playerId"`
	QuestionID   string    `json:"questionId"`
	RoomID       string    `json:"roomId"`
	Response     Response  `json:"response"`
	IsCorrect    bool      `json:"isCorrect"`
	PointsEarned int       `json:"pointsEarned"`
	LatencyMs    int64     `json:"latencyMs"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RoomState is the version-tagged synchronization record subscribers consume.
type RoomState struct {
	Version          int64     `json:"version"`
	Phase            Phase     `json:"phase"`
	QuestionDeadline time.Time `json:"questionDeadline,omitempty"` // meaningful only in QUESTION
}

// LeaderboardEntry is one ranked row of a leaderboard snapshot.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	Streak      int    `json:"streak"`
}

// QuestionStats summarizes all answers to a single question. Recomputed from
// scratch on every reveal so repeated calls stay consistent.
type QuestionStats struct {
	TotalAnswers     int            `json:"totalAnswers"`
	CorrectAnswers   int            `json:"correctAnswers"`
	AverageLatencyMs int64          `json:"averageLatencyMs"`
	OptionCounts     map[string]int `json:"optionCounts,omitempty"`
}

// GameStats is the end-of-game summary.
type GameStats struct {
	PlayerCount    int   `json:"playerCount"`
	TotalQuestions int   `json:"totalQuestions"`
	TotalAnswers   int   `json:"totalAnswers"`
	AverageScore   int   `json:"averageScore"`
	TopScore       int   `json:"topScore"`
	DurationMs     int64 `json:"durationMs"`
}
