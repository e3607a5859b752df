package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuizSnapshot is the immutable question sequence a session plays.
// Correct answers are resolved to indices when the snapshot is built,
// so play-time correctness is an index comparison only.
type QuizSnapshot struct {
	QuizID uint
	Title  string

	Questions []QuestionSnapshot
}

type QuestionSnapshot struct {
	Text         string
	MediaURL     string
	Options      []string
	CorrectIndex int
	TimeLimit    time.Duration
}

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusStarting  Status = "starting"
	StatusActive    Status = "active"
	StatusRevealing Status = "revealing"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Wallet   string    `json:"wallet,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

type Answer struct {
	SelectedIndex int       `json:"selected_index"`
	Correct       bool      `json:"correct"`
	Score         int       `json:"score"`
	AnsweredAt    time.Time `json:"answered_at"`
}

type LeaderboardEntry struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Wallet   string `json:"wallet,omitempty"`
	Score    int    `json:"score"`
}

// Summary is the read-only projection of a session exposed by the
// registry, the state mirror and list endpoints. It never carries the
// internal answer map.
type Summary struct {
	Code            string             `json:"code"`
	Title           string             `json:"title"`
	HostWallet      string             `json:"host_wallet,omitempty"`
	PrizePool       decimal.Decimal    `json:"prize_pool"`
	IsFreeGame      bool               `json:"is_free_game"`
	EscrowAddress   string             `json:"escrow_address,omitempty"`
	Status          Status             `json:"status"`
	Players         []Player           `json:"players"`
	PlayerCount     int                `json:"player_count"`
	QuestionCount   int                `json:"question_count"`
	CurrentQuestion int                `json:"current_question"`
	Leaderboard     []LeaderboardEntry `json:"leaderboard"`
	CreatedAt       time.Time          `json:"created_at"`
}

// QuestionView is a question as broadcast to players: no correct flag.
type QuestionView struct {
	Index     int      `json:"index"`
	Text      string   `json:"text"`
	MediaURL  string   `json:"media_url,omitempty"`
	Options   []string `json:"options"`
	TimeLimit int      `json:"time_limit"` // seconds
	Total     int      `json:"total_questions"`
}

// AnswerRecord is one archived answer of a finished session.
type AnswerRecord struct {
	PlayerID      string
	PlayerName    string
	QuestionIndex int
	SelectedIndex int
	Correct       bool
	Score         int
	AnsweredAt    time.Time
}

// FinalResult is handed to the finish hook when a session reaches a
// terminal state.
type FinalResult struct {
	Code        string
	QuizID      uint
	Status      Status
	Players     []Player
	Leaderboard []LeaderboardEntry
	Answers     []AnswerRecord
	EndedAt     time.Time
}

// Broadcast event names on the realtime channel.
const (
	EventPlayerJoined  = "player_joined"
	EventGameStarting  = "game_starting"
	EventGameStarted   = "game_started"
	EventQuestionStart = "question_start"
	EventQuestionEnd   = "question_end"
	EventGameFinished  = "game_finished"
	EventGameCancelled = "game_cancelled"
	EventPrizePaid     = "prize_paid"
)

// Broadcaster fans an event out to every client attached to a session.
type Broadcaster interface {
	BroadcastToGame(code string, event string, payload any)
}

// SnapshotSink receives the read-only summary after every transition.
type SnapshotSink interface {
	Put(sum Summary)
	Delete(code string)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToGame(string, string, any) {}

type nopSink struct{}

func (nopSink) Put(Summary)    {}
func (nopSink) Delete(string)  {}
