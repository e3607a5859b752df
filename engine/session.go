package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Session is one live run of a quiz. All mutable state is owned by a
// single goroutine; every entry point posts a closure onto the command
// channel and the run loop executes them one at a time. Timer firings
// arrive on the same channel, so the "last answer vs deadline" race is
// resolved by ordinary sequential code plus the epoch guard.
type Session struct {
	Code       string
	Quiz       QuizSnapshot
	HostWallet string
	PrizePool  decimal.Decimal
	IsFreeGame bool
	CreatedAt  time.Time

	// Owned by the run goroutine.
	status            Status
	escrowAddress     string
	escrowTransaction string
	payoutSignature   string
	players           []*Player
	answers           map[string][]*Answer
	current           int
	questionStartedAt time.Time
	epoch             uint64
	timer             clockwork.Timer

	// last mirrors status for readers of a stopped session.
	last atomic.Value

	cfg       Config
	clock     clockwork.Clock
	broadcast Broadcaster
	sink      SnapshotSink
	onFinish  func(FinalResult)

	cmds     chan func()
	sinkCh   chan Summary
	done     chan struct{}
	stopOnce sync.Once
}

// Config carries the session tuning knobs.
type Config struct {
	Countdown   time.Duration // Waiting -> Active delay after start
	RevealDelay time.Duration // hold on the answer reveal between questions
}

func DefaultConfig() Config {
	return Config{
		Countdown:   5 * time.Second,
		RevealDelay: 3 * time.Second,
	}
}

func newSession(code string, quiz QuizSnapshot, hostWallet string, prizePool decimal.Decimal, isFree bool, cfg Config, clock clockwork.Clock, b Broadcaster, sink SnapshotSink, onFinish func(FinalResult)) *Session {
	if b == nil {
		b = nopBroadcaster{}
	}
	if sink == nil {
		sink = nopSink{}
	}
	s := &Session{
		Code:       code,
		Quiz:       quiz,
		HostWallet: hostWallet,
		PrizePool:  prizePool,
		IsFreeGame: isFree,
		CreatedAt:  clock.Now(),
		status:     StatusWaiting,
		answers:    make(map[string][]*Answer),
		current:    -1,
		cfg:        cfg,
		clock:      clock,
		broadcast:  b,
		sink:       sink,
		onFinish:   onFinish,
		cmds:       make(chan func(), 32),
		sinkCh:     make(chan Summary, 1),
		done:       make(chan struct{}),
	}
	s.last.Store(StatusWaiting)
	go s.run()
	go s.mirror()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.done:
			s.disarmTimer()
			return
		}
	}
}

// stop tears the actor down. Any armed timer is disarmed by the run
// loop on its way out; a timer that already fired posts into a channel
// nobody reads, which is fine because post selects on done.
func (s *Session) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// post runs fn on the session goroutine and waits for it. It returns a
// not-found error once the session has been stopped.
func (s *Session) post(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.done:
		return NotFoundf("session %s is gone", s.Code)
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return NotFoundf("session %s is gone", s.Code)
	}
}

// postAsync enqueues fn without waiting. Used by timer goroutines.
func (s *Session) postAsync(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

// --- timers -----------------------------------------------------------

// armTimer replaces the active timer with a one-shot that posts fire
// into the command stream. Stop-and-drain on replacement prevents a
// stale firing from leaking a goroutine.
func (s *Session) armTimer(d time.Duration, fire func()) {
	s.disarmTimer()
	t := s.clock.NewTimer(d)
	s.timer = t
	go func() {
		select {
		case <-t.Chan():
			s.postAsync(fire)
		case <-s.done:
		}
	}()
}

func (s *Session) disarmTimer() {
	if s.timer == nil {
		return
	}
	if !s.timer.Stop() {
		select {
		case <-s.timer.Chan():
		default:
		}
	}
	s.timer = nil
}

// --- public command surface -------------------------------------------

// JoinResult is the reply to a join command.
type JoinResult struct {
	Player   Player
	Rejoined bool
	Summary  Summary
}

// Join adds a player. Joins stay open through the Starting countdown
// and close when the first question goes live. A duplicate identity is
// answered with the existing membership, not an error. The host can
// never join as a player.
func (s *Session) Join(identity, displayName string) (JoinResult, error) {
	var res JoinResult
	var cmdErr error
	err := s.post(func() {
		res, cmdErr = s.handleJoin(identity, displayName)
	})
	if err != nil {
		return JoinResult{}, err
	}
	return res, cmdErr
}

func (s *Session) handleJoin(identity, displayName string) (JoinResult, error) {
	if s.status != StatusWaiting && s.status != StatusStarting {
		return JoinResult{}, InvalidStatef("game %s is %s, joining is closed", s.Code, s.status)
	}
	if identity != "" && identity == s.HostWallet {
		return JoinResult{}, Forbiddenf("the host cannot join their own game")
	}
	if identity != "" {
		for _, p := range s.players {
			if p.ID == identity {
				return JoinResult{Player: *p, Rejoined: true, Summary: s.summary()}, nil
			}
		}
	}

	p := &Player{
		ID:       identity,
		Wallet:   identity,
		Name:     displayName,
		JoinedAt: s.clock.Now(),
	}
	if p.ID == "" {
		if !s.IsFreeGame {
			return JoinResult{}, Validationf("a wallet is required to join a paid game")
		}
		// Free games admit anonymous players under a synthesized identity.
		p.ID = uuid.NewString()
		p.Wallet = ""
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("Player %d", len(s.players)+1)
	}
	s.players = append(s.players, p)

	log.Info().Str("code", s.Code).Str("player", p.ID).Str("name", p.Name).Msg("player joined")
	s.broadcast.BroadcastToGame(s.Code, EventPlayerJoined, map[string]any{
		"player":       *p,
		"player_count": len(s.players),
	})
	s.publish()
	return JoinResult{Player: *p, Summary: s.summary()}, nil
}

// Start begins the countdown. Host only, Waiting only, and at least
// one player must be present.
func (s *Session) Start(identity string) error {
	var cmdErr error
	err := s.post(func() { cmdErr = s.handleStart(identity) })
	if err != nil {
		return err
	}
	return cmdErr
}

func (s *Session) handleStart(identity string) error {
	if identity != s.HostWallet {
		return Forbiddenf("only the host can start the game")
	}
	if s.status != StatusWaiting {
		return InvalidStatef("game %s already started (%s)", s.Code, s.status)
	}
	if len(s.players) == 0 {
		return Validationf("cannot start a game with no players")
	}

	s.setStatus(StatusStarting)
	countdown := int(s.cfg.Countdown / time.Second)
	log.Info().Str("code", s.Code).Int("countdown", countdown).Msg("game starting")
	s.broadcast.BroadcastToGame(s.Code, EventGameStarting, map[string]any{
		"countdown": countdown,
	})
	s.publish()

	s.armTimer(s.cfg.Countdown, func() {
		if s.status != StatusStarting {
			return
		}
		s.broadcast.BroadcastToGame(s.Code, EventGameStarted, map[string]any{
			"question_count": len(s.Quiz.Questions),
		})
		s.beginQuestion(0)
	})
	return nil
}

// beginQuestion opens the active phase of question idx. Runs on the
// session goroutine only. Bumping the epoch first invalidates every
// previously scheduled firing.
func (s *Session) beginQuestion(idx int) {
	s.epoch++
	s.setStatus(StatusActive)
	s.current = idx
	s.questionStartedAt = s.clock.Now()

	q := s.Quiz.Questions[idx]
	epoch := s.epoch
	log.Debug().Str("code", s.Code).Int("question", idx).Uint64("epoch", epoch).Msg("question live")
	s.broadcast.BroadcastToGame(s.Code, EventQuestionStart, QuestionView{
		Index:     idx,
		Text:      q.Text,
		MediaURL:  q.MediaURL,
		Options:   q.Options,
		TimeLimit: int(q.TimeLimit / time.Second),
		Total:     len(s.Quiz.Questions),
	})
	s.publish()

	s.armTimer(q.TimeLimit, func() {
		s.endQuestion(idx, epoch, "deadline")
	})
}

// endQuestion closes question idx exactly once per epoch. Both the
// all-answered check and the deadline timer funnel here; a caller whose
// epoch no longer matches is a silent no-op.
func (s *Session) endQuestion(idx int, epoch uint64, cause string) {
	if s.status != StatusActive || s.current != idx || s.epoch != epoch {
		log.Debug().Str("code", s.Code).Int("question", idx).Uint64("epoch", epoch).
			Str("cause", cause).Msg("stale question end dropped")
		return
	}
	s.disarmTimer()
	s.setStatus(StatusRevealing)

	q := s.Quiz.Questions[idx]
	lb := computeLeaderboard(s.players, s.answers)
	log.Info().Str("code", s.Code).Int("question", idx).Str("cause", cause).Msg("question ended")
	s.broadcast.BroadcastToGame(s.Code, EventQuestionEnd, map[string]any{
		"question_index": idx,
		"correct_index":  q.CorrectIndex,
		"cause":          cause,
		"leaderboard":    lb,
	})
	s.publish()

	s.armTimer(s.cfg.RevealDelay, func() {
		if s.status != StatusRevealing || s.current != idx {
			return
		}
		if idx+1 < len(s.Quiz.Questions) {
			s.beginQuestion(idx + 1)
			return
		}
		s.finish(StatusFinished)
	})
}

// SubmitAnswer records one answer for the current question. The score
// is computed here from the question start time; the gateway ignores
// any client-reported speed.
func (s *Session) SubmitAnswer(playerID string, questionIndex, selectedIndex int) (Answer, error) {
	var ans Answer
	var cmdErr error
	err := s.post(func() { ans, cmdErr = s.handleAnswer(playerID, questionIndex, selectedIndex) })
	if err != nil {
		return Answer{}, err
	}
	return ans, cmdErr
}

func (s *Session) handleAnswer(playerID string, questionIndex, selectedIndex int) (Answer, error) {
	if s.status != StatusActive {
		return Answer{}, InvalidStatef("no question is accepting answers")
	}
	if questionIndex != s.current {
		return Answer{}, InvalidStatef("question %d is not the current question", questionIndex)
	}
	var member *Player
	for _, p := range s.players {
		if p.ID == playerID {
			member = p
			break
		}
	}
	if member == nil {
		return Answer{}, NotFoundf("player %s is not in game %s", playerID, s.Code)
	}

	row := s.answers[playerID]
	if row == nil {
		row = make([]*Answer, len(s.Quiz.Questions))
		s.answers[playerID] = row
	}
	if row[questionIndex] != nil {
		return Answer{}, InvalidStatef("answer already submitted for question %d", questionIndex)
	}

	q := s.Quiz.Questions[questionIndex]
	if selectedIndex < 0 || selectedIndex >= len(q.Options) {
		return Answer{}, Validationf("selected option %d is out of range", selectedIndex)
	}

	now := s.clock.Now()
	correct := selectedIndex == q.CorrectIndex
	ans := &Answer{
		SelectedIndex: selectedIndex,
		Correct:       correct,
		Score:         scoreAnswer(correct, now.Sub(s.questionStartedAt), q.TimeLimit),
		AnsweredAt:    now,
	}
	row[questionIndex] = ans

	log.Debug().Str("code", s.Code).Str("player", playerID).Int("question", questionIndex).
		Bool("correct", correct).Int("score", ans.Score).Msg("answer recorded")

	if s.everyoneAnswered(questionIndex) {
		s.endQuestion(questionIndex, s.epoch, "all_answered")
	}
	return *ans, nil
}

func (s *Session) everyoneAnswered(idx int) bool {
	for _, p := range s.players {
		row := s.answers[p.ID]
		if row == nil || row[idx] == nil {
			return false
		}
	}
	return true
}

// Finish forces the session into Finished from any non-terminal state.
func (s *Session) Finish(identity string) ([]LeaderboardEntry, error) {
	var lb []LeaderboardEntry
	var cmdErr error
	err := s.post(func() {
		if identity != s.HostWallet {
			cmdErr = Forbiddenf("only the host can finish the game")
			return
		}
		if s.status.Terminal() {
			cmdErr = InvalidStatef("game %s is already %s", s.Code, s.status)
			return
		}
		s.finish(StatusFinished)
		lb = computeLeaderboard(s.players, s.answers)
	})
	if err != nil {
		return nil, err
	}
	return lb, cmdErr
}

// Cancel aborts a session that has not begun play. The escrow refund
// itself happens outside the engine.
func (s *Session) Cancel(identity string) error {
	var cmdErr error
	err := s.post(func() {
		if identity != s.HostWallet {
			cmdErr = Forbiddenf("only the host can cancel the game")
			return
		}
		if s.status != StatusWaiting && s.status != StatusStarting {
			cmdErr = InvalidStatef("game %s cannot be cancelled while %s", s.Code, s.status)
			return
		}
		s.finish(StatusCancelled)
	})
	if err != nil {
		return err
	}
	return cmdErr
}

// finish moves to a terminal state, disarms timers, broadcasts the
// final leaderboard and hands the result to the archive hook.
func (s *Session) finish(terminal Status) {
	s.disarmTimer()
	s.epoch++ // any in-flight firing is now stale
	s.setStatus(terminal)

	lb := computeLeaderboard(s.players, s.answers)
	event := EventGameFinished
	if terminal == StatusCancelled {
		event = EventGameCancelled
	}
	log.Info().Str("code", s.Code).Str("status", string(terminal)).Msg("game over")
	s.broadcast.BroadcastToGame(s.Code, event, map[string]any{
		"leaderboard":    lb,
		"question_count": len(s.Quiz.Questions),
	})
	s.publish()

	if s.onFinish != nil {
		res := FinalResult{
			Code:        s.Code,
			QuizID:      s.Quiz.QuizID,
			Status:      terminal,
			Players:     s.playersCopy(),
			Leaderboard: lb,
			EndedAt:     s.clock.Now(),
		}
		for _, p := range s.players {
			for i, a := range s.answers[p.ID] {
				if a == nil {
					continue
				}
				res.Answers = append(res.Answers, AnswerRecord{
					PlayerID:      p.ID,
					PlayerName:    p.Name,
					QuestionIndex: i,
					SelectedIndex: a.SelectedIndex,
					Correct:       a.Correct,
					Score:         a.Score,
					AnsweredAt:    a.AnsweredAt,
				})
			}
		}
		go s.onFinish(res)
	}
}

// SetEscrow stores the escrow metadata verbatim. The engine never
// interprets these strings.
func (s *Session) SetEscrow(address, transaction string) error {
	return s.post(func() {
		s.escrowAddress = address
		s.escrowTransaction = transaction
		s.publish()
	})
}

// MarkPaid records the payout signature and broadcasts the receipt.
func (s *Session) MarkPaid(signature string, winner LeaderboardEntry) error {
	return s.post(func() {
		s.payoutSignature = signature
		s.broadcast.BroadcastToGame(s.Code, EventPrizePaid, map[string]any{
			"winner":    winner,
			"signature": signature,
			"prize":     s.PrizePool,
		})
	})
}

// Winner returns the top of the leaderboard, if any.
func (s *Session) Winner() (LeaderboardEntry, error) {
	var top LeaderboardEntry
	var cmdErr error
	err := s.post(func() {
		lb := computeLeaderboard(s.players, s.answers)
		if len(lb) == 0 {
			cmdErr = NotFoundf("game %s has no players", s.Code)
			return
		}
		top = lb[0]
	})
	if err != nil {
		return LeaderboardEntry{}, err
	}
	return top, cmdErr
}

// setStatus is the only writer of status. Runs on the session
// goroutine; the atomic copy serves readers of a stopped session.
func (s *Session) setStatus(st Status) {
	s.status = st
	s.last.Store(st)
}

func (s *Session) lastStatus() Status {
	if st, ok := s.last.Load().(Status); ok {
		return st
	}
	return StatusWaiting
}

// Status answers the current lifecycle state. A stopped session keeps
// reporting the status it held when the actor shut down.
func (s *Session) Status() Status {
	var st Status
	if err := s.post(func() { st = s.status }); err != nil {
		return s.lastStatus()
	}
	return st
}

// Summary answers the read-only projection.
func (s *Session) Summary() Summary {
	var sum Summary
	if err := s.post(func() { sum = s.summary() }); err != nil {
		return Summary{Code: s.Code, Status: s.lastStatus()}
	}
	return sum
}

func (s *Session) summary() Summary {
	return Summary{
		Code:            s.Code,
		Title:           s.Quiz.Title,
		HostWallet:      s.HostWallet,
		PrizePool:       s.PrizePool,
		IsFreeGame:      s.IsFreeGame,
		EscrowAddress:   s.escrowAddress,
		Status:          s.status,
		Players:         s.playersCopy(),
		PlayerCount:     len(s.players),
		QuestionCount:   len(s.Quiz.Questions),
		CurrentQuestion: s.current,
		Leaderboard:     computeLeaderboard(s.players, s.answers),
		CreatedAt:       s.CreatedAt,
	}
}

func (s *Session) playersCopy() []Player {
	out := make([]Player, len(s.players))
	for i, p := range s.players {
		out[i] = *p
	}
	return out
}

// mirror delivers summaries to the sink one at a time, so a slow sink
// can delay the mirror but never reorder it.
func (s *Session) mirror() {
	for {
		select {
		case sum := <-s.sinkCh:
			s.sink.Put(sum)
		case <-s.done:
			return
		}
	}
}

// publish hands the current summary to the mirror goroutine. The
// mailbox keeps only the newest summary; superseded ones are dropped.
// Only the actor goroutine sends here, so the swap loop terminates.
func (s *Session) publish() {
	sum := s.summary()
	for {
		select {
		case s.sinkCh <- sum:
			return
		default:
			select {
			case <-s.sinkCh:
			default:
			}
		}
	}
}
