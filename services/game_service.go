package services

import (
	"errors"
	"time"

	"trencher/engine"
	"trencher/models"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GameService is the boundary between the live engine and everything
// durable: it creates sessions from stored quizzes, records escrow
// metadata, archives finished games and settles the prize payout.
type GameService struct {
	db       *gorm.DB
	registry *engine.Registry
	quizzes  *QuizService
}

func NewGameService(db *gorm.DB, registry *engine.Registry, quizzes *QuizService) *GameService {
	return &GameService{
		db:       db,
		registry: registry,
		quizzes:  quizzes,
	}
}

type CreateGameRequest struct {
	QuizID     uint            `json:"quiz_id" binding:"required"`
	HostWallet string          `json:"host_wallet"`
	PrizePool  decimal.Decimal `json:"prize_pool"`
	IsFreeGame bool            `json:"is_free_game"`
}

// CreateGame snapshots the quiz, registers a session and writes the
// durable game row. A validation failure leaves nothing behind.
func (s *GameService) CreateGame(req *CreateGameRequest) (engine.Summary, error) {
	snap, err := s.quizzes.Snapshot(req.QuizID)
	if err != nil {
		return engine.Summary{}, err
	}

	session, err := s.registry.Create(snap, engine.CreateParams{
		HostWallet: req.HostWallet,
		PrizePool:  req.PrizePool,
		IsFreeGame: req.IsFreeGame,
	})
	if err != nil {
		return engine.Summary{}, err
	}

	game := models.Game{
		QuizID: req.QuizID,
		Code:   session.Code,
		Status: string(engine.StatusWaiting),
		// The session may have synthesized a host identity for a
		// hostless free game; the row records what the engine uses.
		HostWallet: session.HostWallet,
		PrizePool:  req.PrizePool,
		IsFreeGame: req.IsFreeGame,
	}
	if err := s.db.Create(&game).Error; err != nil {
		s.registry.Remove(session.Code)
		return engine.Summary{}, err
	}
	if err := s.quizzes.CountPlay(req.QuizID); err != nil {
		log.Warn().Err(err).Uint("quiz", req.QuizID).Msg("bump play count")
	}

	return session.Summary(), nil
}

type JoinGameRequest struct {
	Wallet string `json:"wallet"`
	Name   string `json:"name"`
}

// JoinGame is the HTTP join path; membership rules are the session's.
func (s *GameService) JoinGame(code string, req *JoinGameRequest) (engine.JoinResult, error) {
	session, err := s.registry.Get(code)
	if err != nil {
		return engine.JoinResult{}, err
	}
	return session.Join(req.Wallet, req.Name)
}

func (s *GameService) GetGame(code string) (engine.Summary, error) {
	session, err := s.registry.Get(code)
	if err != nil {
		return engine.Summary{}, err
	}
	return session.Summary(), nil
}

func (s *GameService) ListGames() []engine.Summary {
	return s.registry.List()
}

type SetEscrowRequest struct {
	EscrowAddress     string `json:"escrow_address" binding:"required"`
	EscrowTransaction string `json:"escrow_transaction" binding:"required"`
}

// SetEscrow stores the escrow strings verbatim on the live session and
// the game row. The server never validates them.
func (s *GameService) SetEscrow(code string, req *SetEscrowRequest) error {
	session, err := s.registry.Get(code)
	if err != nil {
		return err
	}
	if err := session.SetEscrow(req.EscrowAddress, req.EscrowTransaction); err != nil {
		return err
	}
	return s.db.Model(&models.Game{}).Where("code = ?", code).Updates(map[string]any{
		"escrow_address":     req.EscrowAddress,
		"escrow_transaction": req.EscrowTransaction,
	}).Error
}

// PayWinner settles the prize for a finished paid game: the top of the
// leaderboard must have a wallet, and a game pays out once.
func (s *GameService) PayWinner(code, identity, signature string) (engine.LeaderboardEntry, error) {
	session, err := s.registry.Get(code)
	if err != nil {
		return engine.LeaderboardEntry{}, err
	}
	if identity == "" || identity != session.HostWallet {
		return engine.LeaderboardEntry{}, engine.Forbiddenf("only the host can pay the winner")
	}
	if session.IsFreeGame {
		return engine.LeaderboardEntry{}, engine.Validationf("free games have no prize to pay")
	}
	if st := session.Status(); st != engine.StatusFinished {
		return engine.LeaderboardEntry{}, engine.InvalidStatef("game %s is %s, not finished", code, st)
	}

	winner, err := session.Winner()
	if err != nil {
		return engine.LeaderboardEntry{}, err
	}
	if winner.Wallet == "" {
		return engine.LeaderboardEntry{}, engine.Validationf("winner %s has no wallet on record", winner.Name)
	}

	var game models.Game
	if err := s.db.Where("code = ?", code).First(&game).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.LeaderboardEntry{}, engine.NotFoundf("game %s not found", code)
		}
		return engine.LeaderboardEntry{}, err
	}

	// Conditional update so concurrent payout commands cannot both
	// pass a read-side guard; zero rows affected means a rival won.
	res := s.db.Model(&models.Game{}).
		Where("code = ? AND paid_at IS NULL", code).
		Updates(map[string]any{
			"winner_wallet":    winner.Wallet,
			"payout_signature": signature,
			"paid_at":          time.Now(),
		})
	if res.Error != nil {
		return engine.LeaderboardEntry{}, res.Error
	}
	if res.RowsAffected == 0 {
		return engine.LeaderboardEntry{}, engine.InvalidStatef("game %s already paid out", code)
	}

	if err := session.MarkPaid(signature, winner); err != nil {
		return engine.LeaderboardEntry{}, err
	}
	log.Info().Str("code", code).Str("winner", winner.Wallet).Msg("prize paid")
	return winner, nil
}

// Archive persists a finished session: final status, roster with
// standings, and every recorded answer. Wired as the registry finish
// hook, so it also runs for timer-driven finishes.
func (s *GameService) Archive(res engine.FinalResult) {
	var game models.Game
	if err := s.db.Where("code = ?", res.Code).First(&game).Error; err != nil {
		log.Error().Err(err).Str("code", res.Code).Msg("archive: game row missing")
		return
	}

	updates := map[string]any{
		"status":   string(res.Status),
		"ended_at": res.EndedAt,
	}
	if err := s.db.Model(&game).Updates(updates).Error; err != nil {
		log.Error().Err(err).Str("code", res.Code).Msg("archive: update game")
		return
	}

	rank := make(map[string]int, len(res.Leaderboard))
	score := make(map[string]int, len(res.Leaderboard))
	for i, e := range res.Leaderboard {
		rank[e.PlayerID] = i + 1
		score[e.PlayerID] = e.Score
	}
	for _, p := range res.Players {
		row := models.Player{
			GameID:   game.ID,
			PlayerID: p.ID,
			Name:     p.Name,
			Wallet:   p.Wallet,
			Score:    score[p.ID],
			Rank:     rank[p.ID],
			JoinedAt: p.JoinedAt,
		}
		if err := s.db.Create(&row).Error; err != nil {
			log.Error().Err(err).Str("code", res.Code).Str("player", p.ID).Msg("archive: player row")
		}
	}
	for _, a := range res.Answers {
		row := models.GameAnswer{
			GameID:        game.ID,
			PlayerID:      a.PlayerID,
			PlayerName:    a.PlayerName,
			QuestionIndex: a.QuestionIndex,
			SelectedIndex: a.SelectedIndex,
			IsCorrect:     a.Correct,
			Points:        a.Score,
			AnsweredAt:    a.AnsweredAt,
		}
		if err := s.db.Create(&row).Error; err != nil {
			log.Error().Err(err).Str("code", res.Code).Msg("archive: answer row")
		}
	}
}

// UpdateGameStatus mirrors a live status change onto the game row.
// started_at is stamped when the host launches the countdown, the only
// transition the gateway mirrors.
func (s *GameService) UpdateGameStatus(code string, status engine.Status) error {
	updates := map[string]any{"status": string(status)}
	if status == engine.StatusStarting {
		updates["started_at"] = time.Now()
	}
	return s.db.Model(&models.Game{}).Where("code = ?", code).Updates(updates).Error
}
