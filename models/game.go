package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Game struct {
	ID                uint            `json:"id" gorm:"primaryKey"`
	QuizID            uint            `json:"quiz_id" gorm:"not null"`
	Code              string          `json:"code" gorm:"uniqueIndex;not null"`
	Status            string          `json:"status" gorm:"not null;default:'waiting'"` // waiting, starting, active, revealing, finished, cancelled
	HostWallet        string          `json:"host_wallet"`
	PrizePool         decimal.Decimal `json:"prize_pool" gorm:"type:numeric"`
	IsFreeGame        bool            `json:"is_free_game" gorm:"not null;default:false"`
	EscrowAddress     string          `json:"escrow_address"`
	EscrowTransaction string          `json:"escrow_transaction"`
	WinnerWallet      string          `json:"winner_wallet"`
	PayoutSignature   string          `json:"payout_signature"`
	PaidAt            *time.Time      `json:"paid_at"`
	StartedAt         *time.Time      `json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         gorm.DeletedAt  `json:"-" gorm:"index"`

	// Relationships
	Quiz    Quiz         `json:"quiz,omitempty"`
	Players []Player     `json:"players,omitempty" gorm:"foreignKey:GameID"`
	Answers []GameAnswer `json:"answers,omitempty" gorm:"foreignKey:GameID"`
}
