package models

import (
	"time"

	"gorm.io/gorm"
)

type GameAnswer struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	GameID        uint           `json:"game_id" gorm:"not null;index"`
	PlayerID      string         `json:"player_id" gorm:"not null"`
	PlayerName    string         `json:"player_name"`
	QuestionIndex int            `json:"question_index" gorm:"not null"`
	SelectedIndex int            `json:"selected_index" gorm:"not null"`
	IsCorrect     bool           `json:"is_correct" gorm:"not null"`
	Points        int            `json:"points" gorm:"not null"`
	AnsweredAt    time.Time      `json:"answered_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Game Game `json:"game,omitempty"`
}
