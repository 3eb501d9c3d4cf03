package models

import (
	"gorm.io/gorm"
)

// Company is owned by exactly one user. UserID is set at creation and
// never updated afterwards.
type Company struct {
	gorm.Model
	UserID uint   `gorm:"index;not null" json:"user_id"`
	Name   string `gorm:"not null" json:"name"`
	// ChatID is the Telegram chat that receives notifications for this
	// company. Zero means notifications are disabled.
	ChatID int64 `json:"chat_id"`
}
