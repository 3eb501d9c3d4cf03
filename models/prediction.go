package models

import (
	"time"

	"gorm.io/gorm"
)

// Prediction is immutable once created. A fresh computation always
// inserts a new row so the history stays auditable.
type Prediction struct {
	gorm.Model
	PublicID  string `gorm:"uniqueIndex;not null" json:"id"`
	CompanyID uint   `gorm:"index;not null" json:"company_id"`
	SeriesID  uint   `gorm:"index;not null" json:"series_id"`
	Horizon   int    `gorm:"not null" json:"horizon"`
	// Values holds the forecast points JSON-encoded, oldest first.
	Values              string    `gorm:"type:text;not null" json:"-"`
	ModelVersion        string    `gorm:"not null" json:"model_version"`
	SourceSeriesVersion uint64    `gorm:"not null" json:"source_series_version"`
	GeneratedAt         time.Time `gorm:"not null" json:"generated_at"`
}

const (
	NotificationPending   = "pending"
	NotificationDelivered = "delivered"
	NotificationFailed    = "failed"
)

const (
	EventPredictionCompleted = "prediction_completed"
	EventIngestionFailed     = "ingestion_failed"
)

// NotificationRecord makes chat delivery idempotent: at most one row per
// prediction, created before the first send attempt.
type NotificationRecord struct {
	gorm.Model
	PredictionID uint       `gorm:"uniqueIndex;not null" json:"prediction_id"`
	CompanyID    uint       `gorm:"index;not null" json:"company_id"`
	Kind         string     `gorm:"not null" json:"kind"`
	Status       string     `gorm:"index;not null" json:"status"`
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
}
