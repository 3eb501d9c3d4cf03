package models

import (
	"time"

	"gorm.io/gorm"
)

// StockSeries tracks the append-only observation sequence of a company.
// Version advances by the number of appended observations on every
// successful append and is the token used for optimistic concurrency
// control and prediction staleness.
type StockSeries struct {
	gorm.Model
	CompanyID uint   `gorm:"uniqueIndex;not null" json:"company_id"`
	Version   uint64 `gorm:"not null;default:0" json:"version"`
	Length    int    `gorm:"not null;default:0" json:"length"`
	// LastTS is the unix-nano timestamp of the newest observation, 0 for
	// an empty series.
	LastTS int64 `gorm:"not null;default:0" json:"last_ts"`
}

type StockObservation struct {
	gorm.Model
	SeriesID  uint      `gorm:"index;not null" json:"series_id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	Price     float64   `gorm:"not null" json:"price"`
	Volume    float64   `gorm:"not null" json:"volume"`
}

// Observation is the wire form of a single price point, before it is
// bound to a series.
type Observation struct {
	Timestamp time.Time `json:"timestamp" binding:"required"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}
