package domain

import (
	"time"
)

// TradeRecord is the permanent history row for one trade.
// Payload holds the versioned Trade JSON; the other columns exist for queries.
type TradeRecord struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	Seq             uint64    `gorm:"index" json:"seq"`
	MarketTimestamp int64     `gorm:"index" json:"market_timestamp"`
	Status          string    `gorm:"index" json:"status"`
	Simulated       bool      `json:"simulated"`
	Wallet          string    `gorm:"index" json:"wallet"` // copy source, empty otherwise
	PlacedAt        time.Time `gorm:"index" json:"placed_at"`
	Version         int       `json:"version"`
	Payload         string    `json:"payload"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
