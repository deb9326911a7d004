package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"poly_trader/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage is the permanent trade history, one row per trade id.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		return nil, &domain.ConfigError{Field: "storage.db_path", Err: errors.New("must not be empty")}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db)
}

func newStorage(db *gorm.DB) (*Storage, error) {
	// Auto Migration
	if err := db.AutoMigrate(&domain.TradeRecord{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Trade Operations
// ======================================================================================

func toRecord(t *domain.Trade) (*domain.TradeRecord, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode trade %s: %w", t.ID, err)
	}
	rec := &domain.TradeRecord{
		ID:              t.ID,
		Seq:             t.Seq,
		MarketTimestamp: t.MarketTimestamp,
		Status:          string(t.Status),
		Simulated:       t.Simulated,
		PlacedAt:        t.PlacedAt,
		Version:         t.V,
		Payload:         string(payload),
	}
	if t.Copy != nil {
		rec.Wallet = t.Copy.Wallet
	}
	return rec, nil
}

func fromRecords(recs []domain.TradeRecord) ([]*domain.Trade, error) {
	out := make([]*domain.Trade, 0, len(recs))
	for _, rec := range recs {
		t, err := domain.DecodeTrade([]byte(rec.Payload))
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", rec.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// UpsertTrade inserts the trade or replaces the row with the same id.
func (s *Storage) UpsertTrade(ctx context.Context, t *domain.Trade) error {
	rec, err := toRecord(t)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"seq", "status", "version", "payload", "updated_at",
		}),
	}).Create(rec).Error
}

// GetTrade returns nil, nil when the id is unknown.
func (s *Storage) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	var rec domain.TradeRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return domain.DecodeTrade([]byte(rec.Payload))
}

// PendingTrades returns every unsettled trade in seq order.
func (s *Storage) PendingTrades(ctx context.Context) ([]*domain.Trade, error) {
	var recs []domain.TradeRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", string(domain.TradeStatusPending)).
		Order("seq asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return fromRecords(recs)
}

// TradesSince returns trades with seq >= seq in seq order.
func (s *Storage) TradesSince(ctx context.Context, seq uint64) ([]*domain.Trade, error) {
	var recs []domain.TradeRecord
	err := s.db.WithContext(ctx).
		Where("seq >= ?", seq).
		Order("seq asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return fromRecords(recs)
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a runtime key/value
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// GetConfig returns "" when the key is unset.
func (s *Storage) GetConfig(key string) (string, error) {
	var cfg domain.AppConfig
	err := s.db.First(&cfg, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return cfg.Value, err
}
