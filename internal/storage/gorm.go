package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fundingcalc/internal/config"
)

// fundingEventRow mirrors the funding_events table. Decimals are kept as text so the
// upstream string representation survives round trips unchanged.
type fundingEventRow struct {
	Symbol               string    `gorm:"type:varchar(32);primaryKey"`
	CalcTime             int64     `gorm:"primaryKey;autoIncrement:false"`
	FundingIntervalHours int       `gorm:"not null"`
	FundingRate          string    `gorm:"type:text;not null"`
	MarkPrice            string    `gorm:"type:text;not null"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

func (fundingEventRow) TableName() string { return "funding_events" }

type calculationRow struct {
	ID            string    `gorm:"type:varchar(36);primaryKey"`
	Symbol        string    `gorm:"type:varchar(32);not null"`
	SizingMode    string    `gorm:"type:varchar(16);not null"`
	SizingValue   string    `gorm:"type:text;not null"`
	StartDate     string    `gorm:"type:varchar(10);not null"`
	EndDate       *string   `gorm:"type:varchar(10)"`
	EventCount    int       `gorm:"not null"`
	TotalProfit   string    `gorm:"type:text;not null"`
	FromCacheOnly bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"index"`
}

func (calculationRow) TableName() string { return "calculation_history" }

// GormStore is the SQLite backend, intended for single-host deployments.
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore opens a SQLite database and migrates its schema.
func OpenGormStore(cfg config.DatabaseConfig) (*GormStore, error) {
	if dir := sqliteDir(cfg.DSN); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}
	return store, nil
}

// sqliteDir is the parent directory of a plain file DSN; URI and in-memory DSNs
// yield "".
func sqliteDir(dsn string) string {
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return ""
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return ""
	}
	return dir
}

// NewGormStore wraps an existing gorm handle and ensures the tables exist.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&fundingEventRow{}, &calculationRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// UpsertEvent inserts a funding event or refreshes its mutable fields.
func (s *GormStore) UpsertEvent(ctx context.Context, event FundingEvent) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	row := fundingEventRow{
		Symbol:               event.Symbol,
		CalcTime:             event.CalcTime,
		FundingIntervalHours: event.FundingIntervalHours,
		FundingRate:          event.FundingRate.String(),
		MarkPrice:            event.MarkPrice.String(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "calc_time"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"funding_interval_hours", "funding_rate", "mark_price", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert funding event: %w", err)
	}
	return nil
}

// ListEvents lists cached events for a symbol, newest first.
func (s *GormStore) ListEvents(ctx context.Context, symbol string, from, to int64) ([]FundingEvent, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	query := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Where("calc_time >= ?", from)
	if to > 0 {
		query = query.Where("calc_time < ?", to)
	}

	var rows []fundingEventRow
	if err := query.Order("calc_time DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list funding events: %w", err)
	}

	events := make([]FundingEvent, 0, len(rows))
	for _, row := range rows {
		rate, err := decimal.NewFromString(row.FundingRate)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate: %w", err)
		}
		price, err := decimal.NewFromString(row.MarkPrice)
		if err != nil {
			return nil, fmt.Errorf("parse mark price: %w", err)
		}
		events = append(events, FundingEvent{
			Symbol:               row.Symbol,
			CalcTime:             row.CalcTime,
			FundingIntervalHours: row.FundingIntervalHours,
			FundingRate:          rate,
			MarkPrice:            price,
		})
	}
	return events, nil
}

// InsertCalculation persists a calculation history row.
func (s *GormStore) InsertCalculation(ctx context.Context, rec CalculationRecord) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	row := calculationRow{
		ID:            rec.ID.String(),
		Symbol:        rec.Symbol,
		SizingMode:    rec.SizingMode,
		SizingValue:   rec.SizingValue.String(),
		StartDate:     rec.StartDate,
		EventCount:    rec.EventCount,
		TotalProfit:   rec.TotalProfit.String(),
		FromCacheOnly: rec.FromCacheOnly,
		CreatedAt:     rec.CreatedAt,
	}
	if rec.EndDate != "" {
		end := rec.EndDate
		row.EndDate = &end
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert calculation: %w", err)
	}
	return nil
}

// ListRecentCalculations lists the most recent calculations.
func (s *GormStore) ListRecentCalculations(ctx context.Context, limit int) ([]CalculationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	var rows []calculationRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list recent calculations: %w", err)
	}

	records := make([]CalculationRecord, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, fmt.Errorf("parse calculation id: %w", err)
		}
		value, err := decimal.NewFromString(row.SizingValue)
		if err != nil {
			return nil, fmt.Errorf("parse sizing value: %w", err)
		}
		profit, err := decimal.NewFromString(row.TotalProfit)
		if err != nil {
			return nil, fmt.Errorf("parse total profit: %w", err)
		}
		rec := CalculationRecord{
			ID:            id,
			Symbol:        row.Symbol,
			SizingMode:    row.SizingMode,
			SizingValue:   value,
			StartDate:     row.StartDate,
			EventCount:    row.EventCount,
			TotalProfit:   profit,
			FromCacheOnly: row.FromCacheOnly,
			CreatedAt:     row.CreatedAt,
		}
		if row.EndDate != nil {
			rec.EndDate = *row.EndDate
		}
		records = append(records, rec)
	}
	return records, nil
}

var _ Backend = (*GormStore)(nil)
