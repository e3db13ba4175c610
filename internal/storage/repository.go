package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertFundingEventSQL = `INSERT INTO funding_events (
        symbol,
        calc_time,
        funding_interval_hours,
        funding_rate,
        mark_price
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (symbol, calc_time) DO UPDATE
    SET
        funding_interval_hours = EXCLUDED.funding_interval_hours,
        funding_rate           = EXCLUDED.funding_rate,
        mark_price             = EXCLUDED.mark_price,
        updated_at             = NOW();`

	listEventsFromSQL = `SELECT
        symbol,
        calc_time,
        funding_interval_hours,
        funding_rate,
        mark_price
    FROM funding_events
    WHERE symbol = $1
      AND calc_time >= $2
    ORDER BY calc_time DESC;`

	listEventsBetweenSQL = `SELECT
        symbol,
        calc_time,
        funding_interval_hours,
        funding_rate,
        mark_price
    FROM funding_events
    WHERE symbol = $1
      AND calc_time >= $2
      AND calc_time < $3
    ORDER BY calc_time DESC;`

	insertCalculationSQL = `INSERT INTO calculation_history (
        id,
        symbol,
        sizing_mode,
        sizing_value,
        start_date,
        end_date,
        event_count,
        total_profit,
        from_cache_only,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	listRecentCalculationsSQL = `SELECT
        id,
        symbol,
        sizing_mode,
        sizing_value,
        start_date,
        end_date,
        event_count,
        total_profit,
        from_cache_only,
        created_at
    FROM calculation_history
    ORDER BY created_at DESC
    LIMIT $1;`
)

// FundingStore is the funding-rate cache. ListEvents returns events with
// from <= calcTime (< to when to > 0) ordered by calcTime descending.
type FundingStore interface {
	ListEvents(ctx context.Context, symbol string, from, to int64) ([]FundingEvent, error)
	UpsertEvent(ctx context.Context, event FundingEvent) error
}

// HistoryStore records completed calculations.
type HistoryStore interface {
	InsertCalculation(ctx context.Context, rec CalculationRecord) error
	ListRecentCalculations(ctx context.Context, limit int) ([]CalculationRecord, error)
}

// Backend bundles both stores behind a single closable handle.
type Backend interface {
	FundingStore
	HistoryStore
	Close()
}

// Store is the PostgreSQL backend built on pgx.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertEvent inserts a funding event or refreshes its mutable fields.
func (s *Store) UpsertEvent(ctx context.Context, event FundingEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertFundingEventSQL,
		event.Symbol,
		event.CalcTime,
		event.FundingIntervalHours,
		event.FundingRate.String(),
		event.MarkPrice.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert funding event: %w", execErr)
	}
	return nil
}

// ListEvents lists cached events for a symbol, newest first.
func (s *Store) ListEvents(ctx context.Context, symbol string, from, to int64) ([]FundingEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	var queryErr error
	if to > 0 {
		rows, queryErr = pool.Query(ctx, listEventsBetweenSQL, symbol, from, to)
	} else {
		rows, queryErr = pool.Query(ctx, listEventsFromSQL, symbol, from)
	}
	if queryErr != nil {
		return nil, fmt.Errorf("list funding events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]FundingEvent, 0)
	for rows.Next() {
		event, scanErr := scanFundingEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// InsertCalculation persists a calculation history row.
func (s *Store) InsertCalculation(ctx context.Context, rec CalculationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var endDate interface{}
	if rec.EndDate != "" {
		endDate = rec.EndDate
	}

	_, execErr := pool.Exec(ctx, insertCalculationSQL,
		rec.ID,
		rec.Symbol,
		rec.SizingMode,
		rec.SizingValue.String(),
		rec.StartDate,
		endDate,
		rec.EventCount,
		rec.TotalProfit.String(),
		rec.FromCacheOnly,
		rec.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert calculation: %w", execErr)
	}
	return nil
}

// ListRecentCalculations lists the most recent calculations.
func (s *Store) ListRecentCalculations(ctx context.Context, limit int) ([]CalculationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCalculationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent calculations: %w", queryErr)
	}
	defer rows.Close()

	records := make([]CalculationRecord, 0, limit)
	for rows.Next() {
		var (
			rec        CalculationRecord
			valueStr   string
			profitStr  string
			endDate    sql.NullString
			id         uuid.UUID
			createdAt  time.Time
			eventCount int
		)
		if err := rows.Scan(
			&id,
			&rec.Symbol,
			&rec.SizingMode,
			&valueStr,
			&rec.StartDate,
			&endDate,
			&eventCount,
			&profitStr,
			&rec.FromCacheOnly,
			&createdAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.SizingValue, convErr = decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse sizing value: %w", convErr)
		}
		rec.TotalProfit, convErr = decimal.NewFromString(profitStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse total profit: %w", convErr)
		}
		rec.ID = id
		rec.EventCount = eventCount
		rec.CreatedAt = createdAt
		if endDate.Valid {
			rec.EndDate = endDate.String
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanFundingEvent(rows pgx.Rows) (FundingEvent, error) {
	var (
		symbol   string
		calcTime int64
		interval int
		rateStr  string
		priceStr string
	)

	if err := rows.Scan(&symbol, &calcTime, &interval, &rateStr, &priceStr); err != nil {
		return FundingEvent{}, err
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return FundingEvent{}, fmt.Errorf("parse funding rate: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return FundingEvent{}, fmt.Errorf("parse mark price: %w", err)
	}

	return FundingEvent{
		Symbol:               symbol,
		CalcTime:             calcTime,
		FundingIntervalHours: interval,
		FundingRate:          rate,
		MarkPrice:            price,
	}, nil
}

var _ Backend = (*Store)(nil)
