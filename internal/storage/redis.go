package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fundingcalc/internal/config"
)

// RedisStore keeps funding events in Redis. Per symbol it maintains a sorted set index
// (score = calcTime) and a hash (field = calcTime, value = JSON event), so writing the
// same key twice overwrites the hash field instead of adding a second record.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedisStore connects to Redis and verifies the connection.
func OpenRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return NewRedisStore(client, cfg.KeyPrefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fundingcalc"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Close releases the client.
func (s *RedisStore) Close() {
	if s == nil || s.client == nil {
		return
	}
	_ = s.client.Close()
}

func (s *RedisStore) indexKey(symbol string) string {
	return s.prefix + ":funding:" + symbol + ":idx"
}

func (s *RedisStore) dataKey(symbol string) string {
	return s.prefix + ":funding:" + symbol + ":data"
}

func (s *RedisStore) historyIndexKey() string { return s.prefix + ":history:idx" }
func (s *RedisStore) historyDataKey() string  { return s.prefix + ":history:data" }

// UpsertEvent inserts a funding event or refreshes its mutable fields.
func (s *RedisStore) UpsertEvent(ctx context.Context, event FundingEvent) error {
	if s == nil || s.client == nil {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal funding event: %w", err)
	}

	member := strconv.FormatInt(event.CalcTime, 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.dataKey(event.Symbol), member, payload)
		pipe.ZAdd(ctx, s.indexKey(event.Symbol), redis.Z{Score: float64(event.CalcTime), Member: member})
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert funding event: %w", err)
	}
	return nil
}

// ListEvents lists cached events for a symbol, newest first.
func (s *RedisStore) ListEvents(ctx context.Context, symbol string, from, to int64) ([]FundingEvent, error) {
	if s == nil || s.client == nil {
		return nil, ErrNotConfigured
	}

	max := "+inf"
	if to > 0 {
		max = "(" + strconv.FormatInt(to, 10)
	}
	members, err := s.client.ZRevRangeByScore(ctx, s.indexKey(symbol), &redis.ZRangeBy{
		Min: strconv.FormatInt(from, 10),
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list funding index: %w", err)
	}
	if len(members) == 0 {
		return []FundingEvent{}, nil
	}

	values, err := s.client.HMGet(ctx, s.dataKey(symbol), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("load funding events: %w", err)
	}

	events := make([]FundingEvent, 0, len(values))
	for _, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var event FundingEvent
		if err := json.Unmarshal([]byte(str), &event); err != nil {
			return nil, fmt.Errorf("decode funding event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// InsertCalculation persists a calculation history entry.
func (s *RedisStore) InsertCalculation(ctx context.Context, rec CalculationRecord) error {
	if s == nil || s.client == nil {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal calculation: %w", err)
	}
	id := rec.ID.String()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.historyDataKey(), id, payload)
		pipe.ZAdd(ctx, s.historyIndexKey(), redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert calculation: %w", err)
	}
	return nil
}

// ListRecentCalculations lists the most recent calculations.
func (s *RedisStore) ListRecentCalculations(ctx context.Context, limit int) ([]CalculationRecord, error) {
	if s == nil || s.client == nil {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		return []CalculationRecord{}, nil
	}
	ids, err := s.client.ZRevRange(ctx, s.historyIndexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list calculation index: %w", err)
	}
	if len(ids) == 0 {
		return []CalculationRecord{}, nil
	}
	values, err := s.client.HMGet(ctx, s.historyDataKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load calculations: %w", err)
	}

	records := make([]CalculationRecord, 0, len(values))
	for _, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var rec CalculationRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode calculation: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

var _ Backend = (*RedisStore)(nil)
