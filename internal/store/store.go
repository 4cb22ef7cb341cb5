// Package store persists committed candles and emitted signals to
// Postgres, treating a duplicate-key upsert as success rather than error
// (spec.md §4.8's idempotency requirement).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/signalpipe/internal/analyzer"
	"github.com/sawpanic/signalpipe/internal/candle"
	"github.com/sawpanic/signalpipe/internal/fuser"
)

// duplicateKeyCode is the Postgres error code for a unique_violation.
const duplicateKeyCode = "23505"

// Store is the persistence boundary the aggregator and fuser write
// through. A Postgres-backed implementation is provided; tests substitute
// a sqlmock-backed *sqlx.DB.
type Store interface {
	UpsertCandle(ctx context.Context, c candle.Candle) error
	InsertSignal(ctx context.Context, s fuser.Signal) error
	RecentSignals(ctx context.Context, symbol string, limit int) ([]fuser.Signal, error)
	DeleteCandlesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

type postgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

func New(db *sqlx.DB, timeout time.Duration) Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &postgresStore{db: db, timeout: timeout}
}

// UpsertCandle writes a committed candle, treating a conflicting
// (symbol, timeframe, open_time) row as a successful no-op — the
// aggregator may re-deliver the same close after a reconnect/replay.
func (s *postgresStore) UpsertCandle(ctx context.Context, c candle.Candle) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO candles (symbol, timeframe, open_time, close_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timeframe, open_time) DO UPDATE SET
			close_time = EXCLUDED.close_time,
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume`

	_, err := s.db.ExecContext(ctx, query,
		c.Symbol, string(c.Timeframe), c.OpenTime, c.CloseTime,
		c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("store: upsert candle %s/%s@%d: %w", c.Symbol, c.Timeframe, c.OpenTime, err)
	}
	return nil
}

// InsertSignal records an emitted signal. A duplicate signal ID (the
// fuser assigns a UUID per emission, so this should never legitimately
// collide) is still treated as success for the same reason as candles.
func (s *postgresStore) InsertSignal(ctx context.Context, sig fuser.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO signals (id, symbol, timeframe, direction, tier, confidence, entry_price, stop_loss, take_profit_1, take_profit_2, take_profit_3, reason, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		sig.ID, sig.Symbol, string(sig.Timeframe), string(sig.Direction), string(sig.Tier),
		sig.Confidence, sig.EntryPrice, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3,
		sig.Reason, sig.EmittedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("store: insert signal %s: %w", sig.ID, err)
	}
	return nil
}

func (s *postgresStore) RecentSignals(ctx context.Context, symbol string, limit int) ([]fuser.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		SELECT id, symbol, timeframe, direction, tier, confidence, entry_price, stop_loss, take_profit_1, take_profit_2, take_profit_3, reason, emitted_at
		FROM signals
		WHERE symbol = $1
		ORDER BY emitted_at DESC
		LIMIT $2`

	rows, err := s.db.QueryxContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent signals for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []fuser.Signal
	for rows.Next() {
		var sig fuser.Signal
		var tf, dir, tier string
		if err := rows.Scan(&sig.ID, &sig.Symbol, &tf, &dir, &tier, &sig.Confidence,
			&sig.EntryPrice, &sig.StopLoss, &sig.TakeProfit1, &sig.TakeProfit2, &sig.TakeProfit3,
			&sig.Reason, &sig.EmittedAt); err != nil {
			return nil, fmt.Errorf("store: scan signal row: %w", err)
		}
		sig.Timeframe = candle.Timeframe(tf)
		sig.Direction = analyzer.Direction(dir)
		sig.Tier = fuser.Tier(tier)
		out = append(out, sig)
	}
	return out, rows.Err()
}

// DeleteCandlesBefore prunes committed candles older than a retention
// cutoff. Returns the number of rows removed.
func (s *postgresStore) DeleteCandlesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM candles WHERE open_time < $1`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: delete candles before %s: %w", olderThan, err)
	}
	return res.RowsAffected()
}

func isDuplicateKey(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == duplicateKeyCode
	}
	return false
}
