package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"

	"github.com/heheshang/ea-okx/pkg/types"
)

// Store keeps confirmed candles in SQLite. It implements the historical
// source contract: queries return timestamp-ascending, duplicate-free
// candles for a symbol/interval/range.
type Store struct {
	sql *sql.DB
}

// OpenStore opens (or creates) the candle database and runs migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{sql: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	_, err := s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT NOT NULL,
			interval  TEXT NOT NULL,
			ts        INTEGER NOT NULL,
			open      TEXT NOT NULL,
			high      TEXT NOT NULL,
			low       TEXT NOT NULL,
			close     TEXT NOT NULL,
			volume    TEXT NOT NULL,
			PRIMARY KEY (symbol, interval, ts)
		);
		CREATE INDEX IF NOT EXISTS idx_candles_lookup ON candles(symbol, interval, ts);
	`)
	return err
}

// SaveCandles upserts a batch of candles. Unconfirmed candles are skipped:
// the historical path only ever sees closed bars. Re-inserting an existing
// (symbol, interval, ts) overwrites it, so replayed pushes stay idempotent.
func (s *Store) SaveCandles(ctx context.Context, interval string, candles []types.Candle) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, interval, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, candle := range candles {
		if !candle.Confirmed {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			candle.Symbol.String(), interval, candle.Timestamp.UnixMilli(),
			candle.Open.String(), candle.High.String(), candle.Low.String(),
			candle.Close.String(), candle.Volume.String(),
		); err != nil {
			return fmt.Errorf("insert candle: %w", err)
		}
	}
	return tx.Commit()
}

// QueryCandles returns candles for the symbol/interval in [start, end],
// timestamp-ascending. The primary key guarantees no duplicates.
func (s *Store) QueryCandles(ctx context.Context, symbol types.Symbol, interval string, start, end time.Time) ([]types.Candle, error) {
	rows, err := s.sql.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND interval = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol.String(), interval, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []types.Candle
	for rows.Next() {
		var ts int64
		var open, high, low, closePx, volume string
		if err := rows.Scan(&ts, &open, &high, &low, &closePx, &volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candle := types.Candle{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(ts).UTC(),
			Confirmed: true,
		}
		if candle.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("parse open %q: %w", open, err)
		}
		if candle.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("parse high %q: %w", high, err)
		}
		if candle.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("parse low %q: %w", low, err)
		}
		if candle.Close, err = decimal.NewFromString(closePx); err != nil {
			return nil, fmt.Errorf("parse close %q: %w", closePx, err)
		}
		if candle.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("parse volume %q: %w", volume, err)
		}
		candles = append(candles, candle)
	}
	return candles, rows.Err()
}

// CandleCount returns the stored bar count for a symbol/interval.
func (s *Store) CandleCount(ctx context.Context, symbol types.Symbol, interval string) (int, error) {
	var count int
	err := s.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candles WHERE symbol = ? AND interval = ?`,
		symbol.String(), interval,
	).Scan(&count)
	return count, err
}
