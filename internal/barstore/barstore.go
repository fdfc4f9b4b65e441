// Package barstore is the row-store for minute underlying bars, one
// SQLite file per (symbol, month) partition. Schema, connection pool
// tuning, and transaction shape are adapted from the teacher's
// internal/store.SQLiteStore.SaveCandles/GetCandles, generalized from
// candle timeframes to the fixed 1-minute underlying bar per spec.md
// §4.1 and keyed on money.Decimal rather than float64 (invariant 1).
package barstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"alphahistory/internal/models"
	"alphahistory/internal/money"
	"alphahistory/internal/xerrors"
)

// Store is the row-store handle for a single (symbol, month) SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path, in WAL mode
// with a busy timeout, mirroring the teacher's NewSQLiteStore DSN.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, xerrors.StorageUnavailable("open bar store", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, xerrors.StorageUnavailable("init bar store schema", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS underlying_bars (
		symbol TEXT NOT NULL,
		ts_unix_micro INTEGER NOT NULL,
		open_mantissa INTEGER NOT NULL,
		high_mantissa INTEGER NOT NULL,
		low_mantissa INTEGER NOT NULL,
		close_mantissa INTEGER NOT NULL,
		volume INTEGER NOT NULL,
		PRIMARY KEY (symbol, ts_unix_micro)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendBars upserts bars in a single transaction: a (symbol, ts) key
// already on disk has its OHLCV columns overwritten with the re-ingested
// values rather than rejecting the write. spec.md §4.3 requires put_bars
// to be idempotent ("primary-key collision upserts") so re-ingesting an
// identical or corrected batch never produces duplicate rows or an error.
func (s *Store) AppendBars(ctx context.Context, bars []models.UnderlyingBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.StorageUnavailable("begin append transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO underlying_bars
			(symbol, ts_unix_micro, open_mantissa, high_mantissa, low_mantissa, close_mantissa, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, ts_unix_micro) DO UPDATE SET
			open_mantissa = excluded.open_mantissa,
			high_mantissa = excluded.high_mantissa,
			low_mantissa = excluded.low_mantissa,
			close_mantissa = excluded.close_mantissa,
			volume = excluded.volume
	`)
	if err != nil {
		return xerrors.StorageUnavailable("prepare append statement", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		openM := b.Open.MantissaScaled(money.Scale)
		highM := b.High.MantissaScaled(money.Scale)
		lowM := b.Low.MantissaScaled(money.Scale)
		closeM := b.Close.MantissaScaled(money.Scale)

		if _, err := stmt.ExecContext(ctx, string(b.Symbol), b.Ts.UnixMicro(), openM, highM, lowM, closeM, b.Volume); err != nil {
			return xerrors.Wrap(xerrors.KindIntegrityViolation, fmt.Sprintf("append bar %s@%s", b.Symbol, b.Ts), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.StorageUnavailable("commit append transaction", err)
	}
	return nil
}

// RangeBars returns bars for symbol in [from, to], ordered by timestamp,
// mirroring the teacher's GetCandles query shape.
func (s *Store) RangeBars(ctx context.Context, symbol models.Symbol, from, to models.InstantUtc) ([]models.UnderlyingBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_unix_micro, open_mantissa, high_mantissa, low_mantissa, close_mantissa, volume
		FROM underlying_bars
		WHERE symbol = ? AND ts_unix_micro >= ? AND ts_unix_micro <= ?
		ORDER BY ts_unix_micro ASC
	`, string(symbol), from.UnixMicro(), to.UnixMicro())
	if err != nil {
		return nil, xerrors.StorageUnavailable("range bars query", err)
	}
	defer rows.Close()

	var out []models.UnderlyingBar
	for rows.Next() {
		var ts, openM, highM, lowM, closeM, volume int64
		if err := rows.Scan(&ts, &openM, &highM, &lowM, &closeM, &volume); err != nil {
			return nil, xerrors.StorageUnavailable("scan bar row", err)
		}
		out = append(out, models.UnderlyingBar{
			Symbol: symbol,
			Ts:     models.InstantUtcFromUnixMicro(ts),
			Open:   money.NewFromInt64Scaled(openM, money.Scale),
			High:   money.NewFromInt64Scaled(highM, money.Scale),
			Low:    money.NewFromInt64Scaled(lowM, money.Scale),
			Close:  money.NewFromInt64Scaled(closeM, money.Scale),
			Volume: volume,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.StorageUnavailable("iterate bar rows", err)
	}
	return out, nil
}

// NearestAtOrBefore returns the last bar at or before ts, used by the
// query engine to resolve the spot price behind a moneyness computation
// (spec.md §4.3: "most recent prior bar", NoUnderlying if none exists).
func (s *Store) NearestAtOrBefore(ctx context.Context, symbol models.Symbol, ts models.InstantUtc) (models.UnderlyingBar, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ts_unix_micro, open_mantissa, high_mantissa, low_mantissa, close_mantissa, volume
		FROM underlying_bars
		WHERE symbol = ? AND ts_unix_micro <= ?
		ORDER BY ts_unix_micro DESC
		LIMIT 1
	`, string(symbol), ts.UnixMicro())

	var tsu, openM, highM, lowM, closeM, volume int64
	if err := row.Scan(&tsu, &openM, &highM, &lowM, &closeM, &volume); err != nil {
		if err == sql.ErrNoRows {
			return models.UnderlyingBar{}, xerrors.NoUnderlying(string(symbol), ts.String())
		}
		return models.UnderlyingBar{}, xerrors.StorageUnavailable("nearest bar query", err)
	}

	return models.UnderlyingBar{
		Symbol: symbol,
		Ts:     models.InstantUtcFromUnixMicro(tsu),
		Open:   money.NewFromInt64Scaled(openM, money.Scale),
		High:   money.NewFromInt64Scaled(highM, money.Scale),
		Low:    money.NewFromInt64Scaled(lowM, money.Scale),
		Close:  money.NewFromInt64Scaled(closeM, money.Scale),
		Volume: volume,
	}, nil
}

// Count returns the total number of bars stored for symbol.
func (s *Store) Count(ctx context.Context, symbol models.Symbol) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM underlying_bars WHERE symbol = ?`, string(symbol)).Scan(&n)
	if err != nil {
		return 0, xerrors.StorageUnavailable("count bars", err)
	}
	return n, nil
}

// CountForSession returns the bar count for symbol within the UTC day
// covering session, used by query's session validation (minute-bar
// completeness) and manifest record counting.
func (s *Store) CountForSession(ctx context.Context, symbol models.Symbol, session models.SessionDate) (int64, error) {
	dayStart := models.NewInstantUtc(session.Time())
	dayEnd := models.NewInstantUtc(session.AddDays(1).Time())
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM underlying_bars
		WHERE symbol = ? AND ts_unix_micro >= ? AND ts_unix_micro < ?
	`, string(symbol), dayStart.UnixMicro(), dayEnd.UnixMicro()).Scan(&n)
	if err != nil {
		return 0, xerrors.StorageUnavailable("count session bars", err)
	}
	return n, nil
}
