// Package engine wires the storage, query, pool, and resilience layers
// into a single handle per spec.md §9 design note 4 ("shared cache/pool
// live as owned fields of one top-level object, not package globals").
// The wiring shape — one struct holding every collaborator, constructed
// once from config.Config and handed to the CLI — is adapted from the
// teacher's internal/cli.App, generalized from broker/ticker/store
// collaborators to this engine's layout/pool/query/health collaborators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"alphahistory/internal/barstore"
	"alphahistory/internal/calendar"
	"alphahistory/internal/chainstore"
	"alphahistory/internal/config"
	"alphahistory/internal/health"
	"alphahistory/internal/layout"
	"alphahistory/internal/manifest"
	"alphahistory/internal/models"
	"alphahistory/internal/obslog"
	"alphahistory/internal/pool"
	"alphahistory/internal/query"
	"alphahistory/internal/resilience"
	"alphahistory/internal/xerrors"
)

// Engine is the top-level handle: every CLI command and every test in
// this package operates through one of these rather than constructing
// its collaborators ad hoc.
type Engine struct {
	Config *config.Config
	Logger zerolog.Logger

	Layout   *layout.Layout
	Calendar *calendar.Calendar
	Pool     *pool.Pool
	Query    *query.Engine
	Health   *health.Monitor

	breakers *resilience.CircuitBreakerRegistry
	retry    resilience.RetryWithBackoff
}

// New constructs an Engine from cfg, registering the standard set of
// health checks (pool saturation, cache hit rates, open partition
// breakers).
func New(cfg *config.Config, logger zerolog.Logger) *Engine {
	symbols := make([]models.Symbol, len(cfg.Storage.Vocabulary))
	for i, s := range cfg.Storage.Vocabulary {
		symbols[i] = models.Symbol(s)
	}
	lay := layout.New(cfg.Storage.Root, symbols)
	cal := calendar.New()
	p := pool.New(pool.Config{
		Size:          cfg.Pool.Size,
		IdleTimeout:   cfg.Pool.IdleTimeout,
		SweepInterval: cfg.Pool.SweepInterval,
	}, nil)
	qe := query.NewEngine(lay, cal, p, logger, query.CacheConfig{
		ChainEntries: cfg.Cache.ChainEntries, ChainTTL: cfg.Cache.ChainTTL,
		BarEntries: cfg.Cache.BarEntries, BarTTL: cfg.Cache.BarTTL,
		SpotEntries: cfg.Cache.SpotEntries, SpotTTL: cfg.Cache.SpotTTL,
	})

	e := &Engine{
		Config:   cfg,
		Logger:   logger,
		Layout:   lay,
		Calendar: cal,
		Pool:     p,
		Query:    qe,
		Health:   health.New(),
		breakers: resilience.NewCircuitBreakerRegistry(resilience.DefaultCircuitBreakerConfig()),
	}
	e.retry = resilience.RetryWithBackoff{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		InitialDelay:  cfg.Retry.InitialDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		Jitter:        true,
		OnRetry: func(op string, attempt int, delay time.Duration, err error) {
			obslog.LogRetry(e.Logger, op, attempt, delay, err)
		},
	}
	e.registerHealthChecks()
	return e
}

func (e *Engine) registerHealthChecks() {
	e.Health.Register("pool", health.PoolCheck("pool", func() health.PoolStats {
		s := e.Pool.Stats()
		return health.PoolStats{Size: e.Pool.Size(), IdleCount: s.IdleCount, Rented: s.Rented}
	}))
	e.Health.Register("chain_cache", health.CacheCheck("chain_cache", 0.5, func() health.CacheStats {
		chain, _, _ := e.Query.CacheHitStats()
		return health.CacheStats{Hits: chain[0], Misses: chain[1]}
	}))
	e.Health.Register("bar_cache", health.CacheCheck("bar_cache", 0.5, func() health.CacheStats {
		_, bar, _ := e.Query.CacheHitStats()
		return health.CacheStats{Hits: bar[0], Misses: bar[1]}
	}))
	e.Health.Register("spot_cache", health.CacheCheck("spot_cache", 0.5, func() health.CacheStats {
		_, _, spot := e.Query.CacheHitStats()
		return health.CacheStats{Hits: spot[0], Misses: spot[1]}
	}))
	e.Health.Register("breakers", health.BreakerCheck("breakers", func() []health.BreakerStats {
		all := e.breakers.AllStats()
		stats := make([]health.BreakerStats, len(all))
		for i, s := range all {
			stats[i] = health.BreakerStats{PartitionKey: s.PartitionKey, Open: s.State == resilience.CircuitOpen}
		}
		return stats
	}))
}

// Close releases the engine's pooled resources.
func (e *Engine) Close() error {
	return e.Pool.Close()
}

// partitionKey names the circuit breaker registered for one partition's
// write path, per spec.md §9 design note 2 / §10 ("one breaker per
// partition key, registered lazily").
func partitionKey(symbol models.Symbol, session models.SessionDate) string {
	return fmt.Sprintf("write:%s:%s", symbol, session.String())
}

// writeWithResilience runs fn through the partition's circuit breaker
// wrapped in retry-with-backoff. Reads never retry per spec.md §4.3;
// only the write path does, since spec.md §5 scopes retry to the
// transient storage-busy case a write can hit mid-append. It creates the
// partition directory first, and reports a SQLite busy/locked error from
// fn as xerrors.KindStorageBusy so the retry and breaker act on it.
func (e *Engine) writeWithResilience(ctx context.Context, op string, symbol models.Symbol, session models.SessionDate, fn func() error) error {
	dir, err := e.Layout.PartitionDir(symbol, session)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.StorageUnavailable("create partition directory", err)
	}
	cb := e.breakers.Get(partitionKey(symbol, session))
	return e.retry.ExecuteWithCircuitBreaker(ctx, op, cb, func() error {
		err := fn()
		var se sqlite3.Error
		if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
			return xerrors.Wrap(xerrors.KindStorageBusy, op, err)
		}
		return err
	})
}

// WriteBars appends minute underlying bars to symbol's (symbol, month)
// bar store and refreshes its manifest entry, retrying transient
// storage-busy failures and invalidating the query engine's caches for
// symbol on success.
func (e *Engine) WriteBars(ctx context.Context, symbol models.Symbol, session models.SessionDate, bars []models.UnderlyingBar) error {
	path, err := e.Layout.BarFilePath(symbol, session)
	if err != nil {
		return err
	}
	start := time.Now()
	err = e.writeWithResilience(ctx, "append_bars", symbol, session, func() error {
		store, openErr := barstore.Open(path)
		if openErr != nil {
			return openErr
		}
		defer store.Close()
		return store.AppendBars(ctx, bars)
	})
	obslog.LogWrite(e.Logger, string(symbol), layout.BarFileName(), len(bars), err)
	if err != nil {
		return err
	}
	if rerr := e.recordManifestEntry(symbol, session, layout.BarFileName(), int64(len(bars)), start); rerr != nil {
		return rerr
	}
	e.Query.InvalidateSymbol(symbol)
	return nil
}

// WriteChainUniverse writes symbol's daily contract universe file.
func (e *Engine) WriteChainUniverse(ctx context.Context, symbol models.Symbol, session models.SessionDate, rows []models.ContractUniverseRow) error {
	path, err := e.Layout.ChainFilePath(symbol, session)
	if err != nil {
		return err
	}
	start := time.Now()
	err = e.writeWithResilience(ctx, "write_chain", symbol, session, func() error {
		return chainstore.WriteChain(path, symbol, session, rows)
	})
	fileName := layout.SessionFileNames(session)[0]
	obslog.LogWrite(e.Logger, string(symbol), fileName, len(rows), err)
	if err != nil {
		return err
	}
	if rerr := e.recordManifestEntry(symbol, session, fileName, int64(len(rows)), start); rerr != nil {
		return rerr
	}
	e.Query.InvalidateSymbol(symbol)
	return nil
}

// WriteSnapshots writes symbol's minute option-quote snapshot file.
func (e *Engine) WriteSnapshots(ctx context.Context, symbol models.Symbol, session models.SessionDate, quotes []models.OptionQuote) error {
	path, err := e.Layout.SnapshotFilePath(symbol, session)
	if err != nil {
		return err
	}
	start := time.Now()
	err = e.writeWithResilience(ctx, "write_snapshots", symbol, session, func() error {
		return chainstore.WriteSnapshots(path, symbol, quotes)
	})
	fileName := layout.SessionFileNames(session)[1]
	obslog.LogWrite(e.Logger, string(symbol), fileName, len(quotes), err)
	if err != nil {
		return err
	}
	if rerr := e.recordManifestEntry(symbol, session, fileName, int64(len(quotes)), start); rerr != nil {
		return rerr
	}
	e.Query.InvalidateSymbol(symbol)
	return nil
}

// recordManifestEntry hashes the just-written file and merges its entry
// into the partition's manifest, atomically rewriting it (manifest.Save
// writes to a temp file and renames, per internal/manifest).
func (e *Engine) recordManifestEntry(symbol models.Symbol, session models.SessionDate, fileName string, recordCount int64, writtenAt time.Time) error {
	dir, err := e.Layout.PartitionDir(symbol, session)
	if err != nil {
		return err
	}
	manifestPath, err := e.Layout.ManifestPath(symbol, session)
	if err != nil {
		return err
	}
	m, err := manifest.Load(manifestPath)
	if err != nil {
		if !xerrors.Is(err, xerrors.KindManifestMissing) {
			return err
		}
		m = models.PartitionManifest{}
	}
	entry, err := manifest.RecordEntry(dir, fileName, string(symbol), session.String(), recordCount, writtenAt)
	if err != nil {
		return err
	}
	m[fileName] = entry
	return manifest.Save(manifestPath, m)
}
