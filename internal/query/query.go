// Package query is the read path: chain snapshot reconstruction, expiry
// enumeration, and interval-aggregated bar retrieval, layered over
// barstore/chainstore/manifest behind the handle pool, with hot LRU
// caches keyed and TTL'd exactly per spec.md §5. The "latest observation
// at or before a target instant" resolution is grounded on
// contactkeval-option-replay's provider.go MatchBarDate/Closest idiom
// (scan every observation, keep the last one not after the target),
// generalized from a single date series to a per-(Expiry,Strike,Right)
// group-by. SQL-embedded business logic (DTE, moneyness, interval
// aggregation) lives here, not in the storage layer, per spec.md §9's
// "lift into the query engine" redesign note.
package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"alphahistory/internal/barstore"
	"alphahistory/internal/calendar"
	"alphahistory/internal/chainstore"
	"alphahistory/internal/layout"
	"alphahistory/internal/manifest"
	"alphahistory/internal/models"
	"alphahistory/internal/money"
	"alphahistory/internal/obslog"
	"alphahistory/internal/pool"
	"alphahistory/internal/scorer"
	"alphahistory/internal/xerrors"

	"github.com/rs/zerolog"
)

// Spec defaults for the request surface (spec.md §6.4).
const (
	DefaultDTEMin     = 0
	DefaultDTEMax     = 45
	DefaultMoneyness  = 0.15
	MaxDTE            = 45
)

// Hint is a non-error, actionable annotation on an otherwise-empty result.
type Hint string

const (
	HintNone          Hint = ""
	HintNoUnderlying  Hint = "NoUnderlying"
	HintBeforeSession Hint = "BeforeSession"
)

// Interval is a bar aggregation window.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
)

func (iv Interval) duration() (time.Duration, bool) {
	switch iv {
	case Interval1m:
		return time.Minute, true
	case Interval5m:
		return 5 * time.Minute, true
	case Interval15m:
		return 15 * time.Minute, true
	case Interval1h:
		return time.Hour, true
	case Interval1d:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

// CacheConfig sizes and TTLs the three hot caches (spec.md §5).
type CacheConfig struct {
	ChainEntries int
	ChainTTL     time.Duration
	BarEntries   int
	BarTTL       time.Duration
	SpotEntries  int
	SpotTTL      time.Duration
}

// ChainRow is one retained contract observation, enriched with its
// derived DTE and moneyness (spec.md §4.6.1, §6.3 snapshot columns).
type ChainRow struct {
	models.OptionQuote
	DTE       int
	Moneyness money.Decimal
}

// ChainView is the result of a chain snapshot query: the retained rows,
// the resolved spot (nil when absent), and an optional hint explaining
// an empty or partial result.
type ChainView struct {
	Rows []ChainRow
	Spot *money.Decimal
	Hint Hint
}

// ChainRequest is a fully-specified chain snapshot query; callers (the
// CLI) are responsible for applying the spec.md §6.4 defaults before
// constructing one, since Go's zero values can't distinguish "omitted"
// from "explicitly zero".
type ChainRequest struct {
	Symbol    models.Symbol
	At        models.InstantUtc
	DTEMin    int
	DTEMax    int
	Moneyness float64
}

func (r ChainRequest) validate() error {
	if r.DTEMin < 0 || r.DTEMax > MaxDTE || r.DTEMin > r.DTEMax {
		return xerrors.InvalidArgument("dte range [%d,%d] invalid, must be within [0,%d]", r.DTEMin, r.DTEMax, MaxDTE)
	}
	if r.Moneyness < 0 {
		return xerrors.InvalidArgument("moneyness half-width %.4f must be non-negative", r.Moneyness)
	}
	if !models.MinuteAligned(r.At.Time()) {
		return xerrors.InvalidArgument("at=%s is not minute-aligned", r.At)
	}
	return nil
}

func (r ChainRequest) fingerprint() string {
	return fmt.Sprintf("%s|%d|%.6f|%d-%d", r.Symbol, r.At.UnixMicro(), r.Moneyness, r.DTEMin, r.DTEMax)
}

// BarsRequest is a fully-specified bar range query.
type BarsRequest struct {
	Symbol   models.Symbol
	From     models.InstantUtc
	To       models.InstantUtc
	Interval Interval
}

func (r BarsRequest) validate() error {
	if _, ok := r.Interval.duration(); !ok {
		return xerrors.InvalidArgument("illegal interval %q", r.Interval)
	}
	if r.To.Before(r.From) {
		return xerrors.InvalidArgument("inverted range: to=%s before from=%s", r.To, r.From)
	}
	return nil
}

func (r BarsRequest) fingerprint() string {
	return fmt.Sprintf("%s|%d|%d|%s", r.Symbol, r.From.UnixMicro(), r.To.UnixMicro(), r.Interval)
}

// Engine is the read-path entry point: one per configured partition
// root, owning its own pool and caches (never package-level singletons,
// per spec.md §9's "shared cache+pool as singletons" redesign note —
// multiple Engines in one process are independent).
type Engine struct {
	layout   *layout.Layout
	calendar *calendar.Calendar
	barPool  *pool.Pool
	logger   zerolog.Logger

	chainCache *ttlLRU
	barCache   *ttlLRU
	spotCache  *ttlLRU
}

// NewEngine constructs an Engine. barPool should be sized per spec.md
// §4.8 (Config{Size: 20} by default) and is shared across every bar
// store partition this Engine opens. logger is used to emit the query
// and verify events obslog defines; the zero zerolog.Logger discards
// everything, so callers that don't care can pass it uninitialized.
func NewEngine(l *layout.Layout, cal *calendar.Calendar, barPool *pool.Pool, logger zerolog.Logger, cc CacheConfig) *Engine {
	return &Engine{
		layout:     l,
		calendar:   cal,
		barPool:    barPool,
		logger:     logger,
		chainCache: newTTLLRU(cc.ChainEntries, cc.ChainTTL),
		barCache:   newTTLLRU(cc.BarEntries, cc.BarTTL),
		spotCache:  newTTLLRU(cc.SpotEntries, cc.SpotTTL),
	}
}

// CacheHitStats reports hit/miss counters for the chain, bar, and spot
// caches in that order, surfaced for internal/health.CacheCheck.
func (e *Engine) CacheHitStats() (chain, bar, spot [2]int64) {
	h, m := e.chainCache.stats()
	chain = [2]int64{h, m}
	h, m = e.barCache.stats()
	bar = [2]int64{h, m}
	h, m = e.spotCache.stats()
	spot = [2]int64{h, m}
	return chain, bar, spot
}

// InvalidateSymbol drops every cache entry for symbol, called by the
// write path the moment a manifest rename completes (spec.md §5:
// "on a verified manifest change, relevant entries are invalidated").
func (e *Engine) InvalidateSymbol(symbol models.Symbol) {
	prefix := string(symbol) + "|"
	e.chainCache.invalidatePrefix(prefix)
	e.barCache.invalidatePrefix(prefix)
	e.spotCache.invalidatePrefix(prefix)
}

func (e *Engine) rentBarStore(ctx context.Context, symbol models.Symbol, session models.SessionDate) (*barstore.Store, string, error) {
	path, err := e.layout.BarFilePath(symbol, session)
	if err != nil {
		return nil, "", err
	}
	h, err := e.barPool.RentFor(ctx, path, func(ctx context.Context) (pool.Handle, error) {
		return barstore.Open(path)
	})
	if err != nil {
		return nil, "", xerrors.StorageUnavailable("rent bar store handle", err)
	}
	return h.(*barstore.Store), path, nil
}

func (e *Engine) returnBarStore(path string, s *barstore.Store) {
	e.barPool.ReturnFor(path, s)
}

// getSpot resolves the Close of the latest bar at or before at, caching
// the result for SpotTTL (spec.md §5, §4.3 get_spot). NearestAtOrBefore
// only scans the (symbol, month) partition it's handed, so on the first
// session of a month a target at before that session's bars have landed
// finds nothing in the just-opened partition even though bars exist in
// the prior month's file. Falling back to that prior partition turns
// this into the BeforeSession case SnapshotChain already derives from a
// bar's session not matching the request (spec.md §4.6.1), instead of
// the wrong NoUnderlying.
func (e *Engine) getSpot(ctx context.Context, symbol models.Symbol, at models.InstantUtc) (models.UnderlyingBar, error) {
	key := fmt.Sprintf("%s|%d", symbol, at.UnixMicro())
	if v, ok := e.spotCache.get(key); ok {
		return v.(models.UnderlyingBar), nil
	}

	session := at.SessionDate()
	bar, err := e.nearestBarInPartition(ctx, symbol, session, at)
	if err != nil && xerrors.Is(err, xerrors.KindNoUnderlying) {
		bar, err = e.nearestBarInPartition(ctx, symbol, session.PreviousMonthPartition(), at)
	}
	if err != nil {
		return models.UnderlyingBar{}, err
	}
	e.spotCache.put(key, bar)
	return bar, nil
}

// nearestBarInPartition opens the (symbol, session-month) bar store and
// resolves the nearest bar at or before at within that one file. A
// partition whose bar file does not exist reports NoUnderlying.
func (e *Engine) nearestBarInPartition(ctx context.Context, symbol models.Symbol, session models.SessionDate, at models.InstantUtc) (models.UnderlyingBar, error) {
	path, err := e.layout.BarFilePath(symbol, session)
	if err != nil {
		return models.UnderlyingBar{}, err
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return models.UnderlyingBar{}, xerrors.NoUnderlying(string(symbol), at.String())
	}
	store, path, err := e.rentBarStore(ctx, symbol, session)
	if err != nil {
		return models.UnderlyingBar{}, err
	}
	defer e.returnBarStore(path, store)

	return store.NearestAtOrBefore(ctx, symbol, at)
}

// SnapshotChain implements spec.md §4.6.1. It resolves req against the
// chain cache, falling through to snapshotChain on a miss, and logs the
// completed query via obslog.LogQuery (cache hits excluded — those never
// touch disk and aren't worth a log line).
func (e *Engine) SnapshotChain(ctx context.Context, req ChainRequest) (ChainView, error) {
	if err := ctx.Err(); err != nil {
		return ChainView{}, xerrors.Cancelled(err)
	}
	if err := e.layout.ValidateSymbol(req.Symbol); err != nil {
		return ChainView{}, err
	}
	if err := req.validate(); err != nil {
		return ChainView{}, err
	}

	fp := req.fingerprint()
	if v, ok := e.chainCache.get(fp); ok {
		return v.(ChainView), nil
	}

	start := time.Now()
	view, err := e.snapshotChain(ctx, req, fp)
	obslog.LogQuery(e.logger, string(req.Symbol), req.At.Time(), len(view.Rows), time.Since(start), err)
	return view, err
}

func (e *Engine) snapshotChain(ctx context.Context, req ChainRequest, fp string) (ChainView, error) {
	bar, err := e.getSpot(ctx, req.Symbol, req.At)
	if err != nil {
		if xerrors.Is(err, xerrors.KindNoUnderlying) {
			view := ChainView{Hint: HintNoUnderlying}
			e.chainCache.put(fp, view)
			return view, nil
		}
		return ChainView{}, err
	}

	session := req.At.SessionDate()
	if bar.Ts.SessionDate() != session {
		view := ChainView{Hint: HintBeforeSession}
		e.chainCache.put(fp, view)
		return view, nil
	}
	spot := bar.Close

	snapPath, err := e.layout.SnapshotFilePath(req.Symbol, session)
	if err != nil {
		return ChainView{}, err
	}
	quotes, err := readSnapshotsIfPresent(snapPath, req.Symbol)
	if err != nil {
		return ChainView{}, err
	}

	if err := ctx.Err(); err != nil {
		return ChainView{}, xerrors.Cancelled(err)
	}

	latest := latestPerContract(quotes, req.At)

	rows := make([]ChainRow, 0, len(latest))
	for _, q := range latest {
		dte := models.DTE(session, q.Expiry)
		if dte < req.DTEMin || dte > req.DTEMax {
			continue
		}
		m := money.Moneyness(q.Strike, spot)
		if m.Abs().Cmp(money.NewFromFloat(req.Moneyness)) > 0 {
			continue
		}
		rows = append(rows, ChainRow{OptionQuote: q, DTE: dte, Moneyness: m})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Expiry.Equal(b.Expiry) {
			return a.Expiry.Before(b.Expiry)
		}
		if cmp := a.Strike.Cmp(b.Strike); cmp != 0 {
			return cmp < 0
		}
		return a.Right.Less(b.Right)
	})

	view := ChainView{Rows: rows, Spot: &spot}
	e.chainCache.put(fp, view)
	return view, nil
}

// latestPerContract groups quotes by (Expiry,Strike,Right) and keeps the
// row with the greatest Ts ≤ at, breaking ties by the greater Bid+Ask
// sum (spec.md §4.6.1 tie-break rule).
func latestPerContract(quotes []models.OptionQuote, at models.InstantUtc) []models.OptionQuote {
	type key struct {
		expiry models.SessionDate
		strike string
		right  models.Right
	}
	best := make(map[key]models.OptionQuote)
	for _, q := range quotes {
		if q.Ts.After(at) {
			continue
		}
		k := key{expiry: q.Expiry, strike: q.Strike.String(), right: q.Right}
		cur, ok := best[k]
		if !ok {
			best[k] = q
			continue
		}
		if q.Ts.After(cur.Ts) {
			best[k] = q
		} else if q.Ts.Equal(cur.Ts) && q.BidAskSum().Cmp(cur.BidAskSum()) > 0 {
			best[k] = q
		}
	}
	out := make([]models.OptionQuote, 0, len(best))
	for _, q := range best {
		out = append(out, q)
	}
	return out
}

func readSnapshotsIfPresent(path string, symbol models.Symbol) ([]models.OptionQuote, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.KindStorageUnavailable, "stat snapshot file", err)
	}
	return chainstore.ReadSnapshots(path, symbol)
}

func readChainIfPresent(path string, symbol models.Symbol, session models.SessionDate) ([]models.ContractUniverseRow, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.KindStorageUnavailable, "stat chain file", err)
	}
	return chainstore.ReadChain(path, symbol, session)
}

// Expiries implements spec.md §4.6.2: the sorted distinct set of
// expiries observed in the session of asOf with 0 ≤ DTE ≤ dteMax,
// derived from the session's contract universe file so it always
// includes expiries only ever observed later in the session (spec.md
// §9 open question 2).
func (e *Engine) Expiries(ctx context.Context, symbol models.Symbol, asOf models.InstantUtc, dteMax int) ([]models.SessionDate, error) {
	if err := e.layout.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	session := asOf.SessionDate()
	chainPath, err := e.layout.ChainFilePath(symbol, session)
	if err != nil {
		return nil, err
	}
	universe, err := readChainIfPresent(chainPath, symbol, session)
	if err != nil {
		return nil, err
	}

	seen := make(map[models.SessionDate]struct{})
	for _, r := range universe {
		dte := models.DTE(session, r.Expiry)
		if dte < 0 || dte > dteMax {
			continue
		}
		seen[r.Expiry] = struct{}{}
	}
	out := make([]models.SessionDate, 0, len(seen))
	for exp := range seen {
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Bars implements spec.md §4.3's interval aggregation policy as a pure
// in-process windowing function over the store's native 1-minute rows,
// never pushed into SQL, per spec.md §9's "lift SQL-embedded business
// logic" redesign note.
func (e *Engine) Bars(ctx context.Context, req BarsRequest) ([]models.UnderlyingBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Cancelled(err)
	}
	if err := e.layout.ValidateSymbol(req.Symbol); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	fp := req.fingerprint()
	if v, ok := e.barCache.get(fp); ok {
		return v.([]models.UnderlyingBar), nil
	}

	var out []models.UnderlyingBar
	from, to := req.From.SessionDate(), req.To.SessionDate()
	// Each (symbol, month) bar file is read once over the whole range.
	seen := make(map[string]bool)
	for session := from; session.Before(to) || session.Equal(to); session = session.AddDays(1) {
		path, err := e.layout.BarFilePath(req.Symbol, session)
		if err != nil {
			return nil, err
		}
		if seen[path] {
			continue
		}
		seen[path] = true

		store, path, err := e.rentBarStore(ctx, req.Symbol, session)
		if err != nil {
			if xerrors.Is(err, xerrors.KindStorageUnavailable) {
				continue
			}
			return nil, err
		}
		bars, err := store.RangeBars(ctx, req.Symbol, req.From, req.To)
		e.returnBarStore(path, store)
		if err != nil {
			return nil, err
		}
		out = append(out, bars...)
	}

	aggregated := aggregateBars(out, req.Interval)
	e.barCache.put(fp, aggregated)
	return aggregated, nil
}

// aggregateBars groups ascending 1-minute bars into interval windows.
// Windows with no underlying bars are never emitted, since windows are
// derived purely from the bars actually present.
func aggregateBars(bars []models.UnderlyingBar, interval Interval) []models.UnderlyingBar {
	if interval == Interval1m || len(bars) == 0 {
		return bars
	}
	window, _ := interval.duration()

	var out []models.UnderlyingBar
	var cur *models.UnderlyingBar
	var windowStart time.Time

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for _, b := range bars {
		ws := b.Ts.Time().Truncate(window)
		if cur == nil || !ws.Equal(windowStart) {
			flush()
			windowStart = ws
			nb := b
			cur = &nb
			continue
		}
		if b.High.Cmp(cur.High) > 0 {
			cur.High = b.High
		}
		if b.Low.Cmp(cur.Low) < 0 {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	flush()
	return out
}

// Score computes the completeness report for a chain view (spec.md
// §4.7), adapting the retained ChainRows into scorer.Row values.
func (e *Engine) Score(view ChainView) scorer.Report {
	rows := make([]scorer.Row, len(view.Rows))
	for i, r := range view.Rows {
		rows[i] = scorer.Row{
			Expiry:       r.DTE,
			Strike:       r.Strike,
			Right:        string(r.Right),
			Bid:          rowOptionalDecimal(r.Bid),
			Ask:          rowOptionalDecimal(r.Ask),
			OpenInterest: r.OptionQuote.OpenInterest,
			Volume:       r.OptionQuote.Volume,
		}
	}
	return scorer.Score(rows, view.Spot)
}

func rowOptionalDecimal(d money.Decimal) *money.Decimal {
	return &d
}

// VerifyPartition delegates to internal/manifest for the (symbol,
// session) partition, resolving the manifest and directory paths.
func (e *Engine) VerifyPartition(symbol models.Symbol, session models.SessionDate) (manifest.VerifyReport, error) {
	if err := e.layout.ValidateSymbol(symbol); err != nil {
		return manifest.VerifyReport{}, err
	}
	dir, err := e.layout.PartitionDir(symbol, session)
	if err != nil {
		return manifest.VerifyReport{}, err
	}
	manifestPath, err := e.layout.ManifestPath(symbol, session)
	if err != nil {
		return manifest.VerifyReport{}, err
	}
	report, err := manifest.VerifyPartition(manifestPath, dir, func(fileName string) (int64, error) {
		return countFileRecords(dir, fileName, symbol, session)
	})
	if err != nil {
		return report, err
	}
	obslog.LogVerify(e.logger, string(symbol), session.String(), string(report.Status), len(report.MissingFiles)+len(report.CorruptedFiles))
	return report, nil
}

func countFileRecords(dir, fileName string, symbol models.Symbol, session models.SessionDate) (int64, error) {
	if fileName == layout.BarFileName() {
		store, err := barstore.Open(filepath.Join(dir, fileName))
		if err != nil {
			return 0, err
		}
		defer store.Close()
		return store.CountForSession(context.Background(), symbol, session)
	}
	return chainstore.RecordCount(filepath.Join(dir, fileName))
}

// ValidateSession combines VerifyPartition with the minute-bar
// completeness ratio (spec.md §4.5).
func (e *Engine) ValidateSession(ctx context.Context, symbol models.Symbol, session models.SessionDate) (manifest.SessionIntegrityReport, error) {
	files, err := e.VerifyPartition(symbol, session)
	if err != nil {
		return manifest.SessionIntegrityReport{}, err
	}

	expected := e.calendar.ExpectedMinuteBars(session)
	store, path, err := e.rentBarStore(ctx, symbol, session)
	if err != nil {
		return manifest.SessionIntegrityReport{}, err
	}
	defer e.returnBarStore(path, store)

	actual, err := store.CountForSession(ctx, symbol, session)
	if err != nil {
		return manifest.SessionIntegrityReport{}, err
	}

	return manifest.ValidateSession(files, expected, int(actual)), nil
}
