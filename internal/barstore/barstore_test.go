package barstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"alphahistory/internal/models"
	"alphahistory/internal/money"
	"alphahistory/internal/xerrors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "bars_1m.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func bar(symbol models.Symbol, minute int, o, h, l, c float64) models.UnderlyingBar {
	ts := models.NewInstantUtc(time.Date(2024, 3, 7, 14, 30, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute))
	return models.UnderlyingBar{
		Symbol: symbol,
		Ts:     ts,
		Open:   money.NewFromFloat(o),
		High:   money.NewFromFloat(h),
		Low:    money.NewFromFloat(l),
		Close:  money.NewFromFloat(c),
		Volume: int64(1000 + minute),
	}
}

func TestAppendAndRangeBars(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bars := []models.UnderlyingBar{
		bar("SPX", 0, 5000, 5005, 4995, 5002),
		bar("SPX", 1, 5002, 5008, 5000, 5006),
		bar("SPX", 2, 5006, 5010, 5003, 5007),
	}
	if err := s.AppendBars(ctx, bars); err != nil {
		t.Fatalf("AppendBars: %v", err)
	}

	got, err := s.RangeBars(ctx, "SPX", bars[0].Ts, bars[2].Ts)
	if err != nil {
		t.Fatalf("RangeBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	for i, want := range bars {
		if !got[i].Close.Equal(want.Close) || !got[i].Ts.Equal(want.Ts) {
			t.Fatalf("bar %d mismatch: got %+v, want %+v", i, got[i], want)
		}
	}
}

func TestAppendUpsertsOnDuplicateKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := bar("SPX", 0, 5000, 5005, 4995, 5002)
	if err := s.AppendBars(ctx, []models.UnderlyingBar{b}); err != nil {
		t.Fatalf("first append: %v", err)
	}

	revised := bar("SPX", 0, 5000, 5009, 4995, 5008)
	if err := s.AppendBars(ctx, []models.UnderlyingBar{revised}); err != nil {
		t.Fatalf("re-ingesting the same (symbol, ts) key should upsert, not error: %v", err)
	}

	got, err := s.RangeBars(ctx, "SPX", b.Ts, b.Ts)
	if err != nil {
		t.Fatalf("RangeBars: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected re-ingestion to yield the same row count (no duplicates), got %d rows", len(got))
	}
	if !got[0].Close.Equal(revised.Close) {
		t.Fatalf("expected upsert to overwrite stored values: got close %s, want %s", got[0].Close, revised.Close)
	}
}

func TestNearestAtOrBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bars := []models.UnderlyingBar{
		bar("SPX", 0, 5000, 5005, 4995, 5002),
		bar("SPX", 5, 5002, 5008, 5000, 5006),
	}
	if err := s.AppendBars(ctx, bars); err != nil {
		t.Fatalf("AppendBars: %v", err)
	}

	mid := models.NewInstantUtc(bars[0].Ts.Time().Add(2 * time.Minute))
	got, err := s.NearestAtOrBefore(ctx, "SPX", mid)
	if err != nil {
		t.Fatalf("NearestAtOrBefore: %v", err)
	}
	if !got.Ts.Equal(bars[0].Ts) {
		t.Fatalf("expected bar 0, got ts %s", got.Ts)
	}
}

func TestNearestAtOrBeforeNoUnderlying(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before := models.NewInstantUtc(time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC))
	_, err := s.NearestAtOrBefore(ctx, "SPX", before)
	if err == nil {
		t.Fatalf("expected NoUnderlying error")
	}
	if !xerrors.Is(err, xerrors.KindNoUnderlying) {
		t.Fatalf("expected KindNoUnderlying, got %v", err)
	}
}

func TestCountForSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bars := []models.UnderlyingBar{
		bar("SPX", 0, 5000, 5005, 4995, 5002),
		bar("SPX", 1, 5002, 5008, 5000, 5006),
	}
	if err := s.AppendBars(ctx, bars); err != nil {
		t.Fatalf("AppendBars: %v", err)
	}

	n, err := s.CountForSession(ctx, "SPX", models.NewSessionDate(2024, time.March, 7))
	if err != nil {
		t.Fatalf("CountForSession: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

// TestProperty_BarRoundTrip mirrors the teacher's candle round-trip
// property: appended bars, read back over an enclosing range, must
// reproduce OHLCV exactly (no float drift, since money.Decimal is exact
// at Scale).
func TestProperty_BarRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property test in short mode")
	}
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "bars_1m.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	priceGen := gen.Float64Range(1.0, 10000.0)
	volumeGen := gen.Int64Range(0, 1_000_000)

	properties.Property("append then range reproduces OHLCV exactly", prop.ForAll(
		func(minuteOffset int, o, h, l, c float64, v int64) bool {
			ctx := context.Background()
			symbol := models.Symbol("SPX")
			ts := models.NewInstantUtc(time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC).Add(time.Duration(minuteOffset) * time.Minute))

			want := models.UnderlyingBar{
				Symbol: symbol,
				Ts:     ts,
				Open:   money.NewFromFloat(o),
				High:   money.NewFromFloat(h),
				Low:    money.NewFromFloat(l),
				Close:  money.NewFromFloat(c),
				Volume: v,
			}
			if err := s.AppendBars(ctx, []models.UnderlyingBar{want}); err != nil {
				return false
			}
			got, err := s.RangeBars(ctx, symbol, ts, ts)
			if err != nil || len(got) != 1 {
				return false
			}
			return got[0].Open.Equal(want.Open) &&
				got[0].High.Equal(want.High) &&
				got[0].Low.Equal(want.Low) &&
				got[0].Close.Equal(want.Close) &&
				got[0].Volume == want.Volume
		},
		gen.IntRange(0, 10_000_000),
		priceGen, priceGen, priceGen, priceGen,
		volumeGen,
	))

	reporter := gopter.NewFormatedReporter(true, 160, os.Stdout)
	properties.TestingRun(t, reporter)
}
