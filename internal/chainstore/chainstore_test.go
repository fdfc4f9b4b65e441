package chainstore

import (
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

func TestWriteReadChainRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain_2024-03-07.col")
	session := models.NewSessionDate(2024, time.March, 7)
	expiry := models.NewSessionDate(2024, time.March, 15)

	rows := []models.ContractUniverseRow{
		{Symbol: "SPX", SessionDate: session, Expiry: expiry, Strike: money.NewFromFloat(5000), Right: models.Put},
		{Symbol: "SPX", SessionDate: session, Expiry: expiry, Strike: money.NewFromFloat(4950), Right: models.Call},
		{Symbol: "SPX", SessionDate: session, Expiry: expiry, Strike: money.NewFromFloat(4950), Right: models.Put},
	}
	if err := WriteChain(path, "SPX", session, rows); err != nil {
		t.Fatalf("WriteChain: %v", err)
	}

	got, err := ReadChain(path, "SPX", session)
	if err != nil {
		t.Fatalf("ReadChain: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}

	// Must come back sorted by (Expiry, Strike, Right): 4950/C, 4950/P, 5000/P.
	if !got[0].Strike.Equal(money.NewFromFloat(4950)) || got[0].Right != models.Call {
		t.Fatalf("row 0 out of order: %+v", got[0])
	}
	if !got[1].Strike.Equal(money.NewFromFloat(4950)) || got[1].Right != models.Put {
		t.Fatalf("row 1 out of order: %+v", got[1])
	}
	if !got[2].Strike.Equal(money.NewFromFloat(5000)) || got[2].Right != models.Put {
		t.Fatalf("row 2 out of order: %+v", got[2])
	}
}

func TestWriteReadSnapshotsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots_2024-03-07.col")
	ts := models.NewInstantUtc(time.Date(2024, 3, 7, 14, 30, 0, 0, time.UTC))
	expiry := models.NewSessionDate(2024, time.March, 15)

	mid := money.NewFromFloat(12.5)
	iv := 0.23
	quotes := []models.OptionQuote{
		{
			Symbol: "SPX", Ts: ts, Expiry: expiry, Strike: money.NewFromFloat(5000), Right: models.Call,
			Bid: money.NewFromFloat(12.0), Ask: money.NewFromFloat(13.0), Mid: &mid, IV: &iv,
		},
		{
			Symbol: "SPX", Ts: ts, Expiry: expiry, Strike: money.NewFromFloat(5000), Right: models.Put,
			Bid: money.NewFromFloat(8.0), Ask: money.NewFromFloat(8.5),
		},
	}
	if err := WriteSnapshots(path, "SPX", quotes); err != nil {
		t.Fatalf("WriteSnapshots: %v", err)
	}

	got, err := ReadSnapshots(path, "SPX")
	if err != nil {
		t.Fatalf("ReadSnapshots: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Right != models.Call || got[1].Right != models.Put {
		t.Fatalf("expected Call before Put, got %v then %v", got[0].Right, got[1].Right)
	}
	if got[0].Mid == nil || !got[0].Mid.Equal(mid) {
		t.Fatalf("Mid not round-tripped: %+v", got[0].Mid)
	}
	if got[0].IV == nil || *got[0].IV != iv {
		t.Fatalf("IV not round-tripped: %v", got[0].IV)
	}
}

// TestGreeksRoundTripFullFloat64Precision catches a regression where
// Greeks were routed through Money's scale-4 fixed-point codec: a
// gamma carrying more than 4 decimal digits would silently lose
// precision on every write. Greeks are raw float64, never Money
// (spec.md §3), so round-tripping must reproduce the exact bit pattern.
func TestGreeksRoundTripFullFloat64Precision(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots_2024-03-07.col")
	ts := models.NewInstantUtc(time.Date(2024, 3, 7, 14, 30, 0, 0, time.UTC))
	expiry := models.NewSessionDate(2024, time.March, 15)

	gamma := 0.0023456789123
	delta := -0.512345678
	theta := -1.23456789
	vega := 12.3456789
	quotes := []models.OptionQuote{
		{
			Symbol: "SPX", Ts: ts, Expiry: expiry, Strike: money.NewFromFloat(5000), Right: models.Call,
			Bid: money.NewFromFloat(12.0), Ask: money.NewFromFloat(13.0),
			Gamma: &gamma, Delta: &delta, Theta: &theta, Vega: &vega,
		},
		{
			Symbol: "SPX", Ts: ts, Expiry: expiry, Strike: money.NewFromFloat(5000), Right: models.Put,
			Bid: money.NewFromFloat(8.0), Ask: money.NewFromFloat(8.5),
		},
	}
	if err := WriteSnapshots(path, "SPX", quotes); err != nil {
		t.Fatalf("WriteSnapshots: %v", err)
	}

	got, err := ReadSnapshots(path, "SPX")
	if err != nil {
		t.Fatalf("ReadSnapshots: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Gamma == nil || *got[0].Gamma != gamma {
		t.Fatalf("Gamma lost precision: got %v, want %v", got[0].Gamma, gamma)
	}
	if got[0].Delta == nil || *got[0].Delta != delta {
		t.Fatalf("Delta lost precision: got %v, want %v", got[0].Delta, delta)
	}
	if got[0].Theta == nil || *got[0].Theta != theta {
		t.Fatalf("Theta lost precision: got %v, want %v", got[0].Theta, theta)
	}
	if got[0].Vega == nil || *got[0].Vega != vega {
		t.Fatalf("Vega lost precision: got %v, want %v", got[0].Vega, vega)
	}
	if got[1].Mid != nil {
		t.Fatalf("expected nil Mid for second quote, got %v", got[1].Mid)
	}
}

func TestReadRejectsWrongKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain_2024-03-07.col")
	session := models.NewSessionDate(2024, time.March, 7)
	if err := WriteChain(path, "SPX", session, nil); err != nil {
		t.Fatalf("WriteChain: %v", err)
	}
	if _, err := ReadSnapshots(path, "SPX"); err == nil {
		t.Fatalf("expected schema-mismatch error reading chain file as snapshots")
	} else if !xerrors.Is(err, xerrors.KindSchemaMismatch) {
		t.Fatalf("expected KindSchemaMismatch, got %v", err)
	}
}

func TestRecordCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain_2024-03-07.col")
	session := models.NewSessionDate(2024, time.March, 7)
	rows := []models.ContractUniverseRow{
		{Symbol: "SPX", SessionDate: session, Expiry: session.AddDays(7), Strike: money.NewFromFloat(100), Right: models.Call},
	}
	if err := WriteChain(path, "SPX", session, rows); err != nil {
		t.Fatalf("WriteChain: %v", err)
	}
	n, err := RecordCount(path)
	if err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}

// TestProperty_SnapshotRoundTrip exercises bid/ask/greeks round-trip
// across random inputs, including nil optional fields.
func TestProperty_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	priceGen := gen.Float64Range(0.01, 9999.0)

	properties.Property("snapshot round-trip preserves bid/ask exactly", prop.ForAll(
		func(bid, ask float64, strikeOffset int) bool {
			path := filepath.Join(dir, "snap.col")
			ts := models.NewInstantUtc(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC))
			expiry := models.NewSessionDate(2024, time.February, 16)
			strike := money.NewFromFloat(float64(5000 + strikeOffset))

			q := models.OptionQuote{
				Symbol: "SPX", Ts: ts, Expiry: expiry, Strike: strike, Right: models.Call,
				Bid: money.NewFromFloat(bid), Ask: money.NewFromFloat(ask),
			}
			if err := WriteSnapshots(path, "SPX", []models.OptionQuote{q}); err != nil {
				return false
			}
			got, err := ReadSnapshots(path, "SPX")
			if err != nil || len(got) != 1 {
				return false
			}
			return got[0].Bid.Equal(q.Bid) && got[0].Ask.Equal(q.Ask) && got[0].Strike.Equal(q.Strike)
		},
		priceGen, priceGen, gen.IntRange(-500, 500),
	))

	properties.TestingRun(t)
}
