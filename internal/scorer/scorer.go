// Package scorer implements the Completeness Scorer v2: a deterministic,
// per-DTE-bucket weighted-component score over a chain snapshot query
// result. The weighted-component composite pattern (fixed weights
// summed into one normalized score, with a components breakdown exposed
// alongside the total) is adapted from the teacher's
// internal/analysis/scoring.SignalScorer, generalized from technical
// indicators to the four coverage/liquidity components spec.md §4.7
// defines.
package scorer

import (
	"sort"

	"alphahistory/internal/money"
)

// Component weights, spec.md §4.7.
const (
	weightStrikeDensity = 0.4
	weightQuoteCoverage = 0.2
	weightATMSpread     = 0.2
	weightLiquidity     = 0.2
)

// Row is the minimal shape the scorer needs from a chain snapshot
// result row; query.Result rows satisfy this via adaptation at the call
// site, keeping scorer free of a dependency on the query package.
type Row struct {
	Expiry       int // DTE, precomputed by the caller
	Strike       money.Decimal
	Right        string // "C" or "P"
	Bid          *money.Decimal
	Ask          *money.Decimal
	OpenInterest *int64
	Volume       *int64
}

// BucketScore is the per-DTE-bucket breakdown.
type BucketScore struct {
	DTE                int
	Score              float64
	StrikeDensityOK    bool
	QuoteCoverageOK    bool
	ATMSpreadOK        bool
	LiquidityOK        bool
	FailedComponents   []string
}

// Report is the scorer's full output.
type Report struct {
	Overall float64
	Buckets []BucketScore
	Hints   []string
}

// Score computes a CompletenessReport for rows observed at spot. A nil
// spot (no underlying bar resolved) short-circuits to a zero report
// carrying the "no underlying price at T" hint, per spec.md §4.7.
func Score(rows []Row, spot *money.Decimal) Report {
	if spot == nil {
		return Report{Overall: 0, Hints: []string{"no underlying price at T"}}
	}
	if len(rows) == 0 {
		return Report{Overall: 0}
	}

	byBucket := make(map[int][]Row)
	for _, r := range rows {
		byBucket[r.Expiry] = append(byBucket[r.Expiry], r)
	}

	dtes := make([]int, 0, len(byBucket))
	for dte := range byBucket {
		dtes = append(dtes, dte)
	}
	sort.Ints(dtes)

	buckets := make([]BucketScore, 0, len(dtes))
	var sum float64
	for _, dte := range dtes {
		bs := scoreBucket(dte, byBucket[dte], *spot)
		buckets = append(buckets, bs)
		sum += bs.Score
	}
	overall := sum / float64(len(buckets))

	rep := Report{Overall: overall, Buckets: buckets}
	if overall < 0.9 {
		rep.Hints = buildHints(buckets)
	}
	return rep
}

func scoreBucket(dte int, rows []Row, spot money.Decimal) BucketScore {
	bs := BucketScore{DTE: dte}
	var score float64

	if strikeDensityOK(rows, spot) {
		bs.StrikeDensityOK = true
		score += weightStrikeDensity
	} else {
		bs.FailedComponents = append(bs.FailedComponents, "strike density")
	}

	if quoteCoverageOK(rows) {
		bs.QuoteCoverageOK = true
		score += weightQuoteCoverage
	} else {
		bs.FailedComponents = append(bs.FailedComponents, "quote coverage")
	}

	if atmSpreadOK(rows, spot) {
		bs.ATMSpreadOK = true
		score += weightATMSpread
	} else {
		bs.FailedComponents = append(bs.FailedComponents, "atm spread")
	}

	if liquidityOK(rows) {
		bs.LiquidityOK = true
		score += weightLiquidity
	} else {
		bs.FailedComponents = append(bs.FailedComponents, "liquidity")
	}

	bs.Score = score
	return bs
}

// strikeDensityOK requires at least 3 Put and 3 Call strikes within 5%
// moneyness of spot.
func strikeDensityOK(rows []Row, spot money.Decimal) bool {
	puts := make(map[string]struct{})
	calls := make(map[string]struct{})
	for _, r := range rows {
		m := money.Moneyness(r.Strike, spot).Abs()
		if m.Cmp(money.NewFromFloat(0.05)) > 0 {
			continue
		}
		key := r.Strike.String()
		if r.Right == "P" {
			puts[key] = struct{}{}
		} else {
			calls[key] = struct{}{}
		}
	}
	return len(puts) >= 3 && len(calls) >= 3
}

// quoteCoverageOK requires ≥80% of bucket rows to carry both Bid and Ask.
func quoteCoverageOK(rows []Row) bool {
	if len(rows) == 0 {
		return false
	}
	var both int
	for _, r := range rows {
		if r.Bid != nil && r.Ask != nil {
			both++
		}
	}
	return float64(both)/float64(len(rows)) >= 0.80
}

// atmSpreadOK requires the mean relative spread of ATM rows (|moneyness|
// ≤ 0.05, per the glossary definition of "ATM" — the same band
// strikeDensityOK uses) to be under 100 bps.
func atmSpreadOK(rows []Row, spot money.Decimal) bool {
	var sumBps float64
	var n int
	atmBand := money.NewFromFloat(0.05)
	for _, r := range rows {
		if r.Bid == nil || r.Ask == nil {
			continue
		}
		if money.Moneyness(r.Strike, spot).Abs().Cmp(atmBand) > 0 {
			continue
		}
		mid := money.Mid(*r.Bid, *r.Ask)
		if mid.IsZero() {
			continue
		}
		spreadBps := r.Ask.Sub(*r.Bid).Div(mid).Float64() * 10000
		sumBps += spreadBps
		n++
	}
	if n == 0 {
		return false
	}
	return sumBps/float64(n) < 100
}

// liquidityOK requires ≥70% of bucket rows to show OI > 0 or Volume > 0.
func liquidityOK(rows []Row) bool {
	if len(rows) == 0 {
		return false
	}
	var liquid int
	for _, r := range rows {
		if (r.OpenInterest != nil && *r.OpenInterest > 0) || (r.Volume != nil && *r.Volume > 0) {
			liquid++
		}
	}
	return float64(liquid)/float64(len(rows)) >= 0.70
}

// buildHints derives a deterministic textual remediation set. Hints are
// emitted in a fixed order so output is stable across runs (invariant
// 7: same inputs → byte-identical results).
func buildHints(buckets []BucketScore) []string {
	componentHints := map[string]string{
		"strike density":  "add more strikes near the money",
		"quote coverage":  "backfill missing bid/ask quotes",
		"atm spread":      "tighten ATM bid/ask capture cadence",
		"liquidity":       "source open interest or volume for thin strikes",
	}
	seen := make(map[string]struct{})
	var hints []string
	order := []string{"strike density", "quote coverage", "atm spread", "liquidity"}
	failed := make(map[string]bool)
	for _, b := range buckets {
		for _, c := range b.FailedComponents {
			failed[c] = true
		}
	}
	for _, c := range order {
		if failed[c] {
			if _, ok := seen[c]; !ok {
				hints = append(hints, componentHints[c])
				seen[c] = struct{}{}
			}
		}
	}
	if len(buckets) < 3 {
		hints = append(hints, "expand DTE range")
	}
	return hints
}
