// Package cli provides the command-line interface for the historical data engine.
package cli

import (
	"fmt"
	"time"

	"alphahistory/internal/money"
)

// FormatPrice formats a price at a fixed 2 decimal places, coarser than
// money.Decimal's on-disk Scale (4) — a display convention, not a
// storage one.
func FormatPrice(price money.Decimal) string {
	return fmt.Sprintf("%.2f", price.Float64())
}

// FormatTime formats a UTC time as a time-of-day string.
func FormatTime(t time.Time) string {
	return t.UTC().Format("15:04:05")
}

// FormatDate formats a UTC time as a calendar date.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FormatDateTime formats a UTC time with both date and time.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatOHLC formats an OHLC bar summary as a single compact cell.
func FormatOHLC(open, high, low, close money.Decimal) string {
	return fmt.Sprintf("O: %.2f  H: %.2f  L: %.2f  C: %.2f", open.Float64(), high.Float64(), low.Float64(), close.Float64())
}

// FormatBidAsk formats a bid/ask quote with spread, used wherever a
// quote is shown alongside its spread rather than as bare bid/ask
// columns.
func FormatBidAsk(bid, ask money.Decimal) string {
	b, a := bid.Float64(), ask.Float64()
	spread := a - b
	spreadPct := 0.0
	if b != 0 {
		spreadPct = (spread / b) * 100
	}
	return fmt.Sprintf("%.2f / %.2f  (spread %.2f, %.2f%%)", b, a, spread, spreadPct)
}

// FormatScore formats a completeness score as a percentage.
func FormatScore(score float64) string {
	return fmt.Sprintf("%.1f%%", score*100)
}
