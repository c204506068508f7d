// Package reconcile repairs zero daily-return values that some providers
// report when they lag behind the real series, typically on cross-border
// instruments whose NAV posts a session late.
package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/qiwenlee/fundflow/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Config bounds the backward trace. The window size is a tuned
// heuristic, not a derived constant, so it stays configuration.
type Config struct {
	TraceWindow int
}

// YesterdayReturn derives the previous-session return from an ascending
// valuation series. The direct value is the percentage change between
// the two newest NAVs, rounded to two decimals. When that computes to
// zero, the trace walks backward through at most TraceWindow points for
// the nearest nonzero return within ±100%; a substituted value is marked
// stale with its distance in points from the newest date. When the
// window is exhausted the zero stands as legitimate and non-stale.
// Pure function of the series: running it twice yields the same result.
func YesterdayReturn(code string, points []models.ValuationPoint, cfg Config) *models.YesterdayReturn {
	window := cfg.TraceWindow
	if window <= 0 {
		window = 10
	}

	n := len(points)
	if n == 0 {
		return &models.YesterdayReturn{Code: code}
	}
	newest := points[n-1]
	if n < 2 {
		return &models.YesterdayReturn{Code: code, Date: newest.Date}
	}

	direct := pctChange(points[n-2].NAV, newest.NAV)
	if !direct.IsZero() {
		return &models.YesterdayReturn{
			Code:     code,
			Value:    direct,
			Date:     newest.Date,
			DaysDiff: 1,
			IsStale:  false,
		}
	}

	// Zero at the newest step: trace backward for the nearest plausible
	// nonzero return.
	for i := n - 2; i >= 1 && (n-1)-i < window; i-- {
		ret := pctChange(points[i-1].NAV, points[i].NAV)
		if ret.IsZero() || ret.Abs().GreaterThan(hundred) {
			continue
		}
		return &models.YesterdayReturn{
			Code:     code,
			Value:    ret,
			Date:     points[i].Date,
			DaysDiff: n - 1 - i + 1,
			IsStale:  true,
		}
	}

	// Window exhausted: accept the zero as a real flat session.
	return &models.YesterdayReturn{
		Code:     code,
		Value:    decimal.Zero.Round(2),
		Date:     newest.Date,
		DaysDiff: 1,
		IsStale:  false,
	}
}

// pctChange is (to-from)/from*100 rounded to two decimals, zero when
// from is zero.
func pctChange(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(hundred).Round(2)
}
