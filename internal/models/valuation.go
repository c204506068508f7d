package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceFailed marks a DTO whose value could not be obtained from any
// provider. Callers receive a zeroed, well-formed object instead of an error.
const SourceFailed = "failed"

// ValuationPoint is a single dated NAV observation for one instrument.
// DailyReturn is a percentage (1.23 means +1.23%), not a fraction.
// Points are immutable once constructed; IsStale means the value was
// substituted by reconciliation rather than reported by a provider.
type ValuationPoint struct {
	Code        string          `json:"code" db:"code"`
	Date        time.Time       `json:"date" db:"date"`
	NAV         decimal.Decimal `json:"nav" db:"nav"`
	AccumNAV    decimal.Decimal `json:"accum_nav" db:"accum_nav"`
	DailyReturn decimal.Decimal `json:"daily_return" db:"daily_return"`
	Source      string          `json:"source" db:"source"`
	IsStale     bool            `json:"is_stale" db:"is_stale"`
}

// LatestValuation is the caller-facing snapshot of an instrument's most
// recent value. Estimate carries the intraday estimate when the winning
// provider supplies one; otherwise it equals NAV.
type LatestValuation struct {
	Code      string          `json:"code"`
	NAV       decimal.Decimal `json:"nav"`
	Estimate  decimal.Decimal `json:"estimate"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Source    string          `json:"source"`
	AsOf      time.Time       `json:"as_of"`
}

// Failed reports whether this valuation is the degraded placeholder
// returned after every provider failed.
func (v *LatestValuation) Failed() bool {
	return v.Source == SourceFailed
}

// YesterdayReturn is the reconciled previous-session return of an
// instrument. DaysDiff is the distance in data points between the newest
// date in the series and the date the value was taken from; 1 for a direct
// (non-traced) result.
type YesterdayReturn struct {
	Code     string          `json:"code"`
	Value    decimal.Decimal `json:"value"`
	Date     time.Time       `json:"date"`
	DaysDiff int             `json:"days_diff"`
	IsStale  bool            `json:"is_stale"`
}

// FundMetadata is the provider-reported description of an instrument.
type FundMetadata struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Currency string `json:"currency"`
	Source   string `json:"source"`
}

// FailedLatest builds the degraded DTO handed to callers when every
// provider failed for code.
func FailedLatest(code string) *LatestValuation {
	return &LatestValuation{
		Code:   code,
		Source: SourceFailed,
		AsOf:   time.Now(),
	}
}

// DayBucket formats t as the calendar-day cache bucket used in tier keys.
func DayBucket(t time.Time) string {
	return t.Format("2006-01-02")
}
