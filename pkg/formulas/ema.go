package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// EMA calculates the exponential moving average over a value series and
// returns the current value, or nil when the series is empty.
//
//	EMA_today = (Value_today * multiplier) + (EMA_yesterday * (1 - multiplier))
//	where multiplier = 2 / (period + 1)
//
// With fewer than period observations the simple mean stands in, so a young
// account still gets an indicator instead of a gap.
func EMA(values []float64, period int) *float64 {
	if len(values) == 0 {
		return nil
	}

	if len(values) < period {
		mean := Mean(values)
		return &mean
	}

	ema := talib.Ema(values, period)
	if len(ema) > 0 && !math.IsNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	mean := Mean(values[len(values)-period:])
	return &mean
}

// SMA calculates the simple moving average over the trailing period and
// returns the current value, or nil with insufficient data.
func SMA(values []float64, period int) *float64 {
	if len(values) < period {
		return nil
	}

	sma := talib.Sma(values, period)
	if len(sma) > 0 && !math.IsNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}
	return nil
}
