package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanAndStdDev(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)

	assert.Equal(t, 0.0, StdDev([]float64{5}))
	// Sample stddev of {2, 4, 4, 4, 5, 5, 7, 9} is ~2.138.
	assert.InDelta(t, 2.138, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 0.001)
}

func TestReturns(t *testing.T) {
	assert.Empty(t, Returns([]float64{100}))

	r := Returns([]float64{100, 110, 99})
	require.Len(t, r, 2)
	assert.InDelta(t, 0.10, r[0], 1e-12)
	assert.InDelta(t, -0.10, r[1], 1e-12)
}

func TestEMAFallsBackToMean(t *testing.T) {
	assert.Nil(t, EMA(nil, 10))

	// Fewer observations than the period: simple mean stands in.
	short := EMA([]float64{100, 102, 104}, 10)
	require.NotNil(t, short)
	assert.InDelta(t, 102.0, *short, 1e-12)
}

func TestEMATracksTrend(t *testing.T) {
	values := make([]float64, 50)
	for i := range values {
		values[i] = 100 + float64(i)
	}

	ema := EMA(values, 10)
	require.NotNil(t, ema)
	// A rising series keeps the EMA below the last value but above the mean.
	assert.Greater(t, *ema, Mean(values))
	assert.Less(t, *ema, values[len(values)-1])
}

func TestSMA(t *testing.T) {
	assert.Nil(t, SMA([]float64{1, 2}, 5))

	sma := SMA([]float64{1, 2, 3, 4, 5, 6}, 3)
	require.NotNil(t, sma)
	assert.InDelta(t, 5.0, *sma, 1e-12)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Nil(t, MaxDrawdown([]float64{100}))

	dd := MaxDrawdown([]float64{100, 120, 90, 110})
	require.NotNil(t, dd)
	// Peak 120, trough 90: 25% drawdown.
	assert.InDelta(t, 0.25, *dd, 1e-12)

	flat := MaxDrawdown([]float64{100, 100, 100})
	require.NotNil(t, flat)
	assert.Zero(t, *flat)
}

func TestCurrentDrawdown(t *testing.T) {
	assert.Zero(t, CurrentDrawdown(nil))
	assert.InDelta(t, 0.10, CurrentDrawdown([]float64{100, 120, 108}), 1e-12)
	assert.Zero(t, CurrentDrawdown([]float64{100, 120}))
}
