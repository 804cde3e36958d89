package formulas

// MaxDrawdown calculates the maximum peak-to-trough loss of a value
// series, as a positive fraction (0.25 = 25% below the peak). Returns nil
// with fewer than two observations.
func MaxDrawdown(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]

	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			drawdown := (peak - v) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return &maxDrawdown
}

// CurrentDrawdown calculates how far the latest value sits below the
// series peak, as a positive fraction. Returns 0 when at the peak.
func CurrentDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0
	}

	return (peak - values[len(values)-1]) / peak
}
