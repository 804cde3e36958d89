// Package execution simulates market-microstructure effects for fills.
//
// A simulated market has no order book, so spread, impact and partial fills
// are modeled here to keep P&L realistic. The simulator is pure arithmetic:
// the only nondeterminism comes through the injected Rand, which tests pin
// to fixed values. Its diagnostics (slippage bps, fill ratio, latency) are
// observability-only; downstream accounting consumes nothing but the fill
// price and quantity it produces.
package execution

import (
	"math"

	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/shopspring/decimal"
)

// Rand is the injectable randomness source. Production wiring supplies
// math/rand; tests supply a fixed sequence.
type Rand interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64
}

const (
	// maxSlippageFraction caps size-dependent slippage at 0.3%.
	maxSlippageFraction = 0.003
	// slippageNotionalScale: slippage fraction grows linearly as
	// notional / 5,000,000 until the cap.
	slippageNotionalScale = 5_000_000.0
	// jitterBound bounds the random slippage jitter at +/- 0.05%.
	jitterBound = 0.0005

	minLatencyMs    = 15
	latencySpreadMs = 50
)

// spreadBps returns the full quoted spread in basis points per segment.
func spreadBps(segment domain.Segment) float64 {
	switch segment {
	case domain.SegmentEquityNSE, domain.SegmentEquityBSE:
		return 3
	case domain.SegmentCurrencyCDS:
		return 5
	case domain.SegmentCommodityMCX:
		return 8
	}
	return 3
}

// liquidityFloor returns the minimum fill ratio per segment.
func liquidityFloor(segment domain.Segment) float64 {
	switch segment {
	case domain.SegmentEquityNSE, domain.SegmentEquityBSE:
		return 0.95
	case domain.SegmentCommodityMCX:
		return 0.85
	case domain.SegmentCurrencyCDS:
		return 0.80
	}
	return 0.95
}

// Result describes a simulated execution.
type Result struct {
	FillPrice   decimal.Decimal `json:"fill_price"`
	FilledQty   int64           `json:"filled_qty"`
	SlippageBps float64         `json:"slippage_bps"`
	SpreadCost  decimal.Decimal `json:"spread_cost"`
	ImpactCost  decimal.Decimal `json:"impact_cost"`
	FillRatio   float64         `json:"fill_ratio"`
	LatencyMs   int             `json:"latency_ms"`
}

// Simulator turns a quoted price into a realistic fill.
type Simulator struct {
	rand Rand
}

// NewSimulator creates an execution simulator with the given random source.
func NewSimulator(rand Rand) *Simulator {
	return &Simulator{rand: rand}
}

// Simulate computes the fill for an order against the quoted price.
//
// Non-market kinds pass through unchanged: resting orders fill later at
// their own limit price via the pending-order sweep, with no slippage.
// Market orders pay the half-spread, size-dependent slippage with a small
// random jitter (always pushed in the direction unfavorable to the trader),
// and a segment-dependent partial-fill ratio. The fill price is rounded to
// the paise tick before it enters accounting.
func (s *Simulator) Simulate(quoted decimal.Decimal, qty int64, side domain.Side, segment domain.Segment, kind domain.OrderKind) Result {
	if kind != domain.OrderKindMarket {
		return Result{
			FillPrice: quoted,
			FilledQty: qty,
			FillRatio: 1.0,
		}
	}

	price, _ := quoted.Float64()

	// 1. Half-spread: buys pay the ask, sells receive the bid.
	halfSpread := price * spreadBps(segment) / 2 / 10_000

	// 2. Size-dependent slippage plus bounded jitter, clamped at zero so
	// randomness never moves the fill in the trader's favor past the quote.
	notional := price * float64(qty)
	base := math.Min(notional/slippageNotionalScale, maxSlippageFraction)
	jitter := (2*s.rand.Float64() - 1) * jitterBound
	slip := base + jitter
	if slip < 0 {
		slip = 0
	}

	var fill float64
	if side == domain.SideBuy {
		fill = (price + halfSpread) * (1 + slip)
	} else {
		fill = (price - halfSpread) * (1 - slip)
	}

	// 3. Partial fill: liquidity floor plus uniform randomness up to 100%.
	floor := liquidityFloor(segment)
	ratio := floor + s.rand.Float64()*(1-floor)
	filledQty := int64(math.Round(float64(qty) * ratio))
	if filledQty < 1 {
		filledQty = 1
	}

	fillPrice := decimal.NewFromFloat(fill).Round(2)
	qtyDec := decimal.NewFromInt(filledQty)

	return Result{
		FillPrice:   fillPrice,
		FilledQty:   filledQty,
		SlippageBps: slip * 10_000,
		SpreadCost:  decimal.NewFromFloat(halfSpread).Round(4).Mul(qtyDec).Round(2),
		ImpactCost:  fillPrice.Sub(quoted).Abs().Mul(qtyDec).Round(2),
		FillRatio:   float64(filledQty) / float64(qty),
		LatencyMs:   minLatencyMs + int(s.rand.Float64()*float64(latencySpreadMs)),
	}
}
