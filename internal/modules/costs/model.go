// Package costs implements the transaction cost model for simulated fills.
//
// The model is a pure function of (quantity, price, side, segment): it never
// fails for positive inputs and performs no I/O. Rates follow the discount
// broker convention for the four supported segments. All intermediate sums
// are kept at full precision; each component is rounded to 2 decimal places
// only at the point of output, and Total is the sum of the rounded
// components so the cash accountant can rely on cent-exact arithmetic.
package costs

import (
	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/shopspring/decimal"
)

// brokerageCap is the flat per-order brokerage cap in rupees. Whichever of
// the percentage brokerage or this cap is smaller gets charged.
var brokerageCap = decimal.NewFromInt(20)

// gstRate is the consumption tax applied on brokerage + exchange fee.
var gstRate = decimal.NewFromFloat(0.18)

// sebiRate is the regulatory charge: 10 rupees per crore of turnover.
var sebiRate = decimal.NewFromFloat(0.000001)

var brokerageRate = decimal.NewFromFloat(0.0003) // 0.03% of turnover

// rateTable holds the per-segment percentage rates applied to turnover.
type rateTable struct {
	sellTax     decimal.Decimal // STT (equity) / CTT (commodity), sell side only
	exchangeFee decimal.Decimal
	stampDuty   decimal.Decimal // buy side only
}

func ratesFor(segment domain.Segment) rateTable {
	switch segment {
	case domain.SegmentEquityNSE, domain.SegmentEquityBSE:
		return rateTable{
			sellTax:     decimal.NewFromFloat(0.001),     // 0.10%
			exchangeFee: decimal.NewFromFloat(0.0000345), // 0.00345%
			stampDuty:   decimal.NewFromFloat(0.00015),   // 0.015%
		}
	case domain.SegmentCommodityMCX:
		return rateTable{
			sellTax:     decimal.NewFromFloat(0.0001),   // 0.01%
			exchangeFee: decimal.NewFromFloat(0.000026), // 0.0026%
			stampDuty:   decimal.NewFromFloat(0.00002),  // 0.002%
		}
	case domain.SegmentCurrencyCDS:
		return rateTable{
			sellTax:     decimal.Zero,
			exchangeFee: decimal.NewFromFloat(0.000035), // 0.0035%
			stampDuty:   decimal.NewFromFloat(0.00001),  // 0.001%
		}
	}
	// Unknown segments are rejected upstream by domain.SegmentFromString;
	// treat as zero-rate rather than panic to keep the function total.
	return rateTable{sellTax: decimal.Zero, exchangeFee: decimal.Zero, stampDuty: decimal.Zero}
}

// Compute returns the itemized transaction costs for a fill of qty units at
// the given price. qty and price must be positive; the function is total for
// such inputs.
func Compute(qty int64, price decimal.Decimal, side domain.Side, segment domain.Segment) domain.CostBreakdown {
	turnover := price.Mul(decimal.NewFromInt(qty))
	rates := ratesFor(segment)

	brokerage := decimal.Min(turnover.Mul(brokerageRate), brokerageCap)
	exchangeFee := turnover.Mul(rates.exchangeFee)

	tax := decimal.Zero
	if side == domain.SideSell {
		tax = turnover.Mul(rates.sellTax)
	}

	stampDuty := decimal.Zero
	if side == domain.SideBuy {
		stampDuty = turnover.Mul(rates.stampDuty)
	}

	gst := brokerage.Add(exchangeFee).Mul(gstRate)
	sebi := turnover.Mul(sebiRate)

	b := domain.CostBreakdown{
		Brokerage:      brokerage.Round(2),
		TransactionTax: tax.Round(2),
		ExchangeFee:    exchangeFee.Round(2),
		GST:            gst.Round(2),
		SEBICharges:    sebi.Round(2),
		StampDuty:      stampDuty.Round(2),
	}
	b.Total = b.Brokerage.
		Add(b.TransactionTax).
		Add(b.ExchangeFee).
		Add(b.GST).
		Add(b.SEBICharges).
		Add(b.StampDuty)
	return b
}
