package accounts

import (
	"fmt"

	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MarginRate returns the fraction of short notional held as margin per
// segment.
func MarginRate(segment domain.Segment) decimal.Decimal {
	switch segment {
	case domain.SegmentEquityNSE, domain.SegmentEquityBSE:
		return decimal.NewFromFloat(0.25)
	case domain.SegmentCommodityMCX:
		return decimal.NewFromFloat(0.10)
	case domain.SegmentCurrencyCDS:
		return decimal.NewFromFloat(0.05)
	}
	return decimal.NewFromFloat(0.25)
}

// AuthRequest describes the opening leg of a prospective fill. OpenQty is
// the quantity that would open NEW exposure after covering any opposite
// position; a pure cover authorizes with OpenQty zero.
type AuthRequest struct {
	Side    domain.Side
	Segment domain.Segment
	Price   decimal.Decimal
	OpenQty int64
	Costs   domain.CostBreakdown
}

// Accountant is the single owner of available_cash mutations. Authorization
// runs strictly before any ledger mutation; settlement runs inside the fill
// transaction and uses compare-and-swap so writers that slipped past the
// per-account lock are detected instead of silently lost.
type Accountant struct {
	repo *AccountRepository
	log  zerolog.Logger
}

// NewAccountant creates a cash/margin accountant
func NewAccountant(repo *AccountRepository, log zerolog.Logger) *Accountant {
	return &Accountant{
		repo: repo,
		log:  log.With().Str("component", "accountant").Logger(),
	}
}

// ShortMarginBlock returns the cash to hold against opening qty units of
// short exposure at the given price.
func (a *Accountant) ShortMarginBlock(segment domain.Segment, price decimal.Decimal, qty int64) decimal.Decimal {
	if qty <= 0 {
		return decimal.Zero
	}
	return MarginRate(segment).Mul(price).Mul(decimal.NewFromInt(qty)).Round(2)
}

// Authorize checks that the account can fund the opening leg of a fill.
// BUY legs need the full notional plus costs in cash; SELL legs opening
// short exposure need the margin block plus costs. Covers (OpenQty == 0)
// always authorize: they only release margin and realize P&L.
func (a *Accountant) Authorize(acct *domain.Account, req AuthRequest) error {
	if acct.Status != domain.AccountActive {
		return fmt.Errorf("account %s is %s: %w", acct.ID, acct.Status, domain.ErrInvalidOrderState)
	}
	if req.OpenQty <= 0 {
		return nil
	}

	qty := decimal.NewFromInt(req.OpenQty)

	if req.Side == domain.SideBuy {
		required := req.Price.Mul(qty).Add(req.Costs.Total)
		if acct.AvailableCash.LessThan(required) {
			return fmt.Errorf("need %s, have %s: %w",
				required.Round(2), acct.AvailableCash, domain.ErrInsufficientCapital)
		}
		return nil
	}

	required := a.ShortMarginBlock(req.Segment, req.Price, req.OpenQty).Add(req.Costs.Total)
	if acct.AvailableCash.LessThan(required) {
		return fmt.Errorf("need %s margin, have %s: %w",
			required.Round(2), acct.AvailableCash, domain.ErrInsufficientMargin)
	}
	return nil
}

// Settle applies the cash effect of a fill to the account, inside the
// caller's transaction. Leg semantics:
//
//	BUY  opening LONG:   debit price*qty + open-leg costs
//	SELL reducing LONG:  credit proceeds - close-leg costs
//	SELL opening SHORT:  debit margin block + open-leg costs
//	BUY  covering SHORT: credit released margin + trade net P&L
//
// A flip settles its close leg and open leg together. The account struct is
// updated in place so the caller sees the post-fill balances.
func (a *Accountant) Settle(q database.Queryer, acct *domain.Account, f domain.Fill, res *domain.FillResult) error {
	delta := decimal.Zero
	marginDelta := decimal.Zero

	if res.ClosedQty > 0 {
		closedQty := decimal.NewFromInt(res.ClosedQty)
		if f.Side == domain.SideSell {
			// Reducing LONG: sale proceeds net of this leg's costs.
			delta = delta.Add(f.Price.Mul(closedQty)).Sub(res.CloseCosts)
		} else {
			// Covering SHORT: the blocked margin comes back plus the
			// realized result (net P&L already carries the close costs).
			delta = delta.Add(res.ReleasedMargin)
			if res.Trade != nil {
				delta = delta.Add(res.Trade.NetPnl)
			}
			marginDelta = marginDelta.Sub(res.ReleasedMargin)
		}
	}

	if res.OpenedQty > 0 {
		openedQty := decimal.NewFromInt(res.OpenedQty)
		if f.Side == domain.SideBuy {
			delta = delta.Sub(f.Price.Mul(openedQty)).Sub(res.OpenCosts)
		} else {
			delta = delta.Sub(f.ShortMarginBlock).Sub(res.OpenCosts)
			marginDelta = marginDelta.Add(f.ShortMarginBlock)
		}
	}

	newCash := acct.AvailableCash.Add(delta)
	newMargin := acct.MarginBlocked.Add(marginDelta)

	if err := a.repo.UpdateBalancesCAS(q, acct.ID, acct.AvailableCash, newCash, newMargin); err != nil {
		return err
	}

	a.log.Debug().
		Str("account_id", acct.ID).
		Str("cash_delta", delta.String()).
		Str("available_cash", newCash.String()).
		Str("margin_blocked", newMargin.String()).
		Msg("Fill settled")

	acct.AvailableCash = newCash
	acct.MarginBlocked = newMargin
	return nil
}
