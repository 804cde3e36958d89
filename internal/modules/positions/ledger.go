package positions

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Ledger applies fills to the position state machine. A fill first covers
// any open position on the opposite side, then opens or adds to the
// same-side position with whatever quantity remains. Every reduction emits
// exactly one Trade; a flip therefore touches two positions but still emits
// one Trade, all inside the caller's transaction.
type Ledger struct {
	repo *PositionRepository
	log  zerolog.Logger
}

// NewLedger creates a position ledger
func NewLedger(repo *PositionRepository, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo: repo,
		log:  log.With().Str("component", "position_ledger").Logger(),
	}
}

// ApplyFill mutates positions for the given fill and returns what happened.
// The caller settles cash from the result and inserts the Trade; this
// method only touches position rows. All reads and writes go through q so
// the whole fill is one atomic unit.
func (l *Ledger) ApplyFill(q database.Queryer, f domain.Fill) (*domain.FillResult, error) {
	if f.Qty <= 0 {
		return nil, fmt.Errorf("fill quantity must be positive, got %d", f.Qty)
	}

	res := &domain.FillResult{
		OpenCosts:      decimal.Zero,
		CloseCosts:     decimal.Zero,
		ReleasedMargin: decimal.Zero,
	}

	// A BUY covers SHORT exposure first; a SELL reduces LONG exposure first.
	opposite, err := l.repo.GetOpen(q, f.AccountID, f.Symbol, domain.PositionSideForOrder(f.Side).Opposite())
	if err != nil {
		return nil, err
	}

	remaining := f.Qty

	if opposite != nil {
		closed := remaining
		if closed > opposite.Qty {
			closed = opposite.Qty
		}
		remaining -= closed
		res.ClosedQty = closed
		res.CloseCosts = allocateCloseCosts(f.Costs.Total, closed, f.Qty)

		trade, released, err := l.reduce(q, opposite, closed, f, res.CloseCosts)
		if err != nil {
			return nil, err
		}
		res.Reduced = opposite
		res.Trade = trade
		res.ReleasedMargin = released
	}

	if remaining > 0 {
		res.OpenedQty = remaining
		res.OpenCosts = f.Costs.Total.Sub(res.CloseCosts)

		opened, err := l.open(q, remaining, f)
		if err != nil {
			return nil, err
		}
		res.Opened = opened
	}

	return res, nil
}

// allocateCloseCosts splits the fill's total costs between the closing and
// opening legs by quantity. The close share is rounded and the open share
// is the exact remainder, so the two legs always sum to the total.
func allocateCloseCosts(total decimal.Decimal, closedQty, fillQty int64) decimal.Decimal {
	if closedQty == fillQty {
		return total
	}
	return total.Mul(decimal.NewFromInt(closedQty)).
		Div(decimal.NewFromInt(fillQty)).Round(2)
}

// reduce covers closedQty units of pos at the fill price, realizes P&L and
// emits the Trade record. Margin held against short exposure is released at
// the original blocking amount pro-rated by covered quantity; a full cover
// releases the exact remainder so no dust is left behind.
func (l *Ledger) reduce(q database.Queryer, pos *domain.Position, closedQty int64, f domain.Fill, closeCosts decimal.Decimal) (*domain.Trade, decimal.Decimal, error) {
	qtyDec := decimal.NewFromInt(closedQty)

	var gross decimal.Decimal
	if pos.Side == domain.PositionLong {
		gross = f.Price.Sub(pos.AvgEntryPrice).Mul(qtyDec)
	} else {
		gross = pos.AvgEntryPrice.Sub(f.Price).Mul(qtyDec)
	}
	gross = gross.Round(2)
	net := gross.Sub(closeCosts)

	released := decimal.Zero
	fullCover := closedQty == pos.Qty
	if pos.Side == domain.PositionShort {
		if fullCover {
			released = pos.MarginBlocked
		} else {
			released = pos.MarginBlocked.Mul(qtyDec).
				Div(decimal.NewFromInt(pos.Qty)).Round(2)
		}
	}

	trade := &domain.Trade{
		ID:         uuid.New().String(),
		AccountID:  pos.AccountID,
		PositionID: pos.ID,
		OrderID:    f.OrderID,
		Symbol:     pos.Symbol,
		Segment:    pos.Segment,
		Side:       pos.Side,
		Qty:        closedQty,
		EntryPrice: pos.AvgEntryPrice,
		ExitPrice:  f.Price,
		GrossPnl:   gross,
		TotalCosts: closeCosts,
		NetPnl:     net,
		EntryTime:  pos.OpenedAt,
		ExitTime:   f.ExecutedAt,
	}

	pos.Qty -= closedQty
	pos.MarginBlocked = pos.MarginBlocked.Sub(released)
	pos.RealizedPnl = pos.RealizedPnl.Add(net)
	if pos.Qty == 0 {
		pos.Status = domain.PositionClosed
		closedAt := f.ExecutedAt
		pos.ClosedAt = &closedAt
	}

	if err := l.repo.Update(q, pos); err != nil {
		return nil, decimal.Zero, err
	}

	l.log.Debug().
		Str("position_id", pos.ID).
		Int64("closed_qty", closedQty).
		Str("net_pnl", net.String()).
		Bool("fully_closed", pos.Qty == 0).
		Msg("Position reduced")

	return trade, released, nil
}

// open adds qty units at the fill price, either averaging into the existing
// same-side position or opening a new one. The weighted average uses the
// pre-update quantity of the existing position.
func (l *Ledger) open(q database.Queryer, qty int64, f domain.Fill) (*domain.Position, error) {
	side := domain.PositionSideForOrder(f.Side)

	existing, err := l.repo.GetOpen(q, f.AccountID, f.Symbol, side)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		oldQty := decimal.NewFromInt(existing.Qty)
		addQty := decimal.NewFromInt(qty)
		newQty := oldQty.Add(addQty)

		existing.AvgEntryPrice = existing.AvgEntryPrice.Mul(oldQty).
			Add(f.Price.Mul(addQty)).Div(newQty).Round(4)
		existing.Qty += qty
		existing.MarginBlocked = existing.MarginBlocked.Add(f.ShortMarginBlock)

		if err := l.repo.Update(q, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	pos := &domain.Position{
		ID:            uuid.New().String(),
		AccountID:     f.AccountID,
		Symbol:        f.Symbol,
		Segment:       f.Segment,
		Side:          side,
		Qty:           qty,
		AvgEntryPrice: f.Price,
		MarginBlocked: f.ShortMarginBlock,
		Status:        domain.PositionOpen,
		RealizedPnl:   decimal.Zero,
		OpenedAt:      f.ExecutedAt,
	}
	if side == domain.PositionLong {
		pos.MarginBlocked = decimal.Zero
	}

	if err := l.repo.Insert(q, pos); err != nil {
		return nil, err
	}
	return pos, nil
}
