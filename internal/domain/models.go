// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Segment represents one of the four simulated market segments.
type Segment string

const (
	SegmentEquityNSE    Segment = "EQUITY_NSE"
	SegmentEquityBSE    Segment = "EQUITY_BSE"
	SegmentCommodityMCX Segment = "COMMODITY_MCX"
	SegmentCurrencyCDS  Segment = "CURRENCY_CDS"
)

// SegmentFromString parses a segment string, rejecting unknown values
func SegmentFromString(s string) (Segment, error) {
	switch Segment(s) {
	case SegmentEquityNSE, SegmentEquityBSE, SegmentCommodityMCX, SegmentCurrencyCDS:
		return Segment(s), nil
	}
	return "", fmt.Errorf("invalid segment: %q", s)
}

// IsEquity reports whether the segment is one of the two equity exchanges
func (s Segment) IsEquity() bool {
	return s == SegmentEquityNSE || s == SegmentEquityBSE
}

// Side represents the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideFromString parses an order side string
func SideFromString(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	}
	return "", fmt.Errorf("invalid side: %q", s)
}

// Opposite returns the opposing order side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind represents the order type.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
	// OrderKindSL is a stop-loss order: triggers at trigger price, fills at limit price.
	OrderKindSL OrderKind = "SL"
	// OrderKindSLM is a stop-loss market order: triggers at trigger price, fills at LTP.
	OrderKindSLM OrderKind = "SLM"
)

// OrderKindFromString parses an order kind string
func OrderKindFromString(s string) (OrderKind, error) {
	switch OrderKind(s) {
	case OrderKindMarket, OrderKindLimit, OrderKindSL, OrderKindSLM:
		return OrderKind(s), nil
	}
	return "", fmt.Errorf("invalid order kind: %q", s)
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRejected is the terminal state for orders that failed
	// pre-trade authorization. The order row is persisted for audit but no
	// cash or position mutation ever occurred.
	OrderStatusRejected OrderStatus = "REJECTED"
)

// IsTerminal reports whether the order can no longer change
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	case OrderStatusPending:
		return false
	}
	return false
}

// PositionSide represents the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Opposite returns the opposing position side
func (s PositionSide) Opposite() PositionSide {
	if s == PositionLong {
		return PositionShort
	}
	return PositionLong
}

// PositionSideForOrder returns the position side that the given order side
// opens: a BUY opens LONG exposure, a SELL opens SHORT exposure.
func PositionSideForOrder(side Side) PositionSide {
	if side == SideBuy {
		return PositionLong
	}
	return PositionShort
}

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// AccountStatus represents the lifecycle state of an account.
// Accounts are never deleted, only closed logically.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountClosed AccountStatus = "CLOSED"
)

// Account represents a virtual trading account. AvailableCash is the system
// of record for the running balance, not a derived value: it is mutated by
// every fill and only through the cash/margin accountant.
type Account struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	AvailableCash  decimal.Decimal `json:"available_cash"`
	MarginBlocked  decimal.Decimal `json:"margin_blocked"`
	Currency       string          `json:"currency"` // always "INR"
	Status         AccountStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CostBreakdown itemizes the transaction costs of a fill. Each component is
// rounded to 2 decimal places at the point of output and Total is the sum of
// the rounded components, so downstream cash arithmetic stays cent-exact.
type CostBreakdown struct {
	Brokerage      decimal.Decimal `json:"brokerage"`
	TransactionTax decimal.Decimal `json:"transaction_tax"` // STT (equity) / CTT (commodity), sell side only
	ExchangeFee    decimal.Decimal `json:"exchange_fee"`
	GST            decimal.Decimal `json:"gst"` // 18% on brokerage + exchange fee
	SEBICharges    decimal.Decimal `json:"sebi_charges"`
	StampDuty      decimal.Decimal `json:"stamp_duty"` // buy side only
	Total          decimal.Decimal `json:"total"`
}

// ZeroCosts returns an all-zero cost breakdown
func ZeroCosts() CostBreakdown {
	zero := decimal.Zero
	return CostBreakdown{
		Brokerage:      zero,
		TransactionTax: zero,
		ExchangeFee:    zero,
		GST:            zero,
		SEBICharges:    zero,
		StampDuty:      zero,
		Total:          zero,
	}
}

// Order represents an order request and its lifecycle state.
type Order struct {
	ID           string           `json:"id"`
	AccountID    string           `json:"account_id"`
	Symbol       string           `json:"symbol"`
	Segment      Segment          `json:"segment"`
	Side         Side             `json:"side"`
	Kind         OrderKind        `json:"kind"`
	RequestedQty int64            `json:"requested_qty"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	TriggerPrice *decimal.Decimal `json:"trigger_price,omitempty"`
	Status       OrderStatus      `json:"status"`
	FilledQty    int64            `json:"filled_qty"`
	AvgFillPrice decimal.Decimal  `json:"avg_fill_price"`
	Costs        CostBreakdown    `json:"costs"`
	PositionID   string           `json:"position_id,omitempty"`
	StrategyTag  string           `json:"strategy_tag,omitempty"`
	RejectReason string           `json:"reject_reason,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	FilledAt     *time.Time       `json:"filled_at,omitempty"`
}

// Validate checks structural invariants of an order request
func (o *Order) Validate() error {
	if o.AccountID == "" {
		return fmt.Errorf("order account_id is required")
	}
	if o.Symbol == "" {
		return fmt.Errorf("order symbol is required")
	}
	if o.RequestedQty <= 0 {
		return fmt.Errorf("order quantity must be positive, got %d", o.RequestedQty)
	}
	if _, err := SegmentFromString(string(o.Segment)); err != nil {
		return err
	}
	if _, err := SideFromString(string(o.Side)); err != nil {
		return err
	}
	if _, err := OrderKindFromString(string(o.Kind)); err != nil {
		return err
	}
	if o.Kind == OrderKindLimit || o.Kind == OrderKindSL {
		if o.LimitPrice == nil || !o.LimitPrice.IsPositive() {
			return fmt.Errorf("%s order requires a positive limit price", o.Kind)
		}
	}
	if o.Kind == OrderKindSL || o.Kind == OrderKindSLM {
		if o.TriggerPrice == nil || !o.TriggerPrice.IsPositive() {
			return fmt.Errorf("%s order requires a positive trigger price", o.Kind)
		}
	}
	return nil
}

// Position represents net exposure per (account, instrument, side).
// Invariant: at most one OPEN position per (account, symbol, side), and Qty
// is strictly positive while OPEN. A position whose quantity reaches zero is
// CLOSED within the same fill-handling transaction.
type Position struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	Symbol        string          `json:"symbol"`
	Segment       Segment         `json:"segment"`
	Side          PositionSide    `json:"side"`
	Qty           int64           `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	// MarginBlocked is the cash held against this position's short exposure.
	// It is released at the original blocking amount, pro-rated by covered
	// quantity, independent of the cover price. Zero for LONG positions.
	MarginBlocked decimal.Decimal `json:"margin_blocked"`
	Status        PositionStatus  `json:"status"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

// Trade is the immutable realized-fill record: exactly one row per reduction
// event. NAV history and analytics are derived by replaying trades, never by
// mutating them.
type Trade struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	PositionID string          `json:"position_id"`
	OrderID    string          `json:"order_id,omitempty"`
	Symbol     string          `json:"symbol"`
	Segment    Segment         `json:"segment"`
	Side       PositionSide    `json:"side"` // side of the position that was reduced
	Qty        int64           `json:"qty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	GrossPnl   decimal.Decimal `json:"gross_pnl"`
	TotalCosts decimal.Decimal `json:"total_costs"`
	NetPnl     decimal.Decimal `json:"net_pnl"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
}

// Quote is a reference price from the external quote source.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Segment   Segment         `json:"segment"`
	LTP       decimal.Decimal `json:"ltp"`
	Timestamp time.Time       `json:"timestamp"`
}

// Fill describes an executed quantity at a price, about to be applied to the
// position ledger and settled against the account. ShortMarginBlock is the
// margin to hold if the fill opens or adds short exposure; the accountant
// computes it before the ledger applies the fill.
type Fill struct {
	AccountID        string
	OrderID          string
	Symbol           string
	Segment          Segment
	Side             Side
	Qty              int64
	Price            decimal.Decimal
	Costs            CostBreakdown
	ShortMarginBlock decimal.Decimal
	ExecutedAt       time.Time
}

// FillResult reports what a fill did to the ledger. A plain open touches one
// position; a reduction touches one position and emits one trade; a flip
// touches two positions (closing one, opening the opposite) and emits one
// trade.
type FillResult struct {
	Opened     *Position       // position opened or added to (nil if pure reduction)
	Reduced    *Position       // position reduced or closed (nil if pure open)
	Trade      *Trade          // emitted on reduction, nil otherwise
	OpenedQty  int64           // quantity that opened new exposure
	ClosedQty  int64           // quantity that reduced existing exposure
	OpenCosts  decimal.Decimal // cost share allocated to the opening leg
	CloseCosts decimal.Decimal // cost share allocated to the closing leg
	// ReleasedMargin is the margin released when short exposure was covered,
	// pro-rated from the original block.
	ReleasedMargin decimal.Decimal
}
