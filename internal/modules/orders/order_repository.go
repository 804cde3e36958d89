// Package orders owns the order lifecycle: placement, synchronous market
// fills, resting-order management and the single-transaction fill unit.
package orders

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, account_id, symbol, segment, side, kind, requested_qty,
	limit_price, trigger_price, status, filled_qty, avg_fill_price,
	position_id, strategy_tag, reject_reason,
	brokerage, transaction_tax, exchange_fee, gst, sebi_charges, stamp_duty, total_costs,
	created_at, filled_at`

// OrderRepository handles order database operations. Status transitions are
// guarded with `WHERE status = 'PENDING'` so a terminal order can never be
// moved twice, even by racing callers.
type OrderRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		db:  db,
		log: log.With().Str("repo", "order").Logger(),
	}
}

// Insert persists a new order row
func (r *OrderRepository) Insert(q database.Queryer, o *domain.Order) error {
	query := `
		INSERT INTO orders
		(id, account_id, symbol, segment, side, kind, requested_qty,
		 limit_price, trigger_price, status, filled_qty, avg_fill_price,
		 position_id, strategy_tag, reject_reason,
		 brokerage, transaction_tax, exchange_fee, gst, sebi_charges, stamp_duty, total_costs,
		 created_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.Exec(query,
		o.ID,
		o.AccountID,
		o.Symbol,
		string(o.Segment),
		string(o.Side),
		string(o.Kind),
		o.RequestedQty,
		nullDecimal(o.LimitPrice),
		nullDecimal(o.TriggerPrice),
		string(o.Status),
		o.FilledQty,
		nullString(o.AvgFillPrice.String(), o.FilledQty > 0),
		nullString(o.PositionID, o.PositionID != ""),
		nullString(o.StrategyTag, o.StrategyTag != ""),
		nullString(o.RejectReason, o.RejectReason != ""),
		o.Costs.Brokerage.String(),
		o.Costs.TransactionTax.String(),
		o.Costs.ExchangeFee.String(),
		o.Costs.GST.String(),
		o.Costs.SEBICharges.String(),
		o.Costs.StampDuty.String(),
		o.Costs.Total.String(),
		o.CreatedAt.Unix(),
		nullUnix(o.FilledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	return nil
}

// GetByID retrieves an order by id. Returns domain.ErrNotFound for an
// unknown id.
func (r *OrderRepository) GetByID(q database.Queryer, id string) (*domain.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = ?"

	o, err := scanOrderFrom(q.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return o, nil
}

// ListByAccount returns an account's orders, newest first, capped at limit
// (0 means no cap).
func (r *OrderRepository) ListByAccount(accountID string, limit int) ([]domain.Order, error) {
	query := "SELECT " + orderColumns + ` FROM orders
		WHERE account_id = ? ORDER BY created_at DESC, id`
	args := []interface{}{accountID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.queryOrders(query, args...)
}

// ListPending returns all resting orders, oldest first. The pending sweep
// walks this list against fresh quotes.
func (r *OrderRepository) ListPending() ([]domain.Order, error) {
	query := "SELECT " + orderColumns + ` FROM orders
		WHERE status = 'PENDING' ORDER BY created_at, id`
	return r.queryOrders(query)
}

// MarkFilled finalizes an order after its fill committed state. Only a
// PENDING order can move to FILLED; zero rows affected means the order was
// cancelled or finalized concurrently.
func (r *OrderRepository) MarkFilled(q database.Queryer, o *domain.Order) error {
	query := `
		UPDATE orders
		SET status = 'FILLED', filled_qty = ?, avg_fill_price = ?, position_id = ?,
		    brokerage = ?, transaction_tax = ?, exchange_fee = ?, gst = ?,
		    sebi_charges = ?, stamp_duty = ?, total_costs = ?, filled_at = ?
		WHERE id = ? AND status = 'PENDING'
	`

	res, err := q.Exec(query,
		o.FilledQty,
		o.AvgFillPrice.String(),
		nullString(o.PositionID, o.PositionID != ""),
		o.Costs.Brokerage.String(),
		o.Costs.TransactionTax.String(),
		o.Costs.ExchangeFee.String(),
		o.Costs.GST.String(),
		o.Costs.SEBICharges.String(),
		o.Costs.StampDuty.String(),
		o.Costs.Total.String(),
		o.FilledAt.Unix(),
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark order filled: %w", err)
	}

	return requirePendingTransition(res, o.ID, "fill")
}

// MarkRejected moves a PENDING order to REJECTED with the given reason
func (r *OrderRepository) MarkRejected(q database.Queryer, id, reason string) error {
	res, err := q.Exec(
		"UPDATE orders SET status = 'REJECTED', reject_reason = ? WHERE id = ? AND status = 'PENDING'",
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark order rejected: %w", err)
	}

	return requirePendingTransition(res, id, "reject")
}

// MarkCancelled moves a PENDING order to CANCELLED
func (r *OrderRepository) MarkCancelled(q database.Queryer, id string) error {
	res, err := q.Exec(
		"UPDATE orders SET status = 'CANCELLED' WHERE id = ? AND status = 'PENDING'",
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark order cancelled: %w", err)
	}

	return requirePendingTransition(res, id, "cancel")
}

// UpdatePending rewrites the modifiable fields of a resting order
func (r *OrderRepository) UpdatePending(q database.Queryer, o *domain.Order) error {
	res, err := q.Exec(
		`UPDATE orders SET requested_qty = ?, limit_price = ?, trigger_price = ?
		 WHERE id = ? AND status = 'PENDING'`,
		o.RequestedQty,
		nullDecimal(o.LimitPrice),
		nullDecimal(o.TriggerPrice),
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pending order: %w", err)
	}

	return requirePendingTransition(res, o.ID, "modify")
}

func requirePendingTransition(res sql.Result, id, action string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cannot %s order %s, not PENDING: %w", action, id, domain.ErrInvalidOrderState)
	}
	return nil
}

func (r *OrderRepository) queryOrders(query string, args ...interface{}) ([]domain.Order, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var result []domain.Order
	for rows.Next() {
		o, err := scanOrderFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		result = append(result, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrderFrom(s rowScanner) (*domain.Order, error) {
	var o domain.Order
	var segment, side, kind, status string
	var limitPrice, triggerPrice, avgFillPrice sql.NullString
	var positionID, strategyTag, rejectReason sql.NullString
	var brokerage, transactionTax, exchangeFee, gst, sebiCharges, stampDuty, totalCosts sql.NullString
	var createdAt int64
	var filledAt sql.NullInt64

	err := s.Scan(
		&o.ID,
		&o.AccountID,
		&o.Symbol,
		&segment,
		&side,
		&kind,
		&o.RequestedQty,
		&limitPrice,
		&triggerPrice,
		&status,
		&o.FilledQty,
		&avgFillPrice,
		&positionID,
		&strategyTag,
		&rejectReason,
		&brokerage,
		&transactionTax,
		&exchangeFee,
		&gst,
		&sebiCharges,
		&stampDuty,
		&totalCosts,
		&createdAt,
		&filledAt,
	)
	if err != nil {
		return nil, err
	}

	o.Segment = domain.Segment(segment)
	o.Side = domain.Side(side)
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	o.PositionID = positionID.String
	o.StrategyTag = strategyTag.String
	o.RejectReason = rejectReason.String
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	if filledAt.Valid {
		t := time.Unix(filledAt.Int64, 0).UTC()
		o.FilledAt = &t
	}

	if o.LimitPrice, err = parseNullDecimal(limitPrice, "limit_price"); err != nil {
		return nil, err
	}
	if o.TriggerPrice, err = parseNullDecimal(triggerPrice, "trigger_price"); err != nil {
		return nil, err
	}

	if avgFillPrice.Valid {
		if o.AvgFillPrice, err = decimal.NewFromString(avgFillPrice.String); err != nil {
			return nil, fmt.Errorf("invalid avg_fill_price %q: %w", avgFillPrice.String, err)
		}
	}

	o.Costs = domain.ZeroCosts()
	for _, f := range []struct {
		dst *decimal.Decimal
		src sql.NullString
		col string
	}{
		{&o.Costs.Brokerage, brokerage, "brokerage"},
		{&o.Costs.TransactionTax, transactionTax, "transaction_tax"},
		{&o.Costs.ExchangeFee, exchangeFee, "exchange_fee"},
		{&o.Costs.GST, gst, "gst"},
		{&o.Costs.SEBICharges, sebiCharges, "sebi_charges"},
		{&o.Costs.StampDuty, stampDuty, "stamp_duty"},
		{&o.Costs.Total, totalCosts, "total_costs"},
	} {
		if !f.src.Valid {
			continue
		}
		if *f.dst, err = decimal.NewFromString(f.src.String); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", f.col, f.src.String, err)
		}
	}

	return &o, nil
}

func parseNullDecimal(s sql.NullString, col string) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", col, s.String, err)
	}
	return &d, nil
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullString(s string, ok bool) interface{} {
	if !ok {
		return nil
	}
	return s
}

func nullUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
