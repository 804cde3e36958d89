// Package trading owns the immutable trade audit trail. Trade rows are
// inserted once per reduction event and never updated or deleted; every
// derived figure (realized P&L, analytics, NAV history) replays them.
package trading

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

const tradeColumns = `id, account_id, position_id, order_id, symbol, segment, side,
	qty, entry_price, exit_price, gross_pnl, total_costs, net_pnl,
	entry_time, exit_time`

// TradeRepository handles trade database operations
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trade").Logger(),
	}
}

// Insert records a trade. Runs inside the fill transaction so the trade
// row commits atomically with the position and cash mutations it reflects.
func (r *TradeRepository) Insert(q database.Queryer, trade *domain.Trade) error {
	query := `
		INSERT INTO trades
		(id, account_id, position_id, order_id, symbol, segment, side,
		 qty, entry_price, exit_price, gross_pnl, total_costs, net_pnl,
		 entry_time, exit_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var orderID interface{}
	if trade.OrderID != "" {
		orderID = trade.OrderID
	}

	_, err := q.Exec(query,
		trade.ID,
		trade.AccountID,
		trade.PositionID,
		orderID,
		trade.Symbol,
		string(trade.Segment),
		string(trade.Side),
		trade.Qty,
		trade.EntryPrice.String(),
		trade.ExitPrice.String(),
		trade.GrossPnl.String(),
		trade.TotalCosts.String(),
		trade.NetPnl.String(),
		trade.EntryTime.Unix(),
		trade.ExitTime.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	r.log.Debug().
		Str("trade_id", trade.ID).
		Str("symbol", trade.Symbol).
		Str("net_pnl", trade.NetPnl.String()).
		Msg("Trade recorded")

	return nil
}

// GetByID retrieves a trade by id
func (r *TradeRepository) GetByID(id string) (*domain.Trade, error) {
	query := "SELECT " + tradeColumns + " FROM trades WHERE id = ?"

	trade, err := scanTrade(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}

	return trade, nil
}

// ListByAccount returns an account's trades, most recent exit first,
// capped at limit (0 means no cap).
func (r *TradeRepository) ListByAccount(accountID string, limit int) ([]domain.Trade, error) {
	query := "SELECT " + tradeColumns + ` FROM trades
		WHERE account_id = ? ORDER BY exit_time DESC, id`
	args := []interface{}{accountID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.queryTrades(query, args...)
}

// ListByPosition returns the trades that reduced a position, oldest first
func (r *TradeRepository) ListByPosition(positionID string) ([]domain.Trade, error) {
	query := "SELECT " + tradeColumns + ` FROM trades
		WHERE position_id = ? ORDER BY exit_time, id`
	return r.queryTrades(query, positionID)
}

// RealizedPnl sums net P&L over an account's full trade history. Summation
// happens in Go because the column stores exact decimal strings; SUM() in
// sqlite would coerce them through floats.
func (r *TradeRepository) RealizedPnl(accountID string) (decimal.Decimal, error) {
	trades, err := r.ListByAccount(accountID, 0)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, tr := range trades {
		total = total.Add(tr.NetPnl)
	}
	return total, nil
}

func (r *TradeRepository) queryTrades(query string, args ...interface{}) ([]domain.Trade, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var result []domain.Trade
	for rows.Next() {
		trade, err := scanTradeRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		result = append(result, *trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row *sql.Row) (*domain.Trade, error)       { return scanTradeFrom(row) }
func scanTradeRows(rows *sql.Rows) (*domain.Trade, error) { return scanTradeFrom(rows) }

func scanTradeFrom(s rowScanner) (*domain.Trade, error) {
	var trade domain.Trade
	var segment, side string
	var orderID sql.NullString
	var entryPrice, exitPrice, grossPnl, totalCosts, netPnl string
	var entryTime, exitTime int64

	err := s.Scan(
		&trade.ID,
		&trade.AccountID,
		&trade.PositionID,
		&orderID,
		&trade.Symbol,
		&segment,
		&side,
		&trade.Qty,
		&entryPrice,
		&exitPrice,
		&grossPnl,
		&totalCosts,
		&netPnl,
		&entryTime,
		&exitTime,
	)
	if err != nil {
		return nil, err
	}

	trade.OrderID = orderID.String
	trade.Segment = domain.Segment(segment)
	trade.Side = domain.PositionSide(side)
	trade.EntryTime = time.Unix(entryTime, 0).UTC()
	trade.ExitTime = time.Unix(exitTime, 0).UTC()

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
		col string
	}{
		{&trade.EntryPrice, entryPrice, "entry_price"},
		{&trade.ExitPrice, exitPrice, "exit_price"},
		{&trade.GrossPnl, grossPnl, "gross_pnl"},
		{&trade.TotalCosts, totalCosts, "total_costs"},
		{&trade.NetPnl, netPnl, "net_pnl"},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", f.col, f.src, err)
		}
	}

	return &trade, nil
}
