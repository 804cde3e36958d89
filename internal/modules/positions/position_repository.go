// Package positions owns net exposure per (account, instrument, side): the
// position state machine and its persistence.
package positions

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

// positionColumns is the column list for the positions table. Order must
// match scanPosition.
const positionColumns = `id, account_id, symbol, segment, side, qty, avg_entry_price,
	margin_blocked, status, realized_pnl, opened_at, closed_at`

// PositionRepository handles position database operations. Fill-path
// methods take a database.Queryer so they run inside the caller's
// transaction; read-only queries outside the fill path use the connection
// directly.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

// GetByID retrieves a position by id. Returns domain.ErrNotFound for an
// unknown id.
func (r *PositionRepository) GetByID(q database.Queryer, id string) (*domain.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE id = ?"

	pos, err := scanPosition(q.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position by id: %w", err)
	}

	return pos, nil
}

// GetOpen returns the OPEN position for (account, symbol, side), or nil if
// there is none. The partial unique index guarantees at most one row.
func (r *PositionRepository) GetOpen(q database.Queryer, accountID, symbol string, side domain.PositionSide) (*domain.Position, error) {
	query := "SELECT " + positionColumns + ` FROM positions
		WHERE account_id = ? AND symbol = ? AND side = ? AND status = 'OPEN'`

	pos, err := scanPosition(q.QueryRow(query, accountID, symbol, string(side)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open position: %w", err)
	}

	return pos, nil
}

// ListOpen returns all OPEN positions for an account
func (r *PositionRepository) ListOpen(accountID string) ([]domain.Position, error) {
	query := "SELECT " + positionColumns + ` FROM positions
		WHERE account_id = ? AND status = 'OPEN' ORDER BY opened_at`

	rows, err := r.db.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var result []domain.Position
	for rows.Next() {
		pos, err := scanPositionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		result = append(result, *pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return result, nil
}

// Insert persists a newly opened position
func (r *PositionRepository) Insert(q database.Queryer, pos *domain.Position) error {
	query := `
		INSERT INTO positions
		(id, account_id, symbol, segment, side, qty, avg_entry_price,
		 margin_blocked, status, realized_pnl, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.Exec(query,
		pos.ID,
		pos.AccountID,
		pos.Symbol,
		string(pos.Segment),
		string(pos.Side),
		pos.Qty,
		pos.AvgEntryPrice.String(),
		pos.MarginBlocked.String(),
		string(pos.Status),
		pos.RealizedPnl.String(),
		pos.OpenedAt.Unix(),
		nullUnix(pos.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}

	r.log.Debug().
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Int64("qty", pos.Qty).
		Msg("Position opened")

	return nil
}

// Update writes back the mutable fields of a position after a fill
func (r *PositionRepository) Update(q database.Queryer, pos *domain.Position) error {
	query := `
		UPDATE positions
		SET qty = ?, avg_entry_price = ?, margin_blocked = ?, status = ?,
		    realized_pnl = ?, closed_at = ?
		WHERE id = ?
	`

	res, err := q.Exec(query,
		pos.Qty,
		pos.AvgEntryPrice.String(),
		pos.MarginBlocked.String(),
		string(pos.Status),
		pos.RealizedPnl.String(),
		nullUnix(pos.ClosedAt),
		pos.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("position %s: %w", pos.ID, domain.ErrNotFound)
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row *sql.Row) (*domain.Position, error) {
	return scanPositionFrom(row)
}

func scanPositionRows(rows *sql.Rows) (*domain.Position, error) {
	return scanPositionFrom(rows)
}

func scanPositionFrom(s rowScanner) (*domain.Position, error) {
	var pos domain.Position
	var segment, side, status string
	var avgEntry, marginBlocked, realizedPnl string
	var openedAt int64
	var closedAt sql.NullInt64

	err := s.Scan(
		&pos.ID,
		&pos.AccountID,
		&pos.Symbol,
		&segment,
		&side,
		&pos.Qty,
		&avgEntry,
		&marginBlocked,
		&status,
		&realizedPnl,
		&openedAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	pos.Segment = domain.Segment(segment)
	pos.Side = domain.PositionSide(side)
	pos.Status = domain.PositionStatus(status)
	pos.OpenedAt = time.Unix(openedAt, 0).UTC()
	if closedAt.Valid {
		t := time.Unix(closedAt.Int64, 0).UTC()
		pos.ClosedAt = &t
	}

	if pos.AvgEntryPrice, err = decimal.NewFromString(avgEntry); err != nil {
		return nil, fmt.Errorf("invalid avg_entry_price %q: %w", avgEntry, err)
	}
	if pos.MarginBlocked, err = decimal.NewFromString(marginBlocked); err != nil {
		return nil, fmt.Errorf("invalid margin_blocked %q: %w", marginBlocked, err)
	}
	if pos.RealizedPnl, err = decimal.NewFromString(realizedPnl); err != nil {
		return nil, fmt.Errorf("invalid realized_pnl %q: %w", realizedPnl, err)
	}

	return &pos, nil
}

func nullUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
