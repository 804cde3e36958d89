// Package snapshots records daily account NAV so analytics has an equity
// curve to work from.
package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// NavSnapshot is one day's net asset value for an account
type NavSnapshot struct {
	AccountID      string          `json:"account_id"`
	SnapshotDate   string          `json:"snapshot_date"` // YYYY-MM-DD
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	NAV            decimal.Decimal `json:"nav"`
}

// SnapshotRepository handles NAV snapshot database operations
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repo", "snapshot").Logger(),
	}
}

// Upsert writes the snapshot for (account, date), replacing any earlier
// run of the same day. Re-running the snapshot job is therefore harmless.
func (r *SnapshotRepository) Upsert(s *NavSnapshot) error {
	query := `
		INSERT INTO nav_snapshots (account_id, snapshot_date, cash, positions_value, nav, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, snapshot_date) DO UPDATE SET
			cash = excluded.cash,
			positions_value = excluded.positions_value,
			nav = excluded.nav,
			created_at = excluded.created_at
	`

	_, err := r.db.Exec(query,
		s.AccountID,
		s.SnapshotDate,
		s.Cash.String(),
		s.PositionsValue.String(),
		s.NAV.String(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert nav snapshot: %w", err)
	}

	return nil
}

// Series returns an account's snapshots in date order, capped at limit
// (0 means no cap, counted from the most recent backwards).
func (r *SnapshotRepository) Series(accountID string, limit int) ([]NavSnapshot, error) {
	query := `
		SELECT account_id, snapshot_date, cash, positions_value, nav
		FROM nav_snapshots WHERE account_id = ? ORDER BY snapshot_date
	`

	rows, err := r.db.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nav snapshots: %w", err)
	}
	defer rows.Close()

	var result []NavSnapshot
	for rows.Next() {
		var s NavSnapshot
		var cash, positionsValue, nav string

		if err := rows.Scan(&s.AccountID, &s.SnapshotDate, &cash, &positionsValue, &nav); err != nil {
			return nil, fmt.Errorf("failed to scan nav snapshot: %w", err)
		}

		if s.Cash, err = decimal.NewFromString(cash); err != nil {
			return nil, fmt.Errorf("invalid cash %q: %w", cash, err)
		}
		if s.PositionsValue, err = decimal.NewFromString(positionsValue); err != nil {
			return nil, fmt.Errorf("invalid positions_value %q: %w", positionsValue, err)
		}
		if s.NAV, err = decimal.NewFromString(nav); err != nil {
			return nil, fmt.Errorf("invalid nav %q: %w", nav, err)
		}

		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nav snapshots: %w", err)
	}

	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}

	return result, nil
}
