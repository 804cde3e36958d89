// Package accounts owns virtual trading accounts and the cash/margin
// accounting around fills.
package accounts

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

const accountColumns = `id, name, initial_capital, available_cash, margin_blocked,
	currency, status, created_at`

// AccountRepository handles account database operations
type AccountRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sql.DB, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{
		db:  db,
		log: log.With().Str("repo", "account").Logger(),
	}
}

// Create persists a new account
func (r *AccountRepository) Create(acct *domain.Account) error {
	query := `
		INSERT INTO accounts
		(id, name, initial_capital, available_cash, margin_blocked, currency, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		acct.ID,
		acct.Name,
		acct.InitialCapital.String(),
		acct.AvailableCash.String(),
		acct.MarginBlocked.String(),
		acct.Currency,
		string(acct.Status),
		acct.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	r.log.Info().
		Str("account_id", acct.ID).
		Str("initial_capital", acct.InitialCapital.String()).
		Msg("Account created")

	return nil
}

// GetByID retrieves an account by id. Returns domain.ErrNotFound for an
// unknown id.
func (r *AccountRepository) GetByID(q database.Queryer, id string) (*domain.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE id = ?"

	acct, err := scanAccount(q.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return acct, nil
}

// List returns all accounts ordered by creation time
func (r *AccountRepository) List() ([]domain.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts ORDER BY created_at"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var result []domain.Account
	for rows.Next() {
		var acct domain.Account
		var initialCapital, availableCash, marginBlocked, status string
		var createdAt int64

		err := rows.Scan(&acct.ID, &acct.Name, &initialCapital, &availableCash,
			&marginBlocked, &acct.Currency, &status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}

		if err := fillAccountDecimals(&acct, initialCapital, availableCash, marginBlocked); err != nil {
			return nil, err
		}
		acct.Status = domain.AccountStatus(status)
		acct.CreatedAt = time.Unix(createdAt, 0).UTC()
		result = append(result, acct)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return result, nil
}

// UpdateBalancesCAS writes the new cash and margin figures, guarded by the
// cash value the caller read. Zero rows affected means another writer moved
// the balance in between and the caller must re-read and retry.
func (r *AccountRepository) UpdateBalancesCAS(q database.Queryer, id string, expectedCash, newCash, newMarginBlocked decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET available_cash = ?, margin_blocked = ?
		WHERE id = ? AND available_cash = ?
	`

	res, err := q.Exec(query, newCash.String(), newMarginBlocked.String(), id, expectedCash.String())
	if err != nil {
		return fmt.Errorf("failed to update account balances: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s balance moved concurrently: %w", id, domain.ErrConcurrencyConflict)
	}

	return nil
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var acct domain.Account
	var initialCapital, availableCash, marginBlocked, status string
	var createdAt int64

	err := row.Scan(&acct.ID, &acct.Name, &initialCapital, &availableCash,
		&marginBlocked, &acct.Currency, &status, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := fillAccountDecimals(&acct, initialCapital, availableCash, marginBlocked); err != nil {
		return nil, err
	}
	acct.Status = domain.AccountStatus(status)
	acct.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &acct, nil
}

func fillAccountDecimals(acct *domain.Account, initialCapital, availableCash, marginBlocked string) error {
	var err error
	if acct.InitialCapital, err = decimal.NewFromString(initialCapital); err != nil {
		return fmt.Errorf("invalid initial_capital %q: %w", initialCapital, err)
	}
	if acct.AvailableCash, err = decimal.NewFromString(availableCash); err != nil {
		return fmt.Errorf("invalid available_cash %q: %w", availableCash, err)
	}
	if acct.MarginBlocked, err = decimal.NewFromString(marginBlocked); err != nil {
		return fmt.Errorf("invalid margin_blocked %q: %w", marginBlocked, err)
	}
	return nil
}
