package snapshots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/kagaztrade/kagaz/internal/modules/accounts"
	"github.com/kagaztrade/kagaz/internal/modules/positions"
)

// Service computes and stores daily NAV per account. Open positions are
// marked at the current LTP; when no price is available the entry price
// stands in, which keeps the curve continuous instead of punching holes
// into it.
type Service struct {
	repo         *SnapshotRepository
	accountRepo  *accounts.AccountRepository
	positionRepo *positions.PositionRepository
	quotes       domain.QuoteSource
	log          zerolog.Logger
}

// NewService creates a NAV snapshot service
func NewService(
	repo *SnapshotRepository,
	accountRepo *accounts.AccountRepository,
	positionRepo *positions.PositionRepository,
	quotes domain.QuoteSource,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		accountRepo:  accountRepo,
		positionRepo: positionRepo,
		quotes:       quotes,
		log:          log.With().Str("service", "snapshots").Logger(),
	}
}

// SnapshotAll records today's NAV for every account
func (s *Service) SnapshotAll(ctx context.Context) error {
	all, err := s.accountRepo.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts for snapshot: %w", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	for i := range all {
		if err := s.Snapshot(ctx, &all[i], date); err != nil {
			s.log.Error().Err(err).
				Str("account_id", all[i].ID).
				Msg("Failed to snapshot account NAV")
			// Keep going, one bad account must not block the rest.
		}
	}

	return nil
}

// Snapshot records the NAV of one account for the given date
func (s *Service) Snapshot(ctx context.Context, acct *domain.Account, date string) error {
	open, err := s.positionRepo.ListOpen(acct.ID)
	if err != nil {
		return err
	}

	positionsValue := decimal.Zero
	for i := range open {
		positionsValue = positionsValue.Add(s.markPosition(ctx, &open[i]))
	}

	nav := acct.AvailableCash.Add(positionsValue).Round(2)

	snapshot := &NavSnapshot{
		AccountID:      acct.ID,
		SnapshotDate:   date,
		Cash:           acct.AvailableCash,
		PositionsValue: positionsValue.Round(2),
		NAV:            nav,
	}
	if err := s.repo.Upsert(snapshot); err != nil {
		return err
	}

	s.log.Debug().
		Str("account_id", acct.ID).
		Str("date", date).
		Str("nav", nav.String()).
		Msg("NAV snapshot recorded")

	return nil
}

// markPosition values one open position. Long exposure is worth qty * LTP;
// short exposure is worth the blocked margin plus unrealized P&L, since
// the sale proceeds were never credited to cash.
func (s *Service) markPosition(ctx context.Context, pos *domain.Position) decimal.Decimal {
	price := pos.AvgEntryPrice
	quote, err := s.quotes.GetQuote(ctx, pos.Symbol, pos.Segment)
	if err == nil && quote.LTP.IsPositive() {
		price = quote.LTP
	} else if err != nil && !errors.Is(err, domain.ErrPriceUnavailable) {
		s.log.Warn().Err(err).
			Str("symbol", pos.Symbol).
			Msg("Quote lookup failed, marking position at entry")
	}

	qty := decimal.NewFromInt(pos.Qty)
	if pos.Side == domain.PositionLong {
		return price.Mul(qty)
	}
	return pos.MarginBlocked.Add(pos.AvgEntryPrice.Sub(price).Mul(qty))
}
