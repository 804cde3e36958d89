package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/kagaztrade/kagaz/internal/events"
	"github.com/kagaztrade/kagaz/internal/modules/accounts"
	"github.com/kagaztrade/kagaz/internal/modules/costs"
	"github.com/kagaztrade/kagaz/internal/modules/execution"
	"github.com/kagaztrade/kagaz/internal/modules/positions"
	"github.com/kagaztrade/kagaz/internal/modules/trading"
)

// conflictRetries bounds re-attempts when the balance CAS detects a writer
// that slipped past the per-account lock.
const conflictRetries = 3

// accountLocks serializes fills per account. The map only ever grows; the
// number of accounts in a paper-trading deployment is small.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

func (a *accountLocks) get(accountID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[accountID] = l
	}
	return l
}

// Accountant authorizes fills and settles their cash effects
type Accountant interface {
	Authorize(acct *domain.Account, req accounts.AuthRequest) error
	ShortMarginBlock(segment domain.Segment, price decimal.Decimal, qty int64) decimal.Decimal
	Settle(q database.Queryer, acct *domain.Account, f domain.Fill, res *domain.FillResult) error
}

var _ Accountant = (*accounts.Accountant)(nil)

// Service is the order lifecycle controller. Market orders fill
// synchronously; LIMIT/SL/SLM rest as PENDING until the sweep (or an
// explicit trigger) fires them. Every fill runs as one transaction: order
// finalize, position mutation, trade insert and cash settlement commit or
// roll back together.
type Service struct {
	db           *database.DB
	orders       *OrderRepository
	accountRepo  *accounts.AccountRepository
	accountant   Accountant
	positionRepo *positions.PositionRepository
	ledger       *positions.Ledger
	trades       *trading.TradeRepository
	sim          *execution.Simulator
	quotes       domain.QuoteSource
	events       *events.Manager
	locks        *accountLocks
	log          zerolog.Logger
}

// NewService creates the order lifecycle controller
func NewService(
	db *database.DB,
	orderRepo *OrderRepository,
	accountRepo *accounts.AccountRepository,
	accountant Accountant,
	positionRepo *positions.PositionRepository,
	ledger *positions.Ledger,
	tradeRepo *trading.TradeRepository,
	sim *execution.Simulator,
	quotes domain.QuoteSource,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:           db,
		orders:       orderRepo,
		accountRepo:  accountRepo,
		accountant:   accountant,
		positionRepo: positionRepo,
		ledger:       ledger,
		trades:       tradeRepo,
		sim:          sim,
		quotes:       quotes,
		events:       eventManager,
		locks:        newAccountLocks(),
		log:          log.With().Str("service", "orders").Logger(),
	}
}

// PlaceOrder validates and persists an order, then fills it synchronously
// if it is a market order. Resting kinds return as PENDING. Authorization
// failures come back as a REJECTED order with a nil error; only
// infrastructure failures return a non-nil error.
func (s *Service) PlaceOrder(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order: %w", err)
	}
	if _, err := s.accountRepo.GetByID(s.db.Conn(), o.AccountID); err != nil {
		return nil, err
	}

	o.ID = uuid.New().String()
	o.Status = domain.OrderStatusPending
	o.Costs = domain.ZeroCosts()
	o.CreatedAt = time.Now().UTC()

	if err := s.orders.Insert(s.db.Conn(), o); err != nil {
		return nil, err
	}

	s.events.EmitTyped(events.OrderPlaced, "orders", &events.OrderPlacedData{
		OrderID:   o.ID,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Kind:      string(o.Kind),
		Qty:       o.RequestedQty,
	})

	if o.Kind != domain.OrderKindMarket {
		s.log.Info().
			Str("order_id", o.ID).
			Str("kind", string(o.Kind)).
			Msg("Order resting")
		return o, nil
	}

	// Quote resolution happens before the account lock so a slow feed never
	// blocks other fills for the account.
	quote, err := s.resolveQuote(ctx, o.Symbol, o.Segment)
	if err != nil {
		if rejErr := s.reject(o, err.Error()); rejErr != nil {
			return nil, rejErr
		}
		return o, nil
	}

	sim := s.sim.Simulate(quote.LTP, o.RequestedQty, o.Side, o.Segment, o.Kind)

	s.log.Debug().
		Str("order_id", o.ID).
		Str("quoted", quote.LTP.String()).
		Str("fill_price", sim.FillPrice.String()).
		Int64("filled_qty", sim.FilledQty).
		Float64("slippage_bps", sim.SlippageBps).
		Int("latency_ms", sim.LatencyMs).
		Msg("Execution simulated")

	return o, s.fill(o, sim.FillPrice, sim.FilledQty)
}

// CancelOrder cancels a PENDING order. Terminal orders return
// domain.ErrInvalidOrderState.
func (s *Service) CancelOrder(id string) (*domain.Order, error) {
	if err := s.orders.MarkCancelled(s.db.Conn(), id); err != nil {
		if errors.Is(err, domain.ErrInvalidOrderState) {
			// Distinguish unknown from terminal for the caller.
			if _, getErr := s.orders.GetByID(s.db.Conn(), id); getErr != nil {
				return nil, getErr
			}
		}
		return nil, err
	}

	o, err := s.orders.GetByID(s.db.Conn(), id)
	if err != nil {
		return nil, err
	}

	s.events.EmitTyped(events.OrderCancelled, "orders", &events.OrderCancelledData{
		OrderID:   o.ID,
		AccountID: o.AccountID,
	})
	return o, nil
}

// ModifyOrder changes quantity and/or prices of a PENDING order. Nil
// arguments leave the field untouched.
func (s *Service) ModifyOrder(id string, qty *int64, limitPrice, triggerPrice *decimal.Decimal) (*domain.Order, error) {
	o, err := s.orders.GetByID(s.db.Conn(), id)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("cannot modify order %s in status %s: %w", id, o.Status, domain.ErrInvalidOrderState)
	}

	if qty != nil {
		o.RequestedQty = *qty
	}
	if limitPrice != nil {
		o.LimitPrice = limitPrice
	}
	if triggerPrice != nil {
		o.TriggerPrice = triggerPrice
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("invalid modification: %w", err)
	}

	if err := s.orders.UpdatePending(s.db.Conn(), o); err != nil {
		return nil, err
	}

	s.events.EmitTyped(events.OrderModified, "orders", &events.OrderModifiedData{
		OrderID:   o.ID,
		AccountID: o.AccountID,
	})
	return o, nil
}

// ClosePosition closes an OPEN position in full by synthesizing a market
// order on the opposite side. When exitPrice is nil the current LTP is
// used; either way the close fills at that exact price with no simulated
// slippage.
func (s *Service) ClosePosition(ctx context.Context, positionID string, exitPrice *decimal.Decimal) (*domain.Order, error) {
	pos, err := s.positionRepo.GetByID(s.db.Conn(), positionID)
	if err != nil {
		return nil, err
	}
	if pos.Status != domain.PositionOpen {
		return nil, fmt.Errorf("position %s is already closed: %w", positionID, domain.ErrInvalidOrderState)
	}

	price := decimal.Zero
	if exitPrice != nil {
		price = *exitPrice
	} else {
		quote, err := s.resolveQuote(ctx, pos.Symbol, pos.Segment)
		if err != nil {
			return nil, err
		}
		price = quote.LTP
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("exit price must be positive: %w", domain.ErrPriceUnavailable)
	}

	side := domain.SideSell
	if pos.Side == domain.PositionShort {
		side = domain.SideBuy
	}

	o := &domain.Order{
		ID:           uuid.New().String(),
		AccountID:    pos.AccountID,
		Symbol:       pos.Symbol,
		Segment:      pos.Segment,
		Side:         side,
		Kind:         domain.OrderKindMarket,
		RequestedQty: pos.Qty,
		Status:       domain.OrderStatusPending,
		Costs:        domain.ZeroCosts(),
		StrategyTag:  "position-close",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.orders.Insert(s.db.Conn(), o); err != nil {
		return nil, err
	}

	return o, s.fillClose(o, price.Round(2), pos.ID)
}

// TriggerPending fires a resting order against the given LTP. LIMIT and SL
// orders fill at their own limit price; SLM fills at the LTP. The caller
// (the pending sweep) has already decided that the trigger condition holds.
func (s *Service) TriggerPending(o *domain.Order, ltp decimal.Decimal) error {
	if o.Status != domain.OrderStatusPending {
		return fmt.Errorf("order %s is not PENDING: %w", o.ID, domain.ErrInvalidOrderState)
	}

	var price decimal.Decimal
	switch o.Kind {
	case domain.OrderKindLimit, domain.OrderKindSL:
		price = *o.LimitPrice
	case domain.OrderKindSLM:
		price = ltp
	default:
		return fmt.Errorf("order %s kind %s does not rest: %w", o.ID, o.Kind, domain.ErrInvalidOrderState)
	}

	return s.fill(o, price.Round(2), o.RequestedQty)
}

// GetOrder retrieves an order by id
func (s *Service) GetOrder(id string) (*domain.Order, error) {
	return s.orders.GetByID(s.db.Conn(), id)
}

// ListOrders returns an account's orders, newest first
func (s *Service) ListOrders(accountID string, limit int) ([]domain.Order, error) {
	return s.orders.ListByAccount(accountID, limit)
}

// ListPositions returns an account's open positions
func (s *Service) ListPositions(accountID string) ([]domain.Position, error) {
	return s.positionRepo.ListOpen(accountID)
}

// rejection wraps an authorization failure so the fill transaction rolls
// back cleanly and the order is persisted as REJECTED afterwards.
type rejection struct {
	cause error
}

func (r *rejection) Error() string { return r.cause.Error() }
func (r *rejection) Unwrap() error { return r.cause }

// fill runs the apply-fill unit for qty units at price, under the account
// lock. On ConcurrencyConflict the whole unit re-reads and retries a
// bounded number of times.
func (s *Service) fill(o *domain.Order, price decimal.Decimal, qty int64) error {
	lock := s.locks.get(o.AccountID)
	lock.Lock()
	defer lock.Unlock()

	return s.fillLocked(o, price, qty)
}

// fillClose runs the apply-fill unit for a synthesized close order. The
// close quantity is resolved after the account lock is held: a fill that
// landed between the position read and this point changes the remaining
// quantity, and covering the stale amount would open opposite-side
// exposure the caller never asked for.
func (s *Service) fillClose(o *domain.Order, price decimal.Decimal, positionID string) error {
	lock := s.locks.get(o.AccountID)
	lock.Lock()
	defer lock.Unlock()

	pos, err := s.positionRepo.GetByID(s.db.Conn(), positionID)
	if err != nil {
		return err
	}
	if pos.Status != domain.PositionOpen {
		return s.reject(o, "position closed concurrently")
	}
	if pos.Qty != o.RequestedQty {
		s.log.Info().
			Str("order_id", o.ID).
			Str("position_id", pos.ID).
			Int64("requested_qty", o.RequestedQty).
			Int64("current_qty", pos.Qty).
			Msg("Position changed before close, using current quantity")
		o.RequestedQty = pos.Qty
		if err := s.orders.UpdatePending(s.db.Conn(), o); err != nil {
			return err
		}
	}

	return s.fillLocked(o, price, pos.Qty)
}

func (s *Service) fillLocked(o *domain.Order, price decimal.Decimal, qty int64) error {
	fillCosts := costs.Compute(qty, price, o.Side, o.Segment)

	var result *domain.FillResult
	var attempt int
	for {
		attempt++
		err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
			return s.applyFill(tx, o, price, qty, fillCosts, &result)
		})
		if err == nil {
			break
		}

		var rej *rejection
		if errors.As(err, &rej) {
			return s.reject(o, rej.cause.Error())
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			if attempt < conflictRetries {
				s.log.Warn().
					Str("order_id", o.ID).
					Int("attempt", attempt).
					Msg("Balance moved concurrently, retrying fill")
				continue
			}
			// The conflict is an internal retry signal, not part of the
			// caller-facing error taxonomy.
			s.log.Error().
				Str("order_id", o.ID).
				Int("attempts", attempt).
				Msg("Fill did not settle, balance kept moving")
			return fmt.Errorf("fill for order %s did not settle after %d attempts", o.ID, attempt)
		}
		return err
	}

	s.emitFillEvents(o, result)
	return nil
}

// applyFill is the body of the fill transaction: authorize, mutate
// positions, record the trade, settle cash and finalize the order.
func (s *Service) applyFill(tx *sql.Tx, o *domain.Order, price decimal.Decimal, qty int64, fillCosts domain.CostBreakdown, out **domain.FillResult) error {
	acct, err := s.accountRepo.GetByID(tx, o.AccountID)
	if err != nil {
		return err
	}

	// Quantity that opens NEW exposure after covering the opposite side.
	opposite, err := s.positionRepo.GetOpen(tx, o.AccountID, o.Symbol,
		domain.PositionSideForOrder(o.Side).Opposite())
	if err != nil {
		return err
	}
	openQty := qty
	if opposite != nil {
		covered := opposite.Qty
		if covered > qty {
			covered = qty
		}
		openQty = qty - covered
	}

	if err := s.accountant.Authorize(acct, accounts.AuthRequest{
		Side:    o.Side,
		Segment: o.Segment,
		Price:   price,
		OpenQty: openQty,
		Costs:   fillCosts,
	}); err != nil {
		return &rejection{cause: err}
	}

	f := domain.Fill{
		AccountID:        o.AccountID,
		OrderID:          o.ID,
		Symbol:           o.Symbol,
		Segment:          o.Segment,
		Side:             o.Side,
		Qty:              qty,
		Price:            price,
		Costs:            fillCosts,
		ShortMarginBlock: decimal.Zero,
		ExecutedAt:       time.Now().UTC(),
	}
	if o.Side == domain.SideSell && openQty > 0 {
		f.ShortMarginBlock = s.accountant.ShortMarginBlock(o.Segment, price, openQty)
	}

	res, err := s.ledger.ApplyFill(tx, f)
	if err != nil {
		return err
	}

	if res.Trade != nil {
		if err := s.trades.Insert(tx, res.Trade); err != nil {
			return err
		}
	}

	if err := s.accountant.Settle(tx, acct, f, res); err != nil {
		return err
	}

	o.FilledQty = qty
	o.AvgFillPrice = price
	o.Costs = fillCosts
	o.Status = domain.OrderStatusFilled
	filledAt := f.ExecutedAt
	o.FilledAt = &filledAt
	if res.Opened != nil {
		o.PositionID = res.Opened.ID
	} else if res.Reduced != nil {
		o.PositionID = res.Reduced.ID
	}

	if err := s.orders.MarkFilled(tx, o); err != nil {
		return err
	}

	*out = res
	return nil
}

// reject persists the REJECTED terminal state. The order row exists and no
// ledger mutation ever happened, so this is a plain status transition.
func (s *Service) reject(o *domain.Order, reason string) error {
	if err := s.orders.MarkRejected(s.db.Conn(), o.ID, reason); err != nil {
		return err
	}
	o.Status = domain.OrderStatusRejected
	o.RejectReason = reason

	s.log.Info().
		Str("order_id", o.ID).
		Str("reason", reason).
		Msg("Order rejected")

	s.events.EmitTyped(events.OrderRejected, "orders", &events.OrderRejectedData{
		OrderID:   o.ID,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Reason:    reason,
	})
	return nil
}

// resolveQuote fetches and validates a reference price
func (s *Service) resolveQuote(ctx context.Context, symbol string, segment domain.Segment) (*domain.Quote, error) {
	quote, err := s.quotes.GetQuote(ctx, symbol, segment)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve quote for %s: %w", symbol, err)
	}
	if quote == nil || !quote.LTP.IsPositive() {
		return nil, fmt.Errorf("no positive price for %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	return quote, nil
}

func (s *Service) emitFillEvents(o *domain.Order, res *domain.FillResult) {
	s.events.EmitTyped(events.OrderFilled, "orders", &events.OrderFilledData{
		OrderID:    o.ID,
		AccountID:  o.AccountID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		FilledQty:  o.FilledQty,
		FillPrice:  o.AvgFillPrice.String(),
		TotalCosts: o.Costs.Total.String(),
	})

	if res == nil {
		return
	}
	if res.Trade != nil {
		s.events.EmitTyped(events.TradeRecorded, "orders", &events.TradeRecordedData{
			TradeID:   res.Trade.ID,
			AccountID: res.Trade.AccountID,
			Symbol:    res.Trade.Symbol,
			Qty:       res.Trade.Qty,
			NetPnl:    res.Trade.NetPnl.String(),
		})
	}
	if res.Reduced != nil && res.Reduced.Status == domain.PositionClosed {
		s.events.EmitTyped(events.PositionClosed, "orders", &events.PositionClosedData{
			PositionID:  res.Reduced.ID,
			AccountID:   res.Reduced.AccountID,
			Symbol:      res.Reduced.Symbol,
			Side:        string(res.Reduced.Side),
			RealizedPnl: res.Reduced.RealizedPnl.String(),
		})
	}
}
