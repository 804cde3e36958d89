package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/kagaztrade/kagaz/internal/events"
	"github.com/kagaztrade/kagaz/internal/modules/accounts"
	"github.com/kagaztrade/kagaz/internal/modules/costs"
	"github.com/kagaztrade/kagaz/internal/modules/execution"
	"github.com/kagaztrade/kagaz/internal/modules/positions"
	"github.com/kagaztrade/kagaz/internal/modules/trading"
)

// cyclicRand repeats a fixed sequence forever, keeping multi-order tests
// deterministic.
type cyclicRand struct {
	values []float64
	i      int
}

func (r *cyclicRand) Float64() float64 {
	v := r.values[r.i%len(r.values)]
	r.i++
	return v
}

// stubQuotes returns one fixed LTP, or an error.
type stubQuotes struct {
	ltp decimal.Decimal
	err error
}

func (s *stubQuotes) GetQuote(_ context.Context, symbol string, segment domain.Segment) (*domain.Quote, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Quote{
		Symbol:    symbol,
		Segment:   segment,
		LTP:       s.ltp,
		Timestamp: time.Now().UTC(),
	}, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	svc         *Service
	db          *database.DB
	accountRepo *accounts.AccountRepository
	posRepo     *positions.PositionRepository
	tradeRepo   *trading.TradeRepository
	orderRepo   *OrderRepository
	bus         *events.Bus
	account     *domain.Account
}

func newFixture(t *testing.T, cash string, quotes domain.QuoteSource) *fixture {
	return newFixtureWith(t, cash, quotes, nil)
}

// newFixtureWith lets a test interpose on the accountant, e.g. to move the
// balance mid-transaction and force the settle CAS to miss.
func newFixtureWith(t *testing.T, cash string, quotes domain.QuoteSource, wrap func(*accounts.Accountant) Accountant) *fixture {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()),
		Profile: database.ProfileLedger,
		Name:    "engine",
	})
	require.NoError(t, err)
	// One connection keeps the named in-memory database alive for the test.
	db.Conn().SetMaxOpenConns(1)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	accountRepo := accounts.NewAccountRepository(db.Conn(), log)
	posRepo := positions.NewPositionRepository(db.Conn(), log)
	tradeRepo := trading.NewTradeRepository(db.Conn(), log)
	orderRepo := NewOrderRepository(db.Conn(), log)
	bus := events.NewBus(log)

	accountant := Accountant(accounts.NewAccountant(accountRepo, log))
	if wrap != nil {
		accountant = wrap(accounts.NewAccountant(accountRepo, log))
	}

	svc := NewService(
		db,
		orderRepo,
		accountRepo,
		accountant,
		posRepo,
		positions.NewLedger(posRepo, log),
		tradeRepo,
		// Jitter draw 0.5 (no jitter), full fill ratio, zero latency draw.
		execution.NewSimulator(&cyclicRand{values: []float64{0.5, 0.999999, 0}}),
		quotes,
		events.NewManager(bus, log),
		log,
	)

	account := &domain.Account{
		ID:             uuid.New().String(),
		Name:           "scenario trader",
		InitialCapital: dec(cash),
		AvailableCash:  dec(cash),
		MarginBlocked:  decimal.Zero,
		Currency:       "INR",
		Status:         domain.AccountActive,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, accountRepo.Create(account))

	return &fixture{
		svc:         svc,
		db:          db,
		accountRepo: accountRepo,
		posRepo:     posRepo,
		tradeRepo:   tradeRepo,
		orderRepo:   orderRepo,
		bus:         bus,
		account:     account,
	}
}

func (fx *fixture) cash(t *testing.T) decimal.Decimal {
	t.Helper()
	acct, err := fx.accountRepo.GetByID(fx.db.Conn(), fx.account.ID)
	require.NoError(t, err)
	return acct.AvailableCash
}

// restLimit places a LIMIT order and fires it at its own limit price, which
// fills at an exact, slippage-free price. Scenario tests use this to keep
// cash arithmetic checkable by hand.
func (fx *fixture) restLimit(t *testing.T, side domain.Side, qty int64, limit string) *domain.Order {
	t.Helper()

	price := dec(limit)
	o, err := fx.svc.PlaceOrder(context.Background(), &domain.Order{
		AccountID:    fx.account.ID,
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         side,
		Kind:         domain.OrderKindLimit,
		RequestedQty: qty,
		LimitPrice:   &price,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, o.Status)

	require.NoError(t, fx.svc.TriggerPending(o, price))
	return o
}

func TestPlaceMarketOrderFillsSynchronously(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	o, err := fx.svc.PlaceOrder(context.Background(), &domain.Order{
		AccountID:    fx.account.ID,
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         domain.SideBuy,
		Kind:         domain.OrderKindMarket,
		RequestedQty: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Equal(t, int64(10), o.FilledQty)
	// Market buys always fill above the quote.
	assert.True(t, o.AvgFillPrice.GreaterThan(dec("2500")))
	require.NotNil(t, o.FilledAt)

	// Cash moved by exactly notional + itemized costs.
	expected := dec("1000000").
		Sub(o.AvgFillPrice.Mul(decimal.NewFromInt(10))).
		Sub(o.Costs.Total)
	assert.True(t, fx.cash(t).Equal(expected), "cash = %s, want %s", fx.cash(t), expected)

	pos, err := fx.posRepo.GetOpen(fx.db.Conn(), fx.account.ID, "RELIANCE", domain.PositionLong)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, int64(10), pos.Qty)
	assert.Equal(t, pos.ID, o.PositionID)

	// Costs follow the published schedule for the fill price.
	want := costs.Compute(10, o.AvgFillPrice, domain.SideBuy, domain.SegmentEquityNSE)
	assert.True(t, o.Costs.Total.Equal(want.Total))
}

func TestLimitOrderRestsThenFillsAtLimit(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	o := fx.restLimit(t, domain.SideBuy, 10, "2500")

	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(dec("2500")), "resting fills carry no slippage")

	// 2500*10 = 25000 notional; equity buy costs: 7.50 + 0.86 + 1.51 + 0.03 + 3.75
	assert.True(t, o.Costs.Total.Equal(dec("13.65")), "costs = %s", o.Costs.Total)
	assert.True(t, fx.cash(t).Equal(dec("974986.35")), "cash = %s", fx.cash(t))
}

func TestRejectedOrderLeavesStateUnchanged(t *testing.T) {
	fx := newFixture(t, "1000", &stubQuotes{ltp: dec("2500")})

	o, err := fx.svc.PlaceOrder(context.Background(), &domain.Order{
		AccountID:    fx.account.ID,
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         domain.SideBuy,
		Kind:         domain.OrderKindMarket,
		RequestedQty: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusRejected, o.Status)
	assert.NotEmpty(t, o.RejectReason)

	// Audit row persisted, zero ledger effect.
	stored, err := fx.orderRepo.GetByID(fx.db.Conn(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, stored.Status)

	assert.True(t, fx.cash(t).Equal(dec("1000")))
	pos, err := fx.posRepo.GetOpen(fx.db.Conn(), fx.account.ID, "RELIANCE", domain.PositionLong)
	require.NoError(t, err)
	assert.Nil(t, pos)
	trades, err := fx.tradeRepo.ListByAccount(fx.account.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPriceUnavailableRejects(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{err: domain.ErrPriceUnavailable})

	o, err := fx.svc.PlaceOrder(context.Background(), &domain.Order{
		AccountID:    fx.account.ID,
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         domain.SideBuy,
		Kind:         domain.OrderKindMarket,
		RequestedQty: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, o.Status)
	assert.True(t, fx.cash(t).Equal(dec("1000000")))
}

func TestCancelPendingOnly(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	price := dec("2400")
	o, err := fx.svc.PlaceOrder(context.Background(), &domain.Order{
		AccountID:    fx.account.ID,
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         domain.SideBuy,
		Kind:         domain.OrderKindLimit,
		RequestedQty: 5,
		LimitPrice:   &price,
	})
	require.NoError(t, err)

	cancelled, err := fx.svc.CancelOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	// Cancelling twice is a state error, and unknown ids are not found.
	_, err = fx.svc.CancelOrder(o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderState)
	_, err = fx.svc.CancelOrder("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestModifyPendingOrder(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	price := dec("2400")
	o, err := fx.svc.PlaceOrder(context.Background(), &domain.Order{
		AccountID:    fx.account.ID,
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         domain.SideBuy,
		Kind:         domain.OrderKindLimit,
		RequestedQty: 5,
		LimitPrice:   &price,
	})
	require.NoError(t, err)

	newQty := int64(8)
	newLimit := dec("2450")
	modified, err := fx.svc.ModifyOrder(o.ID, &newQty, &newLimit, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), modified.RequestedQty)
	assert.True(t, modified.LimitPrice.Equal(dec("2450")))

	stored, err := fx.orderRepo.GetByID(fx.db.Conn(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), stored.RequestedQty)

	// A filled order cannot be modified.
	filled := fx.restLimit(t, domain.SideBuy, 1, "2500")
	_, err = fx.svc.ModifyOrder(filled.ID, &newQty, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderState)
}

func TestFlipLongFiftySellEighty(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	buy := fx.restLimit(t, domain.SideBuy, 50, "2500")
	sell := fx.restLimit(t, domain.SideSell, 80, "2500")

	// LONG 50 closed in full, SHORT 30 opened, exactly one trade for 50.
	long, err := fx.posRepo.GetOpen(fx.db.Conn(), fx.account.ID, "RELIANCE", domain.PositionLong)
	require.NoError(t, err)
	assert.Nil(t, long)

	short, err := fx.posRepo.GetOpen(fx.db.Conn(), fx.account.ID, "RELIANCE", domain.PositionShort)
	require.NoError(t, err)
	require.NotNil(t, short)
	assert.Equal(t, int64(30), short.Qty)
	assert.True(t, short.AvgEntryPrice.Equal(dec("2500")))
	// 25% * 2500 * 30
	assert.True(t, short.MarginBlocked.Equal(dec("18750")))

	trades, err := fx.tradeRepo.ListByAccount(fx.account.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(50), trades[0].Qty)
	assert.True(t, trades[0].GrossPnl.IsZero())

	// Flat round trip at one price: initial minus both orders' costs minus
	// the short margin block.
	expected := dec("1000000").
		Sub(buy.Costs.Total).
		Sub(sell.Costs.Total).
		Sub(dec("18750"))
	assert.True(t, fx.cash(t).Equal(expected), "cash = %s, want %s", fx.cash(t), expected)

	acct, err := fx.accountRepo.GetByID(fx.db.Conn(), fx.account.ID)
	require.NoError(t, err)
	assert.True(t, acct.MarginBlocked.Equal(dec("18750")))
}

func TestClosePositionRealizesPnl(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	buy := fx.restLimit(t, domain.SideBuy, 10, "2500")

	exit := dec("2600")
	closeOrder, err := fx.svc.ClosePosition(context.Background(), buy.PositionID, &exit)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, closeOrder.Status)
	assert.True(t, closeOrder.AvgFillPrice.Equal(dec("2600")), "closes fill at the exact exit price")
	assert.Equal(t, domain.SideSell, closeOrder.Side)

	pos, err := fx.posRepo.GetByID(fx.db.Conn(), buy.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, pos.Status)

	trades, err := fx.tradeRepo.ListByAccount(fx.account.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].GrossPnl.Equal(dec("1000")))

	// Cash conservation: initial + gross P&L - both legs' costs.
	expected := dec("1000000").
		Add(dec("1000")).
		Sub(buy.Costs.Total).
		Sub(closeOrder.Costs.Total)
	assert.True(t, fx.cash(t).Equal(expected), "cash = %s, want %s", fx.cash(t), expected)

	// Closing twice is a state error.
	_, err = fx.svc.ClosePosition(context.Background(), buy.PositionID, &exit)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderState)
}

func TestShortCoverReleasesMargin(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	sell := fx.restLimit(t, domain.SideSell, 20, "2500")
	require.Equal(t, domain.OrderStatusFilled, sell.Status)

	acct, err := fx.accountRepo.GetByID(fx.db.Conn(), fx.account.ID)
	require.NoError(t, err)
	// 25% * 2500 * 20 = 12500
	assert.True(t, acct.MarginBlocked.Equal(dec("12500")))

	exit := dec("2400")
	closeOrder, err := fx.svc.ClosePosition(context.Background(), sell.PositionID, &exit)
	require.NoError(t, err)

	acct, err = fx.accountRepo.GetByID(fx.db.Conn(), fx.account.ID)
	require.NoError(t, err)
	assert.True(t, acct.MarginBlocked.IsZero())

	trades, err := fx.tradeRepo.ListByAccount(fx.account.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	// Short entry 2500, cover 2400: (2500-2400)*20 = 2000 gross.
	assert.True(t, trades[0].GrossPnl.Equal(dec("2000")))

	expected := dec("1000000").
		Add(dec("2000")).
		Sub(sell.Costs.Total).
		Sub(closeOrder.Costs.Total)
	assert.True(t, fx.cash(t).Equal(expected), "cash = %s, want %s", fx.cash(t), expected)
}

func TestPartialCoverKeepsPositionOpen(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	fx.restLimit(t, domain.SideBuy, 100, "2500")
	fx.restLimit(t, domain.SideSell, 40, "2510")

	pos, err := fx.posRepo.GetOpen(fx.db.Conn(), fx.account.ID, "RELIANCE", domain.PositionLong)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, int64(60), pos.Qty)
	assert.True(t, pos.AvgEntryPrice.Equal(dec("2500")), "reductions never move the entry average")

	trades, err := fx.tradeRepo.ListByAccount(fx.account.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(40), trades[0].Qty)
	assert.True(t, trades[0].GrossPnl.Equal(dec("400")))
}

func TestPlaceOrderUnknownAccount(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	_, err := fx.svc.PlaceOrder(context.Background(), &domain.Order{
		AccountID:    "missing",
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         domain.SideBuy,
		Kind:         domain.OrderKindMarket,
		RequestedQty: 1,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFillEventsEmitted(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	var types []events.EventType
	for _, et := range []events.EventType{events.OrderPlaced, events.OrderFilled, events.TradeRecorded, events.PositionClosed} {
		et := et
		fx.bus.Subscribe(et, func(e *events.Event) { types = append(types, e.Type) })
	}

	buy := fx.restLimit(t, domain.SideBuy, 10, "2500")
	exit := dec("2550")
	_, err := fx.svc.ClosePosition(context.Background(), buy.PositionID, &exit)
	require.NoError(t, err)

	assert.Contains(t, types, events.OrderPlaced)
	assert.Contains(t, types, events.OrderFilled)
	assert.Contains(t, types, events.TradeRecorded)
	assert.Contains(t, types, events.PositionClosed)
}

// syntheticClose builds the order ClosePosition would synthesize, carrying
// a quantity captured before any interleaved fill.
func syntheticClose(t *testing.T, fx *fixture, qty int64) *domain.Order {
	t.Helper()

	o := &domain.Order{
		ID:           uuid.New().String(),
		AccountID:    fx.account.ID,
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         domain.SideSell,
		Kind:         domain.OrderKindMarket,
		RequestedQty: qty,
		Status:       domain.OrderStatusPending,
		Costs:        domain.ZeroCosts(),
		StrategyTag:  "position-close",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, fx.orderRepo.Insert(fx.db.Conn(), o))
	return o
}

func TestCloseCoversCurrentQuantityNotStale(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	buy := fx.restLimit(t, domain.SideBuy, 100, "2500")

	// Close order synthesized while the position still held 100.
	stale := syntheticClose(t, fx, 100)

	// An interleaved sell reduces the position to 60 before the close
	// reaches the account lock.
	fx.restLimit(t, domain.SideSell, 40, "2500")

	require.NoError(t, fx.svc.fillClose(stale, dec("2500"), buy.PositionID))

	assert.Equal(t, domain.OrderStatusFilled, stale.Status)
	assert.Equal(t, int64(60), stale.FilledQty, "close covers the current remainder")

	row, err := fx.orderRepo.GetByID(fx.db.Conn(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), row.RequestedQty)

	pos, err := fx.posRepo.GetByID(fx.db.Conn(), buy.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, pos.Status)

	// The stale excess must not open a SHORT or block margin.
	open, err := fx.posRepo.ListOpen(fx.account.ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	acct, err := fx.accountRepo.GetByID(fx.db.Conn(), fx.account.ID)
	require.NoError(t, err)
	assert.True(t, acct.MarginBlocked.IsZero())
}

func TestCloseRejectsWhenPositionAlreadyFlat(t *testing.T) {
	fx := newFixture(t, "1000000", &stubQuotes{ltp: dec("2500")})

	buy := fx.restLimit(t, domain.SideBuy, 50, "2500")
	stale := syntheticClose(t, fx, 50)

	// The position goes flat before the close reaches the account lock.
	fx.restLimit(t, domain.SideSell, 50, "2500")

	require.NoError(t, fx.svc.fillClose(stale, dec("2500"), buy.PositionID))

	assert.Equal(t, domain.OrderStatusRejected, stale.Status)
	assert.Equal(t, "position closed concurrently", stale.RejectReason)

	open, err := fx.posRepo.ListOpen(fx.account.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

// tamperingAccountant moves the account balance through the fill
// transaction right before settling, so the settle CAS sees a row that no
// longer matches the value read at the start of the attempt. The tampered
// attempt rolls back with its transaction.
type tamperingAccountant struct {
	*accounts.Accountant
	tampers int // number of leading settle calls to sabotage
	calls   int
}

func (a *tamperingAccountant) Settle(q database.Queryer, acct *domain.Account, f domain.Fill, res *domain.FillResult) error {
	a.calls++
	if a.calls <= a.tampers {
		if _, err := q.Exec(
			"UPDATE accounts SET available_cash = ? WHERE id = ?",
			acct.AvailableCash.Add(dec("0.01")).String(), acct.ID,
		); err != nil {
			return err
		}
	}
	return a.Accountant.Settle(q, acct, f, res)
}

func TestFillRetriesWhenBalanceMoves(t *testing.T) {
	var acc *tamperingAccountant
	fx := newFixtureWith(t, "1000000", &stubQuotes{ltp: dec("2500")}, func(a *accounts.Accountant) Accountant {
		acc = &tamperingAccountant{Accountant: a, tampers: 1}
		return acc
	})

	o := fx.restLimit(t, domain.SideBuy, 10, "2500")

	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Equal(t, 2, acc.calls, "first attempt conflicts, second settles")

	// The conflicted attempt rolled back wholesale, so cash reflects
	// exactly one settled fill.
	expected := dec("1000000").Sub(dec("25000")).Sub(o.Costs.Total)
	assert.True(t, fx.cash(t).Equal(expected), "cash = %s, want %s", fx.cash(t), expected)
}

func TestFillFailsPlainlyAfterRetriesExhausted(t *testing.T) {
	var acc *tamperingAccountant
	fx := newFixtureWith(t, "1000000", &stubQuotes{ltp: dec("2500")}, func(a *accounts.Accountant) Accountant {
		acc = &tamperingAccountant{Accountant: a, tampers: conflictRetries}
		return acc
	})

	price := dec("2500")
	o, err := fx.svc.PlaceOrder(context.Background(), &domain.Order{
		AccountID:    fx.account.ID,
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         domain.SideBuy,
		Kind:         domain.OrderKindLimit,
		RequestedQty: 10,
		LimitPrice:   &price,
	})
	require.NoError(t, err)

	err = fx.svc.TriggerPending(o, price)
	require.Error(t, err)
	assert.Equal(t, conflictRetries, acc.calls)
	// The retry signal stays internal; callers get a plain failure.
	assert.False(t, errors.Is(err, domain.ErrConcurrencyConflict))

	// Every attempt rolled back: the order still rests and cash is intact.
	row, err := fx.orderRepo.GetByID(fx.db.Conn(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, row.Status)
	assert.True(t, fx.cash(t).Equal(dec("1000000")))
}
