package scheduler

import (
	"context"
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
	"github.com/kagaztrade/kagaz/internal/modules/execution"
	"github.com/kagaztrade/kagaz/internal/modules/orders"
	"github.com/kagaztrade/kagaz/internal/modules/positions"
	"github.com/kagaztrade/kagaz/internal/modules/trading"
)

type fixedRand struct{}

func (fixedRand) Float64() float64 { return 0.5 }

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
	return decimal.RequireFromString(s)
}

type sweepFixture struct {
	job       *PendingSweepJob
	svc       *orders.Service
	orderRepo *orders.OrderRepository
	db        *database.DB
	account   *domain.Account
}

func newSweepFixture(t *testing.T, quotes *stubQuotes) *sweepFixture {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()),
		Profile: database.ProfileLedger,
		Name:    "engine",
	})
	require.NoError(t, err)
	db.Conn().SetMaxOpenConns(1)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	accountRepo := accounts.NewAccountRepository(db.Conn(), log)
	posRepo := positions.NewPositionRepository(db.Conn(), log)
	orderRepo := orders.NewOrderRepository(db.Conn(), log)
	eventManager := events.NewManager(events.NewBus(log), log)

	svc := orders.NewService(
		db,
		orderRepo,
		accountRepo,
		accounts.NewAccountant(accountRepo, log),
		posRepo,
		positions.NewLedger(posRepo, log),
		trading.NewTradeRepository(db.Conn(), log),
		execution.NewSimulator(fixedRand{}),
		quotes,
		eventManager,
		log,
	)

	account := &domain.Account{
		ID:             uuid.New().String(),
		Name:           "sweep trader",
		InitialCapital: dec("1000000"),
		AvailableCash:  dec("1000000"),
		MarginBlocked:  decimal.Zero,
		Currency:       "INR",
		Status:         domain.AccountActive,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, accountRepo.Create(account))

	return &sweepFixture{
		job:       NewPendingSweepJob(svc, orderRepo, quotes, eventManager, log),
		svc:       svc,
		orderRepo: orderRepo,
		db:        db,
		account:   account,
	}
}

func (fx *sweepFixture) place(t *testing.T, side domain.Side, kind domain.OrderKind, qty int64, limit, trigger string) *domain.Order {
	t.Helper()

	o := &domain.Order{
		AccountID:    fx.account.ID,
		Symbol:       "RELIANCE",
		Segment:      domain.SegmentEquityNSE,
		Side:         side,
		Kind:         kind,
		RequestedQty: qty,
	}
	if limit != "" {
		p := dec(limit)
		o.LimitPrice = &p
	}
	if trigger != "" {
		p := dec(trigger)
		o.TriggerPrice = &p
	}

	placed, err := fx.svc.PlaceOrder(context.Background(), o)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, placed.Status)
	return placed
}

func (fx *sweepFixture) status(t *testing.T, id string) domain.OrderStatus {
	t.Helper()
	o, err := fx.orderRepo.GetByID(fx.db.Conn(), id)
	require.NoError(t, err)
	return o.Status
}

func TestSweepFiresLimitBuyAtOrBelowLimit(t *testing.T) {
	fx := newSweepFixture(t, &stubQuotes{ltp: dec("2400")})

	o := fx.place(t, domain.SideBuy, domain.OrderKindLimit, 10, "2500", "")
	require.NoError(t, fx.job.Run())

	assert.Equal(t, domain.OrderStatusFilled, fx.status(t, o.ID))

	// Fires at its own limit price, not the LTP.
	filled, err := fx.orderRepo.GetByID(fx.db.Conn(), o.ID)
	require.NoError(t, err)
	assert.True(t, filled.AvgFillPrice.Equal(dec("2500")))
}

func TestSweepLeavesLimitSellBelowLimit(t *testing.T) {
	fx := newSweepFixture(t, &stubQuotes{ltp: dec("2400")})

	o := fx.place(t, domain.SideSell, domain.OrderKindLimit, 10, "2500", "")
	require.NoError(t, fx.job.Run())

	assert.Equal(t, domain.OrderStatusPending, fx.status(t, o.ID))
}

func TestSweepFiresStopLossOnTriggerCross(t *testing.T) {
	fx := newSweepFixture(t, &stubQuotes{ltp: dec("2610")})

	// SL BUY: trigger 2600 crossed upward, fills at its limit 2620.
	o := fx.place(t, domain.SideBuy, domain.OrderKindSL, 10, "2620", "2600")
	require.NoError(t, fx.job.Run())

	filled, err := fx.orderRepo.GetByID(fx.db.Conn(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, filled.Status)
	assert.True(t, filled.AvgFillPrice.Equal(dec("2620")))
}

func TestSweepFiresSLMAtLTP(t *testing.T) {
	fx := newSweepFixture(t, &stubQuotes{ltp: dec("2390")})

	// SLM SELL: trigger 2400 crossed downward, fills at the LTP.
	o := fx.place(t, domain.SideSell, domain.OrderKindSLM, 10, "", "2400")
	require.NoError(t, fx.job.Run())

	filled, err := fx.orderRepo.GetByID(fx.db.Conn(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, filled.Status)
	assert.True(t, filled.AvgFillPrice.Equal(dec("2390")))
}

func TestSweepSkipsOrdersWithoutAPrice(t *testing.T) {
	fx := newSweepFixture(t, &stubQuotes{ltp: dec("2400")})
	o := fx.place(t, domain.SideBuy, domain.OrderKindLimit, 10, "2500", "")

	// The feed goes dark; the order must keep resting.
	quotes := &stubQuotes{err: domain.ErrPriceUnavailable}
	job := NewPendingSweepJob(fx.svc, fx.orderRepo, quotes, events.NewManager(events.NewBus(zerolog.Nop()), zerolog.Nop()), zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, domain.OrderStatusPending, fx.status(t, o.ID))
}

func TestShouldTrigger(t *testing.T) {
	limit := dec("100")
	trigger := dec("200")

	cases := []struct {
		name string
		kind domain.OrderKind
		side domain.Side
		ltp  string
		want bool
	}{
		{"limit buy below", domain.OrderKindLimit, domain.SideBuy, "99", true},
		{"limit buy at", domain.OrderKindLimit, domain.SideBuy, "100", true},
		{"limit buy above", domain.OrderKindLimit, domain.SideBuy, "101", false},
		{"limit sell above", domain.OrderKindLimit, domain.SideSell, "101", true},
		{"limit sell below", domain.OrderKindLimit, domain.SideSell, "99", false},
		{"sl buy above trigger", domain.OrderKindSL, domain.SideBuy, "201", true},
		{"sl buy below trigger", domain.OrderKindSL, domain.SideBuy, "199", false},
		{"slm sell below trigger", domain.OrderKindSLM, domain.SideSell, "199", true},
		{"slm sell above trigger", domain.OrderKindSLM, domain.SideSell, "201", false},
		{"market never rests", domain.OrderKindMarket, domain.SideBuy, "1", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &domain.Order{
				Kind:         tc.kind,
				Side:         tc.side,
				LimitPrice:   &limit,
				TriggerPrice: &trigger,
			}
			assert.Equal(t, tc.want, shouldTrigger(o, dec(tc.ltp)))
		})
	}
}
