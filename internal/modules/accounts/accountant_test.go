package accounts

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec(database.Schema())
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestAccount(t *testing.T, repo *AccountRepository, cash string) *domain.Account {
	t.Helper()

	acct := &domain.Account{
		ID:             uuid.New().String(),
		Name:           "test trader",
		InitialCapital: dec(cash),
		AvailableCash:  dec(cash),
		MarginBlocked:  decimal.Zero,
		Currency:       "INR",
		Status:         domain.AccountActive,
		CreatedAt:      time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, repo.Create(acct))
	return acct
}

func TestMarginRates(t *testing.T) {
	assert.True(t, MarginRate(domain.SegmentEquityNSE).Equal(dec("0.25")))
	assert.True(t, MarginRate(domain.SegmentEquityBSE).Equal(dec("0.25")))
	assert.True(t, MarginRate(domain.SegmentCommodityMCX).Equal(dec("0.1")))
	assert.True(t, MarginRate(domain.SegmentCurrencyCDS).Equal(dec("0.05")))
}

func TestShortMarginBlock(t *testing.T) {
	a := NewAccountant(nil, zerolog.Nop())

	// 25% * 2500 * 10 = 6250
	assert.True(t, a.ShortMarginBlock(domain.SegmentEquityNSE, dec("2500"), 10).Equal(dec("6250")))
	// 5% * 83.25 * 100 = 416.25
	assert.True(t, a.ShortMarginBlock(domain.SegmentCurrencyCDS, dec("83.25"), 100).Equal(dec("416.25")))
	assert.True(t, a.ShortMarginBlock(domain.SegmentEquityNSE, dec("2500"), 0).IsZero())
}

func TestAuthorizeBuyRequiresNotionalPlusCosts(t *testing.T) {
	a := NewAccountant(nil, zerolog.Nop())
	acct := &domain.Account{
		ID:            "acc-1",
		AvailableCash: dec("1000"),
		Status:        domain.AccountActive,
	}

	req := AuthRequest{
		Side:    domain.SideBuy,
		Segment: domain.SegmentEquityNSE,
		Price:   dec("100"),
		OpenQty: 10,
		Costs:   domain.CostBreakdown{Total: dec("1")},
	}

	// 1000 < 1001
	err := a.Authorize(acct, req)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapital)

	acct.AvailableCash = dec("1001")
	assert.NoError(t, a.Authorize(acct, req))
}

func TestAuthorizeShortRequiresMarginPlusCosts(t *testing.T) {
	a := NewAccountant(nil, zerolog.Nop())
	acct := &domain.Account{
		ID:            "acc-1",
		AvailableCash: dec("2500"),
		Status:        domain.AccountActive,
	}

	req := AuthRequest{
		Side:    domain.SideSell,
		Segment: domain.SegmentEquityNSE,
		Price:   dec("100"),
		OpenQty: 100,
		Costs:   domain.CostBreakdown{Total: dec("10")},
	}

	// margin 25% * 100 * 100 = 2500, plus 10 costs
	err := a.Authorize(acct, req)
	assert.ErrorIs(t, err, domain.ErrInsufficientMargin)

	acct.AvailableCash = dec("2510")
	assert.NoError(t, a.Authorize(acct, req))
}

func TestAuthorizePureCoverAlwaysPasses(t *testing.T) {
	a := NewAccountant(nil, zerolog.Nop())
	acct := &domain.Account{
		ID:            "acc-1",
		AvailableCash: decimal.Zero,
		Status:        domain.AccountActive,
	}

	err := a.Authorize(acct, AuthRequest{
		Side:    domain.SideBuy,
		Segment: domain.SegmentEquityNSE,
		Price:   dec("100"),
		OpenQty: 0,
		Costs:   domain.CostBreakdown{Total: dec("50")},
	})
	assert.NoError(t, err)
}

func TestAuthorizeClosedAccount(t *testing.T) {
	a := NewAccountant(nil, zerolog.Nop())
	acct := &domain.Account{
		ID:            "acc-1",
		AvailableCash: dec("100000"),
		Status:        domain.AccountClosed,
	}

	err := a.Authorize(acct, AuthRequest{Side: domain.SideBuy, OpenQty: 1, Price: dec("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidOrderState)
}

func TestSettleLongOpenDebitsCash(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db, zerolog.Nop())
	a := NewAccountant(repo, zerolog.Nop())
	acct := newTestAccount(t, repo, "100000")

	f := domain.Fill{
		AccountID: acct.ID,
		Side:      domain.SideBuy,
		Price:     dec("100"),
		Qty:       10,
	}
	res := &domain.FillResult{OpenedQty: 10, OpenCosts: dec("5"), CloseCosts: decimal.Zero, ReleasedMargin: decimal.Zero}

	require.NoError(t, a.Settle(db, acct, f, res))
	assert.True(t, acct.AvailableCash.Equal(dec("98995")), "cash = %s", acct.AvailableCash)

	stored, err := repo.GetByID(db, acct.ID)
	require.NoError(t, err)
	assert.True(t, stored.AvailableCash.Equal(dec("98995")))
}

func TestSettleLongRoundTripConservesCash(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db, zerolog.Nop())
	a := NewAccountant(repo, zerolog.Nop())
	acct := newTestAccount(t, repo, "100000")

	buy := domain.Fill{AccountID: acct.ID, Side: domain.SideBuy, Price: dec("100"), Qty: 10}
	require.NoError(t, a.Settle(db, acct, buy, &domain.FillResult{
		OpenedQty: 10, OpenCosts: dec("5"),
		CloseCosts: decimal.Zero, ReleasedMargin: decimal.Zero,
	}))

	// Sell everything at the same price: cash comes back minus both legs'
	// costs, exactly.
	sell := domain.Fill{AccountID: acct.ID, Side: domain.SideSell, Price: dec("100"), Qty: 10}
	require.NoError(t, a.Settle(db, acct, sell, &domain.FillResult{
		ClosedQty: 10, CloseCosts: dec("5"),
		OpenCosts: decimal.Zero, ReleasedMargin: decimal.Zero,
	}))

	assert.True(t, acct.AvailableCash.Equal(dec("99990")), "cash = %s", acct.AvailableCash)
}

func TestSettleShortOpenAndCover(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db, zerolog.Nop())
	a := NewAccountant(repo, zerolog.Nop())
	acct := newTestAccount(t, repo, "100000")

	// Open short 100 @ 100: block 2500 margin, debit 10 costs.
	open := domain.Fill{
		AccountID:        acct.ID,
		Side:             domain.SideSell,
		Price:            dec("100"),
		Qty:              100,
		ShortMarginBlock: dec("2500"),
	}
	require.NoError(t, a.Settle(db, acct, open, &domain.FillResult{
		OpenedQty: 100, OpenCosts: dec("10"),
		CloseCosts: decimal.Zero, ReleasedMargin: decimal.Zero,
	}))
	assert.True(t, acct.AvailableCash.Equal(dec("97490")))
	assert.True(t, acct.MarginBlocked.Equal(dec("2500")))

	// Cover at 90: release the full block, credit net P&L (100-90)*100 - 8.
	cover := domain.Fill{AccountID: acct.ID, Side: domain.SideBuy, Price: dec("90"), Qty: 100}
	require.NoError(t, a.Settle(db, acct, cover, &domain.FillResult{
		ClosedQty:      100,
		CloseCosts:     dec("8"),
		OpenCosts:      decimal.Zero,
		ReleasedMargin: dec("2500"),
		Trade:          &domain.Trade{NetPnl: dec("992")},
	}))
	assert.True(t, acct.AvailableCash.Equal(dec("100982")), "cash = %s", acct.AvailableCash)
	assert.True(t, acct.MarginBlocked.IsZero())
}

func TestSettleDetectsConcurrentWriter(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db, zerolog.Nop())
	a := NewAccountant(repo, zerolog.Nop())
	acct := newTestAccount(t, repo, "100000")

	// Another writer moves the balance behind our back.
	_, err := db.Exec("UPDATE accounts SET available_cash = '50000' WHERE id = ?", acct.ID)
	require.NoError(t, err)

	f := domain.Fill{AccountID: acct.ID, Side: domain.SideBuy, Price: dec("100"), Qty: 1}
	err = a.Settle(db, acct, f, &domain.FillResult{
		OpenedQty: 1, OpenCosts: decimal.Zero,
		CloseCosts: decimal.Zero, ReleasedMargin: decimal.Zero,
	})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestAccountRepositoryCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db, zerolog.Nop())

	acct := newTestAccount(t, repo, "500000")

	stored, err := repo.GetByID(db, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.Name, stored.Name)
	assert.True(t, stored.InitialCapital.Equal(dec("500000")))
	assert.Equal(t, "INR", stored.Currency)
	assert.Equal(t, domain.AccountActive, stored.Status)

	_, err = repo.GetByID(db, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
