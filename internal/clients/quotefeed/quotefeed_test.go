package quotefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kagaztrade/kagaz/internal/domain"
)

func TestClientGetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "RELIANCE", r.URL.Query().Get("symbol"))
		assert.Equal(t, "EQUITY_NSE", r.URL.Query().Get("segment"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"RELIANCE","segment":"EQUITY_NSE","ltp":"2501.35","timestamp":1700000000}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	quote, err := client.GetQuote(context.Background(), "RELIANCE", domain.SegmentEquityNSE)
	require.NoError(t, err)

	assert.Equal(t, "RELIANCE", quote.Symbol)
	assert.True(t, quote.LTP.Equal(decimal.RequireFromString("2501.35")))
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), quote.Timestamp)
}

func TestClientGetQuoteNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.GetQuote(context.Background(), "NOPE", domain.SegmentEquityNSE)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestClientGetQuoteNonPositive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"X","segment":"EQUITY_NSE","ltp":"0","timestamp":1700000000}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.GetQuote(context.Background(), "X", domain.SegmentEquityNSE)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestStreamHandleTick(t *testing.T) {
	sc := NewStreamClient("ws://unused", zerolog.Nop())

	frame, err := msgpack.Marshal(tickFrame{
		Symbol:  "INFY",
		Segment: "EQUITY_NSE",
		LTP:     "1505.85",
		Ts:      1700000000,
	})
	require.NoError(t, err)
	require.NoError(t, sc.handleTick(frame))

	quote, err := sc.GetQuote(context.Background(), "INFY", domain.SegmentEquityNSE)
	require.NoError(t, err)
	assert.True(t, quote.LTP.Equal(decimal.RequireFromString("1505.85")))

	// Unknown symbols are unavailable, not errors of another kind.
	_, err = sc.GetQuote(context.Background(), "TCS", domain.SegmentEquityNSE)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestStreamIgnoresZeroTicks(t *testing.T) {
	sc := NewStreamClient("ws://unused", zerolog.Nop())

	frame, err := msgpack.Marshal(tickFrame{Symbol: "INFY", Segment: "EQUITY_NSE", LTP: "0", Ts: 1700000000})
	require.NoError(t, err)
	require.NoError(t, sc.handleTick(frame))

	_, err = sc.GetQuote(context.Background(), "INFY", domain.SegmentEquityNSE)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestStreamStaleTickUnavailable(t *testing.T) {
	sc := NewStreamClient("ws://unused", zerolog.Nop())

	frame, err := msgpack.Marshal(tickFrame{Symbol: "INFY", Segment: "EQUITY_NSE", LTP: "1500", Ts: 1700000000})
	require.NoError(t, err)
	require.NoError(t, sc.handleTick(frame))

	// Age the cached tick past the staleness threshold.
	sc.cacheMu.Lock()
	tick := sc.cache[cacheKey("INFY", domain.SegmentEquityNSE)]
	tick.receivedAt = time.Now().Add(-tickStaleThreshold - time.Second)
	sc.cache[cacheKey("INFY", domain.SegmentEquityNSE)] = tick
	sc.cacheMu.Unlock()

	_, err = sc.GetQuote(context.Background(), "INFY", domain.SegmentEquityNSE)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

// fixedSource serves a canned response for composition tests
type fixedSource struct {
	quote *domain.Quote
	err   error
}

func (f *fixedSource) GetQuote(context.Context, string, domain.Segment) (*domain.Quote, error) {
	return f.quote, f.err
}

func TestSourcePrefersStream(t *testing.T) {
	streamed := &domain.Quote{Symbol: "INFY", LTP: decimal.RequireFromString("1500")}
	src := NewSource(
		&fixedSource{quote: streamed},
		&fixedSource{err: domain.ErrPriceUnavailable},
		zerolog.Nop(),
	)

	quote, err := src.GetQuote(context.Background(), "INFY", domain.SegmentEquityNSE)
	require.NoError(t, err)
	assert.Equal(t, streamed, quote)
}

func TestSourceFallsThroughOnUnavailable(t *testing.T) {
	fetched := &domain.Quote{Symbol: "INFY", LTP: decimal.RequireFromString("1501")}
	src := NewSource(
		&fixedSource{err: domain.ErrPriceUnavailable},
		&fixedSource{quote: fetched},
		zerolog.Nop(),
	)

	quote, err := src.GetQuote(context.Background(), "INFY", domain.SegmentEquityNSE)
	require.NoError(t, err)
	assert.Equal(t, fetched, quote)
}

func TestSourceWithoutStream(t *testing.T) {
	fetched := &domain.Quote{Symbol: "INFY", LTP: decimal.RequireFromString("1501")}
	src := NewSource(nil, &fixedSource{quote: fetched}, zerolog.Nop())

	quote, err := src.GetQuote(context.Background(), "INFY", domain.SegmentEquityNSE)
	require.NoError(t, err)
	assert.Equal(t, fetched, quote)
}
