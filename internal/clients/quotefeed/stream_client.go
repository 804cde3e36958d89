package quotefeed

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// Ticks older than this are treated as unavailable rather than served.
	tickStaleThreshold = 5 * time.Minute
)

// tickFrame is the feed's msgpack tick payload
type tickFrame struct {
	Symbol  string `msgpack:"s"`
	Segment string `msgpack:"seg"`
	LTP     string `msgpack:"ltp"`
	Ts      int64  `msgpack:"t"`
}

// cachedTick is an LTP observation held in the stream cache
type cachedTick struct {
	quote      domain.Quote
	receivedAt time.Time
}

// StreamClient maintains a websocket subscription to the quote feed and
// caches the last traded price per (symbol, segment). It reconnects with
// exponential backoff and keeps serving whatever it has until ticks go
// stale.
type StreamClient struct {
	url        string
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	log zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	cache   map[string]cachedTick
	cacheMu sync.RWMutex
}

// NewStreamClient creates a new streaming quote client
func NewStreamClient(url string, log zerolog.Logger) *StreamClient {
	return &StreamClient{
		url:      url,
		log:      log.With().Str("component", "quote_stream").Logger(),
		stopChan: make(chan struct{}),
		cache:    make(map[string]cachedTick),
	}
}

// Start connects and begins the read loop. A failed initial connection
// falls back to the reconnect loop instead of giving up.
func (sc *StreamClient) Start() error {
	sc.log.Info().Msg("Starting quote stream client")

	if err := sc.connect(); err != nil {
		sc.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go sc.reconnectLoop()
		return err
	}

	sc.mu.RLock()
	ctx := sc.connCtx
	sc.mu.RUnlock()
	go sc.readMessages(ctx)

	return nil
}

// Stop gracefully shuts down the stream
func (sc *StreamClient) Stop() error {
	sc.mu.Lock()
	if sc.stopped {
		sc.mu.Unlock()
		return nil
	}
	sc.stopped = true
	sc.mu.Unlock()

	close(sc.stopChan)
	return sc.disconnect()
}

// GetQuote serves the cached LTP if present and fresh. Missing symbols and
// stale ticks both surface as domain.ErrPriceUnavailable so the composed
// source falls through to the HTTP client.
func (sc *StreamClient) GetQuote(_ context.Context, symbol string, segment domain.Segment) (*domain.Quote, error) {
	sc.cacheMu.RLock()
	tick, ok := sc.cache[cacheKey(symbol, segment)]
	sc.cacheMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no streamed tick for %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	if time.Since(tick.receivedAt) > tickStaleThreshold {
		return nil, fmt.Errorf("streamed tick for %s is stale: %w", symbol, domain.ErrPriceUnavailable)
	}

	quote := tick.quote
	return &quote, nil
}

// IsConnected returns current connection status
func (sc *StreamClient) IsConnected() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.connected
}

func cacheKey(symbol string, segment domain.Segment) string {
	return symbol + "|" + string(segment)
}

func (sc *StreamClient) connect() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, sc.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial quote stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	sc.conn = conn
	sc.connCtx = connCtx
	sc.cancelFunc = connCancel
	sc.connected = true

	if err := sc.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		sc.conn = nil
		sc.connCtx = nil
		sc.cancelFunc = nil
		sc.connected = false
		return fmt.Errorf("failed to subscribe to ticks: %w", err)
	}

	sc.log.Info().Str("url", sc.url).Msg("Connected to quote stream")
	return nil
}

func (sc *StreamClient) disconnect() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.conn == nil {
		return nil
	}

	if sc.cancelFunc != nil {
		sc.cancelFunc()
		sc.cancelFunc = nil
	}

	err := sc.conn.Close(websocket.StatusNormalClosure, "")
	sc.conn = nil
	sc.connCtx = nil
	sc.connected = false

	if err != nil {
		return fmt.Errorf("error closing quote stream: %w", err)
	}
	return nil
}

// subscribe announces interest in all tick traffic. The feed speaks
// msgpack both ways.
func (sc *StreamClient) subscribe(ctx context.Context) error {
	msg, err := msgpack.Marshal(map[string]string{"op": "subscribe", "channel": "ticks"})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := sc.conn.Write(writeCtx, websocket.MessageBinary, msg); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}
	return nil
}

func (sc *StreamClient) readMessages(ctx context.Context) {
	defer func() {
		sc.mu.RLock()
		stopped := sc.stopped
		sc.mu.RUnlock()
		if !stopped {
			go sc.reconnectLoop()
		}
	}()

	for {
		select {
		case <-sc.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		sc.mu.RLock()
		conn := sc.conn
		sc.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				sc.log.Info().Msg("Quote stream closed normally")
			} else if ctx.Err() == nil {
				sc.log.Error().Err(err).Msg("Quote stream read error")
			}
			return
		}

		if msgType != websocket.MessageBinary {
			continue
		}

		if err := sc.handleTick(message); err != nil {
			sc.log.Error().Err(err).Msg("Failed to handle tick frame")
			// Keep reading despite decode errors.
		}
	}
}

// handleTick decodes one msgpack tick frame into the cache
func (sc *StreamClient) handleTick(message []byte) error {
	var frame tickFrame
	if err := msgpack.Unmarshal(message, &frame); err != nil {
		return fmt.Errorf("failed to decode tick frame: %w", err)
	}

	ltp, err := decimal.NewFromString(frame.LTP)
	if err != nil {
		return fmt.Errorf("invalid ltp %q in tick: %w", frame.LTP, err)
	}
	if !ltp.IsPositive() {
		// Feeds occasionally publish zero placeholders; never cache them.
		return nil
	}

	segment, err := domain.SegmentFromString(frame.Segment)
	if err != nil {
		return fmt.Errorf("tick for unknown segment: %w", err)
	}

	quote := domain.Quote{
		Symbol:    frame.Symbol,
		Segment:   segment,
		LTP:       ltp,
		Timestamp: time.Unix(frame.Ts, 0).UTC(),
	}

	sc.cacheMu.Lock()
	sc.cache[cacheKey(frame.Symbol, segment)] = cachedTick{
		quote:      quote,
		receivedAt: time.Now(),
	}
	sc.cacheMu.Unlock()

	return nil
}

// reconnectLoop retries the connection with exponential backoff
func (sc *StreamClient) reconnectLoop() {
	sc.mu.Lock()
	if sc.reconnecting || sc.stopped {
		sc.mu.Unlock()
		return
	}
	sc.reconnecting = true
	sc.mu.Unlock()

	defer func() {
		sc.mu.Lock()
		sc.reconnecting = false
		sc.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-sc.stopChan:
			return
		default:
		}

		attempt++
		delay := backoff(attempt)

		if attempt > maxReconnectAttempts {
			sc.log.Warn().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Reconnection attempt (exceeded max attempts, will keep retrying)")
		}

		select {
		case <-time.After(delay):
		case <-sc.stopChan:
			return
		}

		if err := sc.connect(); err != nil {
			sc.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnection failed")
			continue
		}

		sc.mu.RLock()
		ctx := sc.connCtx
		sc.mu.RUnlock()
		go sc.readMessages(ctx)
		return
	}
}

func backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
