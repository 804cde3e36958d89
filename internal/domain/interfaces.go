package domain

import "context"

// QuoteSource resolves a reference price (LTP) for a market order. The
// engine consumes quotes but does not produce them; implementations live in
// internal/clients/quotefeed. A source may return a stale or non-positive
// price; callers must treat that as ErrPriceUnavailable, not crash.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string, segment Segment) (*Quote, error)
}
