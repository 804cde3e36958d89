package quotefeed

import (
	"context"
	"errors"

	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/rs/zerolog"
)

// Source composes the stream cache and the HTTP client into one
// QuoteSource: fresh streamed ticks win, anything else falls through to an
// HTTP fetch.
type Source struct {
	stream domain.QuoteSource
	http   domain.QuoteSource
	log    zerolog.Logger
}

var _ domain.QuoteSource = (*Source)(nil)

// NewSource creates the composed quote source. stream may be nil when the
// deployment runs without a feed subscription.
func NewSource(stream, http domain.QuoteSource, log zerolog.Logger) *Source {
	return &Source{
		stream: stream,
		http:   http,
		log:    log.With().Str("component", "quote_source").Logger(),
	}
}

// GetQuote returns the freshest price available for the symbol
func (s *Source) GetQuote(ctx context.Context, symbol string, segment domain.Segment) (*domain.Quote, error) {
	if s.stream != nil {
		quote, err := s.stream.GetQuote(ctx, symbol, segment)
		if err == nil {
			return quote, nil
		}
		if !errors.Is(err, domain.ErrPriceUnavailable) {
			return nil, err
		}
		s.log.Debug().
			Str("symbol", symbol).
			Msg("Stream cache miss, falling back to HTTP quote")
	}

	return s.http.GetQuote(ctx, symbol, segment)
}
