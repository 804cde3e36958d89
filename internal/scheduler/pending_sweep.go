package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/kagaztrade/kagaz/internal/events"
	"github.com/kagaztrade/kagaz/internal/modules/orders"
)

// sweepQuoteTimeout bounds one quote lookup during the sweep so a stalled
// feed cannot hold the sweep cycle past its schedule.
const sweepQuoteTimeout = 5 * time.Second

// PendingLister lists resting orders, oldest first
type PendingLister interface {
	ListPending() ([]domain.Order, error)
}

// PendingSweepJob walks all resting orders and fires the ones whose trigger
// condition holds against the current LTP. Fired orders go through the same
// fill pipeline as market orders, at their own limit price (SLM at LTP) with
// no simulated slippage.
type PendingSweepJob struct {
	orders  *orders.Service
	pending PendingLister
	quotes  domain.QuoteSource
	events  *events.Manager
	log     zerolog.Logger
}

// NewPendingSweepJob creates the resting-order sweep job
func NewPendingSweepJob(
	orderService *orders.Service,
	pending PendingLister,
	quotes domain.QuoteSource,
	eventManager *events.Manager,
	log zerolog.Logger,
) *PendingSweepJob {
	return &PendingSweepJob{
		orders:  orderService,
		pending: pending,
		quotes:  quotes,
		events:  eventManager,
		log:     log.With().Str("job", "pending_sweep").Logger(),
	}
}

// Name returns the job name
func (j *PendingSweepJob) Name() string {
	return "pending_sweep"
}

// Run sweeps all PENDING orders once
func (j *PendingSweepJob) Run() error {
	resting, err := j.pending.ListPending()
	if err != nil {
		return err
	}
	if len(resting) == 0 {
		return nil
	}

	fired := 0
	for i := range resting {
		o := &resting[i]

		ltp, err := j.lookupLTP(o.Symbol, o.Segment)
		if err != nil {
			if !errors.Is(err, domain.ErrPriceUnavailable) {
				j.log.Warn().Err(err).
					Str("order_id", o.ID).
					Str("symbol", o.Symbol).
					Msg("Quote lookup failed during sweep")
			}
			// Order stays resting until a price shows up.
			continue
		}

		if !shouldTrigger(o, ltp) {
			continue
		}

		if err := j.orders.TriggerPending(o, ltp); err != nil {
			j.log.Error().Err(err).
				Str("order_id", o.ID).
				Str("symbol", o.Symbol).
				Msg("Failed to fire resting order")
			j.events.EmitError("scheduler", err, map[string]interface{}{
				"order_id": o.ID,
				"symbol":   o.Symbol,
			})
			continue
		}
		fired++
	}

	if fired > 0 {
		j.log.Info().
			Int("resting", len(resting)).
			Int("fired", fired).
			Msg("Pending sweep fired orders")
	}

	return nil
}

func (j *PendingSweepJob) lookupLTP(symbol string, segment domain.Segment) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepQuoteTimeout)
	defer cancel()

	quote, err := j.quotes.GetQuote(ctx, symbol, segment)
	if err != nil {
		return decimal.Zero, err
	}
	if quote == nil || !quote.LTP.IsPositive() {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return quote.LTP, nil
}

// shouldTrigger decides whether a resting order fires at the given LTP.
// LIMIT BUY fires when LTP <= limit, LIMIT SELL when LTP >= limit. SL and
// SLM fire on a trigger-price cross: BUY when LTP >= trigger, SELL when
// LTP <= trigger.
func shouldTrigger(o *domain.Order, ltp decimal.Decimal) bool {
	switch o.Kind {
	case domain.OrderKindLimit:
		if o.LimitPrice == nil {
			return false
		}
		if o.Side == domain.SideBuy {
			return ltp.LessThanOrEqual(*o.LimitPrice)
		}
		return ltp.GreaterThanOrEqual(*o.LimitPrice)

	case domain.OrderKindSL, domain.OrderKindSLM:
		if o.TriggerPrice == nil {
			return false
		}
		if o.Side == domain.SideBuy {
			return ltp.GreaterThanOrEqual(*o.TriggerPrice)
		}
		return ltp.LessThanOrEqual(*o.TriggerPrice)
	}
	return false
}
