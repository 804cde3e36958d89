package domain

import "errors"

// Domain error taxonomy. Handlers and callers match these with errors.Is;
// lower layers wrap them with context via fmt.Errorf("...: %w", err).
var (
	// ErrPriceUnavailable means no positive reference price could be
	// resolved for a market order. Retryable by the caller with a limit
	// order.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrInsufficientCapital means pre-trade authorization failed for a
	// buy that opens or adds long exposure. No state was mutated.
	ErrInsufficientCapital = errors.New("insufficient capital")

	// ErrInsufficientMargin means pre-trade authorization failed for a
	// sell that opens or adds short exposure. No state was mutated.
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrInvalidOrderState means a cancel or modify was attempted on an
	// order that is not PENDING.
	ErrInvalidOrderState = errors.New("invalid order state")

	// ErrNotFound means an unknown order, position or account id.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict signals an optimistic-lock failure on the
	// account balance. The order controller retries a bounded number of
	// times before surfacing a generic failure; it is never returned to
	// API callers directly.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
