package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/kagaztrade/kagaz/internal/modules/orders"
)

// OrderHandlers serves the order lifecycle endpoints
type OrderHandlers struct {
	orders *orders.Service
	log    zerolog.Logger
}

// NewOrderHandlers creates order handlers
func NewOrderHandlers(orderService *orders.Service, log zerolog.Logger) *OrderHandlers {
	return &OrderHandlers{
		orders: orderService,
		log:    log.With().Str("handler", "orders").Logger(),
	}
}

type placeOrderRequest struct {
	AccountID    string `json:"account_id"`
	Symbol       string `json:"symbol"`
	Segment      string `json:"segment"`
	Side         string `json:"side"`
	Kind         string `json:"kind"`
	Qty          int64  `json:"qty"`
	LimitPrice   string `json:"limit_price,omitempty"`
	TriggerPrice string `json:"trigger_price,omitempty"`
	StrategyTag  string `json:"strategy_tag,omitempty"`
}

// HandlePlace places an order. Market orders fill synchronously; the
// response carries the final state (FILLED or REJECTED). Resting kinds
// return PENDING.
// POST /api/orders
func (h *OrderHandlers) HandlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.log, w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	o, err := h.buildOrder(&req)
	if err != nil {
		writeError(h.log, w, http.StatusBadRequest, err)
		return
	}

	placed, err := h.orders.PlaceOrder(r.Context(), o)
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}

	writeJSON(h.log, w, http.StatusCreated, placed)
}

func (h *OrderHandlers) buildOrder(req *placeOrderRequest) (*domain.Order, error) {
	segment, err := domain.SegmentFromString(req.Segment)
	if err != nil {
		return nil, err
	}
	side, err := domain.SideFromString(req.Side)
	if err != nil {
		return nil, err
	}
	kind, err := domain.OrderKindFromString(req.Kind)
	if err != nil {
		return nil, err
	}

	o := &domain.Order{
		AccountID:    req.AccountID,
		Symbol:       req.Symbol,
		Segment:      segment,
		Side:         side,
		Kind:         kind,
		RequestedQty: req.Qty,
		StrategyTag:  req.StrategyTag,
	}

	if req.LimitPrice != "" {
		p, err := decimal.NewFromString(req.LimitPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid limit_price: %q", req.LimitPrice)
		}
		o.LimitPrice = &p
	}
	if req.TriggerPrice != "" {
		p, err := decimal.NewFromString(req.TriggerPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger_price: %q", req.TriggerPrice)
		}
		o.TriggerPrice = &p
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// HandleGet returns one order
// GET /api/orders/{id}
func (h *OrderHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, o)
}

// HandleCancel cancels a PENDING order
// POST /api/orders/{id}/cancel
func (h *OrderHandlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CancelOrder(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, o)
}

type modifyOrderRequest struct {
	Qty          *int64  `json:"qty,omitempty"`
	LimitPrice   *string `json:"limit_price,omitempty"`
	TriggerPrice *string `json:"trigger_price,omitempty"`
}

// HandleModify changes quantity and/or prices of a PENDING order. Omitted
// fields stay as they are.
// PATCH /api/orders/{id}
func (h *OrderHandlers) HandleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.log, w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	var limitPrice, triggerPrice *decimal.Decimal
	if req.LimitPrice != nil {
		p, err := decimal.NewFromString(*req.LimitPrice)
		if err != nil {
			writeError(h.log, w, http.StatusBadRequest, fmt.Errorf("invalid limit_price: %q", *req.LimitPrice))
			return
		}
		limitPrice = &p
	}
	if req.TriggerPrice != nil {
		p, err := decimal.NewFromString(*req.TriggerPrice)
		if err != nil {
			writeError(h.log, w, http.StatusBadRequest, fmt.Errorf("invalid trigger_price: %q", *req.TriggerPrice))
			return
		}
		triggerPrice = &p
	}

	o, err := h.orders.ModifyOrder(chi.URLParam(r, "id"), req.Qty, limitPrice, triggerPrice)
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, o)
}

type closePositionRequest struct {
	ExitPrice string `json:"exit_price,omitempty"`
}

// HandleClosePosition closes an OPEN position in full. Without an
// exit_price the current LTP is used.
// POST /api/positions/{id}/close
func (h *OrderHandlers) HandleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(h.log, w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	var exitPrice *decimal.Decimal
	if req.ExitPrice != "" {
		p, err := decimal.NewFromString(req.ExitPrice)
		if err != nil || !p.IsPositive() {
			writeError(h.log, w, http.StatusBadRequest, fmt.Errorf("exit_price must be a positive decimal string"))
			return
		}
		exitPrice = &p
	}

	o, err := h.orders.ClosePosition(r.Context(), chi.URLParam(r, "id"), exitPrice)
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, o)
}
