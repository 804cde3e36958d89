package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kagaztrade/kagaz/internal/database"
	"github.com/kagaztrade/kagaz/internal/domain"
	"github.com/kagaztrade/kagaz/internal/modules/accounts"
	"github.com/kagaztrade/kagaz/internal/modules/analytics"
	"github.com/kagaztrade/kagaz/internal/modules/orders"
	"github.com/kagaztrade/kagaz/internal/modules/trading"
)

// AccountHandlers serves the account endpoints
type AccountHandlers struct {
	db        *database.DB
	repo      *accounts.AccountRepository
	orders    *orders.Service
	trades    *trading.TradeRepository
	analytics *analytics.Service
	log       zerolog.Logger
}

// NewAccountHandlers creates account handlers
func NewAccountHandlers(
	db *database.DB,
	repo *accounts.AccountRepository,
	orderService *orders.Service,
	tradeRepo *trading.TradeRepository,
	analyticsService *analytics.Service,
	log zerolog.Logger,
) *AccountHandlers {
	return &AccountHandlers{
		db:        db,
		repo:      repo,
		orders:    orderService,
		trades:    tradeRepo,
		analytics: analyticsService,
		log:       log.With().Str("handler", "accounts").Logger(),
	}
}

type createAccountRequest struct {
	Name           string `json:"name"`
	InitialCapital string `json:"initial_capital"`
}

// HandleCreate creates a virtual trading account
// POST /api/accounts
func (h *AccountHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.log, w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if req.Name == "" {
		writeError(h.log, w, http.StatusBadRequest, fmt.Errorf("name is required"))
		return
	}
	capital, err := decimal.NewFromString(req.InitialCapital)
	if err != nil || !capital.IsPositive() {
		writeError(h.log, w, http.StatusBadRequest, fmt.Errorf("initial_capital must be a positive decimal string"))
		return
	}

	account := &domain.Account{
		ID:             uuid.New().String(),
		Name:           req.Name,
		InitialCapital: capital,
		AvailableCash:  capital,
		MarginBlocked:  decimal.Zero,
		Currency:       "INR",
		Status:         domain.AccountActive,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.repo.Create(account); err != nil {
		writeDomainError(h.log, w, err)
		return
	}

	h.log.Info().
		Str("account_id", account.ID).
		Str("initial_capital", capital.String()).
		Msg("Account created")

	writeJSON(h.log, w, http.StatusCreated, account)
}

// HandleList lists all accounts
// GET /api/accounts
func (h *AccountHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.List()
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{"accounts": all})
}

// HandleGet returns one account's summary including realized P&L
// GET /api/accounts/{id}
func (h *AccountHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	account, err := h.repo.GetByID(h.db.Conn(), id)
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}

	realized, err := h.trades.RealizedPnl(id)
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}

	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"account":      account,
		"realized_pnl": realized.String(),
	})
}

// HandlePositions returns an account's open positions
// GET /api/accounts/{id}/positions
func (h *AccountHandlers) HandlePositions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	positions, err := h.orders.ListPositions(id)
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{"positions": positions})
}

// HandleOrders returns an account's orders, newest first
// GET /api/accounts/{id}/orders
func (h *AccountHandlers) HandleOrders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, err := limitParam(r, 100)
	if err != nil {
		writeError(h.log, w, http.StatusBadRequest, err)
		return
	}

	list, err := h.orders.ListOrders(id, limit)
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{"orders": list})
}

// HandleTrades returns an account's realized trades, newest first
// GET /api/accounts/{id}/trades
func (h *AccountHandlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, err := limitParam(r, 100)
	if err != nil {
		writeError(h.log, w, http.StatusBadRequest, err)
		return
	}

	list, err := h.trades.ListByAccount(id, limit)
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{"trades": list})
}

// HandleAnalytics returns trade statistics and equity-curve indicators
// GET /api/accounts/{id}/analytics
func (h *AccountHandlers) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := h.analytics.Report(id)
	if err != nil {
		writeDomainError(h.log, w, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, report)
}

// limitParam parses an optional positive ?limit query parameter
func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit: %q", raw)
	}
	return n, nil
}
