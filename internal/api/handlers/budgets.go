package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dvloznov/invoice-verifier/internal/api/middleware"
	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BudgetReader exposes allocation snapshots.
type BudgetReader interface {
	Snapshot(department, period string) (domain.BudgetSnapshot, error)
	Snapshots() []domain.BudgetSnapshot
}

// BudgetsHandler serves budget metrics.
type BudgetsHandler struct {
	ledger BudgetReader
	log    zerolog.Logger
}

// NewBudgetsHandler creates a new budgets handler.
func NewBudgetsHandler(ledger BudgetReader, log zerolog.Logger) *BudgetsHandler {
	return &BudgetsHandler{ledger: ledger, log: log}
}

type budgetResponse struct {
	domain.BudgetSnapshot
	Capacity *domain.Capacity `json:"capacity,omitempty"`
}

// ListBudgets handles GET /api/budgets
func (h *BudgetsHandler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	snapshots := h.ledger.Snapshots()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"budgets": snapshots,
		"count":   len(snapshots),
	})
}

// GetBudget handles GET /api/budgets/{department}/{period}?amount=
// When amount is given the response also says whether it would fit.
func (h *BudgetsHandler) GetBudget(w http.ResponseWriter, r *http.Request, department, period string) {
	snapshot, err := h.ledger.Snapshot(department, period)
	var notFound *domain.AllocationNotFoundError
	if errors.As(err, &notFound) {
		middleware.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("department", department).Str("period", period).Msg("Failed to read budget")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read budget")
		return
	}

	resp := budgetResponse{BudgetSnapshot: snapshot}
	if s := strings.TrimSpace(r.URL.Query().Get("amount")); s != "" {
		amount, err := decimal.NewFromString(s)
		if err != nil || amount.IsNegative() {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid amount")
			return
		}
		capacity := snapshot.CapacityFor(amount)
		resp.Capacity = &capacity
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
