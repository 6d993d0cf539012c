package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/middleware"
	"github.com/upb/llm-quota-router/services/budget"
	"github.com/upb/llm-quota-router/utils"
)

// CostLedger is the running spend the cost endpoints read and reset
type CostLedger interface {
	Totals() budget.Totals
	Reset(period budget.BudgetPeriod) error
}

// ResetCostsRequest is the body of POST /api/v1/admin/costs/reset
type ResetCostsRequest struct {
	Period string `json:"period" validate:"required,oneof=daily monthly"`
}

// CostHandler serves the spend totals
type CostHandler struct {
	costs  CostLedger
	logger *zap.Logger
}

// NewCostHandler creates a new CostHandler
func NewCostHandler(costs CostLedger, logger *zap.Logger) *CostHandler {
	return &CostHandler{costs: costs, logger: logger}
}

// HandleGetCosts handles GET /api/v1/costs
func (h *CostHandler) HandleGetCosts(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.costs.Totals()); err != nil {
		h.logger.Error("failed to write cost totals", zap.Error(err))
	}
}

// HandleResetCosts handles POST /api/v1/admin/costs/reset
func (h *CostHandler) HandleResetCosts(w http.ResponseWriter, r *http.Request) {
	var req ResetCostsRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.costs.Reset(budget.BudgetPeriod(req.Period)); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	subject := ""
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	h.logger.Info("cost totals reset",
		zap.String("period", req.Period),
		zap.String("subject", subject),
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))

	if err := utils.WriteOK(w, h.costs.Totals()); err != nil {
		h.logger.Error("failed to write cost totals", zap.Error(err))
	}
}
