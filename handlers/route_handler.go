package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/middleware"
	"github.com/upb/llm-quota-router/services"
	"github.com/upb/llm-quota-router/services/audit"
	"github.com/upb/llm-quota-router/services/invoker"
	"github.com/upb/llm-quota-router/services/routing"
	"github.com/upb/llm-quota-router/utils"
)

// RouteService is the routing surface the handler drives
type RouteService interface {
	Route(ctx context.Context, prompt string, strategy string, opts routing.Options) (*invoker.Result, error)
	RoutePreset(ctx context.Context, preset string, prompt string, opts routing.Options) (*invoker.Result, error)
	GetStats() routing.Stats
}

// AuditStatsSource reports the audit worker counters
type AuditStatsSource interface {
	GetStats() audit.Stats
}

// RouteRequest is the body of POST /api/v1/route. An unknown strategy is
// routed as cost_optimized.
type RouteRequest struct {
	Prompt      string   `json:"prompt" validate:"required,max=200000"`
	Strategy    string   `json:"strategy,omitempty" validate:"omitempty,max=64"`
	Preset      string   `json:"preset,omitempty" validate:"omitempty,oneof=quick complex creative analysis"`
	MaxTokens   int      `json:"max_tokens,omitempty" validate:"omitempty,gt=0,lte=32000"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	Model       string   `json:"model,omitempty" validate:"omitempty,max=128"`
	MaxCost     float64  `json:"max_cost,omitempty" validate:"omitempty,gt=0"`
}

// StatsResponse is the body of GET /api/v1/routing/stats
type StatsResponse struct {
	Routing routing.Stats `json:"routing"`
	Audit   *audit.Stats  `json:"audit,omitempty"`
}

// RouteHandler handles routing HTTP requests
type RouteHandler struct {
	router RouteService
	audit  AuditStatsSource
	logger *zap.Logger
}

// NewRouteHandler creates a new RouteHandler. auditStats may be nil.
func NewRouteHandler(router RouteService, auditStats AuditStatsSource, logger *zap.Logger) *RouteHandler {
	return &RouteHandler{
		router: router,
		audit:  auditStats,
		logger: logger,
	}
}

// HandleRoute handles POST /api/v1/route
func (h *RouteHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req RouteRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if req.Strategy != "" && req.Preset != "" {
		HandleValidationError(w, errors.New("strategy and preset are mutually exclusive"), h.logger)
		return
	}

	opts := routing.Options{
		RequestID:   requestID,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Model:       req.Model,
		MaxCost:     req.MaxCost,
	}

	var (
		result *invoker.Result
		err    error
	)
	if req.Preset != "" {
		result, err = h.router.RoutePreset(ctx, req.Preset, req.Prompt, opts)
	} else {
		result, err = h.router.Route(ctx, req.Prompt, req.Strategy, opts)
	}
	if err != nil {
		h.logger.Info("route failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, withAttempts(err, result), h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write route response", zap.Error(err))
	}
}

// HandleStats handles GET /api/v1/routing/stats
func (h *RouteHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	response := StatsResponse{Routing: h.router.GetStats()}
	if h.audit != nil {
		stats := h.audit.GetStats()
		response.Audit = &stats
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write stats response", zap.Error(err))
	}
}

// withAttempts copies a failed result's attempt log into the error details
func withAttempts(err error, result *invoker.Result) error {
	var domainErr *services.DomainError
	if result == nil || !errors.As(err, &domainErr) {
		return err
	}

	out := services.NewDomainError(domainErr.Type, domainErr.Message, domainErr.Err)
	for k, v := range domainErr.Details {
		out.WithDetail(k, v)
	}
	if result.RequestID != "" {
		out.WithDetail("request_id", result.RequestID)
	}
	if len(result.Attempts) > 0 {
		out.WithDetail("providers_tried", result.Attempts)
	}
	return out
}
