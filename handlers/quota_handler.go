package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/services"
	"github.com/upb/llm-quota-router/services/providers"
	"github.com/upb/llm-quota-router/services/quota"
	"github.com/upb/llm-quota-router/utils"
)

// QuotaReporter is the read side of the quota manager
type QuotaReporter interface {
	Status() quota.StatusReport
	AvailableProviders() []string
	BestProvider() (string, bool)
}

// ProviderCatalog lists the registered providers
type ProviderCatalog interface {
	Descriptors() []providers.Descriptor
}

// BestProviderResponse is the body of GET /api/v1/providers/best
type BestProviderResponse struct {
	Provider string `json:"provider,omitempty"`
	Found    bool   `json:"found"`
}

// QuotaHandler serves quota and provider availability
type QuotaHandler struct {
	quota     QuotaReporter
	providers ProviderCatalog
	logger    *zap.Logger
}

// NewQuotaHandler creates a new QuotaHandler
func NewQuotaHandler(quota QuotaReporter, catalog ProviderCatalog, logger *zap.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:     quota,
		providers: catalog,
		logger:    logger,
	}
}

// HandleQuotaReport handles GET /api/v1/quota
func (h *QuotaHandler) HandleQuotaReport(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.quota.Status()); err != nil {
		h.logger.Error("failed to write quota report", zap.Error(err))
	}
}

// HandleProviderQuota handles GET /api/v1/quota/{provider}
func (h *QuotaHandler) HandleProviderQuota(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	if err := utils.ValidateProviderName(name); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	status, ok := h.quota.Status().Providers[name]
	if !ok {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeNotFound, "provider has no daily limits", nil).
			WithDetail("provider", name), h.logger)
		return
	}

	if err := utils.WriteOK(w, status); err != nil {
		h.logger.Error("failed to write provider quota", zap.Error(err))
	}
}

// HandleListProviders handles GET /api/v1/providers
func (h *QuotaHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.providers.Descriptors()); err != nil {
		h.logger.Error("failed to write providers", zap.Error(err))
	}
}

// HandleAvailableProviders handles GET /api/v1/providers/available
func (h *QuotaHandler) HandleAvailableProviders(w http.ResponseWriter, r *http.Request) {
	available := h.quota.AvailableProviders()
	if available == nil {
		available = []string{}
	}
	if err := utils.WriteOK(w, available); err != nil {
		h.logger.Error("failed to write available providers", zap.Error(err))
	}
}

// HandleBestProvider handles GET /api/v1/providers/best
func (h *QuotaHandler) HandleBestProvider(w http.ResponseWriter, r *http.Request) {
	best, found := h.quota.BestProvider()
	if err := utils.WriteOK(w, BestProviderResponse{Provider: best, Found: found}); err != nil {
		h.logger.Error("failed to write best provider", zap.Error(err))
	}
}
