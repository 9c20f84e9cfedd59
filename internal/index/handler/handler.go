package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustindex/internal/index/models"
	"trustindex/pkg/platform/httputil"
	"trustindex/pkg/requestcontext"
)

// Service defines the trust index operations exposed over HTTP.
type Service interface {
	Lookup(ctx context.Context, account models.AccountID) (*models.IndexReport, error)
	Calculate(ctx context.Context, account models.AccountID) (*models.IndexReport, error)
}

// Handler wires trust index endpoints to the index service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts trust index endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/index/{account_id}", h.HandleLookup)
	r.Post("/v1/index/{account_id}/calculate", h.HandleCalculate)
}

// HandleLookup handles GET /v1/index/{account_id}.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	account, err := models.ParseAccountID(chi.URLParam(r, "account_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.service.Lookup(ctx, account)
	if err != nil {
		h.logger.ErrorContext(ctx, "trust index lookup failed",
			"request_id", requestID,
			"account_id", account,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromReport(report))
}

// HandleCalculate handles POST /v1/index/{account_id}/calculate.
func (h *Handler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	account, err := models.ParseAccountID(chi.URLParam(r, "account_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.service.Calculate(ctx, account)
	if err != nil {
		h.logger.ErrorContext(ctx, "trust index calculation failed",
			"request_id", requestID,
			"account_id", account,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "trust index calculated",
		"request_id", requestID,
		"account_id", account,
		"whitelisted", report.Whitelisted,
		"errors", len(report.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	httputil.WriteJSON(w, http.StatusOK, FromReport(report))
}
