package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/delivery/http/request"
	"github.com/user/listing-crawler/internal/delivery/http/response"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/internal/usecase"
)

// HealthChecker reports dependency status.
type HealthChecker interface {
	Check(ctx context.Context) (map[string]string, error)
}

type Handler struct {
	campaign usecase.Campaign
	health   HealthChecker
	logger   *zap.Logger
}

func NewHandler(campaign usecase.Campaign, health HealthChecker, logger *zap.Logger) *Handler {
	return &Handler{
		campaign: campaign,
		health:   health,
		logger:   logger,
	}
}

func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.campaign.Run(r.Context())
	if err != nil {
		if errors.Is(err, usecase.ErrNoCombos) {
			h.writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("failed to start crawl run", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, response.NewRunResponse(summary))
}

func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	var req request.StopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	summary, err := h.campaign.Stop(r.Context(), req.Drain)
	if err != nil {
		h.logger.Error("failed to stop crawl", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.StopResponse{Status: "stopped", Drained: summary.Drained})
}

func (h *Handler) HandleListLineages(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.campaign.Lineages(r.Context())
	if err != nil {
		h.logger.Error("failed to list lineages", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) HandleGetLineage(w http.ResponseWriter, r *http.Request) {
	combo := chi.URLParam(r, "combo")
	status, err := h.campaign.Lineage(r.Context(), combo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeJSONError(w, "Lineage not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get lineage", zap.String("combo", combo), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	stub, err := h.campaign.Item(r.Context(), externalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeJSONError(w, "Item not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get item", zap.String("external_id", externalID), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.NewItemResponse(stub))
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	deps, err := h.health.Check(r.Context())
	if err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, response.HealthResponse{Status: "degraded", Dependencies: deps})
		return
	}
	h.writeJSON(w, http.StatusOK, response.HealthResponse{Status: "ok", Dependencies: deps})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
