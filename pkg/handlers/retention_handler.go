package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypost-app/waypost-engine/pkg/apperrors"
	"github.com/waypost-app/waypost-engine/pkg/models"
	"github.com/waypost-app/waypost-engine/pkg/services"
)

// RetentionHandler exposes the retention engine to admin tooling. It is a
// boundary layer only: JSON decoding and error mapping, no lifecycle
// logic.
type RetentionHandler struct {
	engine services.RetentionEngine
	logger *zap.Logger
}

// NewRetentionHandler creates a new retention handler.
func NewRetentionHandler(engine services.RetentionEngine, logger *zap.Logger) *RetentionHandler {
	return &RetentionHandler{
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes registers the retention handler's routes on the given mux.
func (h *RetentionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/retention/sweep", h.RunSweep)
	mux.HandleFunc("POST /api/retention/tombstone", h.Tombstone)
	mux.HandleFunc("POST /api/retention/restore", h.Restore)
	mux.HandleFunc("GET /api/retention/stats", h.Stats)
	mux.HandleFunc("GET /api/retention/policies", h.Policies)
}

// lifecycleRequest is the body of tombstone/restore requests.
type lifecycleRequest struct {
	EntityType models.EntityType `json:"entity_type"`
	ID         uuid.UUID         `json:"id"`
	Reason     models.Reason     `json:"reason,omitempty"`
}

// RunSweep handles POST /api/retention/sweep. The sweep runs with the
// engine's configured policies.
func (h *RetentionHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.RunSweep(r.Context(), nil)
	if err != nil {
		h.logger.Error("Sweep failed", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "sweep_failed", "Sweep did not complete")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"results": results}); err != nil {
		h.logger.Error("Failed to write sweep response", zap.Error(err))
	}
}

// Tombstone handles POST /api/retention/tombstone.
func (h *RetentionHandler) Tombstone(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = models.ReasonAdmin
	}

	result, err := h.engine.Tombstone(r.Context(), req.EntityType, req.ID, req.Reason)
	if err != nil {
		h.writeEngineError(w, "tombstone", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write tombstone response", zap.Error(err))
	}
}

// Restore handles POST /api/retention/restore.
func (h *RetentionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	result, err := h.engine.Restore(r.Context(), req.EntityType, req.ID)
	if err != nil {
		h.writeEngineError(w, "restore", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write restore response", zap.Error(err))
	}
}

// Stats handles GET /api/retention/stats.
func (h *RetentionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetRetentionStats(r.Context())
	if err != nil {
		h.logger.Error("Failed to get retention stats", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to get retention stats")
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to write stats response", zap.Error(err))
	}
}

// Policies handles GET /api/retention/policies.
func (h *RetentionHandler) Policies(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, h.engine.GetPolicies()); err != nil {
		h.logger.Error("Failed to write policies response", zap.Error(err))
	}
}

// writeEngineError maps engine errors to HTTP statuses. Clients see error
// strings, never raw internals.
func (h *RetentionHandler) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrAncestorDeleted):
		ErrorResponse(w, http.StatusConflict, "ancestor_deleted", err.Error())
	case errors.Is(err, apperrors.ErrInvalidTransition), errors.Is(err, apperrors.ErrGraceNotElapsed):
		ErrorResponse(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, apperrors.ErrConstraintViolation):
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.logger.Error("Lifecycle operation failed", zap.String("operation", op), zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Operation failed")
	}
}
