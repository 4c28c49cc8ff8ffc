package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"charlog/internal/registrysync/models"
	"charlog/internal/registrysync/orchestrator"
)

// SyncService defines the orchestrator operations the HTTP layer exposes.
type SyncService interface {
	SyncPending(ctx context.Context, kind models.EntityType, opts orchestrator.Options) (models.Stats, error)
	SyncAllPending(ctx context.Context, opts orchestrator.Options) (map[models.EntityType]models.Stats, error)
	RetryAllFailed(ctx context.Context, opts orchestrator.Options) (map[models.EntityType]models.Stats, error)
	SyncSummary(ctx context.Context) (map[models.EntityType]models.StatusCounts, error)
}

// IdentityReader is the read-only slice of the identity store the API needs.
type IdentityReader interface {
	ListByEntity(ctx context.Context, entityType models.EntityType, entityID, registryName string) ([]*models.RegistryIdentity, error)
}

// Handler wires sync endpoints to the orchestrator.
type Handler struct {
	sync       SyncService
	identities IdentityReader
	logger     *slog.Logger
}

// New constructs the sync API handler with its dependencies.
func New(sync SyncService, identities IdentityReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sync: sync, identities: identities, logger: logger}
}

// syncRequest is the optional body accepted by the sync endpoints.
type syncRequest struct {
	Limit           int  `json:"limit"`
	ContinueOnError bool `json:"continue_on_error"`
	IncludeErrors   bool `json:"include_errors"`
}

func (req syncRequest) options() orchestrator.Options {
	return orchestrator.Options{
		Limit:           req.Limit,
		ContinueOnError: req.ContinueOnError,
		IncludeErrors:   req.IncludeErrors,
	}
}

// identityResponse is the wire shape of one identity row.
type identityResponse struct {
	ID                 string            `json:"id"`
	EntityType         string            `json:"entity_type"`
	EntityID           string            `json:"entity_id"`
	RegistryName       string            `json:"registry_name"`
	ExternalEntityType string            `json:"external_entity_type"`
	ExternalID         *string           `json:"external_id"`
	SyncStatus         string            `json:"sync_status"`
	LastSyncedAt       *time.Time        `json:"last_synced_at,omitempty"`
	LastSyncError      string            `json:"last_sync_error,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func fromIdentity(row *models.RegistryIdentity) identityResponse {
	return identityResponse{
		ID:                 row.ID.String(),
		EntityType:         string(row.EntityType),
		EntityID:           row.EntityID,
		RegistryName:       row.RegistryName,
		ExternalEntityType: string(row.ExternalEntityType),
		ExternalID:         row.ExternalID,
		SyncStatus:         string(row.SyncStatus),
		LastSyncedAt:       row.LastSyncedAt,
		LastSyncError:      row.LastSyncError,
		Metadata:           row.Metadata,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

// HandleHealth handles GET /healthz requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSyncKind handles POST /sync/{kind} requests.
func (h *Handler) HandleSyncKind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := models.EntityType(chi.URLParam(r, "kind"))
	if !validKind(kind) {
		writeError(w, http.StatusBadRequest, "unknown entity kind")
		return
	}

	req, ok := decodeSyncRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	stats, err := h.sync.SyncPending(ctx, kind, req.options())
	if err != nil {
		h.logger.ErrorContext(ctx, "sync sweep failed", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	h.logger.InfoContext(ctx, "sync sweep completed",
		"kind", kind,
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, stats)
}

// HandleSyncAll handles POST /sync/all requests.
func (h *Handler) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, h.sync.SyncAllPending)
}

// HandleRetryFailed handles POST /sync/retry requests.
func (h *Handler) HandleRetryFailed(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, h.sync.RetryAllFailed)
}

func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request, run func(context.Context, orchestrator.Options) (map[models.EntityType]models.Stats, error)) {
	ctx := r.Context()
	req, ok := decodeSyncRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	results, err := run(ctx, req.options())
	if err != nil {
		h.logger.ErrorContext(ctx, "batch sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	h.logger.InfoContext(ctx, "batch sync completed",
		"kinds", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, results)
}

// HandleSyncSummary handles GET /sync/summary requests.
func (h *Handler) HandleSyncSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := h.sync.SyncSummary(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "sync summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "summary failed")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// HandleListIdentities handles GET /entities/{kind}/{id}/identities requests.
func (h *Handler) HandleListIdentities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := models.EntityType(chi.URLParam(r, "kind"))
	if !validKind(kind) {
		writeError(w, http.StatusBadRequest, "unknown entity kind")
		return
	}
	entityID := chi.URLParam(r, "id")
	registry := r.URL.Query().Get("registry")

	rows, err := h.identities.ListByEntity(ctx, kind, entityID, registry)
	if err != nil {
		h.logger.ErrorContext(ctx, "list identities failed",
			"kind", kind, "entity_id", entityID, "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]identityResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromIdentity(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func validKind(kind models.EntityType) bool {
	switch kind {
	case models.EntityFacility, models.EntityFeedstockType, models.EntityProductionRun,
		models.EntityApplication, models.EntityCreditBatch:
		return true
	}
	return false
}

// decodeSyncRequest reads an optional JSON body; an empty body means default
// options.
func decodeSyncRequest(w http.ResponseWriter, r *http.Request) (syncRequest, bool) {
	var req syncRequest
	if r.Body == nil || r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
