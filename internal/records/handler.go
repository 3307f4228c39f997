// Package records exposes the minimal record API tenants use to create
// rows in their own store. Creation is guarded by the quota enforcer.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/valinor-ai/haven/internal/quota"
	"github.com/valinor-ai/haven/internal/tenant"
	"github.com/valinor-ai/haven/internal/tenantstore"
)

// Handler handles record HTTP endpoints.
type Handler struct {
	enforcer *quota.Enforcer
	stores   tenantstore.Opener
	logger   *slog.Logger
}

// NewHandler creates a new records handler.
func NewHandler(enforcer *quota.Enforcer, stores tenantstore.Opener, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{enforcer: enforcer, stores: stores, logger: logger}
}

// RegisterRoutes mounts the record endpoints on mux. Creation passes
// through the quota guard first.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	guard := quota.RequireQuotaFor(h.enforcer, func(r *http.Request) string {
		return r.PathValue("dataset")
	})
	mux.Handle("POST /api/v1/records/{dataset}", guard(http.HandlerFunc(h.HandleCreate)))
	mux.HandleFunc("GET /api/v1/records/{dataset}/count", h.HandleCount)
}

// HandleCreate inserts one record into the caller's store.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

	dataset := r.PathValue("dataset")
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var rec *tenantstore.Record
	err := h.withCallerStore(r.Context(), func(ctx context.Context, st tenantstore.Store) error {
		var err error
		rec, err = st.InsertRecord(ctx, dataset, data)
		return err
	})
	if err != nil {
		h.writeError(w, err, "record creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// HandleCount returns how many records the caller's store holds.
func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	dataset := r.PathValue("dataset")
	if !tenantstore.IsRecordDataset(dataset) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource type"})
		return
	}

	var n int64
	err := h.withCallerStore(r.Context(), func(ctx context.Context, st tenantstore.Store) error {
		var err error
		n, err = st.Count(ctx, dataset)
		return err
	})
	if err != nil {
		h.writeError(w, err, "counting records failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"dataset": dataset, "count": n})
}

func (h *Handler) withCallerStore(ctx context.Context, fn func(ctx context.Context, st tenantstore.Store) error) error {
	t, err := h.enforcer.ResolveTenant(ctx)
	if err != nil {
		return err
	}
	if t.System {
		return tenant.ErrSystemTenant
	}
	return h.stores.WithStore(ctx, t.StoreID, fn)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, quota.ErrNoCompany):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "no tenant bound to caller"})
	case errors.Is(err, tenant.ErrSystemTenant):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "the platform tenant holds no records"})
	case errors.Is(err, tenant.ErrTenantNotFound), errors.Is(err, tenantstore.ErrStoreNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
	case errors.Is(err, tenantstore.ErrUnknownDataset):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource type"})
	default:
		h.logger.Error(fallback, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
