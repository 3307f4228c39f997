package tenant

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/valinor-ai/haven/internal/audit"
	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/entitlement"
	"github.com/valinor-ai/haven/internal/plan"
)

// Handler handles tenant HTTP endpoints.
type Handler struct {
	provisioner *Provisioner
	audit       audit.Logger
}

// NewHandler creates a new tenant handler.
func NewHandler(provisioner *Provisioner, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{provisioner: provisioner, audit: auditLog}
}

type provisionResponse struct {
	Tenant  *Tenant      `json:"tenant"`
	Steps   []StepResult `json:"steps"`
	Partial bool         `json:"partial"`
}

// HandleCreate registers and provisions a new tenant.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req CreateParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.provisioner.CreateTenant(r.Context(), req)
	if err != nil && res == nil {
		writeError(w, err, "tenant creation failed")
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		TenantID:     audit.ParseID(res.Tenant.ID),
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionTenantCreated,
		ResourceType: audit.ResourceTenant,
		ResourceID:   audit.ParseID(res.Tenant.ID),
		Metadata: map[string]any{
			"name":                res.Tenant.Name,
			audit.MetadataStoreID: res.Tenant.StoreID,
			audit.MetadataPartial: res.Partial(),
		},
		Source: "api",
	})

	if err != nil {
		// The registry row exists but the pipeline stopped early.
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "tenant registered but provisioning failed",
			"tenant": res.Tenant,
			"steps":  res.Steps,
		})
		return
	}

	writeJSON(w, http.StatusCreated, provisionResponse{Tenant: res.Tenant, Steps: res.Steps, Partial: res.Partial()})
}

// HandleGet returns a tenant by ID.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant id"})
		return
	}

	t, err := h.provisioner.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "fetching tenant failed")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// HandleList returns all tenants.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.provisioner.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing tenants failed"})
		return
	}

	if tenants == nil {
		tenants = []Tenant{}
	}

	writeJSON(w, http.StatusOK, tenants)
}

// HandleUpdate applies a partial edit and re-syncs the tenant.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	id := r.PathValue("id")
	var req UpdateParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	t, err := h.provisioner.UpdateTenant(r.Context(), id, req)
	if err != nil && t == nil {
		writeError(w, err, "tenant update failed")
		return
	}

	meta := map[string]any{}
	if t.PlanID != nil {
		meta[audit.MetadataPlanID] = *t.PlanID
	}
	h.audit.Log(r.Context(), audit.Event{
		TenantID:     audit.ParseID(t.ID),
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionTenantUpdated,
		ResourceType: audit.ResourceTenant,
		ResourceID:   audit.ParseID(t.ID),
		Metadata:     meta,
		Source:       "api",
	})

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "tenant updated but configuration sync failed",
			"tenant": t,
		})
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// HandleDelete drops a tenant's store and registry row.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.provisioner.DeleteTenant(r.Context(), id); err != nil {
		writeError(w, err, "tenant deletion failed")
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionTenantDeleted,
		ResourceType: audit.ResourceTenant,
		ResourceID:   audit.ParseID(id),
		Source:       "api",
	})

	w.WriteHeader(http.StatusNoContent)
}

// HandleReprovision re-runs the provisioning pipeline.
func (h *Handler) HandleReprovision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := h.provisioner.Reprovision(r.Context(), id)
	if err != nil {
		writeError(w, err, "tenant reprovisioning failed")
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		TenantID:     audit.ParseID(res.Tenant.ID),
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionTenantReprovisioned,
		ResourceType: audit.ResourceTenant,
		ResourceID:   audit.ParseID(res.Tenant.ID),
		Metadata:     map[string]any{audit.MetadataPartial: res.Partial()},
		Source:       "api",
	})

	writeJSON(w, http.StatusOK, provisionResponse{Tenant: res.Tenant, Steps: res.Steps, Partial: res.Partial()})
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrTenantNotFound), errors.Is(err, plan.ErrPlanNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNameTaken), errors.Is(err, ErrStoreIDTaken):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrSystemTenant):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNameEmpty),
		errors.Is(err, ErrInvalidStoreID),
		errors.Is(err, entitlement.ErrNegativeLimit),
		errors.Is(err, entitlement.ErrBlankResource),
		errors.Is(err, catalog.ErrUnknownPermission):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
