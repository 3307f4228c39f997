package plan

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/valinor-ai/haven/internal/audit"
	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/entitlement"
)

// Handler handles plan HTTP endpoints.
type Handler struct {
	propagator *Propagator
	audit      audit.Logger
}

// NewHandler creates a new plan handler.
func NewHandler(propagator *Propagator, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{propagator: propagator, audit: auditLog}
}

// HandleCreate creates a plan.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req Bundle
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	p, err := h.propagator.CreatePlan(r.Context(), req)
	if err != nil {
		writeError(w, err, "plan creation failed")
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionPlanCreated,
		ResourceType: audit.ResourcePlan,
		ResourceID:   audit.ParseID(p.ID),
		Metadata:     map[string]any{"name": p.Name},
		Source:       "api",
	})

	writeJSON(w, http.StatusCreated, p)
}

// HandleGet returns a plan by ID.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.propagator.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, "fetching plan failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleList returns all plans.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	plans, err := h.propagator.ListPlans(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing plans failed"})
		return
	}
	if plans == nil {
		plans = []Plan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

// HandleUpdate replaces a plan's bundle and propagates it to its tenants.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	id := r.PathValue("id")
	var req Bundle
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	p, propagated, err := h.propagator.UpdatePlan(r.Context(), id, req)
	if err != nil && p == nil {
		writeError(w, err, "plan update failed")
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionPlanUpdated,
		ResourceType: audit.ResourcePlan,
		ResourceID:   audit.ParseID(p.ID),
		Metadata:     map[string]any{audit.MetadataPropagated: propagated},
		Source:       "api",
	})

	if err != nil {
		// The plan is stored but its tenants could not be listed.
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "plan updated but propagation failed",
			"plan":  p,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"plan": p, "propagated": propagated})
}

// HandleDelete removes a plan no tenant references.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.propagator.DeletePlan(r.Context(), id); err != nil {
		writeError(w, err, "plan deletion failed")
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionPlanDeleted,
		ResourceType: audit.ResourcePlan,
		ResourceID:   audit.ParseID(id),
		Source:       "api",
	})

	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrPlanNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "plan not found"})
	case errors.Is(err, ErrPlanNameTaken), errors.Is(err, ErrPlanInUse):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrPlanNameEmpty),
		errors.Is(err, ErrNegativePrice),
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
