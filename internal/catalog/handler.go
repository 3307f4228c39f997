package catalog

import (
	"encoding/json"
	"net/http"
)

// Handler serves the catalog to admin UIs.
type Handler struct {
	catalog *Catalog
}

// NewHandler creates a new catalog handler.
func NewHandler(c *Catalog) *Handler {
	return &Handler{catalog: c}
}

type permissionView struct {
	Permission
	Dependents []string `json:"dependents,omitempty"`
}

type groupView struct {
	Key         string           `json:"key"`
	Label       string           `json:"label"`
	Tag         Tag              `json:"tag"`
	System      bool             `json:"system"`
	Permissions []permissionView `json:"permissions"`
}

// HandleList returns every group with its dependency edges.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	groups := h.catalog.Groups()
	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		v := groupView{
			Key:    g.Key,
			Label:  g.Label,
			Tag:    g.Tag,
			System: h.catalog.IsSystemGroup(g.Key),
		}
		for _, p := range g.Permissions {
			v.Permissions = append(v.Permissions, permissionView{
				Permission: p,
				Dependents: h.catalog.Dependents(p.ID),
			})
		}
		views = append(views, v)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"version": h.catalog.Version(),
		"groups":  views,
	})
}
