package quota

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/valinor-ai/haven/internal/tenant"
	"github.com/valinor-ai/haven/internal/tenantstore"
)

// RequireQuota rejects the request with 429 when the caller's tenant is at
// its ceiling for resource.
func RequireQuota(e *Enforcer, resource string) func(http.Handler) http.Handler {
	return RequireQuotaFor(e, func(*http.Request) string { return resource })
}

// RequireQuotaFor is RequireQuota with the resource taken from the request.
func RequireQuotaFor(e *Enforcer, resourceOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource := resourceOf(r)
			err := e.CheckLimit(r.Context(), resource)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var exceeded *QuotaExceededError
			switch {
			case errors.As(err, &exceeded):
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":    "quota exceeded",
					"resource": exceeded.Resource,
					"current":  exceeded.Current,
					"ceiling":  exceeded.Ceiling,
				})
			case errors.Is(err, ErrNoCompany):
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "no tenant bound to caller"})
			case errors.Is(err, tenant.ErrTenantNotFound):
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
			case errors.Is(err, tenantstore.ErrUnknownDataset):
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource type"})
			default:
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "quota check failed"})
			}
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
