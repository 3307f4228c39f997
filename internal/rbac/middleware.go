package rbac

import (
	"encoding/json"
	"net/http"

	"github.com/valinor-ai/haven/internal/audit"
	"github.com/valinor-ai/haven/internal/auth"
)

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	audit audit.Logger
}

// WithAuditLogger attaches an audit logger to log RBAC denials.
func WithAuditLogger(logger audit.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = logger
	}
}

// RequirePermission returns middleware that checks if the authenticated
// caller has the specified permission.
func RequirePermission(engine *Evaluator, permission string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var mc middlewareConfig
	for _, opt := range opts {
		opt(&mc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.GetIdentity(r.Context())
			if identity == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
				return
			}

			decision, err := engine.Authorize(r.Context(), identity, permission)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "authorization check failed"})
				return
			}

			if !decision.Allowed {
				if mc.audit != nil {
					mc.audit.Log(r.Context(), audit.Event{
						UserID:   audit.ActorIDFromContext(r.Context()),
						TenantID: audit.ParseID(identity.TenantID),
						Action:   audit.ActionAccessDenied,
						Metadata: map[string]any{
							"permission": permission,
							"reason":     decision.Reason,
							"path":       r.URL.Path,
						},
						Source: "api",
					})
				}
				writeJSON(w, http.StatusForbidden, map[string]string{
					"error":  "forbidden",
					"reason": decision.Reason,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
