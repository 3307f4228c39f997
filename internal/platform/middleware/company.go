package middleware

import (
	"context"
	"net/http"

	"github.com/valinor-ai/haven/internal/auth"
)

type companyContextKey struct{}

// CompanyContext copies the company name from the authenticated identity
// into the request context. The value may still be field-encrypted.
func CompanyContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := auth.GetIdentity(r.Context())
		if identity != nil && identity.Company != "" {
			next.ServeHTTP(w, r.WithContext(WithCompany(r.Context(), identity.Company)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WithCompany stores a company name in ctx.
func WithCompany(ctx context.Context, company string) context.Context {
	return context.WithValue(ctx, companyContextKey{}, company)
}

// GetCompany retrieves the company name from the request context.
func GetCompany(ctx context.Context) string {
	if c, ok := ctx.Value(companyContextKey{}).(string); ok {
		return c
	}
	return ""
}
