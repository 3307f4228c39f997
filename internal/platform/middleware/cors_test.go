package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valinor-ai/haven/internal/platform/middleware"
)

const adminOrigin = "https://admin.haven.test"

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		origin      string
		wantStatus  int
		wantNext    bool
		wantAllowed bool
	}{
		{"allowed origin", http.MethodGet, adminOrigin, http.StatusOK, true, true},
		{"allowed preflight", http.MethodOptions, adminOrigin, http.StatusNoContent, false, true},
		{"disallowed origin", http.MethodGet, "https://evil.test", http.StatusOK, true, false},
		{"disallowed preflight", http.MethodOptions, "https://evil.test", http.StatusNoContent, false, false},
		{"no origin", http.MethodPatch, "", http.StatusOK, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextCalled := false
			handler := middleware.CORS([]string{adminOrigin})(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					nextCalled = true
					w.WriteHeader(http.StatusOK)
				}),
			)

			req := httptest.NewRequest(tt.method, "/api/v1/tenants/abc", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantNext, nextCalled)
			assert.Equal(t, "Origin", rec.Header().Get("Vary"))

			if !tt.wantAllowed {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
				return
			}
			assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
			assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Request-ID")
			assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
		})
	}
}

func TestCORS_Wildcard(t *testing.T) {
	handler := middleware.CORS([]string{"*", adminOrigin + "/"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	req.Header.Set("Origin", "https://other.test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	// Trailing slashes in configured origins are ignored.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	req.Header.Set("Origin", adminOrigin)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, adminOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
