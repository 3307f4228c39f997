package quota_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/haven/internal/entitlement"
	"github.com/valinor-ai/haven/internal/platform/middleware"
	"github.com/valinor-ai/haven/internal/quota"
)

func TestRequireQuota(t *testing.T) {
	f := newFixture(t, quota.Config{})
	tn := f.tenant(t, "Acme", entitlement.Limits{"forms": 1})

	called := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called++
		w.WriteHeader(http.StatusCreated)
	})
	handler := quota.RequireQuota(f.enforcer, "forms")(next)

	serve := func(company string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/records/forms", nil)
		if company != "" {
			req = req.WithContext(middleware.WithCompany(req.Context(), company))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	w := serve("Acme")
	assert.Equal(t, http.StatusCreated, w.Code)
	f.insert(t, tn.StoreID, "forms", 1)

	w = serve("Acme")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "quota exceeded", body["error"])
	assert.Equal(t, "forms", body["resource"])
	assert.InDelta(t, 1, body["current"], 0)
	assert.InDelta(t, 1, body["ceiling"], 0)
	assert.Equal(t, 1, called)

	assert.Equal(t, http.StatusForbidden, serve("").Code)
	assert.Equal(t, http.StatusNotFound, serve("Globex").Code)
}

func TestRequireQuotaFor_UsesPathResource(t *testing.T) {
	f := newFixture(t, quota.Config{})
	f.tenant(t, "Acme", entitlement.Limits{"staff": 0})

	mux := http.NewServeMux()
	guard := quota.RequireQuotaFor(f.enforcer, func(r *http.Request) string { return r.PathValue("dataset") })
	mux.Handle("POST /records/{dataset}", guard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	do := func(dataset string) int {
		req := httptest.NewRequest(http.MethodPost, "/records/"+dataset, nil)
		req = req.WithContext(middleware.WithCompany(req.Context(), "Acme"))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusTooManyRequests, do("staff"))
	assert.Equal(t, http.StatusCreated, do("forms"))
}
