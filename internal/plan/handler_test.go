package plan_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/haven/internal/audit"
	"github.com/valinor-ai/haven/internal/plan"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) Close() error { return nil }

func newTestHandler(t *testing.T) (*http.ServeMux, *fakeRegistry, *recordingAudit) {
	t.Helper()
	p, _, reg, _ := newPropagator(t)
	rec := &recordingAudit{}
	h := plan.NewHandler(p, rec)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/plans", h.HandleList)
	mux.HandleFunc("POST /api/v1/plans", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/plans/{id}", h.HandleGet)
	mux.HandleFunc("PUT /api/v1/plans/{id}", h.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/plans/{id}", h.HandleDelete)
	return mux, reg, rec
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func createPlan(t *testing.T, mux http.Handler, body string) plan.Plan {
	t.Helper()
	w := do(mux, http.MethodPost, "/api/v1/plans", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p plan.Plan
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestHandler_CreateAndGet(t *testing.T) {
	mux, _, rec := newTestHandler(t)

	p := createPlan(t, mux, `{"name":"Basic","permissions":["view_forms"],"limits":{"forms":2},"price_cents":900}`)
	assert.Equal(t, "Basic", p.Name)
	assert.Equal(t, int64(900), p.PriceCents)

	w := do(mux, http.MethodGet, "/api/v1/plans/"+p.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(mux, http.MethodGet, "/api/v1/plans", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var plans []plan.Plan
	require.NoError(t, json.NewDecoder(w.Body).Decode(&plans))
	assert.Len(t, plans, 1)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.ActionPlanCreated, rec.events[0].Action)
}

func TestHandler_CreateErrors(t *testing.T) {
	mux, _, _ := newTestHandler(t)
	createPlan(t, mux, `{"name":"Basic"}`)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"empty name", `{"name":""}`, http.StatusBadRequest},
		{"negative price", `{"name":"X","price_cents":-5}`, http.StatusBadRequest},
		{"negative limit", `{"name":"X","limits":{"forms":-1}}`, http.StatusBadRequest},
		{"unknown permission", `{"name":"X","permissions":["fly"]}`, http.StatusBadRequest},
		{"duplicate", `{"name":"Basic"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(mux, http.MethodPost, "/api/v1/plans", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestHandler_GetMissing(t *testing.T) {
	mux, _, _ := newTestHandler(t)
	w := do(mux, http.MethodGet, "/api/v1/plans/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_UpdateReportsPropagation(t *testing.T) {
	mux, reg, rec := newTestHandler(t)
	p := createPlan(t, mux, `{"name":"Basic","limits":{"forms":2}}`)
	reg.subs[p.ID] = []plan.Subscriber{{TenantID: "t-1", StoreID: "acme"}, {TenantID: "t-2", StoreID: "globex"}}

	w := do(mux, http.MethodPut, "/api/v1/plans/"+p.ID, `{"name":"Basic","limits":{"forms":5}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Plan       plan.Plan `json:"plan"`
		Propagated int       `json:"propagated"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Propagated)
	assert.Equal(t, int64(5), resp.Plan.Limits["forms"])

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, audit.ActionPlanUpdated, last.Action)
	assert.Equal(t, 2, last.Metadata[audit.MetadataPropagated])
}

func TestHandler_Delete(t *testing.T) {
	mux, reg, _ := newTestHandler(t)
	used := createPlan(t, mux, `{"name":"Used"}`)
	unused := createPlan(t, mux, `{"name":"Unused"}`)
	reg.subs[used.ID] = []plan.Subscriber{{TenantID: "t-1", StoreID: "acme"}}

	w := do(mux, http.MethodDelete, "/api/v1/plans/"+used.ID, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(mux, http.MethodDelete, "/api/v1/plans/"+unused.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(mux, http.MethodDelete, "/api/v1/plans/"+unused.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
