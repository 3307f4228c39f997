package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleListEvents_NilPool(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest("GET", "/api/v1/audit/events", nil)
	w := httptest.NewRecorder()

	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
	assert.Contains(t, w.Body.String(), `"events":[]`)
}

func TestHandleListEvents_InvalidTenantFilter(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest("GET", "/api/v1/audit/events?tenant_id=not-a-uuid", nil)
	w := httptest.NewRecorder()

	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleListEvents_ComposedFilters(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest("GET",
		"/api/v1/audit/events?tenant_id=a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11&action=tenant.created&resource_type=tenant&limit=25&before=2026-02-26T00:00:00Z",
		nil,
	)
	w := httptest.NewRecorder()

	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}
