package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/haven/internal/auth"
	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/configsync"
	"github.com/valinor-ai/haven/internal/plan"
	"github.com/valinor-ai/haven/internal/platform/server"
	"github.com/valinor-ai/haven/internal/platform/telemetry"
	"github.com/valinor-ai/haven/internal/quota"
	"github.com/valinor-ai/haven/internal/rbac"
	"github.com/valinor-ai/haven/internal/records"
	"github.com/valinor-ai/haven/internal/tenant"
	"github.com/valinor-ai/haven/internal/tenantstore"
)

func TestServer_HealthCheck(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadinessCheck(t *testing.T) {
	failing := func(context.Context) error { return errors.New("dial tcp: connection refused") }
	passing := func(context.Context) error { return nil }

	tests := []struct {
		name       string
		checks     map[string]func(context.Context) error
		wantStatus int
		wantReason string
	}{
		{"memory mode without checks", nil, http.StatusOK, ""},
		{"all checks pass", map[string]func(context.Context) error{"cache": passing}, http.StatusOK, ""},
		{"failing check", map[string]func(context.Context) error{"cache": failing, "queue": passing}, http.StatusServiceUnavailable, "cache unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := server.New(":0", server.Dependencies{ReadinessChecks: tt.checks})

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantReason, body["reason"])
		})
	}
}

func TestServer_NotFound(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Give server time to start, then cancel
	cancel()

	err := <-errCh
	assert.NoError(t, err)
}

type testEnv struct {
	srv      *server.Server
	tokenSvc *auth.TokenService
	metrics  *telemetry.Metrics
	systemID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	registry := tenant.NewMemoryStore()
	stores := tenantstore.NewMemoryStores()
	plans := plan.NewMemoryStore()
	metrics := telemetry.NewMetrics()
	syncer := configsync.New(stores, cat, configsync.Config{Metrics: metrics})
	prov := tenant.NewProvisioner(registry, stores, plans, syncer, cat, tenant.ProvisionerConfig{Metrics: metrics})
	prop := plan.NewPropagator(plans, registry, syncer, cat, plan.PropagatorConfig{Metrics: metrics})
	enforcer := quota.NewEnforcer(registry, stores, quota.Config{Metrics: metrics})

	tokenSvc := auth.NewTokenService("test-signing-key-must-be-32-chars!!", "haven", 24)
	systemID := registry.System().ID
	rbacEngine := rbac.NewEvaluator()
	rbacEngine.RegisterRole(systemID, "tenant_viewer", []string{"view_tenants"})

	srv := server.New(":0", server.Dependencies{
		Auth:           tokenSvc,
		RBAC:           rbacEngine,
		TenantHandler:  tenant.NewHandler(prov, nil),
		PlanHandler:    plan.NewHandler(prop, nil),
		CatalogHandler: catalog.NewHandler(cat),
		RecordsHandler: records.NewHandler(enforcer, stores, nil),
		Metrics:        metrics,
	})
	return &testEnv{srv: srv, tokenSvc: tokenSvc, metrics: metrics, systemID: systemID}
}

func (e *testEnv) token(t *testing.T, identity *auth.Identity) string {
	t.Helper()
	token, err := e.tokenSvc.CreateAccessToken(identity)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Tenants_WithPermission(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, &auth.Identity{UserID: "user-1", TenantID: env.systemID, Roles: []string{"tenant_viewer"}})

	w := env.do(http.MethodGet, "/api/v1/tenants", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Tenants_WithoutPermission(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.token(t, &auth.Identity{UserID: "user-1", TenantID: env.systemID, Roles: []string{"tenant_viewer"}})
	staff := env.token(t, &auth.Identity{UserID: "user-2", Roles: []string{"staff"}})
	// A tenant user whose own store happens to define a role of the same name.
	borrowed := env.token(t, &auth.Identity{UserID: "user-3", TenantID: "acme-tenant-id", Company: "Acme", Roles: []string{"tenant_viewer"}})

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/v1/tenants", staff, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/v1/tenants", borrowed, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/v1/tenants", viewer, `{"name":"Acme"}`).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPut, "/api/v1/plans/x", viewer, `{}`).Code)
}

func TestServer_Tenants_NoToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/tenants", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_ProvisionThenCreateRecords(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, &auth.Identity{UserID: "admin", PlatformAdmin: true})

	w := env.do(http.MethodPost, "/api/v1/plans", admin,
		`{"name":"Basic","permissions":["view_forms","create_forms"],"limits":{"forms":1}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var basic plan.Plan
	require.NoError(t, json.NewDecoder(w.Body).Decode(&basic))

	w = env.do(http.MethodPost, "/api/v1/tenants", admin, `{"name":"Acme","plan_id":"`+basic.ID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	staff := env.token(t, &auth.Identity{UserID: "user-1", Company: "Acme", Roles: []string{"staff"}})
	assert.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/v1/records/forms", staff, `{"title":"a"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodPost, "/api/v1/records/forms", staff, `{"title":"b"}`).Code)

	w = env.do(http.MethodPut, "/api/v1/plans/"+basic.ID, admin,
		`{"name":"Basic","permissions":["view_forms","create_forms"],"limits":{"forms":2}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated struct {
		Propagated int `json:"propagated"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&updated))
	assert.Equal(t, 1, updated.Propagated)

	assert.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/v1/records/forms", staff, `{"title":"b"}`).Code)
}

func TestServer_PermissionsCatalog(t *testing.T) {
	env := newTestEnv(t)
	staff := env.token(t, &auth.Identity{UserID: "user-1", Roles: []string{"staff"}})

	w := env.do(http.MethodGet, "/api/v1/permissions", staff, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/healthz", "", "")

	w := env.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "haven_http_request_duration_seconds")
}

func TestServer_DevMode(t *testing.T) {
	tokenSvc := auth.NewTokenService("test-signing-key-must-be-32-chars!!", "haven", 24)
	srv := server.New(":0", server.Dependencies{
		Auth:        tokenSvc,
		RBAC:        rbac.NewEvaluator(),
		DevMode:     true,
		DevIdentity: &auth.Identity{UserID: "dev", PlatformAdmin: true},
		CatalogHandler: func() *catalog.Handler {
			cat, err := catalog.Default()
			require.NoError(t, err)
			return catalog.NewHandler(cat)
		}(),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions", nil)
	req.Header.Set("Authorization", "Bearer dev")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
