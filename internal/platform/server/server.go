package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valinor-ai/haven/internal/audit"
	"github.com/valinor-ai/haven/internal/auth"
	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/plan"
	"github.com/valinor-ai/haven/internal/platform/middleware"
	"github.com/valinor-ai/haven/internal/platform/telemetry"
	"github.com/valinor-ai/haven/internal/rbac"
	"github.com/valinor-ai/haven/internal/records"
	"github.com/valinor-ai/haven/internal/tenant"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool               *pgxpool.Pool
	Auth               *auth.TokenService
	RBAC               *rbac.Evaluator
	TenantHandler      *tenant.Handler
	PlanHandler        *plan.Handler
	CatalogHandler     *catalog.Handler
	RecordsHandler     *records.Handler
	AuditHandler       *audit.Handler
	RBACAuditLogger    audit.Logger
	Metrics            *telemetry.Metrics
	DevMode            bool
	DevIdentity        *auth.Identity
	Logger             *slog.Logger
	CORSAllowedOrigins []string
	// ReadinessChecks are probed by /readyz in name order. A database
	// check is added when Pool is set.
	ReadinessChecks map[string]func(context.Context) error
}

type Server struct {
	httpServer   *http.Server
	protectedMux *http.ServeMux
	checks       map[string]func(context.Context) error
	handler      http.Handler
}

func New(addr string, deps Dependencies) *Server {
	// Protected routes mux, wrapped with auth middleware
	protectedMux := http.NewServeMux()

	// Build protected handler with middleware chain
	var protectedHandler http.Handler = protectedMux
	protectedHandler = middleware.CompanyContext(protectedHandler)
	if deps.Auth != nil {
		if deps.DevMode && deps.DevIdentity != nil {
			protectedHandler = auth.MiddlewareWithDevMode(deps.Auth, deps.DevIdentity)(protectedHandler)
		} else {
			protectedHandler = auth.Middleware(deps.Auth)(protectedHandler)
		}
	}

	// Top-level mux: public routes + protected catch-all
	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		protectedMux: protectedMux,
		checks:       readinessChecks(deps),
	}

	// Public routes (no auth required)
	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.Metrics != nil {
		topMux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	// Build RBAC middleware options (audit logger if available)
	var rbacOpts []rbac.MiddlewareOption
	if deps.RBACAuditLogger != nil {
		rbacOpts = append(rbacOpts, rbac.WithAuditLogger(deps.RBACAuditLogger))
	}
	guard := func(permission string, h http.HandlerFunc) http.Handler {
		if deps.RBAC == nil {
			return auth.RequirePlatformAdmin(h)
		}
		return rbac.RequirePermission(deps.RBAC, permission, rbacOpts...)(h)
	}

	// Tenant administration
	if deps.TenantHandler != nil {
		protectedMux.Handle("POST /api/v1/tenants", guard("manage_tenants", deps.TenantHandler.HandleCreate))
		protectedMux.Handle("GET /api/v1/tenants", guard("view_tenants", deps.TenantHandler.HandleList))
		protectedMux.Handle("GET /api/v1/tenants/{id}", guard("view_tenants", deps.TenantHandler.HandleGet))
		protectedMux.Handle("PATCH /api/v1/tenants/{id}", guard("manage_tenants", deps.TenantHandler.HandleUpdate))
		protectedMux.Handle("DELETE /api/v1/tenants/{id}", guard("manage_tenants", deps.TenantHandler.HandleDelete))
		protectedMux.Handle("POST /api/v1/tenants/{id}/reprovision", guard("manage_tenants", deps.TenantHandler.HandleReprovision))
	}

	// Plan administration
	if deps.PlanHandler != nil {
		protectedMux.Handle("POST /api/v1/plans", guard("manage_plans", deps.PlanHandler.HandleCreate))
		protectedMux.Handle("GET /api/v1/plans", guard("view_plans", deps.PlanHandler.HandleList))
		protectedMux.Handle("GET /api/v1/plans/{id}", guard("view_plans", deps.PlanHandler.HandleGet))
		protectedMux.Handle("PUT /api/v1/plans/{id}", guard("manage_plans", deps.PlanHandler.HandleUpdate))
		protectedMux.Handle("DELETE /api/v1/plans/{id}", guard("manage_plans", deps.PlanHandler.HandleDelete))
	}

	// Permission catalog, readable by any authenticated caller
	if deps.CatalogHandler != nil {
		protectedMux.HandleFunc("GET /api/v1/permissions", deps.CatalogHandler.HandleList)
	}

	// Tenant-facing record routes
	if deps.RecordsHandler != nil {
		deps.RecordsHandler.RegisterRoutes(protectedMux)
	}

	// Audit routes
	if deps.AuditHandler != nil {
		protectedMux.Handle("GET /api/v1/audit/events",
			auth.RequirePlatformAdmin(http.HandlerFunc(deps.AuditHandler.HandleListEvents)),
		)
	}

	// All other routes go through auth middleware
	topMux.Handle("/", protectedHandler)

	// Wrap top-level mux with observability middleware
	var handler http.Handler = topMux
	if deps.Metrics != nil {
		handler = middleware.Metrics(deps.Metrics)(handler)
	}
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ProtectedMux returns the mux for authenticated routes.
// Use this to register routes that require authentication.
func (s *Server) ProtectedMux() *http.ServeMux {
	return s.protectedMux
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name](r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": name + " unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func readinessChecks(deps Dependencies) map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error, len(deps.ReadinessChecks)+1)
	for name, check := range deps.ReadinessChecks {
		checks[name] = check
	}
	if deps.Pool != nil {
		checks["database"] = deps.Pool.Ping
	}
	return checks
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
