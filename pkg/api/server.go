package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gradekeep/gradekeep/pkg/audit"
	"github.com/gradekeep/gradekeep/pkg/auth"
	"github.com/gradekeep/gradekeep/pkg/middleware"
	"github.com/gradekeep/gradekeep/pkg/observability"
	"github.com/gradekeep/gradekeep/pkg/rbac"
)

// Server carries the HTTP surface of the authorization engine.
type Server struct {
	resolver   *rbac.Resolver
	manager    *rbac.Manager
	guard      *rbac.Guard
	principals auth.PrincipalStore
	auditLog   *audit.DBRecorder
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// ServerConfig wires a Server's collaborators. AuditLog may be nil, which
// disables the audit listing endpoint.
type ServerConfig struct {
	Resolver   *rbac.Resolver
	Manager    *rbac.Manager
	Principals auth.PrincipalStore
	AuditLog   *audit.DBRecorder
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewServer creates a Server from cfg
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		resolver:   cfg.Resolver,
		manager:    cfg.Manager,
		guard:      rbac.NewGuard(cfg.Resolver, cfg.Logger),
		principals: cfg.Principals,
		auditLog:   cfg.AuditLog,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// adminRequirement guards the management endpoints. Checks themselves only
// need an authenticated principal.
var adminRequirement = rbac.Requirement{Module: "rbac", Action: "manage"}

// Router builds the API route tree
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	if s.metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.Principal(s.principals, s.logger))

	v1.HandleFunc("/authz/check", s.handleCheck).Methods("POST")
	v1.HandleFunc("/authz/permissions", s.handleEffectivePermissions).Methods("GET")

	admin := v1.NewRoute().Subrouter()
	admin.Use(s.guard.Require(adminRequirement))

	admin.HandleFunc("/roles", s.handleCreateRole).Methods("POST")
	admin.HandleFunc("/roles", s.handleListRoles).Methods("GET")
	admin.HandleFunc("/roles/{id:[0-9]+}", s.handleGetRole).Methods("GET")
	admin.HandleFunc("/roles/{id:[0-9]+}", s.handleUpdateRole).Methods("PUT")
	admin.HandleFunc("/roles/{id:[0-9]+}", s.handleDeleteRole).Methods("DELETE")
	admin.HandleFunc("/roles/{id:[0-9]+}/toggle", s.handleToggleRole).Methods("POST")

	admin.HandleFunc("/permissions", s.handleCreatePermission).Methods("POST")
	admin.HandleFunc("/permissions", s.handleListPermissions).Methods("GET")
	admin.HandleFunc("/permissions/{id:[0-9]+}", s.handleUpdatePermission).Methods("PUT")
	admin.HandleFunc("/permissions/{id:[0-9]+}", s.handleDeletePermission).Methods("DELETE")

	admin.HandleFunc("/assignments", s.handleAssignRole).Methods("POST")
	admin.HandleFunc("/assignments", s.handleRevokeRole).Methods("DELETE")
	admin.HandleFunc("/principals/{id:[0-9]+}/assignments", s.handleListAssignments).Methods("GET")
	admin.HandleFunc("/principals/{id:[0-9]+}/permissions", s.handlePrincipalPermissions).Methods("GET")

	if s.auditLog != nil {
		admin.HandleFunc("/audit", s.handleListAudit).Methods("GET")
	}

	return router
}

// Handler returns the router as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.Router()
}
