package httpapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/fleetctl/internal/authn"
	"github.com/gravitational/fleetctl/internal/events"
	"github.com/gravitational/fleetctl/internal/inventory"
	"github.com/gravitational/fleetctl/internal/ratelimit"
	"github.com/gravitational/fleetctl/internal/store"
	"github.com/gravitational/fleetctl/internal/tasks"
	"github.com/gravitational/fleetctl/internal/vault"
)

// Server owns every dependency a REST handler needs and builds the
// httprouter route table, per spec.md §4.11 and §6.
type Server struct {
	store     *store.Store
	vault     *vault.Vault
	tasks     *tasks.Engine
	inventory *inventory.Collector
	events    *events.Bus
	authn     *authn.Service
	limiter   *ratelimit.Limiter
	cache     *ratelimit.TTLCache
	cors      CORSConfig
	ciMode    bool
}

// Deps bundles the Server constructor's dependencies.
type Deps struct {
	Store     *store.Store
	Vault     *vault.Vault
	Tasks     *tasks.Engine
	Inventory *inventory.Collector
	Events    *events.Bus
	Authn     *authn.Service
	Limiter   *ratelimit.Limiter
	Cache     *ratelimit.TTLCache
	CORS      CORSConfig
	CIMode    bool
}

// NewServer builds the Server and its fully wired handler.
func NewServer(d Deps) (*Server, http.Handler) {
	s := &Server{
		store: d.Store, vault: d.Vault, tasks: d.Tasks, inventory: d.Inventory,
		events: d.Events, authn: d.Authn, limiter: d.Limiter, cache: d.Cache,
		cors: d.CORS, ciMode: d.CIMode,
	}
	return s, s.buildHandler()
}

func (s *Server) buildHandler() http.Handler {
	router := httprouter.New()
	router.UseRawPath = true

	router.POST("/api/auth/login", MakeHandler(s.handleLogin))
	router.POST("/api/auth/logout", s.withAuth(s.handleLogout))
	router.GET("/api/auth/me", s.withAuth(s.handleMe))

	router.GET("/api/servers", s.withAuth(s.handleListHosts))
	router.POST("/api/servers", s.requirePermission("server:edit", s.handleCreateHost))
	router.GET("/api/servers/:id", s.withAuth(s.handleGetHost))
	router.PUT("/api/servers/:id", s.requirePermission("server:edit", s.handleUpdateHost))
	router.DELETE("/api/servers/:id", s.requirePermission("server:edit", s.handleDeleteHost))
	router.GET("/api/servers/export", s.requirePermission("server:view", s.handleExportHostsCSV))

	router.GET("/api/servers/:id/inventory", s.withAuth(s.handleGetInventory))
	router.POST("/api/servers/:id/inventory/refresh", s.requirePermission("server:edit", s.handleRefreshInventory))

	router.GET("/api/vault/keys", s.requirePermission("server:edit", s.handleListVaultKeys))
	router.POST("/api/vault/keys", s.requirePermission("server:edit", s.handleImportVaultKey))
	router.DELETE("/api/vault/keys/:id", s.requirePermission("server:edit", s.handleDeleteVaultKey))

	router.GET("/api/tasks", s.withAuth(s.handleListTasks))
	router.POST("/api/tasks", s.requirePermission("server:edit", s.handleCreateTask))
	router.GET("/api/tasks/:id", s.withAuth(s.handleGetTask))
	router.POST("/api/tasks/:id/cancel", s.requirePermission("server:edit", s.handleCancelTask))

	router.GET("/api/alerts", s.withAuth(s.handleListAlerts))
	router.POST("/api/alerts/:id/ack", s.requirePermission("alerts:ack", s.handleAckAlert))
	router.GET("/api/alerts/export", s.requirePermission("alerts:view", s.handleExportAlertsCSV))

	router.GET("/api/webhooks", s.requirePermission("server:edit", s.handleListWebhooks))
	router.POST("/api/webhooks", s.requirePermission("server:edit", s.handleCreateWebhook))
	router.PUT("/api/webhooks/:id", s.requirePermission("server:edit", s.handleUpdateWebhook))
	router.DELETE("/api/webhooks/:id", s.requirePermission("server:edit", s.handleDeleteWebhook))

	router.GET("/api/audit", s.requirePermission("server:view", s.handleListAuditLogs))
	router.GET("/api/audit/export", s.requirePermission("server:view", s.handleExportAuditLogsCSV))

	router.GET("/api/metrics", metricsHandler())
	router.GET("/api/health", s.handleHealth)

	if s.ciMode {
		router.POST("/api/test/ratelimit/clear", MakeHandler(s.handleClearRateLimit))
	}

	var handler http.Handler = router
	handler = accessLog(handler)
	handler = rateLimited(s.limiter)(handler)
	handler = securityHeaders(handler)
	handler = cors(s.cors)(handler)
	handler = requestID(handler)
	return handler
}
