package api

import (
	"net/http"

	"github.com/propflow/handoff/internal/api/middleware"
	"github.com/propflow/handoff/internal/audit"
	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/core"
	"github.com/propflow/handoff/internal/routing"
	"github.com/propflow/handoff/internal/service"
	"github.com/propflow/handoff/internal/sessions"
	"github.com/propflow/handoff/internal/tasks"
)

type Server struct {
	cfg         *config.Config
	svc         *service.TransferService
	router      *routing.Router
	localIssuer *sessions.LocalIssuer
	taskManager *tasks.Manager
	auditor     core.Auditor
	tokenStore  core.TokenStore
}

func NewServer(
	cfg *config.Config,
	svc *service.TransferService,
	router *routing.Router,
	localIssuer *sessions.LocalIssuer,
	taskManager *tasks.Manager,
	auditor core.Auditor,
	tokenStore core.TokenStore,
) *Server {
	if auditor == nil {
		auditor = audit.NewNoopAuditor()
	}
	if router == nil {
		router = routing.New(nil)
	}

	return &Server{
		cfg:         cfg,
		svc:         svc,
		router:      router,
		localIssuer: localIssuer,
		taskManager: taskManager,
		auditor:     auditor,
		tokenStore:  tokenStore,
	}
}

// Routes mounts the handler tree for the enabled deployment modes. A
// single binary serves either side of the handoff, or both in a dev
// setup.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// public routes
	mux.HandleFunc("GET "+HealthCheckRoute, s.handleHealth)
	mux.HandleFunc("GET "+AboutRoute, s.handleAbout)

	if s.cfg.Origin.Enabled {
		mux.HandleFunc("POST "+GenerateTransferTokenRoute, s.handleGenerateTransferToken)
	}

	if s.cfg.Receiver.Enabled {
		mux.HandleFunc("GET "+SessionAcceptRoute, s.handleSessionAccept)
		mux.HandleFunc("POST "+ExchangeTokenRoute, s.handleExchangeToken)
	}

	// admin routes, only when an admin secret is configured
	if s.cfg.AdminSecret != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("GET "+ListTokensRoute, s.handleAdminTokens)
		adminMux.HandleFunc("POST "+RevokeTokenRoute, s.handleAdminRevoke)
		adminMux.HandleFunc("GET "+ListAuditsRoute, s.handleAdminAudits)
		adminMux.HandleFunc("GET "+ListTasksRoute, s.handleListTasks)
		adminMux.HandleFunc("POST "+TriggerTaskRoute, s.handleTriggerTask)
		adminMux.HandleFunc("GET "+LogsForTaskRoute, s.handleLogsForTask)
		mux.Handle(AdminParent, middleware.AdminAuth([]byte(s.cfg.AdminSecret))(adminMux))
	}

	return middleware.RecoverMiddleware(
		middleware.CorrelationIDMiddleware(
			middleware.LoggingMiddleware(
				mux)))
}
