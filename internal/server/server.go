package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/docscan/internal/analysis"
	"github.com/dukerupert/docscan/internal/config"
	"github.com/dukerupert/docscan/internal/handler"
	"github.com/dukerupert/docscan/internal/middleware"
	"github.com/dukerupert/docscan/internal/quota"
	"github.com/dukerupert/docscan/internal/snapshot"
	"github.com/dukerupert/docscan/internal/store"
	ws "github.com/dukerupert/docscan/internal/websocket"
)

// Deps are the long-lived components the server routes to.
type Deps struct {
	DB        *sql.DB
	Ledger    *quota.Ledger
	Analysis  *analysis.Service
	Snapshots *snapshot.Manager
	Hub       *ws.Hub
}

type Server struct {
	db             *sql.DB
	hub            *ws.Hub
	ledger         *quota.Ledger
	documentH      *handler.DocumentHandler
	adminH         *handler.AdminHandler
	snapshotH      *handler.SnapshotHandler
	sessionStore   *store.SessionStore
	analyzeLimiter *middleware.Limiter
	loginLimiter   *middleware.Limiter
	cfg            *config.Config
	logger         *slog.Logger
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	sessionStore := store.NewSessionStore(deps.DB, cfg.Admin.SessionTTL)
	creds := handler.AdminCredentials{
		Username:     cfg.Admin.Username,
		PasswordHash: cfg.Admin.PasswordHash,
	}

	return &Server{
		db:             deps.DB,
		hub:            deps.Hub,
		ledger:         deps.Ledger,
		documentH:      handler.NewDocumentHandler(deps.Analysis, deps.Ledger, cfg.Server.MaxUploadBytes, logger.With("component", "document")),
		adminH:         handler.NewAdminHandler(deps.Ledger, sessionStore, creds, cfg.Server.SecureCookies, logger.With("component", "admin")),
		snapshotH:      handler.NewSnapshotHandler(deps.Snapshots, logger.With("component", "snapshot_handler")),
		sessionStore:   sessionStore,
		analyzeLimiter: middleware.NewLimiter("analyze", cfg.RateLimit.AnalyzeRequests, cfg.RateLimit.AnalyzeWindow),
		loginLimiter:   middleware.NewLimiter("login", cfg.RateLimit.LoginRequests, cfg.RateLimit.LoginWindow),
		cfg:            cfg,
		logger:         logger,
	}
}

// SessionStore returns the admin session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// Limiters returns the rate limiters for cleanup tasks.
func (s *Server) Limiters() []*middleware.Limiter {
	return []*middleware.Limiter{s.analyzeLimiter, s.loginLimiter}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (caller identity, no login)
	identity := middleware.Identity(s.cfg.Server.SecureCookies)
	mux.HandleFunc("GET /{$}", s.documentH.Home)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /analyze", identity(s.analyzeLimiter.Middleware(middleware.RealIP)(http.HandlerFunc(s.documentH.Analyze))))
	mux.Handle("GET /usage", identity(http.HandlerFunc(s.documentH.Usage)))
	mux.HandleFunc("GET /tiers", s.documentH.Tiers)
	mux.HandleFunc("GET /plans", s.documentH.Tiers)

	mux.Handle("POST /admin/login", s.loginLimiter.Middleware(middleware.RealIP)(http.HandlerFunc(s.adminH.Login)))

	// Admin routes, wrapped with RequireAdmin
	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)
	mux.Handle("/admin/", middleware.RequireAdmin(s.sessionStore)(adminMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/logout", s.adminH.Logout)

	mux.HandleFunc("GET /admin/accounts", s.adminH.ListAccounts)
	mux.HandleFunc("POST /admin/accounts", s.adminH.CreateAccount)
	mux.HandleFunc("GET /admin/accounts/{identity}", s.adminH.GetAccount)
	mux.HandleFunc("PUT /admin/accounts/{identity}/tier", s.adminH.SetTier)
	mux.HandleFunc("POST /admin/accounts/{identity}/reset", s.adminH.ResetAccount)
	mux.HandleFunc("DELETE /admin/accounts/{identity}", s.adminH.DeleteAccount)
	mux.HandleFunc("POST /admin/usage/reset", s.adminH.ResetAllUsage)

	mux.HandleFunc("GET /admin/snapshots", s.snapshotH.List)
	mux.HandleFunc("POST /admin/snapshots", s.snapshotH.Run)
	mux.HandleFunc("POST /admin/snapshots/restore", s.snapshotH.Restore)

	mux.HandleFunc("GET /admin/events", ws.HandleEvents(s.hub, s.cfg.Server.AllowedOrigins))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"status":        "ok",
		"tiers_version": s.ledger.TierSet().Version(),
		"feed_clients":  s.hub.ClientCount(),
	}
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check database", "error", err)
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
