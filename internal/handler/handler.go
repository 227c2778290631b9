package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/examhall/examhall/internal/auth"
	"github.com/examhall/examhall/internal/evaluator"
	"github.com/examhall/examhall/internal/exams"
	appI18n "github.com/examhall/examhall/internal/i18n"
	"github.com/examhall/examhall/internal/metrics"
	"github.com/examhall/examhall/internal/model"
	"github.com/examhall/examhall/internal/store"
)

// Config holds the HTTP-level settings.
type Config struct {
	Lang           string
	AllowedOrigins []string
	// RateLimit is the number of API requests a client may make per
	// RateWindow. Zero disables limiting.
	RateLimit    int
	RateWindow   time.Duration
	MaxBodyBytes int64
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable it only behind a proxy that sets those headers.
	TrustProxy bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	eval    *evaluator.Service
	exams   *exams.Service
	auth    *auth.Service
	metrics *metrics.Metrics
	config  Config
}

// New creates a new Handler.
func New(s *store.Store, ev *evaluator.Service, ex *exams.Service, au *auth.Service, m *metrics.Metrics, cfg Config) *Handler {
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	return &Handler{store: s, eval: ev, exams: ex, auth: au, metrics: m, config: cfg}
}

// Router builds the complete HTTP handler.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger, middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language"},
		ExposedHeaders:   []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appI18n.Middleware(h.config.Lang))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		if h.config.RateLimit > 0 {
			api.Use(h.rateLimit(newRateLimiter(h.config.RateLimit, h.config.RateWindow)))
		}
		api.Post("/auth/login", h.handleLogin)
		api.Group(func(pr chi.Router) {
			pr.Use(h.auth.Middleware(writeError))
			h.Routes(pr)
		})
	})
	return r
}

// Routes registers the authenticated API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/logout", h.handleLogout)
	r.Post("/evaluate", h.handleEvaluate)

	r.Route("/sessions/{sessionID}", func(sr chi.Router) {
		sr.Post("/evaluate", h.handleEvaluateSession)
		sr.Get("/result", h.handleGetResult)
		sr.Put("/responses/{questionID}", h.handleSaveResponse)
		sr.Post("/submit", h.handleSubmit)
		sr.Post("/terminate", h.handleTerminate)
	})

	r.Route("/exams/{examID}", func(er chi.Router) {
		er.Post("/sessions", h.handleStartSession)
		er.Put("/answer-key", h.handleUploadAnswerKey)
		er.Post("/reevaluate", h.handleReevaluate)
		er.Post("/rankings", h.handleRankings)
	})

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(requireRole(model.UserRoleSuperAdmin, model.UserRoleInstituteAdmin))
		ar.Post("/users", h.handleCreateUser)
		ar.Put("/users/{userID}/active", h.handleSetUserActive)
		ar.Post("/import", h.handleImport)
	})
}

// requireRole returns middleware that checks the caller holds one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := callerFrom(r)
			for _, role := range allowed {
				if caller.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, evaluator.NewError(evaluator.KindForbidden, "role not allowed", nil))
		})
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func callerFrom(r *http.Request) model.CallerIdentity {
	c, _ := model.CallerFromContext(r.Context())
	return c
}
