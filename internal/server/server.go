package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/likerland/api/internal/auth"
	"github.com/likerland/api/internal/billing"
	"github.com/likerland/api/internal/handler"
	"github.com/likerland/api/internal/likeco"
	"github.com/likerland/api/internal/metrics"
	"github.com/likerland/api/internal/middleware"
	"github.com/likerland/api/internal/secret"
	"github.com/likerland/api/internal/store"
	"github.com/likerland/api/internal/telemetry"
)

// PaymentProcessor is the billing backend plus its webhook verification.
type PaymentProcessor interface {
	billing.Processor
	handler.EventVerifier
}

// Config holds the HTTP-level settings of the server.
type Config struct {
	ServiceName    string
	Cookies        auth.Cookies
	AllowedOrigins []string
	// RateLimit is the per-IP request budget per minute. Zero disables it.
	RateLimit int
	HSTS      bool
	// PlanID is the subscription plan. Payment routes are mounted only when
	// a PaymentProcessor is supplied.
	PlanID string
}

type Server struct {
	cfg      Config
	db       *sql.DB
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
	logger   *slog.Logger

	sessionStore *store.SessionStore
	billing      *billing.Service

	authH    *handler.AuthHandler
	proxyH   *handler.ProxyHandler
	paymentH *handler.PaymentHandler
	webhookH *handler.WebhookHandler
}

// New wires stores, services and handlers. processor may be nil, in which
// case the payment routes are not mounted.
func New(cfg Config, db *sql.DB, sealer *secret.Sealer, client *likeco.Client, processor PaymentProcessor, reg *prometheus.Registry, m *metrics.Metrics, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db, sealer)
	sessionStore := store.NewSessionStore(db, cfg.Cookies.TTL)
	authz := likeco.NewAuthorizer(client, userStore, sessionStore, logger.With("component", "authorizer"), m)

	s := &Server{
		cfg:          cfg,
		db:           db,
		gatherer:     reg,
		metrics:      m,
		logger:       logger,
		sessionStore: sessionStore,
		authH:        handler.NewAuthHandler(client, userStore, sessionStore, cfg.Cookies, logger.With("component", "auth")),
		proxyH:       handler.NewProxyHandler(client, authz, cfg.Cookies, logger.With("component", "proxy")),
	}

	if processor != nil {
		s.billing = billing.NewService(processor, userStore, cfg.PlanID, logger.With("component", "billing"), m)
		s.paymentH = handler.NewPaymentHandler(s.billing, cfg.Cookies, logger.With("component", "payment"))
		s.webhookH = handler.NewWebhookHandler(processor, s.billing, logger.With("component", "webhook"))
	}
	return s
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.logger.With("component", "http"), s.metrics))
	r.Use(middleware.SecurityHeaders(s.cfg.HSTS))

	r.Get("/healthz", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		if len(s.cfg.AllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   s.cfg.AllowedOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}
		r.Use(middleware.RateLimit(s.cfg.RateLimit, time.Minute))
		r.Use(telemetry.Middleware(s.cfg.ServiceName))

		// Stripe posts here without a browser session.
		if s.webhookH != nil {
			r.Post("/civic/payment/stripe/webhook", s.webhookH.HandleStripeWebhook)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.LoadSession(s.sessionStore, s.logger.With("component", "session")))
			s.registerPublicRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession)
				s.registerSessionRoutes(r)
			})
		})
	})
	return r
}

func (s *Server) registerPublicRoutes(r chi.Router) {
	r.Get("/users/login/url", s.authH.LoginURL)
	r.Post("/users/login", s.authH.Login)
	r.Post("/users/logout", s.authH.Logout)

	r.Get("/users/id/{id}/min", s.proxyH.PublicProfile)
	r.Get("/users/id/{id}/articles", s.proxyH.UserArticles)
	r.Get("/reader/suggest", s.proxyH.Suggest)
	r.Get("/like/info", s.proxyH.ArticleDetail)
	r.Get("/civic/csonline", s.proxyH.CSOnline)
	r.Get("/civic/trial/events/{id}", s.proxyH.TrialEvent)
}

func (s *Server) registerSessionRoutes(r chi.Router) {
	r.Get("/users/self", s.proxyH.Self)
	r.Get("/reader/liked", s.proxyH.Liked)
	r.Get("/reader/followed", s.proxyH.Followed)
	r.Post("/like/info", s.proxyH.ArticleInfo)
	r.Post("/civic/trial/events/{id}/join", s.proxyH.JoinTrialEvent)

	if s.paymentH != nil {
		r.Get("/civic/payment/stripe", s.paymentH.Status)
		r.Post("/civic/payment/stripe", s.paymentH.Subscribe)
		r.Delete("/civic/payment/stripe", s.paymentH.Cancel)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
