// Package server exposes the wallet engine, event journal and fee exports
// over HTTP and a websocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"agentvault/native/wallet"
	"agentvault/observability"
	"agentvault/services/walletd/idempotency"
	"agentvault/services/walletd/journal"
)

// Rate limit groups.
const (
	GroupRelay   = "relay"
	GroupExecute = "execute"
	GroupRead    = "read"
)

var errSlowConsumer = errors.New("stream subscriber fell behind")

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	ShutdownTimeout time.Duration
	Auth            AuthConfig
	RateLimits      map[string]RateLimit
	// StreamOrigins lists websocket origin patterns; empty allows same-origin
	// only.
	StreamOrigins []string
	// Idempotency caches keyed write and relay responses; nil disables it.
	Idempotency *idempotency.Store
}

// Server hosts the walletd HTTP API.
type Server struct {
	cfg     Config
	engine  *wallet.Engine
	journal *journal.Journal
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	idem    *idempotency.Store
	idemMu  sync.Mutex

	router http.Handler
}

// New constructs the server and registers its stream hub on the journal.
func New(cfg Config, engine *wallet.Engine, jrnl *journal.Journal, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("wallet engine required")
	}
	if jrnl == nil {
		return nil, fmt.Errorf("journal required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		journal: jrnl,
		hub:     NewHub(),
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimits),
		logger:  logger,
		idem:    cfg.Idempotency,
	}
	jrnl.OnAppend(s.hub.Publish)
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("walletd: http server listening", slog.String("address", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.With(s.instrument("public")).Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(read chi.Router) {
			read.Use(s.instrument(GroupRead), s.auth.Middleware(ScopeRead), s.limiter.Middleware(GroupRead))
			read.Get("/accounts/{account}", s.handleGetAccount)
			read.Get("/accounts/{account}/balances/{asset}", s.handleGetBalance)
			read.Get("/accounts/{account}/positions/{token}", s.handleGetPosition)
			read.Get("/accounts/{account}/reserves/{asset}", s.handleGetReserve)
			read.Get("/accounts/{account}/agents", s.handleListAgents)
			read.Get("/accounts/{account}/agents/{agent}", s.handleGetAgent)
			read.Get("/accounts/{account}/whitelist", s.handleGetWhitelist)
			read.Get("/accounts/{account}/ownership", s.handleGetOwnership)
			read.Get("/events", s.handleListEvents)
			read.Get("/events/ws", s.handleEventStream)
			read.Get("/fees/export", s.handleFeesExport)
		})

		api.Group(func(write chi.Router) {
			write.Use(s.instrument(GroupExecute), s.auth.Middleware(ScopeWrite), s.limiter.Middleware(GroupExecute), s.idempotent)
			write.Post("/accounts/{account}/execute", s.handleExecute)
			write.Post("/accounts/{account}/batch", s.handleExecuteBatch)
			write.Put("/accounts/{account}/agents/{agent}", s.handleUpsertAgent)
			write.Delete("/accounts/{account}/agents/{agent}", s.handleDisableAgent)
			write.Post("/accounts/{account}/whitelist", s.handleInitiateWhitelist)
			write.Post("/accounts/{account}/whitelist/{recipient}/confirm", s.handleConfirmWhitelist)
			write.Post("/accounts/{account}/whitelist/{recipient}/cancel", s.handleCancelWhitelist)
			write.Delete("/accounts/{account}/whitelist/{recipient}", s.handleRemoveWhitelist)
			write.Post("/accounts/{account}/ownership", s.handleInitiateOwnership)
			write.Post("/accounts/{account}/ownership/confirm", s.handleConfirmOwnership)
			write.Post("/accounts/{account}/ownership/cancel", s.handleCancelOwnership)
			write.Put("/accounts/{account}/reserves/{asset}", s.handleSetReserve)
			write.Post("/migrations", s.handleMigrate)
		})

		api.Group(func(factory chi.Router) {
			factory.Use(s.instrument(GroupExecute), s.auth.Middleware(ScopeFactory), s.limiter.Middleware(GroupExecute), s.idempotent)
			factory.Post("/accounts", s.handleCreateAccount)
			factory.Post("/accounts/{account}/seed/recover", s.handleRecoverSeed)
		})

		api.Group(func(relay chi.Router) {
			relay.Use(s.instrument(GroupRelay), s.auth.Middleware(ScopeRelay), s.limiter.Middleware(GroupRelay), s.idempotent)
			relay.Post("/relay/instruction", s.handleRelayInstruction)
			relay.Post("/relay/batch", s.handleRelayBatch)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(s.instrument("admin"), s.auth.Middleware(ScopeAdmin))
			admin.Post("/admin/pause", s.handleSetPaused)
			admin.Post("/admin/delay", s.handleSetDelay)
		})
	})

	return otelhttp.NewHandler(r, "walletd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// instrument records request metrics under the matched route pattern.
func (s *Server) instrument(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observability.HTTP().Observe(group, route, status, time.Since(start))
			s.logger.Debug("walletd: request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"journalSeq":  s.journal.Seq(),
		"subscribers": s.hub.Subscribers(),
	})
}

// fail writes err with its mapped status, logging unexpected failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("walletd: request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.Any("error", err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
