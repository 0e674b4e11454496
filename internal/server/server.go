// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quickauth.
//
// go-quickauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-quickauth/internal/config"
	"github.com/jeremyhahn/go-quickauth/pkg/correlation"
	"github.com/jeremyhahn/go-quickauth/pkg/metrics"
	"github.com/jeremyhahn/go-quickauth/pkg/ratelimit"
)

const (
	// purgeInterval is how often expired rate limit events are removed
	// from postgres.
	purgeInterval = 15 * time.Minute

	resourceInterval = 30 * time.Second
)

// Server is the quickauth HTTP server.
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	components *Components
	handler    *Handler
	bucket     *ratelimit.BucketLimiter
	httpServer *http.Server

	collector *metrics.ResourceCollector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New connects the configured backends and builds the HTTP server.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	components, err := NewComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithComponents(cfg, components, logger), nil
}

// NewWithComponents builds the HTTP server over already wired components.
// The server owns components and closes them on Shutdown.
func NewWithComponents(cfg *config.Config, components *Components, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		logger:     logger,
		components: components,
		handler:    NewHandler(components.Service, components.Health, logger),
		bucket:     ratelimit.NewBucketLimiter(&cfg.RateLimit.HTTP),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	h := s.handler
	r := chi.NewRouter()

	r.Use(h.RecoveryMiddleware)
	r.Use(correlation.Middleware)
	r.Use(h.LoggingMiddleware)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	r.Get("/health/startup", h.Startup)

	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ratelimit.Middleware(s.bucket))

		r.Post("/accounts", h.Register)
		r.Post("/login", h.Login)
		r.Post("/login/remember", h.LoginWithRememberToken)
		r.Post("/login/pin", h.LoginWithPIN)
		r.Post("/webauthn/login/begin", h.BeginLogin)
		r.Post("/webauthn/login/finish", h.FinishLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)

			r.Get("/session", h.Session)
			r.Post("/pin", h.SetupPIN)
			r.Post("/webauthn/registration/begin", h.BeginRegistration)
			r.Post("/webauthn/registration/finish", h.FinishRegistration)
			r.Post("/logout", h.Logout)
			r.Post("/security/reset", h.ResetSecurity)
		})
	})

	return r
}

// Start begins serving in the background. Serve errors other than a
// clean shutdown are sent on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	tlsConfig, err := s.config.Server.TLS.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	if s.config.Metrics.Enabled {
		s.collector = metrics.StartResourceCollector(s.ctx, resourceInterval, s.components.Probes...)
	}
	if s.config.RateLimit.Backend == config.BackendPostgres {
		s.wg.Add(1)
		go s.purgeWorker()
	}

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var serveErr error
		if tlsConfig != nil {
			s.httpServer.TLSConfig = tlsConfig
			serveErr = s.httpServer.ServeTLS(ln, "", "")
		} else {
			serveErr = s.httpServer.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()

	s.components.Health.MarkStarted()
	s.logger.Info("quickauth server started",
		slog.String("address", ln.Addr().String()),
		slog.Bool("tls", tlsConfig != nil))
	return errCh, nil
}

// Run starts the server and blocks until ctx is cancelled or the
// listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh, err := s.Start()
	if err != nil {
		_ = s.components.Close()
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// Shutdown stops accepting requests, drains in-flight ones and closes
// the backends. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.logger.Info("shutting down server")
		s.components.Health.MarkNotStarted()

		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("http shutdown: %w", shutdownErr)
		}

		s.cancel()
		if s.collector != nil {
			s.collector.Stop()
		}
		s.wg.Wait()
		s.bucket.Stop()

		if closeErr := s.components.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		s.logger.Info("server shutdown complete")
	})
	return err
}

// purgeWorker removes rate limit events that have aged out of every
// policy window. The memory and redis stores expire events themselves.
func (s *Server) purgeWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	maxAge := s.config.RateLimit.Policies.MaxWindow()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n, err := s.components.PurgeRateLimitEvents(s.ctx, maxAge)
			if err != nil {
				s.logger.Warn("rate limit purge failed", slog.String("error", err.Error()))
				continue
			}
			s.logger.Debug("rate limit events purged", slog.Int64("count", n))
		}
	}
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
