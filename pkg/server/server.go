// Package server exposes the browser-facing authentication endpoints and
// runs the HTTP server hosting them.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/navikt/polly-sub000/pkg/auth"
	"github.com/navikt/polly-sub000/pkg/logger"
	"github.com/navikt/polly-sub000/pkg/session"
	"github.com/navikt/polly-sub000/pkg/state"
	"github.com/navikt/polly-sub000/pkg/telemetry"
	"github.com/navikt/polly-sub000/pkg/tokens"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server wires the login protocol handlers together.
type Server struct {
	sessions        *session.Manager
	provider        *tokens.Provider
	codec           *state.Codec
	allowList       *state.AllowList
	authenticator   *auth.Authenticator
	sessionLifetime time.Duration
}

// New creates a server. The session lifetime is used as the cookie Max-Age.
func New(
	sessions *session.Manager,
	provider *tokens.Provider,
	codec *state.Codec,
	allowList *state.AllowList,
	authenticator *auth.Authenticator,
	sessionLifetime time.Duration,
) *Server {
	return &Server{
		sessions:        sessions,
		provider:        provider,
		codec:           codec,
		allowList:       allowList,
		authenticator:   authenticator,
		sessionLifetime: sessionLifetime,
	}
}

// Router returns the full HTTP surface: the login protocol endpoints, the
// identity query, metrics and health probes. Every request passes through
// the authentication middleware; anonymous requests proceed unauthenticated.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		s.authenticator.Middleware,
	)

	r.Get("/login", s.handleLogin)
	r.Get("/oauth2/callback", s.handleCallback)
	r.Post("/oauth2/callback", s.handleCallback)
	r.Get("/logout", s.handleLogout)
	r.Get("/userinfo", s.handleUserInfo)

	r.Handle("/metrics", telemetry.Handler())
	r.Get("/internal/isalive", s.handleIsAlive)
	r.Get("/internal/isready", s.handleIsReady)

	return r
}

// Serve runs the HTTP server on the given address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, address string) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Infof("Listening on %s", address)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Infof("Server stopped")
	return nil
}

func (s *Server) handleIsAlive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIsReady(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Ping(r.Context()); err != nil {
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
