// Package rest exposes the access-control core over HTTP using chi.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

type HTTPServer struct {
	address   string
	handler   *Handler
	logger    logging.Logger
	jwtSecret []byte
}

func NewHTTPServer(a string, l logging.Logger, h *Handler, secretKey string) *HTTPServer {
	return &HTTPServer{
		address:   a,
		logger:    l.With("module", "http_server"),
		handler:   h,
		jwtSecret: []byte(secretKey),
	}
}

// Router builds the route table.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {
		api.Group(func(owner chi.Router) {
			owner.Use(s.requireIdentity)
			owner.Post("/capsules", s.handler.CreateCapsule)
			owner.Get("/capsules/{id}", s.handler.GetCapsule)
			owner.Post("/capsules/{id}/revoke", s.handler.RevokeCapsule)
			owner.Get("/capsules/{id}/export", s.handler.ExportCapsule)
			owner.Get("/capsules/{id}/audit", s.handler.CapsuleAudit)
			owner.Post("/access/consume", s.handler.ConsumeAccess)
		})

		api.With(s.optionalIdentity).Post("/access/request", s.handler.RequestAccess)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error(r.Context(), "panic in handler", "panic", p, "path", r.URL.Path)
				WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
