package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is the single HTTP listener shared by the webhook, the admin API
// and the metrics endpoint.
type Server struct {
	addr        string
	readTimeout time.Duration
	mux         *http.ServeMux
	logger      *slog.Logger
	server      *http.Server
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeoutSeconds int
	Logger             *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeoutSeconds <= 0 {
		cfg.ReadTimeoutSeconds = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:        net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		readTimeout: time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		mux:         http.NewServeMux(),
		logger:      cfg.Logger,
	}
}

// Mux returns the router for registering additional handlers.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// MountWhatsApp routes the channel's webhook path to it.
func (s *Server) MountWhatsApp(w *WhatsApp) {
	s.mux.Handle(w.WebhookPath(), w.Handler())
}

// Handler returns the root handler (used by tests).
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.readTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
