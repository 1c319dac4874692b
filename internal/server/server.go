package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server runs the HTTP surface and the daily wakeup scheduler until its
// context ends.
type Server struct {
	config   *Config
	services *Services
	server   *http.Server
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	services, err := NewServices(config)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:   config,
		services: services,
		server: &http.Server{
			Addr:    config.HTTPAddr,
			Handler: SetupRoutes(config, services),
		},
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("server start", "config", s.config)
	defer slog.Info("server stop")

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := s.runHTTPServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		s.services.Ingest.RunWakeupScheduler(groupCtx)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		return s.Stop()
	})

	return group.Wait()
}

// Stop drains in-flight requests within the shutdown budget and closes the
// database.
func (s *Server) Stop() error {
	slog.Info("server shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	if cErr := s.services.Close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}

func (s *Server) runHTTPServer() error {
	if s.config.CertFile != "" && s.config.KeyFile != "" {
		slog.Info("server listen tls", "addr", s.config.HTTPAddr, "cert", s.config.CertFile)
		return s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	}
	slog.Info("server listen http", "addr", s.config.HTTPAddr)
	return s.server.ListenAndServe()
}
