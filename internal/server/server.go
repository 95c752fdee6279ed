// Package server provides the HTTP review API for VeriDoc.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/veridoc/veridoc/internal/checkpoint"
	"github.com/veridoc/veridoc/internal/config"
	"github.com/veridoc/veridoc/internal/monitor"
	"github.com/veridoc/veridoc/internal/orchestrator"
	"github.com/veridoc/veridoc/internal/query"
	"github.com/veridoc/veridoc/internal/resolution"
	"github.com/veridoc/veridoc/internal/storage"
	"go.uber.org/zap"
)

// Server is the HTTP server for the VeriDoc review API.
type Server struct {
	store     storage.Store
	engine    *resolution.Engine
	mon       *monitor.Monitor
	index     *query.Index
	processor *orchestrator.Processor
	ckpt      *checkpoint.Store
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	store storage.Store,
	engine *resolution.Engine,
	mon *monitor.Monitor,
	index *query.Index,
	processor *orchestrator.Processor,
	ckpt *checkpoint.Store,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		store:     store,
		engine:    engine,
		mon:       mon,
		index:     index,
		processor: processor,
		ckpt:      ckpt,
		config:    cfg,
		logger:    logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := s.router()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/conflicts", s.handleListConflicts)
	r.Post("/api/v1/conflicts/{id}/resolution", s.handleResolveConflict)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Get("/api/v1/search", s.handleSearch)

	return r
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
