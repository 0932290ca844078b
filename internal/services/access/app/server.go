// Package server wires the access runtime: storage, grant and policy
// services, the presence tracker, the status projector, and the
// HTTP/WebSocket transport.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/gathering.space/internal/platform/timeouts"
	"github.com/louisbranch/gathering.space/internal/services/access/analytics"
	"github.com/louisbranch/gathering.space/internal/services/access/directory"
	"github.com/louisbranch/gathering.space/internal/services/access/grant"
	"github.com/louisbranch/gathering.space/internal/services/access/notify"
	"github.com/louisbranch/gathering.space/internal/services/access/presence"
	"github.com/louisbranch/gathering.space/internal/services/access/status"
	"github.com/louisbranch/gathering.space/internal/services/access/storage/sqlite"
)

// Config defines the inputs for the access server.
type Config struct {
	HTTPAddr          string
	DBPath            string
	IdentityIssuer    string
	IdentityPublicKey string
	SweepOnStart      bool
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the access HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store

	authorizer *IdentityAuthorizer
	directory  *directory.Service
	grants     *grant.Service
	projector  *status.Projector
	tracker    *presence.Tracker
}

// NewServer builds a configured access server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	dbPath := strings.TrimSpace(config.DBPath)
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	var authorizer *IdentityAuthorizer
	if strings.TrimSpace(config.IdentityPublicKey) != "" {
		verified, err := NewIdentityAuthorizer(config.IdentityIssuer, config.IdentityPublicKey)
		if err != nil {
			return nil, fmt.Errorf("init identity authorizer: %w", err)
		}
		authorizer = verified
	} else {
		log.Printf("identity token verification disabled, trusting identity headers")
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open access store: %w", err)
	}

	hub := notify.NewHub()
	grants := grant.NewService(store, hub)
	emitter := analytics.NewEmitter(store)
	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		store:           store,
		authorizer:      authorizer,
		directory:       directory.NewService(store, grants, hub),
		grants:          grants,
		projector:       status.NewProjector(store, hub),
		tracker:         presence.NewTracker(store, emitter, hub),
	}
	server.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	if config.SweepOnStart {
		if swept, err := server.tracker.ForceAllOffline(context.Background()); err != nil {
			log.Printf("startup offline sweep failed err=%v", err)
		} else if swept > 0 {
			log.Printf("startup offline sweep records=%d", swept)
		}
		if repaired, err := server.directory.ReconcileOrphans(context.Background()); err != nil {
			log.Printf("startup orphan reconcile failed err=%v", err)
		} else if repaired > 0 {
			log.Printf("startup orphan reconcile repaired=%d", repaired)
		}
	}

	return server, nil
}

// Run creates and serves an access server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init access server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve access: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("access server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("access server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Handler exposes the HTTP routes, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close access store: %v", err)
		}
	}
}
