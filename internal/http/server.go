package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tomek7667/rendermon/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Snapshotter is the read side of the aggregate.
type Snapshotter interface {
	SnapshotVersioned() (store.Snapshot, uint64)
}

type Options struct {
	Port int
	// WebDir, when set, is served as static files instead of the embedded
	// dashboard.
	WebDir string
	// NodeMaxAge hides nodes that have not reported for longer than this
	// unless a request asks otherwise. Zero shows every node.
	NodeMaxAge time.Duration
}

type Server struct {
	port       int
	store      Snapshotter
	r          *chi.Mux
	log        *zap.Logger
	cache      *ristretto.Cache
	webDir     string
	nodeMaxAge time.Duration
	now        func() time.Time
}

func New(opts Options, st Snapshotter, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := newSnapshotCache()
	if err != nil {
		return nil, err
	}

	s := &Server{
		r:          chi.NewRouter(),
		port:       opts.Port,
		store:      st,
		log:        logger,
		cache:      cache,
		webDir:     opts.WebDir,
		nodeMaxAge: opts.NodeMaxAge,
		now:        time.Now,
	}
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(newRequestLogger(logger, statusPath, legacyStatusPath, healthPath))
	s.r.Use(middleware.Recoverer)
	s.r.Use(middleware.Timeout(60 * time.Second))
	return s, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.r
}

// Serve listens until ctx is cancelled and then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	defer s.cache.Close()

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		if ip, err := preferredHostIP(); err == nil && ip != "" {
			s.log.Info("dashboard available", zap.String("url", fmt.Sprintf("http://%s:%d/", ip, s.port)))
		}
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
