package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// shutdownTimeout bounds the drain of in-flight requests.
const shutdownTimeout = 30 * time.Second

// Server owns the HTTP listener plus the single-instance guards: an
// advisory lock on the data root and a pidfile for the CLI.
type Server struct {
	cfg    *config.Config
	http   *http.Server
	lock   *flock.Flock
	pid    *PIDFile
	logger *slog.Logger
}

// New wraps a router into a runnable server.
func New(cfg *config.Config, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:    cfg.Server.Addr(),
			Handler: handler,
		},
		lock:   flock.New(cfg.Data.LockPath()),
		pid:    NewPIDFile(filepath.Join(cfg.Data.Root, "amanrag.pid")),
		logger: logger.With("component", "server"),
	}
}

// PID exposes the pidfile for the CLI.
func (s *Server) PID() *PIDFile { return s.pid }

// Start acquires the data-root lock, writes the pidfile, and serves
// until Shutdown. It blocks; the returned error is nil on a clean
// shutdown.
func (s *Server) Start() error {
	acquired, err := s.lock.TryLock()
	if err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "acquiring data root lock failed", err).
			WithDetail("lock_path", s.lock.Path())
	}
	if !acquired {
		return amerrors.New(amerrors.ErrCodeConfigInvalid, "another server instance holds the data root", nil).
			WithDetail("lock_path", s.lock.Path()).
			WithSuggestion("Stop the running instance or point data.root elsewhere")
	}
	if err := s.pid.Write(); err != nil {
		_ = s.lock.Unlock()
		return err
	}

	s.logger.Info("listening", slog.String("addr", s.http.Addr))
	err = s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, then releases the pidfile and
// lock. Safe to call once Start has returned an error.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}

	err := s.http.Shutdown(ctx)
	if rmErr := s.pid.Remove(); rmErr != nil && err == nil {
		err = rmErr
	}
	if ulErr := s.lock.Unlock(); ulErr != nil && err == nil {
		err = ulErr
	}
	s.logger.Info("server stopped")
	return err
}
