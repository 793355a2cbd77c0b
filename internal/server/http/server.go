// Package http is the thin transport glue over the vault services. It maps
// requests onto service calls and sentinel errors onto status codes; all
// validation and policy live in the services.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vkushnir/filevault/internal/logging"
	"github.com/vkushnir/filevault/internal/server/files"
	"github.com/vkushnir/filevault/internal/server/sessions"
	"github.com/vkushnir/filevault/internal/server/users"
)

// TokenHeaderName carries the session token on requests and the rotated
// token on every authenticated response.
const TokenHeaderName = "X-Auth-Token"

type Server struct {
	address  string
	logger   logging.Logger
	users    *users.Service
	sessions *sessions.Service
	files    *files.Service
}

func NewServer(address string, logger logging.Logger, us *users.Service, ss *sessions.Service, fs *files.Service) *Server {
	return &Server{
		address:  address,
		logger:   logger.With("module", "http_server"),
		users:    us,
		sessions: ss,
		files:    fs,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.withAuth(s.handleLogout))

	mux.HandleFunc("GET /api/files", s.withAuth(s.handleList))
	mux.HandleFunc("POST /api/files/upload", s.withAuth(s.handleUpload))
	mux.HandleFunc("GET /api/files/download", s.withAuth(s.handleDownload))
	mux.HandleFunc("POST /api/files/delete", s.withAuth(s.handleDelete))
	mux.HandleFunc("POST /api/files/share", s.withAuth(s.handleShare))

	mux.HandleFunc("GET /api/shared", s.handleListShared)
	mux.HandleFunc("GET /api/shared/download", s.handleSharedDownload)

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
