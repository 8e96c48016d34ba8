// Package api composes the arena's network surfaces: the REST API, the
// WebSocket match stream and the gRPC ArenaService.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/Masterora/agent-arena/internal/arena"
	"github.com/Masterora/agent-arena/internal/config"
	"github.com/Masterora/agent-arena/internal/httpapi"
)

// shutdownTimeout bounds graceful shutdown of both listeners.
const shutdownTimeout = 5 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	cfg  config.Server
	svc  *arena.Service
	rest *httpapi.Server
	log  *slog.Logger
}

// NewServer creates a Server listening on the addresses in cfg.
func NewServer(cfg config.Server, svc *arena.Service, rest *httpapi.Server, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, svc: svc, rest: rest, log: log}
}

// Handler returns the REST routes plus the match stream, behind CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.rest.RegisterRoutes(mux)
	mux.HandleFunc("GET /api/matches/{id}/stream", s.handleStream)
	return httpapi.CORS(mux)
}

// RegisterGRPC registers the ArenaService on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&arenaServiceDesc, &grpcService{svc: s.svc, log: s.log})
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr())
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	var grpcLn net.Listener
	if addr := s.cfg.GRPCAddr(); addr != "" {
		grpcLn, err = net.Listen("tcp", addr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve runs on the given listeners until ctx is cancelled, then shuts
// both servers down gracefully. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	var grpcServer *grpc.Server

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	if grpcLn != nil {
		grpcServer = grpc.NewServer()
		s.RegisterGRPC(grpcServer)
		go func() {
			s.log.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		s.log.Error("server error", "error", serveErr)
	}

	s.log.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("shutdown error", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}
