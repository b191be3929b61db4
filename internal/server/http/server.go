// Package httpserver exposes the delta-sync API and the operational account
// endpoints over HTTP. Validation and serialization beyond what the handlers
// need is owned by the API gateway in front.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rivermail/syncd/internal/runtime"
	"github.com/rivermail/syncd/internal/server/http/controllers"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

// New builds the server and registers all routes.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	reg := controllers.NewControllerRegistry(rt, logger)
	reg.RegisterAllRoutes(mux)
	return s
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listen address, for tests using ":0".
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
