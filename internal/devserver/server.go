// Package devserver serves the build output over HTTP during development and,
// when hot reload is enabled, tells connected pages to reload after a rebuild.
package devserver

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/wasmbundle/internal/config"
	"github.com/wolfeidau/wasmbundle/internal/logger"
)

// ReloadPath is the websocket endpoint pages connect to for reload notifications.
const ReloadPath = "/__wasmbundle/ws"

//go:embed reload.js
var reloadClient string

type Server struct {
	cfg     config.DevServer
	log     zerolog.Logger
	hub     *hub
	handler http.Handler
}

// New creates a development server for the descriptor's devServer section. With
// hot reload disabled there is no reload endpoint and Reload does nothing.
func New(cfg config.DevServer, log zerolog.Logger) *Server {
	s := &Server{
		cfg: cfg,
		log: log,
	}

	var static http.Handler = http.FileServer(http.Dir(cfg.Static))
	static = noCache(static)
	static = gzhttp.GzipHandler(static)
	if len(cfg.CORS) > 0 {
		static = cors.New(cors.Options{
			AllowedOrigins: cfg.CORS,
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		}).Handler(static)
	}

	mux := http.NewServeMux()
	mux.Handle("/", logger.Requests(log)(static))

	if cfg.Hot {
		s.hub = newHub()
		mux.Handle(ReloadPath, s.hub)
	}

	s.handler = mux
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ReloadClient returns the script prepended to entry bundles so pages follow
// reload notifications, or "" when hot reload is disabled.
func (s *Server) ReloadClient() string {
	if s.hub == nil {
		return ""
	}
	return strings.ReplaceAll(reloadClient, "__RELOAD_PATH__", ReloadPath)
}

// Reload notifies connected pages that a new build is available.
func (s *Server) Reload(buildID string) {
	if s.hub == nil {
		return
	}
	n := s.hub.broadcast(message{Type: "reload", BuildID: buildID})
	s.log.Debug().Str("build_id", buildID).Int("clients", n).Msg("Sent reload")
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := configureHTTPServer(ln.Addr().String(), s.handler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("static", s.cfg.Static).
		Bool("hot", s.cfg.Hot).
		Msg("Development server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.hub != nil {
		s.hub.closeAll()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	s.log.Info().Msg("Development server stopped")
	return nil
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

// noCache stops browsers reusing stale bundles between rebuilds.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}
