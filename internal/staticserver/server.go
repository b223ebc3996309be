// Package staticserver serves a prebuilt UI bundle on a loopback port.
package staticserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves files from a static export directory
type Server struct {
	dir    string
	logger *slog.Logger
	router chi.Router
	srv    *http.Server
	url    string
}

// New creates a server for dir; call Start to listen
func New(dir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		dir:    dir,
		logger: logger.With("component", "static"),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	// The bundle can be rebuilt under a running window
	r.Use(middleware.NoCache)

	r.Get("/*", s.handleFile)
	r.Head("/*", s.handleFile)

	s.router = r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on 127.0.0.1 with an OS-assigned port and returns the base URL
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to listen for static bundle: %w", err)
	}

	s.srv = &http.Server{Handler: s.router}
	s.url = fmt.Sprintf("http://%s/", listener.Addr().String())

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Static server stopped", "error", err)
		}
	}()

	s.logger.Info("Serving static UI bundle", "dir", s.dir, "url", s.url)
	return s.url, nil
}

// URL returns the base URL once started
func (s *Server) URL() string {
	return s.url
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// handleFile resolves a request the way a static Next export is laid out:
// the exact file, then "<path>.html", then "<path>/index.html".
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	clean := path.Clean("/" + r.URL.Path)
	base := filepath.Join(s.dir, filepath.FromSlash(clean))

	for _, candidate := range []string{base, base + ".html", filepath.Join(base, "index.html")} {
		if isFile(candidate) {
			http.ServeFile(w, r, candidate)
			return
		}
	}

	if notFound := filepath.Join(s.dir, "404.html"); isFile(notFound) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		data, err := os.ReadFile(notFound)
		if err == nil {
			w.Write(data)
		}
		return
	}
	http.NotFound(w, r)
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
