// Package api serves the loopback JSON bridge the UI uses to reach the
// persisted store and the window host.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"go.olrik.dev/torcalc/internal/db"
)

// Store is the persisted store as seen by the bridge
type Store interface {
	ListTransactions() db.Result[[]db.Transaction]
	AddTransaction(amount, comment string) db.Result[db.Transaction]
	DeleteTransaction(id int64) db.Result[int64]
	ClearTransactions() db.Result[int64]
	ExportCSV(path string) db.Result[db.Export]
	ExportJSON(path string) db.Result[db.Export]
	GetSetting(key string) db.Result[db.Setting]
	SetSetting(key, value string) db.Result[db.Setting]
	Login(username, password string) db.Result[db.User]
}

// Window is the part of the window host the UI may drive
type Window interface {
	Reload(ctx context.Context) error
	Close(ctx context.Context) error
}

// Info is reported by /api/info
type Info struct {
	App     string `json:"app"`
	Version string `json:"version"`
	DataDir string `json:"dataDir"`
	DBPath  string `json:"dbPath"`
}

// Options configure the bridge
type Options struct {
	Info Info
	// ExportDir receives exports that name no path; empty means such an
	// export is CANCELLED. Explicit export paths must lie under ExportDir
	// or Info.DataDir.
	ExportDir string
	Logger    *slog.Logger
	// Clock dates default export names
	Clock clockwork.Clock
}

// Server is the bridge HTTP server
type Server struct {
	store     Store
	info      Info
	exportDir string
	clock     clockwork.Clock
	logger    *slog.Logger
	router    chi.Router

	mu     sync.Mutex
	window Window
	srv    *http.Server
	url    string
}

// NewServer creates a bridge over store
func NewServer(store Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	s := &Server{
		store:     store,
		info:      opts.Info,
		exportDir: opts.ExportDir,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "api"),
	}
	s.setupRouter()
	return s
}

// setupRouter configures all routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loopbackOnly)
	r.Use(s.localOriginOnly)
	r.Use(s.requireJSON)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// The UI is served from another loopback port
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.handlePing)
		r.Get("/info", s.handleInfo)
		r.Post("/auth/login", s.handleLogin)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", s.handleListTransactions)
			r.Post("/", s.handleAddTransaction)
			r.Delete("/", s.handleClearTransactions)
			r.Delete("/{id}", s.handleDeleteTransaction)
		})

		r.Get("/settings/{key}", s.handleGetSetting)
		r.Put("/settings/{key}", s.handleSetSetting)

		r.Post("/export/csv", s.handleExport(db.FormatCSV))
		r.Post("/export/json", s.handleExport(db.FormatJSON))

		r.Post("/window/reload", s.handleWindowReload)
		r.Post("/window/close", s.handleWindowClose)
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AttachWindow connects the window host once it exists
func (s *Server) AttachWindow(w Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = w
}

func (s *Server) currentWindow() Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Start listens on an ephemeral loopback port and serves in the background.
// It returns the base URL.
func (s *Server) Start() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to listen for api server: %w", err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	url := "http://" + l.Addr().String()

	s.mu.Lock()
	s.srv = srv
	s.url = url
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()

	s.logger.Info("API server listening", "url", url)
	return url, nil
}

// URL returns the base URL, empty before Start
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// loopbackOnly rejects requests from anything but a loopback address
func (s *Server) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			s.logger.Warn("Rejected non-loopback request", "remote", r.RemoteAddr, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, codeForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// localOriginOnly rejects requests sent by pages outside the loopback UI.
// Requests without an Origin header come from the shell or tools and pass.
func (s *Server) localOriginOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !isLocalOrigin(origin) {
			s.logger.Warn("Rejected request from foreign origin", "origin", origin, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, codeForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isLocalOrigin accepts http://localhost and http://127.0.0.1 with an
// optional port
func isLocalOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme != "http" || u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1":
	default:
		return false
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		return err == nil && n > 0 && n <= 65535
	}
	return u.Host == u.Hostname()
}

// requireJSON rejects request bodies that are not application/json. HTML
// forms and plain fetches can only send other media types without a
// preflight.
func (s *Server) requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != 0 {
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				s.logger.Warn("Rejected non-JSON request body",
					"content_type", r.Header.Get("Content-Type"), "path", r.URL.Path)
				writeError(w, http.StatusUnsupportedMediaType, codeUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
