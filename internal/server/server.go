// Package server exposes the git service over HTTP and streams command
// events and repository changes over WebSockets.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thiagokokada/gitcore/internal/git"
	"github.com/thiagokokada/gitcore/internal/git/backend"
	"github.com/thiagokokada/gitcore/internal/watch"
)

// Options tunes a Server. The zero value is usable.
type Options struct {
	// AllowedOrigins lists Origin values accepted in addition to the
	// server's own host.
	AllowedOrigins []string

	// AllowedHosts lists Host header names accepted besides loopback ones.
	AllowedHosts []string

	// WatchDelay is the debounce used by /ws/watch.
	WatchDelay time.Duration

	// Version is reported in the Server response header.
	Version string
}

type Server struct {
	svc      *git.Service
	bus      *backend.Bus
	logger   *slog.Logger
	origins  map[string]struct{}
	hosts    map[string]struct{}
	delay    time.Duration
	version  string
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

func New(svc *git.Service, bus *backend.Bus, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WatchDelay <= 0 {
		opts.WatchDelay = watch.DefaultDelay
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		svc:     svc,
		bus:     bus,
		logger:  logger,
		origins: make(map[string]struct{}, len(opts.AllowedOrigins)),
		hosts:   make(map[string]struct{}, len(opts.AllowedHosts)),
		delay:   opts.WatchDelay,
		version: opts.Version,
		mux:     http.NewServeMux(),
	}
	for _, origin := range opts.AllowedOrigins {
		s.origins[origin] = struct{}{}
	}
	for _, host := range opts.AllowedHosts {
		s.hosts[strings.ToLower(host)] = struct{}{}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16384,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/git/info", s.handlePathInfo)
	s.mux.HandleFunc("PUT /api/git/path", s.handleSetPath)
	s.mux.HandleFunc("GET /api/git/version", s.handleVersion)
	s.mux.HandleFunc("POST /api/repository/detect", s.handleDetect)

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/log", s.handleLog)
	s.mux.HandleFunc("GET /api/graph", s.handleGraph)
	s.mux.HandleFunc("GET /api/branches", s.handleBranches)
	s.mux.HandleFunc("GET /api/stash", s.handleStashList)
	s.mux.HandleFunc("GET /api/remotes", s.handleRemotes)
	s.mux.HandleFunc("GET /api/commit", s.handleCommitDetails)

	s.mux.HandleFunc("POST /api/stage", s.handleStage)
	s.mux.HandleFunc("POST /api/unstage", s.handleUnstage)
	s.mux.HandleFunc("POST /api/commit", s.handleCommit)
	s.mux.HandleFunc("POST /api/branch/switch", s.handleSwitch)
	s.mux.HandleFunc("POST /api/branch/delete", s.handleDeleteBranch)
	s.mux.HandleFunc("POST /api/checkout", s.handleCheckout)
	s.mux.HandleFunc("POST /api/stash/push", s.handleStashPush)
	s.mux.HandleFunc("POST /api/stash/apply", s.handleStashApply)
	s.mux.HandleFunc("POST /api/run", s.handleRun)

	s.mux.HandleFunc("POST /api/fetch", s.handleRemote(s.svc.FetchAll))
	s.mux.HandleFunc("POST /api/pull", s.handleRemote(s.svc.Pull))
	s.mux.HandleFunc("POST /api/push", s.handleRemote(s.svc.Push))

	s.mux.HandleFunc("GET /ws/events", s.handleEvents)
	s.mux.HandleFunc("GET /ws/watch", s.handleWatch)
}

// ServeHTTP refuses requests addressed to a foreign Host (DNS rebinding) or
// sent from a foreign Origin before routing them.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", "gitcore/"+s.version)
	if !s.checkHost(r) {
		s.writeError(w, r, fmt.Errorf("%w: host %q", errForbidden, r.Host))
		return
	}
	if !s.checkOrigin(r) {
		s.writeError(w, r, fmt.Errorf("%w: origin %q", errForbidden, r.Header.Get("Origin")))
		return
	}
	s.mux.ServeHTTP(w, r)
}

// checkHost accepts loopback names and the configured hosts.
func (s *Server) checkHost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	_, ok := s.hosts[host]
	return ok
}

// checkOrigin accepts requests without an Origin, same-host origins and the
// configured allow list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := s.origins[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

var (
	errForbidden            = errors.New("request not allowed")
	errUnsupportedMediaType = errors.New("content type must be application/json")
)

type errorResponse struct {
	Message string `json:"message"`
}

func statusFor(err error) int {
	var cmdErr *git.CommandError
	switch {
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, backend.ErrInvalidArgument), errors.Is(err, backend.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.As(err, &cmdErr):
		return http.StatusConflict
	case errors.Is(err, backend.ErrMissingExecutable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	level := slog.LevelDebug
	if code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", code),
		slog.Any("error", err),
	)
	writeJSON(w, code, errorResponse{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into v. Only application/json is
// accepted so browsers must preflight cross-origin writes. Malformed bodies
// are reported as invalid arguments.
func decodeBody(r *http.Request, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("%w, got %q", errUnsupportedMediaType, r.Header.Get("Content-Type"))
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", backend.ErrInvalidArgument, err)
	}
	return nil
}
