// Package server accepts data layer commands over HTTP.
//
//	POST /commands  JSON array of {"name": ..., "args": [...]}; 204 on success
//	GET  /model     current page model as JSON
//	GET  /healthz   "ok"
//
// Every accepted command is pushed onto one shared data layer, so a remote
// page behaves like a single long-lived page. The processor and storage come
// from the host configuration; a batch containing config is rejected.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roach88/measure/internal/datalayer"
)

const (
	// MaxBodyBytes bounds a /commands request body.
	MaxBodyBytes = 1 << 20

	shutdownTimeout = 30 * time.Second
)

// WireCommand is the JSON form of a datalayer.Command.
type WireCommand struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

// Server serves the command endpoint for one data layer.
type Server struct {
	dl      *datalayer.DataLayer
	address string
	logger  *slog.Logger

	// base is the context commands are processed under. Request contexts
	// are not used: a client hanging up must not stop the drain.
	base context.Context
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server for dl listening on address when Run is called.
func New(dl *datalayer.DataLayer, address string, opts ...Option) *Server {
	s := &Server{
		dl:      dl,
		address: address,
		logger:  slog.Default(),
		base:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/commands", s.handleCommands)
	mux.HandleFunc("/model", s.handleModel)
	return mux
}

// Run listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.base = context.WithoutCancel(ctx)
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("measure server listening", "address", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server exited")
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var batch []WireCommand
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if dec.More() {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	for i, wc := range batch {
		if wc.Name == datalayer.CommandConfig {
			http.Error(w, fmt.Sprintf("command %d: config is owned by the host configuration", i), http.StatusBadRequest)
			return
		}
		if wc.Name == datalayer.CommandState && !isModelUpdate(wc.Args) {
			http.Error(w, fmt.Sprintf("command %d: a model update takes exactly one object", i), http.StatusBadRequest)
			return
		}
	}

	for _, wc := range batch {
		s.dl.Push(s.base, datalayer.NewCommand(wc.Name, wc.Args...))
	}
	s.logger.Debug("commands accepted", "count", len(batch))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.dl.Model().Snapshot()); err != nil {
		s.logger.Warn("failed to encode model", "error", err)
	}
}

func isModelUpdate(args []any) bool {
	if len(args) != 1 {
		return false
	}
	_, ok := args[0].(map[string]any)
	return ok
}
