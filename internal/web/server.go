// Package web provides an HTTP status server for bench diagnostics.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/state"
)

// DefaultRetry is the delay between listen attempts.
const DefaultRetry = 2 * time.Second

// Source supplies the data the status pages render.
type Source interface {
	Snapshot() state.Snapshot
	Info() state.Info
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	src        Source
	retry      time.Duration
}

// New creates a Server that reads state from src.
func New(addr string, src Source) *Server {
	s := &Server{src: src, retry: DefaultRetry}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// SetRetry sets the delay between listen attempts.
func (s *Server) SetRetry(d time.Duration) {
	if d > 0 {
		s.retry = d
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully. A busy or
// failing listen address is logged and retried; Run only returns nil.
func (s *Server) Run(ctx context.Context) error {
	failures := uint64(0)
	for {
		errc := make(chan error, 1)
		go func() { errc <- s.ListenAndServe() }()
		select {
		case <-ctx.Done():
			if err := s.Shutdown(context.Background()); err != nil {
				glog.Warningf("http shutdown: %v", err)
			}
			return nil
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			failures++
			if failures == 1 || failures%100 == 0 {
				glog.Warningf("http %s: %v (attempt %d)", s.httpServer.Addr, err, failures)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retry):
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, state.NewStatus(s.src.Snapshot(), s.src.Info()))
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(state.FormatJSON(s.src.Snapshot(), s.src.Info()))
}
