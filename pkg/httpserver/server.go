package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkmesh/internal/tracker"
)

// StatusServer serves a read-only JSON view of a tracker registry.
type StatusServer struct {
	reg *tracker.Registry
	log *logrus.Entry
	srv *http.Server
}

func New(addr string, reg *tracker.Registry, log *logrus.Entry) *StatusServer {
	s := &StatusServer{reg: reg, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/files/", s.handleFile)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routes for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe serves until ctx is cancelled.
func (s *StatusServer) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.WithField("addr", l.Addr().String()).Info("status endpoint listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StatusServer) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed!", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.reg.Files())
}

func (s *StatusServer) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed!", http.StatusMethodNotAllowed)
		return
	}
	fileID := strings.TrimPrefix(r.URL.Path, "/files/")
	if fileID == "" {
		s.handleFiles(w, r)
		return
	}
	chunks := s.reg.GetPeers(fileID)
	if len(chunks) == 0 {
		http.Error(w, "no such file", http.StatusNotFound)
		return
	}
	writeJSON(w, chunks)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
