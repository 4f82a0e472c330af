package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"blunav-go/internal/logx"
	"blunav-go/positioning"
	"blunav-go/publish"
	"blunav-go/tracking"
)

// Server is the live view: websocket position stream plus a small JSON API.
type Server struct {
	Hub *Hub

	mgr     *tracking.Manager
	reg     *positioning.Registry
	log     *logx.Logger
	metrics http.Handler

	mu   sync.Mutex
	last map[string]publish.Position
}

func NewServer(mgr *tracking.Manager, reg *positioning.Registry, log *logx.Logger) *Server {
	if log == nil {
		log = logx.Nop()
	}
	return &Server{
		Hub:  NewHub(log),
		mgr:  mgr,
		reg:  reg,
		log:  log,
		last: make(map[string]publish.Position),
	}
}

// SetMetricsHandler mounts h at /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) { s.metrics = h }

// HandleFix records f as the tag's latest position and broadcasts it.
func (s *Server) HandleFix(f tracking.Fix) {
	pos := publish.NewPosition(f.Tag, f.Session, f.Seq, f.Result)
	s.mu.Lock()
	s.last[f.Tag] = pos
	s.mu.Unlock()
	if b, err := json.Marshal(pos); err == nil {
		s.Hub.Broadcast(b)
	}
}

// Tags returns the latest position of every tag, ordered by tag.
func (s *Server) Tags() []publish.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]publish.Position, 0, len(s.last))
	for _, p := range s.last {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Handler builds the HTTP routes. distDir, when set, is served at /.
func (s *Server) Handler(distDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Tags())
	})
	mux.HandleFunc("GET /api/anchors", func(w http.ResponseWriter, r *http.Request) {
		if s.reg == nil {
			writeJSON(w, http.StatusOK, []positioning.Anchor{})
			return
		}
		writeJSON(w, http.StatusOK, s.reg.All())
	})
	mux.HandleFunc("GET /api/tags/{tag}/history", s.handleHistory)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	if distDir != "" {
		if _, err := os.Stat(filepath.Join(distDir, "index.html")); err == nil {
			mux.Handle("/", http.FileServer(http.Dir(distDir)))
		}
	}
	return mux
}

type historyResponse struct {
	Tag     string                       `json:"tag"`
	Results []positioning.LocationResult `json:"results"`
	Average *positioning.LocationResult  `json:"average,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	t, ok := s.mgr.Lookup(tag)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tag " + tag})
		return
	}
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a non-negative integer"})
			return
		}
	}
	results := t.Results()
	if n > 0 && len(results) > n {
		results = results[len(results)-n:]
	}
	resp := historyResponse{Tag: tag, Results: results}
	if avg, err := t.Average(n); err == nil {
		resp.Average = &avg
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe runs the HTTP server and hub until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr, distDir string) error {
	go s.Hub.Run()
	srv := &http.Server{Addr: addr, Handler: s.Handler(distDir), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		s.Hub.Close()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Hub.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
