// Package server exposes the HTTP surface: event ingestion from the
// browser extension, a read-only status API for the dashboard, and a
// websocket feed that pushes each completed watch cycle.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ganeshkumarm1/DriftWatcher/internal/config"
	"github.com/ganeshkumarm1/DriftWatcher/internal/eventlog"
	"github.com/ganeshkumarm1/DriftWatcher/internal/session"
)

type Server struct {
	cfg      config.ServerConfig
	store    *eventlog.Store
	sessions *session.Manager
	httpSrv  *http.Server
	clients  sync.Map
	nextID   atomic.Int64

	mu        sync.RWMutex
	lastCycle json.RawMessage
}

func New(cfg config.ServerConfig, store *eventlog.Store, sessions *session.Manager) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
	}
}

// Router builds the chi router. Split out from Start so tests can drive
// handlers through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))

	r.Post("/event", s.handleEvent)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/ws", s.handleWS)

	return r
}

func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.Router(),
	}

	go func() {
		log.Printf("[server] listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[server] server error: %v", err)
		}
	}()

	return nil
}

func (s *Server) Stop() error {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			log.Printf("[server] shutdown error: %v", err)
		}
	}
	s.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	log.Printf("[server] stopped")
	return nil
}

// eventPayload is the wire shape the extension sends. server_ts is never
// accepted from the client; it is stamped here at receipt.
type eventPayload struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	DurationMs  int64  `json:"durationMs"`
	ScrollCount int    `json:"scrollCount"`
	KeyCount    int    `json:"keyCount"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var payload eventPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if payload.DurationMs < 0 || payload.ScrollCount < 0 || payload.KeyCount < 0 {
		writeError(w, http.StatusBadRequest, "negative counters")
		return
	}

	ev := eventlog.Event{
		URL:         payload.URL,
		Title:       payload.Title,
		Content:     payload.Content,
		DurationMs:  payload.DurationMs,
		ScrollCount: payload.ScrollCount,
		KeyCount:    payload.KeyCount,
		ServerTS:    time.Now().UnixMilli(),
	}
	if err := s.store.Append(ev); err != nil {
		log.Printf("[server] append event: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to record event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Load()
	if err != nil {
		log.Printf("[server] load session state: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load session state")
		return
	}

	s.mu.RLock()
	lastCycle := s.lastCycle
	s.mu.RUnlock()

	resp := map[string]any{
		"goal":             st.Goal,
		"focus_state":      st.FocusState,
		"confidence":       st.Confidence,
		"drift_count":      st.DriftCount,
		"session_start_ts": st.SessionStartTS,
		"last_check_ts":    st.LastCheckTS,
	}
	if lastCycle != nil {
		resp["last_cycle"] = lastCycle
	}

	writeJSON(w, http.StatusOK, resp)
}

// PublishCycle caches the latest cycle report for /api/status and pushes
// it to every connected websocket client.
func (s *Server) PublishCycle(report any) {
	data, err := json.Marshal(report)
	if err != nil {
		log.Printf("[server] marshal cycle report: %v", err)
		return
	}

	s.mu.Lock()
	s.lastCycle = data
	s.mu.Unlock()

	s.broadcast(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
