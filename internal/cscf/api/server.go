// Package api exposes a thin operational HTTP surface: health, a
// stats endpoint reporting the AS chain table's and the registration
// cache's live sizes, and nothing else — no new domain logic lives here.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// ChainTableProvider exposes the live AS chain table size. Implemented
// by *aschain.Table.
type ChainTableProvider interface {
	Len() int
}

// LocationCacheProvider exposes the live registration-data cache size.
// Implemented by *location.Cache.
type LocationCacheProvider interface {
	Len() int
}

// Server is a headless HTTP API server: health and stats only.
type Server struct {
	addr       string
	httpServer *http.Server
	chains     ChainTableProvider
	locCache   LocationCacheProvider
	startTime  time.Time
}

// NewServer builds a Server bound to addr, reporting on chains and
// locCache.
func NewServer(addr string, chains ChainTableProvider, locCache LocationCacheProvider) *Server {
	s := &Server{
		addr:      addr,
		chains:    chains,
		locCache:  locCache,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins listening for HTTP requests in a background goroutine.
func (s *Server) Start() error {
	slog.Info("[API] starting HTTP API server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[API] server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully closes the server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{}

	if s.chains != nil {
		response["active_chains"] = s.chains.Len()
	}
	if s.locCache != nil {
		response["cached_registrations"] = s.locCache.Len()
	}

	s.writeJSON(w, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] failed to encode JSON", "error", err)
	}
}
