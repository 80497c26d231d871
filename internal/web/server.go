// Package web serves the operator REST API and the subscriber websocket
// channels.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"domator-go/internal/automation"
	"domator-go/internal/firmware"
	"domator-go/internal/hub"
	"domator-go/internal/mesh"
	"domator-go/internal/store"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication on /api/.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

// WithAllowedOrigins sets allowed origin patterns for CORS and websockets.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithAutomation exposes the script API.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithFirmware exposes the firmware catalog.
func WithFirmware(c *firmware.Catalog) ServerOption {
	return func(s *Server) { s.firmware = c }
}

// WithVersion sets the version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// Server is the HTTP front of the mesh router.
type Server struct {
	router *mesh.Router
	store  store.Store
	hub    *hub.Hub
	logger *slog.Logger
	mux    *http.ServeMux

	apiKey         string
	allowedOrigins []string
	firmware       *firmware.Catalog
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
}

func NewServer(router *mesh.Router, st store.Store, h *hub.Hub, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		router: router,
		store:  st,
		hub:    h,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Topology
	s.mux.HandleFunc("GET /api/topology", s.handleAPITopology)
	s.mux.HandleFunc("POST /api/topology/push", s.handleAPIPushTopology)
	s.mux.HandleFunc("POST /api/relays", s.handleAPIAddRelay)
	s.mux.HandleFunc("PATCH /api/relays/{id}", s.handleAPIRenameRelay)
	s.mux.HandleFunc("DELETE /api/relays/{id}", s.handleAPIRemoveRelay)
	s.mux.HandleFunc("PATCH /api/relays/{id}/outputs/{output}", s.handleAPIEditOutput)
	s.mux.HandleFunc("PUT /api/relays/{id}/outputs/{output}/state", s.handleAPISetOutput)
	s.mux.HandleFunc("POST /api/relays/{id}/outputs/{output}/toggle", s.handleAPIToggleOutput)
	s.mux.HandleFunc("POST /api/switches", s.handleAPIAddSwitch)
	s.mux.HandleFunc("PATCH /api/switches/{id}", s.handleAPIRenameSwitch)
	s.mux.HandleFunc("DELETE /api/switches/{id}", s.handleAPIRemoveSwitch)
	s.mux.HandleFunc("PATCH /api/switches/{id}/buttons/{button}", s.handleAPISetButtonType)
	s.mux.HandleFunc("POST /api/connections", s.handleAPIAddConnection)
	s.mux.HandleFunc("DELETE /api/connections/{sw}/{button}/{relay}/{output}", s.handleAPIRemoveConnection)
	s.mux.HandleFunc("GET /api/sections", s.handleAPIListSections)
	s.mux.HandleFunc("POST /api/sections", s.handleAPIAddSection)
	s.mux.HandleFunc("DELETE /api/sections/{id}", s.handleAPIRemoveSection)

	// Live state
	s.mux.HandleFunc("GET /api/states", s.handleAPIStates)
	s.mux.HandleFunc("GET /api/online", s.handleAPIOnline)
	s.mux.HandleFunc("GET /api/latency", s.handleAPILatency)
	s.mux.HandleFunc("POST /api/refresh", s.handleAPIRefresh)

	// Firmware
	s.mux.HandleFunc("GET /api/firmware", s.handleAPIFirmware)
	s.mux.HandleFunc("PUT /api/firmware/{kind}", s.handleAPISetFirmware)
	s.mux.HandleFunc("POST /api/devices/{kind}/{id}/update", s.handleAPIRequestUpdate)
	s.mux.HandleFunc("POST /api/devices/{kind}/update", s.handleAPIRequestUpdateAll)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	// Subscriber channels: /lights/ws/{client}, /rcm/ws/{client}, ...
	for _, ch := range hub.Channels() {
		s.mux.HandleFunc("GET "+ch.Path()+"{client...}", s.handleWS(ch))
	}
}

// ServeHTTP applies CORS and API key checks before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && len(s.allowedOrigins) > 0 {
		if r.Method == http.MethodOptions {
			if !s.isOriginAllowed(origin) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			if !s.isOriginAllowed(origin) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
	}

	// Websocket upgrades cannot carry custom headers from browsers, so only
	// /api/ is key protected.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, automation.ErrScriptNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, store.ErrInvalid):
		status, msg = http.StatusBadRequest, err.Error()
	case mesh.IsTransport(err):
		status, msg = http.StatusBadGateway, "broker unavailable"
	}
	if status >= 500 {
		s.logger.Error(op, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON request body of at most 1 MB.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}
