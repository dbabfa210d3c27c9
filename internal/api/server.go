package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"geochat/internal/hub"
	"geochat/internal/presence"
	"geochat/internal/registry"
	"geochat/pkg/interfaces"
	"geochat/pkg/types"
)

// Server is the REST surface over the presence service. It shares the
// hub with the websocket transport so REST mutations produce the same
// membership broadcasts that socket location updates do.
type Server struct {
	presence *presence.Service
	store    interfaces.SpatialStore
	registry *registry.Registry
	hub      *hub.Hub
	log      *zap.Logger
	mux      *http.ServeMux
}

func NewServer(pres *presence.Service, store interfaces.SpatialStore, reg *registry.Registry, h *hub.Hub, log *zap.Logger) *Server {
	s := &Server{
		presence: pres,
		store:    store,
		registry: reg,
		hub:      h,
		log:      log,
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/users", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUsers))))
	s.mux.Handle("/users/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUserByID))))
	s.mux.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listUsers(w, r)
	case http.MethodPost:
		s.upsertUser(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/users/")
	if id == "" || strings.Contains(id, "/") {
		s.sendError(w, "user id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		s.deleteUser(w, r, id)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	roster, err := s.presence.Roster(r.Context())
	if err != nil {
		s.log.Error("roster load failed", zap.Error(err))
		s.sendError(w, "failed to list users", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, roster)
}

func (s *Server) upsertUser(w http.ResponseWriter, r *http.Request) {
	var req types.LocationPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	result, errs, err := s.presence.SubmitLocation(r.Context(), req.ID, req.Name, req.Latitude, req.Longitude)
	if err != nil {
		s.log.Error("location update failed", zap.String("id", req.ID), zap.Error(err))
		s.sendError(w, "failed to save user", http.StatusInternalServerError)
		return
	}
	if len(errs) > 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}

	s.hub.BroadcastPresence(r.Context(), result)
	s.writeJSON(w, http.StatusCreated, result.User)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	removed, err := s.presence.Remove(r.Context(), id)
	if err != nil {
		s.log.Error("user delete failed", zap.String("id", id), zap.Error(err))
		s.sendError(w, "failed to delete user", http.StatusInternalServerError)
		return
	}
	if !removed {
		s.sendError(w, "user not found", http.StatusNotFound)
		return
	}

	s.hub.BroadcastRemoval(r.Context(), id)
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	storeStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		storeStatus = fmt.Sprintf("error: %v", err)
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":    status,
		"store":     storeStatus,
		"sessions":  s.registry.Stats(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
