package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"roomchat/internal/storage"
)

type healthResponse struct {
	Status      string    `json:"status"`
	Build       BuildInfo `json:"build"`
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
	Audit       bool      `json:"audit"`
}

type roomSummary struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

type roomsResponse struct {
	Rooms []roomSummary `json:"rooms"`
}

type auditResponse struct {
	Events []storage.AuditEvent `json:"events"`
	Counts map[string]int64     `json:"counts"`
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Build:       CurrentBuild(),
		Connections: s.registry.Len(),
		Rooms:       len(s.registry.ActiveRooms()),
		Audit:       s.store != nil,
	})
}

// HandleRooms lists active rooms with their member counts, sorted by name.
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	sizes := s.registry.RoomSizes()
	summaries := make([]roomSummary, 0, len(sizes))
	for _, room := range s.registry.ActiveRooms() {
		members, ok := sizes[room]
		if !ok {
			continue
		}
		summaries = append(summaries, roomSummary{Name: room, Members: members})
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: summaries})
}

func (s *Server) HandleRoomExists(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	if len(s.registry.MembersOf(room)) > 0 {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}

// HandleAudit serves the newest audit rows, optionally filtered by room or
// connection id.
func (s *Server) HandleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("audit journal disabled"))
		return
	}
	query := r.URL.Query()
	filter := storage.AuditFilter{
		Room:         strings.TrimSpace(query.Get("room")),
		ConnectionID: strings.TrimSpace(query.Get("connection")),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	counts, err := s.store.CountEventsByKind(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []storage.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Events: events, Counts: counts})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
