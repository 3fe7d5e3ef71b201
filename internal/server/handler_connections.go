package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/atomsched/pkg/model"
)

// connectionView is the wire representation of a connection plus the
// registry facts the Connection struct itself does not carry.
type connectionView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Cancelled bool      `json:"cancelled"`
	Atoms     int       `json:"atoms"`
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	// The body is optional; an unnamed connection is fine.
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	conn := model.NewConnection(req.Name)

	s.mu.Lock()
	s.connections[conn.ID] = conn
	s.mu.Unlock()

	s.logger.Info("connection created", "connection_id", conn.ID, "name", conn.Name)
	respondCreated(w, reqID, conn)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	s.mu.RLock()
	counts := make(map[string]int, len(s.connections))
	for _, a := range s.atoms {
		counts[a.ConnectionID()]++
	}
	views := make([]connectionView, 0, len(s.connections))
	for _, conn := range s.connections {
		views = append(views, connectionView{
			ID:        conn.ID,
			Name:      conn.Name,
			CreatedAt: conn.CreatedAt,
			Cancelled: conn.Cancelled(),
			Atoms:     counts[conn.ID],
		})
	}
	s.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.Before(views[j].CreatedAt)
		}
		return views[i].ID < views[j].ID
	})

	respondList(w, reqID, views, &model.Pagination{
		Total: len(views), Limit: len(views), Offset: 0, HasMore: false,
	})
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	conn := s.connections[id]
	atoms := 0
	for _, a := range s.atoms {
		if a.ConnectionID() == id {
			atoms++
		}
	}
	s.mu.RUnlock()

	if conn == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("connection", id))
		return
	}

	respondOK(w, reqID, connectionView{
		ID:        conn.ID,
		Name:      conn.Name,
		CreatedAt: conn.CreatedAt,
		Cancelled: conn.Cancelled(),
		Atoms:     atoms,
	})
}

// handleCancelConnection withdraws every atom the connection owns: queued
// and waiting atoms retire with ATOM_TERMINATED, executing atoms are hard
// stopped on their slots. The connection stays in the registry so its final
// state remains queryable.
func (s *Server) handleCancelConnection(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	conn := s.connection(id)
	if conn == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("connection", id))
		return
	}
	if conn.Cancelled() {
		respondError(w, reqID, http.StatusConflict,
			model.NewConflictError("connection "+id+" is already cancelled"))
		return
	}

	// Synchronous: returns once the scheduler has processed the cancel.
	s.loop.CancelConnection(conn)

	s.logger.Info("connection cancelled", "connection_id", id)
	respondOK(w, reqID, map[string]any{
		"id":        id,
		"cancelled": true,
	})
}
