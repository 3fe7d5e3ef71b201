package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/atomsched/pkg/model"
)

// semaphoreView is the wire representation of a semaphore.
type semaphoreView struct {
	Key      uint64 `json:"key"`
	Name     string `json:"name,omitempty"`
	Signaled bool   `json:"signaled"`
}

func viewSemaphore(sem *model.Semaphore) semaphoreView {
	return semaphoreView{Key: sem.Key(), Name: sem.Name(), Signaled: sem.Signaled()}
}

func (s *Server) handleCreateSemaphore(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

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

	sem := model.NewSemaphore(req.Name)

	s.mu.Lock()
	s.semaphores[sem.Key()] = sem
	s.mu.Unlock()

	s.logger.Info("semaphore created", "key", sem.Key(), "name", sem.Name())
	respondCreated(w, reqID, viewSemaphore(sem))
}

func (s *Server) handleListSemaphores(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	s.mu.RLock()
	views := make([]semaphoreView, 0, len(s.semaphores))
	for _, sem := range s.semaphores {
		views = append(views, viewSemaphore(sem))
	}
	s.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })

	respondList(w, reqID, views, &model.Pagination{
		Total: len(views), Limit: len(views), Offset: 0, HasMore: false,
	})
}

// semaphoreFromURL resolves the {key} URL parameter, writing the error
// response itself when the key is malformed or unknown.
func (s *Server) semaphoreFromURL(w http.ResponseWriter, r *http.Request, reqID string) *model.Semaphore {
	raw := chi.URLParam(r, "key")
	key, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid semaphore key",
				model.FieldError{Field: "key", Message: "semaphore key must be an unsigned integer"}))
		return nil
	}

	sem := s.semaphore(key)
	if sem == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("semaphore", raw))
		return nil
	}
	return sem
}

func (s *Server) handleGetSemaphore(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	sem := s.semaphoreFromURL(w, r, reqID)
	if sem == nil {
		return
	}
	respondOK(w, reqID, viewSemaphore(sem))
}

// handleSignalSemaphore sets the semaphore and releases every soft atom
// waiting on it. Signalling an already-signaled semaphore is a no-op.
func (s *Server) handleSignalSemaphore(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	sem := s.semaphoreFromURL(w, r, reqID)
	if sem == nil {
		return
	}

	sem.Signal()

	s.logger.Debug("semaphore signalled", "key", sem.Key())
	respondOK(w, reqID, viewSemaphore(sem))
}

// handleResetSemaphore clears the flag. Atoms already waiting stay
// registered and will be released by the next signal.
func (s *Server) handleResetSemaphore(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	sem := s.semaphoreFromURL(w, r, reqID)
	if sem == nil {
		return
	}

	sem.Reset()

	s.logger.Debug("semaphore reset", "key", sem.Key())
	respondOK(w, reqID, viewSemaphore(sem))
}
