package server

import (
	"net/http"
	"strconv"

	"github.com/me/atomsched/pkg/model"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.traces == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
			Code:    model.ErrInternal,
			Message: "trace store not configured",
		})
		return
	}

	opts := model.DefaultListOptions()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid query parameter",
					model.FieldError{Field: "limit", Message: "limit must be an integer"}))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid query parameter",
					model.FieldError{Field: "offset", Message: "offset must be an integer"}))
			return
		}
		opts.Offset = n
	}
	if v := q.Get("kind"); v != "" {
		opts.Kind = v
	}
	if v := q.Get("atom_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid query parameter",
					model.FieldError{Field: "atom_id", Message: "atom_id must be an unsigned integer"}))
			return
		}
		opts.AtomID = id
	}
	if v := q.Get("connection"); v != "" {
		opts.ConnectionID = v
	}
	opts.Clamp()

	events, total, err := s.traces.ListEvents(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}

	respondList(w, reqID, events, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(events) < total,
	})
}

func (s *Server) handleEventSummary(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.traces == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
			Code:    model.ErrInternal,
			Message: "trace store not configured",
		})
		return
	}

	kinds, err := s.traces.Summarize(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}

	total := 0
	for _, n := range kinds {
		total += n
	}

	respondOK(w, reqID, map[string]any{
		"total": total,
		"kinds": kinds,
	})
}
