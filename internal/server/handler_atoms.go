package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/atomsched/internal/gpu"
	"github.com/me/atomsched/pkg/model"
)

// submitAtomsRequest is the body of POST /connections/{id}/atoms. All atoms
// in one request reach the scheduler as a single batch, so a dependent pair
// can be submitted together with depends_on_index.
type submitAtomsRequest struct {
	Atoms []atomRequest `json:"atoms"`
}

type atomRequest struct {
	Priority   string `json:"priority,omitempty"`
	Protected  bool   `json:"protected,omitempty"`
	GPUAddress uint64 `json:"gpu_address,omitempty"`

	// DependsOn names a previously submitted atom by ID; DependsOnIndex
	// points at an earlier or later entry of this same batch.
	DependsOn      uint64 `json:"depends_on,omitempty"`
	DependsOnIndex *int   `json:"depends_on_index,omitempty"`

	// Soft atoms: a semaphore operation instead of hardware work.
	SoftOp    string `json:"soft_op,omitempty"`
	Semaphore uint64 `json:"semaphore,omitempty"`

	Profile *atomProfileRequest `json:"profile,omitempty"`
}

// atomProfileRequest scripts the simulated device for one atom.
type atomProfileRequest struct {
	DurationMS int    `json:"duration_ms,omitempty"`
	Result     string `json:"result,omitempty"`
	Hang       bool   `json:"hang,omitempty"`
}

func (s *Server) handleSubmitAtoms(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	connID := chi.URLParam(r, "id")

	conn := s.connection(connID)
	if conn == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("connection", connID))
		return
	}
	if conn.Cancelled() {
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrCancelled,
			Message: "connection " + connID + " is cancelled",
		})
		return
	}

	var req submitAtomsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}
	if len(req.Atoms) == 0 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "atoms", Message: "at least one atom is required"}))
		return
	}

	if errs := s.validateAtomRequests(req.Atoms); len(errs) > 0 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("atom validation failed", errs...))
		return
	}

	atoms, profiles := s.buildAtoms(conn, req.Atoms)

	s.mu.Lock()
	for _, a := range atoms {
		s.atoms[a.ID] = a
	}
	s.mu.Unlock()

	for i, a := range atoms {
		if p, ok := profiles[i]; ok {
			s.device.SetProfile(a.ID, p)
		}
	}

	// Snapshot before Submit; afterwards the scheduler owns the state.
	statuses := make([]model.AtomStatus, len(atoms))
	for i, a := range atoms {
		statuses[i] = a.Snapshot()
	}

	s.loop.Submit(atoms...)

	s.logger.Info("atoms submitted", "connection_id", connID, "count", len(atoms))
	respondCreated(w, reqID, map[string]any{"atoms": statuses})
}

// validateAtomRequests checks a batch without side effects so a bad entry
// rejects the whole request before anything reaches the scheduler.
func (s *Server) validateAtomRequests(reqs []atomRequest) []model.FieldError {
	var errs []model.FieldError
	add := func(i int, field, msg string) {
		errs = append(errs, model.FieldError{
			Field:   fmt.Sprintf("atoms[%d].%s", i, field),
			Message: msg,
		})
	}

	for i, ar := range reqs {
		if _, err := model.ParsePriority(ar.Priority); err != nil {
			add(i, "priority", err.Error())
		}

		op := model.SoftOp(ar.SoftOp)
		if !op.Valid() {
			add(i, "soft_op", fmt.Sprintf("unknown soft operation %q", ar.SoftOp))
		} else if op != model.SoftOpNone {
			if ar.Semaphore == 0 {
				add(i, "semaphore", "soft atoms require a semaphore")
			} else if s.semaphore(ar.Semaphore) == nil {
				add(i, "semaphore", fmt.Sprintf("semaphore %d is not registered", ar.Semaphore))
			}
			if ar.Protected {
				add(i, "protected", "soft atoms cannot be protected")
			}
			if ar.Profile != nil {
				add(i, "profile", "soft atoms do not take a device profile")
			}
		} else if ar.Semaphore != 0 {
			add(i, "semaphore", "semaphore is only valid with a soft_op")
		}

		if ar.DependsOn != 0 && ar.DependsOnIndex != nil {
			add(i, "depends_on", "depends_on and depends_on_index are mutually exclusive")
		}
		if ar.DependsOn != 0 && s.atom(ar.DependsOn) == nil {
			add(i, "depends_on", fmt.Sprintf("atom %d is not registered", ar.DependsOn))
		}
		if idx := ar.DependsOnIndex; idx != nil {
			if *idx < 0 || *idx >= len(reqs) {
				add(i, "depends_on_index", fmt.Sprintf("index %d is out of range", *idx))
			} else if *idx == i {
				add(i, "depends_on_index", "an atom cannot depend on itself")
			}
		}

		if p := ar.Profile; p != nil {
			if p.DurationMS < 0 {
				add(i, "profile.duration_ms", "duration_ms must not be negative")
			}
			if p.Result != "" {
				if _, err := model.ParseResultCode(p.Result); err != nil {
					add(i, "profile.result", err.Error())
				}
			}
		}
	}

	return errs
}

// buildAtoms turns validated requests into atoms. Dependencies are wired in
// a second pass so an in-batch reference may point forward.
func (s *Server) buildAtoms(conn *model.Connection, reqs []atomRequest) ([]*model.Atom, map[int]gpu.Profile) {
	atoms := make([]*model.Atom, len(reqs))
	profiles := make(map[int]gpu.Profile)

	for i, ar := range reqs {
		if op := model.SoftOp(ar.SoftOp); op != model.SoftOpNone {
			atoms[i] = model.NewSoftAtom(conn, op, s.semaphore(ar.Semaphore))
			continue
		}

		prio, _ := model.ParsePriority(ar.Priority)
		atom := model.NewAtom(conn, prio)
		atom.Protected = ar.Protected
		atom.GPUAddress = ar.GPUAddress
		atoms[i] = atom

		if p := ar.Profile; p != nil {
			prof := gpu.Profile{Hang: p.Hang}
			if p.DurationMS > 0 {
				prof.Duration = time.Duration(p.DurationMS) * time.Millisecond
			}
			if p.Result != "" {
				prof.Result, _ = model.ParseResultCode(p.Result)
			}
			profiles[i] = prof
		}
	}

	for i, ar := range reqs {
		switch {
		case ar.DependsOn != 0:
			atoms[i].SetDependency(s.atom(ar.DependsOn))
		case ar.DependsOnIndex != nil:
			atoms[i].SetDependency(atoms[*ar.DependsOnIndex])
		}
	}

	return atoms, profiles
}

func (s *Server) handleListAtoms(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	st := s.loop.Snapshot()
	respondList(w, reqID, st.Atoms, &model.Pagination{
		Total: len(st.Atoms), Limit: len(st.Atoms), Offset: 0, HasMore: false,
	})
}

func (s *Server) handleGetAtom(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	raw := chi.URLParam(r, "id")

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid atom id",
				model.FieldError{Field: "id", Message: "atom id must be an unsigned integer"}))
		return
	}

	atom := s.atom(id)
	if atom == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("atom", raw))
		return
	}

	// Atom state belongs to the dispatch goroutine; read it there. Retired
	// atoms stay in the registry, so this also serves final results.
	var st model.AtomStatus
	s.loop.Call(func() { st = atom.Snapshot() })

	respondOK(w, reqID, st)
}
