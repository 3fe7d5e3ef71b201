package server

import "net/http"

// handleStatus returns a consistent point-in-time snapshot of the scheduler:
// slot occupancy, queue depths per priority, protected mode, and every
// tracked atom. The snapshot is taken on the dispatch goroutine.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.loop.Snapshot())
}
