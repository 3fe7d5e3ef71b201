package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "atomsched API",
		Version:     "v1",
		Description: "GPU job scheduler simulator — atom submission, slot arbitration, and trace inspection",
		Endpoints: []endpointInfo{
			{"/api/v1/connections", []string{"GET", "POST"}, "Connection management"},
			{"/api/v1/connections/{id}", []string{"GET", "DELETE"}, "Single connection detail; DELETE cancels the connection and withdraws its atoms"},
			{"/api/v1/connections/{id}/atoms", []string{"POST"}, "Submit a batch of atoms on a connection"},
			{"/api/v1/atoms", []string{"GET"}, "Atoms currently tracked by the scheduler"},
			{"/api/v1/atoms/{id}", []string{"GET"}, "Single atom detail, including retired atoms"},
			{"/api/v1/semaphores", []string{"GET", "POST"}, "Semaphore management"},
			{"/api/v1/semaphores/{key}", []string{"GET"}, "Single semaphore detail"},
			{"/api/v1/semaphores/{key}/signal", []string{"PUT"}, "Signal a semaphore, releasing soft atoms waiting on it"},
			{"/api/v1/semaphores/{key}/reset", []string{"PUT"}, "Reset a semaphore to unsignaled"},
			{"/api/v1/status", []string{"GET"}, "Scheduler snapshot: slots, queues, protected mode"},
			{"/api/v1/events", []string{"GET"}, "Recorded trace events with kind/atom/connection filters"},
			{"/api/v1/events/summary", []string{"GET"}, "Event counts grouped by kind"},
			{"/api/v1/events/stream", []string{"GET"}, "Live trace event stream (SSE)"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
