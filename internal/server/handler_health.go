package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	JobSlots  int    `json:"job_slots"`
	Trace     string `json:"trace"`
	Metrics   string `json:"metrics"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	traceState := "disabled"
	if s.traces != nil {
		traceState = "enabled"
	}
	metricsState := "disabled"
	if s.metrics != nil {
		metricsState = "enabled"
	}

	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		JobSlots:  s.config.JobSlots,
		Trace:     traceState,
		Metrics:   metricsState,
	})
}
