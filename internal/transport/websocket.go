package transport

import (
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost connections (common for development)
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}

		return false
	},
}

// handleJobProgress streams a running job's progress events over a
// WebSocket. The connection closes when the run finishes or the job is
// not currently executing.
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request, jobID string) {
	run, ok := s.runner.Tracker().Get(jobID)
	if !ok {
		// Already finished (or never started): report the stored state
		// once so late subscribers still learn the outcome.
		job, err := s.store.GetJob(r.Context(), jobID)
		if err != nil {
			s.jobError(w, jobID, err)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("WebSocket upgrade failed", "job_id", jobID, "error", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(types.ProgressEvent{
			Event: types.EventJobComplete,
			Data:  map[string]any{"job_id": job.ID, "status": string(job.Status)},
		})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("progress subscriber connected", "job_id", jobID)

	// Drain reads so client close frames are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-run.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("progress write failed", "job_id", jobID, "error", err)
				return
			}
		}
	}
}
