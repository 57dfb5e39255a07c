package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/rpcbench/internal/aggregate"
	"github.com/gateway-fm/rpcbench/internal/chains"
	"github.com/gateway-fm/rpcbench/internal/export"
	"github.com/gateway-fm/rpcbench/internal/storage"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

const maxImportBytes = 64 << 20 // 64 MiB

// JobCreateRequest is the payload for POST /v1/jobs. Params are
// optional; the chain's defaults apply when omitted.
type JobCreateRequest struct {
	ChainID   uint64                `json:"chainId"`
	Providers []types.Provider      `json:"providers"`
	Config    types.BenchmarkConfig `json:"config"`
	Params    *types.TestParams     `json:"params,omitempty"`
}

func validateJobRequest(req *JobCreateRequest) error {
	if req.ChainID == 0 {
		return fmt.Errorf("chainId is required")
	}
	if len(req.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	if len(req.Providers) > maxProviders {
		return fmt.Errorf("too many providers, maximum is %d", maxProviders)
	}
	for i, p := range req.Providers {
		if p.URL == "" {
			return fmt.Errorf("provider %d has no URL", i+1)
		}
	}
	if !validModes[req.Config.IterationMode] {
		return fmt.Errorf("invalid iteration mode: %s (valid: quick, standard, thorough, statistical)", req.Config.IterationMode)
	}
	if req.Config.TimeoutSeconds < 0 || req.Config.TimeoutSeconds > maxTimeoutSec {
		return fmt.Errorf("timeoutSeconds must be between 0 and %d", maxTimeoutSec)
	}
	if req.Config.DelayMs < 0 || req.Config.DelayMs > maxDelayMs {
		return fmt.Errorf("delayMs must be between 0 and %d", maxDelayMs)
	}
	if req.Config.InterRoundDelayMs < 0 || req.Config.InterRoundDelayMs > maxDelayMs {
		return fmt.Errorf("interRoundDelayMs must be between 0 and %d", maxDelayMs)
	}
	for _, n := range []int{req.Config.LoadConcurrencySimple, req.Config.LoadConcurrencyMedium, req.Config.LoadConcurrencyComplex} {
		if n < 0 || n > maxLoadConcurrent {
			return fmt.Errorf("load concurrency must be between 0 and %d", maxLoadConcurrent)
		}
	}
	return nil
}

// handleJobs handles GET /v1/jobs and POST /v1/jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 100
		offset := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}
		jobs, err := s.store.ListJobs(r.Context(), limit, offset)
		if err != nil {
			s.writeJSONError(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if jobs == nil {
			jobs = []types.Job{}
		}
		s.writeJSON(w, jobs)

	case http.MethodPost:
		s.handleCreateJob(w, r)

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateJobRequest(&req); err != nil {
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	chain, err := s.chains.Get(req.ChainID)
	if err != nil {
		if errors.Is(err, chains.ErrNotFound) {
			s.writeJSONError(w, fmt.Sprintf("Chain %d not found", req.ChainID), http.StatusNotFound)
			return
		}
		s.writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	params := chain.DefaultParams
	if req.Params != nil {
		params = *req.Params
	}

	providers := make([]types.Provider, len(req.Providers))
	for i, p := range req.Providers {
		if p.ID == "" {
			p.ID = fmt.Sprintf("p%d", i+1)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		providers[i] = p
	}

	job := &types.Job{
		ID:        uuid.NewString()[:8],
		ChainID:   chain.ChainID,
		ChainName: chain.Name,
		Status:    types.JobPending,
		Config:    req.Config,
		Params:    params,
		Providers: providers,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.writeJSONError(w, "Failed to create job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Info("benchmark job created",
		"job_id", job.ID, "chain_id", job.ChainID, "providers", len(job.Providers))
	s.writeJSON(w, job)
}

// handleJobDetail routes /v1/jobs/{id}, /v1/jobs/{id}/run,
// /v1/jobs/{id}/cancel, /v1/jobs/{id}/results and /v1/jobs/{id}/ws.
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeJSONError(w, "Missing job ID", http.StatusBadRequest)
		return
	}
	jobID := parts[0]

	if len(parts) > 1 {
		switch parts[1] {
		case "run":
			s.handleRunJob(w, r, jobID)
		case "cancel":
			s.handleCancelJob(w, r, jobID)
		case "results":
			s.handleJobResults(w, r, jobID)
		case "ws":
			s.handleJobProgress(w, r, jobID)
		default:
			s.writeJSONError(w, "Not found", http.StatusNotFound)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := s.store.GetJob(r.Context(), jobID)
		if err != nil {
			s.jobError(w, jobID, err)
			return
		}
		s.writeJSON(w, job)

	case http.MethodDelete:
		if _, running := s.runner.Tracker().Get(jobID); running {
			s.writeJSONError(w, "Cannot delete a running job", http.StatusConflict)
			return
		}
		if err := s.store.DeleteJob(r.Context(), jobID); err != nil {
			s.jobError(w, jobID, err)
			return
		}
		s.writeJSON(w, map[string]string{"status": "deleted"})

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) jobError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.writeJSONError(w, fmt.Sprintf("Job %s not found", jobID), http.StatusNotFound)
		return
	}
	s.writeJSONError(w, err.Error(), http.StatusInternalServerError)
}

// handleRunJob starts execution of a pending job.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.jobError(w, jobID, err)
		return
	}
	if job.Status != types.JobPending {
		s.writeJSONError(w, fmt.Sprintf("Job is %s, only pending jobs can run", job.Status), http.StatusConflict)
		return
	}
	if s.runner.Tracker().Active() >= s.maxConcurrentJobs {
		s.writeJSONError(w, "Too many running jobs, try again later", http.StatusTooManyRequests)
		return
	}

	// The run outlives this request; detach it from the request context.
	if _, err := s.runner.Start(context.WithoutCancel(r.Context()), job); err != nil {
		s.writeJSONError(w, "Failed to start job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]string{"status": "started", "job_id": jobID})
}

// handleCancelJob flags a running job for cooperative cancellation.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.runner.Tracker().Cancel(jobID) {
		s.writeJSONError(w, "Job not running or not found", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, map[string]string{"status": "cancelling"})
}

// handleJobResults returns raw rows plus every derived analysis.
func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		s.jobError(w, jobID, err)
		return
	}
	results, err := s.store.GetTestResults(r.Context(), jobID)
	if err != nil {
		s.writeJSONError(w, "Failed to load results: "+err.Error(), http.StatusInternalServerError)
		return
	}
	loads, err := s.store.GetLoadTestResults(r.Context(), jobID)
	if err != nil {
		s.writeJSONError(w, "Failed to load burst results: "+err.Error(), http.StatusInternalServerError)
		return
	}
	tests, err := s.store.GetTestsExecuted(r.Context(), jobID)
	if err != nil {
		s.writeJSONError(w, "Failed to load executed tests: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]any{
		"sequential":         results,
		"loadTests":          loads,
		"aggregated":         aggregate.Results(results),
		"consistency":        aggregate.Consistency(results),
		"archiveComparisons": aggregate.ArchiveComparisons(results, tests),
		"loadDegradations":   aggregate.LoadDegradations(results, loads),
	})
}

// handleExport handles GET /v1/export/{id}/{json|csv}.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/export/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		s.writeJSONError(w, "Expected /v1/export/{id}/{json|csv}", http.StatusBadRequest)
		return
	}
	jobID, format := parts[0], parts[1]

	exp, err := s.exporter.Build(r.Context(), jobID)
	if err != nil {
		s.jobError(w, jobID, err)
		return
	}

	filename := export.Filename(&exp.Job, format, time.Now())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		if err := s.exporter.WriteJSON(w, exp); err != nil {
			s.logger.Error("export write failed", "job_id", jobID, "error", err)
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		if err := s.exporter.WriteCSV(w, exp); err != nil {
			s.logger.Error("export write failed", "job_id", jobID, "error", err)
		}
	default:
		s.writeJSONError(w, "Unsupported format: "+format, http.StatusBadRequest)
	}
}

// handleImport ingests a previously exported benchmark.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		s.writeJSONError(w, "Failed to read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.exporter.Import(r.Context(), data)
	if err != nil {
		s.writeJSONError(w, "Import failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Info("benchmark imported", "job_id", job.ID, "chain", job.ChainName)
	s.writeJSON(w, map[string]any{
		"success": true,
		"jobId":   job.ID,
		"chain":   job.ChainName,
	})
}
