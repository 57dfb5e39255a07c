// Package export produces portable benchmark exports and re-imports
// them. Provider URLs often embed API keys, so exports carry only a
// sha256 digest of each URL.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/rpcbench/internal/aggregate"
	"github.com/gateway-fm/rpcbench/internal/storage"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

// FormatVersion identifies the export layout.
const FormatVersion = 1

// Service assembles exports from stored jobs and imports them back.
type Service struct {
	store storage.Store
}

// NewService creates an export service over the given store.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// MaskURL replaces a provider URL with the first 16 hex characters of
// its sha256 digest. Identical URLs remain comparable across exports.
func MaskURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

// Build assembles a self-contained export for the job, with provider
// URLs masked and aggregation precomputed.
func (s *Service) Build(ctx context.Context, jobID string) (*types.BenchmarkExport, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	results, err := s.store.GetTestResults(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	loadResults, err := s.store.GetLoadTestResults(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load burst results: %w", err)
	}

	masked := *job
	masked.Providers = make([]types.Provider, len(job.Providers))
	for i, p := range job.Providers {
		p.URL = MaskURL(p.URL)
		masked.Providers[i] = p
	}

	return &types.BenchmarkExport{
		Version:     FormatVersion,
		ExportedAt:  time.Now().UTC(),
		Job:         masked,
		Results:     results,
		LoadResults: loadResults,
		Aggregated:  aggregate.Results(results),
	}, nil
}

// Filename returns the download name for an export in the given format.
func Filename(job *types.Job, format string, now time.Time) string {
	chain := strings.ToLower(strings.ReplaceAll(job.ChainName, " ", "_"))
	return fmt.Sprintf("benchmark_%s_%d_%s.%s", chain, job.ChainID, now.UTC().Format("2006-01-02_150405"), format)
}

// WriteJSON writes the export as indented JSON.
func (s *Service) WriteJSON(w io.Writer, export *types.BenchmarkExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

// WriteCSV writes the per-provider aggregated summary as CSV.
func (s *Service) WriteCSV(w io.Writer, export *types.BenchmarkExport) error {
	names := make(map[string]string, len(export.Job.Providers))
	for _, p := range export.Job.Providers {
		names[p.ID] = p.Name
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"Provider", "Test", "Method",
		"Cold (ms)", "Warm (ms)", "Cache Speedup",
		"Success Rate", "Count",
	}); err != nil {
		return err
	}

	for _, agg := range export.Aggregated {
		name := names[agg.ProviderID]
		if name == "" {
			name = agg.ProviderID
		}
		row := []string{
			name,
			agg.TestName,
			agg.Method,
			fmt.Sprintf("%.1f", agg.ColdMs),
			fmt.Sprintf("%.1f", agg.WarmMs),
			fmt.Sprintf("%.2f", agg.CacheSpeedup),
			fmt.Sprintf("%.1f%%", agg.SuccessRate*100),
			fmt.Sprintf("%d", agg.Count),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Import persists an exported benchmark under a fresh job ID. Provider
// URLs in exports are digests, so imported providers get synthetic
// imported:// URLs that can never be benchmarked again.
func (s *Service) Import(ctx context.Context, data []byte) (*types.Job, error) {
	var export types.BenchmarkExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	if export.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported export version %d", export.Version)
	}
	if export.Job.ID == "" || len(export.Job.Providers) == 0 {
		return nil, fmt.Errorf("export is missing job or providers")
	}

	job := export.Job
	job.ID = "imp-" + uuid.NewString()[:8]
	job.Status = types.JobCompleted
	for i := range job.Providers {
		job.Providers[i].URL = "imported://" + job.Providers[i].URL
	}

	if err := s.store.CreateJob(ctx, &job); err != nil {
		return nil, fmt.Errorf("create imported job: %w", err)
	}

	completedAt := time.Now().UTC()
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}
	if err := s.store.CompleteJob(ctx, job.ID, types.JobCompleted, completedAt, job.DurationSeconds, ""); err != nil {
		return nil, fmt.Errorf("stamp imported job: %w", err)
	}

	for i := range export.Results {
		if err := s.store.SaveTestResult(ctx, job.ID, &export.Results[i]); err != nil {
			return nil, fmt.Errorf("import result row: %w", err)
		}
	}
	for i := range export.LoadResults {
		if err := s.store.SaveLoadTestResult(ctx, job.ID, &export.LoadResults[i]); err != nil {
			return nil, fmt.Errorf("import load row: %w", err)
		}
	}

	return &job, nil
}
