package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for benchmark data.
// Result rows are append-only; nothing mutates them after insertion.
type Store interface {
	// Job lifecycle
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]types.Job, error)
	DeleteJob(ctx context.Context, id string) error
	UpdateJobStatus(ctx context.Context, id string, status types.JobStatus) error
	CompleteJob(ctx context.Context, id string, status types.JobStatus, completedAt time.Time, durationSeconds float64, errMsg string) error

	// Resolved test set actually executed for a job
	SaveTestsExecuted(ctx context.Context, jobID string, cases []types.TestCase) error
	GetTestsExecuted(ctx context.Context, jobID string) ([]types.TestCase, error)

	// Raw results, appended as the scheduler produces them
	SaveTestResult(ctx context.Context, jobID string, result *types.TestResult) error
	GetTestResults(ctx context.Context, jobID string) ([]types.TestResult, error)
	SaveLoadTestResult(ctx context.Context, jobID string, result *types.LoadTestResult) error
	GetLoadTestResults(ctx context.Context, jobID string) ([]types.LoadTestResult, error)

	// Lifecycle
	Close() error
}
