package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// MemoryStore implements Store in memory. Used by tests and for
// ephemeral runs where persistence across restarts is not needed.
type MemoryStore struct {
	mu          sync.RWMutex
	jobs        map[string]*types.Job
	order       []string // insertion order, newest appended last
	tests       map[string][]types.TestCase
	results     map[string][]types.TestResult
	loadResults map[string][]types.LoadTestResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]*types.Job),
		tests:       make(map[string][]types.TestCase),
		results:     make(map[string][]types.TestResult),
		loadResults: make(map[string][]types.LoadTestResult),
	}
}

func (m *MemoryStore) CreateJob(ctx context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	copied.Providers = append([]types.Provider(nil), job.Providers...)
	m.jobs[job.ID] = &copied
	m.order = append(m.order, job.ID)
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *job
	copied.Providers = append([]types.Provider(nil), job.Providers...)
	return &copied, nil
}

func (m *MemoryStore) ListJobs(ctx context.Context, limit, offset int) ([]types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}

	ids := append([]string(nil), m.order...)
	// newest first
	sort.SliceStable(ids, func(i, j int) bool {
		return m.jobs[ids[i]].CreatedAt.After(m.jobs[ids[j]].CreatedAt)
	})

	var jobs []types.Job
	for i := offset; i < len(ids) && len(jobs) < limit; i++ {
		jobs = append(jobs, *m.jobs[ids[i]])
	}
	return jobs, nil
}

func (m *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	delete(m.tests, id)
	delete(m.results, id)
	delete(m.loadResults, id)
	for i, jid := range m.order {
		if jid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) UpdateJobStatus(ctx context.Context, id string, status types.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	return nil
}

func (m *MemoryStore) CompleteJob(ctx context.Context, id string, status types.JobStatus, completedAt time.Time, durationSeconds float64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.CompletedAt = &completedAt
	job.DurationSeconds = durationSeconds
	job.Error = errMsg
	return nil
}

func (m *MemoryStore) SaveTestsExecuted(ctx context.Context, jobID string, cases []types.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[jobID] = append(m.tests[jobID], cases...)
	return nil
}

func (m *MemoryStore) GetTestsExecuted(ctx context.Context, jobID string) ([]types.TestCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.TestCase(nil), m.tests[jobID]...), nil
}

func (m *MemoryStore) SaveTestResult(ctx context.Context, jobID string, result *types.TestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[jobID] = append(m.results[jobID], *result)
	return nil
}

func (m *MemoryStore) GetTestResults(ctx context.Context, jobID string) ([]types.TestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := append([]types.TestResult(nil), m.results[jobID]...)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].ProviderID != results[j].ProviderID {
			return results[i].ProviderID < results[j].ProviderID
		}
		if results[i].TestID != results[j].TestID {
			return results[i].TestID < results[j].TestID
		}
		return results[i].Round < results[j].Round
	})
	return results, nil
}

func (m *MemoryStore) SaveLoadTestResult(ctx context.Context, jobID string, result *types.LoadTestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadResults[jobID] = append(m.loadResults[jobID], *result)
	return nil
}

func (m *MemoryStore) GetLoadTestResults(ctx context.Context, jobID string) ([]types.LoadTestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := append([]types.LoadTestResult(nil), m.loadResults[jobID]...)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].ProviderID != results[j].ProviderID {
			return results[i].ProviderID < results[j].ProviderID
		}
		return results[i].TestID < results[j].TestID
	})
	return results, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
