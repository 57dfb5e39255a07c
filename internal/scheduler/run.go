package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Run is the handle for one executing job. It owns the cooperative
// cancellation flag; its lifecycle is scoped to the run itself.
type Run struct {
	JobID string

	cancelled atomic.Bool
	emitter   *Emitter
	done      chan struct{}
}

func newRun(jobID string, buffer int) *Run {
	return &Run{
		JobID:   jobID,
		emitter: NewEmitter(buffer),
		done:    make(chan struct{}),
	}
}

// Cancel requests cooperative cancellation. In-flight calls finish
// naturally; no new calls are issued once the scheduler observes the flag.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Events returns the progress stream for this run.
func (r *Run) Events() <-chan types.ProgressEvent {
	return r.emitter.Events()
}

// Done is closed when the run has fully finished and its terminal
// status is persisted.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Tracker holds the handles of currently executing runs so external
// cancel requests can find them. Handles are removed as runs finish.
type Tracker struct {
	mu     sync.Mutex
	active map[string]*Run
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]*Run)}
}

func (t *Tracker) add(run *Run) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.active[run.JobID]; exists {
		return false
	}
	t.active[run.JobID] = run
	return true
}

func (t *Tracker) remove(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, jobID)
}

// Get returns the handle for a running job.
func (t *Tracker) Get(jobID string) (*Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.active[jobID]
	return run, ok
}

// Cancel flags a running job for cancellation. Returns false when the
// job is not currently executing.
func (t *Tracker) Cancel(jobID string) bool {
	if run, ok := t.Get(jobID); ok {
		run.Cancel()
		return true
	}
	return false
}

// Active returns the number of currently executing runs.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// ActiveIDs returns the job IDs of currently executing runs.
func (t *Tracker) ActiveIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	return ids
}
