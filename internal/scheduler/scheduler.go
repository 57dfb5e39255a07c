// Package scheduler executes benchmark jobs: the sequential round loop,
// the load phase, progress accounting, and cooperative cancellation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateway-fm/rpcbench/internal/catalog"
	"github.com/gateway-fm/rpcbench/internal/loadgen"
	"github.com/gateway-fm/rpcbench/internal/metrics"
	"github.com/gateway-fm/rpcbench/internal/rpc"
	"github.com/gateway-fm/rpcbench/internal/storage"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

const (
	// loadCooldown separates load bursts so one provider's burst does not
	// bleed rate-limit pressure into the next measurement.
	loadCooldown = 2 * time.Second

	// headProbeTimeout bounds the eth_blockNumber probe used to resolve
	// the test catalog before the run starts.
	headProbeTimeout = 30 * time.Second
)

// Runner executes benchmark jobs against their providers and persists
// every row as it is produced, so a cancelled or crashed run keeps its
// partial results.
type Runner struct {
	store   storage.Store
	client  *rpc.Client
	bursts  *loadgen.Runner
	metrics *metrics.Metrics
	tracker *Tracker
	logger  *slog.Logger

	eventBuffer int

	// Cooldown overrides for tests; zero means the defaults above.
	cooldown time.Duration
}

// NewRunner creates a job runner. metrics may be nil.
func NewRunner(store storage.Store, client *rpc.Client, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:       store,
		client:      client,
		bursts:      loadgen.New(client, logger),
		metrics:     m,
		tracker:     NewTracker(),
		logger:      logger,
		eventBuffer: DefaultEventBuffer,
		cooldown:    loadCooldown,
	}
}

// Tracker exposes the active-run registry, used by the transport layer
// to cancel jobs and attach progress streams.
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Start launches the job in a background goroutine and returns its
// handle. The job must already be persisted in pending state.
func (r *Runner) Start(ctx context.Context, job *types.Job) (*Run, error) {
	if len(job.Providers) == 0 {
		return nil, fmt.Errorf("job %s has no providers", job.ID)
	}

	run := newRun(job.ID, r.eventBuffer)
	if !r.tracker.add(run) {
		return nil, fmt.Errorf("job %s is already running", job.ID)
	}

	if err := r.store.UpdateJobStatus(ctx, job.ID, types.JobRunning); err != nil {
		r.tracker.remove(job.ID)
		return nil, fmt.Errorf("mark job running: %w", err)
	}

	if r.metrics != nil {
		r.metrics.JobStarted()
	}

	go r.run(ctx, job, run)
	return run, nil
}

// run drives one job to a terminal state. It never panics the caller:
// every failure path stamps the job and emits a final event.
func (r *Runner) run(ctx context.Context, job *types.Job, run *Run) {
	started := time.Now()

	defer func() {
		r.tracker.remove(job.ID)
		run.emitter.Close()
		close(run.done)
	}()

	runErr := r.execute(ctx, job, run)

	// Drop the tracker entry before stamping: once the job reads as
	// terminal it must no longer look active.
	r.tracker.remove(job.ID)

	status := types.JobCompleted
	errMsg := ""
	switch {
	case run.Cancelled() || errors.Is(runErr, context.Canceled):
		status = types.JobCancelled
	case runErr != nil:
		status = types.JobFailed
		errMsg = runErr.Error()
	}

	completedAt := time.Now()
	duration := completedAt.Sub(started).Seconds()
	if err := r.store.CompleteJob(context.WithoutCancel(ctx), job.ID, status, completedAt, duration, errMsg); err != nil {
		r.logger.Error("failed to stamp job terminal state",
			"job_id", job.ID, "status", status, "error", err)
	}

	if r.metrics != nil {
		r.metrics.JobFinished(string(status))
	}

	data := map[string]any{
		"job_id":           job.ID,
		"status":           string(status),
		"duration_seconds": duration,
	}
	if errMsg != "" {
		data["error"] = errMsg
		run.emitter.Emit(types.EventError, map[string]any{"job_id": job.ID, "message": errMsg})
	}
	run.emitter.Emit(types.EventJobComplete, data)

	r.logger.Info("benchmark job finished",
		"job_id", job.ID,
		"status", status,
		"duration_seconds", duration,
		"dropped_events", run.emitter.Dropped())
}

// execute runs the sequential rounds and the load phase. Per-call
// failures become result rows; only setup faults return an error.
func (r *Runner) execute(ctx context.Context, job *types.Job, run *Run) error {
	cases, err := r.resolveTests(ctx, job)
	if err != nil {
		return err
	}
	if err := r.store.SaveTestsExecuted(ctx, job.ID, cases); err != nil {
		return fmt.Errorf("persist executed tests: %w", err)
	}

	var sequential, load []types.TestCase
	for _, tc := range cases {
		if tc.Category == types.CategoryLoad {
			load = append(load, tc)
		} else {
			sequential = append(sequential, tc)
		}
	}

	rounds := job.Config.IterationMode.Rounds()
	totalUnits := len(sequential)*len(job.Providers)*rounds + len(load)*len(job.Providers)
	completed := 0

	run.emitter.Emit(types.EventJobStarted, map[string]any{
		"job_id":           job.ID,
		"providers":        len(job.Providers),
		"total_tests":      len(cases),
		"total_sequential": len(sequential),
		"total_load":       len(load),
		"rounds":           rounds,
		"total_work_units": totalUnits,
	})

	timeout := time.Duration(job.Config.TimeoutSeconds) * time.Second
	delay := time.Duration(job.Config.DelayMs) * time.Millisecond
	interRound := time.Duration(job.Config.InterRoundDelayMs) * time.Millisecond

	for round := 1; round <= rounds; round++ {
		if run.Cancelled() || ctx.Err() != nil {
			return ctx.Err()
		}

		iterType := types.IterationWarm
		if round == 1 {
			iterType = types.IterationCold
		} else if job.Config.IterationMode == types.ModeStatistical && round > 2 {
			iterType = types.IterationSustained
		}

		run.emitter.Emit(types.EventRoundStarted, map[string]any{
			"job_id":         job.ID,
			"round":          round,
			"total_rounds":   rounds,
			"iteration_type": string(iterType),
		})

		for _, provider := range job.Providers {
			if run.Cancelled() || ctx.Err() != nil {
				return ctx.Err()
			}

			for _, tc := range sequential {
				if run.Cancelled() || ctx.Err() != nil {
					return ctx.Err()
				}

				result := r.runIteration(ctx, provider, tc, round, iterType, timeout)
				if err := r.store.SaveTestResult(ctx, job.ID, &result); err != nil {
					return fmt.Errorf("persist result for test %d: %w", tc.ID, err)
				}

				completed++
				run.emitter.Emit(types.EventIterationComplete, map[string]any{
					"job_id":           job.ID,
					"provider_id":      provider.ID,
					"provider_name":    provider.Name,
					"test_id":          tc.ID,
					"test_name":        tc.Name,
					"round":            round,
					"iteration_type":   string(iterType),
					"response_time_ms": result.ResponseTimeMs,
					"success":          result.Success,
					"completed_units":  completed,
					"total_work_units": totalUnits,
					"progress":         progress(completed, totalUnits),
				})

				if err := pause(ctx, delay); err != nil {
					return err
				}
			}
		}

		// waiting_ms tells consumers how long the inter-round pause will
		// hold; zero after the final round.
		waitingMs := 0
		if round < rounds {
			waitingMs = int(interRound / time.Millisecond)
		}
		run.emitter.Emit(types.EventRoundComplete, map[string]any{
			"job_id":       job.ID,
			"round":        round,
			"total_rounds": rounds,
			"waiting_ms":   waitingMs,
		})
		if round < rounds {
			if err := pause(ctx, interRound); err != nil {
				return err
			}
		}
	}

	run.emitter.Emit(types.EventSequentialComplete, map[string]any{
		"job_id": job.ID,
		"rounds": rounds,
	})

	for pi, provider := range job.Providers {
		for ti, tc := range load {
			if run.Cancelled() || ctx.Err() != nil {
				return ctx.Err()
			}

			run.emitter.Emit(types.EventLoadTestStarted, map[string]any{
				"job_id":      job.ID,
				"provider_id": provider.ID,
				"test_id":     tc.ID,
				"concurrency": tc.Concurrency,
			})

			result := r.bursts.Run(ctx, provider, tc, timeout)
			if err := r.store.SaveLoadTestResult(ctx, job.ID, &result); err != nil {
				return fmt.Errorf("persist load result for test %d: %w", tc.ID, err)
			}
			if r.metrics != nil {
				r.metrics.RecordLoadThroughput(provider.ID, tc.Method, result.ThroughputRPS)
			}

			completed++
			run.emitter.Emit(types.EventLoadTestComplete, map[string]any{
				"job_id":           job.ID,
				"provider_id":      provider.ID,
				"test_id":          tc.ID,
				"throughput_rps":   result.ThroughputRPS,
				"avg_ms":           result.AvgMs,
				"success_rate":     result.SuccessRate,
				"completed_units":  completed,
				"total_work_units": totalUnits,
				"progress":         progress(completed, totalUnits),
			})

			// No cooldown after the final burst; there is nothing left
			// for rate-limit pressure to bleed into.
			if pi < len(job.Providers)-1 || ti < len(load)-1 {
				if err := pause(ctx, r.cooldown); err != nil {
					return err
				}
			}
		}
	}

	return ctx.Err()
}

// resolveTests probes the chain head and builds the filtered catalog.
// Providers are tried in order; only total probe failure is fatal.
func (r *Runner) resolveTests(ctx context.Context, job *types.Job) ([]types.TestCase, error) {
	var head uint64
	var probeErr error
	for _, provider := range job.Providers {
		head, probeErr = r.client.BlockNumber(ctx, provider.URL, headProbeTimeout)
		if probeErr == nil {
			break
		}
		r.logger.Warn("head probe failed, trying next provider",
			"job_id", job.ID, "provider", provider.ID, "error", probeErr)
	}
	if probeErr != nil {
		return nil, fmt.Errorf("resolve current block: %w", probeErr)
	}

	concurrency := map[types.TestCategory]int{}
	if n := job.Config.LoadConcurrencySimple; n > 0 {
		concurrency[types.CategorySimple] = n
	}
	if n := job.Config.LoadConcurrencyMedium; n > 0 {
		concurrency[types.CategoryMedium] = n
	}
	if n := job.Config.LoadConcurrencyComplex; n > 0 {
		concurrency[types.CategoryComplex] = n
	}

	cases, err := catalog.Build(job.Params, head, job.Config.EnabledTestIDs, concurrency)
	if err != nil {
		return nil, fmt.Errorf("build test catalog: %w", err)
	}
	return catalog.Filter(cases, job.Config.Categories, job.Config.Labels), nil
}

// runIteration issues one measured call and maps the outcome onto a
// result row. Never returns an error; failures are data.
func (r *Runner) runIteration(ctx context.Context, provider types.Provider, tc types.TestCase, round int, iterType types.IterationType, timeout time.Duration) types.TestResult {
	out := r.client.Invoke(ctx, provider.URL, tc.Method, tc.Params, rpc.TimeoutFor(tc.Method, timeout))

	if r.metrics != nil {
		latency := 0.0
		if out.ElapsedMs != nil {
			latency = *out.ElapsedMs / 1000
		}
		r.metrics.RecordCall(tc.Method, provider.ID, out.Success, latency)
		if !out.Success {
			r.metrics.RecordError(string(out.ErrorType), provider.ID)
		}
	}

	return types.TestResult{
		ProviderID:        provider.ID,
		TestID:            tc.ID,
		TestName:          tc.Name,
		Method:            tc.Method,
		Round:             round,
		IterationType:     iterType,
		ResponseTimeMs:    out.ElapsedMs,
		Success:           out.Success,
		ErrorType:         out.ErrorType,
		ErrorMessage:      out.ErrorMessage,
		HTTPStatus:        out.HTTPStatus,
		ResponseSizeBytes: out.ResponseSizeBytes,
		LogCount:          out.LogCount,
	}
}

func progress(completed, total int) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(completed) / float64(total)
}

// pause sleeps for d but wakes early on context cancellation.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
