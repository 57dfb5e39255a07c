// Package loadgen fires concurrent bursts of identical RPC calls against
// one provider and reduces the outcomes into throughput statistics.
package loadgen

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gateway-fm/rpcbench/internal/classify"
	"github.com/gateway-fm/rpcbench/internal/rpc"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Runner executes load bursts. Safe for concurrent use.
type Runner struct {
	client *rpc.Client
	logger *slog.Logger
}

// New creates a burst runner on top of an RPC client.
func New(client *rpc.Client, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, logger: logger}
}

// Run launches exactly tc.Concurrency calls at once and waits for every
// one to settle. Individual slow calls are bounded only by their own
// timeout; the burst never cancels them early.
func (r *Runner) Run(ctx context.Context, provider types.Provider, tc types.TestCase, timeout time.Duration) types.LoadTestResult {
	n := tc.Concurrency
	if n <= 0 {
		n = 1
	}

	callTimeout := rpc.TimeoutFor(tc.Method, timeout)
	outcomes := make([]rpc.Outcome, n)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(slot int) {
			defer wg.Done()
			outcomes[slot] = r.client.Invoke(ctx, provider.URL, tc.Method, tc.Params, callTimeout)
		}(i)
	}
	wg.Wait()
	totalMs := float64(time.Since(start)) / float64(time.Millisecond)

	result := types.LoadTestResult{
		ProviderID:     provider.ID,
		TestID:         tc.ID,
		TestName:       tc.Name,
		Method:         tc.Method,
		Concurrency:    n,
		TotalTimeMs:    totalMs,
		ErrorBreakdown: make(map[types.ErrorCategory]int),
	}

	var latencies []float64
	for _, out := range outcomes {
		if out.Success {
			result.SuccessCount++
			if out.ElapsedMs != nil {
				latencies = append(latencies, *out.ElapsedMs)
			}
			continue
		}
		result.ErrorCount++
		result.ErrorBreakdown[out.ErrorType]++
		if classify.ProviderFault(out.ErrorType) {
			result.ProviderFaults++
		} else if classify.ParamFault(out.ErrorType) {
			result.ParamFaults++
		}
	}

	result.SuccessRate = float64(result.SuccessCount) / float64(n)
	if totalMs > 0 {
		result.ThroughputRPS = float64(result.SuccessCount) / (totalMs / 1000.0)
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		result.MinMs = latencies[0]
		result.MaxMs = latencies[len(latencies)-1]
		result.AvgMs = mean(latencies)
		result.P50Ms = Percentile(latencies, 0.50)
		result.P95Ms = Percentile(latencies, 0.95)
		result.P99Ms = Percentile(latencies, 0.99)
	}

	if len(result.ErrorBreakdown) == 0 {
		result.ErrorBreakdown = nil
	}

	r.logger.Debug("load burst finished",
		"provider", provider.Name,
		"method", tc.Method,
		"concurrency", n,
		"success", result.SuccessCount,
		"errors", result.ErrorCount,
		"throughputRps", result.ThroughputRPS,
	)

	return result
}

// Percentile picks the rank-based percentile sorted[floor(n*q)],
// clamped to the last index. The input must be sorted.
func Percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
