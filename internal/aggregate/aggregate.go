// Package aggregate reduces raw per-iteration results into per
// (provider, test) summaries. Pure functions over immutable inputs.
package aggregate

import (
	"math"
	"sort"

	"github.com/gateway-fm/rpcbench/internal/classify"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

const (
	// Extended stats are withheld below these sample counts: a stddev
	// over three points or a p95 over ten is noise, not signal.
	minSamplesExtended   = 5
	minSamplesPercentile = 25

	maxDistinctMessages = 5
)

// Results groups raw sequential results by (provider, test) and computes
// the cold/warm summary for each group. Output is sorted by provider id,
// then test id.
func Results(results []types.TestResult) []types.AggregatedResult {
	type key struct {
		provider string
		testID   int
	}

	groups := make(map[key][]types.TestResult)
	var order []key
	for _, r := range results {
		k := key{r.ProviderID, r.TestID}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].provider != order[j].provider {
			return order[i].provider < order[j].provider
		}
		return order[i].testID < order[j].testID
	})

	out := make([]types.AggregatedResult, 0, len(order))
	for _, k := range order {
		out = append(out, reduceGroup(k.provider, k.testID, groups[k]))
	}
	return out
}

func reduceGroup(providerID string, testID int, group []types.TestResult) types.AggregatedResult {
	agg := types.AggregatedResult{
		ProviderID: providerID,
		TestID:     testID,
		Count:      len(group),
	}
	if len(group) > 0 {
		agg.TestName = group[0].TestName
		agg.Method = group[0].Method
	}

	var (
		coldMs  float64
		samples []float64
	)
	for _, r := range group {
		if r.Success {
			agg.SuccessCount++
			if r.ResponseTimeMs != nil {
				samples = append(samples, *r.ResponseTimeMs)
			}
		}
		// cold_ms comes from the cold row only when it succeeded
		if r.IterationType == types.IterationCold && r.Success && r.ResponseTimeMs != nil {
			coldMs = *r.ResponseTimeMs
		}
	}
	if len(group) > 0 {
		agg.SuccessRate = float64(agg.SuccessCount) / float64(len(group))
	}

	var warmSamples []float64
	for _, r := range group {
		if !r.Success || r.ResponseTimeMs == nil {
			continue
		}
		if r.IterationType == types.IterationWarm || r.IterationType == types.IterationSustained {
			warmSamples = append(warmSamples, *r.ResponseTimeMs)
		}
	}

	warmMs := coldMs
	if len(warmSamples) > 0 {
		warmMs = mean(warmSamples)
	}

	agg.ColdMs = coldMs
	agg.WarmMs = warmMs
	if warmMs > 0 {
		agg.CacheSpeedup = coldMs / warmMs
	} else {
		agg.CacheSpeedup = 1.0
	}

	agg.Errors = analyzeErrors(group)
	agg.Stats = extendedStats(samples)

	return agg
}

// analyzeErrors builds the per-group failure summary: category histogram,
// the first few distinct messages, and the fault split.
func analyzeErrors(group []types.TestResult) *types.ErrorAnalysis {
	analysis := &types.ErrorAnalysis{Breakdown: make(map[types.ErrorCategory]int)}
	seen := make(map[string]bool)
	failures := 0

	for _, r := range group {
		if r.Success {
			continue
		}
		failures++
		analysis.Breakdown[r.ErrorType]++
		if classify.ProviderFault(r.ErrorType) {
			analysis.ProviderFaults++
		} else if classify.ParamFault(r.ErrorType) {
			analysis.ParamFaults++
		}
		if r.ErrorMessage != "" && !seen[r.ErrorMessage] && len(analysis.Messages) < maxDistinctMessages {
			seen[r.ErrorMessage] = true
			analysis.Messages = append(analysis.Messages, r.ErrorMessage)
		}
	}

	if failures == 0 {
		return nil
	}
	return analysis
}

func extendedStats(samples []float64) *types.ExtendedStats {
	if len(samples) < minSamplesExtended {
		return nil
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	stats := &types.ExtendedStats{
		MeanMs:   mean(sorted),
		MedianMs: percentile(sorted, 0.50),
		MinMs:    sorted[0],
		MaxMs:    sorted[len(sorted)-1],
		StddevMs: stddev(sorted),
	}

	if len(sorted) >= minSamplesPercentile {
		p90 := percentile(sorted, 0.90)
		p95 := percentile(sorted, 0.95)
		stats.P90Ms = &p90
		stats.P95Ms = &p95
	}

	return stats
}

// percentile picks sorted[floor(n*q)] clamped to the last index.
func percentile(sorted []float64, q float64) float64 {
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

// stddev is the sample standard deviation.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
