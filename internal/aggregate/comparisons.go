package aggregate

import (
	"sort"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// ArchiveComparisons contrasts latest vs archival latency per provider
// and method, using mean successful response times. A method only shows
// up when both labels produced at least one successful sample.
func ArchiveComparisons(results []types.TestResult, tests []types.TestCase) []types.ArchiveComparison {
	labelByTest := make(map[int]types.TestLabel, len(tests))
	for _, tc := range tests {
		labelByTest[tc.ID] = tc.Label
	}

	type key struct {
		provider string
		method   string
	}
	latest := make(map[key][]float64)
	archival := make(map[key][]float64)

	for _, r := range results {
		if !r.Success || r.ResponseTimeMs == nil {
			continue
		}
		k := key{r.ProviderID, r.Method}
		switch labelByTest[r.TestID] {
		case types.LabelLatest:
			latest[k] = append(latest[k], *r.ResponseTimeMs)
		case types.LabelArchival:
			archival[k] = append(archival[k], *r.ResponseTimeMs)
		}
	}

	var keys []key
	for k := range archival {
		if len(latest[k]) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].provider != keys[j].provider {
			return keys[i].provider < keys[j].provider
		}
		return keys[i].method < keys[j].method
	})

	out := make([]types.ArchiveComparison, 0, len(keys))
	for _, k := range keys {
		latestMs := mean(latest[k])
		archivalMs := mean(archival[k])
		ratio := 0.0
		if latestMs > 0 {
			ratio = archivalMs / latestMs
		}
		out = append(out, types.ArchiveComparison{
			ProviderID: k.provider,
			Method:     k.method,
			LatestMs:   latestMs,
			ArchivalMs: archivalMs,
			Ratio:      ratio,
		})
	}
	return out
}

// LoadDegradations contrasts each load burst's p50 with the provider's
// sequential baseline for the same method.
func LoadDegradations(results []types.TestResult, loads []types.LoadTestResult) []types.LoadDegradation {
	type key struct {
		provider string
		method   string
	}
	baselines := make(map[key][]float64)
	for _, r := range results {
		if !r.Success || r.ResponseTimeMs == nil {
			continue
		}
		k := key{r.ProviderID, r.Method}
		baselines[k] = append(baselines[k], *r.ResponseTimeMs)
	}

	var out []types.LoadDegradation
	for _, l := range loads {
		base := baselines[key{l.ProviderID, l.Method}]
		if len(base) == 0 || l.SuccessCount == 0 {
			continue
		}
		baseline := mean(base)
		degradation := 0.0
		if baseline > 0 {
			degradation = (l.P50Ms - baseline) / baseline * 100
		}
		out = append(out, types.LoadDegradation{
			ProviderID:      l.ProviderID,
			Method:          l.Method,
			SequentialAvgMs: baseline,
			LoadP50Ms:       l.P50Ms,
			DegradationPct:  degradation,
		})
	}
	return out
}
