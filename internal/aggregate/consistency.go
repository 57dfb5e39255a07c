package aggregate

import (
	"sort"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Consistency cross-checks log counts across providers: for each
// (test, round) with results from at least two providers, the most
// common count is the consensus; any provider reporting a different
// count is a mismatch. Count ties break toward the lowest count so the
// verdict never depends on map iteration order.
func Consistency(results []types.TestResult) []types.ConsistencyReport {
	type key struct {
		testID int
		round  int
	}

	groups := make(map[key]map[string]int) // providerID -> log count
	names := make(map[key]string)
	for _, r := range results {
		if r.LogCount == nil {
			continue
		}
		k := key{r.TestID, r.Round}
		if groups[k] == nil {
			groups[k] = make(map[string]int)
			names[k] = r.TestName
		}
		groups[k][r.ProviderID] = *r.LogCount
	}

	var keys []key
	for k, counts := range groups {
		if len(counts) >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].testID != keys[j].testID {
			return keys[i].testID < keys[j].testID
		}
		return keys[i].round < keys[j].round
	})

	reports := make([]types.ConsistencyReport, 0, len(keys))
	for _, k := range keys {
		counts := groups[k]
		consensus := consensusCount(counts)

		mismatch := false
		for _, c := range counts {
			if c != consensus {
				mismatch = true
				break
			}
		}

		reports = append(reports, types.ConsistencyReport{
			TestID:         k.testID,
			TestName:       names[k],
			Round:          k.round,
			ProviderCounts: counts,
			ConsensusCount: consensus,
			HasMismatch:    mismatch,
		})
	}
	return reports
}

// consensusCount returns the most frequently observed count; frequency
// ties resolve to the lowest count.
func consensusCount(counts map[string]int) int {
	freq := make(map[int]int)
	for _, c := range counts {
		freq[c]++
	}

	best := 0
	bestFreq := -1
	for c, f := range freq {
		if f > bestFreq || (f == bestFreq && c < best) {
			best = c
			bestFreq = f
		}
	}
	return best
}
