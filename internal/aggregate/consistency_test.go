package aggregate

import (
	"testing"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

func logResult(provider string, testID, round, logCount int) types.TestResult {
	n := logCount
	return types.TestResult{
		ProviderID:    provider,
		TestID:        testID,
		TestName:      "eth_getLogs probe",
		Method:        "eth_getLogs",
		Round:         round,
		IterationType: types.IterationCold,
		Success:       true,
		ResponseTimeMs: ms(50),
		LogCount:      &n,
	}
}

func TestConsistency_Agreement(t *testing.T) {
	results := []types.TestResult{
		logResult("p1", 8, 1, 120),
		logResult("p2", 8, 1, 120),
		logResult("p3", 8, 1, 120),
	}

	reports := Consistency(results)
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.HasMismatch {
		t.Error("agreeing providers flagged as mismatch")
	}
	if r.ConsensusCount != 120 {
		t.Errorf("consensus = %d, want 120", r.ConsensusCount)
	}
}

func TestConsistency_Mismatch(t *testing.T) {
	results := []types.TestResult{
		logResult("p1", 8, 1, 120),
		logResult("p2", 8, 1, 120),
		logResult("p3", 8, 1, 87),
	}

	r := Consistency(results)[0]
	if !r.HasMismatch {
		t.Error("disagreeing providers not flagged")
	}
	if r.ConsensusCount != 120 {
		t.Errorf("consensus = %d, want majority 120", r.ConsensusCount)
	}
	if r.ProviderCounts["p3"] != 87 {
		t.Errorf("provider counts = %v", r.ProviderCounts)
	}
}

func TestConsistency_TieBreaksToLowestCount(t *testing.T) {
	// Two providers, two distinct counts, equal frequency: the lowest
	// count wins so the verdict is deterministic.
	results := []types.TestResult{
		logResult("p1", 8, 1, 120),
		logResult("p2", 8, 1, 87),
	}

	r := Consistency(results)[0]
	if r.ConsensusCount != 87 {
		t.Errorf("tie consensus = %d, want 87", r.ConsensusCount)
	}
	if !r.HasMismatch {
		t.Error("distinct counts must flag a mismatch")
	}
}

func TestConsistency_RequiresTwoProviders(t *testing.T) {
	results := []types.TestResult{
		logResult("p1", 8, 1, 120),
		logResult("p1", 8, 2, 120), // same provider, different round
	}
	if reports := Consistency(results); len(reports) != 0 {
		t.Errorf("single-provider groups should not report, got %d", len(reports))
	}
}

func TestConsistency_GroupsByRound(t *testing.T) {
	results := []types.TestResult{
		logResult("p1", 8, 1, 120),
		logResult("p2", 8, 1, 120),
		logResult("p1", 8, 2, 121),
		logResult("p2", 8, 2, 119),
	}

	reports := Consistency(results)
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if reports[0].Round != 1 || reports[1].Round != 2 {
		t.Errorf("rounds = %d, %d, want 1, 2", reports[0].Round, reports[1].Round)
	}
	if reports[0].HasMismatch {
		t.Error("round 1 agreed")
	}
	if !reports[1].HasMismatch {
		t.Error("round 2 disagreed")
	}
}

func TestConsistency_IgnoresNonLogResults(t *testing.T) {
	results := []types.TestResult{
		seqResult("p1", 1, 1, types.IterationCold, 10),
		seqResult("p2", 1, 1, types.IterationCold, 12),
	}
	if reports := Consistency(results); len(reports) != 0 {
		t.Errorf("non-log results produced %d reports", len(reports))
	}
}

func TestArchiveComparisons(t *testing.T) {
	tests := []types.TestCase{
		{ID: 4, Method: "eth_getBalance", Label: types.LabelLatest},
		{ID: 5, Method: "eth_getBalance", Label: types.LabelArchival},
	}
	mkr := func(provider string, testID int, elapsed float64) types.TestResult {
		r := seqResult(provider, testID, 1, types.IterationCold, elapsed)
		return r
	}
	results := []types.TestResult{
		mkr("p1", 4, 20),
		mkr("p1", 5, 80),
	}

	comps := ArchiveComparisons(results, tests)
	if len(comps) != 1 {
		t.Fatalf("got %d comparisons, want 1", len(comps))
	}
	c := comps[0]
	if c.LatestMs != 20 || c.ArchivalMs != 80 {
		t.Errorf("latencies = %f/%f, want 20/80", c.LatestMs, c.ArchivalMs)
	}
	if c.Ratio != 4.0 {
		t.Errorf("ratio = %f, want 4.0", c.Ratio)
	}
}

func TestLoadDegradations(t *testing.T) {
	results := []types.TestResult{
		seqResult("p1", 1, 1, types.IterationCold, 10),
		seqResult("p1", 1, 2, types.IterationWarm, 30),
	}
	loads := []types.LoadTestResult{
		{ProviderID: "p1", TestID: 12, Method: "eth_getBalance", SuccessCount: 50, P50Ms: 40},
		{ProviderID: "p2", TestID: 12, Method: "eth_getBalance", SuccessCount: 50, P50Ms: 40}, // no baseline
	}

	degs := LoadDegradations(results, loads)
	if len(degs) != 1 {
		t.Fatalf("got %d degradations, want 1", len(degs))
	}
	d := degs[0]
	if d.SequentialAvgMs != 20 {
		t.Errorf("baseline = %f, want 20", d.SequentialAvgMs)
	}
	if d.DegradationPct != 100 {
		t.Errorf("degradation = %f%%, want 100%%", d.DegradationPct)
	}
}
