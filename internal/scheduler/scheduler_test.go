package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gateway-fm/rpcbench/internal/rpc"
	"github.com/gateway-fm/rpcbench/internal/storage"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

// rpcStub answers every JSON-RPC method with a fixed hex quantity,
// which satisfies both the head probe and the benchmark calls.
func rpcStub(t *testing.T, perCallDelay time.Duration) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if perCallDelay > 0 {
			time.Sleep(perCallDelay)
		}
		var req struct {
			ID     int    `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		result := `"0x1312d00"`
		if req.Method == "eth_getLogs" {
			result = `[{"logIndex":"0x0"},{"logIndex":"0x1"}]`
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testJob(url1, url2 string, config types.BenchmarkConfig) *types.Job {
	providers := []types.Provider{{ID: "p1", Name: "one", URL: url1}}
	if url2 != "" {
		providers = append(providers, types.Provider{ID: "p2", Name: "two", URL: url2})
	}
	return &types.Job{
		ID:        "job-test",
		ChainID:   1,
		ChainName: "Ethereum",
		Status:    types.JobPending,
		Config:    config,
		Params: types.TestParams{
			KnownAddress:           "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
			ArchivalBlock:          1_000_000,
			RecentBlockOffset:      1_000,
			LogsTokenContract:      "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			LogsRangeSmall:         10,
			LogsRangeLarge:         1_000,
			ArchivalLogsStartBlock: 1_000_000,
		},
		Providers: providers,
		CreatedAt: time.Now().UTC(),
	}
}

func newTestRunner(t *testing.T, store storage.Store) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	r := NewRunner(store, rpc.NewClient(logger), nil, logger)
	r.cooldown = 0
	return r
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func drain(events <-chan types.ProgressEvent) []types.ProgressEvent {
	var out []types.ProgressEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func waitDone(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func TestRunner_QuickSequentialJob(t *testing.T) {
	srv1, _ := rpcStub(t, 0)
	srv2, _ := rpcStub(t, 0)

	store := storage.NewMemoryStore()
	job := testJob(srv1.URL, srv2.URL, types.BenchmarkConfig{
		IterationMode:     types.ModeQuick,
		TimeoutSeconds:    5,
		InterRoundDelayMs: 20,
		EnabledTestIDs:    []int{1},
	})
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	runner := newTestRunner(t, store)
	run, err := runner.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	events := drain(run.Events())
	waitDone(t, run)

	got, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != types.JobCompleted {
		t.Fatalf("status = %s, want completed (error %q)", got.Status, got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}

	// 1 test, 2 providers, 2 rounds
	results, _ := store.GetTestResults(context.Background(), job.ID)
	if len(results) != 4 {
		t.Fatalf("got %d result rows, want 4", len(results))
	}
	for _, res := range results {
		if !res.Success {
			t.Errorf("result failed: %+v", res)
		}
		wantType := types.IterationWarm
		if res.Round == 1 {
			wantType = types.IterationCold
		}
		if res.IterationType != wantType {
			t.Errorf("round %d type = %s, want %s", res.Round, res.IterationType, wantType)
		}
	}

	// The final iteration must report exactly full progress.
	var started, lastIter map[string]any
	var roundEvents []map[string]any
	var sawComplete bool
	for _, ev := range events {
		switch ev.Event {
		case types.EventJobStarted:
			started = ev.Data
		case types.EventIterationComplete:
			lastIter = ev.Data
		case types.EventRoundComplete:
			roundEvents = append(roundEvents, ev.Data)
		case types.EventJobComplete:
			sawComplete = true
		}
	}
	if started == nil || lastIter == nil || len(roundEvents) != 2 {
		t.Fatalf("missing events: started=%v iter=%v rounds=%d",
			started != nil, lastIter != nil, len(roundEvents))
	}
	if !sawComplete {
		t.Error("job_complete event missing")
	}

	// job_started carries the work accounting a live view needs.
	if started["total_tests"] != 1 || started["total_sequential"] != 1 || started["total_load"] != 0 {
		t.Errorf("job_started test counts = %v/%v/%v, want 1/1/0",
			started["total_tests"], started["total_sequential"], started["total_load"])
	}
	if started["total_work_units"] != 4 || started["rounds"] != 2 {
		t.Errorf("job_started units/rounds = %v/%v, want 4/2",
			started["total_work_units"], started["rounds"])
	}

	// iteration_complete identifies the call and its measurement.
	if lastIter["progress"].(float64) != 1.0 {
		t.Errorf("final progress = %v, want 1.0", lastIter["progress"])
	}
	if lastIter["completed_units"] != 4 || lastIter["total_work_units"] != 4 {
		t.Errorf("final units = %v/%v, want 4/4",
			lastIter["completed_units"], lastIter["total_work_units"])
	}
	if name, _ := lastIter["test_name"].(string); name == "" {
		t.Error("iteration_complete missing test_name")
	}
	if lastIter["iteration_type"] != string(types.IterationWarm) {
		t.Errorf("final iteration_type = %v, want warm", lastIter["iteration_type"])
	}
	if pname, _ := lastIter["provider_name"].(string); pname == "" {
		t.Error("iteration_complete missing provider_name")
	}
	if rt, _ := lastIter["response_time_ms"].(*float64); rt == nil {
		t.Error("iteration_complete missing response_time_ms")
	}

	// round_complete reports the round position and the upcoming pause.
	for _, re := range roundEvents {
		if re["total_rounds"] != 2 {
			t.Errorf("round_complete total_rounds = %v, want 2", re["total_rounds"])
		}
	}
	if roundEvents[0]["waiting_ms"] != 20 {
		t.Errorf("first round waiting_ms = %v, want 20", roundEvents[0]["waiting_ms"])
	}
	if roundEvents[1]["waiting_ms"] != 0 {
		t.Errorf("final round waiting_ms = %v, want 0", roundEvents[1]["waiting_ms"])
	}

	if runner.Tracker().Active() != 0 {
		t.Error("run still tracked after completion")
	}
}

func TestRunner_LoadPhase(t *testing.T) {
	srv, calls := rpcStub(t, 0)

	store := storage.NewMemoryStore()
	job := testJob(srv.URL, "", types.BenchmarkConfig{
		IterationMode:         types.ModeQuick,
		TimeoutSeconds:        5,
		EnabledTestIDs:        []int{12},
		LoadConcurrencySimple: 5,
	})
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	runner := newTestRunner(t, store)
	run, err := runner.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := drain(run.Events())
	waitDone(t, run)

	loads, _ := store.GetLoadTestResults(context.Background(), job.ID)
	if len(loads) != 1 {
		t.Fatalf("got %d load rows, want 1", len(loads))
	}

	var loadDone map[string]any
	for _, ev := range events {
		if ev.Event == types.EventLoadTestComplete {
			loadDone = ev.Data
		}
	}
	if loadDone == nil {
		t.Fatal("load_test_complete event missing")
	}
	if rps, _ := loadDone["throughput_rps"].(float64); rps <= 0 {
		t.Errorf("load_test_complete throughput_rps = %v, want > 0", loadDone["throughput_rps"])
	}
	if avg, _ := loadDone["avg_ms"].(float64); avg <= 0 {
		t.Errorf("load_test_complete avg_ms = %v, want > 0", loadDone["avg_ms"])
	}
	if loadDone["progress"].(float64) != 1.0 {
		t.Errorf("load_test_complete progress = %v, want 1.0", loadDone["progress"])
	}
	lr := loads[0]
	if lr.Concurrency != 5 {
		t.Errorf("concurrency = %d, want override 5", lr.Concurrency)
	}
	if lr.SuccessCount+lr.ErrorCount != 5 {
		t.Errorf("conservation violated: %d + %d != 5", lr.SuccessCount, lr.ErrorCount)
	}
	// head probe + 5 burst calls
	if n := calls.Load(); n != 6 {
		t.Errorf("server saw %d calls, want 6", n)
	}

	got, _ := store.GetJob(context.Background(), job.ID)
	if got.Status != types.JobCompleted {
		t.Errorf("status = %s, want completed (error %q)", got.Status, got.Error)
	}
}

func TestRunner_CancelMidRun(t *testing.T) {
	srv, _ := rpcStub(t, 30*time.Millisecond)

	store := storage.NewMemoryStore()
	job := testJob(srv.URL, "", types.BenchmarkConfig{
		IterationMode:  types.ModeStatistical,
		TimeoutSeconds: 5,
		EnabledTestIDs: []int{1, 2, 3},
	})
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	runner := newTestRunner(t, store)
	run, err := runner.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Cancel once the first iteration lands, then drain to completion.
	go func() {
		for ev := range run.Events() {
			if ev.Event == types.EventIterationComplete {
				run.Cancel()
			}
		}
	}()
	waitDone(t, run)

	got, _ := store.GetJob(context.Background(), job.ID)
	if got.Status != types.JobCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	// Rows produced before the cancel stick around.
	results, _ := store.GetTestResults(context.Background(), job.ID)
	if len(results) == 0 {
		t.Error("cancelled run lost its partial results")
	}
	// 3 tests, 1 provider, 10 rounds would be 30 rows; cancellation
	// must have cut that short.
	if len(results) >= 30 {
		t.Errorf("got %d rows, cancellation did not stop the run", len(results))
	}
}

func TestRunner_StatisticalRoundTagging(t *testing.T) {
	srv, _ := rpcStub(t, 0)

	store := storage.NewMemoryStore()
	job := testJob(srv.URL, "", types.BenchmarkConfig{
		IterationMode:  types.ModeStatistical,
		TimeoutSeconds: 5,
		EnabledTestIDs: []int{1},
	})
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	runner := newTestRunner(t, store)
	run, err := runner.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	go drain(run.Events())
	waitDone(t, run)

	// Round 1 is the cold pass, round 2 the first warm pass, and the
	// remaining statistical rounds are tagged sustained. The aggregator
	// folds warm and sustained samples into the same warm pool.
	results, _ := store.GetTestResults(context.Background(), job.ID)
	if len(results) != 10 {
		t.Fatalf("got %d result rows, want 10", len(results))
	}
	for _, res := range results {
		want := types.IterationSustained
		switch res.Round {
		case 1:
			want = types.IterationCold
		case 2:
			want = types.IterationWarm
		}
		if res.IterationType != want {
			t.Errorf("round %d type = %s, want %s", res.Round, res.IterationType, want)
		}
	}
}

func TestRunner_NoCooldownAfterFinalBurst(t *testing.T) {
	srv, _ := rpcStub(t, 0)

	store := storage.NewMemoryStore()
	job := testJob(srv.URL, "", types.BenchmarkConfig{
		IterationMode:         types.ModeQuick,
		TimeoutSeconds:        5,
		EnabledTestIDs:        []int{12},
		LoadConcurrencySimple: 2,
	})
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	// With a single load burst the cooldown must never run at all.
	runner := newTestRunner(t, store)
	runner.cooldown = 5 * time.Second

	started := time.Now()
	run, err := runner.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	go drain(run.Events())
	waitDone(t, run)

	if elapsed := time.Since(started); elapsed >= runner.cooldown {
		t.Errorf("job took %s, cooldown ran after the final burst", elapsed)
	}

	got, _ := store.GetJob(context.Background(), job.ID)
	if got.Status != types.JobCompleted {
		t.Errorf("status = %s, want completed (error %q)", got.Status, got.Error)
	}
}

func TestRunner_FailsWhenHeadProbeFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused for every call

	store := storage.NewMemoryStore()
	job := testJob(srv.URL, "", types.BenchmarkConfig{
		IterationMode:  types.ModeQuick,
		TimeoutSeconds: 2,
	})
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	runner := newTestRunner(t, store)
	run, err := runner.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	go drain(run.Events())
	waitDone(t, run)

	got, _ := store.GetJob(context.Background(), job.ID)
	if got.Status != types.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("failed job carries no error message")
	}
}

func TestRunner_RejectsDuplicateStart(t *testing.T) {
	srv, _ := rpcStub(t, 20*time.Millisecond)

	store := storage.NewMemoryStore()
	job := testJob(srv.URL, "", types.BenchmarkConfig{
		IterationMode:  types.ModeQuick,
		TimeoutSeconds: 5,
		EnabledTestIDs: []int{1},
	})
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	runner := newTestRunner(t, store)
	run, err := runner.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := runner.Start(context.Background(), job); err == nil {
		t.Error("second start of the same job should fail")
	}
	go drain(run.Events())
	waitDone(t, run)
}

func TestEmitter_DropsOldestWhenFull(t *testing.T) {
	e := NewEmitter(2)
	e.Emit("a", nil)
	e.Emit("b", nil)
	e.Emit("c", nil) // evicts "a"
	e.Close()

	var got []string
	for ev := range e.Events() {
		got = append(got, ev.Event)
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("buffered events = %v, want [b c]", got)
	}
	if e.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", e.Dropped())
	}

	e.Emit("d", nil) // no-op after close
}

func TestTracker_CancelUnknownJob(t *testing.T) {
	tr := NewTracker()
	if tr.Cancel("ghost") {
		t.Error("cancelling an unknown job should report false")
	}
}
