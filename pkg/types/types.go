// Package types contains public API types for the RPC benchmarker.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// JobStatus represents the lifecycle state of a benchmark job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal returns true once the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// TestCategory classifies a test by its expected cost.
type TestCategory string

const (
	CategorySimple  TestCategory = "simple"
	CategoryMedium  TestCategory = "medium"
	CategoryComplex TestCategory = "complex"
	CategoryLoad    TestCategory = "load"
)

// TestLabel distinguishes head-of-chain queries from archival ones.
type TestLabel string

const (
	LabelLatest   TestLabel = "latest"
	LabelArchival TestLabel = "archival"
)

// IterationType tags a sequential result by its cache expectation.
type IterationType string

const (
	IterationCold      IterationType = "cold"
	IterationWarm      IterationType = "warm"
	IterationSustained IterationType = "sustained"
)

// IterationMode selects how many rounds the scheduler runs per test.
type IterationMode string

const (
	ModeQuick       IterationMode = "quick"
	ModeStandard    IterationMode = "standard"
	ModeThorough    IterationMode = "thorough"
	ModeStatistical IterationMode = "statistical"
)

// Rounds returns the round count for the mode. Round 1 is cold, the rest warm.
func (m IterationMode) Rounds() int {
	switch m {
	case ModeQuick:
		return 2
	case ModeThorough:
		return 5
	case ModeStatistical:
		return 10
	default: // standard
		return 3
	}
}

// ErrorCategory is the closed failure taxonomy.
type ErrorCategory string

const (
	ErrTimeout           ErrorCategory = "timeout"
	ErrRateLimit         ErrorCategory = "rate_limit"
	ErrConnection        ErrorCategory = "connection"
	ErrUnsupported       ErrorCategory = "unsupported"
	ErrInvalidParams     ErrorCategory = "invalid_params"
	ErrExecutionReverted ErrorCategory = "execution_reverted"
	ErrBlockRangeLimit   ErrorCategory = "block_range_limit"
	ErrRPCError          ErrorCategory = "rpc_error"
	ErrUnknown           ErrorCategory = "unknown"
)

// TestParams holds the chain-specific values substituted into test templates.
type TestParams struct {
	KnownAddress           string `json:"knownAddress"`
	ArchivalBlock          uint64 `json:"archivalBlock"`
	RecentBlockOffset      uint64 `json:"recentBlockOffset"`
	LogsTokenContract      string `json:"logsTokenContract"`
	LogsRangeSmall         uint64 `json:"logsRangeSmall"`
	LogsRangeLarge         uint64 `json:"logsRangeLarge"`
	ArchivalLogsStartBlock uint64 `json:"archivalLogsStartBlock"`
}

// BenchmarkConfig holds the per-job execution knobs.
type BenchmarkConfig struct {
	IterationMode     IterationMode  `json:"iterationMode"`
	TimeoutSeconds    int            `json:"timeoutSeconds"`
	DelayMs           int            `json:"delayMs"`
	InterRoundDelayMs int            `json:"interRoundDelayMs"`
	Categories        []TestCategory `json:"categories,omitempty"`
	Labels            []TestLabel    `json:"labels,omitempty"`
	EnabledTestIDs    []int          `json:"enabledTestIds,omitempty"`

	LoadConcurrencySimple  int `json:"loadConcurrencySimple,omitempty"`
	LoadConcurrencyMedium  int `json:"loadConcurrencyMedium,omitempty"`
	LoadConcurrencyComplex int `json:"loadConcurrencyComplex,omitempty"`
}

// Provider is one RPC endpoint under test.
type Provider struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Region string `json:"region,omitempty"`
}

// TestCase is one fully resolved benchmark probe.
type TestCase struct {
	ID          int           `json:"id"`
	Name        string        `json:"name"`
	Category    TestCategory  `json:"category"`
	Label       TestLabel     `json:"label"`
	Method      string        `json:"method"`
	Params      []interface{} `json:"params"`
	Tier        TestCategory  `json:"tier,omitempty"`        // load tests only
	Concurrency int           `json:"concurrency,omitempty"` // load tests only
}

// Job is one benchmark run.
type Job struct {
	ID              string          `json:"id"`
	ChainID         uint64          `json:"chainId"`
	ChainName       string          `json:"chainName"`
	Status          JobStatus       `json:"status"`
	Config          BenchmarkConfig `json:"config"`
	Params          TestParams      `json:"params"`
	Providers       []Provider      `json:"providers"`
	CreatedAt       time.Time       `json:"createdAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	DurationSeconds float64         `json:"durationSeconds,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// TestResult is one sequential iteration's outcome.
type TestResult struct {
	ProviderID        string        `json:"providerId"`
	TestID            int           `json:"testId"`
	TestName          string        `json:"testName"`
	Method            string        `json:"method"`
	Round             int           `json:"round"`
	IterationType     IterationType `json:"iterationType"`
	ResponseTimeMs    *float64      `json:"responseTimeMs,omitempty"`
	Success           bool          `json:"success"`
	ErrorType         ErrorCategory `json:"errorType,omitempty"`
	ErrorMessage      string        `json:"errorMessage,omitempty"`
	HTTPStatus        *int          `json:"httpStatus,omitempty"`
	ResponseSizeBytes *int          `json:"responseSizeBytes,omitempty"`
	LogCount          *int          `json:"logCount,omitempty"`
}

// LoadTestResult is one load burst's summary.
type LoadTestResult struct {
	ProviderID     string                `json:"providerId"`
	TestID         int                   `json:"testId"`
	TestName       string                `json:"testName"`
	Method         string                `json:"method"`
	Concurrency    int                   `json:"concurrency"`
	SuccessCount   int                   `json:"successCount"`
	ErrorCount     int                   `json:"errorCount"`
	SuccessRate    float64               `json:"successRate"`
	MinMs          float64               `json:"minMs"`
	MaxMs          float64               `json:"maxMs"`
	AvgMs          float64               `json:"avgMs"`
	P50Ms          float64               `json:"p50Ms"`
	P95Ms          float64               `json:"p95Ms"`
	P99Ms          float64               `json:"p99Ms"`
	TotalTimeMs    float64               `json:"totalTimeMs"`
	ThroughputRPS  float64               `json:"throughputRps"`
	ErrorBreakdown map[ErrorCategory]int `json:"errorBreakdown,omitempty"`
	ProviderFaults int                   `json:"providerFaults"`
	ParamFaults    int                   `json:"paramFaults"`
}

// ErrorAnalysis summarizes the failures within one aggregation group.
type ErrorAnalysis struct {
	Breakdown      map[ErrorCategory]int `json:"breakdown"`
	Messages       []string              `json:"messages,omitempty"` // first 5 distinct
	ProviderFaults int                   `json:"providerFaults"`
	ParamFaults    int                   `json:"paramFaults"`
}

// ExtendedStats are only reported with at least 5 successful samples;
// percentiles additionally require 25.
type ExtendedStats struct {
	MeanMs   float64  `json:"meanMs"`
	MedianMs float64  `json:"medianMs"`
	MinMs    float64  `json:"minMs"`
	MaxMs    float64  `json:"maxMs"`
	StddevMs float64  `json:"stddevMs"`
	P90Ms    *float64 `json:"p90Ms,omitempty"`
	P95Ms    *float64 `json:"p95Ms,omitempty"`
}

// AggregatedResult is the per (provider, test) summary across a job.
type AggregatedResult struct {
	ProviderID   string         `json:"providerId"`
	TestID       int            `json:"testId"`
	TestName     string         `json:"testName"`
	Method       string         `json:"method"`
	Count        int            `json:"count"`
	SuccessCount int            `json:"successCount"`
	SuccessRate  float64        `json:"successRate"`
	ColdMs       float64        `json:"coldMs"`
	WarmMs       float64        `json:"warmMs"`
	CacheSpeedup float64        `json:"cacheSpeedup"`
	Errors       *ErrorAnalysis `json:"errors,omitempty"`
	Stats        *ExtendedStats `json:"stats,omitempty"`
}

// ConsistencyReport flags providers disagreeing on the item count returned
// for the same resolved range query in the same round.
type ConsistencyReport struct {
	TestID         int            `json:"testId"`
	TestName       string         `json:"testName"`
	Round          int            `json:"round"`
	ProviderCounts map[string]int `json:"providerCounts"`
	ConsensusCount int            `json:"consensusCount"`
	HasMismatch    bool           `json:"hasMismatch"`
}

// ArchiveComparison contrasts latest vs archival latency per provider and method.
type ArchiveComparison struct {
	ProviderID string  `json:"providerId"`
	Method     string  `json:"method"`
	LatestMs   float64 `json:"latestMs"`
	ArchivalMs float64 `json:"archivalMs"`
	Ratio      float64 `json:"ratio"`
}

// LoadDegradation contrasts sequential latency with p50 under a load burst.
type LoadDegradation struct {
	ProviderID      string  `json:"providerId"`
	Method          string  `json:"method"`
	SequentialAvgMs float64 `json:"sequentialAvgMs"`
	LoadP50Ms       float64 `json:"loadP50Ms"`
	DegradationPct  float64 `json:"degradationPct"`
}

// Progress event names, in the order the scheduler emits them.
const (
	EventJobStarted         = "job_started"
	EventRoundStarted       = "round_started"
	EventIterationComplete  = "iteration_complete"
	EventRoundComplete      = "round_complete"
	EventSequentialComplete = "sequential_complete"
	EventLoadTestStarted    = "load_test_started"
	EventLoadTestComplete   = "load_test_complete"
	EventJobComplete        = "job_complete"
	EventError              = "error"
)

// ProgressEvent is one lifecycle notice emitted by a running job.
type ProgressEvent struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// ChainConfig describes a chain preset or a user-saved chain.
type ChainConfig struct {
	ChainID       uint64     `json:"chainId"`
	Name          string     `json:"name"`
	IsPreset      bool       `json:"isPreset"`
	DefaultParams TestParams `json:"defaultParams"`
	PublicRPCs    []string   `json:"publicRpcs,omitempty"`
}

// BenchmarkExport is the self-contained export format for one job.
type BenchmarkExport struct {
	Version     int                `json:"version"`
	ExportedAt  time.Time          `json:"exportedAt"`
	Job         Job                `json:"job"`
	Results     []TestResult       `json:"results"`
	LoadResults []LoadTestResult   `json:"loadResults"`
	Aggregated  []AggregatedResult `json:"aggregated,omitempty"`
}
