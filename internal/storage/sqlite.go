package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// Used for non-critical JSON fields where corruption should not fail
// the whole query.
func unmarshalJSON(data string, v any, field, jobID string) {
	if data == "" {
		return
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"jobID", jobID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrent performance
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		chain_id INTEGER NOT NULL,
		chain_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		config TEXT NOT NULL,
		error_message TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		duration_seconds REAL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);

	CREATE TABLE IF NOT EXISTS job_providers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		region TEXT,
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_job_providers_job ON job_providers(job_id);

	CREATE TABLE IF NOT EXISTS job_test_params (
		job_id TEXT PRIMARY KEY,
		known_address TEXT,
		archival_block INTEGER,
		recent_block_offset INTEGER,
		logs_token_contract TEXT,
		logs_range_small INTEGER,
		logs_range_large INTEGER,
		archival_logs_start_block INTEGER,
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS job_tests_executed (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		test_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		label TEXT NOT NULL,
		method TEXT NOT NULL,
		params TEXT NOT NULL,
		tier TEXT,
		concurrency INTEGER,
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tests_executed_job ON job_tests_executed(job_id);

	CREATE TABLE IF NOT EXISTS test_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		test_id INTEGER NOT NULL,
		test_name TEXT NOT NULL,
		method TEXT NOT NULL,
		round INTEGER NOT NULL,
		iteration_type TEXT NOT NULL,
		response_time_ms REAL,
		success INTEGER NOT NULL,
		error_type TEXT,
		error_message TEXT,
		http_status INTEGER,
		response_size_bytes INTEGER,
		log_count INTEGER,
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_test_results_job ON test_results(job_id);
	CREATE INDEX IF NOT EXISTS idx_test_results_provider ON test_results(job_id, provider_id, test_id);

	CREATE TABLE IF NOT EXISTS load_test_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		test_id INTEGER NOT NULL,
		test_name TEXT NOT NULL,
		method TEXT NOT NULL,
		concurrency INTEGER NOT NULL,
		success_count INTEGER NOT NULL,
		error_count INTEGER NOT NULL,
		success_rate REAL NOT NULL,
		min_ms REAL DEFAULT 0,
		max_ms REAL DEFAULT 0,
		avg_ms REAL DEFAULT 0,
		p50_ms REAL DEFAULT 0,
		p95_ms REAL DEFAULT 0,
		p99_ms REAL DEFAULT 0,
		total_time_ms REAL DEFAULT 0,
		throughput_rps REAL DEFAULT 0,
		error_breakdown TEXT,
		provider_faults INTEGER DEFAULT 0,
		param_faults INTEGER DEFAULT 0,
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_load_results_job ON load_test_results(job_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a job plus its providers and test params in one tx.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *types.Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, chain_id, chain_name, status, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.ID, job.ChainID, job.ChainName, string(job.Status), string(configJSON), job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	for _, p := range job.Providers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_providers (job_id, provider_id, name, url, region)
			VALUES (?, ?, ?, ?, ?)
		`, job.ID, p.ID, p.Name, p.URL, nullString(p.Region))
		if err != nil {
			return fmt.Errorf("failed to insert provider: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_test_params
			(job_id, known_address, archival_block, recent_block_offset,
			 logs_token_contract, logs_range_small, logs_range_large, archival_logs_start_block)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Params.KnownAddress, job.Params.ArchivalBlock, job.Params.RecentBlockOffset,
		job.Params.LogsTokenContract, job.Params.LogsRangeSmall, job.Params.LogsRangeLarge,
		job.Params.ArchivalLogsStartBlock)
	if err != nil {
		return fmt.Errorf("failed to insert test params: %w", err)
	}

	return tx.Commit()
}

// GetJob reads a job and reassembles its providers and params.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var (
		job             types.Job
		status          string
		configJSON      string
		errMsg          sql.NullString
		completedAt     sql.NullTime
		durationSeconds sql.NullFloat64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, chain_id, chain_name, status, config, error_message,
		       created_at, completed_at, duration_seconds
		FROM jobs WHERE id = ?
	`, id).Scan(&job.ID, &job.ChainID, &job.ChainName, &status, &configJSON,
		&errMsg, &job.CreatedAt, &completedAt, &durationSeconds)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	job.Status = types.JobStatus(status)
	job.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	job.DurationSeconds = durationSeconds.Float64
	unmarshalJSON(configJSON, &job.Config, "config", job.ID)

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, name, url, region FROM job_providers WHERE job_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p types.Provider
		var region sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &region); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		p.Region = region.String
		job.Providers = append(job.Providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT known_address, archival_block, recent_block_offset, logs_token_contract,
		       logs_range_small, logs_range_large, archival_logs_start_block
		FROM job_test_params WHERE job_id = ?
	`, id).Scan(&job.Params.KnownAddress, &job.Params.ArchivalBlock, &job.Params.RecentBlockOffset,
		&job.Params.LogsTokenContract, &job.Params.LogsRangeSmall, &job.Params.LogsRangeLarge,
		&job.Params.ArchivalLogsStartBlock)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query test params: %w", err)
	}

	return &job, nil
}

// ListJobs returns jobs newest first. Providers are attached, raw
// results are not.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]types.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jobs := make([]types.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// DeleteJob removes a job; result rows go with it via cascade.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateJobStatus moves a job to a new lifecycle state.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status types.JobStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob stamps a job with its terminal state.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, status types.JobStatus, completedAt time.Time, durationSeconds float64, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, duration_seconds = ?, error_message = ?
		WHERE id = ?
	`, string(status), completedAt, durationSeconds, nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTestsExecuted records the resolved test set for a job in one tx.
func (s *SQLiteStore) SaveTestsExecuted(ctx context.Context, jobID string, cases []types.TestCase) error {
	if len(cases) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_tests_executed (job_id, test_id, name, category, label, method, params, tier, concurrency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, tc := range cases {
		paramsJSON, err := json.Marshal(tc.Params)
		if err != nil {
			return fmt.Errorf("failed to marshal params for test %d: %w", tc.ID, err)
		}
		_, err = stmt.ExecContext(ctx, jobID, tc.ID, tc.Name, string(tc.Category), string(tc.Label),
			tc.Method, string(paramsJSON), nullString(string(tc.Tier)), nullInt(tc.Concurrency))
		if err != nil {
			return fmt.Errorf("failed to insert test %d: %w", tc.ID, err)
		}
	}

	return tx.Commit()
}

// GetTestsExecuted returns the resolved test set in catalog order.
func (s *SQLiteStore) GetTestsExecuted(ctx context.Context, jobID string) ([]types.TestCase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_id, name, category, label, method, params, tier, concurrency
		FROM job_tests_executed WHERE job_id = ? ORDER BY test_id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tests executed: %w", err)
	}
	defer rows.Close()

	var cases []types.TestCase
	for rows.Next() {
		var (
			tc          types.TestCase
			category    string
			label       string
			paramsJSON  string
			tier        sql.NullString
			concurrency sql.NullInt64
		)
		if err := rows.Scan(&tc.ID, &tc.Name, &category, &label, &tc.Method, &paramsJSON, &tier, &concurrency); err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		tc.Category = types.TestCategory(category)
		tc.Label = types.TestLabel(label)
		tc.Tier = types.TestCategory(tier.String)
		tc.Concurrency = int(concurrency.Int64)
		unmarshalJSON(paramsJSON, &tc.Params, "params", jobID)
		cases = append(cases, tc)
	}
	return cases, rows.Err()
}

// SaveTestResult appends one sequential iteration outcome.
func (s *SQLiteStore) SaveTestResult(ctx context.Context, jobID string, r *types.TestResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_results
			(job_id, provider_id, test_id, test_name, method, round, iteration_type,
			 response_time_ms, success, error_type, error_message, http_status,
			 response_size_bytes, log_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, jobID, r.ProviderID, r.TestID, r.TestName, r.Method, r.Round, string(r.IterationType),
		nullFloat64Ptr(r.ResponseTimeMs), boolToInt(r.Success), nullString(string(r.ErrorType)),
		nullString(r.ErrorMessage), nullIntPtr(r.HTTPStatus), nullIntPtr(r.ResponseSizeBytes),
		nullIntPtr(r.LogCount))
	if err != nil {
		return fmt.Errorf("failed to insert test result: %w", err)
	}
	return nil
}

// GetTestResults returns raw results ordered by provider, test, round.
func (s *SQLiteStore) GetTestResults(ctx context.Context, jobID string) ([]types.TestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, test_id, test_name, method, round, iteration_type,
		       response_time_ms, success, error_type, error_message, http_status,
		       response_size_bytes, log_count
		FROM test_results WHERE job_id = ?
		ORDER BY provider_id, test_id, round
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query test results: %w", err)
	}
	defer rows.Close()

	var results []types.TestResult
	for rows.Next() {
		var (
			r             types.TestResult
			iterationType string
			responseTime  sql.NullFloat64
			success       int
			errorType     sql.NullString
			errorMessage  sql.NullString
			httpStatus    sql.NullInt64
			responseSize  sql.NullInt64
			logCount      sql.NullInt64
		)
		if err := rows.Scan(&r.ProviderID, &r.TestID, &r.TestName, &r.Method, &r.Round, &iterationType,
			&responseTime, &success, &errorType, &errorMessage, &httpStatus, &responseSize, &logCount); err != nil {
			return nil, fmt.Errorf("failed to scan test result: %w", err)
		}
		r.IterationType = types.IterationType(iterationType)
		r.Success = success != 0
		r.ErrorType = types.ErrorCategory(errorType.String)
		r.ErrorMessage = errorMessage.String
		if responseTime.Valid {
			v := responseTime.Float64
			r.ResponseTimeMs = &v
		}
		if httpStatus.Valid {
			v := int(httpStatus.Int64)
			r.HTTPStatus = &v
		}
		if responseSize.Valid {
			v := int(responseSize.Int64)
			r.ResponseSizeBytes = &v
		}
		if logCount.Valid {
			v := int(logCount.Int64)
			r.LogCount = &v
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveLoadTestResult appends one load burst summary.
func (s *SQLiteStore) SaveLoadTestResult(ctx context.Context, jobID string, r *types.LoadTestResult) error {
	var breakdownJSON []byte
	if len(r.ErrorBreakdown) > 0 {
		var err error
		breakdownJSON, err = json.Marshal(r.ErrorBreakdown)
		if err != nil {
			return fmt.Errorf("failed to marshal error breakdown: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_test_results
			(job_id, provider_id, test_id, test_name, method, concurrency,
			 success_count, error_count, success_rate, min_ms, max_ms, avg_ms,
			 p50_ms, p95_ms, p99_ms, total_time_ms, throughput_rps,
			 error_breakdown, provider_faults, param_faults)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, jobID, r.ProviderID, r.TestID, r.TestName, r.Method, r.Concurrency,
		r.SuccessCount, r.ErrorCount, r.SuccessRate, r.MinMs, r.MaxMs, r.AvgMs,
		r.P50Ms, r.P95Ms, r.P99Ms, r.TotalTimeMs, r.ThroughputRPS,
		nullString(string(breakdownJSON)), r.ProviderFaults, r.ParamFaults)
	if err != nil {
		return fmt.Errorf("failed to insert load test result: %w", err)
	}
	return nil
}

// GetLoadTestResults returns load summaries ordered by provider, test.
func (s *SQLiteStore) GetLoadTestResults(ctx context.Context, jobID string) ([]types.LoadTestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, test_id, test_name, method, concurrency,
		       success_count, error_count, success_rate, min_ms, max_ms, avg_ms,
		       p50_ms, p95_ms, p99_ms, total_time_ms, throughput_rps,
		       error_breakdown, provider_faults, param_faults
		FROM load_test_results WHERE job_id = ?
		ORDER BY provider_id, test_id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query load test results: %w", err)
	}
	defer rows.Close()

	var results []types.LoadTestResult
	for rows.Next() {
		var (
			r         types.LoadTestResult
			breakdown sql.NullString
		)
		if err := rows.Scan(&r.ProviderID, &r.TestID, &r.TestName, &r.Method, &r.Concurrency,
			&r.SuccessCount, &r.ErrorCount, &r.SuccessRate, &r.MinMs, &r.MaxMs, &r.AvgMs,
			&r.P50Ms, &r.P95Ms, &r.P99Ms, &r.TotalTimeMs, &r.ThroughputRPS,
			&breakdown, &r.ProviderFaults, &r.ParamFaults); err != nil {
			return nil, fmt.Errorf("failed to scan load test result: %w", err)
		}
		if breakdown.Valid && breakdown.String != "" {
			r.ErrorBreakdown = make(map[types.ErrorCategory]int)
			unmarshalJSON(breakdown.String, &r.ErrorBreakdown, "error_breakdown", jobID)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat64Ptr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
