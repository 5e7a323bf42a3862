// Package store persists backtest jobs and their results behind a
// pgx/v5-backed JobManager.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

// PoolInterface is the subset of pgxpool.Pool the job manager needs, so
// tests can substitute pgxmock.
type PoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// JobStatus is the lifecycle state of a queued backtest run.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// BacktestJob is a queued (or completed) backtest run: the request plus,
// once finished, its result.
type BacktestJob struct {
	ID             uuid.UUID                 `json:"id"`
	Name           string                    `json:"name"`
	Status         JobStatus                 `json:"status"`
	Symbol         string                    `json:"symbol"`
	Timeframe      string                    `json:"timeframe"`
	StartDate      time.Time                 `json:"start_date"`
	EndDate        time.Time                 `json:"end_date"`
	InitialCapital float64                   `json:"initial_capital"`
	StrategyParams map[string]interface{}    `json:"strategy_params"`
	Result         *backtest.BacktestResult  `json:"result,omitempty"`
	ErrorMessage   string                    `json:"error_message,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	StartedAt      *time.Time                `json:"started_at,omitempty"`
	CompletedAt    *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt      time.Time                 `json:"updated_at"`
	CreatedBy      string                    `json:"created_by,omitempty"`
}

// JobManager manages the backtest_jobs table: queueing a run, tracking its
// status, and recording its terminal result. It also implements
// backtest.ResultSink directly, for callers that run synchronously and only
// need to persist the finished result.
type JobManager struct {
	db PoolInterface
	mu sync.RWMutex
}

// NewJobManager wraps a pool interface; tests pass a pgxmock pool.
func NewJobManager(db PoolInterface) *JobManager {
	return &JobManager{db: db}
}

// NewJobManagerWithPool is the pgxpool.Pool-specific constructor used by
// production callers.
func NewJobManagerWithPool(db *pgxpool.Pool) *JobManager {
	return &JobManager{db: db}
}

var _ backtest.ResultSink = (*JobManager)(nil)

// CreateJob inserts a new pending job.
func (m *JobManager) CreateJob(ctx context.Context, job *BacktestJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Status = JobStatusPending

	if err := m.validateJob(job); err != nil {
		return fmt.Errorf("invalid job configuration: %w", err)
	}

	paramsJSON, err := json.Marshal(job.StrategyParams)
	if err != nil {
		return fmt.Errorf("marshal strategy params: %w", err)
	}

	query := `
		INSERT INTO backtest_jobs (
			id, name, status, symbol, timeframe, start_date, end_date,
			initial_capital, strategy_params, created_at, updated_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = m.db.Exec(ctx, query,
		job.ID, job.Name, job.Status, job.Symbol, job.Timeframe, job.StartDate, job.EndDate,
		job.InitialCapital, paramsJSON, job.CreatedAt, job.UpdatedAt, job.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert backtest job: %w", err)
	}

	log.Info().Str("job_id", job.ID.String()).Str("name", job.Name).Msg("backtest job created")
	return nil
}

func (m *JobManager) validateJob(job *BacktestJob) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.EndDate.Before(job.StartDate) || job.EndDate.Equal(job.StartDate) {
		return fmt.Errorf("end_date must be after start_date")
	}
	if job.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if job.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive")
	}
	if len(job.StrategyParams) == 0 {
		return fmt.Errorf("strategy_params is required")
	}
	return nil
}

// GetJob retrieves a job by ID, including its result once completed.
func (m *JobManager) GetJob(ctx context.Context, jobID uuid.UUID) (*BacktestJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, name, status, symbol, timeframe, start_date, end_date,
		       initial_capital, strategy_params, result,
		       error_message, created_at, started_at, completed_at, updated_at, created_by
		FROM backtest_jobs
		WHERE id = $1
	`
	var job BacktestJob
	var paramsJSON, resultJSON []byte

	err := m.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.Name, &job.Status, &job.Symbol, &job.Timeframe, &job.StartDate, &job.EndDate,
		&job.InitialCapital, &paramsJSON, &resultJSON,
		&job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt, &job.CreatedBy,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("backtest job not found: %s", jobID)
		}
		return nil, fmt.Errorf("retrieve backtest job: %w", err)
	}

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.StrategyParams); err != nil {
			return nil, fmt.Errorf("unmarshal strategy params: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var result backtest.BacktestResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &result
	}

	return &job, nil
}

// ListJobs retrieves a paginated, optionally user-filtered list of jobs with
// denormalized summary metrics but no full trade/equity detail.
func (m *JobManager) ListJobs(ctx context.Context, createdBy string, limit, offset int) ([]*BacktestJob, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	whereClause := ""
	args := []interface{}{}
	argPos := 1
	if createdBy != "" {
		whereClause = fmt.Sprintf("WHERE created_by = $%d", argPos)
		args = append(args, createdBy)
		argPos++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM backtest_jobs %s", whereClause)
	var total int
	if err := m.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count backtest jobs: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT id, name, status, symbol, timeframe, start_date, end_date, initial_capital,
		       error_message, created_at, started_at, completed_at, updated_at, created_by
		FROM backtest_jobs
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)

	rows, err := m.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query backtest jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*BacktestJob, 0)
	for rows.Next() {
		var job BacktestJob
		if err := rows.Scan(
			&job.ID, &job.Name, &job.Status, &job.Symbol, &job.Timeframe, &job.StartDate, &job.EndDate,
			&job.InitialCapital, &job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
			&job.UpdatedAt, &job.CreatedBy,
		); err != nil {
			return nil, 0, fmt.Errorf("scan backtest job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate backtest jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateJobStatus transitions a job's status, stamping started_at /
// completed_at as appropriate.
func (m *JobManager) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status JobStatus, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var startedAt, completedAt *time.Time
	switch status {
	case JobStatusRunning:
		startedAt = &now
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		completedAt = &now
	}

	query := `
		UPDATE backtest_jobs
		SET status = $1,
		    started_at = COALESCE($2, started_at),
		    completed_at = COALESCE($3, completed_at),
		    error_message = $4,
		    updated_at = $5
		WHERE id = $6
	`
	_, err := m.db.Exec(ctx, query, status, startedAt, completedAt, errorMsg, now, jobID)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// SaveResult attaches a completed backtest.BacktestResult to a job and
// marks it completed, denormalizing the headline metrics into their own
// columns for cheap listing/filtering.
func (m *JobManager) SaveResult(ctx context.Context, jobID uuid.UUID, result *backtest.BacktestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := time.Now()

	query := `
		UPDATE backtest_jobs
		SET result = $1,
		    total_return_pct = $2,
		    sharpe_ratio = $3,
		    max_drawdown_pct = $4,
		    win_rate = $5,
		    total_trades = $6,
		    status = $7,
		    completed_at = $8,
		    updated_at = $9
		WHERE id = $10
	`
	_, err = m.db.Exec(ctx, query,
		resultJSON,
		result.Metrics.TotalReturnPercent,
		result.Metrics.SharpeRatio,
		result.Metrics.MaxDrawdownPercent,
		result.Metrics.WinRate,
		result.Metrics.TotalTrades,
		JobStatusCompleted,
		now, now,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("save backtest result: %w", err)
	}

	log.Info().
		Str("job_id", jobID.String()).
		Float64("total_return_percent", result.Metrics.TotalReturnPercent).
		Float64("sharpe_ratio", result.Metrics.SharpeRatio).
		Msg("backtest result saved")

	return nil
}

// Save implements backtest.ResultSink for callers that run a backtest
// synchronously and only want the finished result persisted, without
// going through the CreateJob/UpdateJobStatus lifecycle. It upserts a
// single already-completed job row keyed by result.ID.
func (m *JobManager) Save(ctx context.Context, result *backtest.BacktestResult) error {
	if m.db == nil {
		return fmt.Errorf("database connection not available")
	}

	paramsJSON, err := json.Marshal(result.StrategyParams)
	if err != nil {
		return fmt.Errorf("marshal strategy params: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		INSERT INTO backtest_jobs (
			id, name, status, symbol, timeframe, start_date, end_date,
			initial_capital, strategy_params, result,
			total_return_pct, sharpe_ratio, max_drawdown_pct, win_rate, total_trades,
			created_at, started_at, completed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $16, $16, $16
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			total_return_pct = EXCLUDED.total_return_pct,
			sharpe_ratio = EXCLUDED.sharpe_ratio,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			win_rate = EXCLUDED.win_rate,
			total_trades = EXCLUDED.total_trades,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now()
	_, err = m.db.Exec(ctx, query,
		result.ID, result.StrategyName, JobStatusCompleted, result.Symbol, result.Timeframe, result.Start, result.End,
		result.InitialBalance, paramsJSON, resultJSON,
		result.Metrics.TotalReturnPercent, result.Metrics.SharpeRatio, result.Metrics.MaxDrawdownPercent,
		result.Metrics.WinRate, result.Metrics.TotalTrades,
		now,
	)
	if err != nil {
		return fmt.Errorf("save backtest result: %w", err)
	}

	log.Info().Str("backtest_id", result.ID.String()).Str("symbol", result.Symbol).Msg("backtest result saved")
	return nil
}

// DeleteJob removes a job and its result.
func (m *JobManager) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.db.Exec(ctx, `DELETE FROM backtest_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete backtest job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backtest job not found")
	}

	log.Info().Str("job_id", jobID.String()).Msg("backtest job deleted")
	return nil
}
