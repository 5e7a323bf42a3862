package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/seungdori/hyperrsi-backtest/internal/db"
	"github.com/seungdori/hyperrsi-backtest/internal/store"
	"github.com/seungdori/hyperrsi-backtest/internal/strategy"
	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

// BacktestHandler handles HTTP requests for queueing and inspecting
// HYPERRSI backtest runs.
type BacktestHandler struct {
	jobManager *store.JobManager
	candles    *db.CandleRepository
}

// NewBacktestHandler creates a new backtest handler over a shared pool.
func NewBacktestHandler(pool *pgxpool.Pool) *BacktestHandler {
	return &BacktestHandler{
		jobManager: store.NewJobManagerWithPool(pool),
		candles:    db.NewCandleRepositoryWithPool(pool),
	}
}

// RunBacktestRequest defines the request body for starting a backtest.
type RunBacktestRequest struct {
	Name           string                 `json:"name" binding:"required"`
	Symbol         string                 `json:"symbol" binding:"required"`
	Timeframe      string                 `json:"timeframe" binding:"required"`
	StartDate      string                 `json:"start_date" binding:"required"`
	EndDate        string                 `json:"end_date" binding:"required"`
	InitialCapital float64                `json:"initial_capital" binding:"required,gt=0"`
	Strategy       map[string]interface{} `json:"strategy" binding:"required"`
}

// RunBacktest queues a new backtest job and runs it synchronously inline —
// HYPERRSI runs complete in low single-digit seconds even over a year of
// hourly candles, so no worker queue is warranted yet.
// @Summary Start a backtest job
// @Tags Backtest
// @Accept json
// @Produce json
// @Param request body RunBacktestRequest true "Backtest configuration"
// @Success 202 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/v1/backtest/run [post]
func (h *BacktestHandler) RunBacktest(c *gin.Context) {
	var req RunBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid start_date format",
			"details": "Expected format: YYYY-MM-DD",
		})
		return
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid end_date format",
			"details": "Expected format: YYYY-MM-DD",
		})
		return
	}

	createdBy := c.GetString("user_id")
	if createdBy == "" {
		createdBy = "anonymous"
	}

	job := &store.BacktestJob{
		Name:           req.Name,
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		StartDate:      startDate,
		EndDate:        endDate,
		InitialCapital: req.InitialCapital,
		StrategyParams: req.Strategy,
		CreatedBy:      createdBy,
	}

	ctx := c.Request.Context()
	if err := h.jobManager.CreateJob(ctx, job); err != nil {
		log.Error().Err(err).Msg("failed to create backtest job")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create backtest job",
			"details": err.Error(),
		})
		return
	}

	if err := h.executeJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("backtest job failed")
		_ = h.jobManager.UpdateJobStatus(ctx, job.ID, store.JobStatusFailed, err.Error())
		c.JSON(http.StatusAccepted, gin.H{
			"id":      job.ID.String(),
			"status":  store.JobStatusFailed,
			"message": "Backtest job failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":      job.ID.String(),
		"status":  store.JobStatusCompleted,
		"message": "Backtest job completed. Use GET /api/v1/backtest/:id to fetch results.",
	})
}

// executeJob runs the backtest engine inline against the job's configured
// window and persists the result, mirroring cmd/backtest/main.go's run path.
func (h *BacktestHandler) executeJob(ctx context.Context, job *store.BacktestJob) error {
	if err := h.jobManager.UpdateJobStatus(ctx, job.ID, store.JobStatusRunning, ""); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	strat, err := strategy.NewHyperrsiStrategy(job.StrategyParams)
	if err != nil {
		return fmt.Errorf("build strategy: %w", err)
	}

	avail, err := h.candles.ValidateDataAvailability(ctx, job.Symbol, job.Timeframe, job.StartDate, job.EndDate)
	if err != nil {
		return fmt.Errorf("validate data availability: %w", err)
	}
	if !avail.Available {
		return fmt.Errorf("no candle data for %s %s in range", job.Symbol, job.Timeframe)
	}

	candles, err := h.candles.GetCandles(ctx, job.Symbol, job.Timeframe, job.StartDate, job.EndDate)
	if err != nil {
		return fmt.Errorf("load candles: %w", err)
	}

	specPtr, err := h.candles.GetSymbolInfo(ctx, job.Symbol)
	if err != nil {
		return fmt.Errorf("load symbol info: %w", err)
	}
	baseCurrency := strings.SplitN(job.Symbol, "/", 2)[0]
	spec := backtest.ResolveSymbolSpec(specPtr, baseCurrency)

	order := backtest.NewOrderSimulator()
	engine := backtest.NewBacktestEngine(strat, order, spec, job.InitialCapital)

	result, err := engine.Run(ctx, candles, job.Symbol, job.Timeframe, job.Name)
	if err != nil {
		return fmt.Errorf("run backtest: %w", err)
	}
	result.StrategyParams = job.StrategyParams

	if err := h.jobManager.SaveResult(ctx, job.ID, result); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetBacktest retrieves a backtest job by ID.
// @Summary Get backtest status and results
// @Tags Backtest
// @Produce json
// @Param id path string true "Backtest Job ID"
// @Success 200 {object} store.BacktestJob
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/backtest/{id} [get]
func (h *BacktestHandler) GetBacktest(c *gin.Context) {
	idStr := c.Param("id")

	jobID, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid job ID format",
			"details": "Expected UUID format",
		})
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobManager.GetJob(ctx, jobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", idStr).Msg("backtest job not found")
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Backtest job not found",
			"job_id":  idStr,
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListBacktests retrieves a paginated list of backtest jobs.
// @Summary List user's backtests
// @Tags Backtest
// @Produce json
// @Param limit query int false "Number of results per page" default(20)
// @Param offset query int false "Offset for pagination" default(0)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/v1/backtest [get]
func (h *BacktestHandler) ListBacktests(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "20")
	offsetStr := c.DefaultQuery("offset", "0")

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid limit parameter",
			"details": "Limit must be between 1 and 100",
		})
		return
	}

	offset, err := strconv.Atoi(offsetStr)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid offset parameter",
			"details": "Offset must be >= 0",
		})
		return
	}

	createdBy := c.GetString("user_id")
	if createdBy == "" {
		createdBy = "anonymous"
	}

	ctx := c.Request.Context()
	jobs, total, err := h.jobManager.ListJobs(ctx, createdBy, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list backtest jobs")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list backtest jobs",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"backtests": jobs,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
		"has_more":  offset+len(jobs) < total,
	})
}

// DeleteBacktest deletes a backtest job.
// @Summary Delete a backtest job
// @Tags Backtest
// @Param id path string true "Backtest Job ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/v1/backtest/{id} [delete]
func (h *BacktestHandler) DeleteBacktest(c *gin.Context) {
	idStr := c.Param("id")

	jobID, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid job ID format",
			"details": "Expected UUID format",
		})
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobManager.GetJob(ctx, jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Backtest job not found",
			"job_id":  idStr,
			"details": err.Error(),
		})
		return
	}

	createdBy := c.GetString("user_id")
	if createdBy == "" {
		createdBy = "anonymous"
	}
	if job.CreatedBy != createdBy {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "You don't have permission to delete this backtest job",
		})
		return
	}

	if err := h.jobManager.DeleteJob(ctx, jobID); err != nil {
		log.Error().Err(err).Str("job_id", idStr).Msg("failed to delete backtest job")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to delete backtest job",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Backtest job deleted successfully",
		"job_id":  idStr,
	})
}

// CancelBacktest cancels a pending backtest job.
// @Summary Cancel a pending backtest job
// @Tags Backtest
// @Param id path string true "Backtest Job ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/v1/backtest/{id}/cancel [post]
func (h *BacktestHandler) CancelBacktest(c *gin.Context) {
	idStr := c.Param("id")

	jobID, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid job ID format",
			"details": "Expected UUID format",
		})
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobManager.GetJob(ctx, jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Backtest job not found",
			"job_id":  idStr,
			"details": err.Error(),
		})
		return
	}

	if job.Status != store.JobStatusPending && job.Status != store.JobStatusRunning {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Cannot cancel backtest job",
			"details": "Job is not in pending or running state",
			"status":  job.Status,
		})
		return
	}

	if err := h.jobManager.UpdateJobStatus(ctx, jobID, store.JobStatusCancelled, "Cancelled by user"); err != nil {
		log.Error().Err(err).Str("job_id", idStr).Msg("failed to cancel backtest job")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to cancel backtest job",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Backtest job cancelled successfully",
		"job_id":  idStr,
		"status":  store.JobStatusCancelled,
	})
}

// RegisterRoutes registers all backtest-related routes.
func (h *BacktestHandler) RegisterRoutes(router *gin.RouterGroup) {
	grp := router.Group("/backtest")
	{
		grp.POST("/run", h.RunBacktest)
		grp.GET("", h.ListBacktests)
		grp.GET("/:id", h.GetBacktest)
		grp.DELETE("/:id", h.DeleteBacktest)
		grp.POST("/:id/cancel", h.CancelBacktest)
	}
}

// RegisterRoutesWithRateLimiter registers backtest routes with rate limiting.
func (h *BacktestHandler) RegisterRoutesWithRateLimiter(router *gin.RouterGroup, readMiddleware, writeMiddleware gin.HandlerFunc) {
	applyRead := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		if readMiddleware != nil {
			return append([]gin.HandlerFunc{readMiddleware}, handlers...)
		}
		return handlers
	}
	applyWrite := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		if writeMiddleware != nil {
			return append([]gin.HandlerFunc{writeMiddleware}, handlers...)
		}
		return handlers
	}

	grp := router.Group("/backtest")
	{
		grp.GET("", applyRead(h.ListBacktests)...)
		grp.GET("/:id", applyRead(h.GetBacktest)...)

		grp.POST("/run", applyWrite(h.RunBacktest)...)
		grp.DELETE("/:id", applyWrite(h.DeleteBacktest)...)
		grp.POST("/:id/cancel", applyWrite(h.CancelBacktest)...)
	}
}
