package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/card-audit-agent/internal/middleware"
	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
	"github.com/noah-isme/card-audit-agent/pkg/response"
)

type batchCache interface {
	ListActiveBatches(ctx context.Context) ([]string, error)
	ResolveBatch(ctx context.Context, batchNumber string) (*models.BatchCacheEntry, bool)
	Clear() int
}

type batchEngine interface {
	LoadStaticBatches(ctx context.Context) ([]models.BatchLoadResult, error)
	SyncBatchFromRemote(ctx context.Context, batchNumber string) (*models.BatchLoadResult, error)
	BatchProgress(ctx context.Context, batchName string) (*models.BatchProgress, error)
	ResetBatch(ctx context.Context, batchName string) (*models.BatchResetResult, error)
}

type batchReporter interface {
	Render(ctx context.Context, batchName string, format models.ReportFormat) (*models.RenderedReport, error)
}

// BatchHandler exposes batch listing, loading and reconciliation endpoints.
type BatchHandler struct {
	cache   batchCache
	engine  batchEngine
	reports batchReporter
}

// NewBatchHandler constructs the handler.
func NewBatchHandler(cache batchCache, engine batchEngine, reports batchReporter) *BatchHandler {
	return &BatchHandler{cache: cache, engine: engine, reports: reports}
}

// ListActive godoc
// @Summary List active remote batches
// @Description Batch numbers in ascending order, zero padded
// @Tags Batches
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /batches [get]
func (h *BatchHandler) ListActive(c *gin.Context) {
	batches, err := h.cache.ListActiveBatches(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, nil)
}

// Get godoc
// @Summary Cached batch contents
// @Tags Batches
// @Produce json
// @Security BearerAuth
// @Param number path string true "Batch number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /batches/{number} [get]
func (h *BatchHandler) Get(c *gin.Context) {
	number := c.Param("number")
	start := time.Now()
	entry, ok := h.cache.ResolveBatch(c.Request.Context(), number)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("batch %s not found", number)))
		return
	}
	middleware.SetCacheHit(c, entry.FetchTime.Before(start))
	response.JSON(c, http.StatusOK, entry, nil, middleware.ExtractMeta(c))
}

// LoadStatic godoc
// @Summary Load bundled seed batches into the store
// @Tags Batches
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /batches/static/load [post]
func (h *BatchHandler) LoadStatic(c *gin.Context) {
	results, err := h.engine.LoadStaticBatches(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, nil)
}

// Sync godoc
// @Summary Fetch a remote batch and store its cards
// @Tags Batches
// @Produce json
// @Security BearerAuth
// @Param number path string true "Batch number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /batches/{number}/sync [post]
func (h *BatchHandler) Sync(c *gin.Context) {
	result, err := h.engine.SyncBatchFromRemote(c.Request.Context(), c.Param("number"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Progress godoc
// @Summary Batch audit progress
// @Tags Batches
// @Produce json
// @Security BearerAuth
// @Param number path string true "Batch name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /batches/{number}/progress [get]
func (h *BatchHandler) Progress(c *gin.Context) {
	progress, err := h.engine.BatchProgress(c.Request.Context(), c.Param("number"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}

// Report godoc
// @Summary Download a reconciliation report
// @Tags Batches
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param number path string true "Batch name"
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /batches/{number}/report [get]
func (h *BatchHandler) Report(c *gin.Context) {
	format := models.ReportFormat(c.DefaultQuery("format", string(models.ReportFormatCSV)))
	report, err := h.reports.Render(c.Request.Context(), c.Param("number"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, report.Filename, report.ContentType, report.Payload)
}

// Reset godoc
// @Summary Delete a batch and its verification log
// @Tags Batches
// @Produce json
// @Security BearerAuth
// @Param number path string true "Batch name"
// @Success 200 {object} response.Envelope
// @Router /batches/{number} [delete]
func (h *BatchHandler) Reset(c *gin.Context) {
	result, err := h.engine.ResetBatch(c.Request.Context(), c.Param("number"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ClearCache godoc
// @Summary Evict every cached remote batch
// @Tags Batches
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /cache [delete]
func (h *BatchHandler) ClearCache(c *gin.Context) {
	response.JSON(c, http.StatusOK, gin.H{"evicted": h.cache.Clear()}, nil)
}
