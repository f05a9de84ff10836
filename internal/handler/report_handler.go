package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/card-audit-agent/internal/models"
	"github.com/noah-isme/card-audit-agent/pkg/response"
)

type reportArchive interface {
	Publish(ctx context.Context, batchName string, format models.ReportFormat) (*models.ReportLink, error)
	Open(token string) (*models.RenderedReport, error)
}

// ReportHandler publishes archived reports behind signed download links.
type ReportHandler struct {
	archive reportArchive
}

// NewReportHandler constructs the handler.
func NewReportHandler(archive reportArchive) *ReportHandler {
	return &ReportHandler{archive: archive}
}

// Publish godoc
// @Summary Archive a batch report and return a download link
// @Tags Batches
// @Produce json
// @Security BearerAuth
// @Param number path string true "Batch number"
// @Param format query string false "csv or pdf"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /batches/{number}/report/links [post]
func (h *ReportHandler) Publish(c *gin.Context) {
	format := models.ReportFormat(c.DefaultQuery("format", string(models.ReportFormatCSV)))
	link, err := h.archive.Publish(c.Request.Context(), c.Param("number"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// Download godoc
// @Summary Download an archived report
// @Tags Batches
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /reports/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	report, err := h.archive.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, report.Filename, report.ContentType, report.Payload)
}
