package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
	"github.com/noah-isme/card-audit-agent/pkg/response"
)

type scanService interface {
	ScanQR(ctx context.Context, operatorID, deviceID, payload string) (*models.ScanResult, error)
	ScanTag(ctx context.Context, operatorID, deviceID string, req models.TagScanRequest) (*models.ScanResult, error)
}

// ScanHandler accepts scan events for the operator's active session.
type ScanHandler struct {
	scans    scanService
	validate *validator.Validate
}

// NewScanHandler constructs the handler.
func NewScanHandler(scans scanService, validate *validator.Validate) *ScanHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &ScanHandler{scans: scans, validate: validate}
}

// QR godoc
// @Summary Scan a QR payload
// @Tags Scans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.QRScanRequest true "QR payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scans/qr [post]
func (h *ScanHandler) QR(c *gin.Context) {
	claims, err := requireOperator(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.QRScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scan payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scan payload"))
		return
	}

	result, err := h.scans.ScanQR(c.Request.Context(), claims.OperatorID, claims.DeviceID, req.Payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Tag godoc
// @Summary Submit a tag decoded by the device reader
// @Tags Scans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.TagScanRequest true "Decoded tag"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scans/tag [post]
func (h *ScanHandler) Tag(c *gin.Context) {
	claims, err := requireOperator(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.TagScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid tag payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid tag payload"))
		return
	}

	result, err := h.scans.ScanTag(c.Request.Context(), claims.OperatorID, claims.DeviceID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
