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

type cardEngine interface {
	Verify(ctx context.Context, req models.VerifyRequest) models.VerificationOutcome
	Enquire(ctx context.Context, cardID string) models.EnquiryOutcome
	ListVerifications(ctx context.Context, filter models.VerificationFilter) ([]models.VerifiedCardRecord, *models.Pagination, error)
}

type cardLocator interface {
	Locate(ctx context.Context, cardID string) (*models.LocationResult, error)
}

// CardHandler exposes verification and enquiry endpoints.
type CardHandler struct {
	engine   cardEngine
	locator  cardLocator
	validate *validator.Validate
}

// NewCardHandler constructs the handler.
func NewCardHandler(engine cardEngine, locator cardLocator, validate *validator.Validate) *CardHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &CardHandler{engine: engine, locator: locator, validate: validate}
}

// Verify godoc
// @Summary Verify a card against a batch
// @Description Records the first verification of a card. Re-verifying returns ALREADY_VERIFIED.
// @Tags Cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.VerifyRequest true "Verification"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /cards/verify [post]
func (h *CardHandler) Verify(c *gin.Context) {
	claims, err := requireOperator(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verification payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verification payload"))
		return
	}
	req.OperatorID = claims.OperatorID
	req.DeviceID = claims.DeviceID

	outcome := h.engine.Verify(c.Request.Context(), req)
	response.JSON(c, verificationStatusCode(outcome), outcome, nil)
}

func verificationStatusCode(outcome models.VerificationOutcome) int {
	switch outcome.Status {
	case models.VerificationVerified, models.VerificationAlreadyVerified:
		return http.StatusOK
	case models.VerificationNotFound:
		return http.StatusNotFound
	}
	switch outcome.Kind {
	case models.FailureTimeout:
		return http.StatusGatewayTimeout
	case models.FailureMalformedResponse, models.FailureRejected:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// Enquiry godoc
// @Summary Cross-batch card enquiry
// @Description Read-only lookup of the batch a card belongs to and whether it is verified
// @Tags Cards
// @Produce json
// @Security BearerAuth
// @Param cardId path string true "Card ID"
// @Success 200 {object} response.Envelope
// @Router /cards/{cardId}/enquiry [get]
func (h *CardHandler) Enquiry(c *gin.Context) {
	outcome := h.engine.Enquire(c.Request.Context(), c.Param("cardId"))
	status := http.StatusOK
	if !outcome.Exists && outcome.Kind != models.FailureNotFound && outcome.Kind != models.FailureNone {
		status = http.StatusServiceUnavailable
	}
	response.JSON(c, status, outcome, nil)
}

// Location godoc
// @Summary Locate a card across local and remote batches
// @Tags Cards
// @Produce json
// @Security BearerAuth
// @Param cardId path string true "Card ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cards/{cardId}/location [get]
func (h *CardHandler) Location(c *gin.Context) {
	location, err := h.locator.Locate(c.Request.Context(), c.Param("cardId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, location, nil)
}

// ListVerifications godoc
// @Summary Page through the verification log
// @Tags Cards
// @Produce json
// @Security BearerAuth
// @Param batch query string false "Batch name"
// @Param card_id query string false "Card ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /verifications [get]
func (h *CardHandler) ListVerifications(c *gin.Context) {
	filter := models.VerificationFilter{
		BatchName: c.Query("batch"),
		CardID:    c.Query("card_id"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 50),
	}
	records, pagination, err := h.engine.ListVerifications(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}
