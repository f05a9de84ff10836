package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/card-audit-agent/internal/models"
	"github.com/noah-isme/card-audit-agent/internal/service"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
	"github.com/noah-isme/card-audit-agent/pkg/response"
)

type sessionRegistry interface {
	Manager(ctx context.Context, operatorID string) *service.SessionManager
}

// SessionHandler exposes the operator's scanning session lifecycle.
type SessionHandler struct {
	sessions sessionRegistry
	validate *validator.Validate
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(sessions sessionRegistry, validate *validator.Validate) *SessionHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &SessionHandler{sessions: sessions, validate: validate}
}

func (h *SessionHandler) manager(c *gin.Context) (*service.SessionManager, *models.JWTClaims, bool) {
	claims, err := requireOperator(c)
	if err != nil {
		response.Error(c, err)
		return nil, nil, false
	}
	return h.sessions.Manager(c.Request.Context(), claims.OperatorID), claims, true
}

func (h *SessionHandler) bind(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return false
	}
	return true
}

// Start godoc
// @Summary Start a scanning session
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.StartSessionRequest true "Session"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Start(c *gin.Context) {
	m, claims, ok := h.manager(c)
	if !ok {
		return
	}
	var req models.StartSessionRequest
	if !h.bind(c, &req) {
		return
	}
	session, err := m.Start(c.Request.Context(), req.BatchNumber, req.BatchName, claims.DeviceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Current godoc
// @Summary Current scanning session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /sessions/current [get]
func (h *SessionHandler) Current(c *gin.Context) {
	m, _, ok := h.manager(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, m.Current(), nil)
}

// AddCard godoc
// @Summary Add a scan to the session
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.AddScanRequest true "Scan"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/current/cards [post]
func (h *SessionHandler) AddCard(c *gin.Context) {
	m, _, ok := h.manager(c)
	if !ok {
		return
	}
	var req models.AddScanRequest
	if !h.bind(c, &req) {
		return
	}
	update, err := m.AddScannedCard(c.Request.Context(), req.CardID, req.ScanTime)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, update, nil)
}

// RemoveCard godoc
// @Summary Remove a scan from the session
// @Description Removes the first matching scan; a missing card is reported with changed=false
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param cardId path string true "Card ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/current/cards/{cardId} [delete]
func (h *SessionHandler) RemoveCard(c *gin.Context) {
	m, _, ok := h.manager(c)
	if !ok {
		return
	}
	update, err := m.RemoveScannedCard(c.Request.Context(), c.Param("cardId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, update, nil)
}

// Payload godoc
// @Summary Preview the submission payload
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /sessions/current/payload [get]
func (h *SessionHandler) Payload(c *gin.Context) {
	m, _, ok := h.manager(c)
	if !ok {
		return
	}
	payload, err := m.BuildSubmissionPayload(c.Query("end_time"), c.Query("notes"), c.Query("location"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payload, nil)
}

// Submit godoc
// @Summary Submit the session to the remote service
// @Description A failed submission keeps the session active so it can be retried
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.SubmitSessionRequest false "Closing details"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /sessions/current/submit [post]
func (h *SessionHandler) Submit(c *gin.Context) {
	m, _, ok := h.manager(c)
	if !ok {
		return
	}
	var req models.SubmitSessionRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	outcome := m.Submit(c.Request.Context(), req.EndTime, req.Notes, req.Location)
	response.JSON(c, submissionStatusCode(outcome), outcome, nil)
}

func submissionStatusCode(outcome models.SubmissionOutcome) int {
	if outcome.Success {
		return http.StatusOK
	}
	switch outcome.Kind {
	case models.FailureNotFound:
		return http.StatusNotFound
	case models.FailureTimeout:
		return http.StatusGatewayTimeout
	case models.FailureTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// End godoc
// @Summary End the session without submitting
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /sessions/current/end [post]
func (h *SessionHandler) End(c *gin.Context) {
	m, _, ok := h.manager(c)
	if !ok {
		return
	}
	session, err := m.End(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}
