package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

type sessionSubmitter interface {
	SubmitSession(ctx context.Context, req models.SubmissionRequest) (*models.SubmissionResponse, error)
}

// SessionConfig holds device defaults applied to new sessions.
type SessionConfig struct {
	DeviceID      string
	Location      string
	CheckpointTTL time.Duration
}

// SessionManager owns one operator's scanning session. Every mutation replaces the
// current snapshot; callers only ever see copies.
type SessionManager struct {
	mu          sync.Mutex
	operatorID  string
	current     *models.ScanningSession
	remote      sessionSubmitter
	checkpoints *CacheService
	cfg         SessionConfig
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

// NewSessionManager creates a manager with no session for operatorID.
func NewSessionManager(operatorID string, remote sessionSubmitter, checkpoints *CacheService, cfg SessionConfig, metrics *MetricsService, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		operatorID:  operatorID,
		remote:      remote,
		checkpoints: checkpoints,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger.With(zap.String("operator_id", operatorID)),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

func checkpointKey(operatorID string) string {
	return "session:" + operatorID
}

// Resume restores an active session checkpoint, if any. It reports whether one was restored.
func (m *SessionManager) Resume(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return false
	}
	var snapshot models.ScanningSession
	found, err := m.checkpoints.Get(ctx, checkpointKey(m.operatorID), &snapshot)
	if err != nil || !found || snapshot.State != models.SessionActive {
		return false
	}
	m.current = &snapshot
	m.logger.Info("scanning session resumed", zap.String("session_id", snapshot.SessionID), zap.Int("cards", len(snapshot.ScannedCards)))
	return true
}

// Current returns the session snapshot, or a NOT_STARTED placeholder.
func (m *SessionManager) Current() models.ScanningSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return models.ScanningSession{OperatorID: m.operatorID, State: models.SessionNotStarted}
	}
	return m.snapshot()
}

func (m *SessionManager) snapshot() models.ScanningSession {
	s := *m.current
	s.ScannedCards = m.current.Cards()
	return s
}

// Start opens a session against a batch. A terminal session is replaced.
func (m *SessionManager) Start(ctx context.Context, batchNumber, batchName, deviceID string) (models.ScanningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.State == models.SessionActive {
		return models.ScanningSession{}, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("session %s is still active", m.current.SessionID))
	}

	number := strings.TrimSpace(batchNumber)
	if padded, ok := models.ParseBatchNumber(number); ok {
		number = padded
	}
	if number == "" {
		return models.ScanningSession{}, appErrors.Clone(appErrors.ErrValidation, "batch number is required")
	}
	name := strings.TrimSpace(batchName)
	if name == "" {
		name = number
	}
	if strings.TrimSpace(deviceID) == "" {
		deviceID = m.cfg.DeviceID
	}

	session := models.ScanningSession{
		SessionID:    m.newID(),
		BatchNumber:  number,
		BatchName:    name,
		StartTime:    m.now(),
		DeviceID:     deviceID,
		OperatorID:   m.operatorID,
		ScannedCards: []models.SubmittedCardData{},
		State:        models.SessionActive,
	}
	m.replace(ctx, session)
	m.logger.Info("scanning session started", zap.String("session_id", session.SessionID), zap.String("batch_number", number))
	return m.snapshot(), nil
}

// AddScannedCard appends a scan. Duplicates are the caller's concern.
func (m *SessionManager) AddScannedCard(ctx context.Context, cardID, scanTime string) (models.SessionUpdate, error) {
	return m.add(ctx, cardID, scanTime, false)
}

// AddScannedCardOnce appends a scan unless the card is already part of the session.
func (m *SessionManager) AddScannedCardOnce(ctx context.Context, cardID, scanTime string) (models.SessionUpdate, error) {
	return m.add(ctx, cardID, scanTime, true)
}

func (m *SessionManager) add(ctx context.Context, cardID, scanTime string, once bool) (models.SessionUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActive(); err != nil {
		return models.SessionUpdate{}, err
	}
	id := models.NormalizeCardID(cardID)
	if id == "" {
		return models.SessionUpdate{}, appErrors.Clone(appErrors.ErrValidation, "card id is required")
	}
	stamp, err := m.timestamp(scanTime, "scan time")
	if err != nil {
		return models.SessionUpdate{}, err
	}
	if once && m.current.Contains(id) {
		return models.SessionUpdate{Session: m.snapshot(), Message: fmt.Sprintf("card %s is already in the session", id)}, nil
	}

	m.replace(ctx, m.current.WithCard(models.SubmittedCardData{CardID: id, ScanTime: stamp}))
	return models.SessionUpdate{Session: m.snapshot(), Changed: true, Message: fmt.Sprintf("card %s added", id)}, nil
}

// RemoveScannedCard drops the first scan matching cardID. A missing card is reported, not an error.
func (m *SessionManager) RemoveScannedCard(ctx context.Context, cardID string) (models.SessionUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActive(); err != nil {
		return models.SessionUpdate{}, err
	}
	next, removed := m.current.WithoutCard(cardID)
	if !removed {
		return models.SessionUpdate{Session: m.snapshot(), Message: fmt.Sprintf("card %s is not in the session", strings.TrimSpace(cardID))}, nil
	}
	m.replace(ctx, next)
	return models.SessionUpdate{Session: m.snapshot(), Changed: true, Message: fmt.Sprintf("card %s removed", strings.TrimSpace(cardID))}, nil
}

// BuildSubmissionPayload snapshots the active session into a remote submission.
func (m *SessionManager) BuildSubmissionPayload(endTime, notes, location string) (models.SubmissionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActive(); err != nil {
		return models.SubmissionRequest{}, err
	}
	return m.payload(endTime, notes, location)
}

func (m *SessionManager) payload(endTime, notes, location string) (models.SubmissionRequest, error) {
	end, err := m.timestamp(endTime, "end time")
	if err != nil {
		return models.SubmissionRequest{}, err
	}
	if strings.TrimSpace(location) == "" {
		location = m.cfg.Location
	}
	return models.SubmissionRequest{
		BatchNumber:      m.current.BatchNumber,
		SessionStartTime: m.current.StartTime.UTC().Format(time.RFC3339),
		SessionEndTime:   end,
		DeviceID:         m.current.DeviceID,
		Location:         location,
		OperatorID:       m.current.OperatorID,
		ScannedCards:     m.current.Cards(),
		Notes:            models.StringPtr(notes),
	}, nil
}

// Submit sends the session to the remote service. Any failure leaves the session active
// and unchanged so it can be amended and resubmitted.
func (m *SessionManager) Submit(ctx context.Context, endTime, notes, location string) models.SubmissionOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActive(); err != nil {
		outcome := models.SubmissionOutcome{Kind: models.FailureNotFound, Message: err.Error()}
		if m.current != nil {
			outcome.Kind = models.FailureRejected
			outcome.Session = m.snapshot()
		}
		return outcome
	}
	session := m.snapshot()

	req, err := m.payload(endTime, notes, location)
	if err != nil {
		return models.SubmissionOutcome{Kind: models.FailureRejected, Message: err.Error(), Session: session}
	}

	resp, err := m.remote.SubmitSession(ctx, req)
	if err == nil && (resp == nil || resp.Data == nil) {
		err = appErrors.Clone(appErrors.ErrMalformedResponse, "submission response carries no data")
	}
	if err != nil {
		m.metrics.RecordSubmission(false)
		kind := failureKind(err)
		m.logger.Warn("session submission failed",
			zap.String("session_id", session.SessionID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return models.SubmissionOutcome{Kind: kind, Message: err.Error(), Response: resp, Session: session}
	}

	submitted := m.current.WithState(models.SessionSubmitted)
	submitted.RemoteSessionID = resp.Data.SessionID
	m.current = &submitted
	m.dropCheckpoint(ctx)
	m.metrics.RecordSubmission(true)
	m.logger.Info("session submitted",
		zap.String("session_id", submitted.SessionID),
		zap.String("remote_session_id", submitted.RemoteSessionID),
		zap.Int("submitted", resp.Data.SubmittedCount),
		zap.Int("duplicates", resp.Data.DuplicateCount),
		zap.Int("errors", resp.Data.ErrorCount),
	)

	message := resp.Message
	if message == "" {
		message = fmt.Sprintf("%d cards submitted", resp.Data.SubmittedCount)
	}
	return models.SubmissionOutcome{Success: true, Message: message, Response: resp, Session: m.snapshot()}
}

// End closes the session without submitting; its scans are discarded.
func (m *SessionManager) End(ctx context.Context) (models.ScanningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireActive(); err != nil {
		return models.ScanningSession{}, err
	}
	ended := m.current.WithState(models.SessionEnded)
	m.current = &ended
	m.dropCheckpoint(ctx)
	m.logger.Info("scanning session ended", zap.String("session_id", ended.SessionID), zap.Int("discarded", len(ended.ScannedCards)))
	return m.snapshot(), nil
}

func (m *SessionManager) requireActive() error {
	if m.current == nil {
		return appErrors.ErrNoActiveSession
	}
	if m.current.State.Terminal() {
		return appErrors.Clone(appErrors.ErrSessionClosed, fmt.Sprintf("session %s is %s", m.current.SessionID, strings.ToLower(string(m.current.State))))
	}
	return nil
}

func (m *SessionManager) timestamp(raw, field string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m.now().Format(time.RFC3339), nil
	}
	if _, err := time.Parse(time.RFC3339, raw); err != nil {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be RFC3339", field))
	}
	return raw, nil
}

// replace swaps in a new snapshot and checkpoints it. Checkpoint failures are logged only.
func (m *SessionManager) replace(ctx context.Context, next models.ScanningSession) {
	m.current = &next
	if err := m.checkpoints.Set(ctx, checkpointKey(m.operatorID), next, m.cfg.CheckpointTTL); err != nil {
		m.logger.Warn("failed to checkpoint session", zap.String("session_id", next.SessionID), zap.Error(err))
	}
}

func (m *SessionManager) dropCheckpoint(ctx context.Context) {
	if err := m.checkpoints.Delete(ctx, checkpointKey(m.operatorID)); err != nil {
		m.logger.Warn("failed to drop session checkpoint", zap.Error(err))
	}
}
