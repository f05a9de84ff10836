package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	"github.com/noah-isme/card-audit-agent/internal/scanner"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

// ScanService turns reader events into verifications against the operator's active session.
type ScanService struct {
	coordinator *scanner.Coordinator
	engine      *VerificationService
	sessions    *SessionService
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewScanService wires the reader coordinator to the engine and the session registry.
func NewScanService(coordinator *scanner.Coordinator, engine *VerificationService, sessions *SessionService, metrics *MetricsService, logger *zap.Logger) *ScanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanService{coordinator: coordinator, engine: engine, sessions: sessions, metrics: metrics, logger: logger}
}

// ScanQR verifies a decoded QR payload.
func (s *ScanService) ScanQR(ctx context.Context, operatorID, deviceID, payload string) (*models.ScanResult, error) {
	read, err := scanner.ParseQR(payload)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	return s.Scan(ctx, scanner.SourceQR, scanner.StaticReader{Tag: read}, operatorID, deviceID)
}

// ScanTag verifies a tag decoded by the device reader bridge.
func (s *ScanService) ScanTag(ctx context.Context, operatorID, deviceID string, req models.TagScanRequest) (*models.ScanResult, error) {
	tag := models.TagRead{CardID: req.CardID, HolderName: req.HolderName, RawFields: req.RawFields, Source: scanner.SourceNFC}
	return s.Scan(ctx, scanner.SourceNFC, scanner.StaticReader{Tag: tag}, operatorID, deviceID)
}

// Scan reads one tag on channel and, once the read completes, verifies it against the
// active session's batch. Verified cards in the session batch are added to the session.
// The channel stays claimed through the verification, so a newer scan on the same channel
// abandons this one before it reaches the verification log.
func (s *ScanService) Scan(ctx context.Context, channel string, reader scanner.Reader, operatorID, deviceID string) (*models.ScanResult, error) {
	manager := s.sessions.Manager(ctx, operatorID)
	session := manager.Current()
	if session.State != models.SessionActive {
		return nil, appErrors.ErrNoActiveSession
	}

	claim := s.coordinator.Begin(ctx, channel)
	defer claim.Release()

	read, status, err := claim.Read(reader)
	result := &models.ScanResult{Status: status, Channel: channel}
	switch status {
	case models.ScanSuperseded:
		return s.superseded(result), nil
	case models.ScanTimeout:
		s.metrics.RecordScan(channel, status)
		result.Message = "no card detected before the read timed out"
		return result, nil
	case models.ScanReadFailed:
		s.metrics.RecordScan(channel, status)
		s.logger.Warn("tag read failed", zap.String("channel", channel), zap.Error(err))
		result.Message = fmt.Sprintf("tag read failed: %v", err)
		return result, nil
	case models.ScanNoCardID:
		s.metrics.RecordScan(channel, status)
		result.Read = &read
		result.Message = "tag carries no card id"
		return result, nil
	}
	result.Read = &read

	outcome := s.engine.Verify(claim.Context(), models.VerifyRequest{
		CardID:      read.CardID,
		TargetBatch: session.BatchName,
		BatchNumber: session.BatchNumber,
		HolderName:  read.HolderName,
		Extra:       read.RawFields,
		OperatorID:  operatorID,
		DeviceID:    deviceID,
		SessionID:   session.SessionID,
	})
	if outcome.Status == models.VerificationFailed && !claim.Current() {
		s.logger.Info("scan superseded during verification", zap.String("channel", channel), zap.String("card_id", read.CardID))
		return s.superseded(result), nil
	}
	s.metrics.RecordScan(channel, status)
	result.Outcome = &outcome
	result.Message = outcome.Message

	if outcome.InTargetBatch && outcome.Success() {
		var update models.SessionUpdate
		if outcome.Status == models.VerificationVerified {
			update, err = manager.AddScannedCard(ctx, outcome.CardID, "")
		} else {
			update, err = manager.AddScannedCardOnce(ctx, outcome.CardID, "")
		}
		if err != nil {
			s.logger.Warn("failed to add scan to session", zap.String("card_id", outcome.CardID), zap.Error(err))
		} else {
			result.AddedToSession = update.Changed
			session = update.Session
		}
	}
	result.Session = &session
	return result, nil
}

func (s *ScanService) superseded(result *models.ScanResult) *models.ScanResult {
	s.metrics.RecordScan(result.Channel, models.ScanSuperseded)
	result.Status = models.ScanSuperseded
	result.Read = nil
	result.Message = "scan superseded by a newer scan"
	return result
}
