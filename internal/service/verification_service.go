package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

type cardStore interface {
	storeReader
	InsertIfAbsent(ctx context.Context, record *models.BatchCardRecord) (bool, error)
	ReplaceBatch(ctx context.Context, batchName string, records []models.BatchCardRecord) error
	ListByBatch(ctx context.Context, batchName string) ([]models.BatchCardRecord, error)
	DeleteByBatch(ctx context.Context, batchName string) (int64, error)
	CountByBatch(ctx context.Context, batchName string) (int, error)
}

type verificationStore interface {
	Insert(ctx context.Context, record *models.VerifiedCardRecord) error
	FindByCardID(ctx context.Context, cardID string) (*models.VerifiedCardRecord, error)
	List(ctx context.Context, filter models.VerificationFilter) ([]models.VerifiedCardRecord, int, error)
	ListByBatch(ctx context.Context, batchName string) ([]models.VerifiedCardRecord, error)
	DeleteByBatch(ctx context.Context, batchName string) (int64, error)
	CountByBatch(ctx context.Context, batchName string) (int, int, error)
}

type verificationPublisher interface {
	PublishVerification(ctx context.Context, event models.VerificationEvent) error
}

// VerificationService is the card verification engine. It is the only writer of the
// batch store and the verification log.
type VerificationService struct {
	cards         cardStore
	verifications verificationStore
	cache         *VerificationCache
	resolver      *MembershipResolver
	publisher     verificationPublisher
	metrics       *MetricsService
	logger        *zap.Logger
	now           func() time.Time
	locks         cardLocks
}

// NewVerificationService wires the engine with the static, store and remote layers.
func NewVerificationService(cards cardStore, verifications verificationStore, cache *VerificationCache, metrics *MetricsService, logger *zap.Logger) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationService{
		cards:         cards,
		verifications: verifications,
		cache:         cache,
		resolver:      NewMembershipResolver(NewStaticSource(cache), NewStoreSource(cards), NewRemoteBatchSource(cache)),
		metrics:       metrics,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher registers the sink notified after first-time verifications.
func (s *VerificationService) SetPublisher(p verificationPublisher) {
	s.publisher = p
}

// Verify checks a scanned card against a target batch and records the first verification.
// It never returns an error; failures are reported in the outcome.
func (s *VerificationService) Verify(ctx context.Context, req models.VerifyRequest) models.VerificationOutcome {
	outcome := s.verify(ctx, req)
	s.metrics.RecordVerification(outcome)

	fields := []zap.Field{
		zap.String("card_id", outcome.CardID),
		zap.String("target_batch", outcome.TargetBatch),
		zap.String("status", string(outcome.Status)),
	}
	if outcome.Status == models.VerificationFailed {
		s.logger.Warn("card verification failed", append(fields, zap.String("kind", string(outcome.Kind)), zap.String("message", outcome.Message))...)
	} else {
		s.logger.Info("card verification", append(fields, zap.String("batch_name", outcome.BatchName))...)
	}

	if outcome.Status == models.VerificationVerified && s.publisher != nil && outcome.Record != nil {
		event := models.VerificationEvent{
			CardID:     outcome.Record.CardID,
			BatchName:  outcome.Record.BatchName,
			HolderName: models.StringValue(outcome.Record.HolderName),
			VerifiedAt: outcome.Record.VerifiedAt.Format(time.RFC3339),
			OperatorID: req.OperatorID,
			DeviceID:   req.DeviceID,
			SessionID:  req.SessionID,
		}
		if err := s.publisher.PublishVerification(ctx, event); err != nil {
			s.logger.Warn("failed to enqueue verification event", zap.String("card_id", event.CardID), zap.Error(err))
		}
	}
	return outcome
}

func (s *VerificationService) verify(ctx context.Context, req models.VerifyRequest) models.VerificationOutcome {
	cardID := models.NormalizeCardID(req.CardID)
	target := strings.TrimSpace(req.TargetBatch)
	outcome := models.VerificationOutcome{CardID: cardID, TargetBatch: target}

	if cardID == "" {
		outcome.Status = models.VerificationNotFound
		outcome.Kind = models.FailureNotFound
		outcome.Message = "card id is empty"
		return outcome
	}

	// Lookup, log check and log write run under the card lock so concurrent scans of one
	// card record a single verification.
	unlock, err := s.locks.lock(ctx, cardID)
	if err != nil {
		return failedOutcome(outcome, err, "verification abandoned")
	}
	defer unlock()

	hit, err := s.resolver.Resolve(ctx, cardID, target, strings.TrimSpace(req.BatchNumber))
	if err != nil {
		return failedOutcome(outcome, err, "failed to look up card membership")
	}
	if hit == nil {
		outcome.Status = models.VerificationNotFound
		outcome.Kind = models.FailureNotFound
		outcome.Message = fmt.Sprintf("card %s was not found in batch %s or any known batch", cardID, target)
		return outcome
	}
	outcome.BatchName = hit.Record.BatchName
	outcome.InTargetBatch = hit.InTarget

	if hit.Persist {
		stored, err := s.persistMembership(ctx, hit.Record)
		if err != nil {
			return failedOutcome(outcome, err, "failed to persist card membership")
		}
		if stored.BatchName != hit.Record.BatchName {
			hit.Record = stored
			hit.InTarget = sameBatch(stored.BatchName, target, strings.TrimSpace(req.BatchNumber))
			outcome.BatchName = stored.BatchName
			outcome.InTargetBatch = hit.InTarget
		}
	}

	existing, err := s.verifications.FindByCardID(ctx, cardID)
	switch {
	case err == nil:
		outcome.Status = models.VerificationAlreadyVerified
		outcome.Record = existing
		outcome.Message = fmt.Sprintf("card %s was already verified at %s", cardID, existing.VerifiedAt.Format(time.RFC3339))
		return outcome
	case !errors.Is(err, sql.ErrNoRows):
		return failedOutcome(outcome, err, "failed to read verification log")
	}

	record := &models.VerifiedCardRecord{
		CardID:     cardID,
		BatchName:  hit.Record.BatchName,
		HolderName: models.StringPtr(req.HolderName),
		VerifiedAt: s.now(),
	}
	if len(req.Extra) > 0 {
		raw, err := json.Marshal(req.Extra)
		if err != nil {
			return failedOutcome(outcome, err, "failed to encode additional data")
		}
		extra := string(raw)
		record.AdditionalData = &extra
	}
	if err := ctx.Err(); err != nil {
		return failedOutcome(outcome, err, "verification abandoned before recording")
	}
	if err := s.verifications.Insert(ctx, record); err != nil {
		return failedOutcome(outcome, err, "failed to record verification")
	}

	outcome.Status = models.VerificationVerified
	outcome.Record = record
	if hit.InTarget {
		outcome.Message = fmt.Sprintf("card %s verified in batch %s", cardID, record.BatchName)
	} else {
		outcome.Message = fmt.Sprintf("card %s verified, but it belongs to batch %s", cardID, record.BatchName)
	}
	return outcome
}

// persistMembership stores a hit from a non-persisted layer when the card has no row yet.
// A stored row always wins and is returned instead; it is never reassigned to another batch.
func (s *VerificationService) persistMembership(ctx context.Context, record models.BatchCardRecord) (models.BatchCardRecord, error) {
	stored, err := s.cards.FindByID(ctx, record.CardID)
	if err == nil {
		return *stored, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return record, err
	}
	inserted, err := s.cards.InsertIfAbsent(ctx, &record)
	if err != nil {
		return record, err
	}
	if !inserted {
		stored, err := s.cards.FindByID(ctx, record.CardID)
		if err != nil {
			return record, err
		}
		return *stored, nil
	}
	return record, nil
}

// Enquire resolves a card across batches without writing anything.
func (s *VerificationService) Enquire(ctx context.Context, cardID string) models.EnquiryOutcome {
	id := models.NormalizeCardID(cardID)
	outcome := models.EnquiryOutcome{CardID: id}
	if id == "" {
		outcome.Kind = models.FailureNotFound
		outcome.Message = "card id is empty"
		return outcome
	}

	hit, err := s.resolver.Resolve(ctx, id, "", "")
	if err != nil {
		outcome.Kind = failureKind(err)
		outcome.Message = "failed to look up card membership"
		return outcome
	}
	if hit == nil {
		outcome.Kind = models.FailureNotFound
		outcome.Message = fmt.Sprintf("card %s is not part of any known batch", id)
		return outcome
	}
	outcome.Exists = true
	outcome.BatchName = hit.Record.BatchName

	verified, err := s.IsVerified(ctx, id)
	if err != nil {
		outcome.Kind = failureKind(err)
		outcome.Message = fmt.Sprintf("card %s belongs to batch %s; verification state unavailable", id, hit.Record.BatchName)
		return outcome
	}
	outcome.IsVerified = verified
	if verified {
		outcome.Message = fmt.Sprintf("card %s belongs to batch %s and is verified", id, hit.Record.BatchName)
	} else {
		outcome.Message = fmt.Sprintf("card %s belongs to batch %s and is not yet verified", id, hit.Record.BatchName)
	}
	return outcome
}

// IsVerified reports whether the log holds an entry for the card.
func (s *VerificationService) IsVerified(ctx context.Context, cardID string) (bool, error) {
	_, err := s.verifications.FindByCardID(ctx, cardID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, err
}

// LoadBatch replaces the stored contents of a batch.
func (s *VerificationService) LoadBatch(ctx context.Context, batchName string, records []models.BatchCardRecord) (*models.BatchLoadResult, error) {
	batchName = strings.TrimSpace(batchName)
	if batchName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch name is required")
	}
	now := s.now()
	for i := range records {
		if records[i].CreatedAt.IsZero() {
			records[i].CreatedAt = now
		}
	}
	if err := s.cards.ReplaceBatch(ctx, batchName, records); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "failed to load batch")
	}
	s.logger.Info("batch loaded", zap.String("batch_name", batchName), zap.Int("cards", len(records)))
	return &models.BatchLoadResult{BatchName: batchName, Cards: len(records), Source: "manual"}, nil
}

// LoadStaticBatches writes the seed table into the store.
func (s *VerificationService) LoadStaticBatches(ctx context.Context) ([]models.BatchLoadResult, error) {
	results := make([]models.BatchLoadResult, 0, len(s.cache.StaticBatches()))
	for _, batch := range s.cache.StaticBatches() {
		records := make([]models.BatchCardRecord, 0, len(batch.Cards))
		for _, card := range batch.Cards {
			records = append(records, models.BatchCardRecord{CardID: card.CardID, CardOwner: models.StringPtr(card.Owner)})
		}
		result, err := s.LoadBatch(ctx, batch.BatchName, records)
		if err != nil {
			return results, err
		}
		result.Source = "static"
		results = append(results, *result)
	}
	return results, nil
}

// SyncBatchFromRemote fetches a batch through the cache and stores its cards.
func (s *VerificationService) SyncBatchFromRemote(ctx context.Context, batchNumber string) (*models.BatchLoadResult, error) {
	entry, ok := s.cache.ResolveBatch(ctx, batchNumber)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("batch %s is not available from the remote service", batchNumber))
	}
	records := make([]models.BatchCardRecord, 0, len(entry.CardIDs))
	for _, id := range entry.CardIDs {
		records = append(records, models.BatchCardRecord{CardID: id})
	}
	result, err := s.LoadBatch(ctx, entry.BatchName, records)
	if err != nil {
		return nil, err
	}
	result.BatchNumber = entry.BatchNumber
	result.Source = "remote"
	return result, nil
}

// ResetBatch deletes a batch's cards and its verification log.
func (s *VerificationService) ResetBatch(ctx context.Context, batchName string) (*models.BatchResetResult, error) {
	cards, err := s.cards.DeleteByBatch(ctx, batchName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "failed to delete batch cards")
	}
	verifications, err := s.verifications.DeleteByBatch(ctx, batchName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "failed to delete batch verifications")
	}
	s.logger.Info("batch reset", zap.String("batch_name", batchName), zap.Int64("cards", cards), zap.Int64("verifications", verifications))
	return &models.BatchResetResult{BatchName: batchName, CardsDeleted: cards, VerificationsDeleted: verifications}, nil
}

// BatchProgress counts expected and verified cards of a batch.
func (s *VerificationService) BatchProgress(ctx context.Context, batchName string) (*models.BatchProgress, error) {
	total, err := s.cards.CountByBatch(ctx, batchName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "failed to count batch cards")
	}
	verifications, distinct, err := s.verifications.CountByBatch(ctx, batchName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "failed to count verifications")
	}
	if total == 0 && verifications == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("batch %s has no stored cards", batchName))
	}
	remaining := total - distinct
	if remaining < 0 {
		remaining = 0
	}
	return &models.BatchProgress{
		BatchName:     batchName,
		TotalCards:    total,
		Verifications: verifications,
		VerifiedCards: distinct,
		Remaining:     remaining,
	}, nil
}

// ListVerifications pages through the verification log.
func (s *VerificationService) ListVerifications(ctx context.Context, filter models.VerificationFilter) ([]models.VerifiedCardRecord, *models.Pagination, error) {
	records, total, err := s.verifications.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "failed to list verifications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func failedOutcome(outcome models.VerificationOutcome, err error, message string) models.VerificationOutcome {
	outcome.Status = models.VerificationFailed
	outcome.Kind = failureKind(err)
	outcome.Record = nil
	if outcome.Kind == models.FailureTimeout {
		outcome.Message = message + ": operation timed out"
	} else {
		outcome.Message = fmt.Sprintf("%s: %v", message, err)
	}
	return outcome
}

// failureKind maps an error onto the outcome taxonomy.
func failureKind(err error) models.FailureKind {
	switch {
	case err == nil:
		return models.FailureNone
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, appErrors.ErrTimeout):
		return models.FailureTimeout
	case errors.Is(err, appErrors.ErrMalformedResponse):
		return models.FailureMalformedResponse
	case errors.Is(err, appErrors.ErrRemoteRejected):
		return models.FailureRejected
	case errors.Is(err, appErrors.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return models.FailureNotFound
	default:
		return models.FailureTransientIO
	}
}
