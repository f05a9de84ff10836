package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

type enquiryRemote interface {
	EnquireCard(ctx context.Context, cardID string) (*models.RemoteEnquiryResponse, error)
}

// EnquiryService finds which batch a card belongs to when no target batch is known.
type EnquiryService struct {
	engine   *VerificationService
	cache    *VerificationCache
	remote   enquiryRemote
	fallback bool
	logger   *zap.Logger
}

// NewEnquiryService constructs the resolver. fallback enables the remote enquiry endpoint
// as a last resort.
func NewEnquiryService(engine *VerificationService, cache *VerificationCache, remote enquiryRemote, fallback bool, logger *zap.Logger) *EnquiryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnquiryService{engine: engine, cache: cache, remote: remote, fallback: fallback, logger: logger}
}

// FindCardInAnyBatch walks the active batches in ascending order and returns the first
// batch containing the card.
func (s *EnquiryService) FindCardInAnyBatch(ctx context.Context, cardID string) (*models.LocationResult, bool, error) {
	id := models.NormalizeCardID(cardID)
	if id == "" {
		return nil, false, nil
	}
	batches, err := s.cache.ListActiveBatches(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, number := range batches {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		entry, ok := s.cache.ResolveBatch(ctx, number)
		if !ok || !entry.Contains(id) {
			continue
		}
		return &models.LocationResult{
			CardID:      id,
			BatchNumber: entry.BatchNumber,
			BatchName:   entry.BatchName,
			Source:      models.LocationRemoteBatch,
		}, true, nil
	}
	return nil, false, nil
}

// Locate resolves a card through the local store, then the remote batches, then the
// remote enquiry endpoint when enabled.
func (s *EnquiryService) Locate(ctx context.Context, cardID string) (*models.LocationResult, error) {
	id := models.NormalizeCardID(cardID)
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "card id is required")
	}

	local := s.engine.Enquire(ctx, id)
	if local.Exists {
		return &models.LocationResult{
			CardID:     id,
			BatchName:  local.BatchName,
			IsVerified: local.IsVerified,
			Source:     models.LocationLocal,
		}, nil
	}
	if local.Kind != models.FailureNotFound {
		s.logger.Warn("local enquiry failed", zap.String("card_id", id), zap.String("kind", string(local.Kind)), zap.String("message", local.Message))
	}

	found, ok, err := s.FindCardInAnyBatch(ctx, id)
	if err != nil {
		s.logger.Warn("remote batch search failed", zap.String("card_id", id), zap.Error(err))
	}
	if ok {
		verified, err := s.engine.IsVerified(ctx, id)
		if err != nil {
			s.logger.Warn("failed to read verification state", zap.String("card_id", id), zap.Error(err))
		}
		found.IsVerified = verified
		return found, nil
	}

	if s.fallback && s.remote != nil {
		resp, err := s.remote.EnquireCard(ctx, id)
		if err != nil {
			return nil, err
		}
		if resp.Exists {
			return &models.LocationResult{
				CardID:     id,
				BatchName:  resp.BatchName,
				IsVerified: resp.IsVerified,
				Source:     models.LocationRemoteEnquiry,
			}, nil
		}
	}

	return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("card %s is not part of any known batch", id))
}
