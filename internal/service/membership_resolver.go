package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

// MembershipSource is one layer of the card to batch lookup chain.
// Lookups return (nil, nil) when the card is absent from the layer.
type MembershipSource interface {
	Name() string
	Persisted() bool
	LookupInBatch(ctx context.Context, cardID, batchName, batchNumber string) (*models.BatchCardRecord, error)
	Lookup(ctx context.Context, cardID string) (*models.BatchCardRecord, error)
}

// MembershipHit is a resolved card membership.
type MembershipHit struct {
	Record   models.BatchCardRecord
	Source   string
	Persist  bool
	InTarget bool
}

// MembershipResolver tries each source in order; the first hit wins.
type MembershipResolver struct {
	sources []MembershipSource
}

// NewMembershipResolver builds a resolver over sources, highest priority first.
func NewMembershipResolver(sources ...MembershipSource) *MembershipResolver {
	return &MembershipResolver{sources: sources}
}

// Resolve looks the card up in the target batch on every layer, then anywhere on every layer.
// An empty target skips the first pass.
func (r *MembershipResolver) Resolve(ctx context.Context, cardID, targetBatch, batchNumber string) (*MembershipHit, error) {
	if targetBatch != "" || batchNumber != "" {
		for _, source := range r.sources {
			record, err := source.LookupInBatch(ctx, cardID, targetBatch, batchNumber)
			if err != nil {
				return nil, err
			}
			if record != nil {
				return &MembershipHit{Record: *record, Source: source.Name(), Persist: !source.Persisted(), InTarget: true}, nil
			}
		}
	}
	return r.resolveAnywhere(ctx, cardID)
}

// resolveAnywhere ignores batch context.
func (r *MembershipResolver) resolveAnywhere(ctx context.Context, cardID string) (*MembershipHit, error) {
	for _, source := range r.sources {
		record, err := source.Lookup(ctx, cardID)
		if err != nil {
			return nil, err
		}
		if record != nil {
			return &MembershipHit{Record: *record, Source: source.Name(), Persist: !source.Persisted()}, nil
		}
	}
	return nil, nil
}

type staticSource struct {
	cache *VerificationCache
}

// NewStaticSource exposes the seed table as a membership layer.
func NewStaticSource(cache *VerificationCache) MembershipSource {
	return staticSource{cache: cache}
}

func (s staticSource) Name() string    { return "static" }
func (s staticSource) Persisted() bool { return false }

func (s staticSource) LookupInBatch(_ context.Context, cardID, batchName, batchNumber string) (*models.BatchCardRecord, error) {
	record, ok := s.cache.staticRecord(cardID)
	if !ok || !sameBatch(record.BatchName, batchName, batchNumber) {
		return nil, nil
	}
	return record, nil
}

func (s staticSource) Lookup(_ context.Context, cardID string) (*models.BatchCardRecord, error) {
	record, ok := s.cache.staticRecord(cardID)
	if !ok {
		return nil, nil
	}
	return record, nil
}

type storeReader interface {
	FindByIDAndBatch(ctx context.Context, cardID, batchName string) (*models.BatchCardRecord, error)
	FindByID(ctx context.Context, cardID string) (*models.BatchCardRecord, error)
}

type storeSource struct {
	cards storeReader
}

// NewStoreSource exposes the persisted batch store as a membership layer.
func NewStoreSource(cards storeReader) MembershipSource {
	return storeSource{cards: cards}
}

func (s storeSource) Name() string    { return "store" }
func (s storeSource) Persisted() bool { return true }

func (s storeSource) LookupInBatch(ctx context.Context, cardID, batchName, batchNumber string) (*models.BatchCardRecord, error) {
	for _, name := range uniqueNonEmpty(batchName, batchNumber) {
		record, err := s.cards.FindByIDAndBatch(ctx, cardID, name)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return nil, nil
}

func (s storeSource) Lookup(ctx context.Context, cardID string) (*models.BatchCardRecord, error) {
	record, err := s.cards.FindByID(ctx, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

type remoteBatchSource struct {
	cache *VerificationCache
}

// NewRemoteBatchSource exposes cached remote batches as a membership layer.
// It only answers lookups with a batch context.
func NewRemoteBatchSource(cache *VerificationCache) MembershipSource {
	return remoteBatchSource{cache: cache}
}

func (s remoteBatchSource) Name() string    { return "remote" }
func (s remoteBatchSource) Persisted() bool { return false }

func (s remoteBatchSource) LookupInBatch(ctx context.Context, cardID, batchName, batchNumber string) (*models.BatchCardRecord, error) {
	number := batchNumber
	if number == "" {
		parsed, ok := models.BatchNumberFromLabel(batchName)
		if !ok {
			return nil, nil
		}
		number = parsed
	}
	entry, ok := s.cache.ResolveBatch(ctx, number)
	if !ok || !entry.Contains(cardID) {
		return nil, nil
	}
	return &models.BatchCardRecord{
		CardID:    models.NormalizeCardID(cardID),
		BatchName: entry.BatchName,
		CreatedAt: s.cache.now().UTC(),
	}, nil
}

func (s remoteBatchSource) Lookup(context.Context, string) (*models.BatchCardRecord, error) {
	return nil, nil
}

func sameBatch(stored, batchName, batchNumber string) bool {
	for _, candidate := range uniqueNonEmpty(batchName, batchNumber) {
		if equalBatch(stored, candidate) {
			return true
		}
	}
	return false
}

func equalBatch(a, b string) bool {
	if lowerTrim(a) == lowerTrim(b) {
		return true
	}
	numberA, okA := models.BatchNumberFromLabel(a)
	numberB, okB := models.BatchNumberFromLabel(b)
	return okA && okB && numberA == numberB
}

func uniqueNonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range out {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
