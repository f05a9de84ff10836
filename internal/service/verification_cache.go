package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

// DefaultBatchTTL bounds how long a fetched batch is reused.
const DefaultBatchTTL = 5 * time.Minute

const batchCacheName = "batch"

type batchFetcher interface {
	ListBatches(ctx context.Context) ([]models.BatchSummary, error)
	FetchBatch(ctx context.Context, batchNumber string) (*models.RemoteBatch, error)
}

// VerificationCache combines the static seed table with a time-bounded copy of remote batches.
type VerificationCache struct {
	remote  batchFetcher
	ttl     time.Duration
	now     func() time.Time
	metrics *MetricsService
	logger  *zap.Logger

	static      map[string]staticMember
	staticOrder []StaticBatch

	mu      sync.RWMutex
	entries map[string]models.BatchCacheEntry
}

type staticMember struct {
	batchName string
	owner     string
}

// CacheOption customises a VerificationCache.
type CacheOption func(*VerificationCache)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *VerificationCache) { c.now = now }
}

// NewVerificationCache builds the cache. A non-positive ttl uses DefaultBatchTTL.
func NewVerificationCache(remote batchFetcher, static []StaticBatch, ttl time.Duration, metrics *MetricsService, logger *zap.Logger, opts ...CacheOption) *VerificationCache {
	if ttl <= 0 {
		ttl = DefaultBatchTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &VerificationCache{
		remote:      remote,
		ttl:         ttl,
		now:         time.Now,
		metrics:     metrics,
		logger:      logger,
		static:      make(map[string]staticMember),
		staticOrder: static,
		entries:     make(map[string]models.BatchCacheEntry),
	}
	for _, batch := range static {
		for _, card := range batch.Cards {
			id := models.NormalizeCardID(card.CardID)
			if _, exists := c.static[id]; exists {
				continue
			}
			c.static[id] = staticMember{batchName: batch.BatchName, owner: card.Owner}
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StaticBatch looks a card up in the seed table.
func (c *VerificationCache) StaticBatch(cardID string) (string, bool) {
	member, ok := c.static[models.NormalizeCardID(cardID)]
	return member.batchName, ok
}

// StaticBatches returns the seed table in declaration order.
func (c *VerificationCache) StaticBatches() []StaticBatch {
	return c.staticOrder
}

func (c *VerificationCache) staticRecord(cardID string) (*models.BatchCardRecord, bool) {
	id := models.NormalizeCardID(cardID)
	member, ok := c.static[id]
	if !ok {
		return nil, false
	}
	return &models.BatchCardRecord{
		CardID:    id,
		BatchName: member.batchName,
		CreatedAt: c.now().UTC(),
		CardOwner: models.StringPtr(member.owner),
	}, true
}

// ResolveBatch returns a fresh entry for batchNumber, fetching it when absent or expired.
// Remote failures report not found and keep any previous entry.
func (c *VerificationCache) ResolveBatch(ctx context.Context, batchNumber string) (*models.BatchCacheEntry, bool) {
	key := normalizeBatchKey(batchNumber)
	if key == "" {
		return nil, false
	}

	start := c.now()
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.FetchTime) < c.ttl {
		c.metrics.RecordCacheOperation(batchCacheName, true, c.now().Sub(start))
		return &entry, true
	}
	c.metrics.RecordCacheOperation(batchCacheName, false, c.now().Sub(start))

	if c.remote == nil {
		return nil, false
	}
	batch, err := c.remote.FetchBatch(ctx, key)
	if err != nil {
		cause := "invalid"
		if errors.Is(err, appErrors.ErrTransientIO) || errors.Is(err, appErrors.ErrTimeout) {
			cause = "unreachable"
		}
		c.metrics.RecordCacheRefreshFailure(batchCacheName, cause)
		c.logger.Warn("batch refresh failed", zap.String("batch_number", key), zap.String("cause", cause), zap.Error(err))
		return nil, false
	}
	if batch == nil || len(batch.CardIDs) == 0 {
		c.metrics.RecordCacheRefreshFailure(batchCacheName, "invalid")
		c.logger.Warn("batch refresh returned no cards", zap.String("batch_number", key))
		return nil, false
	}

	fresh := models.BatchCacheEntry{
		BatchNumber: key,
		BatchName:   batch.BatchName,
		CardIDs:     append([]string(nil), batch.CardIDs...),
		TotalCards:  batch.TotalCards,
		FetchTime:   c.now(),
	}
	if fresh.BatchName == "" {
		fresh.BatchName = key
	}
	c.mu.Lock()
	c.entries[key] = fresh
	c.mu.Unlock()
	return &fresh, true
}

// ListActiveBatches returns active remote batch numbers, ascending, zero padded and unique.
func (c *VerificationCache) ListActiveBatches(ctx context.Context) ([]string, error) {
	if c.remote == nil {
		return nil, nil
	}
	summaries, err := c.remote.ListBatches(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{}, len(summaries))
	numbers := make([]int, 0, len(summaries))
	for _, summary := range summaries {
		if !summary.Status.IsActive() {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(summary.BatchNumber))
		if err != nil {
			padded, ok := models.ParseBatchNumber(summary.BatchNumber)
			if !ok {
				c.logger.Debug("skipping batch with non-numeric number", zap.String("batch_number", summary.BatchNumber))
				continue
			}
			n, _ = strconv.Atoi(padded)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	result := make([]string, len(numbers))
	for i, n := range numbers {
		result[i] = models.FormatBatchNumber(n)
	}
	return result, nil
}

// Clear evicts every cached batch.
func (c *VerificationCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]models.BatchCacheEntry)
	return n
}

func normalizeBatchKey(raw string) string {
	if padded, ok := models.ParseBatchNumber(raw); ok {
		return padded
	}
	return strings.TrimSpace(raw)
}
