package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

type memoryCardStore struct {
	mu      sync.Mutex
	cards   map[string]models.BatchCardRecord
	failErr error
	inserts int
}

func newMemoryCardStore(batches map[string][]string) *memoryCardStore {
	store := &memoryCardStore{cards: map[string]models.BatchCardRecord{}}
	for batch, ids := range batches {
		for _, id := range ids {
			store.cards[models.NormalizeCardID(id)] = models.BatchCardRecord{CardID: models.NormalizeCardID(id), BatchName: batch, CreatedAt: time.Now()}
		}
	}
	return store
}

func (m *memoryCardStore) FindByIDAndBatch(_ context.Context, cardID, batchName string) (*models.BatchCardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	record, ok := m.cards[models.NormalizeCardID(cardID)]
	if !ok || !strings.EqualFold(record.BatchName, batchName) {
		return nil, sql.ErrNoRows
	}
	return &record, nil
}

func (m *memoryCardStore) FindByID(_ context.Context, cardID string) (*models.BatchCardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	record, ok := m.cards[models.NormalizeCardID(cardID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &record, nil
}

func (m *memoryCardStore) InsertIfAbsent(_ context.Context, record *models.BatchCardRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	record.CardID = models.NormalizeCardID(record.CardID)
	if _, ok := m.cards[record.CardID]; ok {
		return false, nil
	}
	m.inserts++
	m.cards[record.CardID] = *record
	return true, nil
}

func (m *memoryCardStore) ReplaceBatch(_ context.Context, batchName string, records []models.BatchCardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for id, record := range m.cards {
		if strings.EqualFold(record.BatchName, batchName) {
			delete(m.cards, id)
		}
	}
	for _, record := range records {
		record.CardID = models.NormalizeCardID(record.CardID)
		record.BatchName = batchName
		m.cards[record.CardID] = record
	}
	return nil
}

func (m *memoryCardStore) ListByBatch(_ context.Context, batchName string) ([]models.BatchCardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BatchCardRecord
	for _, record := range m.cards {
		if strings.EqualFold(record.BatchName, batchName) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out, nil
}

func (m *memoryCardStore) DeleteByBatch(_ context.Context, batchName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, record := range m.cards {
		if strings.EqualFold(record.BatchName, batchName) {
			delete(m.cards, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryCardStore) CountByBatch(ctx context.Context, batchName string) (int, error) {
	records, err := m.ListByBatch(ctx, batchName)
	return len(records), err
}

type memoryVerificationStore struct {
	mu        sync.Mutex
	records   []models.VerifiedCardRecord
	nextID    int64
	insertErr error
	findErr   error
	// findHook runs before each lookup, outside the store lock.
	findHook func(ctx context.Context, cardID string) error
}

func (m *memoryVerificationStore) Insert(_ context.Context, record *models.VerifiedCardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.nextID++
	record.ID = m.nextID
	m.records = append(m.records, *record)
	return nil
}

func (m *memoryVerificationStore) FindByCardID(ctx context.Context, cardID string) (*models.VerifiedCardRecord, error) {
	if m.findHook != nil {
		if err := m.findHook(ctx, cardID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, record := range m.records {
		if record.CardID == models.NormalizeCardID(cardID) {
			r := record
			return &r, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryVerificationStore) List(_ context.Context, filter models.VerificationFilter) ([]models.VerifiedCardRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VerifiedCardRecord
	for _, record := range m.records {
		if filter.BatchName != "" && !strings.EqualFold(record.BatchName, filter.BatchName) {
			continue
		}
		out = append(out, record)
	}
	return out, len(out), nil
}

func (m *memoryVerificationStore) ListByBatch(ctx context.Context, batchName string) ([]models.VerifiedCardRecord, error) {
	out, _, err := m.List(ctx, models.VerificationFilter{BatchName: batchName})
	return out, err
}

func (m *memoryVerificationStore) DeleteByBatch(_ context.Context, batchName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var n int64
	for _, record := range m.records {
		if strings.EqualFold(record.BatchName, batchName) {
			n++
			continue
		}
		kept = append(kept, record)
	}
	m.records = kept
	return n, nil
}

func (m *memoryVerificationStore) CountByBatch(ctx context.Context, batchName string) (int, int, error) {
	records, err := m.ListByBatch(ctx, batchName)
	distinct := map[string]struct{}{}
	for _, record := range records {
		distinct[record.CardID] = struct{}{}
	}
	return len(records), len(distinct), err
}

func (m *memoryVerificationStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type fakeRemote struct {
	mu         sync.Mutex
	batches    map[string]models.RemoteBatch
	summaries  []models.BatchSummary
	fetchErr   error
	listErr    error
	fetchCalls []string

	submitResp  *models.SubmissionResponse
	submitErr   error
	submissions []models.SubmissionRequest

	enquiry *models.RemoteEnquiryResponse
}

func (f *fakeRemote) ListBatches(context.Context) ([]models.BatchSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.summaries, nil
}

func (f *fakeRemote) FetchBatch(_ context.Context, batchNumber string) (*models.RemoteBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls = append(f.fetchCalls, batchNumber)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	batch, ok := f.batches[batchNumber]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &batch, nil
}

func (f *fakeRemote) SubmitSession(_ context.Context, req models.SubmissionRequest) (*models.SubmissionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitResp, nil
}

func (f *fakeRemote) EnquireCard(context.Context, string) (*models.RemoteEnquiryResponse, error) {
	if f.enquiry == nil {
		return &models.RemoteEnquiryResponse{Exists: false}, nil
	}
	return f.enquiry, nil
}

func (f *fakeRemote) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetchCalls...)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
