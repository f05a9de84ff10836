package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

type recordingPublisher struct {
	events []models.VerificationEvent
}

func (p *recordingPublisher) PublishVerification(_ context.Context, event models.VerificationEvent) error {
	p.events = append(p.events, event)
	return nil
}

type engineFixture struct {
	cards   *memoryCardStore
	log     *memoryVerificationStore
	remote  *fakeRemote
	cache   *VerificationCache
	service *VerificationService
}

func newEngineFixture(stored map[string][]string, static ...StaticBatch) *engineFixture {
	f := &engineFixture{
		cards:  newMemoryCardStore(stored),
		log:    &memoryVerificationStore{},
		remote: &fakeRemote{batches: map[string]models.RemoteBatch{}},
	}
	f.cache = NewVerificationCache(f.remote, static, DefaultBatchTTL, nil, nil)
	f.service = NewVerificationService(f.cards, f.log, f.cache, NewMetricsService(), nil)
	return f
}

func TestVerifyScenarioSeededBatch(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001", "LAG002"}})
	ctx := context.Background()

	first := f.service.Verify(ctx, models.VerifyRequest{CardID: "lag001", TargetBatch: "001"})
	assert.Equal(t, models.VerificationVerified, first.Status)
	assert.True(t, first.InTargetBatch)
	assert.Equal(t, 1, f.log.count())

	second := f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})
	assert.Equal(t, models.VerificationAlreadyVerified, second.Status)
	assert.True(t, second.Success())
	assert.Equal(t, 1, f.log.count())

	missing := f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG999", TargetBatch: "001"})
	assert.Equal(t, models.VerificationNotFound, missing.Status)
	assert.Equal(t, models.FailureNotFound, missing.Kind)
	assert.Equal(t, 1, f.log.count())
}

func TestVerifyIsIdempotentAndReferencesFirstEntry(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001"}})
	ctx := context.Background()

	first := f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001", HolderName: "Ada"})
	require.NotNil(t, first.Record)

	f.service.now = func() time.Time { return first.Record.VerifiedAt.Add(time.Hour) }
	second := f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})
	require.NotNil(t, second.Record)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, first.Record.VerifiedAt, second.Record.VerifiedAt)
	assert.Equal(t, 1, f.log.count())
}

func TestVerifyCaseInsensitiveMembership(t *testing.T) {
	f := newEngineFixture(nil, StaticBatch{BatchName: "Batch 001", Cards: []StaticCard{{CardID: "LAG123"}}})
	ctx := context.Background()

	lower := f.service.Verify(ctx, models.VerifyRequest{CardID: "lag123", TargetBatch: "Batch 001"})
	upper := f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG123", TargetBatch: "Batch 001"})

	assert.Equal(t, models.VerificationVerified, lower.Status)
	assert.Equal(t, models.VerificationAlreadyVerified, upper.Status)
	assert.Equal(t, lower.BatchName, upper.BatchName)
	assert.Equal(t, lower.Record.ID, upper.Record.ID)
}

func TestVerifyPersistsStaticHitBeforeRecording(t *testing.T) {
	f := newEngineFixture(nil, StaticBatch{BatchName: "001", Cards: []StaticCard{{CardID: "LAG001", Owner: "Ada"}}})

	outcome := f.service.Verify(context.Background(), models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})
	require.Equal(t, models.VerificationVerified, outcome.Status)

	stored, err := f.cards.FindByID(context.Background(), "LAG001")
	require.NoError(t, err)
	assert.Equal(t, "001", stored.BatchName)
	assert.Equal(t, "Ada", models.StringValue(stored.CardOwner))

	f.service.Verify(context.Background(), models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})
	assert.Equal(t, 1, f.cards.inserts)
}

func TestVerifyNeverMovesAStoredCard(t *testing.T) {
	f := newEngineFixture(map[string][]string{"002": {"LAG001"}}, DefaultStaticBatches()...)
	ctx := context.Background()

	outcome := f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})
	require.Equal(t, models.VerificationVerified, outcome.Status)
	assert.Equal(t, "002", outcome.BatchName)
	assert.False(t, outcome.InTargetBatch)
	assert.Equal(t, "002", outcome.Record.BatchName)

	stored, err := f.cards.FindByID(ctx, "LAG001")
	require.NoError(t, err)
	assert.Equal(t, "002", stored.BatchName)
	assert.Equal(t, 0, f.cards.inserts)

	progress, err := f.service.BatchProgress(ctx, "002")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.TotalCards)
	assert.Equal(t, 1, progress.VerifiedCards)
}

func TestVerifyConcurrentScansRecordOnce(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001"}})
	f.log.findHook = func(context.Context, string) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	const scans = 8
	statuses := make(chan models.VerificationStatus, scans)
	var wg sync.WaitGroup
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses <- f.service.Verify(context.Background(), models.VerifyRequest{CardID: "lag001", TargetBatch: "001"}).Status
		}()
	}
	wg.Wait()
	close(statuses)

	counts := map[models.VerificationStatus]int{}
	for status := range statuses {
		counts[status]++
	}
	assert.Equal(t, 1, counts[models.VerificationVerified])
	assert.Equal(t, scans-1, counts[models.VerificationAlreadyVerified])
	assert.Equal(t, 1, f.log.count())
	assert.Zero(t, f.service.locks.held())
}

func TestVerifyCancelledBeforeWriteRecordsNothing(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001"}})
	ctx, cancel := context.WithCancel(context.Background())
	f.log.findHook = func(context.Context, string) error {
		cancel()
		return nil
	}

	outcome := f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})
	assert.Equal(t, models.VerificationFailed, outcome.Status)
	assert.Equal(t, 0, f.log.count())
}

func TestVerifyFallsBackToRemoteBatch(t *testing.T) {
	f := newEngineFixture(nil)
	f.remote.batches["004"] = models.RemoteBatch{BatchNumber: "004", BatchName: "North", CardIDs: []string{"n-1"}}

	outcome := f.service.Verify(context.Background(), models.VerifyRequest{CardID: "N-1", TargetBatch: "North", BatchNumber: "4"})
	require.Equal(t, models.VerificationVerified, outcome.Status)
	assert.Equal(t, "North", outcome.BatchName)
	assert.True(t, outcome.InTargetBatch)

	stored, err := f.cards.FindByIDAndBatch(context.Background(), "N-1", "North")
	require.NoError(t, err)
	assert.Equal(t, "N-1", stored.CardID)
}

func TestVerifyCrossBatchHitIsFlagged(t *testing.T) {
	f := newEngineFixture(map[string][]string{"002": {"LAG200"}})

	outcome := f.service.Verify(context.Background(), models.VerifyRequest{CardID: "LAG200", TargetBatch: "001"})
	assert.Equal(t, models.VerificationVerified, outcome.Status)
	assert.False(t, outcome.InTargetBatch)
	assert.Equal(t, "002", outcome.Record.BatchName)
}

func TestVerifyStoreFailureIsReportedNotReturned(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001"}})
	f.cards.failErr = errors.New("disk I/O error")

	outcome := f.service.Verify(context.Background(), models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})
	assert.Equal(t, models.VerificationFailed, outcome.Status)
	assert.Equal(t, models.FailureTransientIO, outcome.Kind)
	assert.Contains(t, outcome.Message, "disk I/O error")
	assert.Equal(t, 0, f.log.count())
}

func TestVerifyDeadlineIsTimeout(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001"}})
	f.log.insertErr = context.DeadlineExceeded

	outcome := f.service.Verify(context.Background(), models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})
	assert.Equal(t, models.VerificationFailed, outcome.Status)
	assert.Equal(t, models.FailureTimeout, outcome.Kind)
	assert.Nil(t, outcome.Record)
}

func TestVerifyPublishesOnlyFirstVerification(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001"}})
	pub := &recordingPublisher{}
	f.service.SetPublisher(pub)
	ctx := context.Background()

	f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001", OperatorID: "op-1", DeviceID: "dev-1"})
	f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})

	require.Len(t, pub.events, 1)
	assert.Equal(t, "LAG001", pub.events[0].CardID)
	assert.Equal(t, "op-1", pub.events[0].OperatorID)
}

func TestVerifyStoresExtraAsJSON(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001"}})
	outcome := f.service.Verify(context.Background(), models.VerifyRequest{CardID: "LAG001", TargetBatch: "001", Extra: map[string]string{"aid": "A0000000031010"}})
	require.NotNil(t, outcome.Record)
	assert.JSONEq(t, `{"aid":"A0000000031010"}`, models.StringValue(outcome.Record.AdditionalData))
}

func TestEnquireScenarioCardInOtherBatch(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001"}, "002": {"LAG201"}})

	outcome := f.service.Enquire(context.Background(), "lag201")
	assert.True(t, outcome.Exists)
	assert.Equal(t, "002", outcome.BatchName)
	assert.False(t, outcome.IsVerified)
	assert.Equal(t, 0, f.cards.inserts)
}

func TestEnquireIsReadOnlyForStaticHits(t *testing.T) {
	f := newEngineFixture(nil, StaticBatch{BatchName: "003", Cards: []StaticCard{{CardID: "ABJ001"}}})

	outcome := f.service.Enquire(context.Background(), "abj001")
	assert.True(t, outcome.Exists)
	assert.Equal(t, "003", outcome.BatchName)
	_, err := f.cards.FindByID(context.Background(), "ABJ001")
	assert.Error(t, err)
}

func TestEnquireReportsVerifiedAndMissing(t *testing.T) {
	f := newEngineFixture(map[string][]string{"001": {"LAG001"}})
	ctx := context.Background()
	f.service.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})

	assert.True(t, f.service.Enquire(ctx, "LAG001").IsVerified)

	missing := f.service.Enquire(ctx, "NOPE")
	assert.False(t, missing.Exists)
	assert.Equal(t, models.FailureNotFound, missing.Kind)
}

func TestBatchLifecycle(t *testing.T) {
	f := newEngineFixture(nil, StaticBatch{BatchName: "001", Cards: []StaticCard{{CardID: "A"}, {CardID: "B"}}})
	ctx := context.Background()

	loaded, err := f.service.LoadStaticBatches(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 2, loaded[0].Cards)

	f.service.Verify(ctx, models.VerifyRequest{CardID: "a", TargetBatch: "001"})
	progress, err := f.service.BatchProgress(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, 2, progress.TotalCards)
	assert.Equal(t, 1, progress.VerifiedCards)
	assert.Equal(t, 1, progress.Remaining)

	reset, err := f.service.ResetBatch(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset.CardsDeleted)
	assert.Equal(t, int64(1), reset.VerificationsDeleted)

	_, err = f.service.BatchProgress(ctx, "001")
	assert.Error(t, err)
}

func TestSyncBatchFromRemote(t *testing.T) {
	f := newEngineFixture(nil)
	f.remote.batches["005"] = models.RemoteBatch{BatchNumber: "005", BatchName: "South", CardIDs: []string{"s1", "s2"}}

	result, err := f.service.SyncBatchFromRemote(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "South", result.BatchName)
	assert.Equal(t, "005", result.BatchNumber)
	assert.Equal(t, 2, result.Cards)

	records, _ := f.cards.ListByBatch(context.Background(), "South")
	assert.Len(t, records, 2)

	_, err = f.service.SyncBatchFromRemote(context.Background(), "404")
	assert.Error(t, err)
}
