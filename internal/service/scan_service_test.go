package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/card-audit-agent/internal/models"
	"github.com/noah-isme/card-audit-agent/internal/scanner"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

func newScanFixture(t *testing.T) (*ScanService, *SessionService, *memoryVerificationStore) {
	t.Helper()
	cards := newMemoryCardStore(map[string][]string{"001": {"LAG001", "LAG002"}, "002": {"LAG101"}})
	log := &memoryVerificationStore{}
	cache := NewVerificationCache(&fakeRemote{batches: map[string]models.RemoteBatch{}}, nil, DefaultBatchTTL, nil, nil)
	engine := NewVerificationService(cards, log, cache, nil, nil)
	sessions := NewSessionService(&fakeRemote{}, nil, SessionConfig{DeviceID: "dev-1"}, nil, nil)
	svc := NewScanService(scanner.NewCoordinator(time.Second), engine, sessions, NewMetricsService(), nil)
	return svc, sessions, log
}

func TestScanRequiresActiveSession(t *testing.T) {
	svc, _, _ := newScanFixture(t)

	_, err := svc.ScanQR(context.Background(), "op-1", "dev-1", "LAG001")
	assert.ErrorIs(t, err, appErrors.ErrNoActiveSession)
}

func TestScanQRVerifiesAndAddsToSession(t *testing.T) {
	svc, sessions, log := newScanFixture(t)
	ctx := context.Background()
	_, err := sessions.Manager(ctx, "op-1").Start(ctx, "001", "", "")
	require.NoError(t, err)

	result, err := svc.ScanQR(ctx, "op-1", "dev-1", "cardId=lag001;holder=Ada")
	require.NoError(t, err)
	assert.Equal(t, models.ScanCompleted, result.Status)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.VerificationVerified, result.Outcome.Status)
	assert.True(t, result.AddedToSession)
	assert.Equal(t, []string{"LAG001"}, cardIDs(result.Session.ScannedCards))
	assert.Equal(t, 1, log.count())

	again, err := svc.ScanQR(ctx, "op-1", "dev-1", "LAG001")
	require.NoError(t, err)
	assert.Equal(t, models.VerificationAlreadyVerified, again.Outcome.Status)
	assert.False(t, again.AddedToSession)
	assert.Len(t, again.Session.ScannedCards, 1)
}

func TestScanOtherBatchIsNotAdded(t *testing.T) {
	svc, sessions, _ := newScanFixture(t)
	ctx := context.Background()
	_, _ = sessions.Manager(ctx, "op-1").Start(ctx, "001", "", "")

	result, err := svc.ScanTag(ctx, "op-1", "dev-1", models.TagScanRequest{CardID: "LAG101"})
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, result.Outcome.Status)
	assert.False(t, result.Outcome.InTargetBatch)
	assert.False(t, result.AddedToSession)
	assert.Empty(t, result.Session.ScannedCards)
}

func TestScanWithoutCardIDNeverVerifies(t *testing.T) {
	svc, sessions, log := newScanFixture(t)
	ctx := context.Background()
	_, _ = sessions.Manager(ctx, "op-1").Start(ctx, "001", "", "")

	result, err := svc.ScanTag(ctx, "op-1", "dev-1", models.TagScanRequest{HolderName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, models.ScanNoCardID, result.Status)
	assert.Nil(t, result.Outcome)
	assert.Equal(t, 0, log.count())
}

func TestScanTimeoutNeverVerifies(t *testing.T) {
	svc, sessions, log := newScanFixture(t)
	svc.coordinator = scanner.NewCoordinator(10 * time.Millisecond)
	ctx := context.Background()
	_, _ = sessions.Manager(ctx, "op-1").Start(ctx, "001", "", "")

	reader := scanner.ReaderFunc(func(ctx context.Context) (models.TagRead, error) {
		<-ctx.Done()
		return models.TagRead{CardID: "LAG002"}, ctx.Err()
	})
	result, err := svc.Scan(ctx, scanner.SourceNFC, reader, "op-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, models.ScanTimeout, result.Status)
	assert.Nil(t, result.Outcome)
	assert.Equal(t, 0, log.count())
}

func TestNewerScanAbandonsOlderVerification(t *testing.T) {
	svc, sessions, log := newScanFixture(t)
	ctx := context.Background()
	_, err := sessions.Manager(ctx, "op-1").Start(ctx, "001", "", "")
	require.NoError(t, err)

	entered := make(chan struct{})
	var once sync.Once
	log.findHook = func(ctx context.Context, _ string) error {
		first := false
		once.Do(func() { first = true })
		if !first {
			return nil
		}
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}

	older := make(chan *models.ScanResult, 1)
	go func() {
		result, _ := svc.ScanTag(ctx, "op-1", "dev-1", models.TagScanRequest{CardID: "LAG001"})
		older <- result
	}()
	<-entered

	newer, err := svc.ScanTag(ctx, "op-1", "dev-1", models.TagScanRequest{CardID: "lag001"})
	require.NoError(t, err)
	assert.Equal(t, models.ScanCompleted, newer.Status)
	require.NotNil(t, newer.Outcome)
	assert.Equal(t, models.VerificationVerified, newer.Outcome.Status)
	assert.True(t, newer.AddedToSession)

	select {
	case result := <-older:
		require.NotNil(t, result)
		assert.Equal(t, models.ScanSuperseded, result.Status)
		assert.Nil(t, result.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("older scan did not return")
	}
	assert.Equal(t, 1, log.count())
	assert.Equal(t, []string{"LAG001"}, cardIDs(sessions.Manager(ctx, "op-1").Current().ScannedCards))
	assert.Zero(t, svc.coordinator.InFlight())
}

func TestScanQRRejectsEmptyPayload(t *testing.T) {
	svc, sessions, _ := newScanFixture(t)
	ctx := context.Background()
	_, _ = sessions.Manager(ctx, "op-1").Start(ctx, "001", "", "")

	_, err := svc.ScanQR(ctx, "op-1", "dev-1", "  ")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func cardIDs(cards []models.SubmittedCardData) []string {
	ids := make([]string, 0, len(cards))
	for _, card := range cards {
		ids = append(ids, card.CardID)
	}
	return ids
}
