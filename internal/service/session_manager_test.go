package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

type memoryCacheRepo struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: map[string][]byte{}}
}

func (r *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = raw
	return nil
}

func (r *memoryCacheRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
	return nil
}

func (r *memoryCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range r.items {
		if strings.HasPrefix(key, prefix) {
			delete(r.items, key)
		}
	}
	return nil
}

func (r *memoryCacheRepo) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[key]
	return ok
}

func successfulSubmission() *models.SubmissionResponse {
	return &models.SubmissionResponse{
		Status:     "success",
		StatusCode: 200,
		Message:    "session recorded",
		Data:       &models.SubmissionResult{SessionID: "remote-1", SubmittedCount: 1, DuplicateCount: 1},
	}
}

func newTestManager(remote *fakeRemote, repo *memoryCacheRepo) *SessionManager {
	checkpoints := NewCacheService("session", repo, nil, time.Hour, nil, repo != nil)
	m := NewSessionManager("op-1", remote, checkpoints, SessionConfig{DeviceID: "dev-1", Location: "Lagos"}, NewMetricsService(), nil)
	m.newID = func() string { return "session-1" }
	m.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return m
}

func TestSessionPayloadAfterRemovalKeepsOrder(t *testing.T) {
	m := newTestManager(&fakeRemote{}, nil)
	ctx := context.Background()

	_, err := m.Start(ctx, "1", "", "")
	require.NoError(t, err)
	_, err = m.AddScannedCard(ctx, "A", "2024-05-01T09:01:00Z")
	require.NoError(t, err)
	_, err = m.AddScannedCard(ctx, "B", "2024-05-01T09:02:00Z")
	require.NoError(t, err)
	_, err = m.AddScannedCard(ctx, "C", "2024-05-01T09:03:00Z")
	require.NoError(t, err)

	update, err := m.RemoveScannedCard(ctx, "a")
	require.NoError(t, err)
	assert.True(t, update.Changed)

	payload, err := m.BuildSubmissionPayload("2024-05-01T10:00:00Z", "", "")
	require.NoError(t, err)
	assert.Equal(t, []models.SubmittedCardData{
		{CardID: "B", ScanTime: "2024-05-01T09:02:00Z"},
		{CardID: "C", ScanTime: "2024-05-01T09:03:00Z"},
	}, payload.ScannedCards)
	assert.Equal(t, "001", payload.BatchNumber)
	assert.Equal(t, "2024-05-01T09:00:00Z", payload.SessionStartTime)
	assert.Equal(t, "dev-1", payload.DeviceID)
	assert.Equal(t, "Lagos", payload.Location)
	assert.Equal(t, "op-1", payload.OperatorID)
	assert.Nil(t, payload.Notes)
}

func TestSessionPayloadIsASnapshot(t *testing.T) {
	m := newTestManager(&fakeRemote{}, nil)
	ctx := context.Background()
	_, _ = m.Start(ctx, "001", "North", "")
	_, _ = m.AddScannedCard(ctx, "A", "")

	payload, err := m.BuildSubmissionPayload("", "late shift", "")
	require.NoError(t, err)
	payload.ScannedCards[0].CardID = "MUTATED"

	assert.Equal(t, "A", m.Current().ScannedCards[0].CardID)
	require.NotNil(t, payload.Notes)
	assert.Equal(t, "late shift", *payload.Notes)
}

func TestRemoveMissingCardIsNoop(t *testing.T) {
	m := newTestManager(&fakeRemote{}, nil)
	ctx := context.Background()
	_, _ = m.Start(ctx, "001", "", "")
	_, _ = m.AddScannedCard(ctx, "A", "")

	update, err := m.RemoveScannedCard(ctx, "Z")
	require.NoError(t, err)
	assert.False(t, update.Changed)
	assert.Len(t, update.Session.ScannedCards, 1)
}

func TestAddAllowsDuplicatesButOnceDoesNot(t *testing.T) {
	m := newTestManager(&fakeRemote{}, nil)
	ctx := context.Background()
	_, _ = m.Start(ctx, "001", "", "")

	_, _ = m.AddScannedCard(ctx, "A", "")
	_, _ = m.AddScannedCard(ctx, "a", "")
	assert.Len(t, m.Current().ScannedCards, 2)

	update, err := m.AddScannedCardOnce(ctx, "A", "")
	require.NoError(t, err)
	assert.False(t, update.Changed)
	assert.Len(t, m.Current().ScannedCards, 2)
}

func TestSubmitFailureLeavesSessionActive(t *testing.T) {
	remote := &fakeRemote{submitErr: appErrors.Clone(appErrors.ErrRemoteRejected, "batch closed")}
	m := newTestManager(remote, nil)
	ctx := context.Background()
	_, _ = m.Start(ctx, "001", "", "")
	_, _ = m.AddScannedCard(ctx, "A", "2024-05-01T09:01:00Z")
	_, _ = m.AddScannedCard(ctx, "B", "2024-05-01T09:02:00Z")
	before := m.Current()

	outcome := m.Submit(ctx, "", "", "")
	assert.False(t, outcome.Success)
	assert.Equal(t, models.FailureRejected, outcome.Kind)
	assert.Contains(t, outcome.Message, "batch closed")

	after := m.Current()
	assert.Equal(t, models.SessionActive, after.State)
	assert.Equal(t, before.ScannedCards, after.ScannedCards)

	remote.submitErr = nil
	remote.submitResp = successfulSubmission()
	retry := m.Submit(ctx, "", "", "")
	require.True(t, retry.Success)
	assert.Len(t, remote.submissions, 2)
	assert.Equal(t, before.ScannedCards, remote.submissions[1].ScannedCards)
}

func TestSubmitMissingDataIsMalformed(t *testing.T) {
	remote := &fakeRemote{submitResp: &models.SubmissionResponse{Status: "success", StatusCode: 200}}
	m := newTestManager(remote, nil)
	ctx := context.Background()
	_, _ = m.Start(ctx, "001", "", "")

	outcome := m.Submit(ctx, "", "", "")
	assert.False(t, outcome.Success)
	assert.Equal(t, models.FailureMalformedResponse, outcome.Kind)
	assert.Equal(t, models.SessionActive, m.Current().State)
}

func TestSubmitTimeoutKind(t *testing.T) {
	remote := &fakeRemote{submitErr: appErrors.ErrTimeout}
	m := newTestManager(remote, nil)
	_, _ = m.Start(context.Background(), "001", "", "")

	outcome := m.Submit(context.Background(), "", "", "")
	assert.Equal(t, models.FailureTimeout, outcome.Kind)
}

func TestSubmitSuccessIsTerminal(t *testing.T) {
	remote := &fakeRemote{submitResp: successfulSubmission()}
	m := newTestManager(remote, nil)
	ctx := context.Background()
	_, _ = m.Start(ctx, "001", "", "")
	_, _ = m.AddScannedCard(ctx, "A", "")

	outcome := m.Submit(ctx, "", "", "")
	require.True(t, outcome.Success)
	assert.Equal(t, models.SessionSubmitted, outcome.Session.State)
	assert.Equal(t, "remote-1", outcome.Session.RemoteSessionID)
	assert.Equal(t, 1, outcome.Response.Data.DuplicateCount)

	_, err := m.AddScannedCard(ctx, "B", "")
	assert.ErrorIs(t, err, appErrors.ErrSessionClosed)

	again := m.Submit(ctx, "", "", "")
	assert.False(t, again.Success)
	assert.Len(t, remote.submissions, 1)

	_, err = m.Start(ctx, "002", "", "")
	assert.NoError(t, err)
}

func TestSessionLifecycleErrors(t *testing.T) {
	m := newTestManager(&fakeRemote{}, nil)
	ctx := context.Background()

	_, err := m.AddScannedCard(ctx, "A", "")
	assert.ErrorIs(t, err, appErrors.ErrNoActiveSession)
	assert.Equal(t, models.SessionNotStarted, m.Current().State)

	outcome := m.Submit(ctx, "", "", "")
	assert.Equal(t, models.FailureNotFound, outcome.Kind)

	_, err = m.Start(ctx, "001", "", "")
	require.NoError(t, err)
	_, err = m.Start(ctx, "002", "", "")
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = m.AddScannedCard(ctx, "A", "yesterday")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	ended, err := m.End(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, ended.State)

	_, err = m.End(ctx)
	assert.ErrorIs(t, err, appErrors.ErrSessionClosed)
}

func TestSessionCheckpointResume(t *testing.T) {
	repo := newMemoryCacheRepo()
	ctx := context.Background()

	first := newTestManager(&fakeRemote{}, repo)
	_, _ = first.Start(ctx, "003", "Abuja", "")
	_, _ = first.AddScannedCard(ctx, "ABJ001", "2024-05-01T09:05:00Z")
	require.True(t, repo.has(checkpointKey("op-1")))

	second := newTestManager(&fakeRemote{}, repo)
	require.True(t, second.Resume(ctx))
	current := second.Current()
	assert.Equal(t, "session-1", current.SessionID)
	assert.Equal(t, "Abuja", current.BatchName)
	assert.Equal(t, []models.SubmittedCardData{{CardID: "ABJ001", ScanTime: "2024-05-01T09:05:00Z"}}, current.ScannedCards)

	_, err := second.End(ctx)
	require.NoError(t, err)
	assert.False(t, repo.has(checkpointKey("op-1")))
}

func TestSessionServiceReturnsOneManagerPerOperator(t *testing.T) {
	repo := newMemoryCacheRepo()
	checkpoints := NewCacheService("session", repo, nil, time.Hour, nil, true)
	svc := NewSessionService(&fakeRemote{}, checkpoints, SessionConfig{}, nil, nil)
	ctx := context.Background()

	a := svc.Manager(ctx, "op-a")
	assert.Same(t, a, svc.Manager(ctx, " op-a "))
	assert.NotSame(t, a, svc.Manager(ctx, "op-b"))

	_, err := a.Start(ctx, "001", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.ActiveCount())
}
