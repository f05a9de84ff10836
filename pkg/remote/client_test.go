package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/card-audit-agent/internal/models"
	"github.com/noah-isme/card-audit-agent/pkg/config"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveRemoteCall(op, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, op+":"+result)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.RemoteConfig{BaseURL: srv.URL + "/", APIToken: "secret", Timeout: time.Second}, nil, opts...)
}

func TestListBatches(t *testing.T) {
	obs := &recordingObserver{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/batches", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"success","statusCode":200,"message":"ok","data":[{"batchNumber":"2","status":"ACTIVE","name":"North"},{"batchNumber":"1","status":"closed","name":"South"}]}`))
	}, WithObserver(obs))

	batches, err := client.ListBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "2", batches[0].BatchNumber)
	assert.True(t, batches[0].Status.IsActive())
	assert.False(t, batches[1].Status.IsActive())
	assert.Equal(t, []string{"list_batches:ok"}, obs.results)
}

func TestFetchBatchFillsDefaults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/batches/001", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","data":{"batchName":"North","cardIds":["A1","B2"]}}`))
	})

	batch, err := client.FetchBatch(context.Background(), "001")
	require.NoError(t, err)
	assert.Equal(t, "001", batch.BatchNumber)
	assert.Equal(t, 2, batch.TotalCards)
	assert.Equal(t, []string{"A1", "B2"}, batch.CardIDs)
}

func TestFetchBatchNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":"error","statusCode":404,"message":"no such batch"}`))
	})

	_, err := client.FetchBatch(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Equal(t, "no such batch", appErrors.FromError(err).Message)
}

func TestSubmitSessionSuccess(t *testing.T) {
	var got models.SubmissionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"success","statusCode":201,"message":"stored","data":{"sessionId":"srv-1","submittedCount":2,"duplicateCount":1,"errorCount":0}}`))
	})

	req := models.SubmissionRequest{
		BatchNumber:  "001",
		DeviceID:     "dev-1",
		OperatorID:   "op-1",
		ScannedCards: []models.SubmittedCardData{{CardID: "A", ScanTime: "t1"}, {CardID: "B", ScanTime: "t2"}},
	}
	resp, err := client.SubmitSession(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "stored", resp.Message)
	assert.Equal(t, 201, resp.StatusCode)
	require.NotNil(t, resp.Data)
	assert.Equal(t, 2, resp.Data.SubmittedCount)
	assert.Equal(t, 1, resp.Data.DuplicateCount)
	assert.Equal(t, req.ScannedCards, got.ScannedCards)
}

func TestSubmitSessionFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   *appErrors.Error
		msg    string
	}{
		{"server error", http.StatusInternalServerError, `{"status":"error","message":"db down"}`, appErrors.ErrRemoteRejected, "db down"},
		{"error body", http.StatusOK, `{"status":"error","statusCode":400,"message":"batch closed"}`, appErrors.ErrRemoteRejected, "batch closed"},
		{"missing data", http.StatusOK, `{"status":"success","statusCode":200,"message":"ok"}`, appErrors.ErrMalformedResponse, ""},
		{"not json", http.StatusOK, `<html>`, appErrors.ErrMalformedResponse, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.SubmitSession(context.Background(), models.SubmissionRequest{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), err.Error())
			if tc.msg != "" {
				assert.Equal(t, tc.msg, appErrors.FromError(err).Message)
			}
		})
	}
}

func TestUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	client := New(config.RemoteConfig{BaseURL: base, Timeout: time.Second}, nil)
	_, err := client.ListBatches(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrTransientIO))
}

func TestDeadlineIsTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.EnquireCard(ctx, "A1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrTimeout))
}

func TestRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"exists":true,"batchName":"North","isVerified":false}}`))
	}))
	defer srv.Close()

	client := New(config.RemoteConfig{BaseURL: srv.URL, Timeout: time.Second, RetryMax: 2}, nil, WithRetryWait(time.Millisecond, 5*time.Millisecond))
	resp, err := client.EnquireCard(context.Background(), "A1")
	require.NoError(t, err)
	assert.True(t, resp.Exists)
	assert.Equal(t, "North", resp.BatchName)
	assert.Equal(t, 2, calls)
}
