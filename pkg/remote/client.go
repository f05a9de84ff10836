package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	"github.com/noah-isme/card-audit-agent/pkg/config"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

const maxBodyBytes = 4 << 20

// Call results reported to the Observer.
const (
	ResultOK          = "ok"
	ResultUnreachable = "unreachable"
	ResultTimeout     = "timeout"
	ResultInvalid     = "invalid"
	ResultRejected    = "rejected"
)

// Observer receives per-call latency and result labels.
type Observer interface {
	ObserveRemoteCall(operation, result string, duration time.Duration)
}

// Client talks to the remote batch service.
type Client struct {
	baseURL  string
	token    string
	http     *retryablehttp.Client
	logger   *zap.Logger
	observer Observer
}

// Option customises a Client.
type Option func(*Client)

// WithObserver records call metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithRetryWait overrides the retry backoff bounds.
func WithRetryWait(min, max time.Duration) Option {
	return func(c *Client) {
		c.http.RetryWaitMin = min
		c.http.RetryWaitMax = max
	}
}

// New builds a client from configuration.
func New(cfg config.RemoteConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.Logger = leveledLogger{logger.Named("remote").Sugar()}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		http:    retryClient,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListBatches returns the remote batch listing as served.
func (c *Client) ListBatches(ctx context.Context) ([]models.BatchSummary, error) {
	var batches []models.BatchSummary
	if _, err := c.do(ctx, "list_batches", http.MethodGet, "/batches", nil, &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// FetchBatch returns one batch and its expected card ids.
func (c *Client) FetchBatch(ctx context.Context, batchNumber string) (*models.RemoteBatch, error) {
	var batch models.RemoteBatch
	path := "/batches/" + url.PathEscape(batchNumber)
	if _, err := c.do(ctx, "fetch_batch", http.MethodGet, path, nil, &batch); err != nil {
		return nil, err
	}
	if batch.BatchNumber == "" {
		batch.BatchNumber = batchNumber
	}
	if batch.TotalCards == 0 {
		batch.TotalCards = len(batch.CardIDs)
	}
	return &batch, nil
}

// VerifyCard reports a verification to the remote service.
func (c *Client) VerifyCard(ctx context.Context, req models.RemoteVerifyRequest) (*models.RemoteVerifyResponse, error) {
	var resp models.RemoteVerifyResponse
	if _, err := c.do(ctx, "verify_card", http.MethodPost, "/cards/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EnquireCard asks the remote service which batch holds a card.
func (c *Client) EnquireCard(ctx context.Context, cardID string) (*models.RemoteEnquiryResponse, error) {
	var resp models.RemoteEnquiryResponse
	body := map[string]string{"cardId": cardID}
	if _, err := c.do(ctx, "enquire_card", http.MethodPost, "/cards/enquire", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitSession posts a finished scanning session.
func (c *Client) SubmitSession(ctx context.Context, req models.SubmissionRequest) (*models.SubmissionResponse, error) {
	var result models.SubmissionResult
	env, err := c.do(ctx, "submit_session", http.MethodPost, "/sessions", req, &result)
	if err != nil {
		return nil, err
	}
	return &models.SubmissionResponse{
		Status:     env.status,
		StatusCode: env.statusCode,
		Message:    env.message,
		Data:       &result,
	}, nil
}

type envelope struct {
	status     string
	statusCode int
	message    string
}

func (c *Client) do(ctx context.Context, op, method, path string, payload, dest interface{}) (envelope, error) {
	start := time.Now()
	env, result, err := c.roundTrip(ctx, method, path, payload, dest)
	if c.observer != nil {
		c.observer.ObserveRemoteCall(op, result, time.Since(start))
	}
	if err != nil {
		c.logger.Warn("remote call failed",
			zap.String("operation", op),
			zap.String("result", result),
			zap.Error(err),
		)
	}
	return env, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload, dest interface{}) (envelope, string, error) {
	var env envelope
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return env, ResultInvalid, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode remote request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return env, ResultInvalid, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build remote request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return env, ResultTimeout, appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, "remote service timed out")
		}
		return env, ResultUnreachable, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "remote service unreachable")
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return env, ResultUnreachable, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "failed to read remote response")
	}

	parsed := gjson.ParseBytes(raw)
	validJSON := gjson.ValidBytes(raw) && parsed.IsObject()
	if validJSON {
		env.status = parsed.Get("status").String()
		env.statusCode = int(parsed.Get("statusCode").Int())
		env.message = parsed.Get("message").String()
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg := env.message
		if msg == "" {
			msg = fmt.Sprintf("remote service returned %d", res.StatusCode)
		}
		if res.StatusCode == http.StatusNotFound {
			return env, ResultRejected, appErrors.Clone(appErrors.ErrNotFound, msg)
		}
		return env, ResultRejected, appErrors.Clone(appErrors.ErrRemoteRejected, msg)
	}
	if !validJSON {
		return env, ResultInvalid, appErrors.Clone(appErrors.ErrMalformedResponse, "remote response is not a JSON object")
	}
	if env.status != "" && !strings.EqualFold(env.status, "success") {
		msg := env.message
		if msg == "" {
			msg = "remote service reported " + env.status
		}
		return env, ResultRejected, appErrors.Clone(appErrors.ErrRemoteRejected, msg)
	}
	if env.statusCode != 0 && (env.statusCode < 200 || env.statusCode > 299) {
		return env, ResultRejected, appErrors.Clone(appErrors.ErrRemoteRejected, env.message)
	}

	data := parsed.Get("data")
	if !data.Exists() || data.Type == gjson.Null || (data.IsObject() && len(data.Map()) == 0) {
		return env, ResultInvalid, appErrors.Clone(appErrors.ErrMalformedResponse, "remote response has no data")
	}
	if err := json.Unmarshal([]byte(data.Raw), dest); err != nil {
		return env, ResultInvalid, appErrors.Wrap(err, appErrors.ErrMalformedResponse.Code, appErrors.ErrMalformedResponse.Status, "remote response data does not match the expected shape")
	}
	return env, ResultOK, nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
