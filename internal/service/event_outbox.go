package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
	"github.com/noah-isme/card-audit-agent/pkg/events"
	"github.com/noah-isme/card-audit-agent/pkg/jobs"
)

const (
	jobPublishVerification = "verification.publish"
	jobRemoteVerification  = "verification.remote"

	sinkNATS   = "nats"
	sinkRemote = "remote"
)

type remoteVerifier interface {
	VerifyCard(ctx context.Context, req models.RemoteVerifyRequest) (*models.RemoteVerifyResponse, error)
}

// OutboxConfig tunes event delivery.
type OutboxConfig struct {
	Subject    string
	SyncRemote bool
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// EventOutbox delivers verification events asynchronously so scans never wait on
// the message bus or the remote service.
type EventOutbox struct {
	queue     *jobs.Queue
	publisher events.Publisher
	remote    remoteVerifier
	cfg       OutboxConfig
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewEventOutbox builds the outbox. A nil publisher disables bus delivery; remote delivery
// additionally requires cfg.SyncRemote.
func NewEventOutbox(publisher events.Publisher, remote remoteVerifier, cfg OutboxConfig, metrics *MetricsService, logger *zap.Logger) *EventOutbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Subject == "" {
		cfg.Subject = "cards.verified"
	}
	o := &EventOutbox{publisher: publisher, remote: remote, cfg: cfg, metrics: metrics, logger: logger}
	o.queue = jobs.NewQueue("verification-events", o.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		DeadLetter: o.deadLetter,
	})
	return o
}

// Start launches the delivery workers.
func (o *EventOutbox) Start(ctx context.Context) {
	o.queue.Start(ctx)
}

// Stop drains pending events until ctx expires.
func (o *EventOutbox) Stop(ctx context.Context) {
	o.queue.Stop(ctx)
}

// Stats reports delivery counters.
func (o *EventOutbox) Stats() jobs.Stats {
	return o.queue.Stats()
}

// PublishVerification enqueues event for every enabled sink.
func (o *EventOutbox) PublishVerification(_ context.Context, event models.VerificationEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	var errs []error
	if o.publisher != nil {
		if err := o.queue.Enqueue(jobs.Job{Type: jobPublishVerification, Payload: event}); err != nil {
			errs = append(errs, err)
		}
	}
	if o.cfg.SyncRemote && o.remote != nil {
		if err := o.queue.Enqueue(jobs.Job{Type: jobRemoteVerification, Payload: event}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *EventOutbox) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.VerificationEvent)
	if !ok {
		o.logger.Error("unexpected outbox payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}

	switch job.Type {
	case jobPublishVerification:
		err := o.publisher.Publish(ctx, o.cfg.Subject, event)
		o.metrics.RecordEvent(sinkNATS, err)
		return err
	case jobRemoteVerification:
		err := o.syncRemote(ctx, event)
		o.metrics.RecordEvent(sinkRemote, err)
		if errors.Is(err, appErrors.ErrRemoteRejected) {
			o.logger.Warn("remote rejected verification", zap.String("card_id", event.CardID), zap.Error(err))
			return nil
		}
		return err
	default:
		o.logger.Error("unknown outbox job type", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
}

func (o *EventOutbox) syncRemote(ctx context.Context, event models.VerificationEvent) error {
	req := models.RemoteVerifyRequest{CardID: event.CardID, HolderName: event.HolderName}
	if number, ok := models.BatchNumberFromLabel(event.BatchName); ok {
		req.BatchNumber = number
	}
	resp, err := o.remote.VerifyCard(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return appErrors.Clone(appErrors.ErrRemoteRejected, fmt.Sprintf("remote verification refused: %s", resp.Message))
	}
	return nil
}

func (o *EventOutbox) deadLetter(job jobs.Job, err error) {
	o.logger.Error("verification event dropped",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
}
