package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/card-audit-agent/api/swagger"
	"github.com/noah-isme/card-audit-agent/internal/handler"
	"github.com/noah-isme/card-audit-agent/internal/repository"
	"github.com/noah-isme/card-audit-agent/internal/scanner"
	"github.com/noah-isme/card-audit-agent/internal/server"
	"github.com/noah-isme/card-audit-agent/internal/service"
	"github.com/noah-isme/card-audit-agent/pkg/cache"
	"github.com/noah-isme/card-audit-agent/pkg/config"
	"github.com/noah-isme/card-audit-agent/pkg/database"
	"github.com/noah-isme/card-audit-agent/pkg/events"
	"github.com/noah-isme/card-audit-agent/pkg/logger"
	"github.com/noah-isme/card-audit-agent/pkg/remote"
	"github.com/noah-isme/card-audit-agent/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

// @title Card Audit Agent API
// @version 1.0.0
// @description On-device card verification and batch reconciliation agent
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Sugar().Fatalw("agent stopped", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	metrics := service.NewMetricsService()
	checks := map[string]handler.Pinger{"database": handler.PingFunc(db.PingContext)}

	var checkpointRepo service.CacheRepository
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, session checkpoints disabled", zap.Error(err))
		} else {
			defer client.Close()
			checkpointRepo = repository.NewCacheRepository(client, "card-audit:", logr)
			checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return pingRedis(ctx, client) })
		}
	}
	checkpoints := service.NewCacheService("session_checkpoint", checkpointRepo, metrics, cfg.Session.CheckpointTTL, logr, checkpointRepo != nil)

	remoteClient := remote.New(cfg.Remote, logr, remote.WithObserver(metrics))
	cards := repository.NewCardRepository(db)
	verifications := repository.NewVerificationRepository(db)
	operators := repository.NewOperatorRepository(db)

	batchCache := service.NewVerificationCache(remoteClient, service.DefaultStaticBatches(), cfg.Cache.BatchTTL, metrics, logr)
	engine := service.NewVerificationService(cards, verifications, batchCache, metrics, logr)

	var publisher events.Publisher
	if cfg.Events.NATSEnabled {
		natsPublisher, err := events.Connect(cfg.Events, "card-audit-agent", logr)
		if err != nil {
			logr.Warn("nats unavailable, bus delivery disabled", zap.Error(err))
		} else {
			defer natsPublisher.Close() //nolint:errcheck
			publisher = natsPublisher
		}
	}
	outbox := service.NewEventOutbox(publisher, remoteClient, service.OutboxConfig{
		Subject:    cfg.Events.Subject,
		SyncRemote: cfg.Remote.SyncVerifications,
		Workers:    cfg.Events.Workers,
		MaxRetries: cfg.Events.MaxRetries,
	}, metrics, logr)
	engine.SetPublisher(outbox)
	// Workers outlive the signal so Stop can drain queued events.
	outbox.Start(context.WithoutCancel(ctx))

	sessions := service.NewSessionService(remoteClient, checkpoints, service.SessionConfig{
		DeviceID:      cfg.Device.ID,
		Location:      cfg.Device.Location,
		CheckpointTTL: cfg.Session.CheckpointTTL,
	}, metrics, logr)
	scans := service.NewScanService(scanner.NewCoordinator(cfg.Reader.Timeout), engine, sessions, metrics, logr)
	enquiries := service.NewEnquiryService(engine, batchCache, remoteClient, cfg.Remote.EnquiryFallback, logr)
	reports := service.NewReportService(cards, verifications, nil, nil, logr)
	archive, err := storage.NewArchive(cfg.Reports.Dir)
	if err != nil {
		return err
	}
	reportLinks := service.NewReportArchiveService(reports, archive, storage.NewLinkSigner(cfg.Reports.LinkSecret, cfg.Reports.LinkTTL), cfg.Reports.Retention, logr)
	if _, err := reportLinks.Prune(); err != nil {
		logr.Warn("report archive prune failed", zap.Error(err))
	}

	validate := validator.New()
	auth := service.NewAuthService(operators, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		DefaultDeviceID:   cfg.Device.ID,
	})

	router := server.NewRouter(cfg, logr, auth, metrics, server.Handlers{
		Auth:     handler.NewAuthHandler(auth),
		Batches:  handler.NewBatchHandler(batchCache, engine, reports),
		Cards:    handler.NewCardHandler(engine, enquiries, validate),
		Scans:    handler.NewScanHandler(scans, validate),
		Sessions: handler.NewSessionHandler(sessions, validate),
		Reports:  handler.NewReportHandler(reportLinks),
		Metrics:  handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		outbox.Stop(context.Background())
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	logr.Sugar().Infow("agent starting", "addr", srv.Addr, "env", cfg.Env, "device_id", cfg.Device.ID)
	if err := serve(ctx, srv, ln, outbox.Stop, logr); err != nil {
		return err
	}
	logr.Info("agent stopped")
	return nil
}

// serve runs srv on ln until ctx is done. It returns only after in-flight requests have
// finished and drain has run, so callers may release the store afterwards.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, drain func(context.Context), logr *zap.Logger) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Warn("http shutdown", zap.Error(err))
		}
		drain(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

func pingRedis(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
