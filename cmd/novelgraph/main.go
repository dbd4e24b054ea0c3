// Package main wires together the novelgraph service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/narrately/novelgraph/internal/api"
	"github.com/narrately/novelgraph/internal/chunklog"
	chunklogMemory "github.com/narrately/novelgraph/internal/chunklog/memory"
	chunklogPostgres "github.com/narrately/novelgraph/internal/chunklog/postgres"
	"github.com/narrately/novelgraph/internal/clock/system"
	"github.com/narrately/novelgraph/internal/config"
	"github.com/narrately/novelgraph/internal/dispatcher"
	"github.com/narrately/novelgraph/internal/extract"
	"github.com/narrately/novelgraph/internal/hash/sha256"
	"github.com/narrately/novelgraph/internal/id/uuid"
	"github.com/narrately/novelgraph/internal/logging"
	"github.com/narrately/novelgraph/internal/metrics"
	"github.com/narrately/novelgraph/internal/novel"
	publisherPubsub "github.com/narrately/novelgraph/internal/publisher/pubsub"
	queueMemory "github.com/narrately/novelgraph/internal/queue/memory"
	queuePubsub "github.com/narrately/novelgraph/internal/queue/pubsub"
	storageGCS "github.com/narrately/novelgraph/internal/storage/gcs"
	storageLocal "github.com/narrately/novelgraph/internal/storage/local"
	storageMemory "github.com/narrately/novelgraph/internal/storage/memory"
	storagePostgres "github.com/narrately/novelgraph/internal/storage/postgres"
	"github.com/narrately/novelgraph/internal/stream"
	"github.com/narrately/novelgraph/internal/telemetry"
	"github.com/narrately/novelgraph/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, "novelgraph")
	if err != nil {
		logger.Error("tracer init failed", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	var (
		chunkLog chunklog.Log
		jobStore novel.JobStore
	)
	if cfg.DB.DSN != "" {
		pgLog, err := chunklogPostgres.NewLog(ctx, chunklogPostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxOpenConns,
			MinConns: cfg.DB.MinOpenConns,
		})
		if err != nil {
			return fmt.Errorf("chunk log init: %w", err)
		}
		defer pgLog.Close()
		chunkLog = pgLog

		pgJobs, err := storagePostgres.NewJobStore(ctx, storagePostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxOpenConns,
			MinConns: cfg.DB.MinOpenConns,
		})
		if err != nil {
			return fmt.Errorf("job store init: %w", err)
		}
		defer pgJobs.Close()
		jobStore = pgJobs
	} else {
		chunkLog = chunklogMemory.NewLog()
		jobStore = storageMemory.NewJobStore()
	}

	blobStore, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("blob store init: %w", err)
	}

	queue, err := newQueue(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("queue init: %w", err)
	}

	var publisher novel.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.CompletionTopic != "" {
		pub, err := publisherPubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.CompletionTopic)
		if err != nil {
			return fmt.Errorf("completion publisher init: %w", err)
		}
		defer pub.Close()
		publisher = pub
	}

	bus := stream.NewBus(cfg.Server.StreamBuffer, logger.Named("bus"))
	registry := stream.NewRegistry()
	producer := stream.NewProducer(chunkLog, bus)

	workerCfg := worker.Config{Topic: cfg.PubSub.CompletionTopic}
	var workers []*worker.Worker
	for i := 0; i < cfg.Extract.Workers; i++ {
		runner := extract.NewRunner(producer, clock, cfg.Heartbeat(),
			logger.Named("extract").With(zap.Int("index", i)))
		workers = append(workers, worker.New(
			queue,
			jobStore,
			blobStore,
			publisher,
			runner,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers, logger.Named("dispatcher"))

	apiServer := api.NewServer(
		jobStore,
		blobStore,
		dispatch,
		chunkLog,
		bus,
		registry,
		hasher,
		idGen,
		clock,
		cfg,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Close stream connections first: SSE handlers never return on their
	// own, so srv.Shutdown would otherwise block until the timeout.
	registry.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	closeQueue(queue, logger)
	logger.Info("shutdown complete")
	return nil
}

func newBlobStore(ctx context.Context, cfg config.Config) (novel.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "memory", "":
		return storageMemory.NewBlobStore(), nil
	case "local":
		return storageLocal.New(storageLocal.Config{BaseDir: cfg.Storage.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return storageGCS.New(client, storageGCS.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func newQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (novel.Queue, error) {
	switch cfg.Queue.Provider {
	case "memory", "":
		return queueMemory.NewQueue(cfg.Queue.Depth), nil
	case "pubsub":
		return queuePubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.QueueTopic, cfg.PubSub.QueueSub, logger.Named("queue"))
	default:
		return nil, fmt.Errorf("unknown queue provider %q", cfg.Queue.Provider)
	}
}

func closeQueue(queue novel.Queue, logger *zap.Logger) {
	switch q := queue.(type) {
	case *queueMemory.Queue:
		q.Close()
	case *queuePubsub.Queue:
		if err := q.Close(); err != nil {
			logger.Error("queue close error", zap.Error(err))
		}
	}
}
