// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	gcstorage "cloud.google.com/go/storage"
	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/virtual-tryon/internal/api"
	"github.com/JakeFAU/virtual-tryon/internal/clock/system"
	"github.com/JakeFAU/virtual-tryon/internal/compose"
	"github.com/JakeFAU/virtual-tryon/internal/config"
	"github.com/JakeFAU/virtual-tryon/internal/extract"
	collyfetcher "github.com/JakeFAU/virtual-tryon/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/virtual-tryon/internal/fetcher/headless"
	"github.com/JakeFAU/virtual-tryon/internal/hash/sha256"
	"github.com/JakeFAU/virtual-tryon/internal/headless/detector"
	"github.com/JakeFAU/virtual-tryon/internal/id/uuid"
	memorypublisher "github.com/JakeFAU/virtual-tryon/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/virtual-tryon/internal/publisher/pubsub"
	"github.com/JakeFAU/virtual-tryon/internal/service"
	"github.com/JakeFAU/virtual-tryon/internal/storage/gcs"
	"github.com/JakeFAU/virtual-tryon/internal/storage/local"
	"github.com/JakeFAU/virtual-tryon/internal/storage/memory"
	"github.com/JakeFAU/virtual-tryon/internal/storage/minio"
	"github.com/JakeFAU/virtual-tryon/internal/storage/postgres"
	redisstore "github.com/JakeFAU/virtual-tryon/internal/storage/redis"
	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// App holds the shared, long-lived services for the process.
// It is built once at startup from config and torn down with Close.
type App struct {
	logger  *zap.Logger
	service *service.Service
	checks  []api.ReadinessCheck
	closers []func()
}

// Service returns the try-on service wired from config.
func (a *App) Service() *service.Service {
	return a.service
}

// Checks returns readiness pings for the configured network backends.
func (a *App) Checks() []api.ReadinessCheck {
	return a.checks
}

// New builds every backend named in cfg and the service on top of them.
// It fails fast when a configured backend cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger.Named("app")}
	a.logger.Info("initializing application services")

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		PageTimeout:  time.Duration(cfg.HTTP.PageTimeoutSeconds) * time.Second,
		ImageTimeout: time.Duration(cfg.HTTP.ImageTimeoutSeconds) * time.Second,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, logger.Named("fetcher"))

	extractor, err := extract.New(extract.Options{
		MaxCandidates:    cfg.Extraction.MaxCandidates,
		PerSelector:      cfg.Extraction.PerSelector,
		StructuralTarget: cfg.Extraction.StructuralTarget,
		BroadLimit:       cfg.Extraction.BroadLimit,
		LastResortWindow: cfg.Extraction.LastResortWindow,
		LastResortLimit:  cfg.Extraction.LastResortLimit,
		ExtraSelectors:   cfg.Extraction.ExtraSelectors,
	}, logger.Named("extract"))
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}

	deps := service.Deps{
		Fetcher:   fetcher,
		Extractor: extractor,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
	}

	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
		}, logger.Named("headless"))
		if err != nil {
			a.logger.Warn("headless renderer init failed, continuing without it", zap.Error(err))
		} else {
			deps.Renderer = renderer
			deps.Detector = detector.NewHeuristic(cfg.Headless.BodyLengthThreshold)
			a.closers = append(a.closers, renderer.Close)
		}
	}

	if deps.Composer, err = a.buildComposer(cfg.Compose, logger); err != nil {
		return nil, err
	}
	if deps.Records, err = a.buildRecordStore(ctx, cfg); err != nil {
		return nil, err
	}
	if deps.Blobs, err = a.buildBlobStore(ctx, cfg); err != nil {
		return nil, err
	}
	if deps.Publisher, err = a.buildPublisher(ctx, cfg.PubSub); err != nil {
		return nil, err
	}

	prompt := cfg.Compose.Prompt
	if prompt == "" {
		prompt = compose.DefaultPrompt
	}
	topic := ""
	if deps.Publisher != nil {
		topic = cfg.PubSub.TopicName
	}
	svc, err := service.New(service.Config{
		Prompt:        prompt,
		ArchivePrefix: cfg.Storage.Prefix,
		Topic:         topic,
		SessionLimit:  cfg.Store.SessionLimit,
	}, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("build service: %w", err)
	}
	a.service = svc

	a.logger.Info("application services initialized",
		zap.String("compose", cfg.Compose.Provider),
		zap.String("store", cfg.Store.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("pubsub", cfg.PubSub.Backend),
		zap.Bool("headless", deps.Renderer != nil),
	)
	ok = true
	return a, nil
}

func (a *App) buildComposer(cfg config.ComposeConfig, logger *zap.Logger) (tryon.Composer, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		a.logger.Info("using Gemini composer", zap.String("model", cfg.Model))
		composer, err := compose.NewGemini(compose.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		}, nil, logger.Named("compose"))
		if err != nil {
			return nil, fmt.Errorf("init gemini composer: %w", err)
		}
		return composer, nil
	case config.ProviderNoop, "":
		a.logger.Info("using no-op composer; results echo the person image")
		return compose.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown compose provider: %s", cfg.Provider)
	}
}

func (a *App) buildRecordStore(ctx context.Context, cfg config.Config) (tryon.RecordStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory, "":
		a.logger.Info("using in-memory record store; sessions are lost on restart")
		return memory.NewRecordStore(), nil
	case config.BackendPostgres:
		a.logger.Info("connecting to PostgreSQL record store", zap.String("table", cfg.DB.Table))
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
			AutoMigrate:     cfg.DB.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres record store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.checks = append(a.checks, api.ReadinessCheck{Name: "postgres", Ping: store.Ping})
		return store, nil
	case config.BackendRedis:
		a.logger.Info("connecting to Redis record store", zap.String("addr", cfg.Redis.Addr))
		redisCfg := redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Redis.TTLHours) * time.Hour,
		}
		store, err := redisstore.NewRecordStore(redisstore.NewClient(redisCfg), redisCfg)
		if err != nil {
			return nil, fmt.Errorf("init redis record store: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("error closing redis client", zap.Error(err))
			}
		})
		a.checks = append(a.checks, api.ReadinessCheck{Name: "redis", Ping: store.Ping})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown record store backend: %s", cfg.Store.Backend)
	}
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.Config) (tryon.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendNone, "":
		a.logger.Info("image archiving disabled")
		return nil, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		a.logger.Info("archiving images to local disk", zap.String("dir", cfg.Storage.LocalDir))
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		a.logger.Info("archiving images to GCS", zap.String("bucket", cfg.Storage.GCSBucket))
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("error closing gcs client", zap.Error(err))
			}
		})
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		a.checks = append(a.checks, api.ReadinessCheck{Name: "gcs", Ping: store.Ping})
		return store, nil
	case config.BackendMinIO:
		a.logger.Info("archiving images to MinIO",
			zap.String("endpoint", cfg.MinIO.Endpoint),
			zap.String("bucket", cfg.MinIO.Bucket),
		)
		client, err := minio.NewClient(minio.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			Region:    cfg.MinIO.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("create minio client: %w", err)
		}
		store, err := minio.New(client, cfg.MinIO.Bucket)
		if err != nil {
			return nil, fmt.Errorf("init minio blob store: %w", err)
		}
		a.checks = append(a.checks, api.ReadinessCheck{Name: "minio", Ping: store.Ping})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.PubSubConfig) (tryon.Publisher, error) {
	switch cfg.Backend {
	case config.BackendNone, "":
		a.logger.Info("completion events disabled")
		return nil, nil
	case config.BackendMemory:
		return memorypublisher.New(), nil
	case config.BackendPubSub:
		a.logger.Info("connecting to GCP Pub/Sub", zap.String("topic", cfg.TopicName))
		client, err := gpubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, func() {
			pub.Close()
			if err := client.Close(); err != nil {
				a.logger.Warn("error closing pubsub client", zap.Error(err))
			}
		})
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown pubsub backend: %s", cfg.Backend)
	}
}

// Close releases backend clients in reverse order of creation.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
