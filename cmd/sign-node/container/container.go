package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lyzr/signer/cmd/sign-node/consumer"
	"github.com/lyzr/signer/cmd/sign-node/fetch"
	"github.com/lyzr/signer/cmd/sign-node/handlers"
	"github.com/lyzr/signer/cmd/sign-node/notary"
	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/cmd/sign-node/reporter"
	"github.com/lyzr/signer/cmd/sign-node/repository"
	"github.com/lyzr/signer/cmd/sign-node/signer"
	"github.com/lyzr/signer/cmd/sign-node/storage"
	"github.com/lyzr/signer/common/bootstrap"
	"github.com/lyzr/signer/common/clients"
	"github.com/lyzr/signer/common/keyring"
	"github.com/lyzr/signer/common/ratelimit"
)

// Container holds the sign node's initialized services (singleton pattern)
type Container struct {
	Components *bootstrap.Components
	KeyRing    *keyring.KeyRing

	// Repositories
	History *repository.HistoryRepository

	// Services
	Orchestrator *pipeline.Orchestrator
	Consumer     *consumer.TaskConsumer
	RateLimiter  *ratelimit.RateLimiter

	// Handlers
	TaskHandler   *handlers.TaskHandler
	SystemHandler *handlers.SystemHandler
}

// NewContainer initializes all services once. Components must carry both
// a database and a Redis client.
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	if components.DB == nil || components.Redis == nil {
		return nil, fmt.Errorf("sign node requires database and redis")
	}

	keys, err := keyring.Load(cfg.Signer.KeyRingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load key ring: %w", err)
	}
	log.Info("key ring loaded", "path", cfg.Signer.KeyRingPath, "keys", keys.Len())

	sign, err := signer.New(cfg, keys, log)
	if err != nil {
		return nil, err
	}

	httpClient := clients.NewHTTPClient(&http.Client{Timeout: cfg.Download.Timeout}, log, clients.Credentials{
		Username: cfg.Download.Username,
		Password: cfg.Download.Password,
		Token:    cfg.Download.Token,
	})
	downloader := fetch.NewHTTPDownloader(httpClient, log).
		WithPolicy(fetch.NewURLPolicy(cfg.Download.AllowedHosts))

	s3Client, err := storage.NewS3Client(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	uploader := storage.NewS3Uploader(s3Client, cfg.Storage.Bucket, cfg.Storage.Prefix, log)

	history := repository.NewHistoryRepository(components.DB)
	sinks := reporter.Multi{
		reporter.NewRedisReporter(components.Redis, cfg.Redis.ResultsList, log),
		reporter.NewHistoryReporter(history),
	}

	opts := &pipeline.OrchestratorOpts{
		KeyRing:    keys,
		Downloader: downloader,
		Signer:     sign,
		Storage:    uploader,
		Reporter:   sinks,
		Settings:   pipeline.SettingsFromConfig(cfg),
		Logger:     log,
	}
	if cfg.Notary.Enabled {
		opts.Notary = newLedger(components, log)
	}
	if components.Telemetry != nil {
		opts.Recorder = components.Telemetry
	}
	orchestrator := pipeline.NewOrchestrator(opts)

	taskConsumer := consumer.NewTaskConsumer(consumer.TaskConsumerOpts{
		Client:  components.Redis,
		Runner:  orchestrator,
		Logger:  log,
		Stream:  cfg.Redis.TaskStream,
		Group:   cfg.Redis.ConsumerGroup,
		Workers: cfg.Redis.ConsumerWorkers,
	})

	return &Container{
		Components:    components,
		KeyRing:       keys,
		History:       history,
		Orchestrator:  orchestrator,
		Consumer:      taskConsumer,
		RateLimiter:   ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log),
		TaskHandler:   handlers.NewTaskHandler(components.Redis, history, cfg.Redis.TaskStream, log),
		SystemHandler: handlers.NewSystemHandler(cfg.Service.Name, components.Health),
	}, nil
}

func newLedger(components *bootstrap.Components, log notary.Logger) *notary.Ledger {
	var store notary.Store
	switch components.Config.Notary.Backend {
	case "redis":
		store = notary.NewRedisStore(components.Redis)
	default:
		store = notary.NewPostgresStore(components.DB)
	}
	log.Info("notarization enabled", "backend", components.Config.Notary.Backend)
	return notary.NewLedger(store, log)
}

// Schema is every table the sign node owns
func Schema() []string {
	statements := append([]string{}, repository.Schema...)
	return append(statements, notary.Schema...)
}
