package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ghzip/github-zip-server/pkg/storage"
	"github.com/ghzip/github-zip-server/pkg/task"
	"github.com/ghzip/github-zip-server/pkg/utils/logging"
	"github.com/ghzip/github-zip-server/pkg/web"
)

var cli struct {
	// Storage backends (optional: without one, archives are streamed directly)
	StorageDisk   string `env:"STORAGE_DISK" xor:"storage" help:"Use disk storage for archives e.g. /var/lib/ghzip"`
	StorageS3     string `env:"STORAGE_S3" xor:"storage" name:"storage-s3" help:"Use S3/R2 storage for archives e.g. s3://bucket/prefix"`
	StorageAzBlob string `env:"STORAGE_AZBLOB" xor:"storage" help:"Use Azure Blob storage, connection string with Container=..."`

	// GitHub / job tuning
	GithubToken    string        `env:"GITHUB_TOKEN" help:"Default token used when a request carries none"`
	CacheTTL       time.Duration `env:"CACHE_TTL" default:"300s" help:"TTL for the per-job listing/file cache"`
	FetchWorkers   int           `env:"FETCH_WORKERS" default:"0" help:"File fetch pool size, 0 derives from CPU count"`
	DirConcurrency int           `env:"DIR_CONCURRENCY" default:"8" help:"Concurrent directory listing calls per job"`
	QueueSize      int           `env:"QUEUE_SIZE" default:"256" help:"Bounded work queue between scanner and fetchers"`

	// Retention
	TaskRetention        time.Duration `env:"TASK_RETENTION" default:"24h" help:"How long finished background tasks are kept"`
	CleanupIntervalHours int           `env:"CLEANUP_INTERVAL_HOURS" default:"12" help:"Hours between storage cleanup passes"`
	ExpirationDays       int           `env:"STORAGE_EXPIRATION_DAYS" default:"7" help:"Days before stored archives expire"`

	// Misc
	LogLevel             string `env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`
	ListenAddress        string `env:"LISTEN_ADDR" default:"0.0.0.0:8000" help:"Listen address e.g. 0.0.0.0:8000"`
	MetricsListenAddress string `env:"METRICS_LISTEN_ADDR" default:"0.0.0.0:9102" help:"Listen address for prometheus metrics"`
	Debug                bool   `env:"DEBUG" help:"Enable debug mode"`
}

func main() {
	_ = godotenv.Load()
	kong.Parse(&cli)

	logging.SetupLogging(cli.LogLevel)

	var storageBackend storage.Backend
	var storageBackendName, storageConnectionString string
	if cli.StorageDisk != "" {
		storageBackendName = "disk"
		storageConnectionString = cli.StorageDisk
	}
	if cli.StorageS3 != "" {
		storageBackendName = "s3"
		storageConnectionString = cli.StorageS3
	}
	if cli.StorageAzBlob != "" {
		storageBackendName = "azureblob"
		storageConnectionString = cli.StorageAzBlob
	}

	if storageBackendName != "" {
		var err error
		storageBackend, err = storage.GetStorageBackend(storageBackendName, storageConnectionString)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initiate storage backend")
		}
		log.Info().Str("backend", storageBackendName).Msg("Storage backend ready")
	} else {
		log.Info().Msg("No storage backend configured, archives will be streamed directly")
	}

	supervisor := task.New(cli.TaskRetention)
	supervisor.StartReaper(task.DefaultReapInterval)
	defer supervisor.Stop()

	if storageBackend != nil {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create cleanup scheduler")
		}
		_, err = scheduler.NewJob(
			gocron.DurationJob(time.Duration(cli.CleanupIntervalHours)*time.Hour),
			gocron.NewTask(storage.Cleanup, storageBackend, time.Duration(cli.ExpirationDays)*24*time.Hour),
			gocron.WithName("storage-cleanup"),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule storage cleanup")
		}
		scheduler.Start()
		defer func() { _ = scheduler.Shutdown() }()
	}

	handlers := &web.Handlers{
		Storage: storageBackend,
		Tasks:   supervisor,
		Debug:   cli.Debug,
		Config: web.Config{
			DefaultToken:   cli.GithubToken,
			CacheTTL:       cli.CacheTTL,
			Workers:        cli.FetchWorkers,
			DirConcurrency: cli.DirConcurrency,
			QueueSize:      cli.QueueSize,
			StorageTTLDays: cli.ExpirationDays,
		},
	}

	router := web.GetRouter(cli.MetricsListenAddress, handlers, true)

	srv := &http.Server{
		Addr:    cli.ListenAddress,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Msgf("Listening on %s", cli.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed HTTP server loop")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}
}
