// b3lb is a multi-tenant reverse proxy and dispatcher in front of a pool of
// conferencing backend nodes: it signs and routes the backend protocol,
// tracks live meetings, renders and retains recordings, and exposes
// per-tenant stats and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/de-ibh/b3lb/pkg/aggregation"
	"github.com/de-ibh/b3lb/pkg/api"
	"github.com/de-ibh/b3lb/pkg/config"
	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/poller"
	"github.com/de-ibh/b3lb/pkg/queue"
	"github.com/de-ibh/b3lb/pkg/recording"
	"github.com/de-ibh/b3lb/pkg/storage"
	"github.com/de-ibh/b3lb/pkg/tenantresolve"
	"github.com/de-ibh/b3lb/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	cfg, err := config.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load application config: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if cfg.LogFormat != "json" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	slog.SetDefault(logger)

	log.Printf("Starting %s", version.Full())
	log.Printf("HTTP Port: %s", cfg.HTTPPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("connected to PostgreSQL database, schema up to date")

	repo := database.NewRepository(dbClient)

	store, err := storage.New(cfg.RecordStorage, storage.LocalConfig{RootDir: getEnv("RECORD_LOCAL_DIR", "./data/records")}, storage.S3Config{
		AccessKey:   cfg.S3AccessKey,
		SecretKey:   cfg.S3SecretKey,
		EndpointURL: cfg.S3EndpointURL,
		BucketName:  cfg.S3BucketName,
		URLProtocol: cfg.S3URLProtocol,
	})
	if err != nil {
		log.Fatalf("Failed to initialize blob storage: %v", err)
	}

	resolver := tenantresolve.New(repo, cfg.APIBaseDomain)
	aggregator := aggregation.New(repo)

	var renderer recording.Renderer
	if cfg.Rendering {
		renderer = &recording.ComposeRenderer{ComposeFile: getEnv("RENDER_COMPOSE_FILE", "./deploy/render/docker-compose.yml")}
	} else {
		renderer = recording.NoopRenderer{}
	}
	recordingScratch := getEnv("RECORD_SCRATCH_DIR", "./data/scratch")
	recordings := recording.New(repo, store, renderer, recording.Config{
		ScratchDir:     recordingScratch,
		MetaDataTag:    cfg.RecordMetaDataTag,
		RequestTimeout: cfg.NodeRequestTimeout,
	})

	nodePoller := poller.New(repo, poller.Config{
		Protocol:       cfg.NodeProtocol,
		LoadEndpoint:   cfg.NodeLoadEndpoint,
		BBBEndpoint:    cfg.NodeBBBEndpoint,
		RequestTimeout: cfg.NodeRequestTimeout,
	})

	jobs := []queue.Job{
		{Name: "poll-nodes", Interval: cfg.PollInterval, Source: nodePoller.Source},
		{Name: "rebuild-aggregates", Interval: cfg.PollInterval, Source: aggregator.Source},
		{Name: "sweep-retention", Interval: cfg.RetentionInterval, Source: recordings.RetentionSource},
		{Name: "sweep-orphan-blobs", Interval: cfg.OrphanSweepInterval, Source: recordings.OrphanBlobSweepSource},
	}
	if cfg.Rendering {
		jobs = append(jobs, queue.Job{Name: "render-recordings", Interval: cfg.RenderPollInterval, Source: recordings.RenderSource})
	}
	scheduler := queue.NewScheduler(logger, jobs...)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := api.New(cfg, repo, resolver, aggregator, recordings, store)
	router := server.Router()

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during HTTP shutdown: %v", err)
	}
}
