package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"

	"atum-server/internal/config"
	"atum-server/internal/handlers"
	"atum-server/internal/log"
	"atum-server/internal/middleware"
	"atum-server/internal/services"
	"atum-server/internal/session"
	"atum-server/internal/store"
)

const (
	storeSweepInterval = 5 * time.Minute
	storeIdleTimeout   = 30 * time.Minute
)

func main() {
	cfg := config.Load()

	log.Setup(os.Stdout, cfg.LogLevel, cfg.GinMode != gin.ReleaseMode)
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	slog.Info("Connecting to Firestore", "project_id", cfg.FirestoreProjectID, "database_id", cfg.FirestoreDatabaseID)
	firestoreClient, err := firestore.NewClientWithDatabase(ctx, cfg.FirestoreProjectID, cfg.FirestoreDatabaseID)
	if err != nil {
		slog.Error("Failed to create Firestore client", "component", "startup", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := firestoreClient.Close(); err != nil {
			slog.Error("Error closing Firestore client", "component", "shutdown", "error", err)
		}
	}()
	firestoreService := services.NewFirestoreService(firestoreClient)

	verifier, err := session.NewVerifier(cfg.SessionSigningSecret, cfg.SessionIssuer)
	if err != nil {
		slog.Error("Failed to create session verifier", "component", "startup", "error", err)
		os.Exit(1)
	}

	outbound := &http.Client{Timeout: cfg.OutboundTimeout}
	commitSync, err := services.NewCommitSyncService(cfg, outbound)
	if err != nil {
		slog.Error("Failed to create commit sync service", "component", "startup", "error", err)
		os.Exit(1)
	}

	deps := store.Deps{
		Repo:                 firestoreService,
		Commits:              commitSync,
		Completion:           services.NewCompletionService(cfg.Completion, outbound, cfg.OutboundTimeout),
		OutboundTimeout:      cfg.OutboundTimeout,
		NotificationDuration: cfg.NotificationDuration,
	}

	if cfg.SlackPublishingEnabled() {
		deps.Publisher = services.NewSlackPublisher(slack.New(cfg.SlackBotToken), cfg.SlackPublishChannel)
		slog.Info("Slack publishing enabled", "channel", cfg.SlackPublishChannel)
	}

	if cfg.RedisURL != "" {
		redisClient, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("Failed to connect to Redis", "component", "startup", "error", err)
			os.Exit(1)
		}
		defer func() { _ = redisClient.Close() }()
		deps.Cache = services.NewSnapshotCache(redisClient, cfg.SnapshotCacheTTL)
		slog.Info("Snapshot cache enabled", "ttl", cfg.SnapshotCacheTTL)
	}

	registry := store.NewRegistry(deps)
	jobProcessor := handlers.NewJobProcessor(registry, firestoreService, handlers.JobProcessorConfig{
		Timeout:     cfg.JobProcessingTimeout,
		MaxAttempts: cfg.CloudTasksMaxAttempts,
	})

	var jobs handlers.JobQueue = jobProcessor
	jobAuth := middleware.JobOIDCAuth(cfg.JobProcessorURL(), cfg.CloudTasksServiceAccountEmail, nil)
	if cfg.CloudTasksServiceAccountEmail == "" && cfg.CloudTasksSecret != "" {
		jobAuth = middleware.JobSecretAuth(cfg.CloudTasksSecret)
	}

	if cfg.CloudTasksEnabled() {
		cloudTasksService, err := services.NewCloudTasksService(ctx, services.CloudTasksConfig{
			ProjectID:           cfg.GoogleCloudProject,
			Location:            cfg.GCPRegion,
			QueueName:           cfg.CloudTasksQueue,
			WorkerURL:           cfg.JobProcessorURL(),
			Secret:              cfg.CloudTasksSecret,
			ServiceAccountEmail: cfg.CloudTasksServiceAccountEmail,
		})
		if err != nil {
			slog.Error("Failed to create Cloud Tasks service", "component", "startup", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cloudTasksService.Close(); err != nil {
				slog.Error("Error closing Cloud Tasks client", "component", "shutdown", "error", err)
			}
		}()
		jobs = cloudTasksService
	} else {
		slog.Info("Cloud Tasks disabled, jobs run inline")
	}

	var githubHandler *handlers.GitHubHandler
	if cfg.WebhooksEnabled() {
		githubHandler = handlers.NewGitHubHandler(jobs, services.NewValidationService(), cfg.GitHub.WebhookSecret)
	} else {
		slog.Info("GITHUB_WEBHOOK_SECRET not set, push webhooks disabled")
	}

	router := handlers.Router{
		App:      handlers.NewAppHandler(registry, jobs, nil),
		Session:  handlers.NewSessionHandler(firestoreService),
		GitHub:   githubHandler,
		Jobs:     jobProcessor,
		Verifier: verifier,
		Profiles: firestoreService,
		JobAuth:  jobAuth,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepStores(sweepCtx, registry)

	slog.Info("Starting server", "component", "server", "port", cfg.Port)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "component", "server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...", "component", "server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "component", "server", "error", err)
		return
	}

	slog.Info("Server exited gracefully", "component", "server")
}

// sweepStores drops the state of users who have gone quiet.
func sweepStores(ctx context.Context, registry *store.Registry) {
	ticker := time.NewTicker(storeSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := registry.Sweep(storeIdleTimeout); dropped > 0 {
				slog.Debug("Swept idle stores", "dropped", dropped, "live", registry.Len())
			}
		}
	}
}
