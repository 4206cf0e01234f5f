package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"atum-server/internal/config"
	"atum-server/internal/handlers"
	"atum-server/internal/log"
	"atum-server/internal/models"
	"atum-server/internal/services"
	"atum-server/internal/session"
	"atum-server/internal/store"
)

const (
	minArgsRequired   = 2
	filePermReadWrite = 0600
	defaultTokenTTL   = 24 * time.Hour
)

var (
	ErrOperationCancelled = errors.New("operation cancelled by user")
	ErrUserRequired       = errors.New("--user is required")
)

func main() {
	if len(os.Args) < minArgsRequired {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "wipe-firestore":
		handleWipeFirestore()
	case "dump-firestore":
		handleDumpFirestore()
	case "mint-token":
		handleMintToken()
	case "sync-commits":
		handleSyncCommits()
	case "insight":
		handleInsight()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Toolbox - Utility commands for atum-server")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  toolbox <command> [flags]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  wipe-firestore     Delete all documents from all Firestore collections")
	fmt.Println("  dump-firestore     Export all documents from all Firestore collections as JSON")
	fmt.Println("  mint-token         Issue a development identity token")
	fmt.Println("  sync-commits       Sync one user's configured repository now, or queue the sync")
	fmt.Println("  insight            Print one user's dashboard numbers as JSON")
	fmt.Println("  help               Show this help message")
	fmt.Println("")
	fmt.Println("Flags for wipe-firestore:")
	fmt.Println("  --force            Skip confirmation prompt (DANGEROUS!)")
	fmt.Println("")
	fmt.Println("Flags for dump-firestore:")
	fmt.Println("  --output FILE      Write output to file instead of stdout")
	fmt.Println("  --pretty           Pretty-print JSON output")
	fmt.Println("")
	fmt.Println("Flags for mint-token:")
	fmt.Println("  --user ID          Subject of the token (required)")
	fmt.Println("  --email EMAIL      Email claim")
	fmt.Println("  --ttl DURATION     Token lifetime (default 24h)")
	fmt.Println("")
	fmt.Println("Flags for sync-commits and insight:")
	fmt.Println("  --user ID          User to act for (required)")
	fmt.Println("  --enqueue          sync-commits only: queue a Cloud Tasks job instead of syncing inline")
	fmt.Println("")
}

// setup loads configuration and installs logging on stderr, so stdout stays clean for output.
func setup() (*config.Config, context.Context) {
	cfg := config.Load()
	log.Setup(os.Stderr, cfg.LogLevel, cfg.GinMode != "release")
	return cfg, context.Background()
}

func connectFirestore(ctx context.Context, cfg *config.Config) *firestore.Client {
	log.Info(ctx, "Connecting to Firestore", "project_id", cfg.FirestoreProjectID, "database_id", cfg.FirestoreDatabaseID)
	client, err := firestore.NewClientWithDatabase(ctx, cfg.FirestoreProjectID, cfg.FirestoreDatabaseID)
	if err != nil {
		log.Error(ctx, "Failed to create Firestore client", "error", err)
		os.Exit(1)
	}
	return client
}

func closeFirestore(client *firestore.Client) {
	if err := client.Close(); err != nil {
		log.Error(context.Background(), "Error closing Firestore client", "error", err)
	}
}

func handleWipeFirestore() {
	var force bool

	fs := flag.NewFlagSet("wipe-firestore", flag.ExitOnError)
	fs.BoolVar(&force, "force", false, "Skip confirmation prompt (DANGEROUS!)")
	_ = fs.Parse(os.Args[2:])

	cfg, ctx := setup()
	client := connectFirestore(ctx, cfg)
	defer closeFirestore(client)

	if !force {
		if err := confirmWipeOperation(cfg); err != nil {
			if errors.Is(err, ErrOperationCancelled) {
				log.Info(ctx, "Operation cancelled by user")
				return
			}
			log.Error(ctx, "Failed to get confirmation", "error", err)
			os.Exit(1)
		}
	}

	firestoreService := services.NewFirestoreService(client)
	for _, collection := range services.Collections {
		log.Info(ctx, "Wiping collection", "collection", collection)
		count, err := firestoreService.DeleteCollection(ctx, collection)
		if err != nil {
			log.Error(ctx, "Failed to wipe collection", "collection", collection, "error", err)
			os.Exit(1)
		}
		log.Info(ctx, "Collection wiped", "collection", collection, "documents_deleted", count)
	}

	log.Info(ctx, "Successfully wiped all Firestore data")
}

func confirmWipeOperation(cfg *config.Config) error {
	fmt.Printf("\n⚠️  WARNING: This will DELETE ALL DATA from Firestore!\n")
	fmt.Printf("   Project: %s\n", cfg.FirestoreProjectID)
	fmt.Printf("   Database: %s\n", cfg.FirestoreDatabaseID)
	fmt.Printf("\nThis operation cannot be undone!\n\n")

	fmt.Print("Are you absolutely sure you want to continue? (type 'DELETE' to confirm): ")

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read user input: %w", err)
	}

	if strings.TrimSpace(response) != "DELETE" {
		return ErrOperationCancelled
	}
	return nil
}

func handleDumpFirestore() {
	var outputFile string
	var prettyPrint bool

	fs := flag.NewFlagSet("dump-firestore", flag.ExitOnError)
	fs.StringVar(&outputFile, "output", "", "Write output to file instead of stdout")
	fs.BoolVar(&prettyPrint, "pretty", false, "Pretty-print JSON output")
	_ = fs.Parse(os.Args[2:])

	cfg, ctx := setup()
	client := connectFirestore(ctx, cfg)
	defer closeFirestore(client)

	firestoreService := services.NewFirestoreService(client)
	dump := make(map[string]interface{})
	for _, collection := range services.Collections {
		documents, err := firestoreService.DumpCollection(ctx, collection)
		if err != nil {
			log.Error(ctx, "Failed to dump collection", "collection", collection, "error", err)
			os.Exit(1)
		}
		dump[collection] = documents
		log.Info(ctx, "Collection dumped", "collection", collection, "documents", len(documents))
	}

	writeJSON(ctx, dump, outputFile, prettyPrint)
}

func writeJSON(ctx context.Context, value interface{}, outputFile string, pretty bool) {
	var jsonData []byte
	var err error
	if pretty {
		jsonData, err = json.MarshalIndent(value, "", "  ")
	} else {
		jsonData, err = json.Marshal(value)
	}
	if err != nil {
		log.Error(ctx, "Failed to marshal JSON", "error", err)
		os.Exit(1)
	}

	if outputFile == "" {
		fmt.Println(string(jsonData))
		return
	}
	if err := os.WriteFile(outputFile, jsonData, filePermReadWrite); err != nil {
		log.Error(ctx, "Failed to write output file", "file", outputFile, "error", err)
		os.Exit(1)
	}
	log.Info(ctx, "Wrote output file", "file", outputFile, "size_bytes", len(jsonData))
}

func handleMintToken() {
	var userID, email string
	var ttl time.Duration

	fs := flag.NewFlagSet("mint-token", flag.ExitOnError)
	fs.StringVar(&userID, "user", "", "Subject of the token")
	fs.StringVar(&email, "email", "", "Email claim")
	fs.DurationVar(&ttl, "ttl", defaultTokenTTL, "Token lifetime")
	_ = fs.Parse(os.Args[2:])

	cfg, ctx := setup()
	if userID == "" {
		log.Error(ctx, "Cannot mint token", "error", ErrUserRequired)
		os.Exit(1)
	}

	issuer, err := session.NewIssuer(cfg.SessionSigningSecret, cfg.SessionIssuer)
	if err != nil {
		log.Error(ctx, "Failed to create token issuer", "error", err)
		os.Exit(1)
	}
	token, err := issuer.Issue(session.Identity{UserID: userID, Email: email}, ttl)
	if err != nil {
		log.Error(ctx, "Failed to mint token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// userStore builds a store for one user on the production services.
func userStore(ctx context.Context, cfg *config.Config, client *firestore.Client, userID string) *store.Store {
	outbound := &http.Client{Timeout: cfg.OutboundTimeout}
	commitSync, err := services.NewCommitSyncService(cfg, outbound)
	if err != nil {
		log.Error(ctx, "Failed to create commit sync service", "error", err)
		os.Exit(1)
	}

	return store.New(userID, store.Deps{
		Repo:                 services.NewFirestoreService(client),
		Commits:              commitSync,
		Completion:           services.NewCompletionService(cfg.Completion, outbound, cfg.OutboundTimeout),
		OutboundTimeout:      cfg.OutboundTimeout,
		NotificationDuration: cfg.NotificationDuration,
	})
}

func handleSyncCommits() {
	var userID string
	var enqueue bool

	fs := flag.NewFlagSet("sync-commits", flag.ExitOnError)
	fs.StringVar(&userID, "user", "", "User whose repository to sync")
	fs.BoolVar(&enqueue, "enqueue", false, "Queue a Cloud Tasks job instead of syncing inline")
	_ = fs.Parse(os.Args[2:])

	cfg, ctx := setup()
	if userID == "" {
		log.Error(ctx, "Cannot sync commits", "error", ErrUserRequired)
		os.Exit(1)
	}
	ctx = log.WithUserID(ctx, userID)

	if enqueue {
		enqueueCommitSync(ctx, cfg, userID)
		return
	}

	client := connectFirestore(ctx, cfg)
	defer closeFirestore(client)

	commits, res := userStore(ctx, cfg, client, userID).SyncCommits(ctx, store.TriggerManual)
	if res.Err != nil {
		log.Error(ctx, "Commit sync failed", "error", res.Err)
		os.Exit(1)
	}
	for _, commit := range commits {
		fmt.Printf("%s  %s\n", commit.ID, commit.Title)
	}
	log.Info(ctx, "Commit sync finished", "commits", len(commits))
}

func enqueueCommitSync(ctx context.Context, cfg *config.Config, userID string) {
	if !cfg.CloudTasksEnabled() {
		log.Error(ctx, "Cloud Tasks is not configured; set GOOGLE_CLOUD_PROJECT and BASE_URL")
		os.Exit(1)
	}

	cloudTasksService, err := services.NewCloudTasksService(ctx, services.CloudTasksConfig{
		ProjectID:           cfg.GoogleCloudProject,
		Location:            cfg.GCPRegion,
		QueueName:           cfg.CloudTasksQueue,
		WorkerURL:           cfg.JobProcessorURL(),
		Secret:              cfg.CloudTasksSecret,
		ServiceAccountEmail: cfg.CloudTasksServiceAccountEmail,
	})
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = cloudTasksService.Close() }()

	traceID := uuid.New().String()
	payload := &models.CommitSyncJob{ID: uuid.New().String(), UserID: userID, TraceID: traceID}
	job, err := handlers.NewJob(models.JobTypeCommitSync, traceID, payload)
	if err != nil {
		log.Error(ctx, "Failed to build job", "error", err)
		os.Exit(1)
	}
	job.ID = payload.ID

	if err := cloudTasksService.EnqueueJob(ctx, job); err != nil {
		os.Exit(1)
	}
	fmt.Println(job.ID)
}

func handleInsight() {
	var userID string

	fs := flag.NewFlagSet("insight", flag.ExitOnError)
	fs.StringVar(&userID, "user", "", "User whose dashboard to compute")
	_ = fs.Parse(os.Args[2:])

	cfg, ctx := setup()
	if userID == "" {
		log.Error(ctx, "Cannot compute insight", "error", ErrUserRequired)
		os.Exit(1)
	}

	client := connectFirestore(ctx, cfg)
	defer closeFirestore(client)

	s := userStore(ctx, cfg, client, userID)
	if err := s.FetchAll(ctx); err != nil {
		log.Error(ctx, "Failed to load user state", "error", err)
		os.Exit(1)
	}
	writeJSON(ctx, s.Stats(time.Now().UTC()), "", true)
}
