package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const minSigningSecretLength = 16

// CompletionConfig holds settings for the text-generation API.
type CompletionConfig struct {
	APIKey      string
	URL         string
	Model       string
	Temperature float64
}

// GitHubConfig holds settings for commit sync and push webhooks.
type GitHubConfig struct {
	APIURL         string
	WebhookSecret  string
	AppID          int64
	InstallationID int64
	PrivateKey     string
}

// AppAuthEnabled reports whether GitHub App credentials are configured.
func (g GitHubConfig) AppAuthEnabled() bool {
	return g.AppID > 0 && g.InstallationID > 0 && g.PrivateKey != ""
}

// Config holds all application configuration.
type Config struct {
	// Core settings
	FirestoreProjectID   string
	FirestoreDatabaseID  string
	SessionSigningSecret string
	SessionIssuer        string

	// Integrations
	Completion          CompletionConfig
	GitHub              GitHubConfig
	RedisURL            string
	SnapshotCacheTTL    time.Duration
	SlackBotToken       string
	SlackPublishChannel string

	// Cloud Tasks settings
	GoogleCloudProject            string
	GCPRegion                     string
	CloudTasksQueue               string
	BaseURL                       string
	CloudTasksSecret              string
	CloudTasksServiceAccountEmail string
	CloudTasksMaxAttempts         int32

	// Server settings
	Port                  string
	GinMode               string
	LogLevel              string
	ServerReadTimeout     time.Duration
	ServerWriteTimeout    time.Duration
	ServerShutdownTimeout time.Duration

	// Processing settings
	OutboundTimeout      time.Duration
	JobProcessingTimeout time.Duration
	NotificationDuration time.Duration
}

// Load reads configuration from environment variables, after loading a .env file if one exists.
// Panics if any required configuration is missing or invalid.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		// Core settings (required)
		FirestoreProjectID:   getEnvRequired("FIRESTORE_PROJECT_ID"),
		FirestoreDatabaseID:  getEnvDefault("FIRESTORE_DATABASE_ID", "(default)"),
		SessionSigningSecret: getEnvRequired("SESSION_SIGNING_SECRET"),
		SessionIssuer:        getEnvDefault("SESSION_ISSUER", "atum"),

		Completion: CompletionConfig{
			APIKey: os.Getenv("COMPLETION_API_KEY"),
			URL:    getEnvDefault("COMPLETION_API_URL", "https://api.openai.com/v1/chat/completions"),
			Model:  getEnvDefault("COMPLETION_MODEL", "gpt-4o-mini"),
		},
		GitHub: GitHubConfig{
			APIURL:        os.Getenv("GITHUB_API_URL"),
			WebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
			PrivateKey:    os.Getenv("GITHUB_PRIVATE_KEY"),
		},
		RedisURL:            os.Getenv("REDIS_URL"),
		SlackBotToken:       os.Getenv("SLACK_BOT_TOKEN"),
		SlackPublishChannel: os.Getenv("SLACK_PUBLISH_CHANNEL"),

		// Cloud Tasks settings (optional, jobs run inline when unset)
		GoogleCloudProject:            os.Getenv("GOOGLE_CLOUD_PROJECT"),
		GCPRegion:                     getEnvDefault("GCP_REGION", "europe-west1"),
		CloudTasksQueue:               getEnvDefault("CLOUD_TASKS_QUEUE", "commit-sync"),
		BaseURL:                       os.Getenv("BASE_URL"),
		CloudTasksSecret:              os.Getenv("CLOUD_TASKS_SECRET"),
		CloudTasksServiceAccountEmail: os.Getenv("CLOUD_TASKS_SERVICE_ACCOUNT_EMAIL"),

		// Server settings
		Port:     getEnvDefault("PORT", "8080"),
		GinMode:  getEnvDefault("GIN_MODE", "debug"),
		LogLevel: getEnvDefault("LOG_LEVEL", "info"),
	}

	cfg.Completion.Temperature = getEnvFloat("COMPLETION_TEMPERATURE", 0.7)
	cfg.GitHub.AppID = getEnvInt("GITHUB_APP_ID", 0)
	cfg.GitHub.InstallationID = getEnvInt("GITHUB_INSTALLATION_ID", 0)
	cfg.CloudTasksMaxAttempts = int32(getEnvInt("CLOUD_TASKS_MAX_ATTEMPTS", 10))

	// Parse duration values
	cfg.ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second)
	cfg.ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	cfg.ServerShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.OutboundTimeout = getEnvDuration("OUTBOUND_TIMEOUT", 15*time.Second)
	cfg.JobProcessingTimeout = getEnvDuration("JOB_PROCESSING_TIMEOUT", 2*time.Minute)
	cfg.SnapshotCacheTTL = getEnvDuration("SNAPSHOT_CACHE_TTL", 5*time.Minute)
	cfg.NotificationDuration = getEnvDuration("NOTIFICATION_DURATION", 5*time.Second)

	// Validate configuration
	cfg.validate()

	return cfg
}

// CloudTasksEnabled reports whether jobs should be queued instead of run inline.
func (c *Config) CloudTasksEnabled() bool {
	return c.GoogleCloudProject != "" && c.BaseURL != ""
}

// JobProcessorURL returns the URL Cloud Tasks should call to process jobs.
func (c *Config) JobProcessorURL() string {
	return c.BaseURL + "/jobs/process"
}

// WebhooksEnabled reports whether GitHub push webhooks are accepted. Deliveries are only
// taken with a secret to verify their signature against.
func (c *Config) WebhooksEnabled() bool {
	return c.GitHub.WebhookSecret != ""
}

// SlackPublishingEnabled reports whether drafts for the Slack platform are posted on publish.
func (c *Config) SlackPublishingEnabled() bool {
	return c.SlackBotToken != "" && c.SlackPublishChannel != ""
}

// validate checks that all required configuration is present and valid.
// Panics if any validation fails.
func (c *Config) validate() {
	required := map[string]string{
		"FIRESTORE_PROJECT_ID":   c.FirestoreProjectID,
		"SESSION_SIGNING_SECRET": c.SessionSigningSecret,
	}

	for name, value := range required {
		if value == "" {
			panic(fmt.Sprintf("required environment variable %s is not set", name))
		}
	}

	if len(c.SessionSigningSecret) < minSigningSecretLength {
		panic(fmt.Sprintf("SESSION_SIGNING_SECRET must be at least %d characters", minSigningSecretLength))
	}

	// Validate GIN_MODE
	if c.GinMode != "debug" && c.GinMode != "release" && c.GinMode != "test" {
		panic(fmt.Sprintf("invalid GIN_MODE: %s (must be debug, release, or test)", c.GinMode))
	}

	// Validate log level
	if c.LogLevel != "debug" && c.LogLevel != "info" && c.LogLevel != "warn" && c.LogLevel != "error" {
		panic(fmt.Sprintf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.LogLevel))
	}

	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		panic("COMPLETION_TEMPERATURE must be between 0 and 2")
	}

	if c.CloudTasksMaxAttempts <= 0 {
		panic("CLOUD_TASKS_MAX_ATTEMPTS must be positive")
	}

	// Validate timeouts
	durations := map[string]time.Duration{
		"SERVER_READ_TIMEOUT":     c.ServerReadTimeout,
		"SERVER_WRITE_TIMEOUT":    c.ServerWriteTimeout,
		"SERVER_SHUTDOWN_TIMEOUT": c.ServerShutdownTimeout,
		"OUTBOUND_TIMEOUT":        c.OutboundTimeout,
		"JOB_PROCESSING_TIMEOUT":  c.JobProcessingTimeout,
		"SNAPSHOT_CACHE_TTL":      c.SnapshotCacheTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			panic(name + " must be positive")
		}
	}

	// Zero means persistent notifications, negative makes no sense
	if c.NotificationDuration < 0 {
		panic("NOTIFICATION_DURATION must not be negative")
	}
}

// getEnvRequired gets an environment variable or returns empty string if not set.
// The validate() function will panic if required values are missing.
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvDefault gets an environment variable with a default value.
func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value.
// Panics if the value cannot be parsed as an integer.
func getEnvInt(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid integer value for %s: %s", key, value))
	}
	return n
}

// getEnvFloat gets a float environment variable with a default value.
// Panics if the value cannot be parsed as a float.
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid float value for %s: %s", key, value))
	}
	return f
}

// getEnvDuration gets a duration environment variable with a default value.
// Panics if the value cannot be parsed as a duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("invalid duration value for %s: %s", key, value))
	}
	return d
}
