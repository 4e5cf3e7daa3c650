// --- File: dispatcherservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	StorageFirestore = "firestore"
	StorageMemory    = "memory"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type APNSConfig struct {
	Enabled  bool
	KeyID    string
	TeamID   string
	BundleID string
	// P8Key is the raw content of the .p8 file
	P8Key   string
	Sandbox bool
}

type CollectionsConfig struct {
	Queue  string
	Users  string
	Tokens string
}

type DispatchConfig struct {
	SchedulerEnabled bool
	Interval         time.Duration
	BatchLimit       int
	DefaultTitle     string
	DefaultBody      string
	DefaultType      string
	WebpushIcon      string
	ClaimJobs        bool
	ClaimLease       time.Duration
	InstanceID       string
}

// IntakeConfig drives the optional Pub/Sub subscription that feeds the queue.
type IntakeConfig struct {
	Enabled                bool
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID       string
	ListenAddr      string
	CredentialsFile string
	StorageBackend  string
	IdentityURL     string
	TriggerToken    string

	Collections CollectionsConfig
	Dispatch    DispatchConfig
	Intake      IntakeConfig
	CorsConfig  middleware.CorsConfig
	Redis       RedisConfig
	APNS        APNSConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	overrideString("PROJECT_ID", &cfg.ProjectID, logger)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	overrideString("FIREBASE_CREDENTIALS_FILE", &cfg.CredentialsFile, logger)
	overrideString("STORAGE_BACKEND", &cfg.StorageBackend, logger)
	overrideString("IDENTITY_SERVICE_URL", &cfg.IdentityURL, logger)
	overrideString("DISPATCH_TRIGGER_TOKEN", &cfg.TriggerToken, logger)

	// Dispatch Overrides
	overrideBool("SCHEDULER_ENABLED", &cfg.Dispatch.SchedulerEnabled, logger)
	if err := overrideDuration("DISPATCH_INTERVAL", &cfg.Dispatch.Interval, logger); err != nil {
		return nil, err
	}
	if val := os.Getenv("DISPATCH_BATCH_LIMIT"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil && limit > 0 {
			logger.Debug("Overriding config value", "key", "DISPATCH_BATCH_LIMIT", "source", "env")
			cfg.Dispatch.BatchLimit = limit
		}
	}
	overrideBool("DISPATCH_CLAIM_JOBS", &cfg.Dispatch.ClaimJobs, logger)
	if err := overrideDuration("DISPATCH_CLAIM_LEASE", &cfg.Dispatch.ClaimLease, logger); err != nil {
		return nil, err
	}
	overrideString("INSTANCE_ID", &cfg.Dispatch.InstanceID, logger)

	// Intake Overrides
	overrideBool("INTAKE_ENABLED", &cfg.Intake.Enabled, logger)
	overrideString("TOPIC_ID", &cfg.Intake.TopicID, logger)
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.Intake.SubscriptionID = val
		cfg.Intake.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	overrideString("SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.Intake.SubscriptionDLQTopicID, logger)
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.Intake.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	overrideBool("REDIS_ENABLED", &cfg.Redis.Enabled, logger)

	// APNs Overrides
	overrideString("APNS_KEY_ID", &cfg.APNS.KeyID, logger)
	overrideString("APNS_TEAM_ID", &cfg.APNS.TeamID, logger)
	overrideString("APNS_BUNDLE_ID", &cfg.APNS.BundleID, logger)
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.APNS.P8Key = val
		cfg.APNS.Enabled = true
	}
	overrideBool("APNS_SANDBOX", &cfg.APNS.Sandbox, logger)
	overrideBool("APNS_ENABLED", &cfg.APNS.Enabled, logger)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	applyDefaults(cfg)

	// 3. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = StorageFirestore
	}
	if cfg.Collections.Queue == "" {
		cfg.Collections.Queue = "notificationQueue"
	}
	if cfg.Collections.Users == "" {
		cfg.Collections.Users = "users"
	}
	if cfg.Collections.Tokens == "" {
		cfg.Collections.Tokens = "fcmTokens"
	}
	if cfg.Dispatch.Interval <= 0 {
		cfg.Dispatch.Interval = time.Minute
	}
	if cfg.Dispatch.BatchLimit <= 0 {
		cfg.Dispatch.BatchLimit = 50
	}
	if cfg.Dispatch.ClaimLease <= 0 {
		cfg.Dispatch.ClaimLease = 5 * time.Minute
	}
	if cfg.Intake.NumPipelineWorkers <= 0 {
		cfg.Intake.NumPipelineWorkers = 1
	}
	if cfg.Intake.PubsubConsumerConfig == nil && cfg.Intake.SubscriptionID != "" {
		cfg.Intake.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Intake.SubscriptionID)
	}
	// Tokens registered directly in Firestore bypass cache invalidation, so
	// a cached list may live at most one dispatch interval.
	if cfg.Redis.TTL <= 0 || cfg.Redis.TTL > cfg.Dispatch.Interval {
		cfg.Redis.TTL = cfg.Dispatch.Interval
	}
}

func validate(cfg *Config) error {
	switch cfg.StorageBackend {
	case StorageFirestore:
		if cfg.ProjectID == "" {
			return fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage_backend %q (want %q or %q)", cfg.StorageBackend, StorageFirestore, StorageMemory)
	}

	if cfg.Intake.Enabled {
		if cfg.ProjectID == "" {
			return fmt.Errorf("project_id is required when intake is enabled")
		}
		if cfg.Intake.SubscriptionID == "" || cfg.Intake.TopicID == "" {
			return fmt.Errorf("intake requires topic_id and subscription_id (set via YAML or TOPIC_ID/SUBSCRIPTION_ID env vars)")
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis is enabled but no addr is set")
	}
	if cfg.APNS.Enabled {
		if cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" || cfg.APNS.P8Key == "" {
			return fmt.Errorf("apns requires key_id, team_id, bundle_id and a p8 key")
		}
	}
	return nil
}

func overrideString(key string, dst *string, logger *slog.Logger) {
	if val := os.Getenv(key); val != "" {
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = val
	}
}

func overrideBool(key string, dst *bool, logger *slog.Logger) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = b
		}
	}
}

func overrideDuration(key string, dst *time.Duration, logger *slog.Logger) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = d
	return nil
}
