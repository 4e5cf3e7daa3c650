// --- File: dispatcherservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlAPNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlCollectionsConfig struct {
	Queue  string `yaml:"queue"`
	Users  string `yaml:"users"`
	Tokens string `yaml:"tokens"`
}

type YamlDispatchConfig struct {
	SchedulerEnabled bool   `yaml:"scheduler_enabled"`
	Interval         string `yaml:"interval"`
	BatchLimit       int    `yaml:"batch_limit"`
	DefaultTitle     string `yaml:"default_title"`
	DefaultBody      string `yaml:"default_body"`
	DefaultType      string `yaml:"default_type"`
	WebpushIcon      string `yaml:"webpush_icon"`
	ClaimJobs        bool   `yaml:"claim_jobs"`
	ClaimLease       string `yaml:"claim_lease"`
}

type YamlIntakeConfig struct {
	Enabled                bool   `yaml:"enabled"`
	TopicID                string `yaml:"topic_id"`
	SubscriptionID         string `yaml:"subscription_id"`
	SubscriptionDLQTopicID string `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int    `yaml:"num_pipeline_workers"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID       string                `yaml:"project_id"`
	ListenAddr      string                `yaml:"listen_addr"`
	CredentialsFile string                `yaml:"credentials_file"`
	StorageBackend  string                `yaml:"storage_backend"`
	IdentityURL     string                `yaml:"identity_url"`
	Collections     YamlCollectionsConfig `yaml:"collections"`
	Dispatch        YamlDispatchConfig    `yaml:"dispatch"`
	Intake          YamlIntakeConfig      `yaml:"intake"`
	CorsConfig      YamlCorsConfig        `yaml:"cors"`
	RedisConfig     YamlRedisConfig       `yaml:"redis"`
	APNSConfig      YamlAPNSConfig        `yaml:"apns"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Secrets (trigger token, APNs key) are only read from the environment.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	interval, err := parseOptionalDuration("dispatch.interval", baseCfg.Dispatch.Interval)
	if err != nil {
		return nil, err
	}
	lease, err := parseOptionalDuration("dispatch.claim_lease", baseCfg.Dispatch.ClaimLease)
	if err != nil {
		return nil, err
	}
	ttl, err := parseOptionalDuration("redis.ttl", baseCfg.RedisConfig.TTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:       baseCfg.ProjectID,
		ListenAddr:      baseCfg.ListenAddr,
		CredentialsFile: baseCfg.CredentialsFile,
		StorageBackend:  baseCfg.StorageBackend,
		IdentityURL:     baseCfg.IdentityURL,
		Collections: CollectionsConfig{
			Queue:  baseCfg.Collections.Queue,
			Users:  baseCfg.Collections.Users,
			Tokens: baseCfg.Collections.Tokens,
		},
		Dispatch: DispatchConfig{
			SchedulerEnabled: baseCfg.Dispatch.SchedulerEnabled,
			Interval:         interval,
			BatchLimit:       baseCfg.Dispatch.BatchLimit,
			DefaultTitle:     baseCfg.Dispatch.DefaultTitle,
			DefaultBody:      baseCfg.Dispatch.DefaultBody,
			DefaultType:      baseCfg.Dispatch.DefaultType,
			WebpushIcon:      baseCfg.Dispatch.WebpushIcon,
			ClaimJobs:        baseCfg.Dispatch.ClaimJobs,
			ClaimLease:       lease,
		},
		Intake: IntakeConfig{
			Enabled:                baseCfg.Intake.Enabled,
			TopicID:                baseCfg.Intake.TopicID,
			SubscriptionID:         baseCfg.Intake.SubscriptionID,
			SubscriptionDLQTopicID: baseCfg.Intake.SubscriptionDLQTopicID,
			NumPipelineWorkers:     baseCfg.Intake.NumPipelineWorkers,
		},
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      ttl,
		},
		APNS: APNSConfig{
			Enabled:  baseCfg.APNSConfig.Enabled,
			KeyID:    baseCfg.APNSConfig.KeyID,
			TeamID:   baseCfg.APNSConfig.TeamID,
			BundleID: baseCfg.APNSConfig.BundleID,
			Sandbox:  baseCfg.APNSConfig.Sandbox,
		},
	}

	if cfg.Intake.SubscriptionID != "" {
		cfg.Intake.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Intake.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"storage_backend", cfg.StorageBackend,
		"interval", cfg.Dispatch.Interval,
	)

	return cfg, nil
}

func parseOptionalDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return d, nil
}
