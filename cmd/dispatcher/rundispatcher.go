// --- File: cmd/dispatcher/rundispatcher.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/joho/godotenv"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"

	"github.com/JULAME/trianglerh-web/dispatcherservice"
	"github.com/JULAME/trianglerh-web/dispatcherservice/config"
	"github.com/JULAME/trianglerh-web/internal/platform"
	"github.com/JULAME/trianglerh-web/internal/platform/apns"
	"github.com/JULAME/trianglerh-web/internal/platform/fcm"
	"github.com/JULAME/trianglerh-web/internal/storage/cache"
	fsStore "github.com/JULAME/trianglerh-web/internal/storage/firestore"
	"github.com/JULAME/trianglerh-web/internal/storage/memory"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

//go:embed local.yaml
var configFile []byte

func main() {
	once := flag.Bool("once", false, "run a single dispatch cycle and exit")
	flag.Parse()

	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "trianglerh-dispatcher")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	// --- Store ---
	var store dispatch.Store
	switch cfg.StorageBackend {
	case config.StorageMemory:
		store = memory.NewStore()
		logger.Warn("Using in-memory store; queue and tokens are lost on restart")
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		store = fsStore.NewFirestoreStore(fsClient, fsStore.Collections{
			Queue:  cfg.Collections.Queue,
			Users:  cfg.Collections.Users,
			Tokens: cfg.Collections.Tokens,
		})
		logger.Info("Store initialized", "type", "firestore", "queue", cfg.Collections.Queue)
	}

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedStore(store, redisClient, cfg.Redis.TTL, logger)
		logger.Info("Store upgraded", "type", "redis_cached")
	}

	// --- Pushers ---
	pusher, err := newPusher(ctx, cfg, clientOpts, logger)
	if err != nil {
		logger.Error("Push delivery setup failed", "err", err)
		os.Exit(1)
	}

	// --- Auth ---
	authMiddleware := func(h http.Handler) http.Handler { return h }
	if !*once {
		authMiddleware, err = newAuthMiddleware(cfg, logger)
		if err != nil {
			logger.Error("Auth setup failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Intake ---
	var consumer messagepipeline.MessageConsumer
	if cfg.Intake.Enabled && !*once {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIntakeConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Intake consumer failed", "err", err)
			os.Exit(1)
		}
	} else {
		cfg.Intake.Enabled = false
	}

	service, err := dispatcherservice.New(cfg, dispatcherservice.Dependencies{
		Store:          store,
		Pusher:         pusher,
		Consumer:       consumer,
		AuthMiddleware: authMiddleware,
	}, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	if *once {
		report, err := service.Dispatcher().RunCycle(ctx)
		if err != nil {
			logger.Error("Dispatch cycle failed", "err", err)
			os.Exit(1)
		}
		logger.Info("Single cycle complete", "run_id", report.RunID, "selected", report.Selected)
		return
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...", "addr", cfg.ListenAddr, "interval", cfg.Dispatch.Interval)
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newPusher(ctx context.Context, cfg *config.Config, clientOpts []option.ClientOption, logger *slog.Logger) (dispatch.Pusher, error) {
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}

	pushers := map[dispatch.Platform]dispatch.Pusher{
		dispatch.PlatformFCM: fcm.NewPusher(fcmMessaging, cfg.Dispatch.WebpushIcon, logger),
	}

	if cfg.APNS.Enabled {
		apnsPusher, err := apns.NewPusher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8Key,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			return nil, err
		}
		pushers[dispatch.PlatformAPNS] = apnsPusher
		logger.Info("APNs pusher enabled", "bundle_id", cfg.APNS.BundleID, "sandbox", cfg.APNS.Sandbox)
	}

	return platform.NewRouter(pushers, logger), nil
}

func newAuthMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	identityURL := cfg.IdentityURL
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		return nil, fmt.Errorf("jwt discovery against %s failed: %w", identityURL, err)
	}
	return middleware.NewJWKSAuthMiddleware(jwksURL, logger)
}

func newIntakeConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.Intake.SubscriptionID, "subscriptions")
	topic := convertPubsub(cfg.ProjectID, cfg.Intake.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topic,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(10 * time.Second),
			MaximumBackoff: durationpb.New(10 * time.Minute),
		},
	}
	if cfg.Intake.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.Intake.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	if _, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig); err != nil {
		if status.Code(err) != codes.AlreadyExists {
			return nil, fmt.Errorf("could not create subscription %s: %w", sub, err)
		}
		logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
