// --- File: dispatcherservice/service.go ---
// Package dispatcherservice assembles the queue dispatcher, its HTTP surface
// and the optional Pub/Sub intake into one runnable service.
package dispatcherservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/JULAME/trianglerh-web/dispatcherservice/config"
	"github.com/JULAME/trianglerh-web/internal/api"
	"github.com/JULAME/trianglerh-web/internal/dispatcher"
	"github.com/JULAME/trianglerh-web/internal/metrics"
	"github.com/JULAME/trianglerh-web/internal/pipeline"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// Dependencies are the infrastructure-backed collaborators built by main.
type Dependencies struct {
	Store  dispatch.Store
	Pusher dispatch.Pusher
	// Consumer is required only when intake is enabled.
	Consumer       messagepipeline.MessageConsumer
	AuthMiddleware func(http.Handler) http.Handler
}

type Wrapper struct {
	*microservice.BaseServer
	dispatcher      *dispatcher.Dispatcher
	scheduler       *dispatcher.Scheduler
	pipelineService *messagepipeline.StreamingService[dispatch.ScheduleRequest]
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Store == nil || deps.Pusher == nil {
		return nil, errors.New("store and pusher are required")
	}
	if deps.AuthMiddleware == nil {
		return nil, errors.New("auth middleware is required")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Dispatcher
	d := dispatcher.New(deps.Store, deps.Pusher, dispatcher.Config{
		BatchLimit:   cfg.Dispatch.BatchLimit,
		DefaultTitle: cfg.Dispatch.DefaultTitle,
		DefaultBody:  cfg.Dispatch.DefaultBody,
		DefaultType:  cfg.Dispatch.DefaultType,
		ClaimJobs:    cfg.Dispatch.ClaimJobs,
		ClaimLease:   cfg.Dispatch.ClaimLease,
		InstanceID:   cfg.Dispatch.InstanceID,
	}, logger)

	w := &Wrapper{
		BaseServer: baseServer,
		dispatcher: d,
		logger:     logger,
	}
	if cfg.Dispatch.SchedulerEnabled {
		w.scheduler = dispatcher.NewScheduler(d, cfg.Dispatch.Interval, logger)
	}

	// 3. Intake Pipeline
	if cfg.Intake.Enabled {
		if deps.Consumer == nil {
			return nil, errors.New("intake is enabled but no consumer was provided")
		}
		streamingService, err := messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.Intake.NumPipelineWorkers},
			deps.Consumer,
			pipeline.NewScheduleRequestTransformer(nil),
			pipeline.NewProcessor(deps.Store, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
		w.pipelineService = streamingService
	}

	// 4. Routes
	tokenAPI := api.NewTokenAPI(deps.Store, logger)
	scheduleAPI := api.NewScheduleAPI(deps.Store, logger)
	dispatchAPI := api.NewDispatchAPI(d, cfg.TriggerToken, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(deps.AuthMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/tokens", tokenAPI.RegisterToken)
	handle("POST /api/v1/tokens/unregister", tokenAPI.UnregisterToken)
	handle("POST /api/v1/notifications", scheduleAPI.Schedule)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	// Machine-to-machine routes carry their own auth.
	mux.HandleFunc("POST /internal/v1/dispatch", dispatchAPI.Trigger)
	mux.Handle("GET /metrics", metrics.MetricsHandler())

	return w, nil
}

// Dispatcher exposes the cycle runner, e.g. for a one-shot run.
func (w *Wrapper) Dispatcher() *dispatcher.Dispatcher {
	return w.dispatcher
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Intake pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start intake pipeline: %w", err)
		}
	}
	if w.scheduler != nil {
		w.scheduler.Start(ctx)
	} else {
		w.logger.Info("Scheduler disabled; cycles run only via the trigger endpoint")
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.scheduler != nil {
		if err := w.scheduler.Stop(ctx); err != nil {
			w.logger.Error("Scheduler shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Intake pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
