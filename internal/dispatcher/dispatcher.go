// --- File: internal/dispatcher/dispatcher.go ---
// Package dispatcher drains the notification queue: each cycle selects the
// due jobs, pushes them to the recipient's devices and records the outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JULAME/trianglerh-web/internal/metrics"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

const tracerName = "github.com/JULAME/trianglerh-web/internal/dispatcher"

// Config controls a cycle. Zero values are replaced by DefaultConfig's.
type Config struct {
	BatchLimit   int
	DefaultTitle string
	DefaultBody  string
	DefaultType  string

	// ClaimJobs leases each job before processing so overlapping instances
	// do not deliver it twice.
	ClaimJobs  bool
	ClaimLease time.Duration
	InstanceID string
}

func DefaultConfig() Config {
	return Config{
		BatchLimit:   50,
		DefaultTitle: "TriangleRH",
		DefaultBody:  "Notificación",
		DefaultType:  "schedule",
		ClaimLease:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchLimit <= 0 {
		c.BatchLimit = d.BatchLimit
	}
	if c.DefaultTitle == "" {
		c.DefaultTitle = d.DefaultTitle
	}
	if c.DefaultBody == "" {
		c.DefaultBody = d.DefaultBody
	}
	if c.DefaultType == "" {
		c.DefaultType = d.DefaultType
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = d.ClaimLease
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	return c
}

// CycleReport summarises one RunCycle call.
type CycleReport struct {
	RunID    string
	Selected int
	Sent     int
	NoTokens int
	Errored  int
	// Skipped jobs are still pending: claimed elsewhere, completed by a
	// concurrent run, or their error outcome could not be committed.
	Skipped  int
	Duration time.Duration
}

type Dispatcher struct {
	store  dispatch.Store
	pusher dispatch.Pusher
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	running sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func New(store dispatch.Store, pusher dispatch.Pusher, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		pusher: pusher,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "Dispatcher"),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunCycle processes up to BatchLimit due jobs, oldest first, one at a time.
// A failing job never stops its siblings. The only errors returned are
// ErrCycleInProgress and a failure to query the queue.
//
// Once started, a cycle ignores cancellation of ctx and runs every selected
// job to completion; ctx still carries values such as the trace parent.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleReport, error) {
	if !d.running.TryLock() {
		metrics.CyclesTotal.WithLabelValues("busy").Inc()
		return CycleReport{}, dispatch.ErrCycleInProgress
	}
	defer d.running.Unlock()

	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	report := CycleReport{RunID: uuid.NewString()}
	log := d.logger.With("run_id", report.RunID)

	ctx, span := d.tracer.Start(ctx, "Dispatcher.RunCycle", trace.WithAttributes(
		attribute.String("dispatch.run_id", report.RunID),
		attribute.Int("dispatch.batch_limit", d.cfg.BatchLimit),
	))
	defer span.End()

	jobs, err := d.store.DueJobs(ctx, d.now(), d.cfg.BatchLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "due job query failed")
		metrics.ObserveCycle("query_failed", start)
		return report, fmt.Errorf("failed to query due jobs: %w", err)
	}

	report.Selected = len(jobs)
	span.SetAttributes(attribute.Int("dispatch.selected", len(jobs)))
	if len(jobs) == 0 {
		metrics.ObserveCycle("ok", start)
		report.Duration = time.Since(start)
		return report, nil
	}

	log.Info("Dispatch cycle started", "due_jobs", len(jobs))
	for _, job := range jobs {
		result, handled := d.processJob(ctx, log, job)
		if !handled {
			report.Skipped++
			metrics.JobsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		metrics.JobsTotal.WithLabelValues(result.String()).Inc()
		switch result {
		case dispatch.ResultSent:
			report.Sent++
		case dispatch.ResultNoTokens:
			report.NoTokens++
		case dispatch.ResultError:
			report.Errored++
		}
	}

	report.Duration = time.Since(start)
	metrics.ObserveCycle("ok", start)
	log.Info("Dispatch cycle finished",
		"sent", report.Sent,
		"no_tokens", report.NoTokens,
		"errored", report.Errored,
		"skipped", report.Skipped,
		"duration", report.Duration,
	)
	return report, nil
}

// processJob drives one job to a terminal state. handled is false when the
// job was left pending.
func (d *Dispatcher) processJob(ctx context.Context, log *slog.Logger, job dispatch.Job) (result dispatch.Result, handled bool) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.processJob", trace.WithAttributes(
		attribute.String("dispatch.job_id", job.ID),
		attribute.String("dispatch.uid", job.UID),
	))
	defer func() {
		span.SetAttributes(attribute.String("dispatch.result", string(result)), attribute.Bool("dispatch.handled", handled))
		span.End()
	}()

	log = log.With("job_id", job.ID, "uid", job.UID)

	if d.cfg.ClaimJobs {
		ok, err := d.store.Claim(ctx, job.ID, d.cfg.InstanceID, d.now(), d.cfg.ClaimLease)
		if err != nil {
			log.Warn("Failed to claim job, leaving it pending", "err", err)
			return "", false
		}
		if !ok {
			log.Debug("Job claimed by another instance")
			return "", false
		}
	}

	outcome, dead, err := d.deliver(ctx, log, job)
	if err == nil {
		err = d.store.Complete(ctx, job, outcome, dead)
		if err == nil {
			if len(dead) > 0 {
				metrics.TokensPruned.Add(float64(len(dead)))
				log.Info("Pruned dead tokens", "count", len(dead))
			}
			return outcome.Result, true
		}
		if errors.Is(err, dispatch.ErrJobAlreadyCompleted) {
			log.Warn("Job completed by a concurrent run")
			return "", false
		}
		err = fmt.Errorf("failed to commit job outcome: %w", err)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return d.fail(ctx, log, job, err)
}

// deliver resolves tokens and pushes. It returns the outcome to commit and
// the dead tokens to prune alongside it.
func (d *Dispatcher) deliver(ctx context.Context, log *slog.Logger, job dispatch.Job) (dispatch.Outcome, []string, error) {
	if job.UID == "" {
		return dispatch.Outcome{}, nil, dispatch.ErrMissingRecipient
	}

	tokens, err := d.store.ListTokens(ctx, job.UID)
	if err != nil {
		return dispatch.Outcome{}, nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	var usable []dispatch.DeviceToken
	for _, t := range tokens {
		if t.Token != "" {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		log.Info("Recipient has no registered devices")
		return dispatch.Outcome{Result: dispatch.ResultNoTokens, SentAt: d.now()}, nil, nil
	}

	content := notification.NotificationContent{
		Title: firstNonEmpty(job.Title, d.cfg.DefaultTitle),
		Body:  firstNonEmpty(job.Body, d.cfg.DefaultBody),
	}
	data := map[string]string{
		"type":  firstNonEmpty(job.Type, d.cfg.DefaultType),
		"uid":   job.UID,
		"jobId": job.ID,
	}

	res, err := d.pusher.Send(ctx, usable, content, data)
	if err != nil {
		return dispatch.Outcome{}, nil, err
	}

	metrics.ObserveDeliveries(res.SuccessCount, res.FailureCount)
	log.Info("Push delivered", "success", res.SuccessCount, "failure", res.FailureCount)

	return dispatch.Outcome{
		Result:       dispatch.ResultSent,
		SentAt:       d.now(),
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
	}, res.DeadTokens(), nil
}

// fail records the error outcome. If that commit fails too, the job stays
// pending and is picked up by a later cycle.
func (d *Dispatcher) fail(ctx context.Context, log *slog.Logger, job dispatch.Job, cause error) (dispatch.Result, bool) {
	msg := cause.Error()
	if msg == "" {
		msg = "unknown error"
	}
	log.Error("Job failed", "err", cause)

	outcome := dispatch.Outcome{Result: dispatch.ResultError, SentAt: d.now(), ErrorMessage: msg}
	if err := d.store.Complete(ctx, job, outcome, nil); err != nil {
		if errors.Is(err, dispatch.ErrJobAlreadyCompleted) {
			log.Warn("Job completed by a concurrent run")
		} else {
			log.Error("Failed to record job error, leaving it pending", "err", err)
		}
		return "", false
	}
	return dispatch.ResultError, true
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
