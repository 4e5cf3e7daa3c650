// --- File: internal/pipeline/processor.go ---
package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/JULAME/trianglerh-web/internal/metrics"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// NewProcessor enqueues each validated request as a pending job. A queue
// error is returned so the message is nacked and redelivered.
func NewProcessor(queue dispatch.JobQueue, logger *slog.Logger) messagepipeline.StreamProcessor[dispatch.ScheduleRequest] {
	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.ScheduleRequest) error {
		procLogger := logger.With("uid", request.UID, "pubsub_msg_id", original.ID)

		jobID, err := queue.Enqueue(ctx, request.Job())
		if err != nil {
			procLogger.Error("Failed to enqueue notification job", "err", err)
			return err
		}

		metrics.JobsEnqueued.WithLabelValues("pubsub").Inc()
		procLogger.Info("Notification job enqueued", "job_id", jobID, "send_at", request.SendAt)
		return nil
	}
}
