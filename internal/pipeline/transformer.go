// --- File: internal/pipeline/transformer.go ---
// Package pipeline turns Pub/Sub schedule messages into queued jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// NewScheduleRequestTransformer returns a dataflow Transformer that unmarshals
// and validates a ScheduleRequest. A request without sendAt is due at now().
//
// Failures set skip=true so the StreamingService can handle the Nack/DLQ logic.
func NewScheduleRequestTransformer(now func() time.Time) func(context.Context, *messagepipeline.Message) (*dispatch.ScheduleRequest, bool, error) {
	if now == nil {
		now = time.Now
	}
	return func(_ context.Context, msg *messagepipeline.Message) (*dispatch.ScheduleRequest, bool, error) {
		var req dispatch.ScheduleRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, true, fmt.Errorf("failed to unmarshal schedule request from message %s: %w", msg.ID, err)
		}
		if err := req.Validate(now()); err != nil {
			return nil, true, fmt.Errorf("invalid schedule request in message %s: %w", msg.ID, err)
		}
		return &req, false, nil
	}
}
