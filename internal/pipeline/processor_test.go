// --- File: internal/pipeline/processor_test.go ---
package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JULAME/trianglerh-web/internal/pipeline"
	"github.com/JULAME/trianglerh-web/internal/storage/memory"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

type failingQueue struct {
	*memory.Store
}

func (failingQueue) Enqueue(context.Context, dispatch.Job) (string, error) {
	return "", errors.New("firestore unavailable")
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sendAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	original := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}

	t.Run("Enqueues a pending job", func(t *testing.T) {
		store := memory.NewStore()
		process := pipeline.NewProcessor(store, logger)

		err := process(ctx, original, &dispatch.ScheduleRequest{UID: "u1", SendAt: sendAt, Title: "Turno"})
		require.NoError(t, err)

		jobs, err := store.DueJobs(ctx, sendAt, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "u1", jobs[0].UID)
		assert.Equal(t, "Turno", jobs[0].Title)
		assert.False(t, jobs[0].Sent)
	})

	t.Run("Queue failure is returned for redelivery", func(t *testing.T) {
		process := pipeline.NewProcessor(failingQueue{memory.NewStore()}, logger)

		err := process(ctx, original, &dispatch.ScheduleRequest{UID: "u1", SendAt: sendAt})
		assert.Error(t, err)
	})
}
