package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JULAME/trianglerh-web/internal/storage/memory"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

func TestStore_DueJobs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

	store.PutJob(dispatch.Job{ID: "t3", UID: "u", SendAt: now.Add(-1 * time.Minute)})
	store.PutJob(dispatch.Job{ID: "t1", UID: "u", SendAt: now.Add(-3 * time.Minute)})
	store.PutJob(dispatch.Job{ID: "t2", UID: "u", SendAt: now.Add(-2 * time.Minute)})
	store.PutJob(dispatch.Job{ID: "future", UID: "u", SendAt: now.Add(time.Minute)})
	store.PutJob(dispatch.Job{ID: "done", UID: "u", SendAt: now.Add(-time.Hour), Sent: true})

	jobs, err := store.DueJobs(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "t1", jobs[0].ID)
	assert.Equal(t, "t2", jobs[1].ID)

	all, err := store.DueJobs(ctx, now, 50)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_Complete(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.RegisterToken(ctx, "u1", dispatch.DeviceToken{Token: "tokA"}))
	require.NoError(t, store.RegisterToken(ctx, "u1", dispatch.DeviceToken{Token: "tokB"}))
	id := store.PutJob(dispatch.Job{UID: "u1", SendAt: time.Now()})
	job, _ := store.Job(id)

	t.Run("Deletes dead and absent tokens without error", func(t *testing.T) {
		outcome := dispatch.Outcome{Result: dispatch.ResultSent, SuccessCount: 1, FailureCount: 1}
		require.NoError(t, store.Complete(ctx, job, outcome, []string{"tokB", "never-registered"}))

		tokens, err := store.ListTokens(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"tokA"}, dispatch.TokenValues(tokens))

		stored, _ := store.Job(id)
		assert.True(t, stored.Sent)
		assert.Equal(t, dispatch.ResultSent, stored.Outcome.Result)
	})

	t.Run("Second completion is rejected", func(t *testing.T) {
		err := store.Complete(ctx, job, dispatch.Outcome{Result: dispatch.ResultError}, nil)
		assert.ErrorIs(t, err, dispatch.ErrJobAlreadyCompleted)

		stored, _ := store.Job(id)
		assert.Equal(t, dispatch.ResultSent, stored.Outcome.Result)
	})

	t.Run("Unknown job", func(t *testing.T) {
		err := store.Complete(ctx, dispatch.Job{ID: "missing"}, dispatch.Outcome{}, nil)
		assert.ErrorIs(t, err, dispatch.ErrJobNotFound)
	})
}

func TestStore_Claim(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now()
	id := store.PutJob(dispatch.Job{UID: "u1", SendAt: now})

	ok, err := store.Claim(ctx, id, "instance-a", now, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, id, "instance-b", now.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease is still held by instance-a")

	ok, err = store.Claim(ctx, id, "instance-b", now.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")
}
