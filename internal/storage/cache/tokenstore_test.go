// --- File: internal/storage/cache/tokenstore_test.go ---
package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JULAME/trianglerh-web/internal/storage/cache"
	"github.com/JULAME/trianglerh-web/internal/storage/memory"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetTokens(ctx context.Context, uid string) ([]dispatch.DeviceToken, bool, error) {
	args := m.Called(ctx, uid)
	tokens, _ := args.Get(0).([]dispatch.DeviceToken)
	return tokens, args.Bool(1), args.Error(2)
}
func (m *MockCache) SetTokens(ctx context.Context, uid string, tokens []dispatch.DeviceToken, ttl time.Duration) error {
	return m.Called(ctx, uid, tokens, ttl).Error(0)
}
func (m *MockCache) DropTokens(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

// mapCache is a working in-process TokenCache.
type mapCache struct {
	entries map[string][]dispatch.DeviceToken
}

func (c *mapCache) GetTokens(_ context.Context, uid string) ([]dispatch.DeviceToken, bool, error) {
	tokens, ok := c.entries[uid]
	return tokens, ok, nil
}
func (c *mapCache) SetTokens(_ context.Context, uid string, tokens []dispatch.DeviceToken, _ time.Duration) error {
	c.entries[uid] = tokens
	return nil
}
func (c *mapCache) DropTokens(_ context.Context, uid string) error {
	delete(c.entries, uid)
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokenKey(t *testing.T) {
	assert.Equal(t, "dispatch:tokens:u1", cache.TokenKey("u1"))
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	db := memory.NewStore()

	store := cache.NewCachedStore(db, mockCache, time.Hour, newTestLogger())
	uid := "annoyed-user"

	t.Run("Unregister invalidates cache immediately", func(t *testing.T) {
		mockCache.On("DropTokens", ctx, uid).Return(nil).Once()

		err := store.UnregisterToken(ctx, uid, "old-token")

		require.NoError(t, err)
		mockCache.AssertExpectations(t)
	})

	t.Run("Subsequent List hits the store (Cache Miss)", func(t *testing.T) {
		require.NoError(t, db.RegisterToken(ctx, uid, dispatch.DeviceToken{Token: "fresh-token"}))

		mockCache.On("GetTokens", ctx, uid).Return(nil, false, nil).Once()
		mockCache.On("SetTokens", ctx, uid, mock.MatchedBy(func(tokens []dispatch.DeviceToken) bool {
			return len(tokens) == 1 && tokens[0].Token == "fresh-token"
		}), time.Hour).Return(nil).Once()

		tokens, err := store.ListTokens(ctx, uid)

		require.NoError(t, err)
		assert.Equal(t, []string{"fresh-token"}, dispatch.TokenValues(tokens))
		mockCache.AssertExpectations(t)
	})

	t.Run("Cache Hit skips the store", func(t *testing.T) {
		mockCache.On("GetTokens", ctx, uid).
			Return([]dispatch.DeviceToken{{Token: "cached-token", Platform: dispatch.PlatformAPNS}}, true, nil).Once()

		tokens, err := store.ListTokens(ctx, uid)

		require.NoError(t, err)
		require.Len(t, tokens, 1)
		assert.Equal(t, "cached-token", tokens[0].Token)
		assert.Equal(t, dispatch.PlatformAPNS, tokens[0].Platform)
	})

	t.Run("Cache read failure falls back to the store", func(t *testing.T) {
		mockCache.On("GetTokens", ctx, uid).Return(nil, false, errors.New("redis down")).Once()
		mockCache.On("SetTokens", ctx, uid, mock.Anything, time.Hour).Return(errors.New("redis down")).Once()

		tokens, err := store.ListTokens(ctx, uid)

		require.NoError(t, err)
		assert.Equal(t, []string{"fresh-token"}, dispatch.TokenValues(tokens))
	})
}

func TestCachedStore_EmptyListsAreNeverCached(t *testing.T) {
	ctx := context.Background()
	db := memory.NewStore()
	tc := &mapCache{entries: map[string][]dispatch.DeviceToken{}}
	store := cache.NewCachedStore(db, tc, time.Hour, newTestLogger())

	tokens, err := store.ListTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tokens)
	assert.NotContains(t, tc.entries, "u1")

	// The web client writes devices straight to the store, bypassing
	// invalidation.
	require.NoError(t, db.RegisterToken(ctx, "u1", dispatch.DeviceToken{Token: "tokA"}))

	tokens, err = store.ListTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tokA"}, dispatch.TokenValues(tokens))
}

func TestCachedStore_StaleEmptyEntryIsIgnored(t *testing.T) {
	ctx := context.Background()
	db := memory.NewStore()
	tc := &mapCache{entries: map[string][]dispatch.DeviceToken{"u1": {}}}
	store := cache.NewCachedStore(db, tc, time.Hour, newTestLogger())

	require.NoError(t, db.RegisterToken(ctx, "u1", dispatch.DeviceToken{Token: "tokA"}))

	tokens, err := store.ListTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tokA"}, dispatch.TokenValues(tokens))
}

func TestCachedStore_CompleteInvalidatesOnPrune(t *testing.T) {
	ctx := context.Background()
	db := memory.NewStore()
	mockCache := new(MockCache)
	store := cache.NewCachedStore(db, mockCache, time.Hour, newTestLogger())

	pruned := dispatch.Job{ID: db.PutJob(dispatch.Job{UID: "u1", SendAt: time.Now()}), UID: "u1"}
	quiet := dispatch.Job{ID: db.PutJob(dispatch.Job{UID: "u2", SendAt: time.Now()}), UID: "u2"}

	mockCache.On("DropTokens", ctx, "u1").Return(nil).Once()

	require.NoError(t, store.Complete(ctx, pruned, dispatch.Outcome{Result: dispatch.ResultSent}, []string{"dead"}))
	require.NoError(t, store.Complete(ctx, quiet, dispatch.Outcome{Result: dispatch.ResultNoTokens}, nil))

	mockCache.AssertExpectations(t)
	mockCache.AssertNotCalled(t, "DropTokens", ctx, "u2")

	// Queue calls pass through to the wrapped store.
	err := store.Complete(ctx, quiet, dispatch.Outcome{Result: dispatch.ResultNoTokens}, nil)
	assert.ErrorIs(t, err, dispatch.ErrJobAlreadyCompleted)
}
