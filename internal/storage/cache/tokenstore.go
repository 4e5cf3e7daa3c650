// --- File: internal/storage/cache/tokenstore.go ---
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// TokenCache holds per-user token lists.
type TokenCache interface {
	// GetTokens reports hit=false when nothing is cached for uid.
	GetTokens(ctx context.Context, uid string) (tokens []dispatch.DeviceToken, hit bool, err error)
	SetTokens(ctx context.Context, uid string, tokens []dispatch.DeviceToken, ttl time.Duration) error
	DropTokens(ctx context.Context, uid string) error
}

// CachedStore is a decorator that adds read-aside caching of token lists to
// any dispatch.Store. Queue operations pass straight through.
//
// Devices can be registered straight into Firestore by the web client, which
// never invalidates the cache. Empty lists are therefore never cached, and
// the TTL bounds how long a newly added device can be missed.
type CachedStore struct {
	dispatch.Store
	cache  TokenCache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedStore(realStore dispatch.Store, cache TokenCache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		Store:  realStore,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "CachedStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedStore) ListTokens(ctx context.Context, uid string) ([]dispatch.DeviceToken, error) {
	cached, hit, err := s.cache.GetTokens(ctx, uid)
	if err != nil {
		s.logger.Debug("Token cache read failed, falling back to store", "uid", uid, "err", err)
	}
	if hit && len(cached) > 0 {
		return cached, nil
	}

	fresh, err := s.Store.ListTokens(ctx, uid)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return fresh, nil
	}

	if err := s.cache.SetTokens(ctx, uid, fresh, s.ttl); err != nil {
		s.logger.Debug("Failed to populate token cache", "uid", uid, "err", err)
	}
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedStore) RegisterToken(ctx context.Context, uid string, token dispatch.DeviceToken) error {
	if err := s.Store.RegisterToken(ctx, uid, token); err != nil {
		return err
	}
	return s.cache.DropTokens(ctx, uid)
}

func (s *CachedStore) UnregisterToken(ctx context.Context, uid string, token string) error {
	if err := s.Store.UnregisterToken(ctx, uid, token); err != nil {
		return err
	}
	return s.cache.DropTokens(ctx, uid)
}

// Complete drops the cached list when dead tokens were pruned, otherwise the
// next job for the user would target them again.
func (s *CachedStore) Complete(ctx context.Context, job dispatch.Job, outcome dispatch.Outcome, deadTokens []string) error {
	if err := s.Store.Complete(ctx, job, outcome, deadTokens); err != nil {
		return err
	}
	if len(deadTokens) == 0 {
		return nil
	}
	if err := s.cache.DropTokens(ctx, job.UID); err != nil {
		// The job is already committed; a stale entry expires with the TTL.
		s.logger.Warn("Failed to invalidate token cache after prune", "uid", job.UID, "err", err)
	}
	return nil
}
