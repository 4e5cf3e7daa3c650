// --- File: internal/platform/router.go ---
// Package platform routes deliveries to the push service that owns each token.
package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// Router is a dispatch.Pusher that fans a token set out to per-platform
// pushers and merges the results back in input order.
type Router struct {
	pushers map[dispatch.Platform]dispatch.Pusher
	logger  *slog.Logger
}

func NewRouter(pushers map[dispatch.Platform]dispatch.Pusher, logger *slog.Logger) *Router {
	configured := make(map[dispatch.Platform]dispatch.Pusher, len(pushers))
	for p, pusher := range pushers {
		if pusher != nil {
			configured[p] = pusher
		}
	}
	return &Router{
		pushers: configured,
		logger:  logger.With("component", "PushRouter"),
	}
}

func (r *Router) Send(ctx context.Context, tokens []dispatch.DeviceToken, content notification.NotificationContent, data map[string]string) (*dispatch.MulticastResult, error) {
	type group struct {
		tokens  []dispatch.DeviceToken
		indexes []int
	}

	var ordered []dispatch.DeviceToken
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		if t.Platform == "" {
			t.Platform = dispatch.PlatformFCM
		}
		ordered = append(ordered, t)
	}

	slots := make([]dispatch.TokenResult, len(ordered))
	groups := make(map[dispatch.Platform]*group)
	var platforms []dispatch.Platform
	for idx, t := range ordered {
		if _, ok := r.pushers[t.Platform]; !ok {
			slots[idx] = dispatch.TokenResult{
				Token: t.Token,
				Code:  dispatch.CodeUnsupportedPlatform,
				Err:   fmt.Errorf("no pusher configured for platform %q", t.Platform),
			}
			continue
		}
		g, ok := groups[t.Platform]
		if !ok {
			g = &group{}
			groups[t.Platform] = g
			platforms = append(platforms, t.Platform)
		}
		g.tokens = append(g.tokens, t)
		g.indexes = append(g.indexes, idx)
	}

	for _, p := range platforms {
		g := groups[p]
		res, err := r.pushers[p].Send(ctx, g.tokens, content, data)
		if err != nil {
			return nil, fmt.Errorf("%s delivery failed: %w", p, err)
		}
		if len(res.Responses) != len(g.tokens) {
			return nil, fmt.Errorf("%s pusher returned %d responses for %d tokens", p, len(res.Responses), len(g.tokens))
		}
		for i, tr := range res.Responses {
			slots[g.indexes[i]] = tr
		}
	}

	result := &dispatch.MulticastResult{Responses: make([]dispatch.TokenResult, 0, len(slots))}
	for _, tr := range slots {
		if tr.Code == dispatch.CodeUnsupportedPlatform {
			r.logger.Warn("Token has no configured platform", "code", tr.Code, "err", tr.Err)
		}
		result.Add(tr)
	}
	return result, nil
}
