// --- File: internal/platform/apns/pusher.go ---
// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Pusher struct {
	client APNSClient
	topic  string // app bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

// NewPusher parses the P8 key immediately so bad credentials fail at startup.
func NewPusher(cfg Config, logger *slog.Logger) (*Pusher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return NewPusherWithClient(client, cfg.BundleID, logger), nil
}

func NewPusherWithClient(client APNSClient, topic string, logger *slog.Logger) *Pusher {
	return &Pusher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSPusher"),
	}
}

// Send pushes to each token in turn; APNs has no multicast endpoint.
// A transport failure is recorded against the token rather than aborting
// the batch.
func (p *Pusher) Send(ctx context.Context, tokens []dispatch.DeviceToken, content notification.NotificationContent, data map[string]string) (*dispatch.MulticastResult, error) {
	values := dispatch.TokenValues(tokens)
	result := &dispatch.MulticastResult{Responses: make([]dispatch.TokenResult, 0, len(values))}
	if len(values) == 0 {
		return result, nil
	}

	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body)
	if content.Sound != "" {
		builder.Sound(content.Sound)
	}
	for k, v := range data {
		builder.Custom(k, v)
	}

	for _, deviceToken := range values {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := p.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       p.topic,
			Payload:     builder,
		})
		if err != nil {
			p.logger.Error("APNs transport failed", "err", err)
			result.Add(dispatch.TokenResult{Token: deviceToken, Code: dispatch.CodeUnavailable, Err: err})
			continue
		}

		if res.Sent() {
			result.Add(dispatch.TokenResult{Token: deviceToken, Success: true, MessageID: res.ApnsID})
			continue
		}

		code := classify(res.Reason)
		if !code.IsDeadToken() {
			p.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
		result.Add(dispatch.TokenResult{
			Token: deviceToken,
			Code:  code,
			Err:   fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason),
		})
	}

	return result, nil
}

func classify(reason string) dispatch.ErrorCode {
	switch reason {
	case apns2.ReasonUnregistered:
		return dispatch.CodeUnregistered
	case apns2.ReasonBadDeviceToken, apns2.ReasonDeviceTokenNotForTopic:
		return dispatch.CodeInvalidToken
	case apns2.ReasonTooManyRequests:
		return dispatch.CodeQuotaExceeded
	case apns2.ReasonServiceUnavailable, apns2.ReasonShutdown:
		return dispatch.CodeUnavailable
	case apns2.ReasonInternalServerError:
		return dispatch.CodeInternal
	case apns2.ReasonExpiredProviderToken, apns2.ReasonInvalidProviderToken, apns2.ReasonMissingProviderToken:
		return dispatch.CodeThirdPartyAuth
	default:
		return dispatch.CodeUnknown
	}
}
