// --- File: internal/platform/fcm/pusher.go ---
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// maxMulticastTokens is the FCM limit for one SendEachForMulticast call.
const maxMulticastTokens = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Pusher struct {
	client MessagingClient
	icon   string
	logger *slog.Logger
}

// NewPusher wraps the messaging client. icon is shown by browsers for
// web-push deliveries; empty leaves it to the service worker.
func NewPusher(client MessagingClient, icon string, logger *slog.Logger) *Pusher {
	return &Pusher{
		client: client,
		icon:   icon,
		logger: logger.With("component", "FCMPusher"),
	}
}

func (p *Pusher) Send(ctx context.Context, tokens []dispatch.DeviceToken, content notification.NotificationContent, data map[string]string) (*dispatch.MulticastResult, error) {
	values := dispatch.TokenValues(tokens)
	result := &dispatch.MulticastResult{Responses: make([]dispatch.TokenResult, 0, len(values))}
	if len(values) == 0 {
		return result, nil
	}

	for start := 0; start < len(values); start += maxMulticastTokens {
		end := start + maxMulticastTokens
		if end > len(values) {
			end = len(values)
		}
		chunk := values[start:end]

		br, err := p.client.SendEachForMulticast(ctx, p.buildMessage(chunk, content, data))
		if err != nil {
			return nil, fmt.Errorf("fcm multicast failed: %w", err)
		}
		if len(br.Responses) != len(chunk) {
			return nil, fmt.Errorf("fcm returned %d responses for %d tokens", len(br.Responses), len(chunk))
		}

		for idx, resp := range br.Responses {
			tr := dispatch.TokenResult{Token: chunk[idx]}
			if resp.Success {
				tr.Success = true
				tr.MessageID = resp.MessageID
			} else {
				tr.Err = resp.Error
				tr.Code = classify(resp.Error)
				p.logger.Debug("FCM token rejected", "code", tr.Code, "err", resp.Error)
			}
			result.Add(tr)
		}
	}

	p.logger.Debug("FCM multicast complete", "success", result.SuccessCount, "failure", result.FailureCount)
	return result, nil
}

func (p *Pusher) buildMessage(tokens []string, content notification.NotificationContent, data map[string]string) *messaging.MulticastMessage {
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
	}
	if p.icon != "" {
		msg.Webpush = &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: content.Title,
				Body:  content.Body,
				Icon:  p.icon,
			},
		}
	}
	return msg
}

// classify maps the SDK's per-token error onto dispatch codes. An invalid
// argument on a single token response means the token itself is malformed.
func classify(err error) dispatch.ErrorCode {
	switch {
	case err == nil:
		return dispatch.CodeUnknown
	case messaging.IsUnregistered(err):
		return dispatch.CodeUnregistered
	case messaging.IsInvalidArgument(err):
		return dispatch.CodeInvalidToken
	case messaging.IsSenderIDMismatch(err):
		return dispatch.CodeSenderMismatch
	case messaging.IsQuotaExceeded(err):
		return dispatch.CodeQuotaExceeded
	case messaging.IsThirdPartyAuthError(err):
		return dispatch.CodeThirdPartyAuth
	case messaging.IsUnavailable(err):
		return dispatch.CodeUnavailable
	case messaging.IsInternal(err):
		return dispatch.CodeInternal
	default:
		return dispatch.CodeUnknown
	}
}
