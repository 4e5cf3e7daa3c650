// --- File: internal/platform/apns/pusher_test.go ---
package apns_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/JULAME/trianglerh-web/internal/platform/apns"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func iosTokens(values ...string) []dispatch.DeviceToken {
	out := make([]dispatch.DeviceToken, 0, len(values))
	for _, v := range values {
		out = append(out, dispatch.DeviceToken{Token: v, Platform: dispatch.PlatformAPNS})
	}
	return out
}

func TestAPNSPusher_Send(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	content := notification.NotificationContent{Title: "TriangleRH", Body: "Turno", Sound: "default"}
	data := map[string]string{"jobId": "j1"}

	t.Run("Happy Path - Success", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		pusher := apns.NewPusherWithClient(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1" && n.Topic == "com.test.app"
		})).Return(&apns2.Response{StatusCode: http.StatusOK, ApnsID: "apns-1"}, nil)

		res, err := pusher.Send(ctx, iosTokens("token-1"), content, data)

		require.NoError(t, err)
		assert.Equal(t, 1, res.SuccessCount)
		assert.Equal(t, "apns-1", res.Responses[0].MessageID)
		assert.Empty(t, res.DeadTokens())
		mockClient.AssertExpectations(t)
	})

	t.Run("Dead tokens are classified", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		pusher := apns.NewPusherWithClient(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool { return n.DeviceToken == "gone" })).
			Return(&apns2.Response{StatusCode: http.StatusGone, Reason: apns2.ReasonUnregistered}, nil)
		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool { return n.DeviceToken == "bad" })).
			Return(&apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonBadDeviceToken}, nil)

		res, err := pusher.Send(ctx, iosTokens("gone", "bad"), content, data)

		require.NoError(t, err)
		assert.Equal(t, 2, res.FailureCount)
		assert.Equal(t, dispatch.CodeUnregistered, res.Responses[0].Code)
		assert.Equal(t, dispatch.CodeInvalidToken, res.Responses[1].Code)
		assert.ElementsMatch(t, []string{"gone", "bad"}, res.DeadTokens())
	})

	t.Run("Config errors keep the token", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		pusher := apns.NewPusherWithClient(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", mock.Anything).
			Return(&apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonTopicDisallowed}, nil)

		res, err := pusher.Send(ctx, iosTokens("token-1"), content, data)

		require.NoError(t, err)
		assert.Equal(t, 1, res.FailureCount)
		assert.Equal(t, dispatch.CodeUnknown, res.Responses[0].Code)
		assert.Empty(t, res.DeadTokens())
	})

	t.Run("Transport failure is per token", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		pusher := apns.NewPusherWithClient(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool { return n.DeviceToken == "t1" })).
			Return(nil, errors.New("connection reset"))
		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool { return n.DeviceToken == "t2" })).
			Return(&apns2.Response{StatusCode: http.StatusOK}, nil)

		res, err := pusher.Send(ctx, iosTokens("t1", "t2"), content, data)

		require.NoError(t, err)
		assert.Equal(t, 1, res.SuccessCount)
		assert.Equal(t, 1, res.FailureCount)
		assert.Equal(t, dispatch.CodeUnavailable, res.Responses[0].Code)
		assert.Empty(t, res.DeadTokens())
	})

	t.Run("Bad key fails fast", func(t *testing.T) {
		_, err := apns.NewPusher(apns.Config{P8KeyContent: "not a key"}, logger)
		assert.Error(t, err)
	})
}
