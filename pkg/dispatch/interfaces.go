// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Pusher defines the contract for a component that can deliver one
// notification to a set of device tokens in a single multicast call.
type Pusher interface {
	// Send delivers the content to every token and reports a per-token outcome.
	// An error means the call as a whole failed; per-token failures are carried
	// in the returned result instead.
	Send(ctx context.Context, tokens []DeviceToken, content notification.NotificationContent, data map[string]string) (*MulticastResult, error)
}

// TokenStore defines the contract for managing a user's device tokens.
// Tokens are keyed by their own value, so deletes never need a lookup.
type TokenStore interface {
	// RegisterToken adds or refreshes a device token for a user (upsert).
	RegisterToken(ctx context.Context, uid string, token DeviceToken) error

	// UnregisterToken removes a token. Removing an absent token is not an error.
	UnregisterToken(ctx context.Context, uid string, token string) error

	// ListTokens returns every token registered for the user.
	ListTokens(ctx context.Context, uid string) ([]DeviceToken, error)
}

// JobQueue defines the contract for the notification queue collection.
type JobQueue interface {
	// Enqueue stores a new pending job and returns its id.
	Enqueue(ctx context.Context, job Job) (string, error)

	// DueJobs returns unsent jobs with SendAt <= now, oldest first, at most limit.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error)

	// Claim leases a pending job for owner. It returns false when the job is
	// already sent or another owner holds an unexpired lease.
	Claim(ctx context.Context, jobID, owner string, now time.Time, lease time.Duration) (bool, error)

	// Complete atomically deletes deadTokens from the job's recipient and
	// records the terminal outcome. Either every write commits or none does.
	// It returns ErrJobAlreadyCompleted, without writing, when the job is sent.
	Complete(ctx context.Context, job Job, outcome Outcome, deadTokens []string) error
}

// Store is the full storage surface the service runs against.
type Store interface {
	TokenStore
	JobQueue
}
