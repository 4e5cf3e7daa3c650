package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrJobNotFound is returned when a job document does not exist.
	ErrJobNotFound = errors.New("notification job not found")
	// ErrJobAlreadyCompleted is returned when a terminal job is completed again.
	ErrJobAlreadyCompleted = errors.New("notification job already completed")
	// ErrMissingRecipient is returned for a job without a uid.
	ErrMissingRecipient = errors.New("notification job has no recipient uid")
	// ErrCycleInProgress is returned when a cycle is requested while one runs.
	ErrCycleInProgress = errors.New("dispatch cycle already in progress")
)

// Result is the terminal outcome tag recorded on a job.
type Result string

const (
	ResultSent     Result = "sent"
	ResultNoTokens Result = "no_tokens"
	ResultError    Result = "error"
)

func (r Result) String() string {
	return string(r)
}

func (r Result) IsValid() bool {
	switch r {
	case ResultSent, ResultNoTokens, ResultError:
		return true
	default:
		return false
	}
}

// Outcome holds the fields written when a job reaches a terminal state.
type Outcome struct {
	Result       Result
	SentAt       time.Time
	SuccessCount int
	FailureCount int
	ErrorMessage string
}

// Job mirrors one notificationQueue document.
type Job struct {
	ID     string
	UID    string
	SendAt time.Time
	Sent   bool
	Title  string
	Body   string
	Type   string

	// Lease, only written when job claiming is enabled.
	ClaimedBy string
	ClaimedAt time.Time

	Outcome Outcome
}

// ScheduleRequest is what producers submit to put a job on the queue.
type ScheduleRequest struct {
	UID    string    `json:"uid"`
	SendAt time.Time `json:"sendAt"`
	Title  string    `json:"title,omitempty"`
	Body   string    `json:"body,omitempty"`
	Type   string    `json:"type,omitempty"`
}

// Validate checks the request and fills SendAt with now when it is unset.
func (r *ScheduleRequest) Validate(now time.Time) error {
	r.UID = strings.TrimSpace(r.UID)
	if r.UID == "" {
		return ErrMissingRecipient
	}
	if r.SendAt.IsZero() {
		r.SendAt = now
	}
	return nil
}

// Job converts the request into a pending job.
func (r ScheduleRequest) Job() Job {
	return Job{
		UID:    r.UID,
		SendAt: r.SendAt,
		Title:  r.Title,
		Body:   r.Body,
		Type:   r.Type,
	}
}

// Platform names the delivery service a token belongs to.
type Platform string

const (
	PlatformFCM  Platform = "fcm"
	PlatformAPNS Platform = "apns"
)

// ParsePlatform maps a stored value to a Platform. Empty means FCM, which is
// what the web client registers.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case "", PlatformFCM:
		return PlatformFCM, nil
	case PlatformAPNS:
		return PlatformAPNS, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

// DeviceToken is one entry of users/{uid}/fcmTokens. The token value is also
// the document id.
type DeviceToken struct {
	Token     string
	Platform  Platform
	CreatedAt time.Time
}

// TokenValues returns the raw token strings, skipping empty ones.
func TokenValues(tokens []DeviceToken) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Token != "" {
			out = append(out, t.Token)
		}
	}
	return out
}
