package dispatch

// ErrorCode classifies a per-token delivery failure. Platform adapters map
// their native errors onto this closed set.
type ErrorCode string

const (
	CodeUnregistered        ErrorCode = "registration-token-not-registered"
	CodeInvalidToken        ErrorCode = "invalid-registration-token"
	CodeInvalidArgument     ErrorCode = "invalid-argument"
	CodeQuotaExceeded       ErrorCode = "message-rate-exceeded"
	CodeSenderMismatch      ErrorCode = "mismatched-credential"
	CodeThirdPartyAuth      ErrorCode = "third-party-auth-error"
	CodeUnavailable         ErrorCode = "server-unavailable"
	CodeInternal            ErrorCode = "internal-error"
	CodeUnsupportedPlatform ErrorCode = "unsupported-platform"
	CodeUnknown             ErrorCode = "unknown-error"
)

// deadTokenCodes is matched exactly. Anything else leaves the token in place.
var deadTokenCodes = map[ErrorCode]struct{}{
	CodeUnregistered: {},
	CodeInvalidToken: {},
}

// IsDeadToken reports whether the code means the registration is permanently gone.
func (c ErrorCode) IsDeadToken() bool {
	_, ok := deadTokenCodes[c]
	return ok
}

// TokenResult is the outcome for one token of a multicast.
type TokenResult struct {
	Token     string
	Success   bool
	MessageID string
	Code      ErrorCode
	Err       error
}

// MulticastResult is the outcome of one Pusher.Send call. Responses follow
// the order of the tokens passed in.
type MulticastResult struct {
	SuccessCount int
	FailureCount int
	Responses    []TokenResult
}

// DeadTokens returns the failed tokens whose code marks them as dead.
func (r *MulticastResult) DeadTokens() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var dead []string
	for _, resp := range r.Responses {
		if resp.Success || !resp.Code.IsDeadToken() {
			continue
		}
		if _, dup := seen[resp.Token]; dup {
			continue
		}
		seen[resp.Token] = struct{}{}
		dead = append(dead, resp.Token)
	}
	return dead
}

// Add appends one token result and keeps the tallies in step.
func (r *MulticastResult) Add(res TokenResult) {
	if res.Success {
		r.SuccessCount++
	} else {
		r.FailureCount++
	}
	r.Responses = append(r.Responses, res)
}
