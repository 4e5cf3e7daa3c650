// --- File: internal/api/dispatch_api.go ---
package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/JULAME/trianglerh-web/internal/dispatcher"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// DispatchAPI runs a cycle on demand, for an external cron or an operator.
// It is guarded by a shared bearer token rather than user JWTs.
type DispatchAPI struct {
	Runner       dispatcher.CycleRunner
	TriggerToken string
	Logger       *slog.Logger
}

func NewDispatchAPI(runner dispatcher.CycleRunner, triggerToken string, logger *slog.Logger) *DispatchAPI {
	return &DispatchAPI{
		Runner:       runner,
		TriggerToken: triggerToken,
		Logger:       logger,
	}
}

type CycleResponse struct {
	RunID      string `json:"runId"`
	Selected   int    `json:"selected"`
	Sent       int    `json:"sent"`
	NoTokens   int    `json:"noTokens"`
	Errored    int    `json:"errored"`
	Skipped    int    `json:"skipped"`
	DurationMs int64  `json:"durationMs"`
}

func (api *DispatchAPI) Trigger(w http.ResponseWriter, r *http.Request) {
	if !api.authorized(r) {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	report, err := api.Runner.RunCycle(r.Context())
	if err != nil {
		if errors.Is(err, dispatch.ErrCycleInProgress) {
			response.WriteJSONError(w, http.StatusConflict, "dispatch cycle already running")
			return
		}
		api.Logger.Error("Triggered cycle failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "dispatch cycle failed")
		return
	}

	writeJSON(w, http.StatusOK, CycleResponse{
		RunID:      report.RunID,
		Selected:   report.Selected,
		Sent:       report.Sent,
		NoTokens:   report.NoTokens,
		Errored:    report.Errored,
		Skipped:    report.Skipped,
		DurationMs: report.Duration.Milliseconds(),
	})
}

// authorized rejects everything when no trigger token is configured.
func (api *DispatchAPI) authorized(r *http.Request) bool {
	if api.TriggerToken == "" {
		return false
	}
	presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(api.TriggerToken)) == 1
}
