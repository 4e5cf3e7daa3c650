// --- File: internal/api/schedule_api.go ---
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/JULAME/trianglerh-web/internal/metrics"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// ScheduleAPI lets an authenticated user put a notification on the queue.
type ScheduleAPI struct {
	Queue  dispatch.JobQueue
	Logger *slog.Logger
	Now    func() time.Time
}

func NewScheduleAPI(queue dispatch.JobQueue, logger *slog.Logger) *ScheduleAPI {
	return &ScheduleAPI{
		Queue:  queue,
		Logger: logger,
		Now:    time.Now,
	}
}

type ScheduleResponse struct {
	JobID  string    `json:"jobId"`
	SendAt time.Time `json:"sendAt"`
}

// Schedule enqueues a job. An empty uid targets the caller; an empty sendAt
// makes the job due on the next cycle.
func (api *ScheduleAPI) Schedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req dispatch.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UID == "" {
		req.UID = userID
	}
	if err := req.Validate(api.Now()); err != nil {
		if errors.Is(err, dispatch.ErrMissingRecipient) {
			response.WriteJSONError(w, http.StatusBadRequest, "missing uid")
			return
		}
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := api.Queue.Enqueue(ctx, req.Job())
	if err != nil {
		api.Logger.Error("failed to enqueue notification", "uid", req.UID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	metrics.JobsEnqueued.WithLabelValues("api").Inc()
	api.Logger.Info("Schedule: job enqueued", "job_id", jobID, "uid", req.UID, "requested_by", userID, "send_at", req.SendAt)

	writeJSON(w, http.StatusAccepted, ScheduleResponse{JobID: jobID, SendAt: req.SendAt})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
