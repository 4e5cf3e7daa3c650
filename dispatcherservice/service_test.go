// --- File: dispatcherservice/service_test.go ---
package dispatcherservice_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/JULAME/trianglerh-web/dispatcherservice"
	"github.com/JULAME/trianglerh-web/dispatcherservice/config"
	"github.com/JULAME/trianglerh-web/internal/api"
	"github.com/JULAME/trianglerh-web/internal/storage/memory"
	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

type acceptAllPusher struct{}

func (acceptAllPusher) Send(_ context.Context, tokens []dispatch.DeviceToken, _ notification.NotificationContent, _ map[string]string) (*dispatch.MulticastResult, error) {
	res := &dispatch.MulticastResult{}
	for _, t := range tokens {
		res.Add(dispatch.TokenResult{Token: t.Token, Success: true})
	}
	return res, nil
}

func noopAuth(h http.Handler) http.Handler { return h }

func newTestConfig() *config.Config {
	return &config.Config{
		ListenAddr:     ":0",
		StorageBackend: config.StorageMemory,
		TriggerToken:   "cron-secret",
		Dispatch: config.DispatchConfig{
			Interval:   time.Minute,
			BatchLimit: 50,
		},
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := dispatcherservice.New(newTestConfig(), dispatcherservice.Dependencies{AuthMiddleware: noopAuth}, logger)
	assert.Error(t, err)

	cfg := newTestConfig()
	cfg.Intake.Enabled = true
	_, err = dispatcherservice.New(cfg, dispatcherservice.Dependencies{
		Store:          memory.NewStore(),
		Pusher:         acceptAllPusher{},
		AuthMiddleware: noopAuth,
	}, logger)
	assert.Error(t, err, "intake without a consumer must be rejected")
}

func TestTriggerRoute_RunsCycle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	require.NoError(t, store.RegisterToken(context.Background(), "u1", dispatch.DeviceToken{Token: "tokA"}))
	jobID := store.PutJob(dispatch.Job{UID: "u1", SendAt: time.Now().Add(-time.Minute)})

	svc, err := dispatcherservice.New(newTestConfig(), dispatcherservice.Dependencies{
		Store:          store,
		Pusher:         acceptAllPusher{},
		AuthMiddleware: noopAuth,
	}, logger)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/dispatch", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	svc.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.CycleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Sent)

	job, _ := store.Job(jobID)
	assert.True(t, job.Sent)
	assert.Equal(t, dispatch.ResultSent, job.Outcome.Result)

	metricsRec := httptest.NewRecorder()
	svc.Mux().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.True(t, strings.Contains(metricsRec.Body.String(), "dispatcher_jobs_total"))
}
