// --- File: internal/api/token_api.go ---
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger,
	}
}

// RegisterTokenRequest is the body of both token routes. Platform is
// ignored on unregister.
type RegisterTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform,omitempty"`
}

func (api *TokenAPI) RegisterToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	token := strings.TrimSpace(req.Token)
	if token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	// The token is the document id, so it cannot contain a path separator.
	if strings.Contains(token, "/") {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid token")
		return
	}
	platform, err := dispatch.ParsePlatform(req.Platform)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	if err := api.Store.RegisterToken(ctx, userID, dispatch.DeviceToken{Token: token, Platform: platform}); err != nil {
		api.Logger.Error("failed to register token", "uid", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterToken: token registered", "uid", userID, "platform", platform)

	w.WriteHeader(http.StatusNoContent)
}

func (api *TokenAPI) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.UnregisterToken(ctx, userID, strings.TrimSpace(req.Token)); err != nil {
		// Log but don't fail hard; idempotency is preferred for unregister
		api.Logger.Warn("failed to unregister token", "uid", userID, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
