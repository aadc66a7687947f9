package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"

	"github.com/ashureev/botdash/internal/envfile"
	"github.com/ashureev/botdash/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// LegacyTokenEnv is the variable holding the single-token configuration.
const LegacyTokenEnv = "DISCORD_BOT_TOKEN"

// TokenHandler serves the legacy single-token setup endpoint.
type TokenHandler struct {
	*Handler
	setupKey string
	envFile  string
}

// NewTokenHandler creates a token handler. An empty setupKey disables the endpoint.
func NewTokenHandler(base *Handler, setupKey, envFile string) *TokenHandler {
	return &TokenHandler{Handler: base, setupKey: setupKey, envFile: envFile}
}

// RegisterRoutes registers the token route.
func (h *TokenHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/token/save", h.Save)
}

type saveTokenRequest struct {
	Token    string `json:"token"`
	SetupKey string `json:"setup_key"`
}

// Save checks a bot token with a trial login, stores it in the env file and
// points the legacy bot at it.
func (h *TokenHandler) Save(w http.ResponseWriter, r *http.Request) {
	if h.setupKey == "" {
		Error(w, http.StatusServiceUnavailable, "setup key not configured")
		return
	}

	var req saveTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	key := r.Header.Get(middleware.SetupKeyHeader)
	if key == "" {
		key = req.SetupKey
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.setupKey)) != 1 {
		Error(w, http.StatusUnauthorized, "invalid setup key")
		return
	}

	token, tag, err := h.bots.CheckToken(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := envfile.Set(h.envFile, LegacyTokenEnv, token); err != nil {
		writeError(w, r, err)
		return
	}
	if err := os.Setenv(LegacyTokenEnv, token); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.bots.SaveLegacyToken(r.Context(), token, tag); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("Legacy token saved", "env_file", h.envFile, "tag", tag)
	JSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
