package api

import (
	"net/http"

	"github.com/ashureev/botdash/internal/identity"
	"github.com/go-chi/chi/v5"
)

// BotHandler handles bot registry endpoints.
type BotHandler struct {
	*Handler
}

// NewBotHandler creates a new bot handler.
func NewBotHandler(base *Handler) *BotHandler {
	return &BotHandler{Handler: base}
}

// RegisterRoutes registers bot routes.
func (h *BotHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/bot/status", h.Status)
	r.Get("/api/bots", h.List)
	r.Post("/api/bots", h.Create)
	r.Post("/api/bots/{id}/start", h.Start)
	r.Post("/api/bots/{id}/stop", h.Stop)
	r.Delete("/api/bots/{id}", h.Delete)
}

type createBotRequest struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// List returns every bot without tokens.
func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.bots.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "bots": list})
}

// Status returns the registry aggregate.
func (h *BotHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.bots.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// Create validates a token with a trial login and registers the bot.
func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "login required")
		return
	}

	var req createBotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	bot, err := h.bots.Create(r.Context(), user, req.Token, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "bot": bot})
}

// Start connects an owned bot.
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	online, err := h.bots.Start(r.Context(), chi.URLParam(r, "id"), identity.UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "online": online})
}

// Stop disconnects an owned bot.
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.bots.Stop(r.Context(), chi.URLParam(r, "id"), identity.UserFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Delete removes an owned bot.
func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.bots.Delete(r.Context(), chi.URLParam(r, "id"), identity.UserFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
