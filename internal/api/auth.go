package api

import (
	"net/http"

	"github.com/ashureev/botdash/internal/identity"
	"github.com/ashureev/botdash/internal/users"
	"github.com/go-chi/chi/v5"
)

// AuthHandler handles account and session endpoints.
type AuthHandler struct {
	*Handler
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *Handler) *AuthHandler {
	return &AuthHandler{Handler: base}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/register", h.Register)
	r.Post("/api/login", h.Login)
	r.Post("/api/logout", h.Logout)
	r.Get("/api/me", h.GetMe)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Type     string `json:"type"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.users.Register(r.Context(), users.RegisterInput{
		Username:    req.Username,
		Password:    req.Password,
		AccountType: req.Type,
		Email:       req.Email,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": user})
}

// Login checks credentials and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.sessions.Create(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	identity.SetSessionCookie(w, token, h.sessions.TTL(), h.cookieSecure)
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": user})
}

// Logout ends the caller's session. It succeeds without one.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := identity.TokenFromContext(r.Context()); token != "" {
		if err := h.sessions.Destroy(r.Context(), token); err != nil {
			writeError(w, r, err)
			return
		}
	}

	identity.ClearSessionCookie(w, h.cookieSecure)
	JSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// GetMe returns the caller's account or null.
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": user.Public()})
}
