package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/coordi/internal/auth"
	"github.com/ashureev/coordi/internal/gateway"
	"github.com/ashureev/coordi/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Authenticator is the login client the auth endpoints use.
type Authenticator interface {
	Login(ctx context.Context, form auth.Credentials) (auth.Result, error)
	Logout(ctx context.Context) error
	Me() (identity.Credential, bool)
}

// AuthHandler serves login, logout and the current user.
type AuthHandler struct {
	auth     Authenticator
	registry *Registry
}

// NewAuthHandler creates an auth handler. Logging out discards every
// dialogue session in registry.
func NewAuthHandler(a Authenticator, registry *Registry) *AuthHandler {
	return &AuthHandler{auth: a, registry: registry}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
}

// Login exchanges a username and password for a credential.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var form auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.auth.Login(r.Context(), form)
	if err != nil {
		var (
			apiErr  *gateway.APIError
			invalid validator.ValidationErrors
		)
		switch {
		case errors.As(err, &invalid):
			Error(w, http.StatusBadRequest, "username and password are required")
		case errors.Is(err, auth.ErrLoginRejected):
			Error(w, http.StatusUnauthorized, err.Error())
		case errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError:
			Error(w, apiErr.StatusCode, apiErr.Message)
		default:
			Error(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"user_id":  res.Credential.UserID,
		"username": res.Credential.Username,
		"message":  res.Message,
	})
}

// Logout drops the credential and every open dialogue.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		Error(w, http.StatusInternalServerError, "failed to clear credential")
		return
	}
	if h.registry != nil {
		h.registry.DiscardAll()
	}
	JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me returns the current user handle.
func (h *AuthHandler) Me(w http.ResponseWriter, _ *http.Request) {
	cred, ok := h.auth.Me()
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"user_id":  cred.UserID,
		"username": cred.Username,
	})
}
