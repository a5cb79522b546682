package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/coordi/internal/convlog"
	"github.com/ashureev/coordi/internal/dialogue"
	"github.com/ashureev/coordi/internal/gateway"
	"github.com/ashureev/coordi/internal/identity"
	"github.com/ashureev/coordi/internal/view"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const conversationChannel = "dialogue_http"

// CredentialReader exposes the held credential.
type CredentialReader interface {
	Get() (identity.Credential, bool)
}

// DialogueConfig wires a DialogueHandler.
type DialogueConfig struct {
	Reasoner    dialogue.Reasoner
	Finalizer   dialogue.Finalizer
	Credentials CredentialReader
	Registry    *Registry
	// ConversationLog may be nil.
	ConversationLog *convlog.Logger
	LoginPath       string
	Logger          *slog.Logger
}

// DialogueHandler serves the dialogue session endpoints.
type DialogueHandler struct {
	cfg    DialogueConfig
	stream *StreamHandler
	logger *slog.Logger
}

// NewDialogueHandler creates a dialogue handler.
func NewDialogueHandler(cfg DialogueConfig, stream *StreamHandler) *DialogueHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	return &DialogueHandler{cfg: cfg, stream: stream, logger: logger}
}

// RegisterRoutes registers dialogue routes.
func (h *DialogueHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/dialogue/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Post("/messages", h.Message)
			r.Post("/confirm", h.Confirm)
			r.Post("/another", h.Another)
			if h.stream != nil {
				r.Get("/stream", h.stream.ServeHTTP)
			}
		})
	})
}

type messageRequest struct {
	Message string `json:"message"`
}

// Create mounts a new dialogue view and runs its opening turn.
func (h *DialogueHandler) Create(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.cfg.Credentials.Get()
	if !ok {
		h.loginRequired(w, "login required")
		return
	}

	id := uuid.NewString()
	hub := h.cfg.Registry.Hub()
	var recorder dialogue.TurnRecorder
	if h.cfg.ConversationLog != nil {
		recorder = h.cfg.ConversationLog.Recorder(cred.UserID, conversationChannel)
	}
	username := cred.Username
	ctrl := dialogue.NewController(dialogue.Options{
		ID:        id,
		Reasoner:  h.cfg.Reasoner,
		Finalizer: h.cfg.Finalizer,
		Recorder:  recorder,
		Logger:    h.logger,
		OnChange: func(snap dialogue.Snapshot) {
			v := view.Project(snap, username)
			hub.Publish(id, Event{Type: EventView, View: &v})
		},
	})
	sess := h.cfg.Registry.NewSession(ctrl, cred.UserID, cred.Username)

	h.logger.Info("Dialogue session created",
		"session_id", id,
		"user_id", cred.UserID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	err := ctrl.Start(r.Context())
	h.respond(w, sess, err, http.StatusCreated)
}

// Get returns the current view.
func (h *DialogueHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess.View())
}

// Delete discards the session, like navigating away.
func (h *DialogueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.cfg.Registry.Discard(id) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Message submits a user turn.
func (h *DialogueHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.turn(w, r, func(c *dialogue.Controller, ctx context.Context) error {
		return c.Send(ctx, req.Message)
	})
}

// Confirm submits the confirmation turn.
func (h *DialogueHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.turn(w, r, (*dialogue.Controller).Confirm)
}

// Another asks for a different proposal.
func (h *DialogueHandler) Another(w http.ResponseWriter, r *http.Request) {
	h.turn(w, r, (*dialogue.Controller).Another)
}

func (h *DialogueHandler) turn(w http.ResponseWriter, r *http.Request, op func(*dialogue.Controller, context.Context) error) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if !sess.limiter.Allow() {
		h.logger.Warn("Dialogue turn rate limited", "session_id", sess.ID, "user_id", sess.UserID)
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	h.respond(w, sess, op(sess.ctrl, r.Context()), http.StatusOK)
}

type errorWithView struct {
	Error string    `json:"error"`
	View  view.View `json:"view"`
}

// respond maps a turn outcome onto a status code. Failed turns already carry
// their message as an assistant turn in the view.
func (h *DialogueHandler) respond(w http.ResponseWriter, sess *Session, err error, okStatus int) {
	var apiErr *gateway.APIError
	switch {
	case err == nil:
		JSON(w, okStatus, sess.View())
	case errors.Is(err, gateway.ErrSessionExpired):
		h.loginRequired(w, "session expired")
	case errors.Is(err, dialogue.ErrEmptyUtterance):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dialogue.ErrTurnInFlight), errors.Is(err, dialogue.ErrFinalized):
		JSON(w, http.StatusConflict, errorWithView{Error: err.Error(), View: sess.View()})
	case errors.Is(err, dialogue.ErrClosed):
		Error(w, http.StatusGone, err.Error())
	case errors.As(err, &apiErr):
		JSON(w, http.StatusBadGateway, errorWithView{Error: apiErr.Message, View: sess.View()})
	default:
		JSON(w, http.StatusBadGateway, errorWithView{Error: err.Error(), View: sess.View()})
	}
}

func (h *DialogueHandler) loginRequired(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusUnauthorized, map[string]string{"error": msg, "redirect": h.cfg.LoginPath})
}

func (h *DialogueHandler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := h.cfg.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
