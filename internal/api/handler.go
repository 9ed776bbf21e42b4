// Package api exposes the request/response surface and the websocket
// endpoint that turns a connection into a live session handle.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/delivery"
	"github.com/parley-chat/parley/internal/gate"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

// Options tunes the transport-facing knobs.
type Options struct {
	SessionBuffer int     // outbound envelopes buffered per session
	TypingRate    float64 // typing frames allowed per second, per session
	TypingBurst   int
}

func (o Options) withDefaults() Options {
	if o.SessionBuffer <= 0 {
		o.SessionBuffer = 64
	}
	if o.TypingRate <= 0 {
		o.TypingRate = 5
	}
	if o.TypingBurst <= 0 {
		o.TypingBurst = 10
	}
	return o
}

// Handler carries the dependencies of the HTTP and websocket endpoints.
type Handler struct {
	db     *store.DB
	chat   *chat.Service
	gate   *gate.Gate
	auth   *auth.Authenticator
	reg    *presence.Registry[*delivery.Session]
	logger *zap.Logger
	opts   Options
}

// NewHandler creates the API handler.
func NewHandler(
	db *store.DB,
	svc *chat.Service,
	g *gate.Gate,
	authn *auth.Authenticator,
	reg *presence.Registry[*delivery.Session],
	logger *zap.Logger,
	opts Options,
) *Handler {
	return &Handler{
		db:     db,
		chat:   svc,
		gate:   g,
		auth:   authn,
		reg:    reg,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// Routes builds the router: public login/health/metrics plus the
// authenticated message and websocket surface.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/account/login", h.login).Methods(http.MethodPost)

	s := r.NewRoute().Subrouter()
	s.Use(h.auth.Middleware)
	s.HandleFunc("/ws", h.websocket).Methods(http.MethodGet)
	s.HandleFunc("/messages", h.send).Methods(http.MethodPost)
	s.HandleFunc("/messages/conversations", h.conversations).Methods(http.MethodGet)
	s.HandleFunc("/messages/unread-count", h.unreadCount).Methods(http.MethodGet)
	s.HandleFunc("/messages/{otherUserID:[0-9]+}", h.thread).Methods(http.MethodGet)
	s.HandleFunc("/messages/{messageID:[0-9]+}/read", h.markRead).Methods(http.MethodPut)
	s.HandleFunc("/messages/{messageID:[0-9]+}", h.deleteMessage).Methods(http.MethodDelete)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	KnownAs  string `json:"knownAs,omitempty"`
	Token    string `json:"token"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := h.db.GetUserByName(req.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if u == nil || !auth.VerifyPassword(req.Password, u.PasswordHash, u.PasswordSalt) {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	if err := h.gate.Login(u.ID); err != nil {
		h.writeError(w, err)
		return
	}

	token, err := h.auth.Issue(u.ID, u.UserName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = h.db.TouchLastActive(u.ID)

	h.writeJSON(w, http.StatusOK, loginResponse{
		ID:       u.ID,
		Username: u.UserName,
		KnownAs:  u.KnownAs,
		Token:    token,
	})
}

type sendRequest struct {
	RecipientID int64  `json:"recipientId"`
	Content     string `json:"content"`
	Reaction    string `json:"reaction,omitempty"`
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, chat.ErrUnauthenticated)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := h.chat.Send(uid, req.RecipientID, req.Content, req.Reaction)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, delivery.NewMessagePayload(m))
}

type conversationDTO struct {
	CounterpartID   int64                   `json:"counterpartId"`
	CounterpartName string                  `json:"counterpartName"`
	LastMessage     delivery.MessagePayload `json:"lastMessage"`
	UnreadCount     int                     `json:"unreadCount"`
}

func (h *Handler) conversations(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, chat.ErrUnauthenticated)
		return
	}
	convs, err := h.chat.Conversations(uid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]conversationDTO, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationDTO{
			CounterpartID:   c.CounterpartID,
			CounterpartName: c.CounterpartName,
			LastMessage:     delivery.NewMessagePayload(&c.LastMessage),
			UnreadCount:     c.UnreadCount,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) thread(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, chat.ErrUnauthenticated)
		return
	}
	otherID, _ := strconv.ParseInt(mux.Vars(r)["otherUserID"], 10, 64)

	msgs, err := h.chat.Messages(uid, otherID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]delivery.MessagePayload, 0, len(msgs))
	for i := range msgs {
		out = append(out, delivery.NewMessagePayload(&msgs[i]))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, chat.ErrUnauthenticated)
		return
	}
	messageID, _ := strconv.ParseInt(mux.Vars(r)["messageID"], 10, 64)

	// False is a no-op outcome (missing, not the recipient, already read),
	// not a fault.
	done, err := h.chat.MarkRead(messageID, uid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": done})
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, chat.ErrUnauthenticated)
		return
	}
	messageID, _ := strconv.ParseInt(mux.Vars(r)["messageID"], 10, 64)

	done, err := h.chat.Delete(messageID, uid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": done})
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, chat.ErrUnauthenticated)
		return
	}
	count, err := h.chat.UnreadCount(uid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"unreadCount": count})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

type bannedResponse struct {
	Error       string     `json:"error"`
	Reason      string     `json:"reason"`
	IsPermanent bool       `json:"isPermanent"`
	Expiry      *time.Time `json:"expiry,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var banned *chat.BannedError
	switch {
	case errors.As(err, &banned):
		h.writeJSON(w, http.StatusForbidden, bannedResponse{
			Error:       "banned",
			Reason:      banned.Reason,
			IsPermanent: banned.Permanent,
			Expiry:      banned.Expiry,
		})
	case errors.Is(err, chat.ErrEmailNotConfirmed):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "email_not_confirmed"})
	case errors.Is(err, chat.ErrUnauthenticated):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, chat.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, chat.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, chat.ErrInvalidParticipant), errors.Is(err, chat.ErrEmptyContent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
