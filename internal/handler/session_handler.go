package handler

import (
	"encoding/json"
	"net/http"

	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/service"
	"quillmark-local-engine/pkg/response"

	"github.com/go-playground/validator/v10"
)

// Broadcaster pushes engine-wide events to every connected UI client,
// regardless of document subscriptions.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

type SessionHandler struct {
	sessionService *service.SessionService
	broadcaster    Broadcaster
	validate       *validator.Validate
}

func NewSessionHandler(sessionService *service.SessionService, broadcaster Broadcaster) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		broadcaster:    broadcaster,
		validate:       validator.New(),
	}
}

// Set stores the cloud credential pair the UI obtained from sign-in.
// The engine never performs the sign-in itself.
func (h *SessionHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req domain.SetSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	status, err := h.sessionService.SetSession(&req)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	h.broadcaster.Broadcast("session_changed", status)
	response.Success(w, status)
}

// Clear drops the credentials. Live replicas are torn down through the
// logout hooks before this returns.
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.sessionService.Logout()
	h.broadcaster.Broadcast("session_changed", h.sessionService.Status())
	response.Success(w, map[string]string{"message": "session cleared"})
}

func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.sessionService.Status())
}

// Refresh forces a token refresh, mainly for the UI's "reconnect" button.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionService.Refresh(r.Context()); err != nil {
		response.Unauthorized(w, err.Error())
		return
	}
	response.Success(w, h.sessionService.Status())
}
