package handler

import (
	"net/http"
	"time"

	"quillmark-local-engine/internal/websocket"
	"quillmark-local-engine/pkg/response"
)

type HealthHandler struct {
	manager *websocket.Manager
	started time.Time
}

func NewHealthHandler(manager *websocket.Manager) *HealthHandler {
	return &HealthHandler{
		manager: manager,
		started: time.Now(),
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(h.started).String(),
		"ws_clients": h.manager.ClientCount(),
	})
}
