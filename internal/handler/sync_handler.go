package handler

import (
	"net/http"
	"strings"

	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/service"
	"quillmark-local-engine/pkg/response"

	"github.com/gorilla/mux"
)

type SyncHandler struct {
	reconciler *service.ReconcilerService
}

func NewSyncHandler(reconciler *service.ReconcilerService) *SyncHandler {
	return &SyncHandler{reconciler: reconciler}
}

func (h *SyncHandler) PushDocument(w http.ResponseWriter, r *http.Request) {
	writeOutcome(w, h.reconciler.PushDocument(r.Context(), mux.Vars(r)["id"]))
}

func (h *SyncHandler) PullDocument(w http.ResponseWriter, r *http.Request) {
	writeOutcome(w, h.reconciler.PullDocument(r.Context(), mux.Vars(r)["id"]))
}

func (h *SyncHandler) PushFolder(w http.ResponseWriter, r *http.Request) {
	writeOutcome(w, h.reconciler.PushFolder(r.Context(), mux.Vars(r)["id"]))
}

func (h *SyncHandler) MarkAsLocalOnly(w http.ResponseWriter, r *http.Request) {
	writeOutcome(w, h.reconciler.MarkAsLocalOnly(mux.Vars(r)["id"]))
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	record, err := h.reconciler.GetSyncStatus(mux.Vars(r)["id"])
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	response.Success(w, record)
}

// writeOutcome always ships the full outcome so the UI can render the
// per-document badge; the HTTP status mirrors the failure class.
func writeOutcome(w http.ResponseWriter, outcome *domain.SyncOutcome) {
	response.JSON(w, outcomeStatusCode(outcome), outcome)
}

func outcomeStatusCode(outcome *domain.SyncOutcome) int {
	if outcome.Success {
		return http.StatusOK
	}
	switch {
	case outcome.Error == "Not authenticated":
		return http.StatusUnauthorized
	case outcome.Status == domain.SyncStatusConflict:
		return http.StatusConflict
	case strings.Contains(outcome.Error, "not found"):
		return http.StatusNotFound
	case outcome.Error == "Cloud unavailable":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
