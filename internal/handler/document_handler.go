package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/service"
	"quillmark-local-engine/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type DocumentHandler struct {
	documentService *service.DocumentService
	validate        *validator.Validate
}

func NewDocumentHandler(documentService *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		validate:        validator.New(),
	}
}

func (h *DocumentHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req domain.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	res := h.documentService.Import(&req)
	if res.IsFailure() {
		writeServiceError(w, res.Err())
		return
	}

	response.Created(w, res.Value())
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		response.BadRequest(w, "workspace_id is required")
		return
	}

	docs, err := h.documentService.List(workspaceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, docs)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documentService.Get(mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, doc)
}

func (h *DocumentHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	res := h.documentService.UpdateMetadata(mux.Vars(r)["id"], &req)
	if res.IsFailure() {
		writeServiceError(w, res.Err())
		return
	}

	response.Success(w, res.Value())
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res := h.documentService.DeleteCascade(mux.Vars(r)["id"])
	if res.IsFailure() {
		writeServiceError(w, res.Err())
		return
	}

	response.Success(w, res.Value())
}

func (h *DocumentHandler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	var req domain.ApplyTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	res := h.documentService.ApplyTemplate(&req)
	if res.IsFailure() {
		writeServiceError(w, res.Err())
		return
	}

	response.Created(w, res.Value())
}

// writeServiceError maps service sentinels onto HTTP statuses. Services
// wrap sentinels with context, so matching goes through errors.Is.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrDocumentNotFound),
		errors.Is(err, service.ErrWorkspaceNotFound),
		errors.Is(err, service.ErrFolderNotFound),
		errors.Is(err, service.ErrTemplateNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, service.ErrNotAuthenticated):
		response.Unauthorized(w, err.Error())
	default:
		response.InternalError(w, err.Error())
	}
}
