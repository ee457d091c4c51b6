package handler

import (
	"encoding/json"
	"net/http"

	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/service"
	"quillmark-local-engine/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type FolderHandler struct {
	folderService *service.FolderService
	validate      *validator.Validate
}

func NewFolderHandler(folderService *service.FolderService) *FolderHandler {
	return &FolderHandler{
		folderService: folderService,
		validate:      validator.New(),
	}
}

func (h *FolderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	folder, err := h.folderService.Create(&req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, folder)
}

func (h *FolderHandler) List(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		response.BadRequest(w, "workspace_id is required")
		return
	}

	folders, err := h.folderService.List(workspaceID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, folders)
}

func (h *FolderHandler) Get(w http.ResponseWriter, r *http.Request) {
	folder, err := h.folderService.Get(mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, folder)
}
