package service

import (
	"time"

	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/repository"

	"github.com/google/uuid"
)

// DefaultWorkspaceName is what the first-run workspace is called.
const DefaultWorkspaceName = "My Workspace"

type WorkspaceService struct {
	workspaces repository.WorkspaceRepository
	documents  repository.DocumentRepository
}

func NewWorkspaceService(workspaces repository.WorkspaceRepository, documents repository.DocumentRepository) *WorkspaceService {
	return &WorkspaceService{
		workspaces: workspaces,
		documents:  documents,
	}
}

// EnsureDefault makes sure one default workspace exists, creating it on
// first run. Called once at startup.
func (s *WorkspaceService) EnsureDefault() (*domain.Workspace, error) {
	ws, err := s.workspaces.FindDefault()
	if err == nil {
		return ws, nil
	}
	if err != repository.ErrNotFound {
		return nil, err
	}

	now := time.Now()
	ws = &domain.Workspace{
		ID:        uuid.New().String(),
		Name:      DefaultWorkspaceName,
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.workspaces.Create(ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *WorkspaceService) Create(req *domain.CreateWorkspaceRequest) (*domain.WorkspaceResponse, error) {
	now := time.Now()
	ws := &domain.Workspace{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.workspaces.Create(ws); err != nil {
		return nil, err
	}

	return s.toResponse(ws), nil
}

func (s *WorkspaceService) Get(id string) (*domain.WorkspaceResponse, error) {
	ws, err := s.workspaces.FindByID(id)
	if err == repository.ErrNotFound {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.toResponse(ws), nil
}

func (s *WorkspaceService) List() ([]*domain.WorkspaceResponse, error) {
	workspaces, err := s.workspaces.List()
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.WorkspaceResponse, len(workspaces))
	for i, ws := range workspaces {
		responses[i] = s.toResponse(ws)
	}
	return responses, nil
}

func (s *WorkspaceService) toResponse(ws *domain.Workspace) *domain.WorkspaceResponse {
	resp := &domain.WorkspaceResponse{
		ID:        ws.ID,
		Name:      ws.Name,
		CloudID:   ws.CloudID,
		IsDefault: ws.IsDefault,
		CreatedAt: ws.CreatedAt,
		UpdatedAt: ws.UpdatedAt,
	}

	if docs, err := s.documents.ListByWorkspace(ws.ID); err == nil {
		resp.DocumentCount = len(docs)
	}
	return resp
}
