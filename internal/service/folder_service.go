package service

import (
	"time"

	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/repository"

	"github.com/google/uuid"
)

type FolderService struct {
	folders    repository.FolderRepository
	workspaces repository.WorkspaceRepository
}

func NewFolderService(folders repository.FolderRepository, workspaces repository.WorkspaceRepository) *FolderService {
	return &FolderService{
		folders:    folders,
		workspaces: workspaces,
	}
}

func (s *FolderService) Create(req *domain.CreateFolderRequest) (*domain.Folder, error) {
	if _, err := s.workspaces.FindByID(req.WorkspaceID); err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrWorkspaceNotFound
		}
		return nil, err
	}

	now := time.Now()
	folder := &domain.Folder{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		ParentID:    req.ParentID,
		Name:        req.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	if err := s.folders.Create(folder); err != nil {
		return nil, err
	}
	return folder, nil
}

func (s *FolderService) List(workspaceID string) ([]*domain.Folder, error) {
	return s.folders.ListByWorkspace(workspaceID)
}

func (s *FolderService) Get(id string) (*domain.Folder, error) {
	folder, err := s.folders.FindByID(id)
	if err == repository.ErrNotFound {
		return nil, ErrFolderNotFound
	}
	if err != nil {
		return nil, err
	}
	return folder, nil
}
