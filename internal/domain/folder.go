package domain

import "time"

type Folder struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	ParentID    *string   `json:"parent_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

type CreateFolderRequest struct {
	WorkspaceID string  `json:"workspace_id" validate:"required"`
	ParentID    *string `json:"parent_id"`
	Name        string  `json:"name" validate:"required,min=1,max=255"`
}
