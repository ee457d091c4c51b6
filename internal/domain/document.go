package domain

import "time"

type DocumentKind string

const (
	KindMarkdown     DocumentKind = "markdown"
	KindMindmap      DocumentKind = "mindmap"
	KindPresentation DocumentKind = "presentation"
)

type StorageMode string

const (
	StorageLocalOnly  StorageMode = "local_only"
	StorageHybridSync StorageMode = "hybrid_sync"
	StorageCloudOnly  StorageMode = "cloud_only"
)

type Document struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id"`
	FolderID    *string      `json:"folder_id"`
	Title       string       `json:"title"`
	Kind        DocumentKind `json:"kind"`

	// Content is the markdown serialization kept alongside the CRDT
	// state: the hydration fallback and the push payload when no binary
	// state exists yet. LegacyHTML survives only on documents imported
	// from rendered exports and is consumed once by hydration.
	Content    string `json:"content,omitempty"`
	LegacyHTML string `json:"legacy_html,omitempty"`

	// State holds a binary CRDT snapshot that has not been replayed
	// into the local update log yet: pulled from the cloud while the
	// document was closed, or imported from a binary export. Hydration
	// consumes it with priority over Content.
	State []byte `json:"state,omitempty"`

	Tags       []string    `json:"tags,omitempty"`
	IsStarred  bool        `json:"is_starred"`
	IsTemplate bool        `json:"is_template"`
	Storage    StorageMode `json:"storage_mode"`

	ContentHash string `json:"content_hash"`
	WordCount   int    `json:"word_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsDeleted bool      `json:"is_deleted"`
	Version   int64     `json:"version"`
}

type ImportRequest struct {
	WorkspaceID string       `json:"workspace_id" validate:"required"`
	FolderID    *string      `json:"folder_id"`
	Title       string       `json:"title" validate:"required,min=1,max=500"`
	Kind        DocumentKind `json:"kind" validate:"required,oneof=markdown mindmap presentation"`
	Markdown    string       `json:"markdown"`
	HTML        string       `json:"html"`
	Tags        []string     `json:"tags"`
}

type UpdateMetadataRequest struct {
	Title      *string   `json:"title" validate:"omitempty,min=1,max=500"`
	FolderID   *string   `json:"folder_id"`
	Tags       *[]string `json:"tags"`
	IsStarred  *bool     `json:"is_starred"`
	IsTemplate *bool     `json:"is_template"`
}

type ApplyTemplateRequest struct {
	TemplateID  string  `json:"template_id" validate:"required"`
	WorkspaceID string  `json:"workspace_id" validate:"required"`
	FolderID    *string `json:"folder_id"`
	Title       string  `json:"title" validate:"required,min=1,max=500"`
}

type DocumentResponse struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id"`
	FolderID    *string      `json:"folder_id"`
	Title       string       `json:"title"`
	Kind        DocumentKind `json:"kind"`
	Tags        []string     `json:"tags,omitempty"`
	IsStarred   bool         `json:"is_starred"`
	IsTemplate  bool         `json:"is_template"`
	Storage     StorageMode  `json:"storage_mode"`
	ContentHash string       `json:"content_hash"`
	WordCount   int          `json:"word_count"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Version     int64        `json:"version"`
}

// DeleteSummary reports what a cascading delete removed so callers can
// surface accurate feedback without a second query.
type DeleteSummary struct {
	DocumentID      string `json:"document_id"`
	RemovedDiagrams int    `json:"removed_diagrams"`
}
