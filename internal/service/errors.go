package service

import "errors"

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrFolderNotFound    = errors.New("folder not found")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrTemplateNotFound  = errors.New("template not found")
)
