package service

import (
	"context"
	"errors"

	"quillmark-local-engine/internal/repository"
)

// DocumentContentSource feeds hydration from the metadata store. A
// missing or soft-deleted document yields empty results rather than an
// error; hydration then reports an empty replica.
type DocumentContentSource struct {
	documents repository.DocumentRepository
}

func NewDocumentContentSource(documents repository.DocumentRepository) *DocumentContentSource {
	return &DocumentContentSource{documents: documents}
}

func (s *DocumentContentSource) BinaryState(ctx context.Context, documentID string) ([]byte, error) {
	doc, err := s.documents.FindByID(documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if doc.IsDeleted || len(doc.State) == 0 {
		return nil, nil
	}
	return doc.State, nil
}

func (s *DocumentContentSource) LegacyContent(ctx context.Context, documentID string) (markdown, html string, err error) {
	doc, err := s.documents.FindByID(documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", "", nil
		}
		return "", "", err
	}
	if doc.IsDeleted {
		return "", "", nil
	}
	return doc.Content, doc.LegacyHTML, nil
}
