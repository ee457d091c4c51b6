package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/persistence"
	"quillmark-local-engine/internal/replica"
	"quillmark-local-engine/internal/repository"
	"quillmark-local-engine/pkg/hash"
	"quillmark-local-engine/pkg/htmlconv"
	"quillmark-local-engine/pkg/result"

	"github.com/google/uuid"
)

// UpdateLog is the slice of the persistence store the cascade delete
// needs: dropping every CRDT update a document ever wrote.
type UpdateLog interface {
	DropNamespace(namespace string) error
}

type DocumentService struct {
	documents   repository.DocumentRepository
	workspaces  repository.WorkspaceRepository
	templates   repository.TemplateRepository
	diagrams    repository.DiagramRepository
	syncRecords repository.SyncRecordRepository

	updateLog UpdateLog
	replicas  *replica.Registry

	session AuthState
	remote  RemoteAPI
}

func NewDocumentService(
	documents repository.DocumentRepository,
	workspaces repository.WorkspaceRepository,
	templates repository.TemplateRepository,
	diagrams repository.DiagramRepository,
	syncRecords repository.SyncRecordRepository,
	updateLog UpdateLog,
	replicas *replica.Registry,
	session AuthState,
	remote RemoteAPI,
) *DocumentService {
	return &DocumentService{
		documents:   documents,
		workspaces:  workspaces,
		templates:   templates,
		diagrams:    diagrams,
		syncRecords: syncRecords,
		updateLog:   updateLog,
		replicas:    replicas,
		session:     session,
		remote:      remote,
	}
}

// Import brings an external document into the workspace. HTML-only
// imports are converted to markdown up front; the raw HTML is kept on
// the record for fidelity.
func (s *DocumentService) Import(req *domain.ImportRequest) result.Result[*domain.DocumentResponse] {
	if _, err := s.workspaces.FindByID(req.WorkspaceID); err != nil {
		if err == repository.ErrNotFound {
			return result.Fail[*domain.DocumentResponse](ErrWorkspaceNotFound)
		}
		return result.Fail[*domain.DocumentResponse](err)
	}

	content := req.Markdown
	legacyHTML := ""
	if content == "" && req.HTML != "" {
		converted, err := htmlconv.ToMarkdown(req.HTML)
		if err != nil {
			return result.Fail[*domain.DocumentResponse](fmt.Errorf("failed to convert html: %w", err))
		}
		content = converted
		legacyHTML = req.HTML
	}

	now := time.Now()
	doc := &domain.Document{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		FolderID:    req.FolderID,
		Title:       req.Title,
		Kind:        req.Kind,
		Content:     content,
		LegacyHTML:  legacyHTML,
		Tags:        req.Tags,
		Storage:     domain.StorageLocalOnly,
		ContentHash: hash.Content([]byte(content)),
		WordCount:   countWords(content),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	if err := s.documents.Create(doc); err != nil {
		return result.Fail[*domain.DocumentResponse](fmt.Errorf("failed to import document: %w", err))
	}

	return result.Ok(toDocumentResponse(doc))
}

func (s *DocumentService) Get(id string) (*domain.DocumentResponse, error) {
	doc, err := s.documents.FindByID(id)
	if err == repository.ErrNotFound {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDocumentResponse(doc), nil
}

func (s *DocumentService) List(workspaceID string) ([]*domain.DocumentResponse, error) {
	docs, err := s.documents.ListByWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.DocumentResponse, len(docs))
	for i, doc := range docs {
		responses[i] = toDocumentResponse(doc)
	}
	return responses, nil
}

// UpdateMetadata applies partial metadata edits. A document that was
// synced drops back to modified so the UI knows a push is due.
func (s *DocumentService) UpdateMetadata(id string, req *domain.UpdateMetadataRequest) result.Result[*domain.DocumentResponse] {
	doc, err := s.documents.FindByID(id)
	if err == repository.ErrNotFound {
		return result.Fail[*domain.DocumentResponse](ErrDocumentNotFound)
	}
	if err != nil {
		return result.Fail[*domain.DocumentResponse](err)
	}

	if req.Title != nil {
		doc.Title = *req.Title
	}
	if req.FolderID != nil {
		if *req.FolderID == "" {
			doc.FolderID = nil
		} else {
			doc.FolderID = req.FolderID
		}
	}
	if req.Tags != nil {
		doc.Tags = *req.Tags
	}
	if req.IsStarred != nil {
		doc.IsStarred = *req.IsStarred
	}
	if req.IsTemplate != nil {
		doc.IsTemplate = *req.IsTemplate
	}
	doc.Version++
	doc.UpdatedAt = time.Now()

	if err := s.documents.Update(doc); err != nil {
		return result.Fail[*domain.DocumentResponse](fmt.Errorf("failed to update document: %w", err))
	}

	if record, err := s.syncRecords.Get(id); err == nil && record.Status == domain.SyncStatusSynced {
		record.Status = domain.SyncStatusModified
		record.LocalVersion = doc.Version
		record.UpdatedAt = time.Now()
		if err := s.syncRecords.Put(record); err != nil {
			log.Printf("[document] failed to mark sync record modified: %v", err)
		}
	}

	return result.Ok(toDocumentResponse(doc))
}

// DeleteCascade removes the document, every diagram derived from it,
// its stored CRDT update log, and its live replica if one is open. The
// remote copy is removed best-effort when one is known.
func (s *DocumentService) DeleteCascade(id string) result.Result[*domain.DeleteSummary] {
	if _, err := s.documents.FindByID(id); err != nil {
		if err == repository.ErrNotFound {
			return result.Fail[*domain.DeleteSummary](ErrDocumentNotFound)
		}
		return result.Fail[*domain.DeleteSummary](err)
	}

	if s.replicas != nil {
		s.replicas.Destroy(id)
	}

	removed, err := s.diagrams.DeleteByDocument(id)
	if err != nil {
		return result.Fail[*domain.DeleteSummary](fmt.Errorf("failed to remove derived diagrams: %w", err))
	}

	if s.updateLog != nil {
		if err := s.updateLog.DropNamespace(persistence.Namespace(id)); err != nil {
			return result.Fail[*domain.DeleteSummary](fmt.Errorf("failed to drop update log: %w", err))
		}
	}

	s.deleteRemoteCopy(id)

	if err := s.syncRecords.Delete(id); err != nil {
		log.Printf("[document] failed to drop sync record for %s: %v", id, err)
	}

	if err := s.documents.SoftDelete(id); err != nil {
		return result.Fail[*domain.DeleteSummary](fmt.Errorf("failed to delete document: %w", err))
	}

	return result.Ok(&domain.DeleteSummary{
		DocumentID:      id,
		RemovedDiagrams: removed,
	})
}

// deleteRemoteCopy is best-effort: a local delete never fails because
// the cloud was unreachable.
func (s *DocumentService) deleteRemoteCopy(id string) {
	if s.remote == nil || s.session == nil || !s.session.IsAuthenticated() {
		return
	}
	record, err := s.syncRecords.Get(id)
	if err != nil || record.CloudID == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.remote.DeleteDocument(ctx, *record.CloudID); err != nil {
		log.Printf("[document] failed to delete remote copy of %s: %v", id, err)
	}
}

// ApplyTemplate creates a document from a stored template, expanding
// {{title}} and {{date}} placeholders.
func (s *DocumentService) ApplyTemplate(req *domain.ApplyTemplateRequest) result.Result[*domain.DocumentResponse] {
	template, err := s.templates.FindByID(req.TemplateID)
	if err == repository.ErrNotFound {
		return result.Fail[*domain.DocumentResponse](ErrTemplateNotFound)
	}
	if err != nil {
		return result.Fail[*domain.DocumentResponse](err)
	}

	if _, err := s.workspaces.FindByID(req.WorkspaceID); err != nil {
		if err == repository.ErrNotFound {
			return result.Fail[*domain.DocumentResponse](ErrWorkspaceNotFound)
		}
		return result.Fail[*domain.DocumentResponse](err)
	}

	content := strings.ReplaceAll(template.Content, "{{title}}", req.Title)
	content = strings.ReplaceAll(content, "{{date}}", time.Now().Format("January 2, 2006"))

	now := time.Now()
	doc := &domain.Document{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		FolderID:    req.FolderID,
		Title:       req.Title,
		Kind:        template.Kind,
		Content:     content,
		Storage:     domain.StorageLocalOnly,
		ContentHash: hash.Content([]byte(content)),
		WordCount:   countWords(content),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	if err := s.documents.Create(doc); err != nil {
		return result.Fail[*domain.DocumentResponse](fmt.Errorf("failed to create document from template: %w", err))
	}

	return result.Ok(toDocumentResponse(doc))
}

func toDocumentResponse(doc *domain.Document) *domain.DocumentResponse {
	return &domain.DocumentResponse{
		ID:          doc.ID,
		WorkspaceID: doc.WorkspaceID,
		FolderID:    doc.FolderID,
		Title:       doc.Title,
		Kind:        doc.Kind,
		Tags:        doc.Tags,
		IsStarred:   doc.IsStarred,
		IsTemplate:  doc.IsTemplate,
		Storage:     doc.Storage,
		ContentHash: doc.ContentHash,
		WordCount:   doc.WordCount,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		Version:     doc.Version,
	}
}

func countWords(content string) int {
	return len(strings.Fields(content))
}
