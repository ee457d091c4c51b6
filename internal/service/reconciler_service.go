package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"quillmark-local-engine/internal/cloud"
	"quillmark-local-engine/internal/crdt"
	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/replica"
	"quillmark-local-engine/internal/repository"
	"quillmark-local-engine/pkg/hash"
)

// AuthState is the slice of the session the reconciler checks before
// touching the network.
type AuthState interface {
	IsAuthenticated() bool
}

// RemoteAPI is the cloud surface the reconciler and the use-cases
// drive. *cloud.Client satisfies it.
type RemoteAPI interface {
	GetDocument(ctx context.Context, id string) (*cloud.Document, error)
	CreateDocument(ctx context.Context, workspaceID string, req cloud.CreateDocumentRequest) (*cloud.Document, error)
	UpdateDocument(ctx context.Context, id string, req cloud.UpdateDocumentRequest) (*cloud.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	GetFolder(ctx context.Context, id string) (*cloud.Folder, error)
	CreateFolder(ctx context.Context, workspaceID string, req cloud.CreateFolderRequest) (*cloud.Folder, error)
	ListWorkspaces(ctx context.Context) ([]cloud.Workspace, error)
	CreateWorkspace(ctx context.Context, req cloud.CreateWorkspaceRequest) (*cloud.Workspace, error)
}

// Notifier carries live status events to the UI feed.
type Notifier interface {
	PublishDocumentEvent(documentID, event string, payload interface{})
}

// pullOrigin tags CRDT updates injected by a pull so the persistence
// observer stores them like any remote edit.
const pullOrigin = "reconciler"

// ReconcilerService pushes and pulls individual documents and folders
// between the local store and the cloud, one entity at a time, on
// explicit user action. Operations report through SyncOutcome and never
// return an error across this boundary.
type ReconcilerService struct {
	documents   repository.DocumentRepository
	folders     repository.FolderRepository
	workspaces  repository.WorkspaceRepository
	syncRecords repository.SyncRecordRepository

	remote   RemoteAPI
	session  AuthState
	replicas *replica.Registry
	notifier Notifier
}

func NewReconcilerService(
	documents repository.DocumentRepository,
	folders repository.FolderRepository,
	workspaces repository.WorkspaceRepository,
	syncRecords repository.SyncRecordRepository,
	remote RemoteAPI,
	session AuthState,
	replicas *replica.Registry,
	notifier Notifier,
) *ReconcilerService {
	return &ReconcilerService{
		documents:   documents,
		folders:     folders,
		workspaces:  workspaces,
		syncRecords: syncRecords,
		remote:      remote,
		session:     session,
		replicas:    replicas,
		notifier:    notifier,
	}
}

func (s *ReconcilerService) PushDocument(ctx context.Context, documentID string) *domain.SyncOutcome {
	if !s.session.IsAuthenticated() {
		return notAuthenticated()
	}

	doc, err := s.documents.FindByID(documentID)
	if err == repository.ErrNotFound {
		return failure(domain.SyncStatusError, "Document not found")
	}
	if err != nil {
		log.Printf("[reconciler] failed to load document %s: %v", documentID, err)
		return failure(domain.SyncStatusError, "Failed to load document")
	}

	record, err := s.syncRecords.Get(documentID)
	if err != nil {
		log.Printf("[reconciler] failed to load sync record %s: %v", documentID, err)
		return failure(domain.SyncStatusError, "Failed to load sync state")
	}

	record.Status = domain.SyncStatusSyncing
	record.UpdatedAt = time.Now()
	s.saveRecord(record)

	cloudWorkspaceID, err := s.resolveCloudWorkspace(ctx, doc.WorkspaceID)
	if err != nil {
		return s.fail(record, err)
	}

	content, state := s.currentContent(doc)

	var remote *cloud.Document
	if record.CloudID != nil {
		expected := record.RemoteVersion
		remote, err = s.remote.UpdateDocument(ctx, *record.CloudID, cloud.UpdateDocumentRequest{
			Title:           &doc.Title,
			Content:         &content,
			FolderID:        s.cloudFolderID(doc.FolderID),
			Tags:            doc.Tags,
			State:           state,
			ExpectedVersion: &expected,
		})
		switch {
		case errors.Is(err, cloud.ErrVersionConflict):
			record.Status = domain.SyncStatusConflict
			record.UpdatedAt = time.Now()
			s.saveRecord(record)
			// Absorb the newer remote state so both sides are visible
			// to the user; the refusal below is what they act on.
			if pulled := s.PullDocument(ctx, documentID); !pulled.Success {
				log.Printf("[reconciler] conflict pull for %s failed: %s", documentID, pulled.Error)
			}
			return failure(domain.SyncStatusConflict, "Remote version is newer")
		case errors.Is(err, cloud.ErrNotFound):
			// The remote copy is gone; recreate it below.
			record.CloudID = nil
			remote, err = nil, nil
		case err != nil:
			return s.fail(record, err)
		}
	}

	if record.CloudID == nil {
		remote, err = s.remote.CreateDocument(ctx, cloudWorkspaceID, cloud.CreateDocumentRequest{
			Title:       doc.Title,
			Content:     content,
			ContentType: string(doc.Kind),
			FolderID:    s.cloudFolderID(doc.FolderID),
			Tags:        doc.Tags,
			IsTemplate:  doc.IsTemplate,
			State:       state,
		})
		if err != nil {
			return s.fail(record, err)
		}
	}

	now := time.Now()
	record.CloudID = &remote.ID
	record.Status = domain.SyncStatusSynced
	record.LocalVersion = doc.Version
	record.RemoteVersion = remote.StateVersion
	record.LastSyncedAt = now
	record.LastRemoteUpdatedAt = remote.UpdatedAt
	record.UpdatedAt = now
	s.saveRecord(record)

	doc.ContentHash = hash.Content([]byte(content))
	if doc.Storage == domain.StorageLocalOnly {
		doc.Storage = domain.StorageHybridSync
	}
	if err := s.documents.Update(doc); err != nil {
		log.Printf("[reconciler] failed to store document %s after push: %v", documentID, err)
	}

	return &domain.SyncOutcome{
		Success:  true,
		Status:   domain.SyncStatusSynced,
		CloudID:  remote.ID,
		SyncedAt: now,
	}
}

func (s *ReconcilerService) PullDocument(ctx context.Context, documentID string) *domain.SyncOutcome {
	if !s.session.IsAuthenticated() {
		return notAuthenticated()
	}

	record, err := s.syncRecords.Get(documentID)
	if err != nil {
		log.Printf("[reconciler] failed to load sync record %s: %v", documentID, err)
		return failure(domain.SyncStatusError, "Failed to load sync state")
	}

	cloudID := documentID
	if record.CloudID != nil {
		cloudID = *record.CloudID
	}

	remote, err := s.remote.GetDocument(ctx, cloudID)
	if errors.Is(err, cloud.ErrNotFound) {
		return failure(domain.SyncStatusError, "Document not found remotely")
	}
	if err != nil {
		return s.fail(record, err)
	}

	doc, err := s.documents.FindByID(documentID)
	created := false
	switch {
	case err == repository.ErrNotFound:
		ws, err := s.localWorkspaceFor(remote.WorkspaceID)
		if err != nil {
			return failure(domain.SyncStatusError, "Workspace not found")
		}
		created = true
		doc = &domain.Document{
			ID:          documentID,
			WorkspaceID: ws.ID,
			Storage:     domain.StorageHybridSync,
			CreatedAt:   remote.CreatedAt,
			Version:     1,
		}
	case err != nil:
		log.Printf("[reconciler] failed to load document %s: %v", documentID, err)
		return failure(domain.SyncStatusError, "Failed to load document")
	}

	// An explicit pull only wins when the remote is at least as fresh
	// as the local copy; otherwise it would silently discard local
	// edits. Nothing is mutated on refusal.
	if !created && doc.UpdatedAt.After(remote.UpdatedAt) {
		return failure(domain.SyncStatusConflict, "Local version is newer")
	}

	doc.Title = remote.Title
	doc.Content = remote.Content
	doc.Kind = kindFromContentType(remote.ContentType, doc.Kind)
	doc.Tags = remote.Tags
	doc.IsStarred = remote.IsStarred
	doc.IsTemplate = remote.IsTemplate
	doc.FolderID = s.localFolderID(remote.FolderID)
	doc.ContentHash = hash.Content([]byte(remote.Content))
	doc.WordCount = remote.WordCount
	if doc.WordCount == 0 {
		doc.WordCount = countWords(remote.Content)
	}
	doc.UpdatedAt = remote.UpdatedAt

	if len(remote.State) > 0 {
		s.absorbState(documentID, doc, remote.State)
	}

	if created {
		err = s.documents.Create(doc)
	} else {
		err = s.documents.Update(doc)
	}
	if err != nil {
		log.Printf("[reconciler] failed to store pulled document %s: %v", documentID, err)
		return failure(domain.SyncStatusError, "Failed to store document")
	}

	now := time.Now()
	record.CloudID = &remote.ID
	record.Status = domain.SyncStatusSynced
	record.LocalVersion = doc.Version
	record.RemoteVersion = remote.StateVersion
	record.LastSyncedAt = now
	record.LastRemoteUpdatedAt = remote.UpdatedAt
	record.UpdatedAt = now
	s.saveRecord(record)

	return &domain.SyncOutcome{
		Success:  true,
		Status:   domain.SyncStatusSynced,
		CloudID:  remote.ID,
		SyncedAt: now,
	}
}

func (s *ReconcilerService) PushFolder(ctx context.Context, folderID string) *domain.SyncOutcome {
	if !s.session.IsAuthenticated() {
		return notAuthenticated()
	}

	folder, err := s.folders.FindByID(folderID)
	if err == repository.ErrNotFound {
		return failure(domain.SyncStatusError, "Folder not found")
	}
	if err != nil {
		log.Printf("[reconciler] failed to load folder %s: %v", folderID, err)
		return failure(domain.SyncStatusError, "Failed to load folder")
	}

	record, err := s.syncRecords.Get(folderID)
	if err != nil {
		return failure(domain.SyncStatusError, "Failed to load sync state")
	}

	cloudWorkspaceID, err := s.resolveCloudWorkspace(ctx, folder.WorkspaceID)
	if err != nil {
		return s.fail(record, err)
	}

	var remote *cloud.Folder
	if record.CloudID != nil {
		remote, err = s.remote.GetFolder(ctx, *record.CloudID)
		switch {
		case errors.Is(err, cloud.ErrNotFound):
			// Not there yet; a missing folder means create, not error.
			record.CloudID = nil
			remote, err = nil, nil
		case err != nil:
			return s.fail(record, err)
		}
	}

	if record.CloudID == nil {
		remote, err = s.remote.CreateFolder(ctx, cloudWorkspaceID, cloud.CreateFolderRequest{
			Name:     folder.Name,
			ParentID: s.cloudFolderID(folder.ParentID),
		})
		if err != nil {
			return s.fail(record, err)
		}
	}

	now := time.Now()
	record.CloudID = &remote.ID
	record.Status = domain.SyncStatusSynced
	record.LocalVersion = folder.Version
	record.LastSyncedAt = now
	record.LastRemoteUpdatedAt = remote.UpdatedAt
	record.UpdatedAt = now
	s.saveRecord(record)

	return &domain.SyncOutcome{
		Success:  true,
		Status:   domain.SyncStatusSynced,
		CloudID:  remote.ID,
		SyncedAt: now,
	}
}

// MarkAsLocalOnly detaches an entity from remote tracking without
// touching the remote copy. Works offline.
func (s *ReconcilerService) MarkAsLocalOnly(id string) *domain.SyncOutcome {
	record, err := s.syncRecords.Get(id)
	if err != nil {
		return failure(domain.SyncStatusError, "Failed to load sync state")
	}

	record.Status = domain.SyncStatusLocal
	record.UpdatedAt = time.Now()
	s.saveRecord(record)

	if doc, err := s.documents.FindByID(id); err == nil {
		doc.Storage = domain.StorageLocalOnly
		if err := s.documents.Update(doc); err != nil {
			log.Printf("[reconciler] failed to flag document %s local-only: %v", id, err)
		}
	}

	return &domain.SyncOutcome{Success: true, Status: domain.SyncStatusLocal}
}

// GetSyncStatus is a pure read. Ids the reconciler never saw report as
// local.
func (s *ReconcilerService) GetSyncStatus(id string) (*domain.SyncRecord, error) {
	return s.syncRecords.Get(id)
}

// resolveCloudWorkspace finds or lazily creates the remote counterpart
// of a local workspace. The local mapping wins, then a remote match by
// name, and only then a remote create, so a user-renamed workspace does
// not spawn duplicates.
func (s *ReconcilerService) resolveCloudWorkspace(ctx context.Context, workspaceID string) (string, error) {
	ws, err := s.workspaces.FindByID(workspaceID)
	if err == repository.ErrNotFound {
		return "", ErrWorkspaceNotFound
	}
	if err != nil {
		return "", err
	}
	if ws.CloudID != nil {
		return *ws.CloudID, nil
	}

	remotes, err := s.remote.ListWorkspaces(ctx)
	if err != nil {
		return "", err
	}

	var cloudID string
	for _, rw := range remotes {
		if strings.EqualFold(rw.Name, ws.Name) {
			cloudID = rw.ID
			break
		}
	}

	if cloudID == "" {
		created, err := s.remote.CreateWorkspace(ctx, cloud.CreateWorkspaceRequest{
			ID:   &ws.ID,
			Name: ws.Name,
		})
		if err != nil {
			return "", err
		}
		cloudID = created.ID
	}

	ws.CloudID = &cloudID
	if err := s.workspaces.Update(ws); err != nil {
		log.Printf("[reconciler] failed to record workspace cloud id: %v", err)
	}
	return cloudID, nil
}

// currentContent prefers the live replica over stored metadata so a
// push never uploads stale cached content: binary snapshot first,
// serialized text as fallback.
func (s *ReconcilerService) currentContent(doc *domain.Document) (string, []byte) {
	content := doc.Content
	state := doc.State

	if s.replicas == nil {
		return content, state
	}
	inst, ok := s.replicas.Peek(doc.ID)
	if !ok {
		return content, state
	}

	live := inst.Doc()
	if live.Container(crdt.ContainerContent).Len() > 0 || live.Container(crdt.ContainerStaging).Len() > 0 {
		if encoded, err := live.EncodeState(); err == nil {
			state = encoded
		}
		if text := live.Container(crdt.ContainerContent).Text(); text != "" {
			content = text
		}
	}
	return content, state
}

// absorbState lands pulled binary state. Injecting into a live
// transport-merged replica is never safe, and a closed document parks
// the state for the next hydration instead.
func (s *ReconcilerService) absorbState(documentID string, doc *domain.Document, state []byte) {
	if s.replicas != nil {
		if inst, ok := s.replicas.Peek(documentID); ok {
			if inst.HasTransport() {
				return
			}
			if err := inst.Doc().ApplyUpdate(state, pullOrigin); err != nil {
				log.Printf("[reconciler] failed to apply pulled state to %s: %v", documentID, err)
				doc.State = state
				return
			}
			doc.State = nil
			return
		}
	}
	doc.State = state
}

// cloudFolderID maps a local folder reference to its cloud id; nil
// until the folder itself has been pushed.
func (s *ReconcilerService) cloudFolderID(folderID *string) *string {
	if folderID == nil {
		return nil
	}
	record, err := s.syncRecords.Get(*folderID)
	if err != nil || record.CloudID == nil {
		return nil
	}
	return record.CloudID
}

// localFolderID reverses cloudFolderID for pulls.
func (s *ReconcilerService) localFolderID(cloudFolderID *string) *string {
	if cloudFolderID == nil {
		return nil
	}
	records, err := s.syncRecords.List()
	if err != nil {
		return nil
	}
	for _, rec := range records {
		if rec.CloudID == nil || *rec.CloudID != *cloudFolderID {
			continue
		}
		if _, err := s.folders.FindByID(rec.LocalID); err == nil {
			local := rec.LocalID
			return &local
		}
	}
	return nil
}

func (s *ReconcilerService) localWorkspaceFor(cloudWorkspaceID string) (*domain.Workspace, error) {
	all, err := s.workspaces.List()
	if err != nil {
		return nil, err
	}
	for _, ws := range all {
		if ws.CloudID != nil && *ws.CloudID == cloudWorkspaceID {
			return ws, nil
		}
	}

	ws, err := s.workspaces.FindDefault()
	if err == repository.ErrNotFound {
		return nil, ErrWorkspaceNotFound
	}
	return ws, err
}

func (s *ReconcilerService) saveRecord(record *domain.SyncRecord) {
	if err := s.syncRecords.Put(record); err != nil {
		log.Printf("[reconciler] failed to store sync record %s: %v", record.LocalID, err)
	}
	if s.notifier != nil {
		s.notifier.PublishDocumentEvent(record.LocalID, "sync_status", record)
	}
}

// fail marks the record errored and translates the cause into the
// human-readable message the UI shows; raw remote bodies never surface.
func (s *ReconcilerService) fail(record *domain.SyncRecord, err error) *domain.SyncOutcome {
	log.Printf("[reconciler] sync of %s failed: %v", record.LocalID, err)

	record.Status = domain.SyncStatusError
	record.UpdatedAt = time.Now()
	s.saveRecord(record)

	return failure(domain.SyncStatusError, remoteErrorMessage(err))
}

func notAuthenticated() *domain.SyncOutcome {
	return &domain.SyncOutcome{
		Success: false,
		Status:  domain.SyncStatusError,
		Error:   "Not authenticated",
	}
}

func failure(status domain.SyncStatus, msg string) *domain.SyncOutcome {
	return &domain.SyncOutcome{
		Success: false,
		Status:  status,
		Error:   msg,
	}
}

func remoteErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrWorkspaceNotFound):
		return "Workspace not found"
	case errors.Is(err, cloud.ErrUnauthorized):
		return "Authentication expired"
	case errors.Is(err, cloud.ErrRemoteUnavailable):
		return "Cloud unavailable"
	case errors.Is(err, cloud.ErrNotFound):
		return "Not found remotely"
	default:
		return "Sync failed"
	}
}

func kindFromContentType(contentType string, fallback domain.DocumentKind) domain.DocumentKind {
	switch kind := domain.DocumentKind(contentType); kind {
	case domain.KindMarkdown, domain.KindMindmap, domain.KindPresentation:
		return kind
	}
	if fallback != "" {
		return fallback
	}
	return domain.KindMarkdown
}
