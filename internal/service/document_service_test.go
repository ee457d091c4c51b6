package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/persistence"
	"quillmark-local-engine/internal/replica"
	"quillmark-local-engine/internal/repository"
)

type mockDiagramRepo struct {
	diagrams map[string]*domain.Diagram
}

func newMockDiagramRepo() *mockDiagramRepo {
	return &mockDiagramRepo{diagrams: make(map[string]*domain.Diagram)}
}

func (m *mockDiagramRepo) Create(diagram *domain.Diagram) error {
	cp := *diagram
	m.diagrams[diagram.ID] = &cp
	return nil
}

func (m *mockDiagramRepo) FindByID(id string) (*domain.Diagram, error) {
	diagram, ok := m.diagrams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *diagram
	return &cp, nil
}

func (m *mockDiagramRepo) ListByDocument(documentID string) ([]*domain.Diagram, error) {
	var out []*domain.Diagram
	for _, diagram := range m.diagrams {
		if diagram.DocumentID == documentID {
			cp := *diagram
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockDiagramRepo) DeleteByDocument(documentID string) (int, error) {
	removed := 0
	for id, diagram := range m.diagrams {
		if diagram.DocumentID == documentID {
			delete(m.diagrams, id)
			removed++
		}
	}
	return removed, nil
}

type mockTemplateRepo struct {
	templates map[string]*domain.Template
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{templates: make(map[string]*domain.Template)}
}

func (m *mockTemplateRepo) Create(template *domain.Template) error {
	cp := *template
	m.templates[template.ID] = &cp
	return nil
}

func (m *mockTemplateRepo) FindByID(id string) (*domain.Template, error) {
	template, ok := m.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *template
	return &cp, nil
}

func (m *mockTemplateRepo) List() ([]*domain.Template, error) {
	var out []*domain.Template
	for _, template := range m.templates {
		cp := *template
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockTemplateRepo) Delete(id string) error {
	delete(m.templates, id)
	return nil
}

type mockUpdateLog struct {
	dropped []string
	err     error
}

func (m *mockUpdateLog) DropNamespace(namespace string) error {
	if m.err != nil {
		return m.err
	}
	m.dropped = append(m.dropped, namespace)
	return nil
}

type documentFixture struct {
	documents  *mockDocumentRepo
	workspaces *mockWorkspaceRepo
	templates  *mockTemplateRepo
	diagrams   *mockDiagramRepo
	records    *mockSyncRecordRepo
	updateLog  *mockUpdateLog
	registry   *replica.Registry
	remote     *fakeRemote
	service    *DocumentService
}

func newDocumentFixture(authed bool) *documentFixture {
	f := &documentFixture{
		documents:  newMockDocumentRepo(),
		workspaces: newMockWorkspaceRepo(),
		templates:  newMockTemplateRepo(),
		diagrams:   newMockDiagramRepo(),
		records:    newMockSyncRecordRepo(),
		updateLog:  &mockUpdateLog{},
		registry:   newTestRegistry(),
		remote:     &fakeRemote{},
	}
	f.service = NewDocumentService(
		f.documents, f.workspaces, f.templates, f.diagrams, f.records,
		f.updateLog, f.registry, staticAuth(authed), f.remote,
	)
	return f
}

func (f *documentFixture) storedDocument(t *testing.T) *domain.Document {
	t.Helper()
	if len(f.documents.documents) != 1 {
		t.Fatalf("expected exactly one stored document, got %d", len(f.documents.documents))
	}
	for _, doc := range f.documents.documents {
		return doc
	}
	return nil
}

func TestDocumentService_ImportConvertsHTML(t *testing.T) {
	f := newDocumentFixture(false)
	f.workspaces.workspaces["ws-1"] = &domain.Workspace{ID: "ws-1", Name: "Notes"}

	res := f.service.Import(&domain.ImportRequest{
		WorkspaceID: "ws-1",
		Title:       "Imported",
		Kind:        domain.KindMarkdown,
		HTML:        "<h1>Title</h1><p>Hello world</p>",
	})
	if res.IsFailure() {
		t.Fatalf("expected import to succeed, got %v", res.Err())
	}

	resp := res.Value()
	if resp.Storage != domain.StorageLocalOnly {
		t.Errorf("expected local_only storage, got %s", resp.Storage)
	}
	if resp.WordCount == 0 {
		t.Error("expected word count derived from converted content")
	}
	if resp.Version != 1 {
		t.Errorf("expected version 1, got %d", resp.Version)
	}

	doc := f.storedDocument(t)
	if !strings.Contains(doc.Content, "# Title") || !strings.Contains(doc.Content, "Hello world") {
		t.Errorf("expected converted markdown, got %q", doc.Content)
	}
	if doc.LegacyHTML == "" {
		t.Error("expected raw html kept for hydration fidelity")
	}
	if doc.ContentHash == "" {
		t.Error("expected content hash computed on import")
	}
}

func TestDocumentService_ImportPrefersMarkdown(t *testing.T) {
	f := newDocumentFixture(false)
	f.workspaces.workspaces["ws-1"] = &domain.Workspace{ID: "ws-1", Name: "Notes"}

	res := f.service.Import(&domain.ImportRequest{
		WorkspaceID: "ws-1",
		Title:       "Imported",
		Kind:        domain.KindMarkdown,
		Markdown:    "# Already markdown",
		HTML:        "<h1>Ignored</h1>",
	})
	if res.IsFailure() {
		t.Fatalf("expected import to succeed, got %v", res.Err())
	}

	doc := f.storedDocument(t)
	if doc.Content != "# Already markdown" {
		t.Errorf("expected markdown taken verbatim, got %q", doc.Content)
	}
	if doc.LegacyHTML != "" {
		t.Error("expected no legacy html when markdown was provided")
	}
}

func TestDocumentService_ImportRequiresWorkspace(t *testing.T) {
	f := newDocumentFixture(false)

	res := f.service.Import(&domain.ImportRequest{
		WorkspaceID: "missing",
		Title:       "Imported",
		Kind:        domain.KindMarkdown,
		Markdown:    "text",
	})
	if res.IsOk() {
		t.Fatal("expected import to fail")
	}
	if !errors.Is(res.Err(), ErrWorkspaceNotFound) {
		t.Errorf("expected ErrWorkspaceNotFound, got %v", res.Err())
	}
}

func TestDocumentService_UpdateMetadataMarksSyncedModified(t *testing.T) {
	f := newDocumentFixture(false)
	f.documents.documents["doc-1"] = &domain.Document{
		ID:          "doc-1",
		WorkspaceID: "ws-1",
		Title:       "Old title",
		Version:     1,
	}
	cloudID := "cloud-doc-1"
	f.records.records["doc-1"] = &domain.SyncRecord{LocalID: "doc-1", CloudID: &cloudID, Status: domain.SyncStatusSynced}

	title := "New title"
	starred := true
	res := f.service.UpdateMetadata("doc-1", &domain.UpdateMetadataRequest{Title: &title, IsStarred: &starred})
	if res.IsFailure() {
		t.Fatalf("expected update to succeed, got %v", res.Err())
	}

	resp := res.Value()
	if resp.Title != "New title" || !resp.IsStarred {
		t.Errorf("expected metadata applied, got %+v", resp)
	}
	if resp.Version != 2 {
		t.Errorf("expected version bumped to 2, got %d", resp.Version)
	}

	record := f.records.records["doc-1"]
	if record.Status != domain.SyncStatusModified {
		t.Errorf("expected synced record demoted to modified, got %s", record.Status)
	}
	if record.LocalVersion != 2 {
		t.Errorf("expected local version tracked, got %d", record.LocalVersion)
	}
}

func TestDocumentService_UpdateMetadataClearsFolder(t *testing.T) {
	f := newDocumentFixture(false)
	folderID := "folder-1"
	f.documents.documents["doc-1"] = &domain.Document{
		ID:          "doc-1",
		WorkspaceID: "ws-1",
		FolderID:    &folderID,
		Version:     1,
	}

	empty := ""
	res := f.service.UpdateMetadata("doc-1", &domain.UpdateMetadataRequest{FolderID: &empty})
	if res.IsFailure() {
		t.Fatalf("expected update to succeed, got %v", res.Err())
	}
	if doc := f.documents.documents["doc-1"]; doc.FolderID != nil {
		t.Errorf("expected folder cleared, got %v", *doc.FolderID)
	}
}

func TestDocumentService_UpdateMetadataUnknownDocument(t *testing.T) {
	f := newDocumentFixture(false)

	title := "whatever"
	res := f.service.UpdateMetadata("missing", &domain.UpdateMetadataRequest{Title: &title})
	if res.IsOk() {
		t.Fatal("expected update to fail")
	}
	if !errors.Is(res.Err(), ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", res.Err())
	}
}

func TestDocumentService_DeleteCascade(t *testing.T) {
	f := newDocumentFixture(true)
	ctx := context.Background()

	f.documents.documents["doc-1"] = &domain.Document{ID: "doc-1", WorkspaceID: "ws-1", Version: 1}
	f.diagrams.diagrams["diag-1"] = &domain.Diagram{ID: "diag-1", DocumentID: "doc-1"}
	f.diagrams.diagrams["diag-2"] = &domain.Diagram{ID: "diag-2", DocumentID: "doc-1"}
	f.diagrams.diagrams["diag-3"] = &domain.Diagram{ID: "diag-3", DocumentID: "doc-other"}
	cloudID := "cloud-doc-1"
	f.records.records["doc-1"] = &domain.SyncRecord{LocalID: "doc-1", CloudID: &cloudID, Status: domain.SyncStatusSynced}

	if _, err := f.registry.Acquire(ctx, "doc-1", replica.AcquireOptions{}); err != nil {
		t.Fatalf("failed to open replica: %v", err)
	}

	res := f.service.DeleteCascade("doc-1")
	if res.IsFailure() {
		t.Fatalf("expected delete to succeed, got %v", res.Err())
	}

	summary := res.Value()
	if summary.RemovedDiagrams != 2 {
		t.Errorf("expected 2 diagrams removed, got %d", summary.RemovedDiagrams)
	}
	if _, ok := f.diagrams.diagrams["diag-3"]; !ok {
		t.Error("expected unrelated diagram to survive")
	}
	if doc := f.documents.documents["doc-1"]; !doc.IsDeleted {
		t.Error("expected document soft-deleted")
	}
	if _, ok := f.records.records["doc-1"]; ok {
		t.Error("expected sync record dropped")
	}
	if len(f.updateLog.dropped) != 1 || f.updateLog.dropped[0] != persistence.Namespace("doc-1") {
		t.Errorf("expected update log namespace dropped, got %v", f.updateLog.dropped)
	}
	if len(f.remote.deletedDocuments) != 1 || f.remote.deletedDocuments[0] != cloudID {
		t.Errorf("expected remote copy deleted, got %v", f.remote.deletedDocuments)
	}
	if _, ok := f.registry.Peek("doc-1"); ok {
		t.Error("expected live replica destroyed")
	}
}

func TestDocumentService_DeleteCascadeOffline(t *testing.T) {
	f := newDocumentFixture(false)

	f.documents.documents["doc-1"] = &domain.Document{ID: "doc-1", WorkspaceID: "ws-1", Version: 1}
	cloudID := "cloud-doc-1"
	f.records.records["doc-1"] = &domain.SyncRecord{LocalID: "doc-1", CloudID: &cloudID, Status: domain.SyncStatusSynced}

	res := f.service.DeleteCascade("doc-1")
	if res.IsFailure() {
		t.Fatalf("expected offline delete to succeed, got %v", res.Err())
	}
	if f.remote.calls != 0 {
		t.Errorf("expected no remote calls while unauthenticated, got %d", f.remote.calls)
	}
	if doc := f.documents.documents["doc-1"]; !doc.IsDeleted {
		t.Error("expected document soft-deleted")
	}
}

func TestDocumentService_DeleteCascadeUnknownDocument(t *testing.T) {
	f := newDocumentFixture(false)

	res := f.service.DeleteCascade("missing")
	if res.IsOk() {
		t.Fatal("expected delete to fail")
	}
	if !errors.Is(res.Err(), ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", res.Err())
	}
}

func TestDocumentService_ApplyTemplateExpandsPlaceholders(t *testing.T) {
	f := newDocumentFixture(false)
	f.workspaces.workspaces["ws-1"] = &domain.Workspace{ID: "ws-1", Name: "Notes"}
	f.templates.templates["tpl-1"] = &domain.Template{
		ID:      "tpl-1",
		Name:    "Meeting notes",
		Kind:    domain.KindMindmap,
		Content: "# {{title}}\n\nCreated {{date}}\n",
	}

	res := f.service.ApplyTemplate(&domain.ApplyTemplateRequest{
		TemplateID:  "tpl-1",
		WorkspaceID: "ws-1",
		Title:       "Sprint review",
	})
	if res.IsFailure() {
		t.Fatalf("expected template apply to succeed, got %v", res.Err())
	}

	resp := res.Value()
	if resp.Kind != domain.KindMindmap {
		t.Errorf("expected kind inherited from template, got %s", resp.Kind)
	}

	doc := f.storedDocument(t)
	if !strings.Contains(doc.Content, "# Sprint review") {
		t.Errorf("expected title expanded, got %q", doc.Content)
	}
	if !strings.Contains(doc.Content, time.Now().Format("January 2, 2006")) {
		t.Errorf("expected date expanded, got %q", doc.Content)
	}
	if strings.Contains(doc.Content, "{{") {
		t.Errorf("expected no placeholders left, got %q", doc.Content)
	}
}

func TestDocumentService_ApplyTemplateUnknownTemplate(t *testing.T) {
	f := newDocumentFixture(false)
	f.workspaces.workspaces["ws-1"] = &domain.Workspace{ID: "ws-1", Name: "Notes"}

	res := f.service.ApplyTemplate(&domain.ApplyTemplateRequest{
		TemplateID:  "missing",
		WorkspaceID: "ws-1",
		Title:       "Sprint review",
	})
	if res.IsOk() {
		t.Fatal("expected template apply to fail")
	}
	if !errors.Is(res.Err(), ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", res.Err())
	}
}

func TestDocumentService_GetUnknownDocument(t *testing.T) {
	f := newDocumentFixture(false)

	if _, err := f.service.Get("missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}
