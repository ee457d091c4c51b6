package repository

import (
	"testing"
	"time"

	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/persistence"

	"github.com/dgraph-io/badger/v4"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	store, err := persistence.Open(persistence.InMemoryConfig())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store.DB()
}

func TestDocumentSoftDeleteHidesFromReads(t *testing.T) {
	repo := NewDocumentRepository(newTestDB(t))

	doc := &domain.Document{
		ID:          "doc-1",
		WorkspaceID: "ws-1",
		Title:       "Weekly notes",
		Kind:        domain.KindMarkdown,
		Version:     1,
	}
	if err := repo.Create(doc); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.FindByID("doc-1"); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}

	if err := repo.SoftDelete("doc-1"); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	if _, err := repo.FindByID("doc-1"); err != ErrNotFound {
		t.Errorf("FindByID() after delete error = %v, want ErrNotFound", err)
	}
	docs, err := repo.ListByWorkspace("ws-1")
	if err != nil {
		t.Fatalf("ListByWorkspace() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("deleted document still listed: %d", len(docs))
	}
}

func TestDocumentListScopedToWorkspaceNewestFirst(t *testing.T) {
	repo := NewDocumentRepository(newTestDB(t))

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	seed := []*domain.Document{
		{ID: "a", WorkspaceID: "ws-1", Title: "old", UpdatedAt: older},
		{ID: "b", WorkspaceID: "ws-1", Title: "new", UpdatedAt: newer},
		{ID: "c", WorkspaceID: "ws-2", Title: "elsewhere", UpdatedAt: newer},
	}
	for _, doc := range seed {
		if err := repo.Create(doc); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := repo.ListByWorkspace("ws-1")
	if err != nil {
		t.Fatalf("ListByWorkspace() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}
	if docs[0].ID != "b" || docs[1].ID != "a" {
		t.Errorf("order = [%s %s], want [b a]", docs[0].ID, docs[1].ID)
	}
}

func TestDocumentUpdateRequiresExistingRecord(t *testing.T) {
	repo := NewDocumentRepository(newTestDB(t))

	err := repo.Update(&domain.Document{ID: "ghost", WorkspaceID: "ws-1"})
	if err != ErrNotFound {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestSyncRecordDefaultsToLocal(t *testing.T) {
	repo := NewSyncRecordRepository(newTestDB(t))

	record, err := repo.Get("never-synced")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record.Status != domain.SyncStatusLocal {
		t.Errorf("Status = %q, want %q", record.Status, domain.SyncStatusLocal)
	}
	if record.CloudID != nil {
		t.Errorf("CloudID = %v, want nil", record.CloudID)
	}
	if record.LocalID != "never-synced" {
		t.Errorf("LocalID = %q", record.LocalID)
	}

	cloudID := "cloud-9"
	stored := &domain.SyncRecord{
		LocalID:       "doc-1",
		CloudID:       &cloudID,
		Status:        domain.SyncStatusSynced,
		LocalVersion:  3,
		RemoteVersion: 3,
		LastSyncedAt:  time.Now(),
	}
	if err := repo.Put(stored); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := repo.Get("doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.SyncStatusSynced || got.CloudID == nil || *got.CloudID != "cloud-9" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestWorkspaceLookups(t *testing.T) {
	repo := NewWorkspaceRepository(newTestDB(t))

	seed := []*domain.Workspace{
		{ID: "ws-1", Name: "Personal", IsDefault: true, CreatedAt: time.Now().Add(-time.Hour)},
		{ID: "ws-2", Name: "Work", CreatedAt: time.Now()},
	}
	for _, ws := range seed {
		if err := repo.Create(ws); err != nil {
			t.Fatal(err)
		}
	}

	byName, err := repo.FindByName("Work")
	if err != nil || byName.ID != "ws-2" {
		t.Errorf("FindByName() = %+v, %v", byName, err)
	}
	if _, err := repo.FindByName("Missing"); err != ErrNotFound {
		t.Errorf("FindByName(missing) error = %v, want ErrNotFound", err)
	}

	def, err := repo.FindDefault()
	if err != nil || def.ID != "ws-1" {
		t.Errorf("FindDefault() = %+v, %v", def, err)
	}

	all, err := repo.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != "ws-1" {
		t.Errorf("List() = %d entries, first %s", len(all), all[0].ID)
	}
}

func TestDiagramCascadeDelete(t *testing.T) {
	repo := NewDiagramRepository(newTestDB(t))

	for _, d := range []*domain.Diagram{
		{ID: "d1", DocumentID: "doc-1", Title: "mindmap"},
		{ID: "d2", DocumentID: "doc-1", Title: "chart"},
		{ID: "d3", DocumentID: "doc-1", Title: "outline"},
		{ID: "d4", DocumentID: "doc-2", Title: "unrelated"},
	} {
		if err := repo.Create(d); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := repo.DeleteByDocument("doc-1")
	if err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	left, err := repo.ListByDocument("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("diagrams left = %d, want 0", len(left))
	}

	other, err := repo.ListByDocument("doc-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Errorf("unrelated diagrams = %d, want 1", len(other))
	}
}

func TestTemplateFindMissing(t *testing.T) {
	repo := NewTemplateRepository(newTestDB(t))

	if _, err := repo.FindByID("nope"); err != ErrNotFound {
		t.Errorf("FindByID() error = %v, want ErrNotFound", err)
	}
}
