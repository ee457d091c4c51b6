package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quillmark-local-engine/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// The couch driver keeps the same document ids the embedded store uses
// as key suffixes, namespaced with a doc_type discriminator so selector
// queries can tell entities apart in one shared database.

func couchID(docType, id string) string {
	return fmt.Sprintf("%s:%s", docType, id)
}

// asCouchDoc flattens an entity to a map so writes can carry _rev and
// doc_type without polluting the domain structs.
func asCouchDoc(v interface{}, docType string) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	doc["doc_type"] = docType
	return doc, nil
}

type couchDocumentRepository struct {
	db *kivik.DB
}

func NewCouchDocumentRepository(client *kivik.Client, dbName string) DocumentRepository {
	return &couchDocumentRepository{db: client.DB(dbName)}
}

func (r *couchDocumentRepository) Create(doc *domain.Document) error {
	body, err := asCouchDoc(doc, "document")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = r.db.Put(context.Background(), couchID("document", doc.ID), body)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *couchDocumentRepository) FindByID(id string) (*domain.Document, error) {
	row := r.db.Get(context.Background(), couchID("document", id))

	var doc domain.Document
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	if doc.IsDeleted {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (r *couchDocumentRepository) ListByWorkspace(workspaceID string) ([]*domain.Document, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":     "document",
			"workspace_id": workspaceID,
			"is_deleted":   false,
		},
	}

	rows := r.db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var doc domain.Document
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		docs = append(docs, &doc)
	}

	return docs, nil
}

func (r *couchDocumentRepository) Update(doc *domain.Document) error {
	body, err := asCouchDoc(doc, "document")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	docID := couchID("document", doc.ID)
	row := r.db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch document for update: %w", err)
	}
	body["_rev"] = existing["_rev"]

	if _, err := r.db.Put(context.Background(), docID, body); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

func (r *couchDocumentRepository) SoftDelete(id string) error {
	docID := couchID("document", id)

	row := r.db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch document for delete: %w", err)
	}

	existing["is_deleted"] = true
	existing["updated_at"] = time.Now()
	if v, ok := existing["version"].(float64); ok {
		existing["version"] = int64(v) + 1
	}

	_, err := r.db.Put(context.Background(), docID, existing)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (r *couchDocumentRepository) HardDelete(id string) error {
	docID := couchID("document", id)

	row := r.db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil
		}
		return fmt.Errorf("failed to fetch document for removal: %w", err)
	}

	rev, _ := existing["_rev"].(string)
	if _, err := r.db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	return nil
}

type couchFolderRepository struct {
	db *kivik.DB
}

func NewCouchFolderRepository(client *kivik.Client, dbName string) FolderRepository {
	return &couchFolderRepository{db: client.DB(dbName)}
}

func (r *couchFolderRepository) Create(folder *domain.Folder) error {
	body, err := asCouchDoc(folder, "folder")
	if err != nil {
		return fmt.Errorf("failed to encode folder: %w", err)
	}

	_, err = r.db.Put(context.Background(), couchID("folder", folder.ID), body)
	if err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

func (r *couchFolderRepository) FindByID(id string) (*domain.Folder, error) {
	row := r.db.Get(context.Background(), couchID("folder", id))

	var folder domain.Folder
	if err := row.ScanDoc(&folder); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find folder: %w", err)
	}
	return &folder, nil
}

func (r *couchFolderRepository) ListByWorkspace(workspaceID string) ([]*domain.Folder, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":     "folder",
			"workspace_id": workspaceID,
		},
	}

	rows := r.db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []*domain.Folder
	for rows.Next() {
		var folder domain.Folder
		if err := rows.ScanDoc(&folder); err != nil {
			continue
		}
		folders = append(folders, &folder)
	}

	return folders, nil
}

func (r *couchFolderRepository) Update(folder *domain.Folder) error {
	folder.UpdatedAt = time.Now()

	body, err := asCouchDoc(folder, "folder")
	if err != nil {
		return fmt.Errorf("failed to encode folder: %w", err)
	}

	docID := couchID("folder", folder.ID)
	row := r.db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch folder for update: %w", err)
	}
	body["_rev"] = existing["_rev"]

	if _, err := r.db.Put(context.Background(), docID, body); err != nil {
		return fmt.Errorf("failed to update folder: %w", err)
	}
	return nil
}

func (r *couchFolderRepository) Delete(id string) error {
	docID := couchID("folder", id)

	row := r.db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil
		}
		return fmt.Errorf("failed to fetch folder for delete: %w", err)
	}

	rev, _ := existing["_rev"].(string)
	if _, err := r.db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

type couchWorkspaceRepository struct {
	db *kivik.DB
}

func NewCouchWorkspaceRepository(client *kivik.Client, dbName string) WorkspaceRepository {
	return &couchWorkspaceRepository{db: client.DB(dbName)}
}

func (r *couchWorkspaceRepository) Create(workspace *domain.Workspace) error {
	body, err := asCouchDoc(workspace, "workspace")
	if err != nil {
		return fmt.Errorf("failed to encode workspace: %w", err)
	}

	_, err = r.db.Put(context.Background(), couchID("workspace", workspace.ID), body)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (r *couchWorkspaceRepository) FindByID(id string) (*domain.Workspace, error) {
	row := r.db.Get(context.Background(), couchID("workspace", id))

	var ws domain.Workspace
	if err := row.ScanDoc(&ws); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find workspace: %w", err)
	}
	return &ws, nil
}

func (r *couchWorkspaceRepository) FindByName(name string) (*domain.Workspace, error) {
	return r.findOne(map[string]interface{}{
		"doc_type": "workspace",
		"name":     name,
	})
}

func (r *couchWorkspaceRepository) FindDefault() (*domain.Workspace, error) {
	return r.findOne(map[string]interface{}{
		"doc_type":   "workspace",
		"is_default": true,
	})
}

func (r *couchWorkspaceRepository) findOne(selector map[string]interface{}) (*domain.Workspace, error) {
	query := map[string]interface{}{
		"selector": selector,
		"limit":    1,
	}

	rows := r.db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query workspaces: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var ws domain.Workspace
	if err := rows.ScanDoc(&ws); err != nil {
		return nil, fmt.Errorf("failed to scan workspace: %w", err)
	}
	return &ws, nil
}

func (r *couchWorkspaceRepository) List() ([]*domain.Workspace, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": "workspace",
		},
	}

	rows := r.db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*domain.Workspace
	for rows.Next() {
		var ws domain.Workspace
		if err := rows.ScanDoc(&ws); err != nil {
			continue
		}
		workspaces = append(workspaces, &ws)
	}

	return workspaces, nil
}

func (r *couchWorkspaceRepository) Update(workspace *domain.Workspace) error {
	workspace.UpdatedAt = time.Now()

	body, err := asCouchDoc(workspace, "workspace")
	if err != nil {
		return fmt.Errorf("failed to encode workspace: %w", err)
	}

	docID := couchID("workspace", workspace.ID)
	row := r.db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch workspace for update: %w", err)
	}
	body["_rev"] = existing["_rev"]

	if _, err := r.db.Put(context.Background(), docID, body); err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	return nil
}

type couchSyncRecordRepository struct {
	db *kivik.DB
}

func NewCouchSyncRecordRepository(client *kivik.Client, dbName string) SyncRecordRepository {
	return &couchSyncRecordRepository{db: client.DB(dbName)}
}

func (r *couchSyncRecordRepository) Get(localID string) (*domain.SyncRecord, error) {
	row := r.db.Get(context.Background(), couchID("syncrecord", localID))

	var record domain.SyncRecord
	if err := row.ScanDoc(&record); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return &domain.SyncRecord{
				LocalID: localID,
				Status:  domain.SyncStatusLocal,
			}, nil
		}
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	return &record, nil
}

func (r *couchSyncRecordRepository) Put(record *domain.SyncRecord) error {
	body, err := asCouchDoc(record, "syncrecord")
	if err != nil {
		return fmt.Errorf("failed to encode sync record: %w", err)
	}

	docID := couchID("syncrecord", record.LocalID)

	row := r.db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err == nil {
		body["_rev"] = existing["_rev"]
	} else if kivik.HTTPStatus(err) != 404 {
		return fmt.Errorf("failed to fetch sync record: %w", err)
	}

	if _, err := r.db.Put(context.Background(), docID, body); err != nil {
		return fmt.Errorf("failed to store sync record: %w", err)
	}
	return nil
}

func (r *couchSyncRecordRepository) Delete(localID string) error {
	docID := couchID("syncrecord", localID)

	row := r.db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil
		}
		return fmt.Errorf("failed to fetch sync record for delete: %w", err)
	}

	rev, _ := existing["_rev"].(string)
	if _, err := r.db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to delete sync record: %w", err)
	}
	return nil
}

func (r *couchSyncRecordRepository) List() ([]*domain.SyncRecord, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": "syncrecord",
		},
	}

	rows := r.db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}
	defer rows.Close()

	var records []*domain.SyncRecord
	for rows.Next() {
		var record domain.SyncRecord
		if err := rows.ScanDoc(&record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	return records, nil
}
