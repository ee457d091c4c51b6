package repository

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"quillmark-local-engine/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

type DocumentRepository interface {
	Create(doc *domain.Document) error
	FindByID(id string) (*domain.Document, error)
	ListByWorkspace(workspaceID string) ([]*domain.Document, error)
	Update(doc *domain.Document) error
	SoftDelete(id string) error
	HardDelete(id string) error
}

type documentRepository struct {
	db *badger.DB
}

func NewDocumentRepository(db *badger.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func documentKey(id string) []byte {
	return []byte(fmt.Sprintf("document!%s", id))
}

func (r *documentRepository) Create(doc *domain.Document) error {
	if err := putJSON(r.db, documentKey(doc.ID), doc); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// FindByID treats soft-deleted documents as absent. The cascade delete
// is the only caller that needs the raw record and it loads it inside
// its own transaction.
func (r *documentRepository) FindByID(id string) (*domain.Document, error) {
	var doc domain.Document
	if err := getJSON(r.db, documentKey(id), &doc); err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	if doc.IsDeleted {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (r *documentRepository) ListByWorkspace(workspaceID string) ([]*domain.Document, error) {
	var docs []*domain.Document

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("document!")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var doc domain.Document
				if err := json.Unmarshal(val, &doc); err != nil {
					return nil
				}
				if doc.WorkspaceID != workspaceID || doc.IsDeleted {
					return nil
				}
				docs = append(docs, &doc)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})

	return docs, nil
}

// Update stores the document exactly as given. Callers own UpdatedAt:
// local edits stamp it, pulls carry the remote's timestamp through so
// staleness comparison stays meaningful.
func (r *documentRepository) Update(doc *domain.Document) error {
	var existing domain.Document
	if err := getJSON(r.db, documentKey(doc.ID), &existing); err != nil {
		if err == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch document for update: %w", err)
	}

	if err := putJSON(r.db, documentKey(doc.ID), doc); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

func (r *documentRepository) SoftDelete(id string) error {
	var doc domain.Document
	if err := getJSON(r.db, documentKey(id), &doc); err != nil {
		if err == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch document for delete: %w", err)
	}

	doc.IsDeleted = true
	doc.UpdatedAt = time.Now()
	doc.Version++

	if err := putJSON(r.db, documentKey(id), &doc); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (r *documentRepository) HardDelete(id string) error {
	if err := deleteKey(r.db, documentKey(id)); err != nil {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	return nil
}
