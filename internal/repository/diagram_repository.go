package repository

import (
	"encoding/json"
	"fmt"

	"quillmark-local-engine/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

type DiagramRepository interface {
	Create(diagram *domain.Diagram) error
	FindByID(id string) (*domain.Diagram, error)
	ListByDocument(documentID string) ([]*domain.Diagram, error)
	// DeleteByDocument removes every diagram derived from the document
	// and reports how many were removed.
	DeleteByDocument(documentID string) (int, error)
}

type diagramRepository struct {
	db *badger.DB
}

func NewDiagramRepository(db *badger.DB) DiagramRepository {
	return &diagramRepository{db: db}
}

// Diagram keys nest the owning document so the cascade delete is a
// single prefix walk.
func diagramKey(documentID, id string) []byte {
	return []byte(fmt.Sprintf("diagram!%s!%s", documentID, id))
}

func (r *diagramRepository) Create(diagram *domain.Diagram) error {
	if err := putJSON(r.db, diagramKey(diagram.DocumentID, diagram.ID), diagram); err != nil {
		return fmt.Errorf("failed to create diagram: %w", err)
	}
	return nil
}

func (r *diagramRepository) FindByID(id string) (*domain.Diagram, error) {
	var found *domain.Diagram

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("diagram!")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var d domain.Diagram
				if err := json.Unmarshal(val, &d); err != nil {
					return nil
				}
				if d.ID == id {
					found = &d
				}
				return nil
			})
			if err != nil {
				return err
			}
			if found != nil {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find diagram: %w", err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *diagramRepository) ListByDocument(documentID string) ([]*domain.Diagram, error) {
	var diagrams []*domain.Diagram

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fmt.Sprintf("diagram!%s!", documentID))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var d domain.Diagram
				if err := json.Unmarshal(val, &d); err != nil {
					return nil
				}
				diagrams = append(diagrams, &d)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list diagrams: %w", err)
	}

	return diagrams, nil
}

func (r *diagramRepository) DeleteByDocument(documentID string) (int, error) {
	prefix := []byte(fmt.Sprintf("diagram!%s!", documentID))

	var keys [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to collect diagrams for delete: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete diagrams: %w", err)
	}

	return len(keys), nil
}
