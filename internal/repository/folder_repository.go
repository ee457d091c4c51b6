package repository

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"quillmark-local-engine/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

type FolderRepository interface {
	Create(folder *domain.Folder) error
	FindByID(id string) (*domain.Folder, error)
	ListByWorkspace(workspaceID string) ([]*domain.Folder, error)
	Update(folder *domain.Folder) error
	Delete(id string) error
}

type folderRepository struct {
	db *badger.DB
}

func NewFolderRepository(db *badger.DB) FolderRepository {
	return &folderRepository{db: db}
}

func folderKey(id string) []byte {
	return []byte(fmt.Sprintf("folder!%s", id))
}

func (r *folderRepository) Create(folder *domain.Folder) error {
	if err := putJSON(r.db, folderKey(folder.ID), folder); err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

func (r *folderRepository) FindByID(id string) (*domain.Folder, error) {
	var folder domain.Folder
	if err := getJSON(r.db, folderKey(id), &folder); err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find folder: %w", err)
	}
	return &folder, nil
}

func (r *folderRepository) ListByWorkspace(workspaceID string) ([]*domain.Folder, error) {
	var folders []*domain.Folder

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("folder!")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var folder domain.Folder
				if err := json.Unmarshal(val, &folder); err != nil {
					return nil
				}
				if folder.WorkspaceID != workspaceID {
					return nil
				}
				folders = append(folders, &folder)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	sort.Slice(folders, func(i, j int) bool {
		return folders[i].Name < folders[j].Name
	})

	return folders, nil
}

func (r *folderRepository) Update(folder *domain.Folder) error {
	var existing domain.Folder
	if err := getJSON(r.db, folderKey(folder.ID), &existing); err != nil {
		if err == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch folder for update: %w", err)
	}

	folder.UpdatedAt = time.Now()
	if err := putJSON(r.db, folderKey(folder.ID), folder); err != nil {
		return fmt.Errorf("failed to update folder: %w", err)
	}
	return nil
}

func (r *folderRepository) Delete(id string) error {
	if err := deleteKey(r.db, folderKey(id)); err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}
