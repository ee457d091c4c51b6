package repository

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"quillmark-local-engine/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

type WorkspaceRepository interface {
	Create(workspace *domain.Workspace) error
	FindByID(id string) (*domain.Workspace, error)
	FindByName(name string) (*domain.Workspace, error)
	FindDefault() (*domain.Workspace, error)
	List() ([]*domain.Workspace, error)
	Update(workspace *domain.Workspace) error
}

type workspaceRepository struct {
	db *badger.DB
}

func NewWorkspaceRepository(db *badger.DB) WorkspaceRepository {
	return &workspaceRepository{db: db}
}

func workspaceKey(id string) []byte {
	return []byte(fmt.Sprintf("workspace!%s", id))
}

func (r *workspaceRepository) Create(workspace *domain.Workspace) error {
	if err := putJSON(r.db, workspaceKey(workspace.ID), workspace); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (r *workspaceRepository) FindByID(id string) (*domain.Workspace, error) {
	var ws domain.Workspace
	if err := getJSON(r.db, workspaceKey(id), &ws); err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find workspace: %w", err)
	}
	return &ws, nil
}

func (r *workspaceRepository) FindByName(name string) (*domain.Workspace, error) {
	return r.findFirst(func(ws *domain.Workspace) bool {
		return ws.Name == name
	})
}

func (r *workspaceRepository) FindDefault() (*domain.Workspace, error) {
	return r.findFirst(func(ws *domain.Workspace) bool {
		return ws.IsDefault
	})
}

func (r *workspaceRepository) List() ([]*domain.Workspace, error) {
	var workspaces []*domain.Workspace

	err := r.scan(func(ws *domain.Workspace) bool {
		workspaces = append(workspaces, ws)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	sort.Slice(workspaces, func(i, j int) bool {
		return workspaces[i].CreatedAt.Before(workspaces[j].CreatedAt)
	})

	return workspaces, nil
}

func (r *workspaceRepository) Update(workspace *domain.Workspace) error {
	var existing domain.Workspace
	if err := getJSON(r.db, workspaceKey(workspace.ID), &existing); err != nil {
		if err == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch workspace for update: %w", err)
	}

	workspace.UpdatedAt = time.Now()
	if err := putJSON(r.db, workspaceKey(workspace.ID), workspace); err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	return nil
}

func (r *workspaceRepository) findFirst(match func(*domain.Workspace) bool) (*domain.Workspace, error) {
	var found *domain.Workspace

	err := r.scan(func(ws *domain.Workspace) bool {
		if match(ws) {
			found = ws
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query workspaces: %w", err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// scan walks every workspace; fn returns false to stop early.
func (r *workspaceRepository) scan(fn func(*domain.Workspace) bool) error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("workspace!")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var stop bool
			err := it.Item().Value(func(val []byte) error {
				var ws domain.Workspace
				if err := json.Unmarshal(val, &ws); err != nil {
					return nil
				}
				if !fn(&ws) {
					stop = true
				}
				return nil
			})
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	})
}
