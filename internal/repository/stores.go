package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quillmark-local-engine/internal/config"
	"quillmark-local-engine/internal/persistence"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-kivik/kivik/v4"
)

var ErrNotFound = errors.New("record not found")

// Stores bundles the metadata repositories the services depend on.
type Stores struct {
	Documents   DocumentRepository
	Folders     FolderRepository
	Workspaces  WorkspaceRepository
	SyncRecords SyncRecordRepository
	Diagrams    DiagramRepository
	Templates   TemplateRepository
}

// OpenStores wires the repositories for the configured storage driver.
// Derived artifacts (diagrams, templates) always live in the embedded
// store; the couch driver only relocates the entities that sync.
func OpenStores(cfg *config.Config, store *persistence.Store) (*Stores, error) {
	db := store.DB()

	stores := &Stores{
		Diagrams:  NewDiagramRepository(db),
		Templates: NewTemplateRepository(db),
	}

	switch cfg.Storage.Driver {
	case "couch":
		couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
			cfg.Couch.User,
			cfg.Couch.Password,
			cfg.Couch.Host,
			cfg.Couch.Port,
		)

		client, err := kivik.New("couch", couchURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to couchdb: %w", err)
		}

		exists, err := client.DBExists(context.Background(), cfg.Couch.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check database existence: %w", err)
		}
		if !exists {
			if err := client.CreateDB(context.Background(), cfg.Couch.Name); err != nil {
				return nil, fmt.Errorf("failed to create database: %w", err)
			}
		}

		stores.Documents = NewCouchDocumentRepository(client, cfg.Couch.Name)
		stores.Folders = NewCouchFolderRepository(client, cfg.Couch.Name)
		stores.Workspaces = NewCouchWorkspaceRepository(client, cfg.Couch.Name)
		stores.SyncRecords = NewCouchSyncRecordRepository(client, cfg.Couch.Name)
	default:
		stores.Documents = NewDocumentRepository(db)
		stores.Folders = NewFolderRepository(db)
		stores.Workspaces = NewWorkspaceRepository(db)
		stores.SyncRecords = NewSyncRecordRepository(db)
	}

	return stores, nil
}

func putJSON(db *badger.DB, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func getJSON(db *badger.DB, key []byte, out interface{}) error {
	return db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

func deleteKey(db *badger.DB, key []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}
