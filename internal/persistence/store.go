package persistence

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"quillmark-local-engine/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration
}

func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: false,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig is what tests use: no files, no GC loop.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store wraps the engine's embedded database. One Store is shared by
// every per-document adapter and by the metadata repositories.
type Store struct {
	db   *badger.DB
	stop chan struct{}
}

func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Store{
		db:   db,
		stop: make(chan struct{}),
	}

	if !cfg.InMemory && cfg.GCInterval > 0 {
		go s.runGC(cfg.GCInterval)
	}

	return s, nil
}

func (s *Store) Close() error {
	close(s.stop)
	return s.db.Close()
}

// DB exposes the underlying handle for the metadata repositories.
func (s *Store) DB() *badger.DB {
	return s.db
}

func (s *Store) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		case <-s.stop:
			return
		}
	}
}

func logPrefix(namespace string) []byte {
	return []byte("log!" + namespace + "!")
}

func seenKey(namespace, updateKey string) []byte {
	return []byte("seen!" + namespace + "!" + updateKey)
}

// appendUpdate stores one update under the next log sequence unless its
// key was seen before. Returns whether it was written.
func (s *Store) appendUpdate(namespace string, seq uint64, updateKey string, update []byte) (bool, error) {
	written := false
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(seenKey(namespace, updateKey)); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		logKey := fmt.Sprintf("log!%s!%020d", namespace, seq)
		if err := txn.Set([]byte(logKey), update); err != nil {
			return err
		}
		if err := txn.Set(seenKey(namespace, updateKey), nil); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to append update: %w", err)
	}
	return written, nil
}

// replayUpdates streams the stored log in write order.
func (s *Store) replayUpdates(namespace string, fn func(update []byte) error) (uint64, error) {
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = logPrefix(namespace)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				update := make([]byte, len(val))
				copy(update, val)
				return fn(update)
			})
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replay updates: %w", err)
	}
	return count, nil
}

// DropNamespace removes every key a document ever wrote. Used only by
// the cascade delete; eviction never touches stored data.
func (s *Store) DropNamespace(namespace string) error {
	prefixes := [][]byte{
		logPrefix(namespace),
		[]byte("seen!" + namespace + "!"),
		[]byte("debug!" + namespace + "!"),
	}

	for _, prefix := range prefixes {
		if err := s.db.DropPrefix(prefix); err != nil {
			return fmt.Errorf("failed to drop namespace %s: %w", namespace, err)
		}
	}
	return nil
}

func (s *Store) SaveDebugSnapshot(snap *domain.DebugSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal debug snapshot: %w", err)
	}

	key := fmt.Sprintf("debug!%s!%s", Namespace(snap.DocumentID), snap.CapturedAt.UTC().Format(time.RFC3339Nano))
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save debug snapshot: %w", err)
	}
	return nil
}

func (s *Store) DebugSnapshots(documentID string) ([]*domain.DebugSnapshot, error) {
	var snaps []*domain.DebugSnapshot

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("debug!" + Namespace(documentID) + "!")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var snap domain.DebugSnapshot
				if err := json.Unmarshal(val, &snap); err != nil {
					log.Printf("[persistence] skipping corrupt debug snapshot: %v", err)
					return nil
				}
				snaps = append(snaps, &snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list debug snapshots: %w", err)
	}

	return snaps, nil
}
