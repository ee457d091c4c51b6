package repository

import (
	"encoding/json"
	"fmt"

	"quillmark-local-engine/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

type SyncRecordRepository interface {
	// Get never reports absence: an id that was never synced yields a
	// fresh record with local status.
	Get(localID string) (*domain.SyncRecord, error)
	Put(record *domain.SyncRecord) error
	Delete(localID string) error
	List() ([]*domain.SyncRecord, error)
}

type syncRecordRepository struct {
	db *badger.DB
}

func NewSyncRecordRepository(db *badger.DB) SyncRecordRepository {
	return &syncRecordRepository{db: db}
}

func syncRecordKey(localID string) []byte {
	return []byte(fmt.Sprintf("syncrecord!%s", localID))
}

func (r *syncRecordRepository) Get(localID string) (*domain.SyncRecord, error) {
	var record domain.SyncRecord
	err := getJSON(r.db, syncRecordKey(localID), &record)
	if err == ErrNotFound {
		return &domain.SyncRecord{
			LocalID: localID,
			Status:  domain.SyncStatusLocal,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	return &record, nil
}

func (r *syncRecordRepository) Put(record *domain.SyncRecord) error {
	if err := putJSON(r.db, syncRecordKey(record.LocalID), record); err != nil {
		return fmt.Errorf("failed to store sync record: %w", err)
	}
	return nil
}

func (r *syncRecordRepository) Delete(localID string) error {
	if err := deleteKey(r.db, syncRecordKey(localID)); err != nil {
		return fmt.Errorf("failed to delete sync record: %w", err)
	}
	return nil
}

func (r *syncRecordRepository) List() ([]*domain.SyncRecord, error) {
	var records []*domain.SyncRecord

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("syncrecord!")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var record domain.SyncRecord
				if err := json.Unmarshal(val, &record); err != nil {
					return nil
				}
				records = append(records, &record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}

	return records, nil
}
