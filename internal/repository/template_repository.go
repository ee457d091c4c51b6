package repository

import (
	"encoding/json"
	"fmt"
	"sort"

	"quillmark-local-engine/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

type TemplateRepository interface {
	Create(template *domain.Template) error
	FindByID(id string) (*domain.Template, error)
	List() ([]*domain.Template, error)
	Delete(id string) error
}

type templateRepository struct {
	db *badger.DB
}

func NewTemplateRepository(db *badger.DB) TemplateRepository {
	return &templateRepository{db: db}
}

func templateKey(id string) []byte {
	return []byte(fmt.Sprintf("template!%s", id))
}

func (r *templateRepository) Create(template *domain.Template) error {
	if err := putJSON(r.db, templateKey(template.ID), template); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *templateRepository) FindByID(id string) (*domain.Template, error) {
	var template domain.Template
	if err := getJSON(r.db, templateKey(id), &template); err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find template: %w", err)
	}
	return &template, nil
}

func (r *templateRepository) List() ([]*domain.Template, error) {
	var templates []*domain.Template

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("template!")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var t domain.Template
				if err := json.Unmarshal(val, &t); err != nil {
					return nil
				}
				templates = append(templates, &t)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates, nil
}

func (r *templateRepository) Delete(id string) error {
	if err := deleteKey(r.db, templateKey(id)); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}
