// package session/repository.go
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"fiscal-service/internal/core/ledger"
	"fiscal-service/internal/storage"

	"go.uber.org/zap"
)

// Fixed storage keys.
const (
	DocumentKey        = "fiscal:session"
	ClassificationsKey = "fiscal:classifications"
)

// Repository reads and writes the session document and the classification
// store, each as one JSON value.
type Repository struct {
	store  storage.Storage
	logger *zap.Logger
}

// NewRepository creates a repository over a storage backend.
func NewRepository(store storage.Storage, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{store: store, logger: logger}
}

// SaveDocument persists the session without the classification store.
func (r *Repository) SaveDocument(ctx context.Context, doc Document) error {
	doc.ClassificationStore = nil
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("erro ao serializar sessão: %w", err)
	}
	if err := r.store.SetItem(ctx, DocumentKey, string(data)); err != nil {
		r.logger.Warn("falha ao salvar sessão",
			zap.String("competence", doc.Competence),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return fmt.Errorf("erro ao salvar sessão: %w", err)
	}
	r.logger.Info("sessão salva", zap.String("competence", doc.Competence), zap.Int("bytes", len(data)))
	return nil
}

// LoadDocument returns ErrNotFound when nothing was saved.
func (r *Repository) LoadDocument(ctx context.Context) (Document, error) {
	raw, ok, err := r.store.GetItem(ctx, DocumentKey)
	if err != nil {
		return Document{}, fmt.Errorf("erro ao ler sessão: %w", err)
	}
	if !ok {
		return Document{}, ErrNotFound
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Document{}, fmt.Errorf("sessão salva corrompida: %w", err)
	}
	return doc, nil
}

// SaveStore persists the classification store.
func (r *Repository) SaveStore(ctx context.Context, store ledger.Store) error {
	data, err := json.Marshal(store)
	if err != nil {
		return fmt.Errorf("erro ao serializar classificações: %w", err)
	}
	if err := r.store.SetItem(ctx, ClassificationsKey, string(data)); err != nil {
		r.logger.Warn("falha ao salvar classificações",
			zap.Int("version", store.Version),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return fmt.Errorf("erro ao salvar classificações: %w", err)
	}
	r.logger.Info("classificações salvas", zap.Int("version", store.Version), zap.Int("competences", len(store.Competences)))
	return nil
}

// LoadStore returns an empty store when nothing was saved.
func (r *Repository) LoadStore(ctx context.Context) (ledger.Store, error) {
	raw, ok, err := r.store.GetItem(ctx, ClassificationsKey)
	if err != nil {
		return ledger.Store{}, fmt.Errorf("erro ao ler classificações: %w", err)
	}
	if !ok {
		return ledger.NewStore(), nil
	}
	var store ledger.Store
	if err := json.Unmarshal([]byte(raw), &store); err != nil {
		return ledger.Store{}, fmt.Errorf("classificações salvas corrompidas: %w", err)
	}
	if store.Competences == nil {
		store.Competences = map[string]ledger.CompetenceEntry{}
	}
	return store, nil
}
