// package session/document.go
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fiscal-service/internal/core/consistency"
	"fiscal-service/internal/core/extract"
	"fiscal-service/internal/core/ledger"
	"fiscal-service/internal/core/reconcile"
	"fiscal-service/internal/core/sequence"
	"fiscal-service/internal/domain"
)

// ErrNotFound is returned when no session document has been saved yet.
var ErrNotFound = errors.New("nenhuma sessão salva")

// HeaderIssue lists the columns of an uploaded sheet that matched no field.
type HeaderIssue struct {
	File        string            `json:"file"`
	Sheet       string            `json:"sheet"`
	Unmapped    []string          `json:"unmapped"`
	Suggestions map[string]string `json:"suggestions,omitempty"`
}

// ProcessedData is every table computed by one run.
type ProcessedData struct {
	RunID          string                   `json:"runId"`
	Entradas       reconcile.Result         `json:"entradas"`
	Saidas         reconcile.Result         `json:"saidas"`
	NFSe           []domain.Record          `json:"nfse,omitempty"`
	Sequence       sequence.Result          `json:"sequence"`
	Consistency    consistency.Report       `json:"consistency"`
	Divergences    []consistency.Divergence `json:"divergences"`
	FileErrors     []extract.FileError      `json:"fileErrors,omitempty"`
	HeaderIssues   []HeaderIssue            `json:"headerIssues,omitempty"`
	Warnings       []string                 `json:"warnings,omitempty"`
	SaidaDocuments []domain.Record          `json:"saidaDocuments,omitempty"`
	LineItems      []domain.Record          `json:"lineItems,omitempty"`
}

// Document is the session persisted and exported wholesale.
type Document struct {
	Competence           string                    `json:"competence"`
	ProcessedAt          time.Time                 `json:"processedAt"`
	ProcessedData        ProcessedData             `json:"processedData"`
	LastSaidaNumber      int64                     `json:"lastSaidaNumber"`
	DisregardedNfseNotes []string                  `json:"disregardedNfseNotes"`
	SaidasStatus         map[int64]sequence.Status `json:"saidasStatus"`
	ClassificationStore  *ledger.Store             `json:"classificationStore,omitempty"`
}

// Export serializes the document together with the classification store so a
// re-import restores both.
func Export(doc Document, store ledger.Store) ([]byte, error) {
	doc.ClassificationStore = &store
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("erro ao serializar sessão: %w", err)
	}
	return data, nil
}

// Import parses an exported session. A document exported without store
// yields an empty one.
func Import(data []byte) (Document, ledger.Store, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, ledger.Store{}, fmt.Errorf("arquivo de sessão inválido: %w", err)
	}
	if strings.TrimSpace(doc.Competence) == "" {
		return Document{}, ledger.Store{}, errors.New("arquivo de sessão inválido: competência ausente")
	}
	for n, st := range doc.SaidasStatus {
		if !st.Valid() {
			return Document{}, ledger.Store{}, fmt.Errorf("arquivo de sessão inválido: status %q na nota %d", st, n)
		}
	}

	store := ledger.NewStore()
	if doc.ClassificationStore != nil {
		store = *doc.ClassificationStore
		if store.Competences == nil {
			store.Competences = map[string]ledger.CompetenceEntry{}
		}
	}
	doc.ClassificationStore = nil
	return doc, store, nil
}
