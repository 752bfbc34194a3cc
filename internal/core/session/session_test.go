package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fiscal-service/internal/core/ledger"
	"fiscal-service/internal/core/reconcile"
	"fiscal-service/internal/core/sequence"
	"fiscal-service/internal/domain"
	"fiscal-service/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleDocument() (Document, ledger.Store) {
	icms := decimal.RequireFromString("18.00")
	docs := []domain.Record{{
		Source: domain.SourceEntradas, AccessKey: "A", DocumentNumber: "500",
		CounterpartyTaxID: "11222333000144", IssueDate: domain.Date(2024, time.January, 15),
		TotalValue: decimal.RequireFromString("1234.56"), Taxes: domain.TaxFields{ICMS: &icms},
	}}
	ledgerRows := []domain.Record{
		{Source: domain.SourceLedger, DocumentNumber: "500", CounterpartyTaxID: "11222333000144", Category: "compra"},
		{Source: domain.SourceLedger, DocumentNumber: "777", CounterpartyTaxID: "11222333000144", Category: "energia",
			Extra: map[string]string{"Observação": "conta de luz"}},
	}
	result := reconcile.NewService(reconcile.Options{}).Reconcile(reconcile.Input{Ledger: ledgerRows, Documents: docs})

	store := ledger.NewStore()
	store.Version = 3
	store.Competences["2024-01"] = ledger.CompetenceEntry{
		Classifications: map[string]ledger.ClassificationEntry{"11222333000144|P-1": {Classification: ledger.Imobilizado}},
		AccountCodes:    map[string]ledger.AccountCodeEntry{"A|1": {AccountCode: "1.2.3"}},
	}

	doc := Document{
		Competence:           "2024-01",
		ProcessedAt:          time.Date(2024, 2, 1, 10, 30, 0, 0, time.UTC),
		ProcessedData:        ProcessedData{RunID: "run-1", Entradas: result, Sequence: sequence.Analyze(nil, 0, nil)},
		LastSaidaNumber:      100,
		DisregardedNfseNotes: []string{"NFSE-9"},
		SaidasStatus:         map[int64]sequence.Status{12: sequence.StatusCancelada},
	}
	return doc, store
}

func canonical(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestExportImportRoundTrip(t *testing.T) {
	doc, store := sampleDocument()

	data, err := Export(doc, store)
	require.NoError(t, err)

	gotDoc, gotStore, err := Import(data)
	require.NoError(t, err)

	assert.Equal(t, store, gotStore)
	assert.Equal(t, canonical(t, doc.ProcessedData.Entradas), canonical(t, gotDoc.ProcessedData.Entradas))
	assert.Equal(t, canonical(t, doc), canonical(t, gotDoc))
	assert.Nil(t, gotDoc.ClassificationStore)
	assert.Equal(t, sequence.StatusCancelada, gotDoc.SaidasStatus[12])
	assert.Len(t, gotDoc.ProcessedData.Entradas.Matched, 1)
	assert.Len(t, gotDoc.ProcessedData.Entradas.RightOnlyByCategory["energia"], 1)
}

func TestImportRejectsInvalidDocuments(t *testing.T) {
	_, _, err := Import([]byte(`{`))
	assert.Error(t, err)

	_, _, err = Import([]byte(`{"competence":""}`))
	assert.Error(t, err)

	_, _, err = Import([]byte(`{"competence":"2024-01","saidasStatus":{"3":"perdida"}}`))
	assert.Error(t, err)

	_, store, err := Import([]byte(`{"competence":"2024-01"}`))
	require.NoError(t, err)
	assert.NotNil(t, store.Competences)
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(storage.NewMemory(0), zap.NewNop())

	_, err := repo.LoadDocument(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := repo.LoadStore(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Competences)

	doc, store := sampleDocument()
	doc.ClassificationStore = &store
	require.NoError(t, repo.SaveDocument(ctx, doc))
	require.NoError(t, repo.SaveStore(ctx, store))

	loaded, err := repo.LoadDocument(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded.ClassificationStore, "the store is kept under its own key")
	assert.Equal(t, "2024-01", loaded.Competence)

	loadedStore, err := repo.LoadStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, store, loadedStore)
}

func TestRepositorySurfacesQuotaErrors(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(storage.NewMemory(64), nil)
	doc, _ := sampleDocument()

	err := repo.SaveDocument(ctx, doc)
	require.ErrorIs(t, err, storage.ErrQuotaExceeded)

	_, err = repo.LoadDocument(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
