package reconcile

import (
	"testing"

	"fiscal-service/internal/core/extract"
	"fiscal-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerRow(num, taxID, category string) domain.Record {
	return domain.Record{Source: domain.SourceLedger, DocumentNumber: num, CounterpartyTaxID: taxID, Category: category}
}

func TestReconcileScenarioSingleMatch(t *testing.T) {
	svc := NewService(Options{})
	res := svc.Reconcile(Input{
		Documents: []domain.Record{{AccessKey: "A", DocumentNumber: "500", CounterpartyTaxID: "11.222.333/0001-44"}},
		Ledger:    []domain.Record{ledgerRow("500", "11222333000144", "compra")},
	})

	require.Len(t, res.Matched, 1)
	assert.Empty(t, res.RightOnlyByCategory)
	assert.Empty(t, res.LeftOnly)
	assert.Equal(t, "compra", res.Matched[0].Ledger.Category)
	assert.Equal(t, 1, res.Matched[0].LedgerCount)
}

func TestReconcileEmitsOneMatchPerLineItem(t *testing.T) {
	svc := NewService(Options{})
	doc := domain.Record{AccessKey: "K1", DocumentNumber: "10", CounterpartyTaxID: "11222333000144"}
	line1, line2 := doc, doc
	line1.LineNumber, line1.ProductCode = 1, "P1"
	line2.LineNumber, line2.ProductCode = 2, "P2"

	res := svc.Reconcile(Input{
		Documents: []domain.Record{doc},
		LineItems: []domain.Record{line1, line2},
		Ledger: []domain.Record{
			ledgerRow("10", "11222333000144", "compra"),
			ledgerRow("010", "11222333000144", "frete"),
		},
	})

	require.Len(t, res.Matched, 2)
	assert.Equal(t, "P1", res.Matched[0].Record.ProductCode)
	assert.Equal(t, "P2", res.Matched[1].Record.ProductCode)
	// first ledger row wins, the count exposes the others
	assert.Equal(t, "compra", res.Matched[0].Ledger.Category)
	assert.Equal(t, 2, res.Matched[0].LedgerCount)
	assert.Empty(t, res.RightOnlyByCategory, "rows sharing a consulted key are not right-only")
}

func TestReconcilePartitionsRightOnlyByCategory(t *testing.T) {
	svc := NewService(Options{ReturnCategory: extract.CategoryOwnIssuanceReturn})
	res := svc.Reconcile(Input{
		Documents: []domain.Record{
			{AccessKey: "A", DocumentNumber: "1", CounterpartyTaxID: "11222333000144"},
			{AccessKey: "B", DocumentNumber: "2", CounterpartyTaxID: "11222333000144"},
		},
		Ledger: []domain.Record{
			ledgerRow("1", "11222333000144", "compra"),
			ledgerRow("3", "11222333000144", "Energia"),
			ledgerRow("4", "11222333000144", ""),
			ledgerRow("5", "11222333000144", "energia"),
			ledgerRow("6", "11222333000144", "DEVOLUCAO EMISSAO PROPRIA"),
			ledgerRow("", "11222333000144", "compra"),
		},
	})

	require.Len(t, res.Matched, 1)
	require.Len(t, res.LeftOnly, 1)
	assert.Equal(t, "B", res.LeftOnly[0].AccessKey)

	assert.Equal(t, []string{"Energia", UncategorizedLabel, "energia"}, res.Categories)
	assert.Len(t, res.RightOnlyByCategory["Energia"], 1)
	assert.Len(t, res.RightOnlyByCategory[UncategorizedLabel], 1)
	require.Len(t, res.OwnIssuanceReturns, 1)
	assert.Equal(t, "6", res.OwnIssuanceReturns[0].DocumentNumber)
	assert.Equal(t, 1, res.SkippedLedgerRows)
}

func TestReconcileEmptyInternalInput(t *testing.T) {
	svc := NewService(Options{})
	res := svc.Reconcile(Input{Ledger: []domain.Record{
		ledgerRow("1", "11222333000144", "compra"),
		ledgerRow("2", "11222333000144", "compra"),
	}})
	assert.Empty(t, res.Matched)
	assert.Empty(t, res.LeftOnly)
	assert.Len(t, res.RightOnlyByCategory["compra"], 2)
}

func TestReconcileEmptyKeyNeverMatches(t *testing.T) {
	svc := NewService(Options{})
	res := svc.Reconcile(Input{
		Documents: []domain.Record{{AccessKey: "A", DocumentNumber: "", CounterpartyTaxID: ""}},
		Ledger:    []domain.Record{ledgerRow("", "", "compra")},
	})
	assert.Empty(t, res.Matched)
	assert.Len(t, res.LeftOnly, 1)
	assert.Equal(t, 1, res.UnkeyedDocuments)
	assert.Equal(t, 1, res.SkippedLedgerRows)
	assert.Empty(t, res.RightOnlyByCategory)
}

func TestReconcilePartitionCompletenessAndDeterminism(t *testing.T) {
	var docs, items, ledger []domain.Record
	for i, num := range []string{"1", "2", "3", "4", "5"} {
		doc := domain.Record{AccessKey: "K" + num, DocumentNumber: num, CounterpartyTaxID: "11222333000144"}
		docs = append(docs, doc)
		for l := 1; l <= i%3; l++ {
			item := doc
			item.LineNumber = l
			items = append(items, item)
		}
	}
	// orphan line item without a document
	items = append(items, domain.Record{AccessKey: "K9", DocumentNumber: "9", CounterpartyTaxID: "11222333000144", LineNumber: 1})
	for _, num := range []string{"2", "4", "7", "8", "9"} {
		ledger = append(ledger, ledgerRow(num, "11222333000144", "compra"))
	}

	svc := NewService(Options{})
	in := Input{Ledger: ledger, Documents: docs, LineItems: items}
	first := svc.Reconcile(in)
	second := svc.Reconcile(in)
	assert.Equal(t, first, second)

	seenLines := 0
	for _, m := range first.Matched {
		if m.Record.IsLine() {
			seenLines++
		}
	}
	for _, r := range first.LeftOnly {
		if r.IsLine() {
			seenLines++
		}
	}
	assert.Equal(t, len(items), seenLines, "each line item lands in exactly one partition")

	matchedKeys := map[string]bool{}
	for _, m := range first.Matched {
		matchedKeys[m.Key] = true
	}
	rightOnly := 0
	for _, rows := range first.RightOnlyByCategory {
		rightOnly += len(rows)
	}
	ledgerInMatched := 0
	for _, row := range ledger {
		if matchedKeys[row.DocumentNumber+"|11222333000144"] {
			ledgerInMatched++
		}
	}
	assert.Equal(t, len(ledger), ledgerInMatched+rightOnly)
	assert.Len(t, first.RightOnlyByCategory["compra"], 2)
}
