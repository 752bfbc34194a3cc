// package reconcile/service.go
package reconcile

import (
	"fiscal-service/internal/core/normalize"
	"fiscal-service/internal/domain"
)

// UncategorizedLabel is the right-only bucket for ledger rows without a species.
const UncategorizedLabel = "sem-categoria"

// Options tunes the right-only partitioning.
type Options struct {
	// ReturnCategory is the species value identifying returns of own issuance.
	// Matching ignores case, accents and punctuation. Empty disables the filter.
	ReturnCategory string
}

// Input is one reconciliation run: the external ledger against the internal
// document registry and its line items.
type Input struct {
	Ledger    []domain.Record
	Documents []domain.Record
	LineItems []domain.Record
}

// Match is an internal record (line item when the document has any) enriched
// with the first ledger row sharing its comparison key.
type Match struct {
	Key         string        `json:"key"`
	Record      domain.Record `json:"record"`
	Ledger      domain.Record `json:"ledger"`
	LedgerCount int           `json:"ledgerCount"`
}

// Result is the immutable output of one run. A new run replaces it wholesale.
type Result struct {
	Matched             []Match                    `json:"matched"`
	LeftOnly            []domain.Record            `json:"leftOnly"`
	RightOnlyByCategory map[string][]domain.Record `json:"rightOnlyByCategory"`
	Categories          []string                   `json:"categories"`
	OwnIssuanceReturns  []domain.Record            `json:"ownIssuanceReturns"`
	SkippedLedgerRows   int                        `json:"skippedLedgerRows"`
	UnkeyedDocuments    int                        `json:"unkeyedDocuments"`
}

// Service defines the reconciliation engine.
type Service interface {
	Reconcile(in Input) Result
}

type service struct {
	opts Options
}

// NewService creates a new reconciliation service.
func NewService(opts Options) Service {
	return &service{opts: opts}
}

// Reconcile runs the three-way match. Output order follows input order, so
// identical inputs always give identical partitions.
func (s *service) Reconcile(in Input) Result {
	res := Result{
		Matched:             []Match{},
		LeftOnly:            []domain.Record{},
		RightOnlyByCategory: map[string][]domain.Record{},
		Categories:          []string{},
		OwnIssuanceReturns:  []domain.Record{},
	}

	// 1. chave -> todas as linhas do razão com essa chave
	ledgerByKey := make(map[string][]int)
	for i, row := range in.Ledger {
		key := normalize.ComparisonKey(row.DocumentNumber, row.CounterpartyTaxID)
		if key == "" {
			res.SkippedLedgerRows++
			continue
		}
		ledgerByKey[key] = append(ledgerByKey[key], i)
	}

	documents, itemsByDoc := groupLineItems(in.Documents, in.LineItems)
	consulted := make(map[string]bool)

	// 2-3. documentos internos
	for di, doc := range documents {
		lines := itemsByDoc[di]
		if len(lines) == 0 {
			lines = []domain.Record{doc}
		}

		key := normalize.ComparisonKey(doc.DocumentNumber, doc.CounterpartyTaxID)
		if key == "" {
			res.UnkeyedDocuments++
			res.LeftOnly = append(res.LeftOnly, lines...)
			continue
		}

		idxs, ok := ledgerByKey[key]
		if !ok {
			res.LeftOnly = append(res.LeftOnly, lines...)
			continue
		}
		consulted[key] = true
		ledgerRow := in.Ledger[idxs[0]]
		for _, line := range lines {
			res.Matched = append(res.Matched, Match{
				Key:         key,
				Record:      line,
				Ledger:      ledgerRow,
				LedgerCount: len(idxs),
			})
		}
	}

	// 4-5. linhas do razão sem nota registrada
	returnKey := normalize.Header(s.opts.ReturnCategory)
	for _, row := range in.Ledger {
		key := normalize.ComparisonKey(row.DocumentNumber, row.CounterpartyTaxID)
		if key == "" || consulted[key] {
			continue
		}
		if returnKey != "" && normalize.Header(row.Category) == returnKey {
			res.OwnIssuanceReturns = append(res.OwnIssuanceReturns, row)
			continue
		}
		category := row.Category
		if normalize.Header(category) == "" {
			category = UncategorizedLabel
		}
		if _, seen := res.RightOnlyByCategory[category]; !seen {
			res.Categories = append(res.Categories, category)
		}
		res.RightOnlyByCategory[category] = append(res.RightOnlyByCategory[category], row)
	}

	return res
}

// groupLineItems attaches line items to their documents by access key, falling
// back to the comparison key for documents without one. Line items whose
// document is missing are promoted to a synthetic document (the first line of
// each orphan group), so every line item ends up in matched or left-only.
func groupLineItems(documents, items []domain.Record) ([]domain.Record, map[int][]domain.Record) {
	docs := make([]domain.Record, len(documents))
	copy(docs, documents)

	byAccessKey := make(map[string]int)
	byCompKey := make(map[string]int)
	for i, d := range docs {
		if d.AccessKey != "" {
			if _, dup := byAccessKey[d.AccessKey]; !dup {
				byAccessKey[d.AccessKey] = i
			}
			continue
		}
		if k := normalize.ComparisonKey(d.DocumentNumber, d.CounterpartyTaxID); k != "" {
			if _, dup := byCompKey[k]; !dup {
				byCompKey[k] = i
			}
		}
	}

	grouped := make(map[int][]domain.Record)
	for _, item := range items {
		idx, ok := -1, false
		if item.AccessKey != "" {
			idx, ok = byAccessKey[item.AccessKey]
		}
		if !ok {
			if k := normalize.ComparisonKey(item.DocumentNumber, item.CounterpartyTaxID); k != "" {
				idx, ok = byCompKey[k]
			}
		}
		if !ok {
			// nota sem cabeçalho: a primeira linha vira o documento
			doc := item
			doc.LineNumber = 0
			doc.ProductCode, doc.ProductDescription = "", ""
			docs = append(docs, doc)
			idx = len(docs) - 1
			if item.AccessKey != "" {
				byAccessKey[item.AccessKey] = idx
			} else if k := normalize.ComparisonKey(item.DocumentNumber, item.CounterpartyTaxID); k != "" {
				byCompKey[k] = idx
			}
		}
		grouped[idx] = append(grouped[idx], item)
	}
	return docs, grouped
}
