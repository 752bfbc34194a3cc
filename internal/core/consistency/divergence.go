// package consistency/divergence.go
package consistency

import (
	"fmt"
	"strings"

	"fiscal-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance for comparing XML and ledger tax amounts.
var Epsilon = decimal.New(1, -2)

// Kind identifies which taxes a divergence is about.
type Kind string

// Constants for divergence kinds.
const (
	KindICMS  Kind = "ICMS"
	KindIPIST Kind = "IPIST"
)

// StatusCode classifies the outcome of comparing one document.
type StatusCode int

// Constants defining possible comparison results.
const (
	StatusOK                StatusCode = 0
	StatusDiscrepanciaICMS  StatusCode = 1
	StatusNaoEncontradaSPED StatusCode = 2
	StatusDiscrepanciaIPIST StatusCode = 4
)

// Amounts are the tax values of one side of a comparison.
type Amounts struct {
	ICMS   decimal.Decimal `json:"icms"`
	ICMSST decimal.Decimal `json:"icmsSt"`
	IPI    decimal.Decimal `json:"ipi"`
}

// Divergence is one document whose XML taxes disagree with the ledger.
type Divergence struct {
	Kind           Kind       `json:"kind"`
	AccessKey      string     `json:"accessKey"`
	DocumentNumber string     `json:"documentNumber"`
	StatusCode     StatusCode `json:"statusCode"`
	Alerts         []string   `json:"alerts"`
	XML            Amounts    `json:"xml"`
	Ledger         *Amounts   `json:"ledger,omitempty"`
	LedgerCFOPs    []string   `json:"ledgerCfops,omitempty"`
}

// CompareTaxes matches XML documents to ledger rows by access key and reports
// ICMS and IPI/ST differences. ICMS is not compared when the ledger entry
// carries a CFOP listed in ignoredCFOPs (operations without credit).
// Canceled documents are skipped.
func CompareTaxes(ledger, documents []domain.Record, ignoredCFOPs []string) []Divergence {
	ignored := make(map[string]bool, len(ignoredCFOPs))
	for _, c := range ignoredCFOPs {
		if c = strings.TrimSpace(c); c != "" {
			ignored[c] = true
		}
	}

	byKey := make(map[string]domain.Record, len(ledger))
	for _, row := range ledger {
		if row.AccessKey == "" {
			continue
		}
		if _, dup := byKey[row.AccessKey]; !dup {
			byKey[row.AccessKey] = row
		}
	}

	out := []Divergence{}
	for _, doc := range documents {
		if doc.AccessKey == "" || doc.Canceled || doc.IsLine() {
			continue
		}
		xmlAmounts := amountsOf(doc)

		row, ok := byKey[doc.AccessKey]
		if !ok {
			out = append(out, Divergence{
				Kind:           KindICMS,
				AccessKey:      doc.AccessKey,
				DocumentNumber: doc.DocumentNumber,
				StatusCode:     StatusNaoEncontradaSPED,
				Alerts:         []string{"NFe não encontrada no SPED"},
				XML:            xmlAmounts,
			})
			continue
		}

		ledgerAmounts := amountsOf(row)
		cfops := ledgerCFOPs(row)
		skipICMS := false
		for _, c := range cfops {
			if ignored[c] {
				skipICMS = true
				break
			}
		}

		if !skipICMS && differs(xmlAmounts.ICMS, ledgerAmounts.ICMS) {
			out = append(out, Divergence{
				Kind:           KindICMS,
				AccessKey:      doc.AccessKey,
				DocumentNumber: doc.DocumentNumber,
				StatusCode:     StatusDiscrepanciaICMS,
				Alerts: []string{fmt.Sprintf("Discrepância detectada: ICMS XML=%s, SPED=%s",
					xmlAmounts.ICMS.StringFixed(2), ledgerAmounts.ICMS.StringFixed(2))},
				XML:         xmlAmounts,
				Ledger:      &ledgerAmounts,
				LedgerCFOPs: cfops,
			})
		}

		if differs(xmlAmounts.ICMSST, ledgerAmounts.ICMSST) || differs(xmlAmounts.IPI, ledgerAmounts.IPI) {
			out = append(out, Divergence{
				Kind:           KindIPIST,
				AccessKey:      doc.AccessKey,
				DocumentNumber: doc.DocumentNumber,
				StatusCode:     StatusDiscrepanciaIPIST,
				Alerts:         []string{"Discrepância detectada nos valores de IPI/ST"},
				XML:            xmlAmounts,
				Ledger:         &ledgerAmounts,
				LedgerCFOPs:    cfops,
			})
		}
	}
	return out
}

// ledgerCFOPs returns every CFOP of the ledger entry, including the ones
// collected from its analytical records.
func ledgerCFOPs(row domain.Record) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	add(row.CFOP)
	for _, c := range strings.Split(row.Extra[domain.ExtraCFOPs], ",") {
		add(c)
	}
	return out
}

func amountsOf(r domain.Record) Amounts {
	return Amounts{
		ICMS:   valueOf(r.Taxes.ICMS),
		ICMSST: valueOf(r.Taxes.ICMSST),
		IPI:    valueOf(r.Taxes.IPI),
	}
}

func valueOf(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func differs(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(Epsilon)
}
