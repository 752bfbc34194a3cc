// package consistency/checker.go
package consistency

import (
	"strings"

	"fiscal-service/internal/core/cfop"
	"fiscal-service/internal/core/normalize"
	"fiscal-service/internal/domain"

	"github.com/shopspring/decimal"
)

// ForeignUF is the state code used for counterparties abroad.
const ForeignUF = "EX"

// Finding is one CFOP that contradicts the counterparty's state.
type Finding struct {
	DocumentNumber string        `json:"documentNumber"`
	TaxID          string        `json:"taxId"`
	CounterpartyUF string        `json:"counterpartyUf"`
	CFOP           string        `json:"cfop"`
	SuggestedCFOP  string        `json:"suggestedCfop"`
	Description    string        `json:"description,omitempty"`
	SuggestedDesc  string        `json:"suggestedDescription,omitempty"`
	Record         domain.Record `json:"record"`
}

// TaxTotal is the sum of one tax field and the rows that carry it.
type TaxTotal struct {
	Total decimal.Decimal `json:"total"`
	Rows  []domain.Record `json:"rows"`
}

// TaxTotals holds one independent list per tax.
type TaxTotals struct {
	ICMS   TaxTotal `json:"icms"`
	ICMSST TaxTotal `json:"icmsSt"`
	IPI    TaxTotal `json:"ipi"`
	PIS    TaxTotal `json:"pis"`
	COFINS TaxTotal `json:"cofins"`
}

// Report is the output of Check.
type Report struct {
	CFOPUFInconsistencies []Finding `json:"cfopUfInconsistencies"`
	TaxTotals             TaxTotals `json:"taxTotals"`
}

// Checker scans ledger rows for scope errors against the company's home state.
type Checker struct {
	homeUF string
}

// NewChecker creates a checker for a company located in homeUF.
func NewChecker(homeUF string) *Checker {
	return &Checker{homeUF: strings.ToUpper(strings.TrimSpace(homeUF))}
}

// Check flags inbound CFOPs whose scope digit contradicts the counterparty
// state and sums every tax field present on the rows.
func (c *Checker) Check(rows []domain.Record) Report {
	report := Report{
		CFOPUFInconsistencies: []Finding{},
		TaxTotals: TaxTotals{
			ICMS:   TaxTotal{Rows: []domain.Record{}},
			ICMSST: TaxTotal{Rows: []domain.Record{}},
			IPI:    TaxTotal{Rows: []domain.Record{}},
			PIS:    TaxTotal{Rows: []domain.Record{}},
			COFINS: TaxTotal{Rows: []domain.Record{}},
		},
	}

	seen := make(map[string]bool)
	for _, row := range rows {
		if f, ok := c.inspect(row); ok {
			key := normalize.DocumentNumber(row.DocumentNumber) + normalize.KeySeparator + normalize.TaxID(row.CounterpartyTaxID)
			if !seen[key] {
				seen[key] = true
				report.CFOPUFInconsistencies = append(report.CFOPUFInconsistencies, f)
			}
		}

		report.TaxTotals.ICMS.add(row, row.Taxes.ICMS)
		report.TaxTotals.ICMSST.add(row, row.Taxes.ICMSST)
		report.TaxTotals.IPI.add(row, row.Taxes.IPI)
		report.TaxTotals.PIS.add(row, row.Taxes.PIS)
		report.TaxTotals.COFINS.add(row, row.Taxes.COFINS)
	}
	return report
}

func (c *Checker) inspect(row domain.Record) (Finding, bool) {
	code := strings.TrimSpace(row.CFOP)
	if !cfop.Inbound(code) || c.homeUF == "" {
		return Finding{}, false
	}
	uf := strings.ToUpper(strings.TrimSpace(row.CounterpartyUF))
	if uf == "" {
		return Finding{}, false
	}

	expected := cfop.ScopeInterstate
	switch uf {
	case c.homeUF:
		expected = cfop.ScopeIntrastate
	case ForeignUF:
		expected = cfop.ScopeForeign
	}
	if cfop.ScopeOf(code) == expected {
		return Finding{}, false
	}

	suggested := cfop.WithScope(code, expected)
	return Finding{
		DocumentNumber: row.DocumentNumber,
		TaxID:          normalize.TaxID(row.CounterpartyTaxID),
		CounterpartyUF: uf,
		CFOP:           code,
		SuggestedCFOP:  suggested,
		Description:    cfop.Describe(code),
		SuggestedDesc:  cfop.Describe(suggested),
		Record:         row,
	}, true
}

func (t *TaxTotal) add(row domain.Record, amount *decimal.Decimal) {
	if amount == nil {
		return
	}
	t.Total = t.Total.Add(*amount)
	t.Rows = append(t.Rows, row)
}
