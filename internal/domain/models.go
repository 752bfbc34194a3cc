// package domain/models.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the namespace a record was pulled from. Access keys are
// unique inside one source but NF-e entradas, NF-e saídas and CT-e are disjoint.
type Source string

// Constants for record sources.
const (
	SourceEntradas Source = "nfe-entradas"
	SourceSaidas   Source = "nfe-saidas"
	SourceCTe      Source = "cte"
	SourceNFSe     Source = "nfse"
	SourceLedger   Source = "ledger"
)

// ExtraCFOPs is the Extra key listing every CFOP of a ledger entry, comma separated.
const ExtraCFOPs = "cfops"

// TaxFields holds the per-row tax amounts. A nil field means the source did not
// carry a numeric value for that tax, which is different from a zero amount.
type TaxFields struct {
	ICMS   *decimal.Decimal `json:"icms,omitempty"`
	ICMSST *decimal.Decimal `json:"icmsSt,omitempty"`
	IPI    *decimal.Decimal `json:"ipi,omitempty"`
	PIS    *decimal.Decimal `json:"pis,omitempty"`
	COFINS *decimal.Decimal `json:"cofins,omitempty"`
}

// Record is one fiscal document or line item after extraction.
type Record struct {
	Source             Source            `json:"source"`
	AccessKey          string            `json:"accessKey,omitempty"`
	DocumentNumber     string            `json:"documentNumber"`
	Series             string            `json:"series,omitempty"`
	CounterpartyTaxID  string            `json:"counterpartyTaxId"`
	CounterpartyName   string            `json:"counterpartyName,omitempty"`
	CounterpartyUF     string            `json:"counterpartyUf,omitempty"`
	IssueDate          *time.Time        `json:"issueDate,omitempty"`
	TotalValue         decimal.Decimal   `json:"totalValue"`
	CFOP               string            `json:"cfop,omitempty"`
	Category           string            `json:"category,omitempty"`
	Canceled           bool              `json:"canceled,omitempty"`
	LineNumber         int               `json:"lineNumber,omitempty"`
	ProductCode        string            `json:"productCode,omitempty"`
	ProductDescription string            `json:"productDescription,omitempty"`
	NCM                string            `json:"ncm,omitempty"`
	Taxes              TaxFields         `json:"taxes"`
	ComparisonKey      string            `json:"comparisonKey,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// IsLine reports whether the record is a line item rather than a whole document.
func (r Record) IsLine() bool {
	return r.LineNumber > 0
}

// Date builds a calendar date (no time part) in UTC.
func Date(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}
