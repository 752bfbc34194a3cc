// Package extract converts rows decoded from spreadsheets, XML and SPED files
// into canonical domain records.
package extract

import (
	"strconv"
	"strings"

	"fiscal-service/internal/core/normalize"
	"fiscal-service/internal/domain"

	"github.com/schollz/closestmatch"
	"github.com/shopspring/decimal"
)

// Field is a logical column of the canonical record.
type Field string

// Logical fields recognised in tabular inputs.
const (
	FieldAccessKey          Field = "accessKey"
	FieldDocumentNumber     Field = "documentNumber"
	FieldSeries             Field = "series"
	FieldTaxID              Field = "counterpartyTaxId"
	FieldName               Field = "counterpartyName"
	FieldUF                 Field = "counterpartyUf"
	FieldIssueDate          Field = "issueDate"
	FieldTotalValue         Field = "totalValue"
	FieldCFOP               Field = "cfop"
	FieldCategory           Field = "category"
	FieldStatus             Field = "status"
	FieldLineNumber         Field = "lineNumber"
	FieldProductCode        Field = "productCode"
	FieldProductDescription Field = "productDescription"
	FieldNCM                Field = "ncm"
	FieldICMS               Field = "icms"
	FieldICMSST             Field = "icmsSt"
	FieldIPI                Field = "ipi"
	FieldPIS                Field = "pis"
	FieldCOFINS             Field = "cofins"
)

// DefaultAliases lists the accepted header names per field. Comparison is done
// on normalize.Header output, so accents, case and punctuation do not matter.
var DefaultAliases = map[Field][]string{
	FieldAccessKey:          {"chave", "chave de acesso", "chave acesso", "chave nfe", "chave da nota", "chave nf-e", "chave ct-e"},
	FieldDocumentNumber:     {"numero", "nº", "numero nf", "numero da nota", "nota", "nota fiscal", "num doc", "numero documento", "documento", "nf"},
	FieldSeries:             {"serie"},
	FieldTaxID:              {"cnpj", "cpf", "cnpj/cpf", "cpf/cnpj", "cnpj do fornecedor", "cnpj fornecedor", "cnpj emitente", "cnpj do cliente", "cnpj participante"},
	FieldName:               {"fornecedor", "razao social", "nome", "emitente", "cliente", "participante", "nome do fornecedor"},
	FieldUF:                 {"uf", "uf do fornecedor", "uf fornecedor", "uf emitente", "uf do cliente", "estado"},
	FieldIssueDate:          {"data", "emissao", "data emissao", "data de emissao", "dt emissao", "data entrada", "data do documento"},
	FieldTotalValue:         {"valor", "valor total", "valor contabil", "vl doc", "valor da nota", "valor documento", "total"},
	FieldCFOP:               {"cfop"},
	FieldCategory:           {"especie", "especie documento", "tipo", "tipo de despesa", "categoria"},
	FieldStatus:             {"situacao", "status"},
	FieldLineNumber:         {"item", "n item", "numero item", "linha"},
	FieldProductCode:        {"codigo produto", "cod produto", "codigo do produto", "produto", "codigo"},
	FieldProductDescription: {"descricao", "descricao produto", "descricao do produto"},
	FieldNCM:                {"ncm"},
	FieldICMS:               {"icms", "valor icms", "vl icms"},
	FieldICMSST:             {"icms st", "valor st", "vl icms st", "icms subst", "st"},
	FieldIPI:                {"ipi", "valor ipi", "vl ipi"},
	FieldPIS:                {"pis", "valor pis", "vl pis"},
	FieldCOFINS:             {"cofins", "valor cofins", "vl cofins"},
}

// Sheet is one decoded worksheet: raw cell text, header row not yet located.
type Sheet struct {
	Name string
	Rows [][]string
}

// Table is a sheet whose header row has been located.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// Mapping is the result of resolving a header row.
type Mapping struct {
	Columns     map[Field]int    `json:"columns"`
	Unmapped    []string         `json:"unmapped,omitempty"`
	Suggestions map[string]Field `json:"suggestions,omitempty"`
}

// Extractor resolves headers through aliases and builds records.
type Extractor struct {
	source  domain.Source
	aliases map[string]Field
	matcher *closestmatch.ClosestMatch
}

// NewExtractor creates an extractor for one source. A nil alias table uses DefaultAliases.
func NewExtractor(source domain.Source, aliases map[Field][]string) *Extractor {
	if aliases == nil {
		aliases = DefaultAliases
	}
	folded := make(map[string]Field)
	var keys []string
	for field, names := range aliases {
		for _, name := range names {
			key := normalize.Header(name)
			if key == "" {
				continue
			}
			if _, dup := folded[key]; dup {
				continue
			}
			folded[key] = field
			keys = append(keys, key)
		}
	}
	return &Extractor{
		source:  source,
		aliases: folded,
		matcher: closestmatch.New(keys, []int{2, 3}),
	}
}

// Resolve maps header columns to fields. The first column matching a field wins;
// headers with no alias are reported with the closest alias as a suggestion but
// never mapped automatically.
func (e *Extractor) Resolve(headers []string) Mapping {
	m := Mapping{Columns: make(map[Field]int)}
	for idx, h := range headers {
		key := normalize.Header(h)
		if key == "" {
			continue
		}
		field, ok := e.aliases[key]
		if !ok {
			m.Unmapped = append(m.Unmapped, h)
			if closest := e.matcher.Closest(key); closest != "" {
				if m.Suggestions == nil {
					m.Suggestions = make(map[string]Field)
				}
				m.Suggestions[h] = e.aliases[closest]
			}
			continue
		}
		if _, taken := m.Columns[field]; !taken {
			m.Columns[field] = idx
		}
	}
	return m
}

// maxHeaderSearchRows bounds the header auto-detection scan.
const maxHeaderSearchRows = 40

// Locate finds the header row of a sheet: the first row within the first 40
// with at least two recognised columns. Falls back to the first row.
func (e *Extractor) Locate(sheet Sheet) Table {
	limit := len(sheet.Rows)
	if limit > maxHeaderSearchRows {
		limit = maxHeaderSearchRows
	}
	headerIdx := 0
	for i := 0; i < limit; i++ {
		hits := 0
		for _, cell := range sheet.Rows[i] {
			if _, ok := e.aliases[normalize.Header(cell)]; ok {
				hits++
			}
		}
		if hits >= 2 {
			headerIdx = i
			break
		}
	}
	if len(sheet.Rows) == 0 {
		return Table{Name: sheet.Name}
	}
	return Table{
		Name:    sheet.Name,
		Headers: sheet.Rows[headerIdx],
		Rows:    sheet.Rows[headerIdx+1:],
	}
}

// Extract converts a table into records. Blank rows are dropped; fields with
// no mapped column stay at their zero value (nil for taxes and dates).
// The input table is not modified.
func (e *Extractor) Extract(table Table) ([]domain.Record, Mapping) {
	mapping := e.Resolve(table.Headers)
	mapped := make(map[int]bool, len(mapping.Columns))
	for _, idx := range mapping.Columns {
		mapped[idx] = true
	}

	var records []domain.Record
	for _, row := range table.Rows {
		if isBlank(row) {
			continue
		}
		c := cells{row: row, columns: mapping.Columns}
		rec := e.build(c)
		for idx, h := range table.Headers {
			if mapped[idx] || idx >= len(row) || strings.TrimSpace(h) == "" {
				continue
			}
			if v := strings.TrimSpace(row[idx]); v != "" {
				if rec.Extra == nil {
					rec.Extra = make(map[string]string)
				}
				rec.Extra[h] = v
			}
		}
		records = append(records, rec)
	}
	return records, mapping
}

func (e *Extractor) build(c cells) domain.Record {
	rec := domain.Record{Source: e.source}

	if v, ok := c.get(FieldAccessKey); ok {
		rec.AccessKey = AccessKey(v)
	}
	if v, ok := c.get(FieldDocumentNumber); ok {
		rec.DocumentNumber = normalize.CleanNumericString(v)
	}
	if v, ok := c.get(FieldSeries); ok {
		rec.Series = normalize.CleanNumericString(v)
	}
	if v, ok := c.get(FieldTaxID); ok {
		rec.CounterpartyTaxID = normalize.TaxID(normalize.CleanNumericString(v))
	}
	if v, ok := c.get(FieldName); ok {
		rec.CounterpartyName = strings.TrimSpace(v)
	}
	if v, ok := c.get(FieldUF); ok {
		rec.CounterpartyUF = strings.ToUpper(strings.TrimSpace(v))
	}
	if v, ok := c.get(FieldIssueDate); ok {
		if d, ok := normalize.ParseDate(v); ok {
			rec.IssueDate = &d
		}
	}
	if v, ok := c.get(FieldTotalValue); ok {
		rec.TotalValue, _ = normalize.ParseAmount(v)
	}
	if v, ok := c.get(FieldCFOP); ok {
		rec.CFOP = normalize.TaxID(normalize.CleanNumericString(v))
	}
	if v, ok := c.get(FieldCategory); ok {
		rec.Category = strings.TrimSpace(v)
	}
	if v, ok := c.get(FieldStatus); ok {
		rec.Canceled = strings.Contains(normalize.Header(v), "CANCEL")
	}
	if v, ok := c.get(FieldLineNumber); ok {
		if n, err := strconv.Atoi(normalize.CleanNumericString(v)); err == nil && n > 0 {
			rec.LineNumber = n
		}
	}
	if v, ok := c.get(FieldProductCode); ok {
		rec.ProductCode = normalize.CleanNumericString(v)
	}
	if v, ok := c.get(FieldProductDescription); ok {
		rec.ProductDescription = strings.TrimSpace(v)
	}
	if v, ok := c.get(FieldNCM); ok {
		rec.NCM = normalize.TaxID(v)
	}

	rec.Taxes.ICMS = c.amount(FieldICMS)
	rec.Taxes.ICMSST = c.amount(FieldICMSST)
	rec.Taxes.IPI = c.amount(FieldIPI)
	rec.Taxes.PIS = c.amount(FieldPIS)
	rec.Taxes.COFINS = c.amount(FieldCOFINS)

	rec.ComparisonKey = normalize.ComparisonKey(rec.DocumentNumber, rec.CounterpartyTaxID)
	return rec
}

// AccessKey keeps only well-formed 44-digit keys.
func AccessKey(raw string) string {
	digits := normalize.TaxID(normalize.CleanNumericString(raw))
	if len(digits) != 44 {
		return ""
	}
	return digits
}

type cells struct {
	row     []string
	columns map[Field]int
}

// get returns ok=false only when no column is mapped to the field. A mapped
// column past the end of a short row reads as an empty value.
func (c cells) get(f Field) (string, bool) {
	idx, ok := c.columns[f]
	if !ok {
		return "", false
	}
	if idx >= len(c.row) {
		return "", true
	}
	return c.row[idx], true
}

func (c cells) amount(f Field) *decimal.Decimal {
	v, ok := c.get(f)
	if !ok {
		return nil
	}
	d, ok := normalize.ParseAmount(v)
	if !ok {
		return nil
	}
	return &d
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
