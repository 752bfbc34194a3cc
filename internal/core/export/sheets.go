// package export/sheets.go
package export

import (
	"fmt"
	"strconv"
	"strings"

	"fiscal-service/internal/core/consistency"
	"fiscal-service/internal/core/reconcile"
	"fiscal-service/internal/core/session"
	"fiscal-service/internal/domain"

	"github.com/shopspring/decimal"
)

var recordHeader = []string{
	"Origem", "Chave de Acesso", "Número", "Série", "CNPJ/CPF", "Razão Social", "UF",
	"Data de Emissão", "Valor", "CFOP", "Espécie", "Cancelada", "Item", "Código Produto",
	"Descrição Produto", "NCM", "ICMS", "ICMS ST", "IPI", "PIS", "COFINS",
}

// RunSheets lays out every table of a processed session, one sheet each.
// Right-only categories get one sheet per category.
func RunSheets(doc session.Document) []Sheet {
	data := doc.ProcessedData
	var sheets []Sheet

	sheets = append(sheets, summarySheet(doc))
	sheets = append(sheets, reconciliationSheets("Entradas", data.Entradas)...)
	sheets = append(sheets, reconciliationSheets("Saídas", data.Saidas)...)

	seq := Sheet{Name: "Sequência Saídas", Header: []string{"Número", "Status", "Ajuste Manual", "Chave de Acesso", "Destinatário", "Valor"}}
	for _, p := range data.Sequence.Positions {
		row := []any{p.Number, string(p.Status), yesNo(p.Overridden), "", "", ""}
		if p.Document != nil {
			row[3], row[4], row[5] = p.Document.AccessKey, p.Document.CounterpartyName, money(p.Document.TotalValue)
		}
		seq.Rows = append(seq.Rows, row)
	}
	sheets = append(sheets, seq)

	cfopSheet := Sheet{Name: "CFOP x UF", Header: []string{"Número", "CNPJ/CPF", "UF", "CFOP", "Descrição", "CFOP Sugerido", "Descrição Sugerida"}}
	for _, f := range data.Consistency.CFOPUFInconsistencies {
		cfopSheet.Rows = append(cfopSheet.Rows, []any{f.DocumentNumber, f.TaxID, f.CounterpartyUF, f.CFOP, f.Description, f.SuggestedCFOP, f.SuggestedDesc})
	}
	sheets = append(sheets, cfopSheet)
	sheets = append(sheets, taxTotalsSheet(data.Consistency.TaxTotals))

	div := Sheet{Name: "Divergências XML x SPED", Header: []string{"Tipo", "Chave de Acesso", "Número", "Status", "Alertas", "ICMS XML", "ICMS SPED", "ST XML", "ST SPED", "IPI XML", "IPI SPED"}}
	for _, d := range data.Divergences {
		row := []any{string(d.Kind), d.AccessKey, d.DocumentNumber, int(d.StatusCode), strings.Join(d.Alerts, "; "),
			money(d.XML.ICMS), "", money(d.XML.ICMSST), "", money(d.XML.IPI), ""}
		if d.Ledger != nil {
			row[6], row[8], row[10] = money(d.Ledger.ICMS), money(d.Ledger.ICMSST), money(d.Ledger.IPI)
		}
		div.Rows = append(div.Rows, row)
	}
	sheets = append(sheets, div)

	if len(data.FileErrors) > 0 {
		errs := Sheet{Name: "Erros de Arquivo", Header: []string{"Arquivo", "Erro"}}
		for _, e := range data.FileErrors {
			errs.Rows = append(errs.Rows, []any{e.File, e.Message})
		}
		sheets = append(sheets, errs)
	}
	return sheets
}

func summarySheet(doc session.Document) Sheet {
	d := doc.ProcessedData
	rows := [][]any{
		{"Competência", doc.Competence},
		{"Processado em", doc.ProcessedAt.Format("02/01/2006 15:04:05")},
		{"Execução", d.RunID},
		{"Última NF de saída do período anterior", doc.LastSaidaNumber},
		{"Entradas conciliadas", len(d.Entradas.Matched)},
		{"Entradas somente no XML", len(d.Entradas.LeftOnly)},
		{"Lançamentos sem nota", countRightOnly(d.Entradas)},
		{"Devoluções de emissão própria", len(d.Entradas.OwnIssuanceReturns)},
		{"Linhas do razão sem chave", d.Entradas.SkippedLedgerRows},
		{"Saídas conciliadas", len(d.Saidas.Matched)},
		{"Saídas somente no XML", len(d.Saidas.LeftOnly)},
		{"Inconsistências CFOP x UF", len(d.Consistency.CFOPUFInconsistencies)},
		{"Divergências XML x SPED", len(d.Divergences)},
	}
	if d.Sequence.FirstNumberAfterGap != nil {
		rows = append(rows, []any{"Primeira nota após quebra de sequência", *d.Sequence.FirstNumberAfterGap})
	}
	return Sheet{Name: "Resumo", Header: []string{"Item", "Valor"}, Rows: rows}
}

func reconciliationSheets(label string, res reconcile.Result) []Sheet {
	matched := Sheet{Name: "Conciliadas " + label, Header: append(append([]string{}, recordHeader...), "Espécie no Razão", "Valor no Razão", "Lançamentos no Razão")}
	for _, m := range res.Matched {
		row := recordRow(m.Record)
		row = append(row, m.Ledger.Category, money(m.Ledger.TotalValue), m.LedgerCount)
		matched.Rows = append(matched.Rows, row)
	}

	sheets := []Sheet{matched, recordSheet("Somente XML "+label, res.LeftOnly)}
	for _, category := range res.Categories {
		sheets = append(sheets, recordSheet(fmt.Sprintf("Razão %s - %s", label, category), res.RightOnlyByCategory[category]))
	}
	if len(res.OwnIssuanceReturns) > 0 {
		sheets = append(sheets, recordSheet("Devoluções Emissão Própria "+label, res.OwnIssuanceReturns))
	}
	return sheets
}

func recordSheet(name string, records []domain.Record) Sheet {
	s := Sheet{Name: name, Header: recordHeader}
	for _, r := range records {
		s.Rows = append(s.Rows, recordRow(r))
	}
	return s
}

func recordRow(r domain.Record) []any {
	date := ""
	if r.IssueDate != nil {
		date = r.IssueDate.Format("02/01/2006")
	}
	line := ""
	if r.LineNumber > 0 {
		line = strconv.Itoa(r.LineNumber)
	}
	return []any{
		string(r.Source), r.AccessKey, r.DocumentNumber, r.Series, r.CounterpartyTaxID, r.CounterpartyName,
		r.CounterpartyUF, date, money(r.TotalValue), r.CFOP, r.Category, yesNo(r.Canceled), line,
		r.ProductCode, r.ProductDescription, r.NCM,
		optional(r.Taxes.ICMS), optional(r.Taxes.ICMSST), optional(r.Taxes.IPI), optional(r.Taxes.PIS), optional(r.Taxes.COFINS),
	}
}

func taxTotalsSheet(t consistency.TaxTotals) Sheet {
	return Sheet{
		Name:   "Totais de Impostos",
		Header: []string{"Imposto", "Total", "Linhas"},
		Rows: [][]any{
			{"ICMS", money(t.ICMS.Total), len(t.ICMS.Rows)},
			{"ICMS ST", money(t.ICMSST.Total), len(t.ICMSST.Rows)},
			{"IPI", money(t.IPI.Total), len(t.IPI.Rows)},
			{"PIS", money(t.PIS.Total), len(t.PIS.Rows)},
			{"COFINS", money(t.COFINS.Total), len(t.COFINS.Rows)},
		},
	}
}

func countRightOnly(res reconcile.Result) int {
	n := 0
	for _, rows := range res.RightOnlyByCategory {
		n += len(rows)
	}
	return n
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func optional(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return money(*d)
}

func yesNo(b bool) string {
	if b {
		return "Sim"
	}
	return "Não"
}
