package consistency

import (
	"testing"

	"fiscal-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCheckSuggestsInterstateCFOP(t *testing.T) {
	report := NewChecker("PR").Check([]domain.Record{
		{DocumentNumber: "10", CounterpartyTaxID: "11.222.333/0001-44", CounterpartyUF: "SP", CFOP: "1102"},
	})
	require.Len(t, report.CFOPUFInconsistencies, 1)
	f := report.CFOPUFInconsistencies[0]
	assert.Equal(t, "1102", f.CFOP)
	assert.Equal(t, "2102", f.SuggestedCFOP)
	assert.Equal(t, "11222333000144", f.TaxID)
	assert.Equal(t, "Compra para comercialização (interestadual)", f.SuggestedDesc)
}

func TestCheckScopeRules(t *testing.T) {
	cases := []struct {
		name      string
		uf        string
		cfop      string
		suggested string
	}{
		{"intrastate flagged as interstate", "pr", "2102", "1102"},
		{"foreign counterparty", "EX", "2102", "3102"},
		{"correct intrastate", "PR", "1556", ""},
		{"correct interstate", "SC", "2556", ""},
		{"outbound ignored", "SP", "5102", ""},
		{"missing state", "", "1102", ""},
		{"malformed cfop", "SP", "110", ""},
	}
	checker := NewChecker("PR")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := checker.Check([]domain.Record{{DocumentNumber: "1", CounterpartyTaxID: "1", CounterpartyUF: tc.uf, CFOP: tc.cfop}})
			if tc.suggested == "" {
				assert.Empty(t, report.CFOPUFInconsistencies)
				return
			}
			require.Len(t, report.CFOPUFInconsistencies, 1)
			assert.Equal(t, tc.suggested, report.CFOPUFInconsistencies[0].SuggestedCFOP)
		})
	}
}

func TestCheckDeduplicatesByDocumentAndTaxID(t *testing.T) {
	row := domain.Record{DocumentNumber: "10", CounterpartyTaxID: "11222333000144", CounterpartyUF: "SP", CFOP: "1102"}
	line2 := row
	line2.DocumentNumber = "010"
	line2.LineNumber = 2
	other := row
	other.CounterpartyTaxID = "99888777000166"

	report := NewChecker("PR").Check([]domain.Record{row, line2, other})
	require.Len(t, report.CFOPUFInconsistencies, 2)
	assert.Equal(t, 0, report.CFOPUFInconsistencies[0].Record.LineNumber, "first occurrence kept")
}

func TestCheckTaxTotalsArePerField(t *testing.T) {
	rows := []domain.Record{
		{DocumentNumber: "1", Taxes: domain.TaxFields{ICMS: amount("10.50"), PIS: amount("1.65")}},
		{DocumentNumber: "2", Taxes: domain.TaxFields{ICMS: amount("4.50")}},
		{DocumentNumber: "3", Taxes: domain.TaxFields{COFINS: amount("7.60"), IPI: amount("0")}},
		{DocumentNumber: "4"},
	}
	totals := NewChecker("PR").Check(rows).TaxTotals

	assert.Equal(t, "15", totals.ICMS.Total.String())
	assert.Len(t, totals.ICMS.Rows, 2)
	assert.Equal(t, "1.65", totals.PIS.Total.String())
	assert.Len(t, totals.PIS.Rows, 1)
	assert.Equal(t, "0", totals.IPI.Total.String())
	assert.Len(t, totals.IPI.Rows, 1, "a zero amount is still a present value")
	assert.Empty(t, totals.ICMSST.Rows)
	assert.Equal(t, "3", totals.COFINS.Rows[0].DocumentNumber)
}

func TestCompareTaxes(t *testing.T) {
	ledger := []domain.Record{
		{AccessKey: "K1", CFOP: "1102", Taxes: domain.TaxFields{ICMS: amount("12.00"), IPI: amount("5")}},
		{AccessKey: "K2", CFOP: "1102", Extra: map[string]string{domain.ExtraCFOPs: "1102,1407"}, Taxes: domain.TaxFields{ICMS: amount("0")}},
		{AccessKey: "K3", Taxes: domain.TaxFields{ICMS: amount("3.00")}},
	}
	docs := []domain.Record{
		{AccessKey: "K1", DocumentNumber: "1", Taxes: domain.TaxFields{ICMS: amount("12.005"), IPI: amount("5")}},
		{AccessKey: "K2", DocumentNumber: "2", Taxes: domain.TaxFields{ICMS: amount("9.00")}},
		{AccessKey: "K3", DocumentNumber: "3", Taxes: domain.TaxFields{ICMS: amount("2.00"), ICMSST: amount("1")}},
		{AccessKey: "K4", DocumentNumber: "4"},
		{AccessKey: "K5", DocumentNumber: "5", Canceled: true},
	}

	out := CompareTaxes(ledger, docs, []string{"1407"})
	require.Len(t, out, 3)

	assert.Equal(t, "3", out[0].DocumentNumber)
	assert.Equal(t, StatusDiscrepanciaICMS, out[0].StatusCode)
	assert.Equal(t, "Discrepância detectada: ICMS XML=2.00, SPED=3.00", out[0].Alerts[0])

	assert.Equal(t, "3", out[1].DocumentNumber)
	assert.Equal(t, KindIPIST, out[1].Kind)

	assert.Equal(t, "4", out[2].DocumentNumber)
	assert.Equal(t, StatusNaoEncontradaSPED, out[2].StatusCode)
	assert.Nil(t, out[2].Ledger)
}
