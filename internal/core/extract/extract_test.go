package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"fiscal-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractResolvesAliasedHeaders(t *testing.T) {
	ex := NewExtractor(domain.SourceLedger, nil)
	table := Table{
		Headers: []string{"Número", "CNPJ/CPF", "UF do Fornecedor", "Valor Contábil", "Espécie", "Observação"},
		Rows: [][]string{
			{"500.0", "11.222.333/0001-44", "sp", "1.234,56", "compra", "urgente"},
			{"", "", "", "", "", ""},
			{"501", "11222333000144"},
		},
	}

	records, mapping := ex.Extract(table)
	require.Len(t, records, 2)

	assert.Equal(t, 0, mapping.Columns[FieldDocumentNumber])
	assert.Equal(t, 2, mapping.Columns[FieldUF])
	assert.Equal(t, []string{"Observação"}, mapping.Unmapped)

	first := records[0]
	assert.Equal(t, "500", first.DocumentNumber)
	assert.Equal(t, "11222333000144", first.CounterpartyTaxID)
	assert.Equal(t, "SP", first.CounterpartyUF)
	assert.Equal(t, "1234.56", first.TotalValue.String())
	assert.Equal(t, "compra", first.Category)
	assert.Equal(t, "500|11222333000144", first.ComparisonKey)
	assert.Equal(t, map[string]string{"Observação": "urgente"}, first.Extra)

	// short row: mapped columns past the end read as empty, not undefined
	assert.Equal(t, "", records[1].CounterpartyUF)
	assert.Nil(t, records[1].Taxes.ICMS)
}

func TestExtractDoesNotMutateInput(t *testing.T) {
	ex := NewExtractor(domain.SourceLedger, nil)
	row := []string{" 12.0 ", "11.222.333/0001-44"}
	table := Table{Headers: []string{"nota", "cnpj"}, Rows: [][]string{row}}

	_, _ = ex.Extract(table)
	assert.Equal(t, " 12.0 ", row[0])
	assert.Equal(t, "11.222.333/0001-44", row[1])
}

func TestExtractLeavesUnknownTaxFieldsUndefined(t *testing.T) {
	ex := NewExtractor(domain.SourceLedger, nil)
	table := Table{
		Headers: []string{"nota", "cnpj", "icms", "pis"},
		Rows:    [][]string{{"1", "11222333000144", "18,00", "n/d"}},
	}
	records, _ := ex.Extract(table)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Taxes.ICMS)
	assert.Equal(t, "18", records[0].Taxes.ICMS.String())
	assert.Nil(t, records[0].Taxes.PIS, "non-numeric tax stays undefined")
	assert.Nil(t, records[0].Taxes.IPI, "unmapped tax stays undefined")
}

func TestLocateFindsHeaderBelowTitleRows(t *testing.T) {
	ex := NewExtractor(domain.SourceLedger, nil)
	sheet := Sheet{Name: "Plan1", Rows: [][]string{
		{"Relatório de Entradas"},
		{"Período: 01/2024"},
		{"Nota", "CNPJ", "Valor"},
		{"10", "11222333000144", "100,00"},
	}}
	table := ex.Locate(sheet)
	assert.Equal(t, []string{"Nota", "CNPJ", "Valor"}, table.Headers)
	assert.Len(t, table.Rows, 1)
}

func TestResolveSuggestsClosestAlias(t *testing.T) {
	ex := NewExtractor(domain.SourceLedger, nil)
	mapping := ex.Resolve([]string{"CNPJ Fornecedr"})
	assert.Empty(t, mapping.Columns)
	assert.Contains(t, mapping.Unmapped, "CNPJ Fornecedr")
}

func TestReadWorkbookCSV(t *testing.T) {
	csvData := "Nota;CNPJ;Valor\n10;11222333000144;100,50\n"
	sheets, err := ReadWorkbook("entradas.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, "entradas", sheets[0].Name)
	assert.Equal(t, []string{"10", "11222333000144", "100,50"}, sheets[0].Rows[1])

	_, err = ReadWorkbook("entradas.pdf", strings.NewReader(csvData))
	assert.Error(t, err)
}

func TestReadWorkbookLatin1CSV(t *testing.T) {
	// "Razão" in ISO-8859-1
	data := []byte("Nota;Raz\xe3o Social\n1;ACME\n")
	sheets, err := ReadWorkbook("x.csv", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "Razão Social", sheets[0].Rows[0][1])
}

const accessKey = "35240111222333000144550010000005001000005001"

const nfeXML = `<?xml version="1.0" encoding="UTF-8"?>
<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
  <NFe>
    <infNFe Id="NFe` + accessKey + `" versao="4.00">
      <ide><serie>1</serie><nNF>500</nNF><dhEmi>2024-01-15T10:00:00-03:00</dhEmi><tpNF>1</tpNF></ide>
      <emit><CNPJ>11222333000144</CNPJ><xNome>Fornecedor SP</xNome><enderEmit><UF>SP</UF></enderEmit></emit>
      <dest><CNPJ>99888777000166</CNPJ><xNome>Empresa PR</xNome><enderDest><UF>PR</UF></enderDest></dest>
      <det nItem="1">
        <prod><cProd>P-1</cProd><xProd>Parafuso</xProd><NCM>73181500</NCM><CFOP>6102</CFOP><vProd>100.00</vProd></prod>
        <imposto>
          <ICMS><ICMS00><vICMS>12.00</vICMS></ICMS00></ICMS>
          <PIS><PISAliq><vPIS>1.65</vPIS></PISAliq></PIS>
          <COFINS><COFINSAliq><vCOFINS>7.60</vCOFINS></COFINSAliq></COFINS>
        </imposto>
      </det>
      <det nItem="2">
        <prod><cProd>P-2</cProd><xProd>Porca</xProd><CFOP>6102</CFOP><vProd>50.00</vProd></prod>
        <imposto><ICMS><ICMSSN101><vCredICMSSN>2.00</vCredICMSSN></ICMSSN101></ICMS></imposto>
      </det>
      <total><ICMSTot><vICMS>14.00</vICMS><vST>0.00</vST><vIPI>0.00</vIPI><vPIS>1.65</vPIS><vCOFINS>7.60</vCOFINS><vNF>150.00</vNF></ICMSTot></total>
    </infNFe>
  </NFe>
  <protNFe><infProt><chNFe>` + accessKey + `</chNFe><cStat>100</cStat></infProt></protNFe>
</nfeProc>`

func TestReadXMLBatchEntradas(t *testing.T) {
	batch := ReadXMLBatch([]File{
		{Name: "nota.xml", Content: []byte(nfeXML)},
		{Name: "quebrado.xml", Content: []byte("<nfeProc><NFe>")},
	}, "99.888.777/0001-66x")

	require.Len(t, batch.Errors, 1)
	assert.Equal(t, "quebrado.xml", batch.Errors[0].File)

	// company tax id does not match the emitter -> entrada
	require.Len(t, batch.Entradas, 1)
	doc := batch.Entradas[0]
	assert.Equal(t, accessKey, doc.AccessKey)
	assert.Equal(t, "500", doc.DocumentNumber)
	assert.Equal(t, "11222333000144", doc.CounterpartyTaxID)
	assert.Equal(t, "SP", doc.CounterpartyUF)
	assert.Equal(t, "150", doc.TotalValue.String())
	assert.Equal(t, "6102", doc.CFOP)
	require.NotNil(t, doc.IssueDate)
	assert.Equal(t, "2024-01-15", doc.IssueDate.Format("2006-01-02"))

	require.Len(t, batch.EntradaItems, 2)
	assert.Equal(t, 1, batch.EntradaItems[0].LineNumber)
	assert.Equal(t, "P-1", batch.EntradaItems[0].ProductCode)
	assert.Equal(t, "12", batch.EntradaItems[0].Taxes.ICMS.String())
	assert.Equal(t, "2", batch.EntradaItems[1].Taxes.ICMS.String())
	assert.Nil(t, batch.EntradaItems[1].Taxes.PIS)
}

func TestReadXMLBatchSaidasFromZipWithCancellation(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("notas/500.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(nfeXML))
	require.NoError(t, err)
	w, err = zw.Create("notas/cancel.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<procEventoNFe><evento><infEvento><chNFe>` + accessKey + `</chNFe><tpEvento>110111</tpEvento></infEvento></evento></procEventoNFe>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	batch := ReadXMLBatch([]File{{Name: "lote.zip", Content: buf.Bytes()}}, "11222333000144")
	assert.Empty(t, batch.Errors)
	require.Len(t, batch.Saidas, 1)
	assert.Equal(t, "99888777000166", batch.Saidas[0].CounterpartyTaxID)
	assert.Equal(t, "PR", batch.Saidas[0].CounterpartyUF)
	assert.True(t, batch.Saidas[0].Canceled)
	assert.True(t, batch.SaidaItems[1].Canceled)
	assert.True(t, batch.Canceled[accessKey])
}

const spedSample = `|0000|017|0|01012024|31012024|EMPRESA PR|99888777000166||PR|||||A|1|
|0150|F1|Fornecedor SP Ltda|1058|11222333000144||123456|3550308||Rua||||
|0150|F2|Exporter Inc|0249|||||Street||||
|C100|0|1|F1|55|00|1|500|` + accessKey + `|15012024|16012024|1000,00|0|0|0|1000,00|9|0|0|0|1000,00||0|0|0|16,50|76,00|0|0|
|C190|000|2102|12,00|1000,00|1000,00|120,00|0|0|0|0||
|C100|0|0|F1|55|00|1|77||20012024|20012024|50,00|0|0|0|50,00|9|0|0|0|0|0|0|0|0|0|0|0|0|
|C100|1|0|F2|55|02|1|900||25012024|25012024|10,00|0|0|0|10,00|9|0|0|0|0|0|0|0|0|0|0|0|0|
`

func TestReadSped(t *testing.T) {
	ledger, err := ReadSped(strings.NewReader(spedSample))
	require.NoError(t, err)
	require.Len(t, ledger.Entradas, 2)
	require.Len(t, ledger.Saidas, 1)

	first := ledger.Entradas[0]
	assert.Equal(t, "500", first.DocumentNumber)
	assert.Equal(t, "11222333000144", first.CounterpartyTaxID)
	assert.Equal(t, "SP", first.CounterpartyUF)
	assert.Equal(t, "nfe", first.Category)
	assert.Equal(t, "2102", first.CFOP)
	assert.Equal(t, "1000", first.TotalValue.String())
	require.NotNil(t, first.Taxes.ICMS)
	assert.Equal(t, "120", first.Taxes.ICMS.String(), "empty C100 ICMS falls back to C190 sum")
	assert.Equal(t, "16.5", first.Taxes.PIS.String())

	assert.Equal(t, CategoryOwnIssuanceReturn, ledger.Entradas[1].Category)

	saida := ledger.Saidas[0]
	assert.True(t, saida.Canceled)
	assert.Equal(t, "EX", saida.CounterpartyUF)
}

func TestMergeBatchesAppliesCancellationAcrossFiles(t *testing.T) {
	notes := ReadXMLBatch([]File{{Name: "nota.xml", Content: []byte(nfeXML)}}, "")
	events := ReadXMLBatch([]File{{Name: "cancel.xml", Content: []byte(`<procEventoNFe><evento><infEvento><chNFe>` + accessKey + `</chNFe><tpEvento>110111</tpEvento></infEvento></evento></procEventoNFe>`)}}, "")
	require.False(t, notes.Entradas[0].Canceled)

	merged := MergeBatches(notes, events)
	require.Len(t, merged.Entradas, 1)
	assert.True(t, merged.Entradas[0].Canceled)
	assert.True(t, merged.EntradaItems[0].Canceled)
	assert.False(t, notes.Entradas[0].Canceled, "inputs are not modified")
}
