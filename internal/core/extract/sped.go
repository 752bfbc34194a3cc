package extract

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"fiscal-service/internal/core/normalize"
	"fiscal-service/internal/domain"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// CategoryOwnIssuanceReturn labels ledger entries for documents the company
// issued itself on an inbound operation (returns of own issuance).
const CategoryOwnIssuanceReturn = "devolucao-emissao-propria"

// SpedLedger holds the documents of an EFD ICMS/IPI file split by operation.
type SpedLedger struct {
	Entradas []domain.Record
	Saidas   []domain.Record
}

// modelCategories maps COD_MOD to the document species label.
var modelCategories = map[string]string{
	"01": "nf-modelo-1",
	"06": "energia-eletrica",
	"21": "comunicacao",
	"22": "telecomunicacao",
	"29": "agua",
	"55": "nfe",
	"57": "cte",
	"65": "nfce",
	"67": "cte-os",
}

// ibgeUF maps the first two digits of an IBGE municipality code to the state.
var ibgeUF = map[string]string{
	"11": "RO", "12": "AC", "13": "AM", "14": "RR", "15": "PA", "16": "AP", "17": "TO",
	"21": "MA", "22": "PI", "23": "CE", "24": "RN", "25": "PB", "26": "PE", "27": "AL", "28": "SE", "29": "BA",
	"31": "MG", "32": "ES", "33": "RJ", "35": "SP",
	"41": "PR", "42": "SC", "43": "RS",
	"50": "MS", "51": "MT", "52": "GO", "53": "DF",
}

const brazilCountryCode = "1058"

type participant struct {
	name  string
	taxID string
	uf    string
}

// spedDoc accumulates one C100/D100 and its analytical C190/D190 records.
type spedDoc struct {
	rec     domain.Record
	entrada bool
	sumICMS decimal.Decimal
	sumST   decimal.Decimal
	sumIPI  decimal.Decimal
	has190  bool
	cte     bool
	cfops   []string
}

// ReadSped parses an EFD ICMS/IPI file (ISO-8859-1, pipe separated) into
// ledger records: one per C100 (NF-e) and D100 (CT-e).
func ReadSped(spedFile io.Reader) (SpedLedger, error) {
	decoder := charmap.ISO8859_1.NewDecoder()
	scanner := bufio.NewScanner(decoder.Reader(spedFile))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	participants := make(map[string]participant)
	var docs []*spedDoc
	var current *spedDoc

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			continue
		}

		switch parts[1] {
		case "0150":
			if len(parts) > 8 {
				taxID := normalize.TaxID(parts[5])
				if taxID == "" {
					taxID = normalize.TaxID(parts[6])
				}
				uf := ""
				if parts[4] != "" && parts[4] != brazilCountryCode {
					uf = "EX"
				} else if len(parts[8]) >= 2 {
					uf = ibgeUF[parts[8][:2]]
				}
				participants[parts[2]] = participant{name: parts[3], taxID: taxID, uf: uf}
			}
		case "C100":
			current = nil
			if len(parts) > 27 {
				current = newSpedDoc(parts, participants, 8, 9, 10, 12)
				current.rec.Taxes = domain.TaxFields{
					ICMS:   spedAmount(parts[22]),
					ICMSST: spedAmount(parts[24]),
					IPI:    spedAmount(parts[25]),
					PIS:    spedAmount(parts[26]),
					COFINS: spedAmount(parts[27]),
				}
				docs = append(docs, current)
			}
		case "D100":
			current = nil
			if len(parts) > 20 {
				current = newSpedDoc(parts, participants, 9, 10, 11, 15)
				current.cte = true
				current.rec.Taxes = domain.TaxFields{ICMS: spedAmount(parts[20])}
				docs = append(docs, current)
			}
		case "C190", "D190":
			if current == nil || len(parts) < 8 {
				continue
			}
			if current.rec.CFOP == "" {
				current.rec.CFOP = parts[3]
			}
			current.addCFOP(parts[3])
			current.has190 = true
			current.sumICMS = current.sumICMS.Add(spedValue(parts[7]))
			if parts[1] == "C190" && len(parts) > 11 {
				current.sumST = current.sumST.Add(spedValue(parts[9]))
				current.sumIPI = current.sumIPI.Add(spedValue(parts[11]))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return SpedLedger{}, fmt.Errorf("erro ao ler arquivo SPED: %w", err)
	}

	var out SpedLedger
	for _, d := range docs {
		if d.has190 {
			// C100 pode vir sem totais de imposto; usa a soma do C190
			if d.rec.Taxes.ICMS == nil {
				v := d.sumICMS
				d.rec.Taxes.ICMS = &v
			}
			if d.rec.Taxes.ICMSST == nil && !d.cte {
				v := d.sumST
				d.rec.Taxes.ICMSST = &v
			}
			if d.rec.Taxes.IPI == nil && !d.cte {
				v := d.sumIPI
				d.rec.Taxes.IPI = &v
			}
			d.rec.Extra = map[string]string{domain.ExtraCFOPs: strings.Join(d.cfops, ",")}
		}
		if d.entrada {
			out.Entradas = append(out.Entradas, d.rec)
		} else {
			out.Saidas = append(out.Saidas, d.rec)
		}
	}
	return out, nil
}

func newSpedDoc(parts []string, participants map[string]participant, numIdx, keyIdx, dateIdx, valueIdx int) *spedDoc {
	indOper, indEmit, codPart, codMod, codSit := parts[2], parts[3], parts[4], parts[5], parts[6]
	p := participants[codPart]

	category, ok := modelCategories[codMod]
	if !ok {
		category = "modelo-" + codMod
	}
	if indOper == "0" && indEmit == "0" {
		category = CategoryOwnIssuanceReturn
	}

	rec := domain.Record{
		Source:            domain.SourceLedger,
		AccessKey:         AccessKey(parts[keyIdx]),
		DocumentNumber:    parts[numIdx],
		Series:            parts[7],
		CounterpartyTaxID: p.taxID,
		CounterpartyName:  p.name,
		CounterpartyUF:    p.uf,
		TotalValue:        spedValue(parts[valueIdx]),
		Category:          category,
		Canceled:          codSit == "02" || codSit == "03",
	}
	if t, err := time.Parse("02012006", parts[dateIdx]); err == nil {
		rec.IssueDate = &t
	}
	rec.ComparisonKey = normalize.ComparisonKey(rec.DocumentNumber, rec.CounterpartyTaxID)
	return &spedDoc{rec: rec, entrada: indOper == "0"}
}

func (d *spedDoc) addCFOP(code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}
	for _, existing := range d.cfops {
		if existing == code {
			return
		}
	}
	d.cfops = append(d.cfops, code)
}

func spedAmount(val string) *decimal.Decimal {
	d, ok := normalize.ParseAmount(val)
	if !ok {
		return nil
	}
	return &d
}

func spedValue(val string) decimal.Decimal {
	d, _ := normalize.ParseAmount(val)
	return d
}
