package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fiscal-service/internal/core/normalize"
	"fiscal-service/internal/domain"

	"github.com/shopspring/decimal"
)

// File is one uploaded file held in memory.
type File struct {
	Name    string
	Content []byte
}

// FileError reports a file that could not be decoded. It never aborts a batch.
type FileError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

func (e FileError) Error() string {
	return e.File + ": " + e.Message
}

// XMLBatch groups the records decoded from a set of NF-e/CT-e XMLs.
type XMLBatch struct {
	Entradas     []domain.Record `json:"entradas"`
	EntradaItems []domain.Record `json:"entradaItems"`
	Saidas       []domain.Record `json:"saidas"`
	SaidaItems   []domain.Record `json:"saidaItems"`
	CTe          []domain.Record `json:"cte"`
	Canceled     map[string]bool `json:"canceled"`
	Errors       []FileError     `json:"errors,omitempty"`
}

// ReadXMLBatch decodes XML files (plain or inside .zip archives). Documents
// issued by companyTaxID are saídas; everything else is an entrada.
// Cancellation events mark matching documents and their items as canceled.
func ReadXMLBatch(files []File, companyTaxID string) XMLBatch {
	b := &batchReader{
		company: normalize.TaxID(companyTaxID),
		out:     XMLBatch{Canceled: make(map[string]bool)},
	}
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f.Name), ".zip") {
			b.readZip(f)
			continue
		}
		if err := b.readXML(f.Content); err != nil {
			b.out.Errors = append(b.out.Errors, FileError{File: f.Name, Message: err.Error()})
		}
	}
	b.out.markCanceled()
	return b.out
}

// MergeBatches concatenates batches in order and applies every cancellation
// event to every batch, so an event decoded from one file still cancels a
// document read from another.
func MergeBatches(batches ...XMLBatch) XMLBatch {
	out := XMLBatch{Canceled: make(map[string]bool)}
	for _, b := range batches {
		out.Entradas = append(out.Entradas, b.Entradas...)
		out.EntradaItems = append(out.EntradaItems, b.EntradaItems...)
		out.Saidas = append(out.Saidas, b.Saidas...)
		out.SaidaItems = append(out.SaidaItems, b.SaidaItems...)
		out.CTe = append(out.CTe, b.CTe...)
		out.Errors = append(out.Errors, b.Errors...)
		for k := range b.Canceled {
			out.Canceled[k] = true
		}
	}
	out.markCanceled()
	return out
}

type batchReader struct {
	company string
	out     XMLBatch
}

func (b *batchReader) readZip(f File) {
	zr, err := zip.NewReader(bytes.NewReader(f.Content), int64(len(f.Content)))
	if err != nil {
		b.out.Errors = append(b.out.Errors, FileError{File: f.Name, Message: fmt.Sprintf("zip inválido: %v", err)})
		return
	}
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(entry.Name), ".xml") {
			continue
		}
		name := f.Name + "/" + entry.Name
		rc, err := entry.Open()
		if err != nil {
			b.out.Errors = append(b.out.Errors, FileError{File: name, Message: err.Error()})
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			b.out.Errors = append(b.out.Errors, FileError{File: name, Message: err.Error()})
			continue
		}
		if err := b.readXML(content); err != nil {
			b.out.Errors = append(b.out.Errors, FileError{File: name, Message: err.Error()})
		}
	}
}

func rootElement(content []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("falha ao fazer parse do XML: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func (b *batchReader) readXML(content []byte) error {
	root, err := rootElement(content)
	if err != nil {
		return err
	}
	switch root {
	case "nfeProc":
		var proc domain.NFeProc
		if err := xml.Unmarshal(content, &proc); err != nil {
			return fmt.Errorf("falha ao fazer parse do XML: %w", err)
		}
		key := proc.ProtNFe.InfProt.ChNFe
		if key == "" {
			key = strings.TrimPrefix(proc.NFe.InfNFe.ID, "NFe")
		}
		if proc.ProtNFe.InfProt.CStat == "101" {
			b.out.Canceled[key] = true
		}
		return b.addNFe(proc.NFe, key)
	case "NFe":
		var nfe domain.NFeXML
		if err := xml.Unmarshal(content, &nfe); err != nil {
			return fmt.Errorf("falha ao fazer parse do XML: %w", err)
		}
		return b.addNFe(nfe, strings.TrimPrefix(nfe.InfNFe.ID, "NFe"))
	case "cteProc":
		var proc domain.CTeProc
		if err := xml.Unmarshal(content, &proc); err != nil {
			return fmt.Errorf("falha ao fazer parse do XML: %w", err)
		}
		return b.addCTe(proc)
	case "procEventoNFe":
		var ev domain.ProcEventoNFe
		if err := xml.Unmarshal(content, &ev); err != nil {
			return fmt.Errorf("falha ao fazer parse do XML: %w", err)
		}
		if ev.Evento.InfEvento.TpEvento == domain.EventoCancelamento {
			b.out.Canceled[ev.Evento.InfEvento.ChNFe] = true
		}
		return nil
	default:
		return fmt.Errorf("XML inválido ou não é uma NF-e/CT-e (raiz %q)", root)
	}
}

func (b *batchReader) addNFe(nfe domain.NFeXML, key string) error {
	inf := nfe.InfNFe
	if inf.Ide.NNF == "" {
		return fmt.Errorf("XML inválido ou não é uma NF-e")
	}

	source := domain.SourceEntradas
	party := inf.Emit
	if b.company != "" && normalize.TaxID(inf.Emit.TaxID()) == b.company {
		source = domain.SourceSaidas
		party = inf.Dest
	}

	doc := domain.Record{
		Source:            source,
		AccessKey:         AccessKey(key),
		DocumentNumber:    inf.Ide.NNF,
		Series:            inf.Ide.Serie,
		CounterpartyTaxID: normalize.TaxID(party.TaxID()),
		CounterpartyName:  strings.TrimSpace(party.XNome),
		CounterpartyUF:    strings.ToUpper(party.UF()),
		IssueDate:         xmlDate(inf.Ide.DhEmi, inf.Ide.DEmi),
		TotalValue:        xmlValue(inf.Total.ICMSTot.VNF),
		Taxes: domain.TaxFields{
			ICMS:   xmlAmount(inf.Total.ICMSTot.VICMS),
			ICMSST: xmlAmount(inf.Total.ICMSTot.VST),
			IPI:    xmlAmount(inf.Total.ICMSTot.VIPI),
			PIS:    xmlAmount(inf.Total.ICMSTot.VPIS),
			COFINS: xmlAmount(inf.Total.ICMSTot.VCOFINS),
		},
	}
	if len(inf.Det) > 0 {
		doc.CFOP = inf.Det[0].Prod.CFOP
	}
	doc.ComparisonKey = normalize.ComparisonKey(doc.DocumentNumber, doc.CounterpartyTaxID)

	items := make([]domain.Record, 0, len(inf.Det))
	for i, det := range inf.Det {
		item := doc
		item.LineNumber = i + 1
		if n, err := strconv.Atoi(det.NItem); err == nil && n > 0 {
			item.LineNumber = n
		}
		item.ProductCode = strings.TrimSpace(det.Prod.CProd)
		item.ProductDescription = strings.TrimSpace(det.Prod.XProd)
		item.NCM = det.Prod.NCM
		item.CFOP = det.Prod.CFOP
		item.TotalValue = xmlValue(det.Prod.VProd)
		item.Taxes = domain.TaxFields{
			ICMS:   sumGroups(det.Imposto.ICMS.Groups, func(g domain.TaxGroupXML) string { return firstNonEmpty(g.VICMS, g.VCredICMSSN) }),
			ICMSST: sumGroups(det.Imposto.ICMS.Groups, func(g domain.TaxGroupXML) string { return g.VICMSST }),
			IPI:    xmlAmount(det.Imposto.IPI.IPITrib.VIPI),
			PIS:    sumGroups(det.Imposto.PIS.Groups, func(g domain.TaxGroupXML) string { return g.VPIS }),
			COFINS: sumGroups(det.Imposto.COFINS.Groups, func(g domain.TaxGroupXML) string { return g.VCOFINS }),
		}
		items = append(items, item)
	}

	if source == domain.SourceSaidas {
		b.out.Saidas = append(b.out.Saidas, doc)
		b.out.SaidaItems = append(b.out.SaidaItems, items...)
	} else {
		b.out.Entradas = append(b.out.Entradas, doc)
		b.out.EntradaItems = append(b.out.EntradaItems, items...)
	}
	return nil
}

func (b *batchReader) addCTe(proc domain.CTeProc) error {
	inf := proc.CTe.InfCte
	if inf.Ide.NCT == "" {
		return fmt.Errorf("XML inválido ou não é um CT-e")
	}
	key := proc.ProtCTe.InfProt.ChCTe
	if key == "" {
		key = strings.TrimPrefix(inf.ID, "CTe")
	}
	rec := domain.Record{
		Source:            domain.SourceCTe,
		AccessKey:         AccessKey(key),
		DocumentNumber:    inf.Ide.NCT,
		Series:            inf.Ide.Serie,
		CounterpartyTaxID: normalize.TaxID(inf.Emit.TaxID()),
		CounterpartyName:  strings.TrimSpace(inf.Emit.XNome),
		CounterpartyUF:    strings.ToUpper(inf.Emit.UF()),
		IssueDate:         xmlDate(inf.Ide.DhEmi, ""),
		TotalValue:        xmlValue(inf.VPrest.VTPrest),
		CFOP:              inf.Ide.CFOP,
		Taxes: domain.TaxFields{
			ICMS: sumGroups(inf.Imp.ICMS.Groups, func(g domain.TaxGroupXML) string { return g.VICMS }),
		},
	}
	rec.ComparisonKey = normalize.ComparisonKey(rec.DocumentNumber, rec.CounterpartyTaxID)
	b.out.CTe = append(b.out.CTe, rec)
	return nil
}

func (x *XMLBatch) markCanceled() {
	mark := func(records []domain.Record) {
		for i := range records {
			if x.Canceled[records[i].AccessKey] {
				records[i].Canceled = true
			}
		}
	}
	mark(x.Entradas)
	mark(x.EntradaItems)
	mark(x.Saidas)
	mark(x.SaidaItems)
	mark(x.CTe)
}

func xmlDate(values ...string) *time.Time {
	for _, v := range values {
		if d, ok := normalize.ParseDate(v); ok {
			return &d
		}
	}
	return nil
}

func xmlAmount(v string) *decimal.Decimal {
	d, ok := normalize.ParseAmount(v)
	if !ok {
		return nil
	}
	return &d
}

func xmlValue(v string) decimal.Decimal {
	d, _ := normalize.ParseAmount(v)
	return d
}

func sumGroups(groups []domain.TaxGroupXML, pick func(domain.TaxGroupXML) string) *decimal.Decimal {
	var total *decimal.Decimal
	for _, g := range groups {
		d, ok := normalize.ParseAmount(pick(g))
		if !ok {
			continue
		}
		if total == nil {
			total = &d
			continue
		}
		sum := total.Add(d)
		total = &sum
	}
	return total
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
