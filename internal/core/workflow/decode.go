// package workflow/decode.go
package workflow

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"fiscal-service/internal/core/extract"
	"fiscal-service/internal/core/normalize"
	"fiscal-service/internal/core/session"
	"fiscal-service/internal/domain"

	"golang.org/x/sync/errgroup"
)

// maxParallelDecoders bounds how many files are decoded at once.
const maxParallelDecoders = 4

// decodedLedger is what one ledger upload contributed.
type decodedLedger struct {
	entradas []domain.Record
	saidas   []domain.Record
	nfse     []domain.Record
	issues   []session.HeaderIssue
	err      *extract.FileError
}

// decoded is the merged input of a run, in upload order.
type decoded struct {
	ledgerEntradas []domain.Record
	ledgerSaidas   []domain.Record
	nfse           []domain.Record
	xml            extract.XMLBatch
	fileErrors     []extract.FileError
	headerIssues   []session.HeaderIssue
}

// decodeAll fans the uploads out over an errgroup. Each goroutine writes only
// its own slot so the merged result follows upload order.
func decodeAll(ctx context.Context, req Request, companyTaxID string) (decoded, error) {
	ledgers := make([]decodedLedger, len(req.LedgerFiles))
	batches := make([]extract.XMLBatch, len(req.XMLFiles))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDecoders)
	for i, f := range req.LedgerFiles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ledgers[i] = decodeLedgerFile(f)
			return nil
		})
	}
	for i, f := range req.XMLFiles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			batches[i] = extract.ReadXMLBatch([]extract.File{f}, companyTaxID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decoded{}, err
	}

	var out decoded
	for _, l := range ledgers {
		if l.err != nil {
			out.fileErrors = append(out.fileErrors, *l.err)
			continue
		}
		out.ledgerEntradas = append(out.ledgerEntradas, l.entradas...)
		out.ledgerSaidas = append(out.ledgerSaidas, l.saidas...)
		out.nfse = append(out.nfse, l.nfse...)
		out.headerIssues = append(out.headerIssues, l.issues...)
	}
	out.xml = extract.MergeBatches(batches...)
	out.fileErrors = append(out.fileErrors, out.xml.Errors...)
	return out, nil
}

// decodeLedgerFile reads a SPED file or a spreadsheet. Spreadsheets whose file
// or sheet name mentions NFS-e feed the service-invoice registry instead of
// the ledger.
func decodeLedgerFile(f extract.File) decodedLedger {
	if isSped(f) {
		sped, err := extract.ReadSped(bytes.NewReader(f.Content))
		if err != nil {
			return decodedLedger{err: &extract.FileError{File: f.Name, Message: err.Error()}}
		}
		return decodedLedger{entradas: sped.Entradas, saidas: sped.Saidas}
	}

	sheets, err := extract.ReadWorkbook(f.Name, bytes.NewReader(f.Content))
	if err != nil {
		return decodedLedger{err: &extract.FileError{File: f.Name, Message: err.Error()}}
	}

	var out decodedLedger
	fileIsNFSe := mentionsNFSe(f.Name)
	for _, sheet := range sheets {
		source := domain.SourceLedger
		if fileIsNFSe || mentionsNFSe(sheet.Name) {
			source = domain.SourceNFSe
		}
		ex := extract.NewExtractor(source, nil)
		records, mapping := ex.Extract(ex.Locate(sheet))
		if len(mapping.Unmapped) > 0 {
			issue := session.HeaderIssue{File: f.Name, Sheet: sheet.Name, Unmapped: mapping.Unmapped}
			if len(mapping.Suggestions) > 0 {
				issue.Suggestions = make(map[string]string, len(mapping.Suggestions))
				for h, field := range mapping.Suggestions {
					issue.Suggestions[h] = string(field)
				}
			}
			out.issues = append(out.issues, issue)
		}
		if source == domain.SourceNFSe {
			out.nfse = append(out.nfse, records...)
		} else {
			out.entradas = append(out.entradas, records...)
		}
	}
	return out
}

func isSped(f extract.File) bool {
	ext := strings.ToLower(filepath.Ext(f.Name))
	if ext != ".txt" && ext != ".sped" && ext != "" {
		return false
	}
	return bytes.HasPrefix(bytes.TrimLeft(f.Content, "\ufeff \r\n"), []byte("|0000|"))
}

func mentionsNFSe(name string) bool {
	return strings.Contains(normalize.Header(name), "NFSE")
}
