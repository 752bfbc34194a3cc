package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ReadWorkbook decodes a spreadsheet upload into raw sheets. The format is
// picked from the file extension; .xls content that is really xlsx is accepted.
func ReadWorkbook(filename string, file io.Reader) ([]Sheet, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("erro ao ler arquivo %s: %w", filename, err)
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".xlsx", ".xlsm":
		return readXLSX(data)
	case ".xls":
		return readXLS(data)
	case ".csv", ".txt":
		return readCSV(filename, data)
	default:
		return nil, fmt.Errorf("formato de planilha não suportado: %s", ext)
	}
}

func readXLSX(data []byte) ([]Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("erro ao abrir .xlsx: %w", err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		sheets = append(sheets, Sheet{Name: name, Rows: rows})
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("o arquivo .xlsx não contém planilhas legíveis")
	}
	return sheets, nil
}

func readXLS(data []byte) ([]Sheet, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		// talvez seja xlsx com extensão errada
		if sheets, errX := readXLSX(data); errX == nil {
			return sheets, nil
		}
		return nil, fmt.Errorf("erro ao abrir .xls: %w", err)
	}

	var sheets []Sheet
	for _, sheet := range workbook.GetSheets() {
		var rows [][]string
		for _, row := range sheet.GetRows() {
			var cols []string
			for _, cell := range row.GetCols() {
				cols = append(cols, cell.GetString())
			}
			rows = append(rows, cols)
		}
		sheets = append(sheets, Sheet{Name: sheet.GetName(), Rows: rows})
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("o arquivo .xls não contém planilhas")
	}
	return sheets, nil
}

// readCSV accepts ';' or ',' separated text in UTF-8 or ISO-8859-1.
func readCSV(filename string, data []byte) ([]Sheet, error) {
	var src io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		src = transform.NewReader(src, charmap.ISO8859_1.NewDecoder())
	}

	reader := csv.NewReader(src)
	reader.Comma = detectSeparator(data)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("erro ao ler CSV: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return []Sheet{{Name: name, Rows: rows}}, nil
}

func detectSeparator(data []byte) rune {
	firstLine := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		firstLine = data[:idx]
	}
	if bytes.Count(firstLine, []byte{','}) > bytes.Count(firstLine, []byte{';'}) {
		return ','
	}
	return ';'
}
