// package export/workbook.go
package export

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// MaxSheetNameLength is the sheet name limit of the xlsx format.
const MaxSheetNameLength = 31

const defaultSheetName = "Planilha"

// Sheet is one logical table of the workbook.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
}

var invalidSheetChars = strings.NewReplacer(
	"[", "_", "]", "_", ":", "_", "*", "_", "?", "_", "/", "_", "\\", "_",
)

// SheetNames sanitizes names for the xlsx format: invalid characters are
// replaced, names are cut to 31 runes and collisions (case-insensitive)
// get a " (n)" suffix that still fits the limit.
func SheetNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, raw := range names {
		base := strings.Trim(invalidSheetChars.Replace(strings.TrimSpace(raw)), "'")
		if base == "" {
			base = defaultSheetName
		}
		base = truncate(base, MaxSheetNameLength)

		name := base
		for n := 2; used[strings.ToLower(name)]; n++ {
			suffix := fmt.Sprintf(" (%d)", n)
			name = truncate(base, MaxSheetNameLength-utf8.RuneCountInString(suffix)) + suffix
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimRight(string(r[:limit]), " ")
}

// WriteWorkbook writes one worksheet per table, in order.
func WriteWorkbook(w io.Writer, sheets []Sheet) error {
	if len(sheets) == 0 {
		sheets = []Sheet{{Name: defaultSheetName}}
	}

	f := excelize.NewFile()
	defer f.Close()

	names := make([]string, len(sheets))
	for i, s := range sheets {
		names[i] = s.Name
	}
	names = SheetNames(names)

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), names[0]); err != nil {
				return fmt.Errorf("erro ao nomear planilha %q: %w", names[0], err)
			}
		} else if _, err := f.NewSheet(names[i]); err != nil {
			return fmt.Errorf("erro ao criar planilha %q: %w", names[i], err)
		}
		if err := writeSheet(f, names[i], s); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("erro ao gravar planilha: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, name string, s Sheet) error {
	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return fmt.Errorf("erro ao abrir planilha %q: %w", name, err)
	}

	row := 1
	if len(s.Header) > 0 {
		header := make([]any, len(s.Header))
		for i, h := range s.Header {
			header[i] = h
		}
		if err := setRow(sw, row, header); err != nil {
			return err
		}
		row++
	}
	for _, r := range s.Rows {
		if err := setRow(sw, row, r); err != nil {
			return err
		}
		row++
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("erro ao finalizar planilha %q: %w", name, err)
	}
	return nil
}

func setRow(sw *excelize.StreamWriter, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := sw.SetRow(cell, values); err != nil {
		return fmt.Errorf("erro ao gravar linha %d: %w", row, err)
	}
	return nil
}
