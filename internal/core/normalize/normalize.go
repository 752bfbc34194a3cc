// Package normalize turns raw field values into canonical comparison keys.
// Nothing here fails: unparseable input degrades to an empty string.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// KeySeparator joins the parts of composite keys.
const KeySeparator = "|"

var (
	nonDigitRegex        = regexp.MustCompile(`\D+`)
	floatIntegerRegex    = regexp.MustCompile(`^(-?\d+)\.0+$`)
	nonAlphanumericRegex = regexp.MustCompile(`[^A-Z0-9 ]+`)
	whitespaceRegex      = regexp.MustCompile(`\s+`)
)

// TaxID strips every non-digit character from a CNPJ/CPF.
func TaxID(raw string) string {
	return nonDigitRegex.ReplaceAllString(raw, "")
}

// CleanNumericString undoes float coercion done by spreadsheet decoders:
// "1234.0" becomes "1234" and "1.2345678901234E+13" becomes "12345678901234".
// Anything else is returned trimmed and untouched.
func CleanNumericString(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if m := floatIntegerRegex.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if strings.ContainsAny(s, "eE") {
		if d, err := decimal.NewFromString(s); err == nil && d.Equal(d.Truncate(0)) {
			return d.Truncate(0).String()
		}
	}
	return s
}

// DocumentNumber returns the digits of a document number without leading zeros,
// so "000500", "500" and "500.0" compare equal. All-zero input yields "0".
func DocumentNumber(raw string) string {
	digits := TaxID(CleanNumericString(raw))
	if digits == "" {
		return ""
	}
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// canonicalTaxID restores leading zeros a numeric cell may have eaten from a CNPJ.
// Twelve or thirteen digits can only be a truncated CNPJ.
func canonicalTaxID(raw string) string {
	digits := TaxID(CleanNumericString(raw))
	if n := len(digits); n == 12 || n == 13 {
		return strings.Repeat("0", 14-n) + digits
	}
	return digits
}

// ComparisonKey is the join key between ledger and document registry:
// document number plus issuer tax id. Missing either part yields "",
// which the matcher treats as "no match possible".
func ComparisonKey(documentNumber, taxID string) string {
	doc := DocumentNumber(documentNumber)
	tax := canonicalTaxID(taxID)
	if doc == "" || tax == "" {
		return ""
	}
	return doc + KeySeparator + tax
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
		return unicode.Is(unicode.Mn, r)
	}))
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// Text upper-cases, removes accents and punctuation and collapses spaces.
func Text(s string) string {
	result := strings.ToUpper(stripAccents(s))
	result = nonAlphanumericRegex.ReplaceAllString(result, " ")
	result = whitespaceRegex.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}

// Header folds a column header for alias comparison: "UF do Fornecedor" -> "UFDOFORNECEDOR".
func Header(s string) string {
	return strings.ReplaceAll(Text(s), " ", "")
}

// Excel serial range accepted as a date (1954..2099).
const (
	minExcelSerial = 20000
	maxExcelSerial = 73051
)

// ParseDate accepts dd/mm/yyyy, ISO dates (with or without time) and Excel serials.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse("02/01/2006", s); err == nil {
		return t, true
	}
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t, true
		}
		if t, err := time.Parse("02/01/2006", s[:10]); err == nil {
			return t, true
		}
	}
	if d, err := decimal.NewFromString(s); err == nil {
		serial := d.IntPart()
		if serial > minExcelSerial && serial < maxExcelSerial {
			base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
			return base.AddDate(0, 0, int(serial)), true
		}
	}
	return time.Time{}, false
}

// ParseAmount reads Brazilian ("1.234,56"), Anglo ("1,234.56") and plain
// amounts, with "R$", parentheses and minus signs. Several dots with no comma
// are thousands separators. ok is false for empty or non-numeric input.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" {
		return decimal.Zero, false
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimPrefix(strings.TrimSuffix(s, ")"), "(")
	}
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimPrefix(s, "-")
	}

	if strings.ContainsAny(s, "eE") {
		if d, err := decimal.NewFromString(s); err == nil {
			if neg {
				d = d.Neg()
			}
			return d, true
		}
		return decimal.Zero, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case lastDot > lastComma && lastComma < 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	case lastDot > lastComma:
		s = strings.ReplaceAll(s, ",", "")
		if strings.Count(s, ".") > 1 {
			parts := strings.Split(s, ".")
			s = strings.Join(parts[:len(parts)-1], "") + "." + parts[len(parts)-1]
		}
	}

	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Zero, false
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}
