// package ledger/store.go
package ledger

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"fiscal-service/internal/core/cfop"
	"fiscal-service/internal/core/normalize"
)

// CompetenceSeparator joins the year-months of a combined competence label.
const CompetenceSeparator = "+"

// Classification is the fixed-asset treatment of a product.
type Classification string

// Constants for product classifications.
const (
	Unclassified    Classification = "unclassified"
	Imobilizado     Classification = "imobilizado"
	UsoConsumo      Classification = "uso-consumo"
	UtilizadoEmObra Classification = "utilizado-em-obra"
)

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	switch c {
	case Unclassified, Imobilizado, UsoConsumo, UtilizadoEmObra:
		return true
	}
	return false
}

// CFOPVerdict is the outcome of validating the CFOP booked for a product.
type CFOPVerdict string

// Constants for CFOP verdicts.
const (
	Unvalidated CFOPVerdict = "unvalidated"
	Correct     CFOPVerdict = "correct"
	Incorrect   CFOPVerdict = "incorrect"
	Verify      CFOPVerdict = "verify"
)

// Valid reports whether v is a known verdict.
func (v CFOPVerdict) Valid() bool {
	switch v {
	case Unvalidated, Correct, Incorrect, Verify:
		return true
	}
	return false
}

// ClassificationEntry is the persisted value under a product identity.
type ClassificationEntry struct {
	Classification Classification `json:"classification"`
}

// AccountCodeEntry is the persisted value under a line identity.
type AccountCodeEntry struct {
	AccountCode string `json:"accountCode"`
}

// VerdictEntry is the persisted value under a CFOP-scoped product key.
type VerdictEntry struct {
	Classification CFOPVerdict `json:"classification"`
}

// CFOPValidations groups the CFOP verdicts of one competence.
type CFOPValidations struct {
	Classifications map[string]VerdictEntry `json:"classifications"`
}

// CompetenceEntry is everything stored for one competence.
type CompetenceEntry struct {
	Classifications map[string]ClassificationEntry `json:"classifications,omitempty"`
	AccountCodes    map[string]AccountCodeEntry    `json:"accountCodes,omitempty"`
	CFOPValidations *CFOPValidations               `json:"cfopValidations,omitempty"`
}

// Store is the persisted classification ledger. It is a value: Save returns a
// new Store and never mutates the one it was given.
type Store struct {
	Version     int                        `json:"version"`
	Competences map[string]CompetenceEntry `json:"competences"`
}

// NewStore returns an empty store.
func NewStore() Store {
	return Store{Competences: map[string]CompetenceEntry{}}
}

// Clone deep-copies the store.
func (s Store) Clone() Store {
	out := Store{Version: s.Version, Competences: make(map[string]CompetenceEntry, len(s.Competences))}
	for comp, entry := range s.Competences {
		out.Competences[comp] = entry.clone()
	}
	return out
}

func (e CompetenceEntry) clone() CompetenceEntry {
	var out CompetenceEntry
	if e.Classifications != nil {
		out.Classifications = make(map[string]ClassificationEntry, len(e.Classifications))
		for k, v := range e.Classifications {
			out.Classifications[k] = v
		}
	}
	if e.AccountCodes != nil {
		out.AccountCodes = make(map[string]AccountCodeEntry, len(e.AccountCodes))
		for k, v := range e.AccountCodes {
			out.AccountCodes[k] = v
		}
	}
	if e.CFOPValidations != nil {
		v := &CFOPValidations{Classifications: make(map[string]VerdictEntry, len(e.CFOPValidations.Classifications))}
		for k, val := range e.CFOPValidations.Classifications {
			v.Classifications[k] = val
		}
		out.CFOPValidations = v
	}
	return out
}

// ProductIdentity identifies a traded product across documents and periods:
// the issuer's tax id plus its product code.
func ProductIdentity(taxID, productCode string) string {
	code := strings.TrimSpace(productCode)
	tax := normalize.TaxID(taxID)
	if code == "" || tax == "" {
		return ""
	}
	return tax + normalize.KeySeparator + code
}

// LineIdentity identifies one row of one document.
func LineIdentity(accessKey string, lineNumber int) string {
	key := strings.TrimSpace(accessKey)
	if key == "" {
		return ""
	}
	return key + normalize.KeySeparator + strconv.Itoa(lineNumber)
}

// CFOPKey scopes a product to the description of the CFOP it was booked
// under, so each product/operation pair is validated on its own.
func CFOPKey(taxID, productCode, targetCFOP string) string {
	product := ProductIdentity(taxID, productCode)
	if product == "" {
		return ""
	}
	desc := cfop.Describe(targetCFOP)
	if desc == "" {
		desc = strings.TrimSpace(targetCFOP)
	}
	return product + normalize.KeySeparator + normalize.Text(desc)
}

// CompetenceLabel builds the label of a competence made of one or more
// year-months ("2024-02+2024-01" becomes "2024-01+2024-02").
func CompetenceLabel(months ...string) string {
	var clean []string
	seen := make(map[string]bool)
	for _, m := range months {
		m = strings.TrimSpace(m)
		if m != "" && !seen[m] {
			seen[m] = true
			clean = append(clean, m)
		}
	}
	sort.Strings(clean)
	return strings.Join(clean, CompetenceSeparator)
}

var (
	isoMonthRegex = regexp.MustCompile(`(\d{4})-(\d{2})`)
	brMonthRegex  = regexp.MustCompile(`(\d{2})/(\d{4})`)
)

// recency returns the latest year-month (yyyymm) named in a competence label,
// or 0 when none parses.
func recency(label string) int {
	latest := 0
	for _, part := range strings.Split(label, CompetenceSeparator) {
		ym := 0
		if m := isoMonthRegex.FindStringSubmatch(part); m != nil {
			y, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			ym = y*100 + mo
		} else if m := brMonthRegex.FindStringSubmatch(part); m != nil {
			mo, _ := strconv.Atoi(m[1])
			y, _ := strconv.Atoi(m[2])
			ym = y*100 + mo
		}
		if ym > latest {
			latest = ym
		}
	}
	return latest
}

// OrderedCompetences lists the stored competences most recent first, skipping
// exclude. Ties and unparseable labels are ordered by label so the result is
// stable across runs.
func OrderedCompetences(store Store, exclude string) []string {
	out := make([]string, 0, len(store.Competences))
	for comp := range store.Competences {
		if comp != exclude {
			out = append(out, comp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := recency(out[i]), recency(out[j])
		if ri != rj {
			return ri > rj
		}
		return out[i] < out[j]
	})
	return out
}
