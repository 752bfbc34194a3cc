// package ledger/session.go
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"fiscal-service/internal/core/normalize"
	"fiscal-service/internal/domain"
)

// Origin tells where a loaded decision came from.
type Origin string

// Constants for decision origins.
const (
	OriginStored   Origin = "stored"
	OriginFallback Origin = "fallback"
	OriginDefault  Origin = "default"
	OriginSession  Origin = "session"
)

var (
	// ErrUnknownLine is returned when an edit targets a line not loaded in the session.
	ErrUnknownLine = errors.New("linha não encontrada na sessão")
	// ErrInvalidValue is returned for classifications or verdicts outside their enum.
	ErrInvalidValue = errors.New("valor de classificação inválido")
	// ErrNoCompetence is returned when saving a session without competence.
	ErrNoCompetence = errors.New("competência não informada")
)

// LineState is the view of one loaded line item.
type LineState struct {
	LineID             string         `json:"lineId"`
	ProductID          string         `json:"productId"`
	CFOPKey            string         `json:"cfopKey,omitempty"`
	Record             domain.Record  `json:"record"`
	Classification     Classification `json:"classification"`
	ClassificationFrom Origin         `json:"classificationFrom"`
	FallbackCompetence string         `json:"fallbackCompetence,omitempty"`
	AccountCode        string         `json:"accountCode,omitempty"`
	Verdict            CFOPVerdict    `json:"cfopVerdict"`
	VerdictFrom        Origin         `json:"cfopVerdictFrom"`
}

type seeded[T any] struct {
	value      T
	origin     Origin
	competence string
}

// Session is the in-memory classification state of one competence. Edits
// propagate by product identity and stay here until Save merges them.
type Session struct {
	competence string
	lines      []LineState
	byLine     map[string]int

	classifications map[string]seeded[Classification]
	verdicts        map[string]seeded[CFOPVerdict]
	accountCodes    map[string]string

	touchedClassifications map[string]bool
	touchedVerdicts        map[string]bool
	touchedAccountCodes    map[string]bool
}

// Load builds a session for competence over the given line items.
//
// Classifications and CFOP verdicts are read from the competence first, then
// from the other competences most recent first; the first hit seeds the
// session without being written back. Account codes are per occurrence and
// never fall back to other competences.
func Load(store Store, competence string, items []domain.Record) *Session {
	s := &Session{
		competence:             competence,
		byLine:                 make(map[string]int),
		classifications:        make(map[string]seeded[Classification]),
		verdicts:               make(map[string]seeded[CFOPVerdict]),
		accountCodes:           make(map[string]string),
		touchedClassifications: make(map[string]bool),
		touchedVerdicts:        make(map[string]bool),
		touchedAccountCodes:    make(map[string]bool),
	}
	current := store.Competences[competence]
	others := OrderedCompetences(store, competence)

	for _, item := range items {
		lineID := lineKey(item)
		if _, dup := s.byLine[lineID]; dup || lineID == "" {
			continue
		}
		productID := productKey(item, lineID)
		cfopKey := CFOPKey(item.CounterpartyTaxID, item.ProductCode, item.CFOP)

		if _, ok := s.classifications[productID]; !ok {
			s.classifications[productID] = lookupClassification(store, current, others, productID)
		}
		if cfopKey != "" {
			if _, ok := s.verdicts[cfopKey]; !ok {
				s.verdicts[cfopKey] = lookupVerdict(store, current, others, cfopKey)
			}
		}
		if entry, ok := current.AccountCodes[lineID]; ok {
			s.accountCodes[lineID] = entry.AccountCode
		}

		s.byLine[lineID] = len(s.lines)
		s.lines = append(s.lines, LineState{LineID: lineID, ProductID: productID, CFOPKey: cfopKey, Record: item})
	}
	return s
}

func lookupClassification(store Store, current CompetenceEntry, others []string, productID string) seeded[Classification] {
	if entry, ok := current.Classifications[productID]; ok && entry.Classification.Valid() {
		return seeded[Classification]{value: entry.Classification, origin: OriginStored}
	}
	for _, comp := range others {
		if entry, ok := store.Competences[comp].Classifications[productID]; ok && entry.Classification.Valid() {
			return seeded[Classification]{value: entry.Classification, origin: OriginFallback, competence: comp}
		}
	}
	return seeded[Classification]{value: Unclassified, origin: OriginDefault}
}

func lookupVerdict(store Store, current CompetenceEntry, others []string, key string) seeded[CFOPVerdict] {
	if current.CFOPValidations != nil {
		if entry, ok := current.CFOPValidations.Classifications[key]; ok && entry.Classification.Valid() {
			return seeded[CFOPVerdict]{value: entry.Classification, origin: OriginStored}
		}
	}
	for _, comp := range others {
		v := store.Competences[comp].CFOPValidations
		if v == nil {
			continue
		}
		if entry, ok := v.Classifications[key]; ok && entry.Classification.Valid() {
			return seeded[CFOPVerdict]{value: entry.Classification, origin: OriginFallback, competence: comp}
		}
	}
	return seeded[CFOPVerdict]{value: Unvalidated, origin: OriginDefault}
}

// lineKey falls back to the comparison key for items without access key.
func lineKey(item domain.Record) string {
	if id := LineIdentity(item.AccessKey, item.LineNumber); id != "" {
		return id
	}
	key := normalize.ComparisonKey(item.DocumentNumber, item.CounterpartyTaxID)
	if key == "" {
		return ""
	}
	return LineIdentity(key, item.LineNumber)
}

// productKey classifies items without product code on their own.
func productKey(item domain.Record, lineID string) string {
	if id := ProductIdentity(item.CounterpartyTaxID, item.ProductCode); id != "" {
		return id
	}
	return "linha" + normalize.KeySeparator + lineID
}

// Competence returns the competence the session was loaded for.
func (s *Session) Competence() string {
	return s.competence
}

// Lines returns the current state of every loaded line, in load order.
func (s *Session) Lines() []LineState {
	out := make([]LineState, len(s.lines))
	for i, line := range s.lines {
		out[i] = s.view(line)
	}
	return out
}

// Line returns the state of one line.
func (s *Session) Line(lineID string) (LineState, bool) {
	idx, ok := s.byLine[lineID]
	if !ok {
		return LineState{}, false
	}
	return s.view(s.lines[idx]), true
}

func (s *Session) view(line LineState) LineState {
	c := s.classifications[line.ProductID]
	line.Classification = c.value
	line.ClassificationFrom = c.origin
	line.FallbackCompetence = c.competence
	line.AccountCode = s.accountCodes[line.LineID]
	if line.CFOPKey != "" {
		v := s.verdicts[line.CFOPKey]
		line.Verdict, line.VerdictFrom = v.value, v.origin
	} else {
		line.Verdict, line.VerdictFrom = Unvalidated, OriginDefault
	}
	return line
}

// Classify sets the classification of the line's product, which every loaded
// line with the same product identity then reports. It returns how many lines
// now carry the value.
func (s *Session) Classify(lineID string, c Classification) (int, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, c)
	}
	idx, ok := s.byLine[lineID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownLine, lineID)
	}
	productID := s.lines[idx].ProductID
	s.classifications[productID] = seeded[Classification]{value: c, origin: OriginSession}
	s.touchedClassifications[productID] = true
	return s.count(func(l LineState) bool { return l.ProductID == productID }), nil
}

// SetCFOPVerdict records a verdict for the line's product. Every loaded line
// of the same product reports it, each one stored under the key of the CFOP it
// was booked with. It returns how many lines now carry the value.
func (s *Session) SetCFOPVerdict(lineID string, v CFOPVerdict) (int, error) {
	if !v.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, v)
	}
	idx, ok := s.byLine[lineID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownLine, lineID)
	}
	if s.lines[idx].CFOPKey == "" {
		return 0, fmt.Errorf("%w: linha %s sem produto ou CFOP", ErrInvalidValue, lineID)
	}
	productID := s.lines[idx].ProductID
	n := 0
	for _, l := range s.lines {
		if l.ProductID != productID || l.CFOPKey == "" {
			continue
		}
		s.verdicts[l.CFOPKey] = seeded[CFOPVerdict]{value: v, origin: OriginSession}
		s.touchedVerdicts[l.CFOPKey] = true
		n++
	}
	return n, nil
}

// SetAccountCode assigns an asset account code to one specific line. An
// empty code clears it.
func (s *Session) SetAccountCode(lineID, code string) error {
	if _, ok := s.byLine[lineID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLine, lineID)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		delete(s.accountCodes, lineID)
	} else {
		s.accountCodes[lineID] = code
	}
	s.touchedAccountCodes[lineID] = true
	return nil
}

// Dirty reports whether the session holds unsaved edits.
func (s *Session) Dirty() bool {
	return len(s.touchedClassifications)+len(s.touchedVerdicts)+len(s.touchedAccountCodes) > 0
}

func (s *Session) count(match func(LineState) bool) int {
	n := 0
	for _, l := range s.lines {
		if match(l) {
			n++
		}
	}
	return n
}

// Save merges the session into a copy of store under competence.
// Edited entries and fallback seeds are written; keys the session never
// touched, sibling sections and other competences are carried over as they
// were. The returned store has its version bumped.
func Save(store Store, competence string, sess *Session) (Store, error) {
	if strings.TrimSpace(competence) == "" {
		return store, ErrNoCompetence
	}
	out := store.Clone()
	if out.Competences == nil {
		out.Competences = map[string]CompetenceEntry{}
	}
	entry := out.Competences[competence]

	for productID, c := range sess.classifications {
		if !sess.touchedClassifications[productID] && c.origin != OriginFallback {
			continue
		}
		if entry.Classifications == nil {
			entry.Classifications = map[string]ClassificationEntry{}
		}
		entry.Classifications[productID] = ClassificationEntry{Classification: c.value}
	}

	for key, v := range sess.verdicts {
		if !sess.touchedVerdicts[key] && v.origin != OriginFallback {
			continue
		}
		if entry.CFOPValidations == nil {
			entry.CFOPValidations = &CFOPValidations{}
		}
		if entry.CFOPValidations.Classifications == nil {
			entry.CFOPValidations.Classifications = map[string]VerdictEntry{}
		}
		entry.CFOPValidations.Classifications[key] = VerdictEntry{Classification: v.value}
	}

	for lineID := range sess.touchedAccountCodes {
		code, ok := sess.accountCodes[lineID]
		if !ok {
			delete(entry.AccountCodes, lineID)
			continue
		}
		if entry.AccountCodes == nil {
			entry.AccountCodes = map[string]AccountCodeEntry{}
		}
		entry.AccountCodes[lineID] = AccountCodeEntry{AccountCode: code}
	}

	out.Competences[competence] = entry
	out.Version++
	return out, nil
}

// MarkSaved clears the edit tracking after a successful persist.
func (s *Session) MarkSaved() {
	for productID, c := range s.classifications {
		if s.touchedClassifications[productID] || c.origin == OriginFallback {
			s.classifications[productID] = seeded[Classification]{value: c.value, origin: OriginStored}
		}
	}
	for key, v := range s.verdicts {
		if s.touchedVerdicts[key] || v.origin == OriginFallback {
			s.verdicts[key] = seeded[CFOPVerdict]{value: v.value, origin: OriginStored}
		}
	}
	s.touchedClassifications = make(map[string]bool)
	s.touchedVerdicts = make(map[string]bool)
	s.touchedAccountCodes = make(map[string]bool)
}
