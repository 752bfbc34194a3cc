// package sequence/sequence.go
package sequence

import (
	"sort"
	"strconv"

	"fiscal-service/internal/core/normalize"
	"fiscal-service/internal/domain"
)

// Status is the audit state of one invoice number.
type Status string

// Constants for position status.
const (
	StatusEmitida     Status = "emitida"
	StatusCancelada   Status = "cancelada"
	StatusInutilizada Status = "inutilizada"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusEmitida, StatusCancelada, StatusInutilizada:
		return true
	}
	return false
}

// Position is one integer in the reconstructed range.
type Position struct {
	Number     int64          `json:"number"`
	Status     Status         `json:"status"`
	Overridden bool           `json:"overridden,omitempty"`
	Document   *domain.Record `json:"document,omitempty"`
}

// MaxSpan bounds how many positions one analysis may rebuild.
const MaxSpan int64 = 100_000

// Duplicate reports a number that appears more than once in one upload.
type Duplicate struct {
	Number int64 `json:"number"`
	Count  int   `json:"count"`
}

// Result is the dense reconstruction of the outbound numbering.
type Result struct {
	Positions           []Position  `json:"positions"`
	StartNumber         int64       `json:"startNumber,omitempty"`
	EndNumber           int64       `json:"endNumber,omitempty"`
	FirstNumberAfterGap *int64      `json:"firstNumberAfterGap,omitempty"`
	Duplicates          []Duplicate `json:"duplicates,omitempty"`
	Ignored             int         `json:"ignored,omitempty"`
	OutOfRange          bool        `json:"outOfRange,omitempty"`
}

// Counts tallies positions per status.
func (r Result) Counts() map[Status]int {
	counts := map[Status]int{}
	for _, p := range r.Positions {
		counts[p.Status]++
	}
	return counts
}

// Analyze rebuilds every number in [start, maxObserved]. The start is
// lastPeriodNumber+1 when a previous period is known, else the lowest observed
// number. Overrides always win over the computed status. A range wider than
// MaxSpan is not rebuilt: the result carries OutOfRange and no positions.
func Analyze(docs []domain.Record, lastPeriodNumber int64, overrides map[int64]Status) Result {
	res := Result{Positions: []Position{}}

	byNumber := make(map[int64]int)
	seen := make(map[int64]int)
	var order []int64
	for i, doc := range docs {
		n, ok := number(doc.DocumentNumber)
		if !ok {
			res.Ignored++
			continue
		}
		if seen[n] == 0 {
			byNumber[n] = i
			order = append(order, n)
		}
		seen[n]++
	}
	if len(byNumber) == 0 {
		return res
	}

	for n, count := range seen {
		if count > 1 {
			res.Duplicates = append(res.Duplicates, Duplicate{Number: n, Count: count})
		}
	}
	sort.Slice(res.Duplicates, func(i, j int) bool { return res.Duplicates[i].Number < res.Duplicates[j].Number })

	minObserved, maxObserved := order[0], order[0]
	for _, n := range order {
		if n < minObserved {
			minObserved = n
		}
		if n > maxObserved {
			maxObserved = n
		}
	}

	start := minObserved
	if lastPeriodNumber > 0 {
		start = lastPeriodNumber + 1
		if minObserved > start {
			gap := minObserved
			res.FirstNumberAfterGap = &gap
		}
	}
	res.StartNumber, res.EndNumber = start, maxObserved

	// todos os números observados já foram declarados no período anterior
	if start > maxObserved {
		return res
	}
	if maxObserved-start >= MaxSpan {
		res.OutOfRange = true
		return res
	}

	res.Positions = make([]Position, 0, maxObserved-start+1)
	for n := start; n <= maxObserved; n++ {
		pos := Position{Number: n, Status: StatusInutilizada}
		if idx, ok := byNumber[n]; ok {
			doc := docs[idx]
			pos.Document = &doc
			pos.Status = StatusEmitida
			if doc.Canceled {
				pos.Status = StatusCancelada
			}
		}
		if st, ok := overrides[n]; ok && st.Valid() {
			pos.Status = st
			pos.Overridden = true
		}
		res.Positions = append(res.Positions, pos)
	}
	return res
}

func number(raw string) (int64, bool) {
	clean := normalize.CleanNumericString(raw)
	if clean == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(clean, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
