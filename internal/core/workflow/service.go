// package workflow/service.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"fiscal-service/internal/core/consistency"
	"fiscal-service/internal/core/export"
	"fiscal-service/internal/core/extract"
	"fiscal-service/internal/core/ledger"
	"fiscal-service/internal/core/normalize"
	"fiscal-service/internal/core/reconcile"
	"fiscal-service/internal/core/sequence"
	"fiscal-service/internal/core/session"
	"fiscal-service/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoRun is returned when an operation needs a processed run and there is none.
	ErrNoRun = errors.New("nenhum processamento disponível")
	// ErrInvalidRequest wraps validation failures of caller input.
	ErrInvalidRequest = errors.New("requisição inválida")
	// ErrPersist wraps failures to save state that is still kept in memory.
	ErrPersist = errors.New("falha ao salvar")
)

// Options configures the orchestrator.
type Options struct {
	CompanyTaxID   string
	HomeUF         string
	ReturnCategory string
	YieldDelay     time.Duration
}

// Request is one processing run.
type Request struct {
	Competence           string
	LastSaidaNumber      int64
	LedgerFiles          []extract.File
	XMLFiles             []extract.File
	SaidasStatus         map[int64]sequence.Status
	DisregardedNfseNotes []string
	IgnoredCFOPs         []string
}

// Edit is one classification change on a loaded line. Nil fields are left as they are.
type Edit struct {
	LineID         string                 `json:"lineId"`
	Classification *ledger.Classification `json:"classification,omitempty"`
	AccountCode    *string                `json:"accountCode,omitempty"`
	CFOPVerdict    *ledger.CFOPVerdict    `json:"cfopVerdict,omitempty"`
}

// Service orchestrates decoding, reconciliation and persistence.
type Service interface {
	Process(ctx context.Context, req Request) (session.Document, error)
	Current() (session.Document, error)
	Resequence(ctx context.Context, overrides map[int64]sequence.Status) (session.Document, error)
	Classifications(ctx context.Context, competence string) ([]ledger.LineState, error)
	Classify(ctx context.Context, competence string, edits []Edit) ([]ledger.LineState, error)
	WriteWorkbook(w io.Writer) error
	ExportSession(ctx context.Context) ([]byte, error)
	ImportSession(ctx context.Context, data []byte) (session.Document, error)
	Restore(ctx context.Context) error
}

type service struct {
	opts      Options
	repo      *session.Repository
	reconcile reconcile.Service
	logger    *zap.Logger

	mu       sync.RWMutex
	current  *session.Document
	sessions map[string]*ledger.Session
}

// NewService creates a new workflow service.
func NewService(opts Options, repo *session.Repository, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		opts:      opts,
		repo:      repo,
		reconcile: reconcile.NewService(reconcile.Options{ReturnCategory: opts.ReturnCategory}),
		logger:    logger,
		sessions:  make(map[string]*ledger.Session),
	}
}

// Process decodes the uploads and runs every analysis. The result replaces
// the current run only once it is complete; on failure the previous run stays.
// If the run cannot be persisted it is still kept in memory and the returned
// error wraps ErrPersist.
func (s *service) Process(ctx context.Context, req Request) (session.Document, error) {
	req.Competence = strings.TrimSpace(req.Competence)
	if req.Competence == "" {
		return session.Document{}, fmt.Errorf("%w: competência é obrigatória", ErrInvalidRequest)
	}
	if len(req.LedgerFiles) == 0 && len(req.XMLFiles) == 0 {
		return session.Document{}, fmt.Errorf("%w: nenhum arquivo enviado", ErrInvalidRequest)
	}
	if req.LastSaidaNumber < 0 {
		return session.Document{}, fmt.Errorf("%w: última nota de saída não pode ser negativa", ErrInvalidRequest)
	}
	if err := validateOverrides(req.SaidasStatus); err != nil {
		return session.Document{}, err
	}

	if s.opts.YieldDelay > 0 {
		select {
		case <-ctx.Done():
			return session.Document{}, ctx.Err()
		case <-time.After(s.opts.YieldDelay):
		}
	}

	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID), zap.String("competence", req.Competence))
	log.Info("processamento iniciado",
		zap.Int("ledger_files", len(req.LedgerFiles)),
		zap.Int("xml_files", len(req.XMLFiles)))

	started := time.Now()
	doc, err := s.safeCompute(ctx, runID, req)
	if err != nil {
		log.Error("processamento falhou", zap.Error(err))
		return session.Document{}, err
	}

	data := doc.ProcessedData
	for _, fe := range data.FileErrors {
		log.Warn("arquivo ignorado", zap.String("file", fe.File), zap.String("error", fe.Message))
	}
	for _, w := range data.Warnings {
		log.Warn(w)
	}
	log.Info("processamento concluído",
		zap.Duration("duration", time.Since(started)),
		zap.Int("matched", len(data.Entradas.Matched)),
		zap.Int("left_only", len(data.Entradas.LeftOnly)),
		zap.Int("right_only_categories", len(data.Entradas.Categories)),
		zap.Int("skipped_ledger_rows", data.Entradas.SkippedLedgerRows+data.Saidas.SkippedLedgerRows),
		zap.Int("unkeyed_documents", data.Entradas.UnkeyedDocuments+data.Saidas.UnkeyedDocuments),
		zap.Int("sequence_positions", len(data.Sequence.Positions)))

	s.mu.Lock()
	s.current = &doc
	s.sessions = make(map[string]*ledger.Session)
	s.mu.Unlock()

	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		return doc, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return doc, nil
}

// safeCompute turns a panic inside the analysis into an error so a bad file
// never takes the process down. Nothing computed before the panic is kept.
func (s *service) safeCompute(ctx context.Context, runID string, req Request) (doc session.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pânico durante o processamento",
				zap.String("run_id", runID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			doc = session.Document{}
			err = fmt.Errorf("erro inesperado durante o processamento: %v", r)
		}
	}()
	return s.compute(ctx, runID, req)
}

func (s *service) compute(ctx context.Context, runID string, req Request) (session.Document, error) {
	in, err := decodeAll(ctx, req, s.opts.CompanyTaxID)
	if err != nil {
		return session.Document{}, fmt.Errorf("erro ao ler arquivos: %w", err)
	}

	documents := make([]domain.Record, 0, len(in.xml.Entradas)+len(in.xml.CTe)+len(in.nfse))
	documents = append(documents, in.xml.Entradas...)
	documents = append(documents, in.xml.CTe...)
	documents = append(documents, in.nfse...)

	entradas := s.reconcile.Reconcile(reconcile.Input{
		Ledger:    in.ledgerEntradas,
		Documents: documents,
		LineItems: in.xml.EntradaItems,
	})
	entradas.LeftOnly = dropDisregarded(entradas.LeftOnly, req.DisregardedNfseNotes)

	saidas := s.reconcile.Reconcile(reconcile.Input{
		Ledger:    in.ledgerSaidas,
		Documents: in.xml.Saidas,
		LineItems: in.xml.SaidaItems,
	})

	overrides := copyOverrides(req.SaidasStatus)
	ledgerRows := append(append([]domain.Record{}, in.ledgerEntradas...), in.ledgerSaidas...)
	xmlDocs := append(append([]domain.Record{}, in.xml.Entradas...), in.xml.Saidas...)

	seq := sequence.Analyze(in.xml.Saidas, req.LastSaidaNumber, overrides)

	doc := session.Document{
		Competence:  req.Competence,
		ProcessedAt: time.Now().UTC(),
		ProcessedData: session.ProcessedData{
			RunID:          runID,
			Entradas:       entradas,
			Saidas:         saidas,
			NFSe:           in.nfse,
			Sequence:       seq,
			Consistency:    consistency.NewChecker(s.opts.HomeUF).Check(in.ledgerEntradas),
			Divergences:    consistency.CompareTaxes(ledgerRows, xmlDocs, req.IgnoredCFOPs),
			FileErrors:     in.fileErrors,
			HeaderIssues:   in.headerIssues,
			Warnings:       s.warnings(in.xml, seq),
			SaidaDocuments: in.xml.Saidas,
			LineItems:      in.xml.EntradaItems,
		},
		LastSaidaNumber:      req.LastSaidaNumber,
		DisregardedNfseNotes: append([]string{}, req.DisregardedNfseNotes...),
		SaidasStatus:         overrides,
	}
	return doc, nil
}

// dropDisregarded removes NFS-e the user chose to ignore from the left-only
// list. Notes are matched by document number.
func dropDisregarded(records []domain.Record, notes []string) []domain.Record {
	if len(notes) == 0 {
		return records
	}
	skip := make(map[string]bool, len(notes))
	for _, n := range notes {
		if d := normalize.DocumentNumber(n); d != "" {
			skip[d] = true
		}
	}
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if r.Source == domain.SourceNFSe && skip[normalize.DocumentNumber(r.DocumentNumber)] {
			continue
		}
		out = append(out, r)
	}
	return out
}

func validateOverrides(overrides map[int64]sequence.Status) error {
	for n, st := range overrides {
		if n < 0 || !st.Valid() {
			return fmt.Errorf("%w: status %q inválido para a nota %d", ErrInvalidRequest, st, n)
		}
	}
	return nil
}

func copyOverrides(in map[int64]sequence.Status) map[int64]sequence.Status {
	out := make(map[int64]sequence.Status, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Current returns the last completed run.
func (s *service) Current() (session.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return session.Document{}, ErrNoRun
	}
	return *s.current, nil
}

// warnings lists the conditions that leave part of a run silently empty.
func (s *service) warnings(batch extract.XMLBatch, seq sequence.Result) []string {
	var out []string
	if s.opts.CompanyTaxID == "" && len(batch.Entradas) > 0 {
		out = append(out, "CNPJ da empresa não configurado: todas as NF-e foram tratadas como entradas e a sequência de saídas não foi auditada")
	}
	if seq.OutOfRange {
		out = append(out, fmt.Sprintf("numeração de saídas de %d a %d excede o limite de %d notas: sequência não reconstruída",
			seq.StartNumber, seq.EndNumber, sequence.MaxSpan))
	}
	return out
}

// Resequence replaces the manual overrides and rebuilds the sequence of the
// current run.
func (s *service) Resequence(ctx context.Context, overrides map[int64]sequence.Status) (session.Document, error) {
	if err := validateOverrides(overrides); err != nil {
		return session.Document{}, err
	}

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return session.Document{}, ErrNoRun
	}
	doc := *s.current
	doc.SaidasStatus = copyOverrides(overrides)
	doc.ProcessedData.Sequence = sequence.Analyze(doc.ProcessedData.SaidaDocuments, doc.LastSaidaNumber, doc.SaidasStatus)
	s.current = &doc
	s.mu.Unlock()

	s.logger.Info("sequência recalculada",
		zap.String("competence", doc.Competence),
		zap.Int("overrides", len(overrides)))

	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		return doc, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return doc, nil
}

// sessionFor returns the cached classification session of a competence,
// loading it from the persisted store on first use. Callers hold s.mu.
func (s *service) sessionFor(ctx context.Context, competence string) (*ledger.Session, error) {
	if s.current == nil {
		return nil, ErrNoRun
	}
	if competence == "" {
		competence = s.current.Competence
	}
	if sess, ok := s.sessions[competence]; ok {
		return sess, nil
	}
	store, err := s.repo.LoadStore(ctx)
	if err != nil {
		return nil, err
	}
	sess := ledger.Load(store, competence, s.current.ProcessedData.LineItems)
	s.sessions[competence] = sess
	return sess, nil
}

// Classifications lists the line items of the current run with their
// classification state for competence (the run's competence when empty).
func (s *service) Classifications(ctx context.Context, competence string) ([]ledger.LineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.sessionFor(ctx, strings.TrimSpace(competence))
	if err != nil {
		return nil, err
	}
	return sess.Lines(), nil
}

// Classify applies the edits and saves them into the classification store.
// Invalid edits reject the whole batch before anything is applied. When the
// store cannot be written the edits stay in the in-memory session and the
// error wraps ErrPersist.
func (s *service) Classify(ctx context.Context, competence string, edits []Edit) ([]ledger.LineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionFor(ctx, strings.TrimSpace(competence))
	if err != nil {
		return nil, err
	}
	for _, e := range edits {
		if _, ok := sess.Line(e.LineID); !ok {
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalidRequest, ledger.ErrUnknownLine, e.LineID)
		}
		if e.Classification != nil && !e.Classification.Valid() {
			return nil, fmt.Errorf("%w: classificação %q", ErrInvalidRequest, *e.Classification)
		}
		if e.CFOPVerdict != nil && !e.CFOPVerdict.Valid() {
			return nil, fmt.Errorf("%w: validação de CFOP %q", ErrInvalidRequest, *e.CFOPVerdict)
		}
	}

	for _, e := range edits {
		if e.Classification != nil {
			if _, err := sess.Classify(e.LineID, *e.Classification); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
		}
		if e.AccountCode != nil {
			if err := sess.SetAccountCode(e.LineID, *e.AccountCode); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
		}
		if e.CFOPVerdict != nil {
			if _, err := sess.SetCFOPVerdict(e.LineID, *e.CFOPVerdict); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
		}
	}

	store, err := s.repo.LoadStore(ctx)
	if err != nil {
		return sess.Lines(), fmt.Errorf("%w: %w", ErrPersist, err)
	}
	next, err := ledger.Save(store, sess.Competence(), sess)
	if err != nil {
		return sess.Lines(), fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := s.repo.SaveStore(ctx, next); err != nil {
		return sess.Lines(), fmt.Errorf("%w: %w", ErrPersist, err)
	}
	sess.MarkSaved()
	s.logger.Info("classificações aplicadas",
		zap.String("competence", sess.Competence()),
		zap.Int("edits", len(edits)),
		zap.Int("store_version", next.Version))
	return sess.Lines(), nil
}

// WriteWorkbook exports the current run as an xlsx workbook.
func (s *service) WriteWorkbook(w io.Writer) error {
	doc, err := s.Current()
	if err != nil {
		return err
	}
	return export.WriteWorkbook(w, export.RunSheets(doc))
}

// ExportSession serializes the current run and the classification store.
func (s *service) ExportSession(ctx context.Context) ([]byte, error) {
	doc, err := s.Current()
	if err != nil {
		return nil, err
	}
	store, err := s.repo.LoadStore(ctx)
	if err != nil {
		return nil, err
	}
	return session.Export(doc, store)
}

// ImportSession replaces the current run and the classification store with
// an exported session. Both are kept in memory even if persisting fails.
func (s *service) ImportSession(ctx context.Context, data []byte) (session.Document, error) {
	doc, store, err := session.Import(data)
	if err != nil {
		return session.Document{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	s.mu.Lock()
	s.current = &doc
	s.sessions = make(map[string]*ledger.Session)
	s.mu.Unlock()

	s.logger.Info("sessão importada",
		zap.String("competence", doc.Competence),
		zap.Int("store_version", store.Version))

	if err := s.repo.SaveStore(ctx, store); err != nil {
		return doc, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		return doc, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return doc, nil
}

// Restore loads the last saved run, if any.
func (s *service) Restore(ctx context.Context) error {
	doc, err := s.repo.LoadDocument(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = &doc
	s.mu.Unlock()
	s.logger.Info("sessão restaurada", zap.String("competence", doc.Competence), zap.Time("processed_at", doc.ProcessedAt))
	return nil
}
