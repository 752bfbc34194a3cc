// internal/api/handlers/fiscal_handler.go
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fiscal-service/internal/api/responses"
	"fiscal-service/internal/core/extract"
	"fiscal-service/internal/core/reconcile"
	"fiscal-service/internal/core/sequence"
	"fiscal-service/internal/core/session"
	"fiscal-service/internal/core/workflow"
	"fiscal-service/internal/storage"

	"github.com/gin-gonic/gin"
)

const (
	quotaGuidance = "Limite de armazenamento excedido: reduza o período da competência"
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// FiscalHandler handles the reconciliation API.
type FiscalHandler struct {
	service workflow.Service
}

// NewFiscalHandler creates a new fiscal handler.
func NewFiscalHandler(service workflow.Service) *FiscalHandler {
	return &FiscalHandler{
		service: service,
	}
}

// Register mounts the routes under group.
func (h *FiscalHandler) Register(group *gin.RouterGroup) {
	group.POST("/process", h.HandleProcess)
	group.GET("/runs/current", h.HandleCurrent)
	group.GET("/runs/current/export", h.HandleExportWorkbook)
	group.PUT("/sequence/overrides", h.HandleOverrides)
	group.GET("/classifications", h.HandleClassifications)
	group.POST("/classifications", h.HandleClassify)
	group.GET("/session/export", h.HandleExportSession)
	group.POST("/session/import", h.HandleImportSession)
}

// CategoryCount is the size of one right-only bucket.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ReconcileSummary condenses one reconciliation result.
type ReconcileSummary struct {
	Matched            int             `json:"matched"`
	LeftOnly           int             `json:"leftOnly"`
	RightOnly          []CategoryCount `json:"rightOnly"`
	OwnIssuanceReturns int             `json:"ownIssuanceReturns"`
	SkippedLedgerRows  int             `json:"skippedLedgerRows"`
	UnkeyedDocuments   int             `json:"unkeyedDocuments"`
}

// RunSummary is returned by the process endpoint.
type RunSummary struct {
	RunID           string                  `json:"runId"`
	Competence      string                  `json:"competence"`
	ProcessedAt     time.Time               `json:"processedAt"`
	Entradas        ReconcileSummary        `json:"entradas"`
	Saidas          ReconcileSummary        `json:"saidas"`
	NFSe            int                     `json:"nfse"`
	Sequence        map[sequence.Status]int `json:"sequence"`
	FirstAfterGap   *int64                  `json:"firstNumberAfterGap,omitempty"`
	Duplicates      []sequence.Duplicate    `json:"duplicates,omitempty"`
	Inconsistencies int                     `json:"cfopUfInconsistencies"`
	Divergences     int                     `json:"divergences"`
	FileErrors      []extract.FileError     `json:"fileErrors,omitempty"`
	HeaderIssues    []session.HeaderIssue   `json:"headerIssues,omitempty"`
	Warnings        []string                `json:"warnings,omitempty"`
}

func summarize(doc session.Document) RunSummary {
	data := doc.ProcessedData
	return RunSummary{
		RunID:           data.RunID,
		Competence:      doc.Competence,
		ProcessedAt:     doc.ProcessedAt,
		Entradas:        summarizeResult(data.Entradas),
		Saidas:          summarizeResult(data.Saidas),
		NFSe:            len(data.NFSe),
		Sequence:        data.Sequence.Counts(),
		FirstAfterGap:   data.Sequence.FirstNumberAfterGap,
		Duplicates:      data.Sequence.Duplicates,
		Inconsistencies: len(data.Consistency.CFOPUFInconsistencies),
		Divergences:     len(data.Divergences),
		FileErrors:      data.FileErrors,
		HeaderIssues:    data.HeaderIssues,
		Warnings:        data.Warnings,
	}
}

func summarizeResult(r reconcile.Result) ReconcileSummary {
	out := ReconcileSummary{
		Matched:            len(r.Matched),
		LeftOnly:           len(r.LeftOnly),
		RightOnly:          make([]CategoryCount, 0, len(r.Categories)),
		OwnIssuanceReturns: len(r.OwnIssuanceReturns),
		SkippedLedgerRows:  r.SkippedLedgerRows,
		UnkeyedDocuments:   r.UnkeyedDocuments,
	}
	for _, c := range r.Categories {
		out.RightOnly = append(out.RightOnly, CategoryCount{Category: c, Count: len(r.RightOnlyByCategory[c])})
	}
	return out
}

// HandleProcess runs a reconciliation over the uploaded files.
func (h *FiscalHandler) HandleProcess(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		responses.Error(c, http.StatusBadRequest, "Formulário inválido", err.Error())
		return
	}

	req := workflow.Request{
		Competence:           c.PostForm("competence"),
		DisregardedNfseNotes: splitList(c.PostForm("disregardedNfseNotes")),
		IgnoredCFOPs:         splitList(c.PostForm("cfopsIgnorados")),
	}
	if raw := strings.TrimSpace(c.PostForm("lastSaidaNumber")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			responses.Error(c, http.StatusBadRequest, "Número da última nota de saída inválido", err.Error())
			return
		}
		req.LastSaidaNumber = n
	}
	if raw := strings.TrimSpace(c.PostForm("saidasStatus")); raw != "" {
		var overrides map[int64]sequence.Status
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			responses.Error(c, http.StatusBadRequest, "Status das notas de saída inválido", err.Error())
			return
		}
		req.SaidasStatus = overrides
	}

	if req.LedgerFiles, err = readUploads(form.File["ledgerFiles"]); err != nil {
		responses.Error(c, http.StatusInternalServerError, "Não foi possível abrir um dos arquivos de escrituração", err.Error())
		return
	}
	if req.XMLFiles, err = readUploads(form.File["xmlFiles"]); err != nil {
		responses.Error(c, http.StatusInternalServerError, "Não foi possível abrir um dos arquivos XML", err.Error())
		return
	}

	doc, err := h.service.Process(c.Request.Context(), req)
	responses.WithRunID(c, doc.ProcessedData.RunID)
	if err != nil {
		h.fail(c, err, "Erro no processamento", summaryOrNil(doc))
		return
	}
	responses.Success(c, summarize(doc), "Processamento concluído com sucesso")
}

func summaryOrNil(doc session.Document) any {
	if doc.ProcessedData.RunID == "" {
		return nil
	}
	return summarize(doc)
}

// HandleCurrent returns the full current run.
func (h *FiscalHandler) HandleCurrent(c *gin.Context) {
	doc, err := h.service.Current()
	if err != nil {
		h.fail(c, err, "Nenhum processamento disponível", nil)
		return
	}
	responses.WithRunID(c, doc.ProcessedData.RunID)
	responses.Success(c, doc, "")
}

// HandleExportWorkbook downloads the current run as xlsx.
func (h *FiscalHandler) HandleExportWorkbook(c *gin.Context) {
	doc, err := h.service.Current()
	if err != nil {
		h.fail(c, err, "Nenhum processamento disponível", nil)
		return
	}
	var buf bytes.Buffer
	if err := h.service.WriteWorkbook(&buf); err != nil {
		h.fail(c, err, "Erro ao gerar planilha", nil)
		return
	}
	filename := fmt.Sprintf("conciliacao-%s.xlsx", safeFilename(doc.Competence))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxMIME, buf.Bytes())
}

type overridesRequest struct {
	Overrides map[int64]sequence.Status `json:"overrides"`
}

// HandleOverrides replaces the manual sequence statuses.
func (h *FiscalHandler) HandleOverrides(c *gin.Context) {
	var body overridesRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		responses.Error(c, http.StatusBadRequest, "Corpo da requisição inválido", err.Error())
		return
	}
	doc, err := h.service.Resequence(c.Request.Context(), body.Overrides)
	responses.WithRunID(c, doc.ProcessedData.RunID)
	if err != nil {
		var data any
		if doc.ProcessedData.RunID != "" {
			data = doc.ProcessedData.Sequence
		}
		h.fail(c, err, "Erro ao recalcular a sequência", data)
		return
	}
	responses.Success(c, doc.ProcessedData.Sequence, "Sequência recalculada")
}

// HandleClassifications lists the line items with their classification state.
func (h *FiscalHandler) HandleClassifications(c *gin.Context) {
	lines, err := h.service.Classifications(c.Request.Context(), c.Query("competence"))
	if err != nil {
		h.fail(c, err, "Erro ao carregar classificações", nil)
		return
	}
	responses.Success(c, lines, "")
}

type classifyRequest struct {
	Competence string          `json:"competence"`
	Edits      []workflow.Edit `json:"edits" binding:"required"`
}

// HandleClassify applies classification edits and saves them.
func (h *FiscalHandler) HandleClassify(c *gin.Context) {
	var body classifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		responses.Error(c, http.StatusBadRequest, "Corpo da requisição inválido", err.Error())
		return
	}
	lines, err := h.service.Classify(c.Request.Context(), body.Competence, body.Edits)
	if err != nil {
		var data any
		if errors.Is(err, workflow.ErrPersist) {
			data = lines
		}
		h.fail(c, err, "Erro ao salvar classificações", data)
		return
	}
	responses.Success(c, lines, "Classificações salvas")
}

// HandleExportSession downloads the session document.
func (h *FiscalHandler) HandleExportSession(c *gin.Context) {
	data, err := h.service.ExportSession(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Erro ao exportar sessão", nil)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="sessao-fiscal.json"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// HandleImportSession replaces the current session. The document may come as
// the raw body or as a multipart file named "session".
func (h *FiscalHandler) HandleImportSession(c *gin.Context) {
	var data []byte
	var err error
	if header, ferr := c.FormFile("session"); ferr == nil {
		data, err = readUpload(header)
	} else {
		data, err = io.ReadAll(c.Request.Body)
	}
	if err != nil {
		responses.Error(c, http.StatusBadRequest, "Não foi possível ler a sessão", err.Error())
		return
	}

	doc, err := h.service.ImportSession(c.Request.Context(), data)
	responses.WithRunID(c, doc.ProcessedData.RunID)
	if err != nil {
		h.fail(c, err, "Erro ao importar sessão", summaryOrNil(doc))
		return
	}
	responses.Success(c, summarize(doc), "Sessão importada")
}

// fail maps workflow errors to HTTP statuses. data is sent along when the
// operation produced a result that is kept in memory.
func (h *FiscalHandler) fail(c *gin.Context, err error, message string, data any) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrQuotaExceeded):
		code = http.StatusInsufficientStorage
		message = quotaGuidance
	case errors.Is(err, workflow.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, workflow.ErrNoRun):
		code = http.StatusNotFound
	}
	if data != nil && errors.Is(err, workflow.ErrPersist) {
		responses.Partial(c, code, data, message, err.Error())
		return
	}
	responses.Error(c, code, message, err.Error())
}

func readUploads(headers []*multipart.FileHeader) ([]extract.File, error) {
	files := make([]extract.File, 0, len(headers))
	for _, header := range headers {
		content, err := readUpload(header)
		if err != nil {
			return nil, err
		}
		files = append(files, extract.File{Name: header.Filename, Content: content})
	}
	return files, nil
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", header.Filename, err)
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", header.Filename, err)
	}
	return content, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func safeFilename(s string) string {
	s = strings.NewReplacer("/", "-", "\\", "-", "+", "_", `"`, "").Replace(strings.TrimSpace(s))
	if s == "" {
		return "sessao"
	}
	return s
}
