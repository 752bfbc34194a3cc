package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fiscal-service/internal/api/responses"
	"fiscal-service/internal/core/session"
	"fiscal-service/internal/core/workflow"
	"fiscal-service/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const accessKey = "35240111222333000144550010000005001000005001"

const nfeXML = `<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
  <NFe>
    <infNFe Id="NFe` + accessKey + `" versao="4.00">
      <ide><serie>1</serie><nNF>500</nNF><dhEmi>2024-01-15T10:00:00-03:00</dhEmi><tpNF>1</tpNF></ide>
      <emit><CNPJ>11222333000144</CNPJ><xNome>Fornecedor SP</xNome><enderEmit><UF>SP</UF></enderEmit></emit>
      <dest><CNPJ>99888777000166</CNPJ><xNome>Empresa PR</xNome><enderDest><UF>PR</UF></enderDest></dest>
      <det nItem="1">
        <prod><cProd>P-1</cProd><xProd>Parafuso</xProd><CFOP>6102</CFOP><vProd>100.00</vProd></prod>
      </det>
      <total><ICMSTot><vNF>100.00</vNF></ICMSTot></total>
    </infNFe>
  </NFe>
</nfeProc>`

const ledgerCSV = "Nota;CNPJ;UF;CFOP;Espécie\n500;11222333000144;SP;1102;compra\n777;55666777000188;PR;1556;energia\n"

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Errors  []string        `json:"errors"`
}

func setupRouter(t *testing.T, store storage.Storage) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	responses.SetLogger(zap.NewNop())

	repo := session.NewRepository(store, zap.NewNop())
	svc := workflow.NewService(workflow.Options{CompanyTaxID: "99888777000166", HomeUF: "PR"}, repo, zap.NewNop())

	router := gin.New()
	NewFiscalHandler(svc).Register(router.Group("/api/v1"))
	return router
}

func processRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("ledgerFiles", "livro.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(ledgerCSV))
	require.NoError(t, err)
	part, err = w.CreateFormFile("xmlFiles", "nota.xml")
	require.NoError(t, err)
	_, err = part.Write([]byte(nfeXML))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func do(router *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestProcessAndFetchCurrent(t *testing.T) {
	router := setupRouter(t, storage.NewMemory(0))

	rec, env := do(router, processRequest(t, map[string]string{"competence": "2024-01", "lastSaidaNumber": "0"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", env.Status)

	var summary RunSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, "2024-01", summary.Competence)
	assert.Equal(t, 1, summary.Entradas.Matched)
	assert.Equal(t, []CategoryCount{{Category: "energia", Count: 1}}, summary.Entradas.RightOnly)
	assert.Equal(t, 1, summary.Inconsistencies)

	rec, env = do(router, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc session.Document
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, summary.RunID, doc.ProcessedData.RunID)

	rec, _ = do(router, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxMIME, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "conciliacao-2024-01.xlsx")
}

func TestProcessValidation(t *testing.T) {
	router := setupRouter(t, storage.NewMemory(0))

	rec, env := do(router, processRequest(t, map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", env.Status)

	rec, _ = do(router, processRequest(t, map[string]string{"competence": "2024-01", "lastSaidaNumber": "abc"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(router, processRequest(t, map[string]string{"competence": "2024-01", "saidasStatus": `{"3":"perdida"}`}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec, _ = do(router, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndpointsWithoutRun(t *testing.T) {
	router := setupRouter(t, storage.NewMemory(0))
	for _, path := range []string{"/api/v1/runs/current", "/api/v1/runs/current/export", "/api/v1/classifications", "/api/v1/session/export"} {
		rec, _ := do(router, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestQuotaExceededReturnsInsufficientStorage(t *testing.T) {
	router := setupRouter(t, storage.NewMemory(128))

	rec, env := do(router, processRequest(t, map[string]string{"competence": "2024-01"}))
	assert.Equal(t, http.StatusInsufficientStorage, rec.Code)
	assert.Equal(t, quotaGuidance, env.Message)
	assert.NotEmpty(t, env.Data, "the run is still returned")

	rec, _ = do(router, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "run kept in memory")
}

func TestOverridesEndpoint(t *testing.T) {
	router := setupRouter(t, storage.NewMemory(0))
	rec, _ := do(router, processRequest(t, map[string]string{"competence": "2024-01"}))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/sequence/overrides", strings.NewReader(`{"overrides":{"12":"cancelada"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec, env := do(router, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Sequência recalculada", env.Message)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/sequence/overrides", strings.NewReader(`{"overrides":{"12":"sumida"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec, _ = do(router, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassificationEndpoints(t *testing.T) {
	router := setupRouter(t, storage.NewMemory(0))
	rec, _ := do(router, processRequest(t, map[string]string{"competence": "2024-01"}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(router, httptest.NewRequest(http.MethodGet, "/api/v1/classifications?competence=2024-01", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var lines []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &lines))
	require.Len(t, lines, 1)
	assert.Equal(t, accessKey+"|1", lines[0]["lineId"])
	assert.Equal(t, "unclassified", lines[0]["classification"])

	body := `{"competence":"2024-01","edits":[{"lineId":"` + accessKey + `|1","classification":"imobilizado","accountCode":"1.2.3"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/classifications", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec, env = do(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &lines))
	assert.Equal(t, "imobilizado", lines[0]["classification"])
	assert.Equal(t, "1.2.3", lines[0]["accountCode"])

	body = `{"edits":[{"lineId":"x|1","classification":"imobilizado"}]}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/classifications", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec, _ = do(router, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionExportImport(t *testing.T) {
	router := setupRouter(t, storage.NewMemory(0))
	rec, _ := do(router, processRequest(t, map[string]string{"competence": "2024-01"}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.Bytes()
	assert.Contains(t, string(exported), `"competence": "2024-01"`)

	other := setupRouter(t, storage.NewMemory(0))
	rec, env := do(other, httptest.NewRequest(http.MethodPost, "/api/v1/session/import", bytes.NewReader(exported)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Sessão importada", env.Message)

	rec, _ = do(other, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(other, httptest.NewRequest(http.MethodPost, "/api/v1/session/import", strings.NewReader("nada")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
