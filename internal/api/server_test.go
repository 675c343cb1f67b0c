package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/canon/internal/extract"
	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/metrics"
	"github.com/hurttlocker/canon/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubCaller struct {
	body string
	err  error
}

func (c stubCaller) CallLLM(context.Context, string) (any, string, error) {
	if c.err != nil {
		return nil, "", c.err
	}
	raw, err := extract.ParseLLMContent(c.body)
	return raw, "test/model", err
}

const knightResponse = `{"entities":[{"name":"Aldric","type":"character"}],
"facts":[{"entityName":"Aldric","subject":"Aldric","predicate":"is","object":"a knight","evidence":"Aldric is a knight"}],
"relationships":[]}`

func setupTestServer(t *testing.T, caller extract.Caller) (*Server, store.Store) {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var proc *ingest.Processor
	if caller != nil {
		orch, err := extract.NewOrchestrator(extract.OrchestratorConfig{
			Source: store.AsDocumentSource(s),
			Cache:  s,
			Caller: caller,
		})
		require.NoError(t, err)
		proc = ingest.NewProcessor(s, orch, nil)
	}
	srv := NewServer(Config{Store: s, Processor: proc, Metrics: metrics.NewCollector("canon")})
	return srv, s
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthCheck(t *testing.T) {
	srv, _ := setupTestServer(t, nil)
	w := do(t, srv, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAndGetDocument(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	w := do(t, srv, "POST", "/v1/documents", `{"projectId":"saga","title":"One","content":"Aldric is a knight."}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	w = do(t, srv, "POST", "/v1/documents", `{"projectId":"saga","title":"One","content":"Aldric is a knight."}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, false, body["created"])

	w = do(t, srv, "GET", "/v1/documents/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.Equal(t, "Aldric is a knight.", doc["content"])
	assert.Equal(t, "pending", doc["status"])

	w = do(t, srv, "GET", "/v1/documents?project=saga", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["documents"], 1)

	w = do(t, srv, "GET", "/v1/documents/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateDocumentValidation(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	w := do(t, srv, "POST", "/v1/documents", `{"title":"no content"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "required", decode(t, w)["fields"].(map[string]any)["Content"])

	w = do(t, srv, "POST", "/v1/documents", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtractRejectsBadChunkOverrides(t *testing.T) {
	srv, s := setupTestServer(t, stubCaller{body: knightResponse})
	ctx := context.Background()
	id, err := s.AddDocument(ctx, &store.Document{Content: "Aldric is a knight of the realm."})
	require.NoError(t, err)

	w := do(t, srv, "POST", "/v1/documents/"+id+"/extract", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, "POST", "/v1/documents/"+id+"/extract", `{"max_chars":100,"overlap_chars":500}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	doc, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, doc.Status)
	assert.Empty(t, doc.Error)
}

func TestExtractPersistsByDefault(t *testing.T) {
	srv, s := setupTestServer(t, stubCaller{body: knightResponse})
	ctx := context.Background()
	id, err := s.AddDocument(ctx, &store.Document{Content: "Aldric is a knight of the realm."})
	require.NoError(t, err)

	w := do(t, srv, "POST", "/v1/documents/"+id+"/extract", `{"persist":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res ingest.ProcessResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Nil(t, res.Saved)

	w = do(t, srv, "POST", "/v1/documents/"+id+"/extract", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = ingest.ProcessResult{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Saved)
	assert.Equal(t, 1, res.Saved.FactsCreated)
}

func TestExtractAndFacts(t *testing.T) {
	srv, s := setupTestServer(t, stubCaller{body: knightResponse})
	id, err := s.AddDocument(context.Background(), &store.Document{Content: "Aldric is a knight of the realm."})
	require.NoError(t, err)

	w := do(t, srv, "POST", "/v1/documents/"+id+"/extract", `{"persist":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res ingest.ProcessResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Result.Facts, 1)
	assert.Equal(t, &extract.Position{Start: 0, End: 18}, res.Result.Facts[0].EvidencePosition)
	assert.Equal(t, 1, res.Saved.FactsCreated)

	w = do(t, srv, "GET", "/v1/documents/"+id+"/facts", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	facts := body["facts"].([]any)
	require.Len(t, facts, 1)
	assert.Equal(t, float64(0), facts[0].(map[string]any)["evidenceStart"])
	assert.Empty(t, body["relationships"])

	w = do(t, srv, "GET", "/v1/documents/missing/facts", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExtractErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		caller extract.Caller
		status int
	}{
		{"api", stubCaller{err: extract.APIError("extract", errors.New("status 500"))}, http.StatusBadGateway},
		{"configuration", stubCaller{err: extract.ConfigurationError("extract", errors.New("no key"))}, http.StatusInternalServerError},
		{"validation", stubCaller{body: "not json at all"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, s := setupTestServer(t, tc.caller)
			id, err := s.AddDocument(context.Background(), &store.Document{Content: "Mira keeps the lantern."})
			require.NoError(t, err)

			w := do(t, srv, "POST", "/v1/documents/"+id+"/extract", "")
			assert.Equal(t, tc.status, w.Code, w.Body.String())

			doc, _ := s.GetDocument(context.Background(), id)
			assert.Equal(t, store.StatusFailed, doc.Status)
		})
	}

	srv, _ := setupTestServer(t, stubCaller{body: knightResponse})
	w := do(t, srv, "POST", "/v1/documents/missing/extract", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExtractWithoutProcessor(t *testing.T) {
	srv, _ := setupTestServer(t, nil)
	w := do(t, srv, "POST", "/v1/documents/any/extract", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChunkEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t, nil)
	content := strings.Repeat("x", 12001)
	body, _ := json.Marshal(map[string]any{"content": content})

	w := do(t, srv, "POST", "/v1/chunk", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, true, out["needsChunking"])
	chunks := out["chunks"].([]any)
	require.Len(t, chunks, 2)
	second := chunks[1].(map[string]any)
	assert.Equal(t, float64(11200), second["startOffset"])
	assert.Equal(t, float64(12001), second["endOffset"])

	w = do(t, srv, "POST", "/v1/chunk", `{"content":"abc","max_chars":100,"overlap_chars":200}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLocateEvidenceEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	w := do(t, srv, "POST", "/v1/evidence/locate", `{"evidence":"dark forest","content":"Aldric entered the dark forest at dawn.","chunkStart":10,"chunkEnd":39}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, true, out["located"])
	pos := out["position"].(map[string]any)
	assert.Equal(t, float64(19), pos["start"])
	assert.Equal(t, float64(30), pos["end"])

	w = do(t, srv, "POST", "/v1/evidence/locate", `{"evidence":"silver dragon","content":"Aldric entered the dark forest."}`)
	require.Equal(t, http.StatusOK, w.Code)
	out = decode(t, w)
	assert.Equal(t, false, out["located"])
	assert.Nil(t, out["position"])

	w = do(t, srv, "POST", "/v1/evidence/locate", `{"evidence":"x","content":"short","chunkEnd":99}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t, nil)
	do(t, srv, "GET", "/health", "")
	w := do(t, srv, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "canon_http_requests_total")
}
