package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/fbas-tools/analyzer/internal/analysis"
	"github.com/fbas-tools/analyzer/internal/cache"
	"github.com/fbas-tools/analyzer/internal/metrics"
	"github.com/fbas-tools/analyzer/internal/pipeline"
	testnet "github.com/fbas-tools/analyzer/internal/testutils/net"
)

const threeNodes = `[
	{"publicKey": "A", "quorumSet": {"threshold": 2, "validators": ["A", "B", "C"]}},
	{"publicKey": "B", "quorumSet": {"threshold": 2, "validators": ["A", "B", "C"]}},
	{"publicKey": "C", "quorumSet": {"threshold": 2, "validators": ["A", "B", "C"]}}
]`

func newTestServer(t *testing.T, opts ...Option) *RestServer {
	t.Helper()
	e, err := analysis.NewReferenceEngine()
	require.NoError(t, err)
	a, err := pipeline.New(e, cache.New())
	require.NoError(t, err)
	s, err := NewRESTServer(a, "", opts...)
	require.NoError(t, err)
	return s
}

func postAnalysis(t *testing.T, s *RestServer, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis", strings.NewReader(body))
	req.Header.Set(ContentType, ApplicationJson)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, req)
	return recorder
}

func analysisBody(t *testing.T, r AnalysisRequest) string {
	t.Helper()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return string(b)
}

func TestNewRESTServer_AnalyzerIsNil(t *testing.T) {
	s, err := NewRESTServer(nil, "")
	require.ErrorContains(t, err, "analyzer is nil")
	require.Nil(t, s)
}

func TestAnalysis_OK(t *testing.T) {
	s := newTestServer(t)
	body := analysisBody(t, AnalysisRequest{Fbas: json.RawMessage(threeNodes), FaultyNodes: json.RawMessage(`["A"]`)})

	recorder := postAnalysis(t, s, body)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Equal(t, ApplicationJson, recorder.Header().Get(ContentType))
	out := &pipeline.Output{}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(out))
	require.Equal(t, `[["A","B"],["A","C"],["B","C"]]`, out.MinimalQuorums)
	require.Equal(t, `[["B"],["C"]]`, out.MinimalBlockingSets)
	require.True(t, out.HasIntersection)
	require.False(t, out.CacheHit)

	// second request is served from the cache, this time as CBOR
	recorder = postAnalysis(t, s, body, Accept, ApplicationCbor)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, ApplicationCbor, recorder.Header().Get(ContentType))
	out = &pipeline.Output{}
	require.NoError(t, cbor.Unmarshal(recorder.Body.Bytes(), out))
	require.True(t, out.CacheHit)
	require.Equal(t, []string{"A", "B", "C"}, out.TopTier)
}

func TestAnalysis_MergeByOrgs(t *testing.T) {
	s := newTestServer(t)
	recorder := postAnalysis(t, s, analysisBody(t, AnalysisRequest{
		Fbas:          json.RawMessage(threeNodes),
		Organizations: json.RawMessage(`[{"id": "o1", "name": "Org1", "validators": ["A", "B"]}]`),
		MergeBy:       "orgs",
	}))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	out := &pipeline.Output{}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(out))
	require.Equal(t, `[["Org1"]]`, out.MinimalQuorums)
	require.Equal(t, []string{"Org1", "C"}, out.TopTier)
}

func TestAnalysis_InvalidInput(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{name: "not json", body: "{", code: http.StatusBadRequest, message: "parse error: request body"},
		{name: "unknown field", body: `{"fbas": [], "foo": 1}`, code: http.StatusBadRequest, message: "unknown field"},
		{name: "missing fbas", body: `{}`, code: http.StatusBadRequest, message: `invalid parameter "fbas"`},
		{name: "invalid merge mode", body: analysisBody(t, AnalysisRequest{Fbas: json.RawMessage(threeNodes), MergeBy: "planets"}), code: http.StatusBadRequest, message: `invalid parameter "mergeBy"`},
		{name: "invalid faulty nodes", body: analysisBody(t, AnalysisRequest{Fbas: json.RawMessage(threeNodes), FaultyNodes: json.RawMessage(`{"A": 1}`)}), code: http.StatusBadRequest, message: `invalid parameter "faultyNodes"`},
		{name: "invalid organizations", body: analysisBody(t, AnalysisRequest{Fbas: json.RawMessage(threeNodes), MergeBy: "orgs", Organizations: json.RawMessage(`{}`)}), code: http.StatusBadRequest, message: "invalid grouping description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := postAnalysis(t, s, tt.body)
			require.Equal(t, tt.code, recorder.Code)
			resp := &ErrorResponse{}
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(resp))
			require.Contains(t, resp.Message, tt.message)
		})
	}
}

func TestAnalysis_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, WithMaxBodySize(16))
	recorder := postAnalysis(t, s, analysisBody(t, AnalysisRequest{Fbas: json.RawMessage(threeNodes)}))
	require.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
}

func TestAnalysis_TooManyNodes(t *testing.T) {
	e, err := analysis.NewReferenceEngine(analysis.WithNodeLimit(2))
	require.NoError(t, err)
	a, err := pipeline.New(e, cache.New())
	require.NoError(t, err)
	s, err := NewRESTServer(a, "")
	require.NoError(t, err)
	recorder := postAnalysis(t, s, analysisBody(t, AnalysisRequest{Fbas: json.RawMessage(threeNodes)}))
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "node limit")
}

func TestCacheStats(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, postAnalysis(t, s, analysisBody(t, AnalysisRequest{Fbas: json.RawMessage(threeNodes)})).Code)

	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/cache", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	st := &cache.Stats{}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(st))
	require.Equal(t, &cache.Stats{Entries: 1, Misses: 1}, st)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analysis", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", ContentType)
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Contains(t, recorder.Body.String(), "/api/v1/unknown not found")

	// metrics are served only when enabled
	recorder = httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestMetrics_OK(t *testing.T) {
	metrics.Enable()
	s := newTestServer(t, WithMetrics())
	require.Equal(t, http.StatusOK, postAnalysis(t, s, analysisBody(t, AnalysisRequest{Fbas: json.RawMessage(threeNodes)})).Code)

	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", bytes.NewReader(nil)))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "fbas_engine_runs")
	require.Contains(t, recorder.Body.String(), "fbas_cache_misses")
}

func TestRestServer_Run(t *testing.T) {
	e, err := analysis.NewReferenceEngine()
	require.NoError(t, err)
	a, err := pipeline.New(e, cache.New())
	require.NoError(t, err)
	addr := testnet.FreeLocalAddr(t)
	s, err := NewRESTServer(a, addr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/v1/cache")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}
