package httpapi

import (
	"bytes"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/equipstat/internal/analysis"
	"github.com/KaramelBytes/equipstat/internal/blob"
	"github.com/KaramelBytes/equipstat/internal/metrics"
	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/record/memory"
	"github.com/KaramelBytes/equipstat/internal/record/recordtest"
	"github.com/KaramelBytes/equipstat/internal/report"
	"github.com/KaramelBytes/equipstat/internal/service"
)

const scenarioCSV = "flowrate,pressure,temperature,type\n10,20,30,A\n20,30,40,B\n30,40,50,A\n"

func newTestRouter(t *testing.T, mutate func(*Options)) http.Handler {
	t.Helper()
	clock := recordtest.NewClock(recordtest.Start, time.Minute)
	m := metrics.New()
	svc := service.New(memory.New(memory.WithClock(clock.Now)), service.Options{
		Blobs:    blob.NewMemory(),
		Renderer: report.NewRenderer(report.Options{}),
		Metrics:  m,
	})
	opts := Options{Metrics: m.Handler()}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRouter(svc, opts)
}

func uploadRequest(t *testing.T, filename, content, name string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	if name != "" {
		require.NoError(t, mw.WriteField("name", name))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/upload/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	return serve(h, httptest.NewRequest(http.MethodGet, path, nil))
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, ContentTypeProblem, rr.Header().Get("Content-Type"))
	var p map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func mustUpload(t *testing.T, h http.Handler, name string) record.Record {
	t.Helper()
	rr := serve(h, uploadRequest(t, "plant.csv", scenarioCSV, name))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var rec record.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	return rec
}

func TestUploadCreatesRecord(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := mustUpload(t, h, "Line 1")
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "Line 1", rec.Name)
	assert.Equal(t, "plant.csv", rec.OriginalFilename)
	assert.Equal(t, 3, rec.TotalCount)
	assert.InDelta(t, 20, rec.AvgFlowrate, 1e-9)
	assert.InDelta(t, 30, rec.AvgPressure, 1e-9)
	assert.InDelta(t, 40, rec.AvgTemperature, 1e-9)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, rec.TypeDistribution)
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name     string
		req      func(t *testing.T) *http.Request
		wantType string
	}{
		{"no file", func(t *testing.T) *http.Request { return uploadRequest(t, "", "", "x") }, TypeBadRequest},
		{"not multipart", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}"))
		}, TypeBadRequest},
		{"missing column", func(t *testing.T) *http.Request {
			return uploadRequest(t, "a.csv", "flowrate,temperature,type\n1,2,A\n", "")
		}, TypeValidation},
		{"header only", func(t *testing.T) *http.Request {
			return uploadRequest(t, "a.csv", "flowrate,pressure,temperature,type\n", "")
		}, TypeEmptyDataset},
		{"empty file", func(t *testing.T) *http.Request { return uploadRequest(t, "a.csv", "", "") }, TypeEmptyDataset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(t, nil)
			rr := serve(h, tc.req(t))
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			p := decodeProblem(t, rr)
			assert.Equal(t, tc.wantType, p["type"])
			assert.EqualValues(t, http.StatusBadRequest, p["status"])

			// nothing was persisted
			assert.Equal(t, http.StatusNotFound, get(h, "/api/summary/latest/").Code)
		})
	}
}

func TestUploadMissingColumnsListed(t *testing.T) {
	h := newTestRouter(t, nil)
	rr := serve(h, uploadRequest(t, "a.csv", "flowrate,temperature,type\n1,2,A\n", ""))
	p := decodeProblem(t, rr)
	assert.Equal(t, []any{"pressure"}, p["missing_columns"])
	assert.Equal(t, "/api/upload/", p["instance"])
	assert.NotEmpty(t, p["request_id"])
}

func TestLatestSummary(t *testing.T) {
	h := newTestRouter(t, nil)

	rr := get(h, "/api/summary/latest/")
	require.Equal(t, http.StatusNotFound, rr.Code)
	p := decodeProblem(t, rr)
	assert.Equal(t, TypeEmptyHistory, p["type"])
	assert.Equal(t, "No datasets uploaded yet", p["detail"])

	mustUpload(t, h, "first")
	mustUpload(t, h, "second")

	rr = get(h, "/api/summary/latest/")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec record.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "second", rec.Name)
}

func TestHistory(t *testing.T) {
	h := newTestRouter(t, func(o *Options) { o.HistoryLimit = 2 })

	rr := get(h, "/api/history/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	for _, n := range []string{"a", "b", "c"} {
		mustUpload(t, h, n)
	}

	var recs []record.Record
	rr = get(h, "/api/history/")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].Name)
	assert.Equal(t, "b", recs[1].Name)

	rr = get(h, "/api/history?limit=0")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	assert.Len(t, recs, 3)

	rr = get(h, "/api/history?limit=nope")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, TypeBadRequest, decodeProblem(t, rr)["type"])
}

func TestDatasetByID(t *testing.T) {
	h := newTestRouter(t, nil)
	created := mustUpload(t, h, "")

	rr := get(h, "/api/datasets/1/")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec record.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, created.ID, rec.ID)
	assert.True(t, strings.HasPrefix(rec.Name, "Dataset "), rec.Name)

	rr = get(h, "/api/datasets/99/")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, rr)["type"])

	rr = get(h, "/api/datasets/abc/")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSourceDownload(t *testing.T) {
	h := newTestRouter(t, nil)
	mustUpload(t, h, "")

	rr := get(h, "/api/datasets/1/source")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, scenarioCSV, rr.Body.String())
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="plant.csv"`, rr.Header().Get("Content-Disposition"))

	assert.Equal(t, http.StatusNotFound, get(h, "/api/datasets/2/source").Code)
}

func TestReportDownload(t *testing.T) {
	h := newTestRouter(t, nil)

	rr := get(h, "/api/report/")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, TypeEmptyHistory, decodeProblem(t, rr)["type"])

	mustUpload(t, h, "Line 1")
	mustUpload(t, h, "Line 2")

	rr = get(h, "/api/report/1/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="equipment_report_1.pdf"`, rr.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("%PDF-")))
	assert.Contains(t, rr.Body.String(), "Line 1")

	rr = get(h, "/api/report/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="equipment_report_2.pdf"`, rr.Header().Get("Content-Disposition"))

	assert.Equal(t, http.StatusNotFound, get(h, "/api/report/7/").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(t, nil)
	rr := get(h, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	mustUpload(t, h, "")
	rr = get(h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `equipstat_uploads_total{outcome="accepted"} 1`)
}

func TestUnknownRouteIsProblem(t *testing.T) {
	h := newTestRouter(t, nil)
	rr := get(h, "/api/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	decodeProblem(t, rr)

	rr = serve(h, httptest.NewRequest(http.MethodDelete, "/api/history", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestBasicAuth(t *testing.T) {
	h := newTestRouter(t, func(o *Options) {
		o.BasicAuthUser = "ops"
		o.BasicAuthPassword = "secret"
	})

	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/history").Code)
	assert.Equal(t, http.StatusOK, get(h, "/healthz").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.SetBasicAuth("ops", "secret")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.SetBasicAuth("ops", "wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

func TestUploadExtremeValuesKeepHistoryReadable(t *testing.T) {
	h := newTestRouter(t, nil)
	body := "flowrate,pressure,temperature,type\n1.7e308,1,1,A\n-1.7e308,1,1,A\n"

	rr := serve(h, uploadRequest(t, "extreme.csv", body, ""))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var rec record.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.InDelta(t, 0, rec.AvgFlowrate, 1e-9)

	mustUpload(t, h, "after")
	rr = get(h, "/api/history/")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var recs []record.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)
}

func TestNonFiniteAverageIsValidationProblem(t *testing.T) {
	err := analysis.Summary{TotalCount: 1, AvgPressure: math.Inf(1)}.CheckFinite()
	p := problemFor(err)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, TypeValidation, p.Type)
	assert.Contains(t, p.Detail, "pressure")
}
