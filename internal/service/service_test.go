package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/equipstat/internal/analysis"
	"github.com/KaramelBytes/equipstat/internal/blob"
	"github.com/KaramelBytes/equipstat/internal/metrics"
	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/record/memory"
	"github.com/KaramelBytes/equipstat/internal/record/recordtest"
	"github.com/KaramelBytes/equipstat/internal/report"
)

const scenarioCSV = "flowrate,pressure,temperature,type\n10,20,30,A\n20,30,40,B\n30,40,50,A\n"

type fixture struct {
	svc     *Service
	store   *memory.Store
	blobs   *blob.Memory
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := recordtest.NewClock(recordtest.Start, time.Second)
	f := fixture{
		store:   memory.New(memory.WithClock(clock.Now)),
		blobs:   blob.NewMemory(),
		metrics: metrics.New(),
	}
	f.svc = New(f.store, Options{Blobs: f.blobs, Metrics: f.metrics, Renderer: report.NewRenderer(report.Options{})})
	return f
}

func (f fixture) count(outcome string) float64 {
	return testutil.ToFloat64(f.metrics.Uploads.WithLabelValues(outcome))
}

func TestUploadScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Upload(ctx, UploadRequest{Name: " Plant A ", Filename: "dir/sample.csv", Content: []byte(scenarioCSV)})
	require.NoError(t, err)
	assert.Equal(t, "Plant A", rec.Name)
	assert.Equal(t, "sample.csv", rec.OriginalFilename)
	assert.Equal(t, 3, rec.TotalCount)
	assert.InDelta(t, 20, rec.AvgFlowrate, 1e-9)
	assert.InDelta(t, 30, rec.AvgPressure, 1e-9)
	assert.InDelta(t, 40, rec.AvgTemperature, 1e-9)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, rec.TypeDistribution)
	assert.NotEmpty(t, rec.SourceKey)
	assert.Equal(t, 1, f.blobs.Len())
	assert.Equal(t, 1.0, f.count(metrics.OutcomeAccepted))

	latest, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, latest.ID)
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name    string
		content string
		target  error
	}{
		{"missing column", "flowrate,temperature,type\n10,30,A\n", analysis.ErrValidation},
		{"header only", "flowrate,pressure,temperature,type\n", analysis.ErrEmptyDataset},
		{"empty payload", "  \n", analysis.ErrEmptyDataset},
		{"all rows bad", "flowrate,pressure,temperature,type\nx,1,1,A\n", analysis.ErrEmptyDataset},
		{"malformed", "flowrate,pressure,temperature,type\n\"1,2,3,A\n", analysis.ErrMalformedTable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Upload(context.Background(), UploadRequest{Filename: "x.csv", Content: []byte(tc.content)})
			require.ErrorIs(t, err, tc.target)
			assert.True(t, IsRejection(err))

			recs, err := f.svc.History(context.Background(), 0)
			require.NoError(t, err)
			assert.Empty(t, recs)
			assert.Equal(t, 0, f.blobs.Len())
			assert.Equal(t, 1.0, f.count(metrics.OutcomeRejected))
		})
	}
}

func TestUploadMissingPressureReportsColumn(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), UploadRequest{Filename: "x.csv", Content: []byte("flowrate,temperature,type\n10,30,A\n")})
	var ve *analysis.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"pressure"}, ve.Missing)
}

func TestUploadSkipsUnparseableRows(t *testing.T) {
	f := newFixture(t)
	content := "flowrate,pressure,temperature,type\nabc,20,30,A\n20,30,40,B\n30,40,50,A\n"
	rec, err := f.svc.Upload(context.Background(), UploadRequest{Filename: "x.csv", Content: []byte(content)})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TotalCount)
	assert.Equal(t, 1, rec.SkippedRows)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RowsSkipped))
}

func TestUploadDefaultName(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.Upload(context.Background(), UploadRequest{Filename: "x.csv", Content: []byte(scenarioCSV)})
	require.NoError(t, err)
	assert.Equal(t, "Dataset 2026-03-14 09:26", rec.Name)
}

type failingCreate struct{ record.Store }

func (failingCreate) Create(context.Context, record.NewRecord) (record.Record, error) {
	return record.Record{}, errors.New("disk full")
}

func TestUploadStoreFailureRemovesBlob(t *testing.T) {
	blobs := blob.NewMemory()
	m := metrics.New()
	svc := New(failingCreate{memory.New()}, Options{Blobs: blobs, Metrics: m})
	_, err := svc.Upload(context.Background(), UploadRequest{Filename: "x.csv", Content: []byte(scenarioCSV)})
	require.ErrorContains(t, err, "disk full")
	assert.False(t, IsRejection(err))
	assert.Equal(t, 0, blobs.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues(metrics.OutcomeFailed)))
}

func TestLookupsOnEmptyStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Latest(ctx)
	assert.ErrorIs(t, err, record.ErrEmptyHistory)
	_, _, err = f.svc.LatestReport(ctx)
	assert.ErrorIs(t, err, record.ErrEmptyHistory)
	_, err = f.svc.Get(ctx, 99)
	assert.ErrorIs(t, err, record.ErrNotFound)
	_, _, err = f.svc.Report(ctx, 99)
	assert.ErrorIs(t, err, record.ErrNotFound)
	_, _, _, err = f.svc.Source(ctx, 99)
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestReportMatchesRenderer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Upload(ctx, UploadRequest{Name: "r", Filename: "x.csv", Content: []byte(scenarioCSV)})
	require.NoError(t, err)

	pdf, got, err := f.svc.Report(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	want, err := report.NewRenderer(report.Options{}).Render(&rec)
	require.NoError(t, err)
	assert.Equal(t, want, pdf)

	again, _, err := f.svc.LatestReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, pdf, again)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ReportsRendered))
}

func TestHistoryLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.svc.Upload(ctx, UploadRequest{Name: fmt.Sprintf("run-%d", i), Filename: "x.csv", Content: []byte(scenarioCSV)})
		require.NoError(t, err)
	}
	all, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	two, err := f.svc.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "run-3", two[0].Name)
	assert.Equal(t, "run-2", two[1].Name)
}

func TestSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Upload(ctx, UploadRequest{Filename: "plant.csv", Content: []byte(scenarioCSV)})
	require.NoError(t, err)

	info, rc, got, err := f.svc.Source(ctx, rec.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, scenarioCSV, string(body))
	assert.Equal(t, "text/csv", info.ContentType)
	assert.Equal(t, rec.ID, got.ID)

	noBlobs := New(memory.New(), Options{})
	rec, err = noBlobs.Upload(ctx, UploadRequest{Filename: "plant.csv", Content: []byte(scenarioCSV)})
	require.NoError(t, err)
	assert.Empty(t, rec.SourceKey)
	_, _, _, err = noBlobs.Source(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestPruneRemovesBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.svc.Upload(ctx, UploadRequest{Filename: "x.csv", Content: []byte(scenarioCSV)})
		require.NoError(t, err)
	}
	deleted, err := f.svc.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, deleted, 3)
	assert.Equal(t, 2, f.blobs.Len())
	recs, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestConcurrentUploads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 12
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := f.svc.Upload(ctx, UploadRequest{Filename: "x.csv", Content: []byte(scenarioCSV)})
			if assert.NoError(t, err) {
				ids <- rec.ID
			}
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[int64]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, float64(n), f.count(metrics.OutcomeAccepted))
}
