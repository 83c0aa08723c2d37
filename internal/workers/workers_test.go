package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shopetl/internal/artifact"
	"shopetl/internal/httpclient"
	"shopetl/internal/plenty"
	"shopetl/models"
)

var testNow = time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d > 0 {
		s.mu.Lock()
		s.waits = append(s.waits, d)
		s.mu.Unlock()
	}
	return ctx.Err()
}

func (s *recordingSleeper) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.waits {
		if w == d {
			n++
		}
	}
	return n
}

// fakeShop serves the subset of the shop API the fetchers use
type fakeShop struct {
	mu       sync.Mutex
	calls    map[string]int
	reports  []string // raw-data paths in request order
	report   func(path string, call int) (int, []byte)
	barcodes []models.BarcodeDefinition
	lastPage int
	failPage map[int]bool
	slowPage map[int]bool
	external []byte
}

func (f *fakeShop) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token_type":"Bearer","access_token":"tok"}`))
	})
	mux.HandleFunc("/rest/bi/raw-data/file", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		f.mu.Lock()
		f.calls[path]++
		call := f.calls[path]
		f.reports = append(f.reports, path)
		f.mu.Unlock()

		code, body := http.StatusNotFound, []byte(nil)
		if f.report != nil {
			code, body = f.report(path, call)
		}
		w.WriteHeader(code)
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/rest/items/barcodes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.BarcodeDefinitionPage{Page: 1, IsLastPage: true, Entries: f.barcodes})
	})
	mux.HandleFunc("/rest/items/variations", func(w http.ResponseWriter, r *http.Request) {
		var page int
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		if f.slowPage[page] {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		if f.failPage[page] {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := models.VariationResponse{
			Page:           page,
			LastPageNumber: f.lastPage,
			TotalsCount:    f.lastPage * 2,
			Entries: []models.Variation{
				{ID: int64(page*10 + 1), VariationBarcodes: []models.VariationBarcode{{BarcodeID: 11, Code: fmt.Sprintf("A%d", page)}}},
				{ID: int64(page*10 + 2), VariationBarcodes: []models.VariationBarcode{{BarcodeID: 12, Code: fmt.Sprintf("B%d", page)}, {BarcodeID: 99, Code: "X"}}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/export.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(f.external)
	})
	return mux
}

func (f *fakeShop) reportRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reports...)
}

func setup(t *testing.T, shop *fakeShop) (*Env, *recordingSleeper, string) {
	t.Helper()
	if shop.calls == nil {
		shop.calls = map[string]int{}
	}
	srv := httptest.NewServer(shop.handler())
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	hc := httpclient.New(httpclient.Options{Timeout: 5 * time.Second, Sleeper: sleeper})
	api := plenty.NewClient(hc, srv.URL)
	api.SetToken("Bearer tok")

	env := NewEnv(api, artifact.Layout{DataDir: t.TempDir()}, "1234")
	env.Sleeper = sleeper
	env.Now = func() time.Time { return testNow }
	return env, sleeper, srv.URL
}

func reportPath(rt models.ReportType, date time.Time, page int) string {
	return plenty.ReportPath(rt, "1234", date, page)
}

func pageFiles(t *testing.T, env *Env, day string, rt models.ReportType) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(env.Layout.DateDir(day), string(rt)+"_page_*.csv"))
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

// ---------------------------------------------------------------------------
// Report fetcher
// ---------------------------------------------------------------------------

func TestFetchReportEndsOnNotFound(t *testing.T) {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	shop := &fakeShop{report: func(path string, call int) (int, []byte) {
		for p := 1; p <= 3; p++ {
			if path == reportPath(models.ReportOrders, date, p) {
				return http.StatusOK, []byte(fmt.Sprintf("o_id\n%d\n", p))
			}
		}
		return http.StatusNotFound, nil
	}}
	env, _, _ := setup(t, shop)

	cp, err := NewOrderWorker(env).FetchReport(context.Background(), date, models.ReportOrders)
	require.NoError(t, err)
	require.True(t, cp.Completed)
	require.Equal(t, 3, cp.PagesProcessed)
	require.Equal(t, 7, cp.Version)

	stored, ok, err := env.Checkpoints.Load("2024-03-01", models.ReportOrders)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stored.Completed)
	require.Equal(t, 3, stored.PagesProcessed)

	require.Len(t, pageFiles(t, env, "2024-03-01", models.ReportOrders), 3)
	require.Len(t, shop.reportRequests(), 4)

	data, err := os.ReadFile(filepath.Join(env.Layout.DateDir("2024-03-01"), "orders_page_2.csv"))
	require.NoError(t, err)
	require.Equal(t, "o_id\n2\n", string(data))
}

func TestFetchReportResumesAfterCheckpoint(t *testing.T) {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	shop := &fakeShop{report: func(path string, call int) (int, []byte) {
		if path == reportPath(models.ReportOrders, date, 6) {
			return http.StatusOK, []byte("o_id\n6\n")
		}
		return http.StatusNotFound, nil
	}}
	env, _, _ := setup(t, shop)
	require.NoError(t, env.Checkpoints.Save(models.FetchCheckpoint{
		Type: models.ReportOrders, Date: "2024-03-01", PagesProcessed: 5, Version: 7,
	}))

	cp, err := NewOrderWorker(env).FetchReport(context.Background(), date, models.ReportOrders)
	require.NoError(t, err)
	require.Equal(t, 6, cp.PagesProcessed)

	reqs := shop.reportRequests()
	require.Equal(t, reportPath(models.ReportOrders, date, 6), reqs[0])
	for _, r := range reqs {
		for p := 1; p <= 5; p++ {
			require.NotEqual(t, reportPath(models.ReportOrders, date, p), r)
		}
	}
}

func TestFetchReportRestartsOnCorruptCheckpoint(t *testing.T) {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	shop := &fakeShop{report: func(path string, call int) (int, []byte) {
		if path == reportPath(models.ReportOrders, date, 1) {
			return http.StatusOK, []byte("o_id\n1\n")
		}
		return http.StatusNotFound, nil
	}}
	env, _, _ := setup(t, shop)
	require.NoError(t, artifact.WriteFile(
		filepath.Join(env.Layout.DateDir("2024-03-01"), "orders_metadata.json"), []byte(`{"pages_processed": 4,`)))

	cp, err := NewOrderWorker(env).FetchReport(context.Background(), date, models.ReportOrders)
	require.NoError(t, err)
	require.True(t, cp.Completed)
	require.Equal(t, 1, cp.PagesProcessed)
	require.Equal(t, reportPath(models.ReportOrders, date, 1), shop.reportRequests()[0])

	stored, ok, err := env.Checkpoints.Load("2024-03-01", models.ReportOrders)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, stored.PagesProcessed)
}

func TestFetchReportSkipsClientErrorPages(t *testing.T) {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	shop := &fakeShop{report: func(path string, call int) (int, []byte) {
		switch path {
		case reportPath(models.ReportOrderItems, date, 1), reportPath(models.ReportOrderItems, date, 3):
			return http.StatusOK, []byte("oi_id\n1\n")
		case reportPath(models.ReportOrderItems, date, 2):
			return http.StatusForbidden, nil
		}
		return http.StatusNotFound, nil
	}}
	env, _, _ := setup(t, shop)

	cp, err := NewOrderWorker(env).FetchReport(context.Background(), date, models.ReportOrderItems)
	require.NoError(t, err)
	require.Equal(t, 3, cp.PagesProcessed)
	require.Len(t, pageFiles(t, env, "2024-03-01", models.ReportOrderItems), 2)
}

func TestFetchReportRetriesServerErrors(t *testing.T) {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	shop := &fakeShop{report: func(path string, call int) (int, []byte) {
		if path == reportPath(models.ReportOrders, date, 1) {
			if call == 1 {
				return http.StatusServiceUnavailable, nil
			}
			return http.StatusOK, []byte("o_id\n1\n")
		}
		return http.StatusNotFound, nil
	}}
	env, sleeper, _ := setup(t, shop)

	cp, err := NewOrderWorker(env).FetchReport(context.Background(), date, models.ReportOrders)
	require.NoError(t, err)
	require.Equal(t, 1, cp.PagesProcessed)
	require.Equal(t, 1, sleeper.count(30*time.Second))
	require.Len(t, shop.reportRequests(), 3)
}

func TestFetchReportServerFaultEndsSequence(t *testing.T) {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	shop := &fakeShop{report: func(path string, call int) (int, []byte) {
		if path == reportPath(models.ReportOrders, date, 1) {
			return http.StatusOK, []byte("o_id\n1\n")
		}
		return http.StatusInternalServerError, nil
	}}
	env, _, _ := setup(t, shop)

	cp, err := NewOrderWorker(env).FetchReport(context.Background(), date, models.ReportOrders)
	require.NoError(t, err)
	require.True(t, cp.Completed)
	require.Equal(t, 1, cp.PagesProcessed)
	require.Len(t, shop.reportRequests(), 2)
}

func TestFetchReportLatin1Fallback(t *testing.T) {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	shop := &fakeShop{report: func(path string, call int) (int, []byte) {
		if path == reportPath(models.ReportOrders, date, 1) {
			return http.StatusOK, []byte("o_invoice_town\nM\xfcnchen\n")
		}
		return http.StatusNotFound, nil
	}}
	env, _, _ := setup(t, shop)

	cp, err := NewOrderWorker(env).FetchReport(context.Background(), date, models.ReportOrders)
	require.NoError(t, err)
	require.Equal(t, "latin-1", cp.Encoding)

	data, err := os.ReadFile(filepath.Join(env.Layout.DateDir("2024-03-01"), "orders_page_1_latin1.csv"))
	require.NoError(t, err)
	require.Equal(t, "o_invoice_town\nMünchen\n", string(data))
}

func TestFetchReportPageLimit(t *testing.T) {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	shop := &fakeShop{report: func(path string, call int) (int, []byte) {
		return http.StatusOK, []byte("x\n")
	}}
	env, _, _ := setup(t, shop)

	cp, err := NewOrderWorker(env).FetchReport(context.Background(), date, models.ReportOrderItemAmounts)
	require.NoError(t, err)
	require.Equal(t, MaxReportPages, cp.PagesProcessed)
	require.Len(t, shop.reportRequests(), MaxReportPages)
}

func TestFetchDatePausesBetweenTypes(t *testing.T) {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	shop := &fakeShop{}
	env, sleeper, _ := setup(t, shop)

	require.NoError(t, NewOrderWorker(env).FetchDate(context.Background(), date))
	require.Equal(t, 2, sleeper.count(5*time.Second))
	require.True(t, env.Checkpoints.DateCompleted("2024-03-01"))

	reqs := shop.reportRequests()
	require.Equal(t, []string{
		reportPath(models.ReportOrderItems, date, 1),
		reportPath(models.ReportOrders, date, 1),
		reportPath(models.ReportOrderItemAmounts, date, 1),
	}, reqs)
}

// ---------------------------------------------------------------------------
// Date runners
// ---------------------------------------------------------------------------

func TestFetchRecentDays(t *testing.T) {
	shop := &fakeShop{}
	env, sleeper, _ := setup(t, shop)

	res, err := NewRunner(env, NewOrderWorker(env)).FetchRecentDays(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.Fetched)
	require.Len(t, shop.reportRequests(), 6)
	require.Equal(t, 1, sleeper.count(10*time.Second))
	require.True(t, env.Checkpoints.DateCompleted("2024-03-01"))
	require.True(t, env.Checkpoints.DateCompleted("2024-02-29"))
}

func TestFetchHistoricalRecordsProcessedDates(t *testing.T) {
	shop := &fakeShop{}
	env, _, _ := setup(t, shop)
	start := time.Date(2024, time.February, 27, 0, 0, 0, 0, time.UTC)

	res, err := NewRunner(env, NewOrderWorker(env)).FetchHistorical(context.Background(), start)
	require.NoError(t, err)
	require.Equal(t, 4, res.Fetched)

	set, err := env.Checkpoints.LoadProcessed()
	require.NoError(t, err)
	require.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01"}, set.Sorted())
}

func TestFetchHistoricalIsIdempotent(t *testing.T) {
	shop := &fakeShop{}
	env, sleeper, _ := setup(t, shop)
	start := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	// half the range is in the status file, the rest only has completed checkpoints
	set, err := env.Checkpoints.LoadProcessed()
	require.NoError(t, err)
	for d := start; d.Before(testNow.AddDate(0, 0, -1)); d = d.AddDate(0, 0, 1) {
		day := d.Format(time.DateOnly)
		if d.Day()%2 == 0 {
			set.Add(day)
			continue
		}
		for _, rt := range models.ReportTypes {
			require.NoError(t, env.Checkpoints.Save(models.FetchCheckpoint{Type: rt, Date: day, Completed: true}))
		}
	}
	require.NoError(t, env.Checkpoints.SaveProcessed(set))

	res, err := NewRunner(env, NewOrderWorker(env)).FetchHistorical(context.Background(), start)
	require.NoError(t, err)
	require.Zero(t, res.Fetched)
	require.Equal(t, 30, res.Skipped)
	require.Empty(t, shop.reportRequests())
	require.Empty(t, sleeper.waits)

	after, err := env.Checkpoints.LoadProcessed()
	require.NoError(t, err)
	require.Len(t, after, 30)
}

func TestDatesBack(t *testing.T) {
	from := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	got := datesBack(from, time.Date(2024, time.February, 28, 0, 0, 0, 0, time.UTC))
	require.Len(t, got, 3)
	require.Equal(t, "2024-03-01", got[0].Format(time.DateOnly))
	require.Equal(t, "2024-02-28", got[2].Format(time.DateOnly))
	require.Empty(t, datesBack(from, from.AddDate(0, 0, 1)))
}

// ---------------------------------------------------------------------------
// Barcodes
// ---------------------------------------------------------------------------

func groupDefinitions() []models.BarcodeDefinition {
	return []models.BarcodeDefinition{
		{ID: 1, Name: "EAN"},
		{ID: 11, Name: "WG1"},
		{ID: 5, Name: "UPC"},
		{ID: 12, Name: "WG2"},
		{ID: 7, Name: "ISBN"},
	}
}

func TestResolveGroupIDs(t *testing.T) {
	shop := &fakeShop{barcodes: groupDefinitions()}
	env, _, _ := setup(t, shop)

	wg1, wg2, err := NewBarcodeWorker(env, 1).ResolveGroupIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(11), wg1)
	require.Equal(t, int64(12), wg2)
	require.FileExists(t, env.Layout.Path("all_barcodes.json"))

	var byName map[string]int64
	require.NoError(t, artifact.ReadJSON(env.Layout.Path("barcode_map.json"), &byName))
	require.Len(t, byName, 5)
}

func TestResolveGroupIDsMissingWG2(t *testing.T) {
	defs := groupDefinitions()
	shop := &fakeShop{barcodes: defs[:3]}
	env, _, _ := setup(t, shop)

	_, _, err := NewBarcodeWorker(env, 1).ResolveGroupIDs(context.Background())
	require.ErrorIs(t, err, ErrBarcodeGroupMissing)
}

func TestFetchVariationsAcrossWorkers(t *testing.T) {
	shop := &fakeShop{barcodes: groupDefinitions(), lastPage: 5, failPage: map[int]bool{3: true}}
	env, sleeper, _ := setup(t, shop)

	entries, err := NewBarcodeWorker(env, 2).FetchVariations(context.Background(), 11, 12)
	require.NoError(t, err)
	require.Len(t, entries, 8)
	require.Equal(t, 1, sleeper.count(10*time.Second))

	ids := map[int64]models.BarcodeEntry{}
	for _, e := range entries {
		ids[e.VariationID] = e
	}
	require.NotContains(t, ids, int64(31))
	require.Equal(t, "A4", *ids[41].WG1)
	require.Nil(t, ids[41].WG2)
	require.Equal(t, "B5", *ids[52].WG2)
	require.Equal(t, "X", ids[52].AllBarcodes[99])

	require.FileExists(t, env.Layout.Path("variation_barcodes_page_1_full.json"))
	require.FileExists(t, env.Layout.Path("variation_barcodes_page_1.json"))
}

func TestFetchVariationsKeepsBatchesOfWorkersWithinDeadline(t *testing.T) {
	shop := &fakeShop{barcodes: groupDefinitions(), lastPage: 5, slowPage: map[int]bool{3: true}}
	env, _, _ := setup(t, shop)

	w := NewBarcodeWorker(env, 2)
	w.workerTimeout = 300 * time.Millisecond

	start := time.Now()
	entries, err := w.FetchVariations(context.Background(), 11, 12)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 4*time.Second)

	ids := map[int64]bool{}
	for _, e := range entries {
		ids[e.VariationID] = true
	}
	// worker 1 (pages 2-3) hit its deadline, worker 2 (pages 4-5) finished
	require.Len(t, entries, 6)
	require.True(t, ids[11])
	require.True(t, ids[41])
	require.True(t, ids[52])
	require.False(t, ids[21])
}

func TestBarcodeRunWritesSummary(t *testing.T) {
	shop := &fakeShop{barcodes: groupDefinitions(), lastPage: 1}
	env, _, _ := setup(t, shop)

	n, err := NewBarcodeWorker(env, 4).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var summary models.VariationBarcodeSummary
	require.NoError(t, artifact.ReadJSON(env.Layout.Path("all_variation_barcodes.json"), &summary))
	require.Equal(t, 2, summary.TotalCount)
	require.Equal(t, testNow.Format(time.RFC3339), summary.Timestamp)
}

func TestSplitPages(t *testing.T) {
	require.Equal(t, [][2]int{{2, 5}}, splitPages(2, 5, 1))
	require.Equal(t, [][2]int{{2, 4}, {5, 6}, {7, 8}}, splitPages(2, 8, 3))
	require.Equal(t, [][2]int{{2, 2}, {3, 3}}, splitPages(2, 3, 8))
	require.Nil(t, splitPages(2, 1, 2))
}

// ---------------------------------------------------------------------------
// Auth and external CSV
// ---------------------------------------------------------------------------

func TestAuthenticateSavesToken(t *testing.T) {
	env, _, _ := setup(t, &fakeShop{})

	require.NoError(t, Authenticate(context.Background(), env, "api", "secret"))

	var tok models.BearerToken
	require.NoError(t, artifact.ReadJSON(env.Layout.Path("bearer_token.json"), &tok))
	require.Equal(t, "Bearer tok", tok.FullToken)
}

func TestExternalFetch(t *testing.T) {
	shop := &fakeShop{external: []byte("Variation.id;Item.manufacturerName\n1;K\xf6nig\n")}
	env, _, base := setup(t, shop)

	meta, err := NewExternalWorker(env).Fetch(context.Background(), base+"/export.csv")
	require.NoError(t, err)
	require.Equal(t, "latin-1", meta.Encoding)
	require.Equal(t, len(shop.external), meta.SizeBytes)

	data, err := os.ReadFile(env.Layout.Path("external_data.csv"))
	require.NoError(t, err)
	require.Contains(t, string(data), "König")
	require.FileExists(t, env.Layout.Path("external_data_metadata.json"))
}
