package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.HTTPRequest("GET", "ok")
	r.HTTPRequest("GET", "ok")
	r.ReportPage("orders", "ok")
	r.BarcodeEntries(7)
	r.RowsLoaded("orders", 1000)
	r.CoercionFailure("orders", "o_paid_at")

	require.Equal(t, 2.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("GET", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.reportPages.WithLabelValues("orders", "ok")))
	require.Equal(t, 7.0, testutil.ToFloat64(r.barcodeEntries))
	require.Equal(t, 1000.0, testutil.ToFloat64(r.rowsLoaded.WithLabelValues("orders")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.coercionFailures.WithLabelValues("orders", "o_paid_at")))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.HTTPRequest("GET", "ok")
	r.StageFinished("api_fetch", "success", time.Second)
	require.Nil(t, r.Registry())
	require.NoError(t, r.Push(context.Background(), "http://unused", "job"))
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.RowsLoaded("wg1", 3)
	require.NoError(t, r.Push(context.Background(), srv.URL, "shopetl"))
	require.True(t, strings.HasPrefix(gotPath, "/metrics/job/shopetl"))
	require.NotEmpty(t, gotBody)
}
