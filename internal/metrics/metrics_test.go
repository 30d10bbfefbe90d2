package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesJobMetrics(t *testing.T) {
	RecordJob("compute_trends", time.Now(), nil)
	RecordJob("monitor_prices", time.Now(), errors.New("boom"))
	RecordBand("processed", 3)
	RecordDispatch("sent")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	require.True(t, strings.Contains(text, `kringlewatch_jobs_runs_total{job="compute_trends",status="success"}`))
	require.True(t, strings.Contains(text, `kringlewatch_jobs_runs_total{job="monitor_prices",status="error"}`))
	require.True(t, strings.Contains(text, "kringlewatch_trends_snapshot_rows_total"))
	require.True(t, strings.Contains(text, `kringlewatch_alerts_dispatch_total{outcome="sent"}`))
}
