// Package metrics exposes Prometheus collectors for the batch jobs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "kringlewatch"

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Job runs by job and status",
	}, []string{"job", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Job execution duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"job"})

	lastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful run",
	}, []string{"job"})

	trendBands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trends",
		Name:      "bands_total",
		Help:      "Age bands processed by outcome",
	}, []string{"outcome"})

	trendRows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trends",
		Name:      "snapshot_rows_total",
		Help:      "Trend snapshot rows written",
	})

	monitorItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prices",
		Name:      "items_total",
		Help:      "Bag items processed by outcome",
	}, []string{"outcome"})

	alertsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "generated_total",
		Help:      "Alert events detected by type",
	}, []string{"type"})

	dispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "dispatch_total",
		Help:      "Per-recipient dispatch outcomes",
	}, []string{"outcome"})

	signalsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "signals_total",
		Help:      "Ingested signal messages by outcome",
	}, []string{"outcome"})
)

// RecordJob records one job run.
func RecordJob(job string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
	jobRuns.WithLabelValues(job, status).Inc()
	jobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// RecordBand records an age band outcome and the rows it wrote.
func RecordBand(outcome string, rows int) {
	trendBands.WithLabelValues(outcome).Inc()
	if rows > 0 {
		trendRows.Add(float64(rows))
	}
}

// RecordMonitoredItem records a bag item outcome.
func RecordMonitoredItem(outcome string) {
	monitorItems.WithLabelValues(outcome).Inc()
}

// RecordAlert records a detected alert event.
func RecordAlert(alertType string) {
	alertsGenerated.WithLabelValues(alertType).Inc()
}

// RecordDispatch records a per-recipient dispatch outcome.
func RecordDispatch(outcome string) {
	dispatchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordIngest records an ingest message outcome.
func RecordIngest(outcome string) {
	signalsIngested.WithLabelValues(outcome).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
