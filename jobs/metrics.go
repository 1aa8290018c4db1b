package jobs

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes job and view counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	records     *prometheus.CounterVec
	views       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "countdown_job_runs_total",
				Help: "Background job runs by outcome.",
			},
			[]string{"job", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "countdown_job_duration_seconds",
				Help:    "Background job run duration.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"job"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "countdown_job_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run.",
			},
			[]string{"job"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "countdown_job_records_total",
				Help: "Records processed by background jobs by outcome.",
			},
			[]string{"job", "outcome"},
		),
		views: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "countdown_views_recorded_total",
				Help: "View requests, split by whether they were counted.",
			},
			[]string{"counted"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.records, m.views)
	}
	return m
}

// ObserveRun records one finished run of job.
func (m *Metrics) ObserveRun(job string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	if err == nil {
		m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// AddRecords adds n to the record counter of job and outcome.
func (m *Metrics) AddRecords(job, outcome string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(job, outcome).Add(float64(n))
}

// ViewRecorded counts one view request.
func (m *Metrics) ViewRecorded(counted bool) {
	if m == nil {
		return
	}
	m.views.WithLabelValues(strconv.FormatBool(counted)).Inc()
}
