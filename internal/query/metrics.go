package query

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query outcomes used as the "outcome" label.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the query client's Prometheus collectors.
// A nil *Metrics records nothing.
type Metrics struct {
	// QueriesTotal counts queries by operation and outcome.
	QueriesTotal *prometheus.CounterVec

	// QueryDuration tracks end-to-end query latency, body included.
	QueryDuration *prometheus.HistogramVec

	// RecordsDecoded counts records handed to consumers.
	RecordsDecoded prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxquery_queries_total",
				Help: "Total number of Flux queries by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxquery_query_duration_seconds",
				Help:    "Duration of Flux queries in seconds, including response decoding",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		RecordsDecoded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxquery_records_decoded_total",
				Help: "Total number of records decoded from query responses",
			},
		),
	}
}

// observe records one finished query.
func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(operation, outcome(err)).Inc()
	m.QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) addRecords(n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsDecoded.Add(float64(n))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
