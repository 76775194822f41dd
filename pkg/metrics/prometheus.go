package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
)

const namespace = "fiapml"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	rowsFetched  *prometheus.CounterVec
	rowsWritten  *prometheus.CounterVec
	partitions   *prometheus.CounterVec
	corruptFiles *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	trainAcc     *prometheus.GaugeVec
	trainF1      *prometheus.GaugeVec
	predictions  *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		rowsFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_fetched_total",
				Help:      "Candles fetched from the market data provider",
			},
			[]string{"interval", "symbol"},
		),
		rowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_written_total",
				Help:      "Candles written to partitions",
			},
			[]string{"interval", "symbol"},
		),
		partitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_written_total",
				Help:      "Partition files written",
			},
			[]string{"interval"},
		),
		corruptFiles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corrupt_partition_files_total",
				Help:      "Partition files that could not be decoded",
			},
			[]string{"interval"},
		),
		skipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_total",
				Help:      "Units of work skipped by stage and reason",
			},
			[]string{"stage", "reason"},
		),
		trainAcc: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_accuracy",
				Help:      "Holdout accuracy of the last trained model",
			},
			[]string{"symbol"},
		),
		trainF1: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_f1",
				Help:      "Holdout F1 of the last trained model",
			},
			[]string{"symbol"},
		),
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_total",
				Help:      "Predictions served by signal",
			},
			[]string{"signal"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordFetched(interval models.Interval, symbol string, rows int) {
	r.rowsFetched.WithLabelValues(string(interval), symbol).Add(float64(rows))
}

// RecordWritten counts the rows and the partition file they went to.
func (r *Recorder) RecordWritten(interval models.Interval, symbol string, rows int) {
	r.rowsWritten.WithLabelValues(string(interval), symbol).Add(float64(rows))
	r.partitions.WithLabelValues(string(interval)).Inc()
}

func (r *Recorder) RecordCorruptFile(interval models.Interval) {
	r.corruptFiles.WithLabelValues(string(interval)).Inc()
}

func (r *Recorder) RecordSkipped(stage, reason string) {
	r.skipped.WithLabelValues(stage, reason).Inc()
}

func (r *Recorder) RecordTraining(symbol string, m models.Metrics) {
	r.trainAcc.WithLabelValues(symbol).Set(m.Accuracy)
	r.trainF1.WithLabelValues(symbol).Set(m.F1)
}

func (r *Recorder) RecordPrediction(signal models.Signal) {
	r.predictions.WithLabelValues(string(signal)).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
