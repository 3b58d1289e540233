package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	forecastFetches *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	forecastMean    *prometheus.GaugeVec
	forecastStd     *prometheus.GaugeVec
	observedHigh    *prometheus.GaugeVec
	signalsTotal    *prometheus.CounterVec
	edgeDetected    *prometheus.HistogramVec
	messagesSent    *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		forecastFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wxedge_forecast_fetches_total",
				Help: "Total number of forecast fetches per source",
			},
			[]string{"source", "city"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wxedge_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		forecastMean: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wxedge_forecast_mean_f",
				Help: "Combined forecast mean high in Fahrenheit",
			},
			[]string{"city"},
		),
		forecastStd: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wxedge_forecast_std_f",
				Help: "Combined forecast standard deviation in Fahrenheit",
			},
			[]string{"city"},
		),
		observedHigh: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wxedge_observed_high_f",
				Help: "Observed high so far today in Fahrenheit",
			},
			[]string{"city"},
		),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wxedge_signals_total",
				Help: "Total number of trade signals detected",
			},
			[]string{"city", "side"},
		),
		edgeDetected: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wxedge_signal_edge",
				Help:    "Edge of detected signals after fees",
				Buckets: []float64{0.05, 0.08, 0.12, 0.16, 0.20, 0.30, 0.50},
			},
			[]string{"city"},
		),
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wxedge_messages_sent_total",
				Help: "Total number of records written to a backend",
			},
			[]string{"backend", "city"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wxedge_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordForecastFetch records a successful forecast fetch from a source.
func (r *Recorder) RecordForecastFetch(source, city string) {
	r.forecastFetches.WithLabelValues(source, city).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordForecast records the combined forecast distribution for a city.
func (r *Recorder) RecordForecast(city string, mean, std float64) {
	r.forecastMean.WithLabelValues(city).Set(mean)
	r.forecastStd.WithLabelValues(city).Set(std)
}

// RecordObservedHigh records the running observed high for a city.
func (r *Recorder) RecordObservedHigh(city string, highF float64) {
	r.observedHigh.WithLabelValues(city).Set(highF)
}

// RecordSignal records a detected trade signal and its edge.
func (r *Recorder) RecordSignal(city, side string, edge float64) {
	r.signalsTotal.WithLabelValues(city, side).Inc()
	r.edgeDetected.WithLabelValues(city).Observe(edge)
}

// RecordMessageSent records a record written to a storage or bus backend.
func (r *Recorder) RecordMessageSent(backend, city string) {
	r.messagesSent.WithLabelValues(backend, city).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
