// Package telemetry exports metric values, losses and metric failures to
// Prometheus.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xrseg/internal/logger"
)

const namespace = "xrseg"

type Collector struct {
	MetricValue  *prometheus.GaugeVec
	Loss         prometheus.Histogram
	MetricErrors *prometheus.CounterVec
	Evaluations  *prometheus.CounterVec
}

// NewCollector builds the collectors and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		MetricValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "metric_value",
				Help:      "Latest value of each evaluation metric per run.",
			}, []string{"run", "metric"}),
		Loss: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loss",
				Help:      "DiceBCE loss per training step.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			}),
		MetricErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_errors_total",
				Help:      "Metric evaluations that failed.",
			}, []string{"metric"}),
		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Completed metric suite evaluations per run.",
			}, []string{"run"}),
	}

	for _, col := range []prometheus.Collector{c.MetricValue, c.Loss, c.MetricErrors, c.Evaluations} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ForRun returns an observer that labels everything with run.
func (c *Collector) ForRun(run string) *RunObserver {
	return &RunObserver{collector: c, run: run}
}

// RunObserver feeds one run's harness output into the collector.
type RunObserver struct {
	collector *Collector
	run       string
}

func (o *RunObserver) ObserveLoss(value float64) {
	o.collector.Loss.Observe(value)
}

func (o *RunObserver) ObserveMetrics(results map[string]float64) {
	for name, v := range results {
		o.collector.MetricValue.WithLabelValues(o.run, name).Set(v)
	}
	o.collector.Evaluations.WithLabelValues(o.run).Inc()
}

func (o *RunObserver) ObserveMetricError(key string) {
	o.collector.MetricErrors.WithLabelValues(key).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on ln until ctx is done, then shuts the server down
// gracefully. The listener is closed on return.
func Serve(ctx context.Context, ln net.Listener, g prometheus.Gatherer, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Telemetry", "serving metrics", map[string]interface{}{"addr": ln.Addr().String()})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
