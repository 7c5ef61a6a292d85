package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"igrelay/pkg/logger"
)

const namespace = "igrelay"

// Fetch durations range from a cached photo to a long reel
var fetchBuckets = []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60}

// Recorder exposes bot activity as Prometheus metrics on a private registry
type Recorder struct {
	registry *prometheus.Registry

	admissions    *prometheus.CounterVec
	commands      *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	itemsSent     prometheus.Counter
	fetchDuration *prometheus.HistogramVec
	trackedUsers  prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry, including the Go
// runtime and process collectors
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Quota decisions by outcome (admitted, daily_limit, interval, exempt)",
		}, []string{"outcome"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Bot commands received",
		}, []string{"command"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Post deliveries by status",
		}, []string{"status"}),
		itemsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_items_sent_total",
			Help:      "Media items sent to Telegram",
		}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time to resolve and download a post",
			Buckets:   fetchBuckets,
		}, []string{"result"}),
		trackedUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_users",
			Help:      "Users with a quota record",
		}),
	}
}

// ObserveAdmission counts a quota decision
func (r *Recorder) ObserveAdmission(outcome string) {
	r.admissions.WithLabelValues(outcome).Inc()
}

// ObserveCommand counts a bot command
func (r *Recorder) ObserveCommand(command string) {
	r.commands.WithLabelValues(command).Inc()
}

// ObserveFetch records how long resolving and downloading a post took
func (r *Recorder) ObserveFetch(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	r.fetchDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveDelivery counts a finished delivery and the items it sent
func (r *Recorder) ObserveDelivery(status string, items int) {
	r.deliveries.WithLabelValues(status).Inc()
	if items > 0 {
		r.itemsSent.Add(float64(items))
	}
}

// SetTrackedUsers updates the tracked users gauge
func (r *Recorder) SetTrackedUsers(n int) {
	r.trackedUsers.Set(float64(n))
}

// TrackQueue exposes depth as the download queue gauge, sampled on each
// scrape. It must be called at most once per Recorder.
func (r *Recorder) TrackQueue(depth func() int) prometheus.GaugeFunc {
	return promauto.With(r.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "download_queue_depth",
		Help:      "Download jobs waiting for a worker",
	}, func() float64 {
		return float64(depth())
	})
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (r *Recorder) Serve(ctx context.Context, addr string, log logger.Logger) error {
	if log == nil {
		log = logger.GetLogger()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.WithField("address", addr).Info("Metrics listener started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics listener shutdown: %w", err)
		}
		log.Info("Metrics listener stopped")
		return nil
	}
}
