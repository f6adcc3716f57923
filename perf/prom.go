package perf

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ripd"

var (
	RouteEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_events_total",
		Help:      "Counter of routing table events by kind.",
	}, []string{"event"})

	Packets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_total",
		Help:      "Counter of rip packets by direction and command.",
	}, []string{"direction", "command"})

	Routes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "routes",
		Help:      "Number of entries in the routing table, including invalid ones.",
	})

	HandleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handle_duration_seconds",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		Help:      "Histogram of the time each inbound packet took to process.",
	})

	Registry = prometheus.NewRegistry()
)

func init() {
	Registry.MustRegister(RouteEvents, Packets, Routes, HandleDuration)
}

// Serve exposes /metrics and /debug/metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/", http.DefaultServeMux)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
