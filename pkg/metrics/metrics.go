// Package metrics exposes the Prometheus metrics of the routing service on a
// private registry.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"
)

// Search outcomes.
const (
	OutcomeFound   = "found"
	OutcomeNoPath  = "no_path"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Collector holds every metric. A nil *Collector records nothing.
type Collector struct {
	reg *prometheus.Registry

	Searches       *prometheus.CounterVec   // kind, outcome
	SearchDuration *prometheus.HistogramVec // kind
	Expansions     *prometheus.HistogramVec // kind
	DepartureDelay prometheus.Histogram

	HTTPRequests *prometheus.CounterVec // route, code
	HTTPDuration *prometheus.HistogramVec

	WorkerMessages *prometheus.CounterVec // type, status
	NATSConnected  prometheus.Gauge

	Routes       prometheus.Gauge
	Tracks       prometheus.Gauge
	Reservations prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		Searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rail_router_searches_total",
			Help: "Searches run, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rail_router_search_duration_seconds",
			Help:    "Wall time of a search.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"kind"}),
		Expansions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rail_router_search_expansions",
			Help:    "States expanded by a successful search.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		}, []string{"kind"}),
		DepartureDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rail_router_stdcm_departure_delay_seconds",
			Help:    "Departure shift of scheduled trains.",
			Buckets: []float64{0, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rail_router_http_requests_total",
			Help: "HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rail_router_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"route"}),
		WorkerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rail_router_worker_messages_total",
			Help: "Queue messages handled, by request type and status.",
		}, []string{"type", "status"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rail_router_nats_connected",
			Help: "1 if the NATS connection is established, 0 otherwise.",
		}),
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rail_router_infra_routes",
			Help: "Routes of the loaded infrastructure.",
		}),
		Tracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rail_router_infra_tracks",
			Help: "Track sections of the loaded infrastructure.",
		}),
		Reservations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rail_router_occupancy_intervals",
			Help: "Reserved block intervals of the loaded occupancy.",
		}),
	}
	reg.MustRegister(
		c.Searches, c.SearchDuration, c.Expansions, c.DepartureDelay,
		c.HTTPRequests, c.HTTPDuration,
		c.WorkerMessages, c.NATSConnected,
		c.Routes, c.Tracks, c.Reservations,
	)
	return c
}

// ObserveSearch records one search of kind ("routes" or "stdcm").
func (c *Collector) ObserveSearch(kind, outcome string, d time.Duration, expanded int) {
	if c == nil {
		return
	}
	c.Searches.WithLabelValues(kind, outcome).Inc()
	c.SearchDuration.WithLabelValues(kind).Observe(d.Seconds())
	if outcome == OutcomeFound {
		c.Expansions.WithLabelValues(kind).Observe(float64(expanded))
	}
}

// ObserveDepartureDelay records the departure shift of a STDCM result.
func (c *Collector) ObserveDepartureDelay(seconds float64) {
	if c == nil {
		return
	}
	c.DepartureDelay.Observe(seconds)
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveMessage records one worker message.
func (c *Collector) ObserveMessage(typ, status string) {
	if c == nil {
		return
	}
	c.WorkerMessages.WithLabelValues(typ, status).Inc()
}

// SetNATSConnected tracks the NATS connection state.
func (c *Collector) SetNATSConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// SetDataset records the size of the loaded data.
func (c *Collector) SetDataset(routes, tracks, reservations int) {
	if c == nil {
		return
	}
	c.Routes.Set(float64(routes))
	c.Tracks.Set(float64(tracks))
	c.Reservations.Set(float64(reservations))
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on addr.
func (c *Collector) Serve(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "err", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
	return srv
}
