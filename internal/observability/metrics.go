package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RPCCollector bundles Prometheus metrics for the gRPC and HTTP surfaces and
// the station state gauges.
type RPCCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	StationNodes     prometheus.Gauge
	StationPlatforms prometheus.Gauge
	StationTracks    prometheus.Gauge
	TrainsOnBoard    prometheus.Gauge
	ScenarioRules    prometheus.Gauge
}

// NewRPCCollector registers the metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewRPCCollector(reg prometheus.Registerer) (*RPCCollector, error) {
	reg, gatherer := registryPair(reg)

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saarathi_requests_total",
		Help: "Total number of handled requests, labeled by service, method, and status code.",
	}, []string{"service", "method", "code"}), "saarathi_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saarathi_request_duration_seconds",
		Help:    "Request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "saarathi_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	gauges := map[string]string{
		"station_nodes":     "Nodes in the active station layout.",
		"station_platforms": "Platforms in the active station layout.",
		"station_tracks":    "Tracks in the active station layout.",
		"trains_on_board":   "Trains on the current live board.",
		"scenario_rules":    "Active scenario rules.",
	}
	registered := make(map[string]prometheus.Gauge, len(gauges))
	for name, help := range gauges {
		g, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}), name)
		if err != nil {
			return nil, err
		}
		registered[name] = g
	}

	return &RPCCollector{
		gatherer:         gatherer,
		RPCRequests:      requests,
		RPCDurations:     durations,
		StationNodes:     registered["station_nodes"],
		StationPlatforms: registered["station_platforms"],
		StationTracks:    registered["station_tracks"],
		TrainsOnBoard:    registered["trains_on_board"],
		ScenarioRules:    registered["scenario_rules"],
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *RPCCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.Observe(service, method, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// Observe records one handled request. The HTTP router calls it with the
// route pattern as method and the HTTP status as code.
func (c *RPCCollector) Observe(service, method, code string, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(service, method, code).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(service, method).Observe(elapsed.Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RPCCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetStationCounts lets the station state drive the gauges from its
// mutators.
func (c *RPCCollector) SetStationCounts(nodes, platforms, tracks, trains, rules int) {
	if c == nil {
		return
	}
	set := func(g prometheus.Gauge, v int) {
		if g != nil {
			g.Set(float64(v))
		}
	}
	set(c.StationNodes, nodes)
	set(c.StationPlatforms, platforms)
	set(c.StationTracks, tracks)
	set(c.TrainsOnBoard, trains)
	set(c.ScenarioRules, rules)
}

// SplitMethod parses a fully-qualified gRPC method name into service and
// method components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registryPair(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	return reg, gatherer
}

// register adds c to reg. A collector already registered under the same
// descriptor is reused so that several components can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
