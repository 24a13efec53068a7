package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PlannerCollector exposes planning and live feed metrics.
type PlannerCollector struct {
	gatherer prometheus.Gatherer

	PlanRuns          *prometheus.CounterVec
	PlanDuration      prometheus.Histogram
	ConflictsDetected prometheus.Counter
	HoldsIssued       prometheus.Counter
	Violations        *prometheus.CounterVec
	FeedRefreshes     *prometheus.CounterVec
	FeedDegraded      prometheus.Gauge
	FeedLastSuccess   prometheus.Gauge
}

// NewPlannerCollector registers planner metrics against reg.
func NewPlannerCollector(reg prometheus.Registerer) (*PlannerCollector, error) {
	reg, gatherer := registryPair(reg)
	c := &PlannerCollector{gatherer: gatherer}
	var err error

	if c.PlanRuns, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_runs_total",
		Help: "Planning and prediction runs, labeled by kind and outcome.",
	}, []string{"kind", "outcome"}), "planner_runs_total"); err != nil {
		return nil, err
	}
	if c.PlanDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_run_duration_seconds",
		Help:    "Wall-clock duration of planning runs.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "planner_run_duration_seconds"); err != nil {
		return nil, err
	}
	if c.ConflictsDetected, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_conflicts_predicted_total",
		Help: "Conflicts found by prediction runs.",
	}), "planner_conflicts_predicted_total"); err != nil {
		return nil, err
	}
	if c.HoldsIssued, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_holds_total",
		Help: "HOLD entries issued in generated plans.",
	}), "planner_holds_total"); err != nil {
		return nil, err
	}
	if c.Violations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_violations_total",
		Help: "Violations reported in generated plans, labeled by error code.",
	}, []string{"code"}), "planner_violations_total"); err != nil {
		return nil, err
	}
	if c.FeedRefreshes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_refreshes_total",
		Help: "Live board refreshes, labeled by source and outcome.",
	}, []string{"source", "outcome"}), "feed_refreshes_total"); err != nil {
		return nil, err
	}
	if c.FeedDegraded, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feed_degraded",
		Help: "1 when the live board is serving a stale snapshot after a failed refresh.",
	}), "feed_degraded"); err != nil {
		return nil, err
	}
	if c.FeedLastSuccess, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feed_last_success_timestamp_seconds",
		Help: "Unix time of the last successful live board refresh.",
	}), "feed_last_success_timestamp_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PlannerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePlan records one planning run.
func (c *PlannerCollector) ObservePlan(outcome string, d time.Duration, holds int, violationCodes []string) {
	if c == nil {
		return
	}
	c.PlanRuns.WithLabelValues("plan", outcome).Inc()
	c.PlanDuration.Observe(d.Seconds())
	c.HoldsIssued.Add(float64(holds))
	for _, code := range violationCodes {
		c.Violations.WithLabelValues(code).Inc()
	}
}

// ObservePrediction records one prediction run.
func (c *PlannerCollector) ObservePrediction(outcome string, conflicts int) {
	if c == nil {
		return
	}
	c.PlanRuns.WithLabelValues("predict", outcome).Inc()
	c.ConflictsDetected.Add(float64(conflicts))
}

// ObserveFeedRefresh records a live board refresh attempt.
func (c *PlannerCollector) ObserveFeedRefresh(source string, err error, at time.Time) {
	if c == nil {
		return
	}
	if err != nil {
		c.FeedRefreshes.WithLabelValues(source, "error").Inc()
		c.FeedDegraded.Set(1)
		return
	}
	c.FeedRefreshes.WithLabelValues(source, "ok").Inc()
	c.FeedDegraded.Set(0)
	c.FeedLastSuccess.Set(float64(at.Unix()))
}
