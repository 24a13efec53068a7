// Package planning runs the planner against the live station state. It
// owns the request lifecycle around a run: snapshotting, the wall-clock
// budget, last-request-wins supersession, audit, metrics and publication
// of accepted plans.
package planning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/audit"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/observability"
	"github.com/signalsfoundry/saarathi/internal/state"
	"github.com/signalsfoundry/saarathi/model"
)

// DefaultTimeout bounds one planning run.
const DefaultTimeout = 30 * time.Second

var (
	// ErrSuperseded is returned when a newer planning request started
	// before this one finished. The result is discarded.
	ErrSuperseded = errors.New("planning request superseded by a newer request")
	// ErrPlanNotFound is returned when approving a plan that is not the
	// last accepted one.
	ErrPlanNotFound = errors.New("plan not found")
)

// Engine computes plans and predictions. *core.Planner is the production
// engine.
type Engine interface {
	Plan(ctx context.Context, req core.Request) (*core.Plan, error)
	Predict(ctx context.Context, req core.Request) (*core.Prediction, error)
}

// Request is one planning or prediction request. Topology and Trains
// default to the active station's layout and live board. Rules are applied
// after the station's stored rules.
type Request struct {
	Topology     *model.Topology
	Trains       []model.Train
	Rules        []model.ScenarioRule
	OverrideText string
}

// Service serialises planning requests against a StationState.
type Service struct {
	state   *state.StationState
	engine  Engine
	timeout time.Duration

	metrics *observability.PlannerCollector
	audit   *audit.Log
	log     logging.Logger
	now     func() time.Time
	onPlan  []func(context.Context, *core.Plan)

	generation atomic.Uint64
	// commitMu makes the generation check, the store and publication of a
	// result one step.
	commitMu    sync.Mutex
	beforeStore func()
}

// Option customises a Service.
type Option func(*Service)

// WithTimeout sets the per-run wall-clock budget.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics records run outcomes.
func WithMetrics(m *observability.PlannerCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit writes the run narrative to the audit log.
func WithAudit(a *audit.Log) Option {
	return func(s *Service) { s.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = logging.OrNoop(l) }
}

// WithClock sets the reference time source for runs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// OnPlan registers a callback run for every accepted plan.
func OnPlan(fn func(context.Context, *core.Plan)) Option {
	return func(s *Service) {
		if fn != nil {
			s.onPlan = append(s.onPlan, fn)
		}
	}
}

// NewService builds a service. A nil engine uses a default core.Planner.
func NewService(st *state.StationState, engine Engine, opts ...Option) *Service {
	if engine == nil {
		engine = core.NewPlanner(core.DefaultConfig())
	}
	s := &Service{
		state:   st,
		engine:  engine,
		timeout: DefaultTimeout,
		log:     logging.Noop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Plan runs the planner on a snapshot of the station state. The accepted
// plan is stored as the station's last plan and published. A run that a
// newer Plan call overtakes returns ErrSuperseded.
func (s *Service) Plan(ctx context.Context, req Request) (*core.Plan, error) {
	gen := s.generation.Add(1)

	snap, err := s.state.Snapshot()
	if err != nil {
		return nil, err
	}
	station := snap.Station.Code
	creq := s.coreRequest(snap, req, true)

	s.audit.Record(ctx, audit.ActorSystem, station, "Optimization requested for %d trains", len(creq.Trains))
	s.audit.Record(ctx, audit.ActorPlanner, station, "Analyzing %d trains and %d platforms", len(creq.Trains), len(creq.Topology.Platforms()))

	ctx, span := observability.StartSpan(ctx, "planning.plan", station,
		attribute.Int("trains", len(creq.Trains)),
		attribute.Int("rules", len(creq.Rules)),
	)
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	plan, err := s.engine.Plan(runCtx, creq)
	elapsed := time.Since(start)
	if err == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = &core.Error{Code: core.CodePlanTimeout, Resource: station, Msg: "planning budget exceeded", Err: runCtx.Err()}
	}
	if gen != s.generation.Load() {
		return nil, s.discard(ctx, span, station, gen, elapsed)
	}
	if err != nil {
		observability.EndSpan(span, err)
		s.metrics.ObservePlan(outcome(err), elapsed, 0, codesOf(err))
		s.audit.Record(ctx, audit.ActorPlanner, station, "Planning failed: %v", err)
		s.log.Warn(ctx, "planning run failed",
			logging.String("station", station),
			logging.Duration("elapsed", elapsed),
			logging.Err(err),
		)
		return nil, err
	}

	if snap.Board.Degraded && req.Trains == nil {
		msg := "live data degraded"
		if snap.Board.LastError != "" {
			msg += ": " + snap.Board.LastError
		}
		plan.Warnings = append([]string{msg}, plan.Warnings...)
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if gen != s.generation.Load() {
		return nil, s.discard(ctx, span, station, gen, elapsed)
	}
	plan.ID = uuid.NewString()
	if s.beforeStore != nil {
		s.beforeStore()
	}
	if err := s.state.SetLastPlan(plan); err != nil {
		// The station changed under the run.
		observability.EndSpan(span, err)
		return nil, fmt.Errorf("store plan: %w", err)
	}

	codes := make([]string, 0, len(plan.Violations))
	for _, v := range plan.Violations {
		codes = append(codes, string(v.Code))
	}
	s.metrics.ObservePlan(planOutcome(plan), elapsed, plan.Holds(), codes)
	span.SetAttributes(
		attribute.String("plan.id", plan.ID),
		attribute.Int("plan.entries", len(plan.Entries)),
		attribute.Int("plan.violations", len(plan.Violations)),
	)
	observability.EndSpan(span, nil)

	if len(plan.Violations) == 0 {
		s.audit.Record(ctx, audit.ActorSafetyShield, station, "Safety check passed: no conflicting occupations in %d entries", len(plan.Entries))
		s.audit.Record(ctx, audit.ActorPlanner, station, "Generated conflict-free plan for %d trains", len(creq.Trains))
	} else {
		s.audit.Record(ctx, audit.ActorSafetyShield, station, "Safety check passed with %d constraint violations reported", len(plan.Violations))
		s.audit.Record(ctx, audit.ActorPlanner, station, "Generated plan for %d trains with %d violations", len(creq.Trains), len(plan.Violations))
	}
	s.log.Info(ctx, "plan generated",
		logging.String("station", station),
		logging.String("plan_id", plan.ID),
		logging.Int("entries", len(plan.Entries)),
		logging.Int("holds", plan.Holds()),
		logging.Int("violations", len(plan.Violations)),
		logging.Duration("elapsed", elapsed),
	)
	for _, fn := range s.onPlan {
		fn(ctx, plan)
	}
	return plan, nil
}

// discard drops the result of a run that a newer request overtook.
func (s *Service) discard(ctx context.Context, span trace.Span, station string, gen uint64, elapsed time.Duration) error {
	observability.EndSpan(span, ErrSuperseded)
	s.metrics.ObservePlan("superseded", elapsed, 0, nil)
	s.log.Info(ctx, "planning result discarded", logging.String("station", station), logging.Int("generation", int(gen)))
	return ErrSuperseded
}

// Predict forecasts conflicts on the live board. Predictions do not take
// part in supersession and are never stored.
func (s *Service) Predict(ctx context.Context, req Request) (*core.Prediction, error) {
	snap, err := s.state.Snapshot()
	if err != nil {
		return nil, err
	}
	station := snap.Station.Code
	creq := s.coreRequest(snap, req, false)

	ctx, span := observability.StartSpan(ctx, "planning.predict", station, attribute.Int("trains", len(creq.Trains)))
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.audit.Record(ctx, audit.ActorSystem, station, "Conflict prediction requested for %d trains", len(creq.Trains))
	pred, err := s.engine.Predict(runCtx, creq)
	if err != nil {
		observability.EndSpan(span, err)
		s.metrics.ObservePrediction(outcome(err), 0)
		return nil, err
	}
	observability.EndSpan(span, nil)
	s.metrics.ObservePrediction("ok", len(pred.Conflicts))
	s.audit.Record(ctx, audit.ActorPlanner, station, "Predicted %d conflicts", len(pred.Conflicts))
	return pred, nil
}

// Approve records the controller's approval of one train's entries in the
// last accepted plan.
func (s *Service) Approve(ctx context.Context, planID, trainID string) error {
	plan, ok := s.state.LastPlan()
	if !ok || plan.ID != planID {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if len(plan.EntriesFor(trainID)) == 0 {
		return fmt.Errorf("%w: plan %s has no entries for train %s", ErrPlanNotFound, planID, trainID)
	}
	s.audit.Record(ctx, audit.ActorController, plan.Station, "Plan for %s approved and executed", trainID)
	return nil
}

func (s *Service) coreRequest(snap *state.Snapshot, req Request, withRules bool) core.Request {
	now := s.now()
	creq := core.Request{
		Station:  snap.Station.Code,
		Topology: snap.Topology,
		Trains:   snap.Board.Trains,
		Now:      now,
	}
	if req.Topology != nil {
		creq.Topology = req.Topology
	}
	if req.Trains != nil {
		creq.Trains = req.Trains
	}
	if withRules {
		creq.Rules = append(snap.RuleList(), req.Rules...)
		creq.Override = core.ParseManualOverride(req.OverrideText, now)
	}
	return creq
}

func outcome(err error) string {
	switch core.CodeOf(err) {
	case core.CodePlanTimeout:
		return "timeout"
	case core.CodeNoFeasiblePlan:
		return "infeasible"
	case "":
		return "error"
	default:
		return "violations"
	}
}

func planOutcome(p *core.Plan) string {
	if _, ok := p.Violation(core.CodeNoFeasiblePlan, ""); ok {
		return "infeasible"
	}
	if len(p.Violations) > 0 {
		return "violations"
	}
	return "ok"
}

func codesOf(err error) []string {
	if c := core.CodeOf(err); c != "" {
		return []string{string(c)}
	}
	return nil
}
