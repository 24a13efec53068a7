package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/signalsfoundry/saarathi/model"
)

// Config holds the timing assumptions of the planner.
type Config struct {
	// TrackTraversal is how long a train holds a track.
	TrackTraversal time.Duration
	// DefaultDwell is the platform dwell when no halt duration applies.
	DefaultDwell time.Duration
	// PassThrough is how long a train holds a platform or sideline it only
	// crosses.
	PassThrough time.Duration
	// Horizon bounds how far past the plan reference time trains may start.
	Horizon time.Duration
}

// DefaultConfig returns the timings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TrackTraversal: 3 * time.Minute,
		DefaultDwell:   5 * time.Minute,
		PassThrough:    time.Minute,
		Horizon:        4 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TrackTraversal <= 0 {
		c.TrackTraversal = d.TrackTraversal
	}
	if c.DefaultDwell <= 0 {
		c.DefaultDwell = d.DefaultDwell
	}
	if c.PassThrough <= 0 {
		c.PassThrough = d.PassThrough
	}
	if c.Horizon <= 0 {
		c.Horizon = d.Horizon
	}
	return c
}

// Request is everything one planning run looks at. The planner never
// mutates it.
type Request struct {
	// Station defaults to the topology's station code.
	Station  string
	Topology *model.Topology
	Trains   []model.Train
	Rules    []model.ScenarioRule
	Override ManualOverride
	// Now is the plan reference time. When zero the earliest train ETA is
	// used, so identical inputs always give identical plans.
	Now time.Time
}

// Plan is the output of one planning run.
type Plan struct {
	ID          string                  `json:"id,omitempty"`
	Station     string                  `json:"station"`
	GeneratedAt time.Time               `json:"generated_at"`
	HorizonEnd  time.Time               `json:"horizon_end"`
	Entries     []model.ActionPlanEntry `json:"entries"`
	Violations  []*Error                `json:"violations"`
	Warnings    []string                `json:"warnings"`
}

// EntriesFor returns the entries of one train in plan order.
func (p *Plan) EntriesFor(trainID string) []model.ActionPlanEntry {
	var out []model.ActionPlanEntry
	for _, e := range p.Entries {
		if e.TrainID == trainID {
			out = append(out, e)
		}
	}
	return out
}

// Violation returns the first violation with the given code for a train.
// An empty trainID matches any train.
func (p *Plan) Violation(code Code, trainID string) (*Error, bool) {
	for _, v := range p.Violations {
		if v.Code == code && (trainID == "" || v.TrainID == trainID) {
			return v, true
		}
	}
	return nil, false
}

// Holds counts HOLD entries.
func (p *Plan) Holds() int {
	n := 0
	for _, e := range p.Entries {
		if e.Action == model.ActionHold {
			n++
		}
	}
	return n
}

// Planner is the greedy priority-ordered plan generator. It is stateless
// and safe for concurrent use.
type Planner struct {
	cfg Config
}

// NewPlanner constructs a planner; zero config fields take defaults.
func NewPlanner(cfg Config) *Planner {
	return &Planner{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (p *Planner) Config() Config { return p.cfg }

// trainNotes collects what rules did to one train, for reasoning text.
type trainNotes struct {
	forced      bool
	forcedBy    string
	delay       int
	delayBy     []string
	assigned    string
	rejectedFor string
}

func (n trainNotes) suffix() string {
	var parts []string
	if n.forced {
		parts = append(parts, fmt.Sprintf("Prioritized ahead of all classes (%s).", n.forcedBy))
	}
	if n.delay != 0 {
		parts = append(parts, fmt.Sprintf("Includes %d min added delay (%s).", n.delay, strings.Join(n.delayBy, ", ")))
	}
	if n.assigned != "" {
		parts = append(parts, fmt.Sprintf("Platform %s set by manual override.", n.assigned))
	}
	if n.rejectedFor != "" {
		parts = append(parts, n.rejectedFor)
	}
	return strings.Join(parts, " ")
}

// runState is the mutable state of one planning run.
type runState struct {
	l       *layout
	plan    *Plan
	trains  map[string]*model.Train
	order   []string
	forced  map[string]int
	notes   map[string]*trainNotes
	ledger  ledger
	excused map[string]bool
}

func (rs *runState) note(id string) *trainNotes {
	n, ok := rs.notes[id]
	if !ok {
		n = &trainNotes{}
		rs.notes[id] = n
	}
	return n
}

func (rs *runState) violate(e *Error) {
	rs.plan.Violations = append(rs.plan.Violations, e)
}

// Plan runs the scheduler: apply rules as pre-commitments, order trains by
// (forced priority, class, requested time, id), then place each train's
// movement block at its earliest conflict-free start. Trains standing on a
// platform or sideline are placed before trains entering the layout. The
// finished plan is re-validated before it is returned.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, timeoutError(err)
	}
	l, err := newLayout(req.Topology)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	if req.Station != "" {
		l.station = req.Station
	}
	if len(req.Trains) == 0 {
		return nil, NewError(CodeNoFeasiblePlan, "", l.station, "no live data for %s", l.station)
	}

	now := referenceTime(req)
	plan := &Plan{
		Station:     l.station,
		GeneratedAt: now,
		HorizonEnd:  now.Add(p.cfg.Horizon),
	}
	rs := &runState{
		l:       l,
		plan:    plan,
		trains:  make(map[string]*model.Train, len(req.Trains)),
		forced:  make(map[string]int),
		notes:   make(map[string]*trainNotes),
		ledger:  make(ledger),
		excused: make(map[string]bool),
	}
	for _, t := range req.Trains {
		if _, dup := rs.trains[t.ID]; dup {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("duplicate train %s ignored", t.ID))
			continue
		}
		c := t.Clone()
		rs.trains[t.ID] = &c
		rs.order = append(rs.order, t.ID)
	}

	rs.applyRules(req.Rules, "scenario rule")
	rs.applyRules(req.Override.Rules, "manual override")
	rs.applyAssignments(req.Override.Assignments)
	for _, n := range req.Override.Notes {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("operator note not applied: %q", n))
	}

	requested := make(map[string]time.Time, len(rs.order))
	for _, id := range rs.order {
		requested[id] = requestedTime(*rs.trains[id], now)
	}
	sort.SliceStable(rs.order, func(i, j int) bool {
		a, b := rs.trains[rs.order[i]], rs.trains[rs.order[j]]
		fa, oka := rs.forced[a.ID]
		fb, okb := rs.forced[b.ID]
		switch {
		case oka && !okb:
			return true
		case !oka && okb:
			return false
		case oka && okb && fa != fb:
			return fa < fb
		}
		if a.Priority != b.Priority {
			return a.Priority.Outranks(b.Priority)
		}
		if ra, rb := requested[a.ID], requested[b.ID]; !ra.Equal(rb) {
			return ra.Before(rb)
		}
		return a.ID < b.ID
	})

	var parked, moving []string
	for _, id := range rs.order {
		if _, ok := l.parkedAt(*rs.trains[id]); ok {
			parked = append(parked, id)
		} else {
			moving = append(moving, id)
		}
	}
	if err := p.scheduleParked(ctx, rs, parked, requested); err != nil {
		return nil, err
	}
	for _, id := range moving {
		if err := ctx.Err(); err != nil {
			return nil, timeoutError(err)
		}
		p.schedule(rs, *rs.trains[id], requested[id])
	}

	sort.SliceStable(plan.Entries, func(i, j int) bool {
		a, b := plan.Entries[i], plan.Entries[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.TrainID < b.TrainID
	})

	trains := make([]model.Train, 0, len(rs.order))
	for _, id := range rs.order {
		trains = append(trains, *rs.trains[id])
	}
	v := validate(l, trains, plan.Entries, rs.excused)
	if len(v.Conflicts) > 0 {
		c := v.Conflicts[0]
		return nil, fmt.Errorf("%w: %s and %s overlap on %s at %s", ErrUnsafePlan,
			c.First.TrainID, c.Second.TrainID, c.Resource, model.FormatClock(c.OverlapStart))
	}
	plan.Violations = append(plan.Violations, v.Violations...)
	return plan, nil
}

// schedule places one train. Trains that cannot be routed or placed get a
// violation; trains placed late get a HOLD at their origin first.
func (p *Planner) schedule(rs *runState, t model.Train, requested time.Time) {
	if !p.withinHorizon(rs, t, requested) {
		return
	}
	b, berr := buildBlock(rs.l, t, p.cfg)
	if berr != nil {
		p.reject(rs, t, berr)
		return
	}
	start, ok := rs.ledger.earliestStart(b, requested, rs.plan.HorizonEnd)
	if !ok {
		p.holdToHorizon(rs, t, b, requested)
		return
	}
	p.commit(rs, t, b, requested, start)
}

// scheduleParked places trains standing on a platform or sideline before
// any train enters the layout. Each one holds its node from the reference
// time until its block starts: the node is committed open-ended up front
// and narrowed once a slot is found. A train boxed in by another parked
// train is retried after that one has a slot; trains still without one
// when a pass makes no progress hold until the horizon end.
func (p *Planner) scheduleParked(ctx context.Context, rs *runState, ids []string, requested map[string]time.Time) error {
	now := rs.plan.GeneratedAt
	for _, id := range ids {
		t := *rs.trains[id]
		n, _ := rs.l.parkedAt(t)
		rs.park(n.ID, t, now, openEnd)
	}

	blocks := make(map[string]block, len(ids))
	var pending []string
	for _, id := range ids {
		t := *rs.trains[id]
		if !p.withinHorizon(rs, t, requested[id]) {
			continue
		}
		b, berr := buildBlock(rs.l, t, p.cfg)
		if berr != nil {
			p.reject(rs, t, berr)
			continue
		}
		blocks[id] = b
		pending = append(pending, id)
	}

	for len(pending) > 0 {
		var deferred []string
		for _, id := range pending {
			if err := ctx.Err(); err != nil {
				return timeoutError(err)
			}
			t, b := *rs.trains[id], blocks[id]
			rs.ledger.release(b.origin, id)
			start, ok := rs.ledger.earliestStart(b, requested[id], rs.plan.HorizonEnd)
			if !ok {
				rs.park(b.origin, t, now, openEnd)
				deferred = append(deferred, id)
				continue
			}
			p.commit(rs, t, b, requested[id], start)
			rs.park(b.origin, t, now, start)
		}
		if len(deferred) == len(pending) {
			for _, id := range deferred {
				t, b := *rs.trains[id], blocks[id]
				rs.ledger.release(b.origin, id)
				p.holdToHorizon(rs, t, b, requested[id])
				rs.park(b.origin, t, now, openEnd)
			}
			break
		}
		pending = deferred
	}
	return nil
}

// park commits a standing train to its node over [from, until).
func (rs *runState) park(node string, t model.Train, from, until time.Time) {
	if !from.Before(until) {
		return
	}
	rs.ledger.add(node, blocker{start: from, end: until, trainID: t.ID, priority: t.Priority, parked: true})
}

func (p *Planner) withinHorizon(rs *runState, t model.Train, requested time.Time) bool {
	plan := rs.plan
	if !requested.After(plan.HorizonEnd) {
		return true
	}
	plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s requested at %s, beyond the planning horizon (%s)",
		t.ID, model.FormatClock(requested), model.FormatClock(plan.HorizonEnd)))
	rs.excused[t.ID] = true
	return false
}

func (p *Planner) reject(rs *runState, t model.Train, berr *Error) {
	rs.violate(berr)
	rs.excused[t.ID] = true
	if rs.note(t.ID).forced {
		rs.violate(NewError(CodeOverrideInfeasible, t.ID, berr.Resource,
			"cannot prioritize %s: %s", t.ID, berr.Msg))
	}
}

// holdToHorizon records a train that found no conflict-free slot.
func (p *Planner) holdToHorizon(rs *runState, t model.Train, b block, requested time.Time) {
	plan := rs.plan
	reason := "no conflict-free slot"
	if res, bl, hit := rs.ledger.firstBlocker(b, requested); hit {
		reason = bl.describe(res)
	}
	plan.Entries = append(plan.Entries, model.ActionPlanEntry{
		TrainID:            t.ID,
		Action:             model.ActionHold,
		TargetNode:         b.origin,
		StartTime:          requested,
		EndTime:            plan.HorizonEnd,
		Reasoning:          joinReason(fmt.Sprintf("Hold at %s until the horizon end: %s.", b.origin, reason), rs.note(t.ID).suffix()),
		DelayImpactMinutes: minutes(plan.HorizonEnd.Sub(requested)),
	})
	rs.violate(NewError(CodeNoFeasiblePlan, t.ID, b.origin,
		"no conflict-free slot before %s", model.FormatClock(plan.HorizonEnd)))
	rs.excused[t.ID] = true
}

// commit emits a train's entries for a block starting at start and adds its
// occupations to the ledger.
func (p *Planner) commit(rs *runState, t model.Train, b block, requested, start time.Time) {
	plan := rs.plan
	notes := rs.note(t.ID)
	impact := minutes(start.Sub(requested))
	first := true
	if start.After(requested) {
		reason := "awaiting a conflict-free slot"
		if res, bl, hit := rs.ledger.firstBlocker(b, requested); hit {
			reason = bl.describe(res)
		}
		plan.Entries = append(plan.Entries, model.ActionPlanEntry{
			TrainID:            t.ID,
			Action:             model.ActionHold,
			TargetNode:         b.origin,
			StartTime:          requested,
			EndTime:            start,
			Reasoning:          joinReason(fmt.Sprintf("Hold at %s for %d min: %s.", b.origin, impact, reason), notes.suffix()),
			DelayImpactMinutes: impact,
		})
		first = false
	}

	for _, s := range b.segments {
		reason := s.reason
		if first || s.action == model.ActionAssign {
			reason = joinReason(reason, notes.suffix())
			first = false
		}
		from, to := start.Add(s.offset), start.Add(s.end())
		plan.Entries = append(plan.Entries, model.ActionPlanEntry{
			TrainID:            t.ID,
			Action:             s.action,
			TargetNode:         s.resource,
			StartTime:          from,
			EndTime:            to,
			Reasoning:          reason,
			DelayImpactMinutes: impact,
		})
		rs.ledger.add(s.resource, blocker{start: from, end: to, trainID: t.ID, priority: t.Priority})
	}
}

// applyRules turns scenario rules into pre-commitments. Rules naming unknown
// trains or platforms, or carrying an empty window, are rejected with
// OVERRIDE_INFEASIBLE and otherwise ignored.
func (rs *runState) applyRules(rules []model.ScenarioRule, source string) {
	for _, r := range rules {
		switch r := r.(type) {
		case model.PlatformClosure:
			p, ok := rs.l.resolvePlatform(r.Platform)
			if !ok {
				rs.violate(NewError(CodeOverrideInfeasible, "", r.Platform,
					"%s: platform %s is not part of the %s layout", source, r.Platform, rs.l.station))
				continue
			}
			if n, _ := rs.l.node(p); !n.Kind.Exclusive() {
				rs.violate(NewError(CodeOverrideInfeasible, "", p, "%s: %s is not a platform", source, p))
				continue
			}
			if !r.Start.Before(r.End) {
				rs.violate(NewError(CodeOverrideInfeasible, "", p, "%s: closure window %s-%s is empty",
					source, model.FormatClock(r.Start), model.FormatClock(r.End)))
				continue
			}
			rs.ledger.add(p, blocker{start: r.Start, end: r.End, closure: true, source: source})
		case model.AddDelay:
			t, ok := rs.trains[r.TrainID]
			if !ok {
				rs.violate(NewError(CodeOverrideInfeasible, r.TrainID, "", "%s: train %s is not on the board", source, r.TrainID))
				continue
			}
			if r.DelayMinutes < 0 {
				rs.violate(NewError(CodeOverrideInfeasible, r.TrainID, "", "%s: negative delay %d min", source, r.DelayMinutes))
				continue
			}
			t.DelayMinutes += r.DelayMinutes
			n := rs.note(t.ID)
			n.delay += r.DelayMinutes
			n.delayBy = append(n.delayBy, source)
		case model.PrioritizeTrain:
			if _, ok := rs.trains[r.TrainID]; !ok {
				rs.violate(NewError(CodeOverrideInfeasible, r.TrainID, "", "%s: train %s is not on the board", source, r.TrainID))
				continue
			}
			if _, already := rs.forced[r.TrainID]; already {
				continue
			}
			rs.forced[r.TrainID] = len(rs.forced)
			n := rs.note(r.TrainID)
			n.forced = true
			n.forcedBy = source
		default:
			rs.violate(NewError(CodeOverrideInfeasible, "", "", "%s: unsupported rule %T", source, r))
		}
	}
}

// applyAssignments redirects trains to controller-chosen platforms. The
// first scheduled halt at the station moves when there is one; otherwise
// the destination does. Assignments that break platform fit are rejected
// and the reported platform is kept.
func (rs *runState) applyAssignments(assignments []PlatformAssignment) {
	for _, a := range assignments {
		t, ok := rs.trains[a.TrainID]
		if !ok {
			rs.violate(NewError(CodeOverrideInfeasible, a.TrainID, a.Platform,
				"manual override: train %s is not on the board", a.TrainID))
			continue
		}
		p, ok := rs.l.resolvePlatform(a.Platform)
		n, _ := rs.l.node(p)
		if !ok || !n.IsPlatform() {
			rs.violate(NewError(CodeOverrideInfeasible, t.ID, a.Platform,
				"manual override: %s is not a platform of %s", a.Platform, rs.l.station))
			continue
		}
		if !n.Fits(t.LengthMeters()) {
			rs.violate(NewError(CodeOverrideInfeasible, t.ID, p,
				"manual override ASSIGN %s TO %s rejected: %.0f m train exceeds %.0f m platform", t.ID, p, t.LengthMeters(), n.Length))
			rs.note(t.ID).rejectedFor = fmt.Sprintf("Manual assignment to %s rejected (platform too short).", p)
			continue
		}
		moved := false
		for i, h := range t.ScheduledHalts {
			if h.StationID == "" || strings.EqualFold(h.StationID, rs.l.station) {
				t.ScheduledHalts[i].PlatformID = p
				moved = true
				break
			}
		}
		if !moved {
			t.Destination = p
		}
		rs.note(t.ID).assigned = p
	}
}

// referenceTime is req.Now, or the earliest reported ETA when unset.
func referenceTime(req Request) time.Time {
	if !req.Now.IsZero() {
		return req.Now
	}
	var earliest time.Time
	for _, t := range req.Trains {
		if t.ETA.IsZero() {
			continue
		}
		if earliest.IsZero() || t.ETA.Before(earliest) {
			earliest = t.ETA
		}
	}
	return earliest
}

// requestedTime is ETA plus delay, never earlier than now. A train without
// an ETA wants to move now.
func requestedTime(t model.Train, now time.Time) time.Time {
	if t.ETA.IsZero() {
		return now.Add(time.Duration(t.DelayMinutes) * time.Minute)
	}
	r := t.RequestedAt()
	if r.Before(now) {
		return now
	}
	return r
}

func timeoutError(err error) *Error {
	return &Error{Code: CodePlanTimeout, Msg: "planning run aborted", Err: err}
}

func minutes(d time.Duration) int {
	return int(d.Round(time.Minute) / time.Minute)
}

func joinReason(base, suffix string) string {
	if suffix == "" {
		return base
	}
	return base + " " + suffix
}
