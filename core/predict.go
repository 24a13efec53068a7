package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/saarathi/model"
)

// ConflictType classifies a predicted conflict.
type ConflictType string

const (
	ConflictTrack    ConflictType = "TRACK_CONFLICT"
	ConflictPlatform ConflictType = "PLATFORM_CONFLICT"
	ConflictCapacity ConflictType = "CAPACITY"
	ConflictRouting  ConflictType = "ROUTING"
)

// Severity ranks a predicted conflict.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// PredictedConflict is a conflict that will happen if every train runs at
// its requested time.
type PredictedConflict struct {
	Type        ConflictType `json:"type"`
	Severity    Severity     `json:"severity"`
	Time        time.Time    `json:"time"`
	Resource    string       `json:"resource,omitempty"`
	Trains      []string     `json:"trains"`
	Description string       `json:"description"`
}

// EstimatedArrival is when a train will actually start moving once
// conflicts are resolved.
type EstimatedArrival struct {
	TrainID      string    `json:"train_id"`
	RequestedAt  time.Time `json:"requested_at"`
	NewETA       time.Time `json:"new_eta"`
	DelayMinutes int       `json:"delay_minutes"`
	Reason       string    `json:"reason"`
}

// Prediction is the outcome of a traffic forecast.
type Prediction struct {
	Station           string              `json:"station"`
	GeneratedAt       time.Time           `json:"generated_at"`
	Conflicts         []PredictedConflict `json:"conflicts"`
	EstimatedArrivals []EstimatedArrival  `json:"estimated_arrivals"`
}

const severeOverlap = 10 * time.Minute

// Predict forecasts conflicts by placing every train at its requested time
// with no coordination, then estimates arrivals from a rule-free plan.
// Rules and overrides in req are ignored.
func (p *Planner) Predict(ctx context.Context, req Request) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, timeoutError(err)
	}
	l, err := newLayout(req.Topology)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if req.Station != "" {
		l.station = req.Station
	}
	if len(req.Trains) == 0 {
		return nil, NewError(CodeNoFeasiblePlan, "", l.station, "no live data for %s", l.station)
	}

	now := referenceTime(req)
	pred := &Prediction{Station: l.station, GeneratedAt: now}

	var occs []Occupation
	for _, t := range req.Trains {
		requested := requestedTime(t, now)
		// A train standing on a platform holds it until it moves.
		if n, ok := l.parkedAt(t); ok && now.Before(requested) {
			occs = append(occs, Occupation{Resource: n.ID, Kind: kindOf(n), Start: now, End: requested, TrainID: t.ID, Priority: t.Priority})
		}
		b, berr := buildBlock(l, t, p.cfg)
		if berr != nil {
			pred.Conflicts = append(pred.Conflicts, blockConflict(t, berr, requested))
			continue
		}
		occs = append(occs, b.occupations(requested, t)...)
	}
	for _, c := range DetectConflicts(occs) {
		pred.Conflicts = append(pred.Conflicts, predicted(c))
	}
	sort.SliceStable(pred.Conflicts, func(i, j int) bool {
		return pred.Conflicts[i].Time.Before(pred.Conflicts[j].Time)
	})

	plan, err := p.Plan(ctx, Request{Station: req.Station, Topology: req.Topology, Trains: req.Trains, Now: req.Now})
	if err != nil {
		return nil, err
	}
	for _, t := range req.Trains {
		if a, ok := estimate(plan, t, requestedTime(t, now)); ok {
			pred.EstimatedArrivals = append(pred.EstimatedArrivals, a)
		}
	}
	return pred, nil
}

func blockConflict(t model.Train, e *Error, at time.Time) PredictedConflict {
	typ, sev := ConflictRouting, SeverityMedium
	if e.Code == CodeCapacityViolation {
		typ, sev = ConflictCapacity, SeverityHigh
	}
	return PredictedConflict{
		Type:        typ,
		Severity:    sev,
		Time:        at,
		Resource:    e.Resource,
		Trains:      []string{t.ID},
		Description: fmt.Sprintf("%s: %s", t.ID, e.Msg),
	}
}

func predicted(c Conflict) PredictedConflict {
	typ := ConflictPlatform
	if c.Kind == ResourceTrack {
		typ = ConflictTrack
	}
	sev := SeverityLow
	switch {
	case c.First.Priority == model.PriorityExpress || c.Second.Priority == model.PriorityExpress,
		c.Overlap() >= severeOverlap:
		sev = SeverityHigh
	case c.Overlap() >= 3*time.Minute:
		sev = SeverityMedium
	}
	keeps, yields := c.Trains()
	return PredictedConflict{
		Type:     typ,
		Severity: sev,
		Time:     c.OverlapStart,
		Resource: c.Resource,
		Trains:   []string{keeps, yields},
		Description: fmt.Sprintf("%s and %s both need %s between %s and %s; %s must yield.",
			c.First.TrainID, c.Second.TrainID, c.Resource,
			model.FormatClock(c.OverlapStart), model.FormatClock(c.OverlapEnd), yields),
	}
}

// estimate reads a train's first movement from the plan. Trains the plan
// could not place get no estimate.
func estimate(plan *Plan, t model.Train, requested time.Time) (EstimatedArrival, bool) {
	entries := plan.EntriesFor(t.ID)
	for _, e := range entries {
		if e.Action == model.ActionHold {
			continue
		}
		a := EstimatedArrival{
			TrainID:      t.ID,
			RequestedAt:  requested,
			NewETA:       e.StartTime,
			DelayMinutes: minutes(e.StartTime.Sub(requested)),
		}
		switch {
		case a.DelayMinutes > 0 && len(entries) > 0 && entries[0].Action == model.ActionHold:
			a.Reason = entries[0].Reasoning
		case t.DelayMinutes > 0:
			a.Reason = fmt.Sprintf("Running %d min late; no further conflicts.", t.DelayMinutes)
		default:
			a.Reason = "On schedule; no conflicts."
		}
		return a, true
	}
	return EstimatedArrival{}, false
}
