package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/saarathi/model"
)

// ErrUnsafePlan is returned when a finished plan still has two trains on one
// resource at once. It indicates a planner bug, never bad input.
var ErrUnsafePlan = errors.New("plan failed safety validation")

// openEnd is the end of a commitment whose release time is not known yet.
var openEnd = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// blocker is something already holding a resource: a committed train
// occupation, a train standing on a platform, or a platform closure.
type blocker struct {
	start    time.Time
	end      time.Time
	trainID  string
	priority model.PriorityClass
	closure  bool
	parked   bool
	source   string
}

func (b blocker) describe(resource string) string {
	switch {
	case b.closure:
		return fmt.Sprintf("platform %s closed until %s (%s)", resource, model.FormatClock(b.end), b.source)
	case b.parked && b.end.Equal(openEnd):
		return fmt.Sprintf("%s occupied by %s (%s) with no departure slot", resource, b.trainID, b.priority)
	}
	return fmt.Sprintf("%s occupied by %s (%s) until %s", resource, b.trainID, b.priority, model.FormatClock(b.end))
}

// ledger is the set of resource commitments made so far in a planning run.
type ledger map[string][]blocker

func (lg ledger) add(resource string, b blocker) {
	lg[resource] = append(lg[resource], b)
}

// release drops the parked commitment of trainID on resource.
func (lg ledger) release(resource, trainID string) {
	kept := lg[resource][:0]
	for _, bl := range lg[resource] {
		if bl.parked && bl.trainID == trainID {
			continue
		}
		kept = append(kept, bl)
	}
	lg[resource] = kept
}

// firstBlocker returns the first commitment, in segment order, that the
// block would hit if it started at start.
func (lg ledger) firstBlocker(b block, start time.Time) (string, blocker, bool) {
	for _, s := range b.segments {
		from, to := start.Add(s.offset), start.Add(s.end())
		var hits []blocker
		for _, bl := range lg[s.resource] {
			if from.Before(bl.end) && bl.start.Before(to) {
				hits = append(hits, bl)
			}
		}
		if len(hits) == 0 {
			continue
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].start.Before(hits[j].start) })
		return s.resource, hits[0], true
	}
	return "", blocker{}, false
}

// earliestStart finds the first start >= requested and <= latest at which
// the block overlaps no commitment. Only the requested time and instants
// where some segment would begin exactly as a commitment ends can be
// earliest, so those are the only candidates tried.
func (lg ledger) earliestStart(b block, requested, latest time.Time) (time.Time, bool) {
	candidates := []time.Time{requested}
	for _, s := range b.segments {
		for _, bl := range lg[s.resource] {
			c := bl.end.Add(-s.offset)
			if c.After(requested) && !c.After(latest) {
				candidates = append(candidates, c)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	for i, c := range candidates {
		if i > 0 && c.Equal(candidates[i-1]) {
			continue
		}
		if c.After(latest) {
			break
		}
		if _, _, hit := lg.firstBlocker(b, c); !hit {
			return c, true
		}
	}
	return time.Time{}, false
}

// Validation is the outcome of checking a finished plan against the hard
// constraints.
type Validation struct {
	Conflicts  []Conflict
	Violations []*Error
}

// OK reports whether the plan passed every check.
func (v Validation) OK() bool { return len(v.Conflicts) == 0 && len(v.Violations) == 0 }

// ValidatePlan re-checks a plan: no two trains share a resource at once, no
// train is assigned to a platform it does not fit, and every scheduled halt
// at the station is covered by an ASSIGN of at least its duration.
func ValidatePlan(topo *model.Topology, trains []model.Train, entries []model.ActionPlanEntry) (Validation, error) {
	l, err := newLayout(topo)
	if err != nil {
		return Validation{}, err
	}
	return validate(l, trains, entries, nil), nil
}

// validate skips halt checks for trains listed in excused; those already
// carry a violation explaining why they were not scheduled.
func validate(l *layout, trains []model.Train, entries []model.ActionPlanEntry, excused map[string]bool) Validation {
	byID := make(map[string]model.Train, len(trains))
	for _, t := range trains {
		byID[t.ID] = t
	}

	var v Validation
	v.Conflicts = DetectConflicts(entryOccupations(l, entries, byID))

	for _, e := range entries {
		if e.Action != model.ActionAssign {
			continue
		}
		n, ok := l.node(e.TargetNode)
		if !ok {
			continue
		}
		if t, ok := byID[e.TrainID]; ok && !n.Fits(t.LengthMeters()) {
			v.Violations = append(v.Violations, NewError(CodeCapacityViolation, t.ID, n.ID,
				"%d coaches (%.0f m) assigned to platform %s (%.0f m)", t.LengthCoaches, t.LengthMeters(), n.ID, n.Length))
		}
	}

	for _, t := range trains {
		if excused[t.ID] {
			continue
		}
		for _, h := range t.HaltsAt(l.station) {
			p, ok := l.resolvePlatform(h.PlatformID)
			if !ok {
				p = h.PlatformID
			}
			if !haltCovered(entries, t.ID, p, h.Duration()) {
				v.Violations = append(v.Violations, NewError(CodeHaltNotSatisfied, t.ID, p,
					"no ASSIGN of at least %d min at %s", h.DurationMinutes, p))
			}
		}
	}
	return v
}

func haltCovered(entries []model.ActionPlanEntry, trainID, platform string, d time.Duration) bool {
	for _, e := range entries {
		if e.TrainID == trainID && e.Action == model.ActionAssign && e.TargetNode == platform && e.Duration() >= d {
			return true
		}
	}
	return false
}

// entryOccupations turns entries on exclusive resources into occupations.
// A HOLD on a platform or sideline occupies it; holds at entries and yards
// occupy nothing.
func entryOccupations(l *layout, entries []model.ActionPlanEntry, trains map[string]model.Train) []Occupation {
	out := make([]Occupation, 0, len(entries))
	for _, e := range entries {
		var kind ResourceKind
		if _, ok := l.tracks[e.TargetNode]; ok {
			kind = ResourceTrack
		} else if n, ok := l.node(e.TargetNode); ok && n.Kind.Exclusive() {
			kind = kindOf(n)
		} else {
			continue
		}
		out = append(out, Occupation{
			Resource: e.TargetNode,
			Kind:     kind,
			Start:    e.StartTime,
			End:      e.EndTime,
			TrainID:  e.TrainID,
			Priority: trains[e.TrainID].Priority,
		})
	}
	return out
}
