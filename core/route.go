package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/saarathi/model"
)

// segment is one piece of a train's rigid movement block, positioned
// relative to the block's start.
type segment struct {
	resource string
	kind     ResourceKind
	action   model.Action
	offset   time.Duration
	dur      time.Duration
	reason   string
}

func (s segment) end() time.Duration { return s.offset + s.dur }

// block is the fixed sequence of occupations a train needs once it starts.
type block struct {
	origin   string
	segments []segment
}

func (b block) length() time.Duration {
	if len(b.segments) == 0 {
		return 0
	}
	return b.segments[len(b.segments)-1].end()
}

func (b block) occupations(start time.Time, t model.Train) []Occupation {
	out := make([]Occupation, 0, len(b.segments))
	for _, s := range b.segments {
		out = append(out, Occupation{
			Resource: s.resource,
			Kind:     s.kind,
			Start:    start.Add(s.offset),
			End:      start.Add(s.end()),
			TrainID:  t.ID,
			Priority: t.Priority,
		})
	}
	return out
}

type waypoint struct {
	node  string
	track string
	halt  *model.ScheduledHalt
}

// resolvePlatform maps "3", "P-3" and "P3" onto the layout's P3 node.
func (l *layout) resolvePlatform(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	if _, ok := l.nodes[id]; ok {
		return id, true
	}
	alt := "P" + strings.TrimPrefix(strings.TrimPrefix(strings.ToUpper(id), "P"), "-")
	if _, ok := l.nodes[alt]; ok {
		return alt, true
	}
	return "", false
}

// buildBlock turns a train into its movement block: an origin, then the
// shortest path through every halt platform at this station to the
// destination. Tracks become PROCEED segments, halts and the terminal
// platform become ASSIGN segments, and exclusive nodes crossed on the way
// are held for the pass-through time. Entry, yard and exit nodes are not
// exclusive and produce no segment.
func buildBlock(l *layout, t model.Train, cfg Config) (block, *Error) {
	var waypoints []waypoint
	for _, h := range t.HaltsAt(l.station) {
		p, ok := l.resolvePlatform(h.PlatformID)
		if !ok {
			return block{}, NewError(CodeHaltNotSatisfied, t.ID, h.PlatformID,
				"scheduled halt platform %s is not part of the %s layout", h.PlatformID, l.station)
		}
		h.PlatformID = p
		waypoints = append(waypoints, waypoint{node: p, halt: &h})
	}

	dest := strings.TrimSpace(t.Destination)
	destResolved := true
	switch {
	case l.hasNode(dest):
		waypoints = appendNode(waypoints, dest)
	case l.hasTrack(dest):
		waypoints = append(waypoints, waypoint{track: dest})
	case strings.HasPrefix(strings.ToUpper(dest), "P"):
		if p, ok := l.resolvePlatform(dest); ok {
			waypoints = appendNode(waypoints, p)
		} else {
			destResolved = false
		}
	default:
		destResolved = false
	}

	origin, err := l.resolveOrigin(t, waypoints)
	if err != nil {
		return block{}, err
	}

	// Destinations outside the layout leave through the nearest exit.
	if !destResolved {
		from := origin
		if len(waypoints) > 0 {
			from = waypoints[len(waypoints)-1].node
		}
		exit, _, ok := l.nearest(l.exits, from, false)
		switch {
		case ok && exit != from:
			waypoints = append(waypoints, waypoint{node: exit})
		case !ok && len(waypoints) == 0:
			return block{}, NewError(CodeNoFeasiblePlan, t.ID, origin, "no route from %s to any exit", origin)
		}
	}

	b := block{origin: origin}
	var offset time.Duration
	pos := origin
	add := func(s segment) {
		s.offset = offset
		b.segments = append(b.segments, s)
		offset += s.dur
	}

	for i, wp := range waypoints {
		last := i == len(waypoints)-1
		target := wp.node
		var finalTrack *model.Track
		if wp.track != "" {
			tr := l.tracks[wp.track]
			finalTrack = &tr
			target = tr.From
		}

		path, ok := l.shortestPath(pos, target)
		if !ok {
			return block{}, NewError(CodeNoFeasiblePlan, t.ID, target, "no route from %s to %s", pos, target)
		}
		if finalTrack != nil {
			path = append(path, *finalTrack)
		}

		for j, tr := range path {
			add(segment{
				resource: tr.ID,
				kind:     ResourceTrack,
				action:   model.ActionProceed,
				dur:      cfg.TrackTraversal,
				reason:   fmt.Sprintf("Proceed via %s towards %s.", tr.ID, tr.To),
			})
			if j == len(path)-1 {
				break
			}
			if n := l.nodes[tr.To]; n.Kind.Exclusive() {
				add(passThrough(n, cfg))
			}
		}
		if finalTrack != nil {
			pos = finalTrack.To
			continue
		}

		pos = target
		n := l.nodes[target]
		switch {
		case wp.halt != nil:
			dwell := wp.halt.Duration()
			if dwell <= 0 {
				dwell = cfg.DefaultDwell
			}
			add(segment{
				resource: n.ID,
				kind:     kindOf(n),
				action:   model.ActionAssign,
				dur:      dwell,
				reason:   fmt.Sprintf("Scheduled halt of %d min at %s.", int(dwell/time.Minute), n.ID),
			})
		case last && n.Kind.Exclusive():
			add(segment{
				resource: n.ID,
				kind:     kindOf(n),
				action:   model.ActionAssign,
				dur:      cfg.DefaultDwell,
				reason:   fmt.Sprintf("Dwell %d min at terminal %s.", int(cfg.DefaultDwell/time.Minute), n.ID),
			})
		case n.Kind.Exclusive() && len(path) > 0:
			add(passThrough(n, cfg))
		}
	}

	if len(b.segments) == 0 {
		return block{}, NewError(CodeNoFeasiblePlan, t.ID, origin, "train is already at %s with nothing to schedule", origin)
	}

	for _, s := range b.segments {
		if s.action != model.ActionAssign {
			continue
		}
		n := l.nodes[s.resource]
		if !n.Fits(t.LengthMeters()) {
			return block{}, NewError(CodeCapacityViolation, t.ID, n.ID,
				"%d coaches (%.0f m) exceed platform %s (%.0f m)", t.LengthCoaches, t.LengthMeters(), n.ID, n.Length)
		}
	}
	return b, nil
}

// resolveOrigin uses the train's current location when it is a layout
// node; otherwise the entry with the shortest path to the first waypoint.
func (l *layout) resolveOrigin(t model.Train, waypoints []waypoint) (string, *Error) {
	loc := strings.TrimSpace(t.CurrentLocation)
	if l.hasNode(loc) {
		return loc, nil
	}
	if len(l.entries) == 0 {
		return "", NewError(CodeNoFeasiblePlan, t.ID, "", "layout has no entry for a train located at %q", loc)
	}
	if len(waypoints) == 0 {
		for _, e := range l.entries {
			if _, _, ok := l.nearest(l.exits, e, false); ok {
				return e, nil
			}
		}
		return "", NewError(CodeNoFeasiblePlan, t.ID, "", "no entry connects to an exit")
	}
	first := waypoints[0].node
	if waypoints[0].track != "" {
		first = l.tracks[waypoints[0].track].From
	}
	entry, _, ok := l.nearest(l.entries, first, true)
	if !ok {
		return "", NewError(CodeNoFeasiblePlan, t.ID, first, "no entry reaches %s", first)
	}
	return entry, nil
}

// parkedAt returns the platform or sideline a train is standing on, if any.
func (l *layout) parkedAt(t model.Train) (model.Node, bool) {
	n, ok := l.nodes[strings.TrimSpace(t.CurrentLocation)]
	return n, ok && n.Kind.Exclusive()
}

func (l *layout) hasNode(id string) bool {
	_, ok := l.nodes[id]
	return ok
}

func (l *layout) hasTrack(id string) bool {
	_, ok := l.tracks[id]
	return ok
}

func appendNode(wps []waypoint, id string) []waypoint {
	if len(wps) > 0 && wps[len(wps)-1].node == id {
		return wps
	}
	return append(wps, waypoint{node: id})
}

func passThrough(n model.Node, cfg Config) segment {
	return segment{
		resource: n.ID,
		kind:     kindOf(n),
		action:   model.ActionProceed,
		dur:      cfg.PassThrough,
		reason:   fmt.Sprintf("Pass through %s.", n.ID),
	}
}

func kindOf(n model.Node) ResourceKind {
	if n.Kind == model.NodeSideline {
		return ResourceSideline
	}
	return ResourcePlatform
}
