package core

import (
	"sort"
	"time"

	"github.com/signalsfoundry/saarathi/model"
)

// ResourceKind says what kind of layout element an occupation holds.
type ResourceKind string

const (
	ResourceTrack    ResourceKind = "TRACK"
	ResourcePlatform ResourceKind = "PLATFORM"
	ResourceSideline ResourceKind = "SIDELINE"
)

// Occupation is one train holding one exclusive resource over [Start, End).
type Occupation struct {
	Resource string
	Kind     ResourceKind
	Start    time.Time
	End      time.Time
	TrainID  string
	Priority model.PriorityClass
}

// Overlaps reports whether two occupations share an instant. Touching
// intervals (a.End == b.Start) do not overlap.
func (o Occupation) Overlaps(other Occupation) bool {
	return o.Start.Before(other.End) && other.Start.Before(o.End)
}

// Conflict describes two trains wanting the same resource at once.
type Conflict struct {
	Resource     string
	Kind         ResourceKind
	First        Occupation
	Second       Occupation
	OverlapStart time.Time
	OverlapEnd   time.Time
	// Yielding is the id of the train that has to give way.
	Yielding string
}

// Overlap returns the length of the contested sub-interval.
func (c Conflict) Overlap() time.Duration { return c.OverlapEnd.Sub(c.OverlapStart) }

// Trains returns the ids of both trains, yielding train last.
func (c Conflict) Trains() (keeps, yields string) {
	if c.Yielding == c.First.TrainID {
		return c.Second.TrainID, c.First.TrainID
	}
	return c.First.TrainID, c.Second.TrainID
}

// DetectConflicts groups occupations by resource and sweeps each group in
// start order, keeping every still-active interval so that non-adjacent
// overlaps are reported too. Occupations of the same train never conflict
// with each other. Results are ordered by resource, then overlap start.
func DetectConflicts(occupations []Occupation) []Conflict {
	if len(occupations) == 0 {
		return nil
	}

	byResource := make(map[string][]Occupation)
	resources := make([]string, 0)
	for _, o := range occupations {
		if o.Resource == "" || !o.Start.Before(o.End) {
			continue
		}
		if _, seen := byResource[o.Resource]; !seen {
			resources = append(resources, o.Resource)
		}
		byResource[o.Resource] = append(byResource[o.Resource], o)
	}
	sort.Strings(resources)

	var conflicts []Conflict
	for _, res := range resources {
		group := byResource[res]
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].Start.Equal(group[j].Start) {
				return group[i].Start.Before(group[j].Start)
			}
			return group[i].TrainID < group[j].TrainID
		})

		var active []Occupation
		for _, cur := range group {
			kept := active[:0]
			for _, a := range active {
				if a.End.After(cur.Start) {
					kept = append(kept, a)
				}
			}
			active = kept

			for _, a := range active {
				if a.TrainID == cur.TrainID {
					continue
				}
				conflicts = append(conflicts, newConflict(a, cur))
			}
			active = append(active, cur)
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Resource != conflicts[j].Resource {
			return conflicts[i].Resource < conflicts[j].Resource
		}
		return conflicts[i].OverlapStart.Before(conflicts[j].OverlapStart)
	})
	return conflicts
}

// newConflict expects a.Start <= b.Start.
func newConflict(a, b Occupation) Conflict {
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	return Conflict{
		Resource:     a.Resource,
		Kind:         a.Kind,
		First:        a,
		Second:       b,
		OverlapStart: b.Start,
		OverlapEnd:   end,
		Yielding:     yieldingTrain(a, b),
	}
}

// yieldingTrain picks who gives way: the later starter; on equal starts the
// lower priority class; on equal class the greater train id.
func yieldingTrain(a, b Occupation) string {
	if !a.Start.Equal(b.Start) {
		if a.Start.Before(b.Start) {
			return b.TrainID
		}
		return a.TrainID
	}
	if a.Priority != b.Priority {
		if a.Priority.Outranks(b.Priority) {
			return b.TrainID
		}
		return a.TrainID
	}
	if a.TrainID < b.TrainID {
		return b.TrainID
	}
	return a.TrainID
}
