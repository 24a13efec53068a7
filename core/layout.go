package core

import (
	"fmt"
	"sort"

	"github.com/signalsfoundry/saarathi/kb"
	"github.com/signalsfoundry/saarathi/model"
)

// layout is a read-only index over a validated topology.
type layout struct {
	station string
	nodes   map[string]model.Node
	tracks  map[string]model.Track
	out     map[string][]model.Track
	entries []string
	exits   []string
}

// newLayout validates topo through the knowledge base and indexes it.
func newLayout(topo *model.Topology) (*layout, error) {
	if topo == nil {
		return nil, fmt.Errorf("topology is nil")
	}
	store := kb.NewKnowledgeBase(topo.StationCode)
	if err := store.Replace(topo); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	l := &layout{
		station: store.StationCode(),
		nodes:   make(map[string]model.Node),
		tracks:  make(map[string]model.Track),
		out:     make(map[string][]model.Track),
	}
	for _, n := range store.ListNodes() {
		l.nodes[n.ID] = n
		switch n.Kind {
		case model.NodeEntry:
			l.entries = append(l.entries, n.ID)
		case model.NodeExit:
			l.exits = append(l.exits, n.ID)
		}
		l.out[n.ID] = store.Outgoing(n.ID)
	}
	for _, t := range store.ListTracks() {
		l.tracks[t.ID] = t
	}
	sort.Strings(l.entries)
	sort.Strings(l.exits)
	return l, nil
}

func (l *layout) node(id string) (model.Node, bool) {
	n, ok := l.nodes[id]
	return n, ok
}

// shortestPath runs a breadth-first search over directed tracks. Outgoing
// tracks are explored in id order so equal-length paths resolve the same
// way every time. A nil slice with ok=true means from == to.
func (l *layout) shortestPath(from, to string) ([]model.Track, bool) {
	if from == to {
		return nil, true
	}
	if _, ok := l.nodes[from]; !ok {
		return nil, false
	}
	prev := map[string]model.Track{}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range l.out[cur] {
			if visited[t.To] {
				continue
			}
			visited[t.To] = true
			prev[t.To] = t
			if t.To == to {
				var path []model.Track
				for n := to; n != from; {
					step := prev[n]
					path = append(path, step)
					n = step.From
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, true
			}
			queue = append(queue, t.To)
		}
	}
	return nil, false
}

// nearest returns the candidate with the shortest path from `from` (or to
// `to` when reverse is set). Ties go to the smaller id.
func (l *layout) nearest(candidates []string, anchor string, reverse bool) (string, []model.Track, bool) {
	best := ""
	var bestPath []model.Track
	found := false
	for _, c := range candidates {
		var (
			p  []model.Track
			ok bool
		)
		if reverse {
			p, ok = l.shortestPath(c, anchor)
		} else {
			p, ok = l.shortestPath(anchor, c)
		}
		if !ok {
			continue
		}
		if !found || len(p) < len(bestPath) {
			best, bestPath, found = c, p, true
		}
	}
	return best, bestPath, found
}
