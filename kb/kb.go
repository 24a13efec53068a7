package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/saarathi/model"
)

var (
	ErrNodeExists           = errors.New("node already exists")
	ErrNodeNotFound         = errors.New("node not found")
	ErrTrackExists          = errors.New("track already exists")
	ErrTrackNotFound        = errors.New("track not found")
	ErrTrackEndpointMissing = errors.New("track endpoint does not exist")
	ErrInvalidNode          = errors.New("invalid node")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventTrackAdded
	EventTopologyReplaced
)

// Event is emitted to subscribers when the layout changes.
type Event struct {
	Type        EventType
	StationCode string
	NodeID      string
	TrackID     string
}

// KnowledgeBase is an in-memory, thread-safe store for one station layout.
// Insertion order is preserved so listings stay deterministic.
type KnowledgeBase struct {
	mu sync.RWMutex

	station    string
	nodes      map[string]model.Node
	nodeOrder  []string
	tracks     map[string]model.Track
	trackOrder []string

	subs    map[int]func(Event)
	nextSub int
}

// NewKnowledgeBase constructs an empty KB for the given station code.
func NewKnowledgeBase(station string) *KnowledgeBase {
	return &KnowledgeBase{
		station: station,
		nodes:   make(map[string]model.Node),
		tracks:  make(map[string]model.Track),
		subs:    make(map[int]func(Event)),
	}
}

// StationCode returns the station this layout belongs to.
func (kb *KnowledgeBase) StationCode() string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.station
}

// AddNode adds a node. Ids must be unique and the kind must be known.
func (kb *KnowledgeBase) AddNode(n model.Node) error {
	if err := checkNode(n); err != nil {
		return err
	}
	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}
	kb.nodes[n.ID] = n
	kb.nodeOrder = append(kb.nodeOrder, n.ID)
	subs := kb.subscribersLocked()
	station := kb.station
	kb.mu.Unlock()

	notify(subs, Event{Type: EventNodeAdded, StationCode: station, NodeID: n.ID})
	return nil
}

// AddTrack adds a directed track. Both endpoints must already exist.
func (kb *KnowledgeBase) AddTrack(t model.Track) error {
	if t.ID == "" {
		return fmt.Errorf("track with empty id")
	}
	kb.mu.Lock()
	if _, exists := kb.tracks[t.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTrackExists, t.ID)
	}
	for _, end := range []string{t.From, t.To} {
		if _, ok := kb.nodes[end]; !ok {
			kb.mu.Unlock()
			return fmt.Errorf("%w: track %q references %q", ErrTrackEndpointMissing, t.ID, end)
		}
	}
	kb.tracks[t.ID] = t
	kb.trackOrder = append(kb.trackOrder, t.ID)
	subs := kb.subscribersLocked()
	station := kb.station
	kb.mu.Unlock()

	notify(subs, Event{Type: EventTrackAdded, StationCode: station, TrackID: t.ID})
	return nil
}

// Replace swaps the whole layout atomically. The new layout is validated in
// full first; on error the KB is left untouched.
func (kb *KnowledgeBase) Replace(topo *model.Topology) error {
	if topo == nil {
		return fmt.Errorf("replace: nil topology")
	}
	staged := NewKnowledgeBase(topo.StationCode)
	for _, n := range topo.Nodes {
		if err := staged.AddNode(n); err != nil {
			return err
		}
	}
	for _, t := range topo.Tracks {
		if err := staged.AddTrack(t); err != nil {
			return err
		}
	}

	kb.mu.Lock()
	kb.station = staged.station
	kb.nodes = staged.nodes
	kb.nodeOrder = staged.nodeOrder
	kb.tracks = staged.tracks
	kb.trackOrder = staged.trackOrder
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventTopologyReplaced, StationCode: topo.StationCode})
	return nil
}

// GetNode returns the node with the given id.
func (kb *KnowledgeBase) GetNode(id string) (model.Node, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	n, ok := kb.nodes[id]
	if !ok {
		return model.Node{}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	return n, nil
}

// GetTrack returns the track with the given id.
func (kb *KnowledgeBase) GetTrack(id string) (model.Track, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	t, ok := kb.tracks[id]
	if !ok {
		return model.Track{}, fmt.Errorf("%w: %q", ErrTrackNotFound, id)
	}
	return t, nil
}

// ListNodes returns all nodes in insertion order.
func (kb *KnowledgeBase) ListNodes() []model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	res := make([]model.Node, 0, len(kb.nodeOrder))
	for _, id := range kb.nodeOrder {
		res = append(res, kb.nodes[id])
	}
	return res
}

// ListTracks returns all tracks in insertion order.
func (kb *KnowledgeBase) ListTracks() []model.Track {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	res := make([]model.Track, 0, len(kb.trackOrder))
	for _, id := range kb.trackOrder {
		res = append(res, kb.tracks[id])
	}
	return res
}

// Outgoing returns the tracks leaving a node, sorted by track id.
func (kb *KnowledgeBase) Outgoing(nodeID string) []model.Track {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var res []model.Track
	for _, t := range kb.tracks {
		if t.From == nodeID {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Topology returns a detached copy of the layout.
func (kb *KnowledgeBase) Topology() *model.Topology {
	return &model.Topology{
		StationCode: kb.StationCode(),
		Nodes:       kb.ListNodes(),
		Tracks:      kb.ListTracks(),
	}
}

// Counts returns the number of nodes, platforms and tracks.
func (kb *KnowledgeBase) Counts() (nodes, platforms, tracks int) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	for _, n := range kb.nodes {
		if n.IsPlatform() {
			platforms++
		}
	}
	return len(kb.nodes), platforms, len(kb.tracks)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

// notify runs outside the lock so subscribers may call back into the KB.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}

func checkNode(n model.Node) error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidNode)
	}
	if _, err := model.ParseNodeKind(string(n.Kind)); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidNode, n.ID, err)
	}
	if n.Length < 0 {
		return fmt.Errorf("%w: %q has negative length", ErrInvalidNode, n.ID)
	}
	return nil
}
