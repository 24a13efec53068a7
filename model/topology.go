package model

import (
	"fmt"
	"strings"
)

// NodeKind classifies a point in the station topology.
type NodeKind string

const (
	NodeEntry    NodeKind = "ENTRY"
	NodePlatform NodeKind = "PLATFORM"
	NodeSideline NodeKind = "SIDELINE"
	NodeYard     NodeKind = "YARD"
	NodeExit     NodeKind = "EXIT"
)

// ParseNodeKind maps a layout string onto a NodeKind. Matching is
// case-insensitive; unknown values are rejected.
func ParseNodeKind(s string) (NodeKind, error) {
	switch k := NodeKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case NodeEntry, NodePlatform, NodeSideline, NodeYard, NodeExit:
		return k, nil
	default:
		return "", fmt.Errorf("unknown node kind %q", s)
	}
}

// Exclusive reports whether a train standing on a node of this kind blocks
// every other train from using it.
func (k NodeKind) Exclusive() bool {
	return k == NodePlatform || k == NodeSideline
}

// Node is a point in the station layout. Only platforms carry a length; a
// zero length never constrains train length.
type Node struct {
	ID     string   `json:"node_id" validate:"required"`
	Kind   NodeKind `json:"type" validate:"required,oneof=ENTRY PLATFORM SIDELINE YARD EXIT"`
	Length float64  `json:"length,omitempty" validate:"gte=0"`
}

// IsPlatform reports whether the node is a platform.
func (n Node) IsPlatform() bool { return n.Kind == NodePlatform }

// Fits reports whether a train of the given physical length fits the node.
// Non-platform nodes and platforms without a recorded length always fit.
func (n Node) Fits(lengthMeters float64) bool {
	if !n.IsPlatform() || n.Length <= 0 {
		return true
	}
	return lengthMeters <= n.Length
}

// Track is a directed connection between two nodes and the unit of mutual
// exclusion: at most one train may occupy it at any instant.
type Track struct {
	ID   string `json:"track_id" validate:"required"`
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// Topology is the static layout of one station.
type Topology struct {
	StationCode string  `json:"station_code,omitempty"`
	Nodes       []Node  `json:"nodes" validate:"dive"`
	Tracks      []Track `json:"tracks" validate:"dive"`
}

// Clone returns a deep copy so planners can work on a private snapshot.
func (t *Topology) Clone() *Topology {
	if t == nil {
		return nil
	}
	return &Topology{
		StationCode: t.StationCode,
		Nodes:       append([]Node(nil), t.Nodes...),
		Tracks:      append([]Track(nil), t.Tracks...),
	}
}

// Platforms returns the platform nodes in layout order.
func (t *Topology) Platforms() []Node {
	if t == nil {
		return nil
	}
	out := make([]Node, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.IsPlatform() {
			out = append(out, n)
		}
	}
	return out
}
