package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/saarathi/kb"
	"github.com/signalsfoundry/saarathi/model"
)

// TopologySummary is a small summary of what was loaded; handy for logs.
type TopologySummary struct {
	StationCode string
	NodeIDs     []string
	TrackIDs    []string
	Platforms   int
}

// layout JSON shapes stay unexported so the wire format can evolve apart
// from model.Topology.
type topologyJSON struct {
	StationCode string      `json:"station_code"`
	Nodes       []nodeJSON  `json:"nodes" validate:"min=1,dive"`
	Tracks      []trackJSON `json:"tracks" validate:"dive"`
}

type nodeJSON struct {
	ID     string  `json:"node_id" validate:"required"`
	Type   string  `json:"type" validate:"required"`
	Length float64 `json:"length" validate:"gte=0"`
}

type trackJSON struct {
	ID   string `json:"track_id" validate:"required"`
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

var structValidator = validator.New()

// DecodeTopology reads a station layout in the dashboard's JSON format.
// Node kinds are matched case-insensitively. fallbackStation is used when
// the document carries no station code.
func DecodeTopology(r io.Reader, fallbackStation string) (*model.Topology, error) {
	var payload topologyJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if err := structValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	topo := &model.Topology{StationCode: strings.ToUpper(strings.TrimSpace(payload.StationCode))}
	if topo.StationCode == "" {
		topo.StationCode = strings.ToUpper(fallbackStation)
	}
	for _, n := range payload.Nodes {
		kind, err := model.ParseNodeKind(n.Type)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		topo.Nodes = append(topo.Nodes, model.Node{ID: n.ID, Kind: kind, Length: n.Length})
	}
	for _, t := range payload.Tracks {
		topo.Tracks = append(topo.Tracks, model.Track{ID: t.ID, From: t.From, To: t.To})
	}
	return topo, nil
}

// LoadTopology decodes a layout from r and installs it in store, replacing
// whatever was there.
func LoadTopology(store *kb.KnowledgeBase, r io.Reader) (*TopologySummary, error) {
	if store == nil {
		return nil, fmt.Errorf("LoadTopology: kb is nil")
	}
	topo, err := DecodeTopology(r, store.StationCode())
	if err != nil {
		return nil, fmt.Errorf("LoadTopology: %w", err)
	}
	if err := store.Replace(topo); err != nil {
		return nil, fmt.Errorf("LoadTopology: %w", err)
	}
	return summarize(topo), nil
}

// BuiltinTopology returns the embedded layout for a station.
func BuiltinTopology(station string) (*model.Topology, error) {
	data, ok := kb.BuiltinLayout(station)
	if !ok {
		return nil, fmt.Errorf("no built-in layout for station %q", station)
	}
	return DecodeTopology(bytes.NewReader(data), station)
}

func summarize(topo *model.Topology) *TopologySummary {
	s := &TopologySummary{StationCode: topo.StationCode}
	for _, n := range topo.Nodes {
		s.NodeIDs = append(s.NodeIDs, n.ID)
		if n.IsPlatform() {
			s.Platforms++
		}
	}
	for _, t := range topo.Tracks {
		s.TrackIDs = append(s.TrackIDs, t.ID)
	}
	return s
}
