// Package graphdb stores station layouts in Neo4j. Nodes are
// (:LayoutNode {station, id, kind, length}) hanging off a
// (:Station {code}); tracks are directed [:TRACK {id}] relationships
// between layout nodes.
package graphdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/signalsfoundry/saarathi/kb"
	"github.com/signalsfoundry/saarathi/model"
)

// ErrNoLayout is returned when the graph holds no nodes for a station.
var ErrNoLayout = errors.New("no layout stored for station")

const (
	nodesQuery = `
MATCH (n:LayoutNode {station: $station})
RETURN n.id AS id, n.kind AS kind, coalesce(n.length, 0) AS length
ORDER BY n.id`

	tracksQuery = `
MATCH (a:LayoutNode {station: $station})-[t:TRACK]->(b:LayoutNode {station: $station})
RETURN t.id AS id, a.id AS from, b.id AS to
ORDER BY t.id`

	deleteLayoutQuery = `
MATCH (n:LayoutNode {station: $station})
DETACH DELETE n`

	createNodesQuery = `
MERGE (s:Station {code: $station})
WITH s
UNWIND $nodes AS node
CREATE (n:LayoutNode {station: $station, id: node.id, kind: node.kind, length: node.length})
CREATE (s)-[:HAS_NODE]->(n)`

	createTracksQuery = `
UNWIND $tracks AS t
MATCH (a:LayoutNode {station: $station, id: t.from}), (b:LayoutNode {station: $station, id: t.to})
CREATE (a)-[:TRACK {id: t.id}]->(b)`
)

// Store reads and writes layouts through a Neo4j driver.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// Open connects to uri and verifies connectivity. An empty database uses
// the server default.
func Open(ctx context.Context, uri, username, password, database string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connection: %w", err)
	}
	return &Store{driver: driver, database: database}, nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// LoadTopology reads the layout of station. The result is checked the same
// way a JSON layout is: unknown kinds and dangling tracks are errors.
func (s *Store) LoadTopology(ctx context.Context, station string) (*model.Topology, error) {
	station = strings.ToUpper(strings.TrimSpace(station))
	params := map[string]any{"station": station}
	opts := []neo4j.ExecuteQueryConfigurationOption{
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	}

	nodes, err := neo4j.ExecuteQuery(ctx, s.driver, nodesQuery, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, fmt.Errorf("error fetching layout nodes: %w", err)
	}
	tracks, err := neo4j.ExecuteQuery(ctx, s.driver, tracksQuery, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, fmt.Errorf("error fetching layout tracks: %w", err)
	}
	return topologyFromRecords(station, nodes.Records, tracks.Records)
}

// SaveTopology replaces the stored layout of topo's station in one write
// transaction.
func (s *Store) SaveTopology(ctx context.Context, topo *model.Topology) error {
	params, err := saveParams(topo)
	if err != nil {
		return err
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, q := range []string{deleteLayoutQuery, createNodesQuery, createTracksQuery} {
			if _, err := tx.Run(ctx, q, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("error saving layout %s: %w", params["station"], err)
	}
	return nil
}

func saveParams(topo *model.Topology) (map[string]any, error) {
	if topo == nil || topo.StationCode == "" {
		return nil, errors.New("save layout: station code is required")
	}
	// Check before writing so a bad layout never replaces a good one.
	if err := kb.NewKnowledgeBase(topo.StationCode).Replace(topo); err != nil {
		return nil, fmt.Errorf("save layout: %w", err)
	}
	nodes := make([]map[string]any, 0, len(topo.Nodes))
	for _, n := range topo.Nodes {
		nodes = append(nodes, map[string]any{"id": n.ID, "kind": string(n.Kind), "length": n.Length})
	}
	tracks := make([]map[string]any, 0, len(topo.Tracks))
	for _, t := range topo.Tracks {
		tracks = append(tracks, map[string]any{"id": t.ID, "from": t.From, "to": t.To})
	}
	return map[string]any{
		"station": strings.ToUpper(topo.StationCode),
		"nodes":   nodes,
		"tracks":  tracks,
	}, nil
}

func topologyFromRecords(station string, nodes, tracks []*neo4j.Record) (*model.Topology, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoLayout, station)
	}
	topo := &model.Topology{StationCode: station}
	for _, rec := range nodes {
		id, err := stringValue(rec, "id")
		if err != nil {
			return nil, err
		}
		rawKind, err := stringValue(rec, "kind")
		if err != nil {
			return nil, err
		}
		kind, err := model.ParseNodeKind(rawKind)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", id, err)
		}
		length, err := floatValue(rec, "length")
		if err != nil {
			return nil, err
		}
		topo.Nodes = append(topo.Nodes, model.Node{ID: id, Kind: kind, Length: length})
	}
	for _, rec := range tracks {
		var t model.Track
		var err error
		if t.ID, err = stringValue(rec, "id"); err != nil {
			return nil, err
		}
		if t.From, err = stringValue(rec, "from"); err != nil {
			return nil, err
		}
		if t.To, err = stringValue(rec, "to"); err != nil {
			return nil, err
		}
		topo.Tracks = append(topo.Tracks, t)
	}
	if err := kb.NewKnowledgeBase(station).Replace(topo); err != nil {
		return nil, fmt.Errorf("stored layout %s: %w", station, err)
	}
	return topo, nil
}

func stringValue(rec *neo4j.Record, key string) (string, error) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return "", fmt.Errorf("record is missing %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("record %q is %T, want string", key, v)
	}
	return s, nil
}

// floatValue accepts integer or float properties; Neo4j returns whichever
// type was written.
func floatValue(rec *neo4j.Record, key string) (float64, error) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("record %q is %T, want number", key, v)
	}
}
