package layouts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/saarathi/model"
)

type fakeGraph struct {
	topo *model.Topology
	err  error
	asks []string
}

func (f *fakeGraph) LoadTopology(_ context.Context, station string) (*model.Topology, error) {
	f.asks = append(f.asks, station)
	return f.topo, f.err
}

const mmctLayout = `{"nodes": [
  {"node_id": "IN", "type": "ENTRY"},
  {"node_id": "PF1", "type": "PLATFORM", "length": 500}
], "tracks": [{"track_id": "T1", "from": "IN", "to": "PF1"}]}`

func TestResolvePrefersFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "MMCT.json"), []byte(mmctLayout), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	graph := &fakeGraph{err: errors.New("unused")}
	r := &Resolver{Dir: dir, Graph: graph}

	topo, src, err := r.Resolve(context.Background(), "mmct")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if src != SourceFile || topo.StationCode != "MMCT" || len(topo.Nodes) != 2 {
		t.Fatalf("got %s layout %+v", src, topo)
	}
	if len(graph.asks) != 0 {
		t.Fatalf("graph consulted despite a file: %v", graph.asks)
	}
}

func TestResolveFallsBack(t *testing.T) {
	ctx := context.Background()
	graphTopo := &model.Topology{StationCode: "HWH", Nodes: []model.Node{{ID: "IN", Kind: model.NodeEntry}}}

	tests := []struct {
		name     string
		resolver *Resolver
		code     string
		want     string
		wantErr  error
	}{
		{"graph", &Resolver{Dir: t.TempDir(), Graph: &fakeGraph{topo: graphTopo}}, "HWH", SourceGraph, nil},
		{"builtin after graph error", &Resolver{Graph: &fakeGraph{err: errors.New("down")}}, "NDLS", SourceBuiltin, nil},
		{"builtin only", &Resolver{}, "ndls", SourceBuiltin, nil},
		{"nothing", &Resolver{}, "GHY", "", ErrNoLayout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, src, err := tt.resolver.Resolve(ctx, tt.code)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if src != tt.want {
				t.Fatalf("source = %s, want %s", src, tt.want)
			}
		})
	}
}

func TestResolveRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "NDLS.json"), []byte(`{"nodes": []}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := (&Resolver{Dir: dir}).Resolve(context.Background(), "NDLS"); err == nil {
		t.Fatalf("Resolve accepted a layout without nodes")
	}
}
