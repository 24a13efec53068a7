// Package layouts finds the track layout of a station. Layouts come from a
// directory of JSON files, then a graph database, then the layouts
// compiled into the binary.
package layouts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/model"
)

// ErrNoLayout is returned when no source knows the station.
var ErrNoLayout = errors.New("no layout available for station")

// Source names reported by Resolve.
const (
	SourceFile    = "file"
	SourceGraph   = "graph"
	SourceBuiltin = "builtin"
)

// GraphSource is the part of graphdb.Store the resolver uses.
type GraphSource interface {
	LoadTopology(ctx context.Context, station string) (*model.Topology, error)
}

// Resolver looks a layout up in each configured source in turn.
type Resolver struct {
	// Dir holds <CODE>.json layout files. Empty disables file lookup.
	Dir string
	// Graph is consulted when no file exists. Nil disables it.
	Graph GraphSource
	Log   logging.Logger
}

// Resolve returns the layout of code and the name of the source it came
// from. A malformed file is an error rather than a fallthrough.
func (r *Resolver) Resolve(ctx context.Context, code string) (*model.Topology, string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	log := logging.OrNoop(r.Log)

	if r.Dir != "" {
		path := filepath.Join(r.Dir, code+".json")
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			topo, derr := core.DecodeTopology(f, code)
			if derr != nil {
				return nil, "", fmt.Errorf("layout file %s: %w", path, derr)
			}
			return topo, SourceFile, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, "", fmt.Errorf("open layout %s: %w", path, err)
		}
	}

	if r.Graph != nil {
		topo, err := r.Graph.LoadTopology(ctx, code)
		if err == nil {
			return topo, SourceGraph, nil
		}
		log.Warn(ctx, "graph layout lookup failed", logging.String("station", code), logging.Err(err))
	}

	topo, err := core.BuiltinTopology(code)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrNoLayout, code)
	}
	return topo, SourceBuiltin, nil
}
