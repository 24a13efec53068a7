// Command saarathi-plan computes a movement plan offline from a station
// layout, a board snapshot and an optional HCL scenario file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/feed"
	"github.com/signalsfoundry/saarathi/internal/graphdb"
	"github.com/signalsfoundry/saarathi/internal/layouts"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/scenario"
	"github.com/signalsfoundry/saarathi/model"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "saarathi-plan: %v\n", err)
		}
		os.Exit(1)
	}
}

// output is what the command prints.
type output struct {
	Plan       *core.Plan       `json:"plan"`
	Prediction *core.Prediction `json:"prediction,omitempty"`
	Warnings   []string         `json:"input_warnings,omitempty"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("saarathi-plan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	station := fs.String("station", model.DefaultStationCode, "Station code")
	topologyPath := fs.String("topology", "", "Layout JSON file; defaults to the layout directory or the built-in layout")
	layoutDir := fs.String("layout-dir", "", "Directory of <STATION>.json layouts")
	boardPath := fs.String("board", "", `Board JSON file (array of train states); "-" reads stdin; empty uses the static board`)
	scenarioPath := fs.String("scenario", "", "HCL scenario file with rules and an optional override")
	override := fs.String("override", "", "Manual override text; replaces the scenario file's override")
	nowFlag := fs.String("now", "", "Reference time (RFC 3339 or HH:MM today, UTC); defaults to the earliest ETA")
	predict := fs.Bool("predict", false, "Also forecast conflicts")
	defaultLength := fs.Int("default-length", envInt("DEFAULT_LENGTH_COACHES"), "Coaches assumed for trains with no reported or known length")
	neo4jURI := fs.String("neo4j-uri", "", "Neo4j URI; with -seed-graph the resolved layout is written there")
	neo4jUser := fs.String("neo4j-user", "neo4j", "Neo4j user")
	neo4jPassword := fs.String("neo4j-password", "", "Neo4j password")
	seedGraph := fs.Bool("seed-graph", false, "Store the resolved layout in Neo4j and exit")
	vars := varFlags{}
	fs.Var(vars, "var", "Scenario variable name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logging.NewFromEnv()
	code := strings.ToUpper(*station)

	topo, err := loadTopology(ctx, *topologyPath, *layoutDir, code, log)
	if err != nil {
		return err
	}
	if *seedGraph {
		return seed(ctx, topo, *neo4jURI, *neo4jUser, *neo4jPassword, stdout)
	}

	ref, err := parseNow(*nowFlag)
	if err != nil {
		return err
	}
	rows, err := loadBoard(ctx, *boardPath, code)
	if err != nil {
		return err
	}
	normRef := ref
	if normRef.IsZero() {
		normRef = time.Now().UTC()
	}
	trains, _, warnings := feed.Normalizer{DefaultLength: *defaultLength}.Normalize(code, rows, normRef)

	req := core.Request{Station: code, Topology: topo, Trains: trains, Now: ref}
	if *scenarioPath != "" {
		sc, err := scenario.DecodeFile(*scenarioPath, normRef, vars)
		if err != nil {
			return err
		}
		if sc.Station != "" && sc.Station != code {
			return fmt.Errorf("scenario %s is for %s, not %s", *scenarioPath, sc.Station, code)
		}
		req.Rules = sc.Rules
		req.Override = sc.Override
	}
	if *override != "" {
		req.Override = core.ParseManualOverride(*override, normRef)
	}

	planner := core.NewPlanner(core.DefaultConfig())
	out := output{Warnings: warnings}
	if out.Plan, err = planner.Plan(ctx, req); err != nil {
		return err
	}
	if *predict {
		if out.Prediction, err = planner.Predict(ctx, req); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func loadTopology(ctx context.Context, path, dir, station string, log logging.Logger) (*model.Topology, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open topology: %w", err)
		}
		defer f.Close()
		return core.DecodeTopology(f, station)
	}
	topo, _, err := (&layouts.Resolver{Dir: dir, Log: log}).Resolve(ctx, station)
	return topo, err
}

func loadBoard(ctx context.Context, path, station string) ([]model.LiveTrainStatus, error) {
	if path == "" {
		return feed.NewStaticSource().Fetch(ctx, station)
	}
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open board: %w", err)
		}
		defer f.Close()
		r = f
	}
	var rows []model.LiveTrainStatus
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode board: %w", err)
	}
	return rows, nil
}

func seed(ctx context.Context, topo *model.Topology, uri, user, password string, stdout io.Writer) error {
	if uri == "" {
		return errors.New("-seed-graph needs -neo4j-uri")
	}
	store, err := graphdb.Open(ctx, uri, user, password, "")
	if err != nil {
		return err
	}
	defer store.Close(ctx)
	if err := store.SaveTopology(ctx, topo); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "stored %s layout: %d nodes, %d tracks\n", topo.StationCode, len(topo.Nodes), len(topo.Tracks))
	return err
}

// envInt reads a whole number from the environment; anything else is 0.
func envInt(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return n
}

func parseNow(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := model.ParseClock(time.Now().UTC(), s)
	if err != nil {
		return time.Time{}, fmt.Errorf("-now: %w", err)
	}
	return t, nil
}

// varFlags collects -var name=value pairs as scenario variables. Values
// that parse as numbers become cty numbers.
type varFlags map[string]cty.Value

func (v varFlags) String() string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	return strings.Join(names, ",")
}

func (v varFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("want name=value, got %q", s)
	}
	if n, ok := new(big.Float).SetString(value); ok {
		v[name] = cty.NumberVal(n)
		return nil
	}
	v[name] = cty.StringVal(value)
	return nil
}
