package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/model"
)

type countsSnapshot struct {
	nodes, platforms, tracks, trains, rules int
}

type stubMetricsRecorder struct {
	records []countsSnapshot
}

func (r *stubMetricsRecorder) SetStationCounts(nodes, platforms, tracks, trains, rules int) {
	r.records = append(r.records, countsSnapshot{nodes, platforms, tracks, trains, rules})
}

func (r *stubMetricsRecorder) last() countsSnapshot {
	if len(r.records) == 0 {
		return countsSnapshot{}
	}
	return r.records[len(r.records)-1]
}

func ndls(t *testing.T) *model.Topology {
	t.Helper()
	topo, err := core.BuiltinTopology("NDLS")
	if err != nil {
		t.Fatalf("BuiltinTopology: %v", err)
	}
	return topo
}

func newLoadedState(t *testing.T, opts ...Option) *StationState {
	t.Helper()
	s := NewStationState(logging.Noop(), opts...)
	if err := s.SetStation(context.Background(), "NDLS", ndls(t)); err != nil {
		t.Fatalf("SetStation: %v", err)
	}
	return s
}

func TestNoStationErrors(t *testing.T) {
	s := NewStationState(nil)
	if _, err := s.Snapshot(); !errors.Is(err, ErrNoStation) {
		t.Fatalf("Snapshot err = %v, want ErrNoStation", err)
	}
	if _, err := s.AddRule(model.PrioritizeTrain{TrainID: "1"}); !errors.Is(err, ErrNoStation) {
		t.Fatalf("AddRule err = %v, want ErrNoStation", err)
	}
	if err := s.UpdateBoard("NDLS", Board{}); !errors.Is(err, ErrNoStation) {
		t.Fatalf("UpdateBoard err = %v, want ErrNoStation", err)
	}
}

func TestSetStationRejectsUnknownCode(t *testing.T) {
	s := NewStationState(nil)
	if err := s.SetStation(context.Background(), "XYZ", ndls(t)); !errors.Is(err, ErrUnknownStation) {
		t.Fatalf("err = %v, want ErrUnknownStation", err)
	}
	if err := s.SetStation(context.Background(), "MMCT", ndls(t)); err == nil {
		t.Fatalf("expected layout/station mismatch error")
	}
}

func TestSetStationClearsSessionData(t *testing.T) {
	s := newLoadedState(t)
	if err := s.UpdateBoard("NDLS", Board{Source: "static", Trains: []model.Train{{ID: "12951"}}}); err != nil {
		t.Fatalf("UpdateBoard: %v", err)
	}
	if _, err := s.AddRule(model.PrioritizeTrain{TrainID: "12951"}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := s.SetLastPlan(&core.Plan{Station: "NDLS"}); err != nil {
		t.Fatalf("SetLastPlan: %v", err)
	}

	topo := ndls(t)
	topo.StationCode = "MMCT"
	if err := s.SetStation(context.Background(), "mmct", topo); err != nil {
		t.Fatalf("SetStation MMCT: %v", err)
	}
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Station.Code != "MMCT" || len(snap.Board.Trains) != 0 || len(snap.Rules) != 0 || snap.LastPlan != nil {
		t.Fatalf("snapshot after switch = %+v, want empty MMCT session", snap)
	}
	if err := s.SetLastPlan(&core.Plan{Station: "NDLS"}); !errors.Is(err, ErrStaleStation) {
		t.Fatalf("SetLastPlan err = %v, want ErrStaleStation", err)
	}
}

func TestRuleLifecycle(t *testing.T) {
	fixed := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	s := newLoadedState(t, WithClock(func() time.Time { return fixed }))

	a, err := s.AddRule(model.AddDelay{TrainID: "12002", DelayMinutes: 10})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	b, err := s.AddRule(model.PrioritizeTrain{TrainID: "12951"})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("rule ids = %q, %q, want distinct non-empty ids", a.ID, b.ID)
	}
	if !a.AddedAt.Equal(fixed) {
		t.Fatalf("added at = %v, want %v", a.AddedAt, fixed)
	}

	if err := s.RemoveRule(a.ID); err != nil {
		t.Fatalf("RemoveRule: %v", err)
	}
	if err := s.RemoveRule(a.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("second RemoveRule err = %v, want ErrRuleNotFound", err)
	}
	rules := s.Rules()
	if len(rules) != 1 || rules[0].ID != b.ID {
		t.Fatalf("rules = %+v, want only %s", rules, b.ID)
	}
	if n := s.ClearRules(); n != 1 {
		t.Fatalf("ClearRules = %d, want 1", n)
	}
	if len(s.Rules()) != 0 {
		t.Fatalf("rules not cleared")
	}
}

func TestDegradedKeepsLastBoard(t *testing.T) {
	s := newLoadedState(t)
	fetched := time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC)
	if err := s.UpdateBoard("NDLS", Board{Source: "railradar", FetchedAt: fetched, Trains: []model.Train{{ID: "12417"}, {ID: "12002"}}}); err != nil {
		t.Fatalf("UpdateBoard: %v", err)
	}
	if err := s.MarkDegraded("NDLS", errors.New("upstream 503")); err != nil {
		t.Fatalf("MarkDegraded: %v", err)
	}
	b := s.Board()
	if !b.Degraded || b.LastError != "upstream 503" || len(b.Trains) != 2 || !b.FetchedAt.Equal(fetched) {
		t.Fatalf("board = %+v, want degraded with previous trains", b)
	}
	if err := s.UpdateBoard("NDLS", Board{Trains: []model.Train{{ID: "12417"}}}); err != nil {
		t.Fatalf("UpdateBoard: %v", err)
	}
	if b := s.Board(); b.Degraded || b.LastError != "" {
		t.Fatalf("board = %+v, want healthy after refresh", b)
	}
	if err := s.UpdateBoard("MMCT", Board{}); !errors.Is(err, ErrStaleStation) {
		t.Fatalf("UpdateBoard for other station err = %v, want ErrStaleStation", err)
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := newLoadedState(t)
	halts := []model.ScheduledHalt{{StationID: "NDLS", PlatformID: "P3", DurationMinutes: 15}}
	if err := s.UpdateBoard("NDLS", Board{Trains: []model.Train{{ID: "12417", ScheduledHalts: halts}}}); err != nil {
		t.Fatalf("UpdateBoard: %v", err)
	}
	halts[0].DurationMinutes = 99

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	snap.Board.Trains[0].ScheduledHalts[0].PlatformID = "P9"
	snap.Topology.Nodes[0].ID = "MUTATED"

	again, _ := s.Snapshot()
	h := again.Board.Trains[0].ScheduledHalts[0]
	if h.PlatformID != "P3" || h.DurationMinutes != 15 {
		t.Fatalf("halt = %+v, want the original P3/15", h)
	}
	if again.Topology.Nodes[0].ID == "MUTATED" {
		t.Fatalf("topology shared with snapshot")
	}
}

func TestMetricsRecorder(t *testing.T) {
	rec := &stubMetricsRecorder{}
	s := NewStationState(nil, WithMetricsRecorder(rec))
	if got := rec.last(); got != (countsSnapshot{}) {
		t.Fatalf("initial counts = %+v, want zero", got)
	}
	if err := s.SetStation(context.Background(), "NDLS", ndls(t)); err != nil {
		t.Fatalf("SetStation: %v", err)
	}
	if got := rec.last(); got.nodes != 12 || got.platforms != 5 || got.tracks != 13 {
		t.Fatalf("counts = %+v, want 12 nodes, 5 platforms, 13 tracks", got)
	}
	_ = s.UpdateBoard("NDLS", Board{Trains: []model.Train{{ID: "a"}, {ID: "b"}}})
	_, _ = s.AddRule(model.PrioritizeTrain{TrainID: "a"})
	if got := rec.last(); got.trains != 2 || got.rules != 1 {
		t.Fatalf("counts = %+v, want 2 trains, 1 rule", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newLoadedState(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				_ = s.UpdateBoard("NDLS", Board{Trains: []model.Train{{ID: "x"}}})
			case 1:
				r, err := s.AddRule(model.PrioritizeTrain{TrainID: "x"})
				if err == nil {
					_ = s.RemoveRule(r.ID)
				}
			case 2:
				_, _ = s.Snapshot()
			default:
				_ = s.MarkDegraded("NDLS", errors.New("boom"))
			}
		}(i)
	}
	wg.Wait()
}
