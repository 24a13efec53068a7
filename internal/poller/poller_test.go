package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/audit"
	"github.com/signalsfoundry/saarathi/internal/feed"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/observability"
	"github.com/signalsfoundry/saarathi/internal/state"
	"github.com/signalsfoundry/saarathi/model"
	"github.com/signalsfoundry/saarathi/timectrl"
)

var start = time.Date(2025, time.January, 15, 6, 50, 0, 0, time.UTC)

func ndlsState(t *testing.T) *state.StationState {
	t.Helper()
	topo, err := core.BuiltinTopology("NDLS")
	if err != nil {
		t.Fatalf("BuiltinTopology: %v", err)
	}
	st := state.NewStationState(logging.Noop())
	if err := st.SetStation(context.Background(), "NDLS", topo); err != nil {
		t.Fatalf("SetStation: %v", err)
	}
	return st
}

// flakySource serves the static board until failing is set.
type flakySource struct {
	mu      sync.Mutex
	failing bool
	inner   feed.Source
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Fetch(ctx context.Context, station string) ([]model.LiveTrainStatus, error) {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return nil, errors.New("connection refused")
	}
	return f.inner.Fetch(ctx, station)
}

func TestRefreshInstallsBoard(t *testing.T) {
	ctx := context.Background()
	st := ndlsState(t)
	store, err := audit.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()
	metrics, err := observability.NewPlannerCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPlannerCollector: %v", err)
	}

	tc := timectrl.NewTimeController(timectrl.NewManualClock(start), time.Minute)
	auditLog := audit.NewLog(store, nil, tc.Now)
	p := New(feed.NewStaticSource(), st, tc, WithAudit(auditLog), WithMetrics(metrics))

	board, err := p.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(board.Trains) != 5 || board.Source != "static" || !board.FetchedAt.Equal(start) {
		t.Fatalf("board = %d trains from %q at %v", len(board.Trains), board.Source, board.FetchedAt)
	}
	if got := st.Board(); len(got.Statuses) != 5 || got.Degraded {
		t.Fatalf("state board = %+v, want 5 fresh rows", got)
	}

	events, err := auditLog.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 || events[0].Message != "Real-time traffic data refreshed (5 trains)" || events[0].Actor != audit.ActorSystem {
		t.Fatalf("events = %+v", events)
	}
	if got := testutil.ToFloat64(metrics.FeedRefreshes.WithLabelValues("static", "ok")); got != 1 {
		t.Fatalf("feed refreshes ok = %v, want 1", got)
	}
}

func TestRefreshFailureKeepsLastBoard(t *testing.T) {
	ctx := context.Background()
	st := ndlsState(t)
	src := &flakySource{inner: feed.NewStaticSource()}
	metrics, err := observability.NewPlannerCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPlannerCollector: %v", err)
	}
	p := New(src, st, timectrl.NewTimeController(timectrl.NewManualClock(start), time.Minute), WithMetrics(metrics))

	if _, err := p.Refresh(ctx); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	src.mu.Lock()
	src.failing = true
	src.mu.Unlock()

	board, err := p.Refresh(ctx)
	if !errors.Is(err, core.ErrUpstreamFeedUnavailable) {
		t.Fatalf("err = %v, want UPSTREAM_FEED_UNAVAILABLE", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v, want the cause kept", err)
	}
	if !board.Degraded || len(board.Trains) != 5 || board.LastError == "" {
		t.Fatalf("board = %+v, want previous 5 trains marked degraded", board)
	}
	if got := testutil.ToFloat64(metrics.FeedDegraded); got != 1 {
		t.Fatalf("degraded gauge = %v, want 1", got)
	}
}

func TestRefreshWithoutStation(t *testing.T) {
	p := New(feed.NewStaticSource(), state.NewStationState(nil), nil)
	if _, err := p.Refresh(context.Background()); !errors.Is(err, state.ErrNoStation) {
		t.Fatalf("err = %v, want ErrNoStation", err)
	}
}

func TestRunRefreshesImmediatelyAndOnTrigger(t *testing.T) {
	st := ndlsState(t)
	refreshed := make(chan state.Board, 4)
	tc := timectrl.NewTimeController(timectrl.NewManualClock(start), time.Hour)
	p := New(feed.NewStaticSource(), st, tc, OnRefresh(func(_ context.Context, b state.Board) {
		refreshed <- b
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	wait := func(what string) {
		t.Helper()
		select {
		case b := <-refreshed:
			if len(b.Trains) != 5 {
				t.Fatalf("%s refresh: %d trains, want 5", what, len(b.Trains))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s refresh", what)
		}
	}
	wait("initial")
	p.Trigger()
	wait("triggered")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
