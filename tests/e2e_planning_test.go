package tests

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/audit"
	"github.com/signalsfoundry/saarathi/internal/control"
	"github.com/signalsfoundry/saarathi/internal/events"
	"github.com/signalsfoundry/saarathi/internal/feed"
	"github.com/signalsfoundry/saarathi/internal/httpapi"
	"github.com/signalsfoundry/saarathi/internal/layouts"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/planning"
	"github.com/signalsfoundry/saarathi/internal/poller"
	"github.com/signalsfoundry/saarathi/internal/rpc"
	"github.com/signalsfoundry/saarathi/internal/state"
	"github.com/signalsfoundry/saarathi/model"
	"github.com/signalsfoundry/saarathi/timectrl"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var morning = time.Date(2025, time.January, 15, 6, 50, 0, 0, time.UTC)

// frame is one server-sent event.
type frame struct {
	topic string
	data  string
}

type e2eTestEnv struct {
	ctx    context.Context
	client *rpc.Client
	http   *httptest.Server
}

func newE2ETestEnv(t *testing.T) *e2eTestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := audit.OpenSQLite(ctx, ":memory:")
	if err != nil {
		cancel()
		t.Fatalf("OpenSQLite: %v", err)
	}
	now := func() time.Time { return morning }

	broker := events.NewBroker(logging.Noop())
	st := state.NewStationState(nil, state.WithClock(now))
	tc := timectrl.NewTimeController(timectrl.NewManualClock(morning), time.Hour)
	auditLog := audit.NewLog(store, nil, now)
	svc := planning.NewService(st, nil,
		planning.WithClock(now),
		planning.WithAudit(auditLog),
		planning.OnPlan(func(_ context.Context, p *core.Plan) {
			broker.Publish(control.TopicPlan, p)
		}),
	)
	ctl := control.New(control.Deps{
		State:     st,
		Planning:  svc,
		Layouts:   &layouts.Resolver{},
		Refresher: poller.New(feed.NewStaticSource(), st, tc, poller.WithAudit(auditLog)),
		Audit:     auditLog,
		Events:    broker,
		Now:       now,
	})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		cancel()
		t.Fatalf("net.Listen: %v", err)
	}
	grpcServer, _ := rpc.NewGRPCServer(ctl, rpc.ServerOptions{Log: logging.Noop()})
	go func() {
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		cancel()
		t.Fatalf("grpc.NewClient: %v", err)
	}
	httpSrv := httptest.NewServer(httpapi.NewRouter(httpapi.Options{Controller: ctl, Events: broker}))

	t.Cleanup(func() {
		cancel()
		broker.Close()
		httpSrv.Close()
		grpcServer.GracefulStop()
		_ = conn.Close()
		_ = store.Close()
	})
	return &e2eTestEnv{ctx: ctx, client: rpc.NewClient(conn), http: httpSrv}
}

// subscribe opens the event stream and returns a channel of frames that is
// closed when the stream ends.
func (e *e2eTestEnv) subscribe(t *testing.T) <-chan frame {
	t.Helper()
	req, err := http.NewRequestWithContext(e.ctx, http.MethodGet, e.http.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	out := make(chan frame, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		var cur frame
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if cur.topic != "" {
					out <- cur
				}
				cur = frame{}
			case strings.HasPrefix(line, "event: "):
				cur.topic = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return out
}

func waitFor(t *testing.T, frames <-chan frame, topic string) frame {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatalf("event stream closed before %q", topic)
			}
			if f.topic == topic {
				return f
			}
		case <-timeout:
			t.Fatalf("no %q event within 5s", topic)
		}
	}
}

func (e *e2eTestEnv) post(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := e.http.Client().Post(e.http.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode POST %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestEndToEndPlanning(t *testing.T) {
	env := newE2ETestEnv(t)
	ctx := env.ctx
	frames := env.subscribe(t)

	// The subscription registers asynchronously; reselect the station until
	// the stream delivers the announcement.
	stationSeen := make(chan struct{})
	reselectDone := make(chan struct{})
	go func() {
		defer close(reselectDone)
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stationSeen:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = env.client.Call(ctx, "SelectStation", map[string]string{"code": "NDLS"}, nil)
			}
		}
	}()
	station := waitFor(t, frames, control.TopicStation)
	close(stationSeen)
	<-reselectDone
	if !strings.Contains(station.data, `"NDLS"`) {
		t.Fatalf("station event = %s, want NDLS", station.data)
	}

	var board control.BoardView
	if err := env.client.Call(ctx, "RefreshBoard", nil, &board); err != nil {
		t.Fatalf("RefreshBoard: %v", err)
	}
	if len(board.Trains) != 5 {
		t.Fatalf("board has %d trains, want 5", len(board.Trains))
	}
	if f := waitFor(t, frames, control.TopicBoard); !strings.Contains(f.data, "12417") {
		t.Fatalf("board event = %s, want 12417 listed", f.data)
	}

	rule := `{"type":"PLATFORM_CLOSURE","details":{"platform":"P3","startTime":"06:00","endTime":"07:30"}}`
	var added control.RuleView
	if code := env.post(t, "/api/rules", rule, &added); code != http.StatusCreated {
		t.Fatalf("POST /api/rules status = %d, want 201", code)
	}
	if f := waitFor(t, frames, control.TopicRules); !strings.Contains(f.data, added.ID) {
		t.Fatalf("rules event = %s, want rule %s", f.data, added.ID)
	}

	var plan core.Plan
	if err := env.client.Call(ctx, "GeneratePlan", nil, &plan); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	var streamed core.Plan
	if err := json.Unmarshal([]byte(waitFor(t, frames, control.TopicPlan).data), &streamed); err != nil {
		t.Fatalf("decode plan event: %v", err)
	}
	if streamed.ID != plan.ID {
		t.Fatalf("streamed plan id = %q, want %q", streamed.ID, plan.ID)
	}
	held := plan.EntriesFor("12417")
	if len(held) == 0 || held[0].Action != model.ActionHold {
		t.Fatalf("12417 entries = %+v, want a HOLD while P3 is closed", held)
	}

	if code := env.post(t, "/api/plan/"+plan.ID+"/approve", `{"train_id":"12417"}`, nil); code != http.StatusOK {
		t.Fatalf("approve status = %d, want 200", code)
	}

	var trail struct {
		Events []audit.Event `json:"events"`
	}
	if err := env.client.Call(ctx, "AuditTrail", nil, &trail); err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	var sawApproval bool
	for _, ev := range trail.Events {
		if strings.HasPrefix(ev.Message, "Plan for 12417 approved") {
			sawApproval = true
		}
	}
	if !sawApproval {
		t.Fatalf("audit trail = %+v, want the approval", trail.Events)
	}
}
