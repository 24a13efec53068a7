// Package control is the operator-facing surface shared by the gRPC and
// HTTP transports: station selection, the live board, scenario rules,
// planning and the audit trail.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/audit"
	"github.com/signalsfoundry/saarathi/internal/feed"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/planning"
	"github.com/signalsfoundry/saarathi/internal/scenario"
	"github.com/signalsfoundry/saarathi/internal/state"
	"github.com/signalsfoundry/saarathi/model"
)

// ErrInvalidRequest wraps client input that fails validation.
var ErrInvalidRequest = errors.New("invalid request")

// Event topics published by the controller and the services it drives.
const (
	TopicStation = "station"
	TopicBoard   = "board"
	TopicRules   = "rules"
	TopicPlan    = "plan"
)

// LayoutResolver finds a station layout.
type LayoutResolver interface {
	Resolve(ctx context.Context, code string) (*model.Topology, string, error)
}

// Refresher refreshes the live board; *poller.Poller implements it.
type Refresher interface {
	Refresh(ctx context.Context) (state.Board, error)
	Trigger()
}

// Publisher pushes change notifications to subscribers.
type Publisher interface {
	Publish(topic string, v any)
}

// Deps are the collaborators of a Controller. State and Planning are
// required. Normalizer converts train states sent with planning requests
// and should match the poller's.
type Deps struct {
	State      *state.StationState
	Planning   *planning.Service
	Layouts    LayoutResolver
	Refresher  Refresher
	Audit      *audit.Log
	Events     Publisher
	Log        logging.Logger
	Now        func() time.Time
	Normalizer feed.Normalizer
}

// Controller implements the operator operations.
type Controller struct {
	d        Deps
	log      logging.Logger
	validate *validator.Validate
}

// New builds a controller.
func New(d Deps) *Controller {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Controller{d: d, log: logging.OrNoop(d.Log), validate: validator.New()}
}

// Stations lists the station catalogue.
func (c *Controller) Stations() []model.Station {
	return model.Stations()
}

// SelectStation switches the active station and requests a board refresh.
func (c *Controller) SelectStation(ctx context.Context, code string) (model.Station, error) {
	st, ok := model.LookupStation(code)
	if !ok {
		return model.Station{}, fmt.Errorf("%w: %q", state.ErrUnknownStation, code)
	}
	if c.d.Layouts == nil {
		return model.Station{}, fmt.Errorf("select station %s: no layout resolver", st.Code)
	}
	topo, source, err := c.d.Layouts.Resolve(ctx, st.Code)
	if err != nil {
		return model.Station{}, err
	}
	if err := c.d.State.SetStation(ctx, st.Code, topo); err != nil {
		return model.Station{}, err
	}
	c.d.Audit.Record(ctx, audit.ActorController, st.Code, "Station switched to %s (%s) using %s layout", st.Name, st.Code, source)
	c.publish(TopicStation, st)
	if c.d.Refresher != nil {
		c.d.Refresher.Trigger()
	}
	return st, nil
}

// ActiveStation returns the active station.
func (c *Controller) ActiveStation() (model.Station, error) {
	return c.d.State.Station()
}

// BoardView is the live board as shown to operators.
type BoardView struct {
	Station   model.Station           `json:"station"`
	Source    string                  `json:"source"`
	FetchedAt time.Time               `json:"fetched_at"`
	Degraded  bool                    `json:"degraded"`
	LastError string                  `json:"last_error,omitempty"`
	Trains    []model.LiveTrainStatus `json:"trains"`
}

// Board returns the current live board.
func (c *Controller) Board() (BoardView, error) {
	st, err := c.d.State.Station()
	if err != nil {
		return BoardView{}, err
	}
	return boardView(st, c.d.State.Board()), nil
}

// RefreshBoard refreshes the live board now. A failed refresh still
// returns the degraded board alongside the error.
func (c *Controller) RefreshBoard(ctx context.Context) (BoardView, error) {
	if c.d.Refresher == nil {
		return c.Board()
	}
	st, err := c.d.State.Station()
	if err != nil {
		return BoardView{}, err
	}
	b, err := c.d.Refresher.Refresh(ctx)
	view := boardView(st, b)
	if err == nil {
		c.publish(TopicBoard, view)
	}
	return view, err
}

func boardView(st model.Station, b state.Board) BoardView {
	rows := b.Statuses
	if rows == nil {
		rows = []model.LiveTrainStatus{}
	}
	return BoardView{
		Station:   st,
		Source:    b.Source,
		FetchedAt: b.FetchedAt,
		Degraded:  b.Degraded,
		LastError: b.LastError,
		Trains:    rows,
	}
}

// RuleView is an active scenario rule.
type RuleView struct {
	model.RuleEnvelope
	Description string    `json:"description"`
	AddedAt     time.Time `json:"added_at"`
}

// Rules lists the active rules and their combined operator instruction.
func (c *Controller) Rules() ([]RuleView, string, error) {
	stored := c.d.State.Rules()
	out := make([]RuleView, 0, len(stored))
	rules := make([]model.ScenarioRule, 0, len(stored))
	for _, sr := range stored {
		env, err := model.EncodeRule(sr.ID, sr.Rule)
		if err != nil {
			return nil, "", err
		}
		out = append(out, RuleView{RuleEnvelope: env, Description: sr.Rule.Describe(), AddedAt: sr.AddedAt})
		rules = append(rules, sr.Rule)
	}
	return out, scenario.Describe(rules), nil
}

// AddRule validates and activates a rule given in its JSON envelope form.
func (c *Controller) AddRule(ctx context.Context, env model.RuleEnvelope) (RuleView, error) {
	if err := c.validate.Struct(env); err != nil {
		return RuleView{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	r, err := env.Decode(c.d.Now())
	if err != nil {
		return RuleView{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := checkRule(r); err != nil {
		return RuleView{}, err
	}
	sr, err := c.d.State.AddRule(r)
	if err != nil {
		return RuleView{}, err
	}
	st, _ := c.d.State.Station()
	c.d.Audit.Record(ctx, audit.ActorController, st.Code, "Scenario rule added: %s", r.Describe())
	c.publishRules()

	out, err := model.EncodeRule(sr.ID, r)
	if err != nil {
		return RuleView{}, err
	}
	return RuleView{RuleEnvelope: out, Description: r.Describe(), AddedAt: sr.AddedAt}, nil
}

// RemoveRule deactivates one rule.
func (c *Controller) RemoveRule(ctx context.Context, id string) error {
	if err := c.d.State.RemoveRule(id); err != nil {
		return err
	}
	st, _ := c.d.State.Station()
	c.d.Audit.Record(ctx, audit.ActorController, st.Code, "Scenario rule %s removed", id)
	c.publishRules()
	return nil
}

// ClearRules deactivates every rule.
func (c *Controller) ClearRules(ctx context.Context) int {
	n := c.d.State.ClearRules()
	if n > 0 {
		st, _ := c.d.State.Station()
		c.d.Audit.Record(ctx, audit.ActorController, st.Code, "Cleared %d scenario rules", n)
		c.publishRules()
	}
	return n
}

// ImportScenario activates the rules of an HCL scenario file. A file
// naming another station is refused. The file's override text is
// returned for the caller to plan with.
func (c *Controller) ImportScenario(ctx context.Context, src []byte) ([]RuleView, string, error) {
	st, err := c.d.State.Station()
	if err != nil {
		return nil, "", err
	}
	sc, err := scenario.Decode(src, "scenario.hcl", c.d.Now(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if sc.Station != "" && sc.Station != st.Code {
		return nil, "", fmt.Errorf("%w: scenario is for %s, active station is %s", ErrInvalidRequest, sc.Station, st.Code)
	}
	for _, r := range sc.Rules {
		if err := checkRule(r); err != nil {
			return nil, "", err
		}
	}
	var added []RuleView
	for _, r := range sc.Rules {
		sr, err := c.d.State.AddRule(r)
		if err != nil {
			return nil, "", err
		}
		env, err := model.EncodeRule(sr.ID, r)
		if err != nil {
			return nil, "", err
		}
		added = append(added, RuleView{RuleEnvelope: env, Description: r.Describe(), AddedAt: sr.AddedAt})
	}
	c.d.Audit.Record(ctx, audit.ActorController, st.Code, "Imported %d scenario rules", len(added))
	c.publishRules()
	return added, sc.Override.Text, nil
}

// ExportScenario renders the active rules as an HCL scenario file.
func (c *Controller) ExportScenario() ([]byte, error) {
	st, err := c.d.State.Station()
	if err != nil {
		return nil, err
	}
	stored := c.d.State.Rules()
	rules := make([]model.ScenarioRule, 0, len(stored))
	for _, sr := range stored {
		rules = append(rules, sr.Rule)
	}
	return scenario.Encode(st.Code, rules), nil
}

// PlanInput is a planning or prediction request. Topology and TrainStates
// replace the active layout and live board when present.
type PlanInput struct {
	Topology     json.RawMessage         `json:"topology,omitempty"`
	TrainStates  []model.LiveTrainStatus `json:"train_states,omitempty" validate:"omitempty,dive"`
	Rules        []model.RuleEnvelope    `json:"scenario_rules,omitempty" validate:"omitempty,dive"`
	OverrideText string                  `json:"manual_override_text,omitempty" validate:"max=4000"`
}

// Plan generates a plan.
func (c *Controller) Plan(ctx context.Context, in PlanInput) (*core.Plan, error) {
	req, err := c.planningRequest(ctx, in)
	if err != nil {
		return nil, err
	}
	return c.d.Planning.Plan(ctx, req)
}

// Predict forecasts conflicts. Rules and override text are ignored.
func (c *Controller) Predict(ctx context.Context, in PlanInput) (*core.Prediction, error) {
	req, err := c.planningRequest(ctx, in)
	if err != nil {
		return nil, err
	}
	return c.d.Planning.Predict(ctx, req)
}

// Approve records approval of one train's part of a plan.
func (c *Controller) Approve(ctx context.Context, planID, trainID string) error {
	if strings.TrimSpace(planID) == "" || strings.TrimSpace(trainID) == "" {
		return fmt.Errorf("%w: plan_id and train_id are required", ErrInvalidRequest)
	}
	return c.d.Planning.Approve(ctx, planID, trainID)
}

// LastPlan returns the last accepted plan.
func (c *Controller) LastPlan() (*core.Plan, bool) {
	return c.d.State.LastPlan()
}

// AuditTrail returns the newest audit events.
func (c *Controller) AuditTrail(ctx context.Context, limit int) ([]audit.Event, error) {
	events, err := c.d.Audit.Recent(ctx, limit)
	if events == nil {
		events = []audit.Event{}
	}
	return events, err
}

func (c *Controller) planningRequest(ctx context.Context, in PlanInput) (planning.Request, error) {
	if err := c.validate.Struct(in); err != nil {
		return planning.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	st, err := c.d.State.Station()
	if err != nil {
		return planning.Request{}, err
	}
	now := c.d.Now()
	req := planning.Request{OverrideText: in.OverrideText}

	if len(in.Topology) > 0 {
		topo, err := core.DecodeTopology(strings.NewReader(string(in.Topology)), st.Code)
		if err != nil {
			return planning.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		req.Topology = topo
	}
	if in.TrainStates != nil {
		trains, _, warnings := c.d.Normalizer.Normalize(st.Code, in.TrainStates, now)
		for _, w := range warnings {
			c.log.Warn(ctx, "request train state", logging.String("warning", w))
		}
		req.Trains = trains
	}
	for _, env := range in.Rules {
		r, err := env.Decode(now)
		if err != nil {
			return planning.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		req.Rules = append(req.Rules, r)
	}
	return req, nil
}

func checkRule(r model.ScenarioRule) error {
	switch v := r.(type) {
	case model.PlatformClosure:
		if strings.TrimSpace(v.Platform) == "" {
			return fmt.Errorf("%w: closure needs a platform", ErrInvalidRequest)
		}
		if !v.End.After(v.Start) {
			return fmt.Errorf("%w: closure window %s-%s is empty", ErrInvalidRequest, model.FormatClock(v.Start), model.FormatClock(v.End))
		}
	case model.AddDelay:
		if v.TrainID == "" || v.DelayMinutes <= 0 {
			return fmt.Errorf("%w: delay needs a train and a positive number of minutes", ErrInvalidRequest)
		}
	case model.PrioritizeTrain:
		if v.TrainID == "" {
			return fmt.Errorf("%w: prioritize needs a train", ErrInvalidRequest)
		}
	}
	return nil
}

func (c *Controller) publishRules() {
	if c.d.Events == nil {
		return
	}
	views, text, err := c.Rules()
	if err != nil {
		return
	}
	c.publish(TopicRules, map[string]any{"rules": views, "description": text})
}

func (c *Controller) publish(topic string, v any) {
	if c.d.Events != nil {
		c.d.Events.Publish(topic, v)
	}
}
