// Package state holds the mutable session state of one controlled station:
// its layout, the live board, the operator's scenario rules and the last
// accepted plan.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/kb"
	"github.com/signalsfoundry/saarathi/model"
)

var (
	// ErrNoStation indicates no station layout has been loaded yet.
	ErrNoStation = errors.New("no active station")
	// ErrUnknownStation indicates a station code outside the catalogue.
	ErrUnknownStation = errors.New("unknown station")
	// ErrRuleNotFound indicates a scenario rule id that is not active.
	ErrRuleNotFound = errors.New("scenario rule not found")
	// ErrStaleStation indicates a result computed for a station that is no
	// longer active.
	ErrStaleStation = errors.New("result belongs to a previous station")
)

// Board is the latest live board as normalised by the feed.
type Board struct {
	Source    string
	Trains    []model.Train
	Statuses  []model.LiveTrainStatus
	FetchedAt time.Time
	// Degraded is set when the last refresh failed and Trains is the
	// previous snapshot.
	Degraded  bool
	LastError string
}

// StoredRule is an active scenario rule with its id.
type StoredRule struct {
	ID      string             `json:"id"`
	Rule    model.ScenarioRule `json:"-"`
	AddedAt time.Time          `json:"added_at"`
}

// Snapshot is a coherent copy of the state. It shares nothing with the
// StationState and may be used freely by planning runs.
type Snapshot struct {
	Station  model.Station
	Topology *model.Topology
	Board    Board
	Rules    []StoredRule
	LastPlan *core.Plan
}

// RuleList returns the rules without their ids.
func (s *Snapshot) RuleList() []model.ScenarioRule {
	out := make([]model.ScenarioRule, 0, len(s.Rules))
	for _, r := range s.Rules {
		out = append(out, r.Rule)
	}
	return out
}

// MetricsRecorder receives count updates for the station entities.
type MetricsRecorder interface {
	SetStationCounts(nodes, platforms, tracks, trains, rules int)
}

// Option customises StationState construction.
type Option func(*StationState)

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *StationState) {
		s.metrics = m
	}
}

// WithClock overrides the time source used to stamp rules.
func WithClock(now func() time.Time) Option {
	return func(s *StationState) {
		if now != nil {
			s.now = now
		}
	}
}

// StationState coordinates the station layout KB with the transient session
// data. All methods are safe for concurrent use.
type StationState struct {
	// mu is taken before the KB lock whenever both are needed.
	mu sync.RWMutex

	station model.Station
	loaded  bool
	layout  *kb.KnowledgeBase
	board   Board
	rules   []StoredRule
	plan    *core.Plan

	log     logging.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// NewStationState returns a state with no station loaded.
func NewStationState(log logging.Logger, opts ...Option) *StationState {
	s := &StationState{
		layout: kb.NewKnowledgeBase(""),
		log:    logging.OrNoop(log),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.updateMetricsLocked()
	return s
}

// Layout exposes the station layout KB, mainly for subscriptions.
func (s *StationState) Layout() *kb.KnowledgeBase {
	return s.layout
}

// Station returns the active station.
func (s *StationState) Station() (model.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return model.Station{}, ErrNoStation
	}
	return s.station, nil
}

// SetStation makes code the active station with the given layout. Trains,
// rules and the last plan belong to the previous station and are cleared.
func (s *StationState) SetStation(ctx context.Context, code string, topo *model.Topology) error {
	st, ok := model.LookupStation(code)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStation, code)
	}
	if topo == nil {
		return fmt.Errorf("set station %s: nil layout", st.Code)
	}
	topo = topo.Clone()
	if topo.StationCode == "" {
		topo.StationCode = st.Code
	}
	if !strings.EqualFold(topo.StationCode, st.Code) {
		return fmt.Errorf("set station %s: layout is for %s", st.Code, topo.StationCode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.layout.Replace(topo); err != nil {
		return fmt.Errorf("set station %s: %w", st.Code, err)
	}
	s.station = st
	s.loaded = true
	s.board = Board{}
	s.rules = nil
	s.plan = nil
	s.updateMetricsLocked()

	nodes, platforms, tracks := s.layout.Counts()
	s.log.Info(ctx, "station activated",
		logging.String("station", st.Code),
		logging.Int("nodes", nodes),
		logging.Int("platforms", platforms),
		logging.Int("tracks", tracks),
	)
	return nil
}

// UpdateBoard installs a freshly fetched board for the active station.
func (s *StationState) UpdateBoard(station string, b Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStationLocked(station); err != nil {
		return err
	}
	b.Trains = cloneTrains(b.Trains)
	b.Statuses = append([]model.LiveTrainStatus(nil), b.Statuses...)
	b.Degraded = false
	b.LastError = ""
	s.board = b
	s.updateMetricsLocked()
	return nil
}

// MarkDegraded records a failed refresh. The previous trains stay in place.
func (s *StationState) MarkDegraded(station string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStationLocked(station); err != nil {
		return err
	}
	s.board.Degraded = true
	if cause != nil {
		s.board.LastError = cause.Error()
	}
	return nil
}

// Board returns a copy of the current board.
func (s *StationState) Board() Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.board
	b.Trains = cloneTrains(b.Trains)
	b.Statuses = append([]model.LiveTrainStatus(nil), b.Statuses...)
	return b
}

// AddRule activates a scenario rule and returns it with its new id.
func (s *StationState) AddRule(r model.ScenarioRule) (StoredRule, error) {
	if r == nil {
		return StoredRule{}, errors.New("scenario rule is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return StoredRule{}, ErrNoStation
	}
	sr := StoredRule{ID: uuid.NewString(), Rule: r, AddedAt: s.now()}
	s.rules = append(s.rules, sr)
	s.updateMetricsLocked()
	return sr, nil
}

// RemoveRule deactivates the rule with the given id.
func (s *StationState) RemoveRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i:i], s.rules[i+1:]...)
			s.updateMetricsLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// ClearRules drops every active rule and returns how many there were.
func (s *StationState) ClearRules() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rules)
	s.rules = nil
	s.updateMetricsLocked()
	return n
}

// Rules returns the active rules in the order they were added.
func (s *StationState) Rules() []StoredRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredRule(nil), s.rules...)
}

// SetLastPlan stores an accepted plan. Plans for another station are
// refused.
func (s *StationState) SetLastPlan(p *core.Plan) error {
	if p == nil {
		return errors.New("plan is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStationLocked(p.Station); err != nil {
		return err
	}
	s.plan = p
	return nil
}

// LastPlan returns the last accepted plan, if any.
func (s *StationState) LastPlan() (*core.Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan, s.plan != nil
}

// Snapshot returns a deep copy of everything a planning run reads.
func (s *StationState) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, ErrNoStation
	}
	b := s.board
	b.Trains = cloneTrains(b.Trains)
	b.Statuses = append([]model.LiveTrainStatus(nil), b.Statuses...)
	return &Snapshot{
		Station:  s.station,
		Topology: s.layout.Topology(),
		Board:    b,
		Rules:    append([]StoredRule(nil), s.rules...),
		LastPlan: s.plan,
	}, nil
}

// checkStationLocked fails unless station is the active one. Caller must
// hold s.mu.
func (s *StationState) checkStationLocked(station string) error {
	if !s.loaded {
		return ErrNoStation
	}
	if !strings.EqualFold(station, s.station.Code) {
		return fmt.Errorf("%w: %s is not %s", ErrStaleStation, station, s.station.Code)
	}
	return nil
}

func (s *StationState) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	nodes, platforms, tracks := s.layout.Counts()
	s.metrics.SetStationCounts(nodes, platforms, tracks, len(s.board.Trains), len(s.rules))
}

func cloneTrains(in []model.Train) []model.Train {
	if in == nil {
		return nil
	}
	out := make([]model.Train, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
