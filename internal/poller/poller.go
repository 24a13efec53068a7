// Package poller keeps the active station's live board fresh: it fetches
// from a feed source on a fixed interval and whenever a refresh is
// requested.
package poller

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/audit"
	"github.com/signalsfoundry/saarathi/internal/feed"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/observability"
	"github.com/signalsfoundry/saarathi/internal/state"
	"github.com/signalsfoundry/saarathi/timectrl"
)

// DefaultInterval is how often the board is refreshed without a trigger.
const DefaultInterval = 15 * time.Minute

// Poller refreshes the live board of whatever station is active.
type Poller struct {
	source     feed.Source
	state      *state.StationState
	tc         *timectrl.TimeController
	normalizer feed.Normalizer

	metrics   *observability.PlannerCollector
	audit     *audit.Log
	log       logging.Logger
	onRefresh []func(context.Context, state.Board)
}

// Option customises a Poller.
type Option func(*Poller)

// WithMetrics records refresh outcomes.
func WithMetrics(m *observability.PlannerCollector) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithAudit writes refresh events to the audit log.
func WithAudit(a *audit.Log) Option {
	return func(p *Poller) { p.audit = a }
}

// WithNormalizer overrides the default board normalizer.
func WithNormalizer(n feed.Normalizer) Option {
	return func(p *Poller) { p.normalizer = n }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Poller) { p.log = logging.OrNoop(l) }
}

// OnRefresh registers a callback run after every successful refresh.
func OnRefresh(fn func(context.Context, state.Board)) Option {
	return func(p *Poller) {
		if fn != nil {
			p.onRefresh = append(p.onRefresh, fn)
		}
	}
}

// New builds a poller driven by tc. A nil tc ticks on wall time every
// DefaultInterval.
func New(source feed.Source, st *state.StationState, tc *timectrl.TimeController, opts ...Option) *Poller {
	if tc == nil {
		tc = timectrl.NewTimeController(nil, DefaultInterval)
	}
	p := &Poller{
		source: source,
		state:  st,
		tc:     tc,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Refresh fetches and installs the board for the active station. On a
// fetch failure the previous board stays, marked degraded, and the error
// carries UPSTREAM_FEED_UNAVAILABLE.
func (p *Poller) Refresh(ctx context.Context) (state.Board, error) {
	st, err := p.state.Station()
	if err != nil {
		return state.Board{}, err
	}
	now := p.tc.Now()

	ctx, span := observability.StartSpan(ctx, "feed.refresh", st.Code, attribute.String("source", p.source.Name()))
	rows, err := p.source.Fetch(ctx, st.Code)
	if err != nil {
		if !errors.Is(err, core.ErrUpstreamFeedUnavailable) {
			err = &core.Error{Code: core.CodeUpstreamFeedUnavailable, Resource: st.Code, Msg: p.source.Name() + " live board", Err: err}
		}
		observability.EndSpan(span, err)
		p.metrics.ObserveFeedRefresh(p.source.Name(), err, now)
		if markErr := p.state.MarkDegraded(st.Code, err); markErr != nil {
			p.log.Warn(ctx, "could not mark board degraded", logging.Err(markErr))
		}
		p.audit.Record(ctx, audit.ActorSystem, st.Code, "Live data refresh failed; keeping last snapshot")
		p.log.Warn(ctx, "live board refresh failed",
			logging.String("station", st.Code),
			logging.String("source", p.source.Name()),
			logging.Err(err),
		)
		return p.state.Board(), err
	}

	trains, statuses, warnings := p.normalizer.Normalize(st.Code, rows, now)
	board := state.Board{
		Source:    p.source.Name(),
		Trains:    trains,
		Statuses:  statuses,
		FetchedAt: now,
	}
	span.SetAttributes(attribute.Int("trains", len(trains)))
	if err := p.state.UpdateBoard(st.Code, board); err != nil {
		// The station was switched while fetching.
		observability.EndSpan(span, err)
		return state.Board{}, err
	}
	observability.EndSpan(span, nil)
	p.metrics.ObserveFeedRefresh(p.source.Name(), nil, now)
	p.audit.Record(ctx, audit.ActorSystem, st.Code, "Real-time traffic data refreshed (%d trains)", len(trains))

	for _, w := range warnings {
		p.log.Warn(ctx, "live board row", logging.String("station", st.Code), logging.String("warning", w))
	}
	p.log.Info(ctx, "live board refreshed",
		logging.String("station", st.Code),
		logging.String("source", p.source.Name()),
		logging.Int("trains", len(trains)),
	)
	for _, fn := range p.onRefresh {
		fn(ctx, board)
	}
	return board, nil
}

// Run refreshes immediately, then on every tick and Trigger until ctx is
// cancelled. Failed refreshes are retried on the next tick only.
func (p *Poller) Run(ctx context.Context) error {
	p.tc.AddListener(func(ctx context.Context, _ time.Time) {
		if _, err := p.Refresh(ctx); errors.Is(err, state.ErrNoStation) {
			p.log.Debug(ctx, "refresh skipped: no active station")
		}
	})
	return p.tc.Run(ctx)
}

// Trigger requests an out-of-band refresh.
func (p *Poller) Trigger() {
	p.tc.Trigger()
}
