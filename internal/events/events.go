// Package events fans station changes out to dashboard clients as
// server-sent events.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/r3labs/sse/v2"

	"github.com/signalsfoundry/saarathi/internal/logging"
)

// StreamName is the stream every change is published on. The SSE event
// name carries the topic.
const StreamName = "updates"

// Broker publishes JSON change notifications over SSE. It implements
// control.Publisher.
type Broker struct {
	srv    *sse.Server
	log    logging.Logger
	closed atomic.Bool
	// Published counts events handed to the stream.
	published atomic.Uint64
}

// NewBroker returns a broker with its stream created. Late subscribers do
// not get a replay; they read current state from the REST API.
func NewBroker(log logging.Logger) *Broker {
	srv := sse.New()
	srv.AutoReplay = false
	srv.AutoStream = false
	srv.CreateStream(StreamName)
	return &Broker{srv: srv, log: logging.OrNoop(log)}
}

// Publish encodes v and pushes it under topic. It never blocks on slow
// subscribers; events a full subscriber cannot take are dropped.
func (b *Broker) Publish(topic string, v any) {
	if b == nil || b.closed.Load() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Warn(context.Background(), "event encode failed",
			logging.String("topic", topic),
			logging.Err(err),
		)
		return
	}
	if b.srv.TryPublish(StreamName, &sse.Event{Event: []byte(topic), Data: data}) {
		b.published.Add(1)
	}
}

// Published reports how many events reached the stream.
func (b *Broker) Published() uint64 {
	if b == nil {
		return 0
	}
	return b.published.Load()
}

// ServeHTTP subscribes the client to the update stream. The stream query
// parameter is optional.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "" {
		r = r.Clone(r.Context())
		q := r.URL.Query()
		q.Set("stream", StreamName)
		r.URL.RawQuery = q.Encode()
	}
	b.srv.ServeHTTP(w, r)
}

// Close disconnects every subscriber.
func (b *Broker) Close() {
	if b == nil || !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.srv.Close()
}
