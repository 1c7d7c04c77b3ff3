// Package audit receives what an import run did to every track, so nothing
// the pipeline drops goes unrecorded.
package audit

import (
	"time"

	"github.com/planbiir/drivelog/internal/track"
)

// Kind classifies an audit event.
type Kind string

const (
	KindPointsRemoved  Kind = "points_removed"
	KindSegmentDropped Kind = "segment_dropped"
	KindMerged         Kind = "merged"
	KindDuplicate      Kind = "duplicate"
	KindCollision      Kind = "collision"
	KindRejected       Kind = "rejected"
	KindEmpty          Kind = "empty"
	KindMalformed      Kind = "malformed"
	KindIgnored        Kind = "ignored"
	KindBatch          Kind = "batch"
)

// Event is one audit record. Points is set for removals, Count for
// segment drops and batch totals.
type Event struct {
	RunID           string
	Kind            Kind
	Origin          string
	SourceTimestamp time.Time
	Stage           string
	Reason          string
	Points          []track.Point
	Count           int
	Err             error
}

// Sink receives audit events.
type Sink interface {
	Record(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Record(e Event) { f(e) }

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Record(e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Recorder keeps events in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Record(e Event) {
	r.Events = append(r.Events, e)
}

// Of returns the recorded events of the given kind.
func (r *Recorder) Of(kind Kind) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
