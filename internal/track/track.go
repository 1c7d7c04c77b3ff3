// Package track defines the in-memory driving track model shared by the
// pipeline, the importer and the canonical store.
package track

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

// Point is a single GPS fix. Speed is nil when the device did not record one.
type Point struct {
	Lat   float64
	Lon   float64
	Time  time.Time
	Speed *float64
}

// Pos returns the point position as an orb.Point.
func (p Point) Pos() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Segment is a run of points without an explicit break.
type Segment struct {
	Points []Point
}

// Track is one recording session.
type Track struct {
	// SourceTimestamp is the time of the first raw point, assigned once at
	// ingestion. Stages never touch it.
	SourceTimestamp time.Time

	Creator string
	Device  string
	Origin  string

	Segments []Segment

	// Attributes maintained by hand in the canonical store.
	Role         string
	VehicleOwner string
	Comments     string
}

// Float returns a pointer to v, for building points with a speed.
func Float(v float64) *float64 {
	return &v
}

// Key normalises a timestamp to the canonical store index key.
func Key(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FirstTime returns the earliest segment start of the track.
func (t *Track) FirstTime() (time.Time, bool) {
	var first time.Time
	found := false
	for _, seg := range t.Segments {
		if len(seg.Points) == 0 {
			continue
		}
		ts := seg.Points[0].Time
		if !found || ts.Before(first) {
			first = ts
			found = true
		}
	}
	return first, found
}

// UTCStart is the time of the first point across all segments.
func (t *Track) UTCStart() time.Time {
	for _, seg := range t.Segments {
		if len(seg.Points) > 0 {
			return seg.Points[0].Time.UTC()
		}
	}
	return time.Time{}
}

// UTCStop is the time of the last point across all segments.
func (t *Track) UTCStop() time.Time {
	for i := len(t.Segments) - 1; i >= 0; i-- {
		if n := len(t.Segments[i].Points); n > 0 {
			return t.Segments[i].Points[n-1].Time.UTC()
		}
	}
	return time.Time{}
}

// PointCount returns the number of points across all segments.
func (t *Track) PointCount() int {
	n := 0
	for _, seg := range t.Segments {
		n += len(seg.Points)
	}
	return n
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	c := *t
	c.Segments = make([]Segment, len(t.Segments))
	for i, seg := range t.Segments {
		pts := make([]Point, len(seg.Points))
		for j, p := range seg.Points {
			if p.Speed != nil {
				p.Speed = Float(*p.Speed)
			}
			pts[j] = p
		}
		c.Segments[i] = Segment{Points: pts}
	}
	return &c
}

// Validate checks that every point decoded into a usable fix.
func (t *Track) Validate() error {
	if t.PointCount() == 0 {
		return &MalformedInputError{Origin: t.Origin, Reason: "track has no points"}
	}
	for si, seg := range t.Segments {
		for pi, p := range seg.Points {
			if p.Time.IsZero() {
				return &MalformedInputError{
					Origin: t.Origin,
					Reason: fmt.Sprintf("segment %d point %d: missing time", si, pi),
				}
			}
			if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
				return &MalformedInputError{
					Origin: t.Origin,
					Reason: fmt.Sprintf("segment %d point %d: invalid coordinates %f,%f", si, pi, p.Lat, p.Lon),
				}
			}
			if p.Speed != nil && (math.IsNaN(*p.Speed) || math.IsInf(*p.Speed, 0)) {
				return &MalformedInputError{
					Origin: t.Origin,
					Reason: fmt.Sprintf("segment %d point %d: invalid speed", si, pi),
				}
			}
		}
	}
	return nil
}

// MultiLineString returns the track geometry, one line per segment.
func (t *Track) MultiLineString() orb.MultiLineString {
	mls := make(orb.MultiLineString, 0, len(t.Segments))
	for _, seg := range t.Segments {
		ls := make(orb.LineString, len(seg.Points))
		for i, p := range seg.Points {
			ls[i] = p.Pos()
		}
		mls = append(mls, ls)
	}
	return mls
}

// MalformedInputError reports a raw track that did not decode into valid points.
type MalformedInputError struct {
	Origin string
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	msg := "malformed input"
	if e.Origin != "" {
		msg += " " + e.Origin
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}
