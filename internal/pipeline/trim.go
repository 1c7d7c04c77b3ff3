package pipeline

import (
	"github.com/planbiir/drivelog/internal/geo"
	"github.com/planbiir/drivelog/internal/track"
)

// TrimSegments cuts the parked head and tail off every segment: everything
// before the first and after the last point whose rolling median speed
// reaches MinSpeed. Segments shorter than the window or without speeds are
// left alone. The cut repeats until the ends stop moving.
func TrimSegments(t *track.Track, p Params, res *Result) error {
	p = p.withDefaults()

	segments := t.Segments[:0]
	for si, seg := range t.Segments {
		pts := seg.Points
		first, last, ok := trimRange(pts, p)
		if !ok {
			if p.OnNoMotion == NoMotionDropSegment {
				res.dropped(StageTrim, "no_motion", si, seg)
				continue
			}
			return &InsufficientDataError{Stage: StageTrim, Segment: si, Reason: "no motion above threshold"}
		}
		if first == 0 && last == len(pts)-1 {
			segments = append(segments, seg)
			continue
		}

		res.removed(StageTrim, "parked", si, append(append([]track.Point(nil), pts[:first]...), pts[last+1:]...))
		segments = append(segments, track.Segment{Points: pts[first : last+1]})
	}
	t.Segments = segments
	return nil
}

// trimRange narrows pts to its moving part until trimming it again would
// not change it. ok is false when a range long enough to judge has no motion.
func trimRange(pts []track.Point, p Params) (first, last int, ok bool) {
	first, last = 0, len(pts)-1
	for {
		window := pts[first : last+1]
		if len(window) < p.RollingWindow || !hasSpeed(window) {
			return first, last, true
		}
		f, l, moving := motionRange(window, p)
		if !moving {
			return 0, 0, false
		}
		if f == 0 && l == len(window)-1 {
			return first, last, true
		}
		first, last = first+f, first+l
	}
}

// motionRange returns the first and last index whose median speed is at or
// above the motion threshold.
func motionRange(pts []track.Point, p Params) (first, last int, ok bool) {
	medians := geo.RollingMedian(speedValues(pts), p.RollingWindow)

	first, last = -1, -1
	for i, m := range medians {
		if m >= p.MinSpeed {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last, first >= 0
}
