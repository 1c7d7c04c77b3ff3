package pipeline

import (
	"math"

	"github.com/planbiir/drivelog/internal/geo"
	"github.com/planbiir/drivelog/internal/track"
)

// FilterSpeed removes points whose rolling median speed is below MinSpeed.
// Points without a recorded speed always pass. Segments emptied by the
// filter are dropped and reported.
// The filter repeats until a pass removes nothing.
func FilterSpeed(t *track.Track, p Params, res *Result) error {
	p = p.withDefaults()

	segments := t.Segments[:0]
	for si, seg := range t.Segments {
		if len(seg.Points) == 0 {
			segments = append(segments, seg)
			continue
		}

		kept, removed := dropSlow(seg.Points, p)
		res.removed(StageFilterSpeed, "slow", si, removed)

		if len(kept) == 0 {
			res.dropped(StageFilterSpeed, "no_points_left", si, seg)
			continue
		}
		segments = append(segments, track.Segment{Points: kept})
	}
	t.Segments = segments
	return nil
}

// dropSlow splits pts into the points that survive repeated slowPoints passes
// and the ones removed along the way, both in recorded order.
func dropSlow(pts []track.Point, p Params) (kept, removed []track.Point) {
	idx := make([]int, len(pts))
	for i := range idx {
		idx[i] = i
	}
	gone := make([]bool, len(pts))

	for len(idx) > 0 {
		view := make([]track.Point, len(idx))
		for i, j := range idx {
			view[i] = pts[j]
		}
		slow := slowPoints(view, p)

		next := make([]int, 0, len(idx))
		for i, j := range idx {
			if slow[i] {
				gone[j] = true
			} else {
				next = append(next, j)
			}
		}
		if len(next) == len(idx) {
			break
		}
		idx = next
	}

	kept = make([]track.Point, 0, len(pts))
	for i, pt := range pts {
		if gone[i] {
			removed = append(removed, pt)
		} else {
			kept = append(kept, pt)
		}
	}
	return kept, removed
}

// slowPoints marks the points the configured method would drop.
func slowPoints(pts []track.Point, p Params) []bool {
	speeds := speedValues(pts)
	slow := make([]bool, len(pts))

	switch p.Method {
	case MethodExtended:
		trailing := geo.TrailingMedian(speeds, p.RollingWindow)
		leading := geo.LeadingMedian(speeds, p.RollingWindow)
		for i := range pts {
			slow[i] = pts[i].Speed != nil && trailing[i] < p.MinSpeed && leading[i] < p.MinSpeed
		}
	default:
		medians := geo.RollingMedian(speeds, p.RollingWindow)
		for i := range pts {
			slow[i] = pts[i].Speed != nil && medians[i] < p.MinSpeed
		}
	}
	return slow
}

// speedValues returns recorded speeds with NaN where a point has none.
func speedValues(pts []track.Point) []float64 {
	speeds := make([]float64, len(pts))
	for i, pt := range pts {
		if pt.Speed == nil {
			speeds[i] = math.NaN()
			continue
		}
		speeds[i] = *pt.Speed
	}
	return speeds
}

// hasSpeed reports whether any point carries a recorded speed.
func hasSpeed(pts []track.Point) bool {
	for _, pt := range pts {
		if pt.Speed != nil {
			return true
		}
	}
	return false
}
