package pipeline

import (
	"math"

	"github.com/planbiir/drivelog/internal/geo"
	"github.com/planbiir/drivelog/internal/track"
)

// RemoveOutliers drops points that travel back in time and points whose
// implied speed makes them inconsistent with both neighbours.
func RemoveOutliers(t *track.Track, p Params, res *Result) error {
	p = p.withDefaults()

	for si := range t.Segments {
		pts := t.Segments[si].Points
		if len(pts) == 0 {
			continue
		}

		ordered, travelled := removeTimeTravel(pts, p.MaxTimeTravel)
		res.removed(StageRemoveOutliers, "time_travel", si, travelled)

		kept, spikes := removeSpeedSpikes(ordered, p.MaxSpeed)
		res.removed(StageRemoveOutliers, "speed_spike", si, spikes)

		if len(kept) == 0 {
			return &InsufficientDataError{Stage: StageRemoveOutliers, Segment: si, Reason: "no points left"}
		}
		t.Segments[si].Points = kept
	}

	if t.PointCount() < 1 {
		return &InsufficientDataError{Stage: StageRemoveOutliers, Reason: "track has no points"}
	}
	return nil
}

// removeTimeTravel drops short runs of points recorded out of order. At
// every backwards jump it looks for the end of the run within maxRun points
// on either side: a run after the jump that ends once time passes the last
// fix before it, or a run before the jump that starts after a fix older than
// the first one behind it. Longer runs are kept as they are.
func removeTimeTravel(pts []track.Point, maxRun int) (kept, removed []track.Point) {
	n := len(pts)
	drop := make([]bool, n)

	for b := 1; b < n; b++ {
		if !pts[b].Time.Before(pts[b-1].Time) {
			continue
		}

		before := pts[b-1].Time
		for j := b; j < n && j < b+maxRun; j++ {
			if pts[j].Time.After(before) {
				for k := b; k < j; k++ {
					drop[k] = true
				}
				break
			}
		}

		after := pts[b].Time
		for j := b - 1; j >= 0 && j >= b-maxRun; j-- {
			if pts[j].Time.Before(after) {
				for k := j + 1; k < b; k++ {
					drop[k] = true
				}
				break
			}
		}
	}

	kept = make([]track.Point, 0, n)
	for i, pt := range pts {
		if drop[i] {
			removed = append(removed, pt)
		} else {
			kept = append(kept, pt)
		}
	}
	return kept, removed
}

// removeSpeedSpikes walks the points and drops one only when both of its
// transitions are impossible while skipping it is plausible. Sustained jumps
// where both sides agree with each other are kept.
func removeSpeedSpikes(pts []track.Point, maxSpeed float64) (kept, removed []track.Point) {
	n := len(pts)
	kept = make([]track.Point, 0, n)

	for i := 0; i < n; i++ {
		cur := pts[i]

		if len(kept) == 0 {
			// Leading fix that disagrees with an otherwise consistent start
			if i+2 < n && impliedSpeed(cur, pts[i+1]) > maxSpeed && impliedSpeed(pts[i+1], pts[i+2]) <= maxSpeed {
				removed = append(removed, cur)
				continue
			}
			kept = append(kept, cur)
			continue
		}

		prev := kept[len(kept)-1]
		if impliedSpeed(prev, cur) <= maxSpeed {
			kept = append(kept, cur)
			continue
		}

		if i == n-1 || (impliedSpeed(prev, pts[i+1]) <= maxSpeed && impliedSpeed(cur, pts[i+1]) > maxSpeed) {
			removed = append(removed, cur)
			continue
		}

		kept = append(kept, cur)
	}
	return kept, removed
}

// impliedSpeed returns m/s between two fixes. A move without elapsed time is infinitely fast.
func impliedSpeed(a, b track.Point) float64 {
	d := geo.Haversine(a.Pos(), b.Pos())
	dt := b.Time.Sub(a.Time).Seconds()
	if dt <= 0 {
		if d == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return d / dt
}
