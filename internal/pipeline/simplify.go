package pipeline

import (
	"fmt"

	"github.com/planbiir/drivelog/internal/geo"
	"github.com/planbiir/drivelog/internal/track"
)

// Simplify runs spherical Ramer-Douglas-Peucker on every segment. Epsilon is
// in meters, the unit of geo.CrossTrackDistance. Endpoints are always kept.
func Simplify(t *track.Track, p Params, res *Result) error {
	if p.Epsilon <= 0 {
		return fmt.Errorf("%s: epsilon must be positive", StageSimplify)
	}

	for si := range t.Segments {
		pts := t.Segments[si].Points
		if len(pts) == 0 {
			return &InsufficientDataError{Stage: StageSimplify, Segment: si, Reason: "empty segment"}
		}

		keep := simplifyIndices(pts, p.Epsilon)

		kept := make([]track.Point, 0, len(pts))
		var removed []track.Point
		for i, pt := range pts {
			if keep[i] {
				kept = append(kept, pt)
			} else {
				removed = append(removed, pt)
			}
		}
		res.removed(StageSimplify, "simplified", si, removed)
		t.Segments[si].Points = kept
	}
	return nil
}

// simplifyIndices marks the points RDP retains. It uses an explicit stack of
// index ranges so segment length is not bounded by recursion depth.
func simplifyIndices(pts []track.Point, epsilon float64) []bool {
	n := len(pts)
	keep := make([]bool, n)
	keep[0] = true
	keep[n-1] = true

	stack := [][2]int{{0, n - 1}}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		start, end := r[0], r[1]
		if end-start < 2 {
			continue
		}

		a, b := pts[start].Pos(), pts[end].Pos()
		maxDist, maxIdx := -1.0, -1
		for i := start + 1; i < end; i++ {
			if d := geo.CrossTrackDistance(pts[i].Pos(), a, b); d > maxDist {
				maxDist, maxIdx = d, i
			}
		}

		if maxDist > epsilon {
			keep[maxIdx] = true
			stack = append(stack, [2]int{start, maxIdx}, [2]int{maxIdx, end})
		}
	}
	return keep
}
