package pipeline

import (
	"fmt"

	"github.com/planbiir/drivelog/internal/track"
)

// SplitSegments breaks every segment at adjacent points whose time gap is at
// least Threshold. Running it again on its own output changes nothing.
func SplitSegments(t *track.Track, p Params) error {
	if p.Threshold <= 0 {
		return fmt.Errorf("%s: threshold must be positive", StageSplit)
	}

	var segments []track.Segment
	for _, seg := range t.Segments {
		start := 0
		for i := 1; i < len(seg.Points); i++ {
			if seg.Points[i].Time.Sub(seg.Points[i-1].Time) >= p.Threshold {
				segments = append(segments, track.Segment{Points: seg.Points[start:i:i]})
				start = i
			}
		}
		if len(seg.Points) > start {
			segments = append(segments, track.Segment{Points: seg.Points[start:]})
		}
	}
	t.Segments = segments
	return nil
}

// MergeSegments joins consecutive segments whose gap is at most MaxGap, in a
// single left-to-right pass, so a chain of close segments becomes one.
func MergeSegments(t *track.Track, p Params) error {
	if p.MaxGap < 0 {
		return fmt.Errorf("%s: max_seconds must not be negative", StageMerge)
	}

	var segments []track.Segment
	for _, seg := range t.Segments {
		if len(seg.Points) == 0 {
			continue
		}
		if n := len(segments); n > 0 {
			last := segments[n-1].Points
			gap := seg.Points[0].Time.Sub(last[len(last)-1].Time)
			if gap <= p.MaxGap {
				merged := make([]track.Point, 0, len(last)+len(seg.Points))
				merged = append(merged, last...)
				merged = append(merged, seg.Points...)
				segments[n-1].Points = merged
				continue
			}
		}
		segments = append(segments, seg)
	}
	t.Segments = segments
	return nil
}
