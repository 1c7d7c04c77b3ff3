// Package pipeline implements the per-device cleanup stages and the runner
// that applies a configured stage list to a track.
package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/planbiir/drivelog/internal/track"
)

// Run applies stages to t in order, modifying its segments in place.
// SourceTimestamp is never touched. The returned Result is valid even when
// an error is returned and describes the stages that did run.
func Run(t *track.Track, stages []Stage, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := &Result{}

	for _, st := range stages {
		stats := StageStats{
			Stage:      st.Name,
			PointsIn:   t.PointCount(),
			SegmentsIn: len(t.Segments),
		}

		p := st.Params.withDefaults()
		var err error
		switch st.Name {
		case StageRemoveOutliers:
			err = RemoveOutliers(t, p, res)
		case StageFilterSpeed:
			err = FilterSpeed(t, p, res)
		case StageSplit:
			err = SplitSegments(t, p)
		case StageMerge:
			err = MergeSegments(t, p)
		case StageTrim:
			err = TrimSegments(t, p, res)
		case StageSimplify:
			err = Simplify(t, p, res)
		default:
			err = fmt.Errorf("%w %q", ErrUnknownStage, st.Name)
		}

		stats.PointsOut = t.PointCount()
		stats.SegmentsOut = len(t.Segments)
		res.Stats = append(res.Stats, stats)

		if err != nil {
			return res, err
		}

		logger.Debug("stage applied",
			zap.String("stage", string(st.Name)),
			zap.Int("points_in", stats.PointsIn),
			zap.Int("points_out", stats.PointsOut),
			zap.Int("segments_out", stats.SegmentsOut))
	}

	return res, nil
}
