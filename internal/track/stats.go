package track

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/planbiir/drivelog/internal/geo"
)

// Summary describes a track for reports and listings.
type Summary struct {
	Points    int           `json:"points"`
	Segments  int           `json:"segments"`
	Duration  time.Duration `json:"duration"`
	Distance  float64       `json:"distance_km"`
	MeanSpeed float64       `json:"mean_speed_ms"`
	P95Speed  float64       `json:"p95_speed_ms"`
}

// Summarize computes distance, duration and recorded speed statistics.
// Distance is measured within segments only; gaps between segments are not driven.
func Summarize(t *Track) Summary {
	s := Summary{
		Points:   t.PointCount(),
		Segments: len(t.Segments),
	}
	if s.Points == 0 {
		return s
	}
	s.Duration = t.UTCStop().Sub(t.UTCStart())

	var speeds []float64
	for _, seg := range t.Segments {
		for i, p := range seg.Points {
			if i > 0 {
				s.Distance += geo.Haversine(seg.Points[i-1].Pos(), p.Pos())
			}
			if p.Speed != nil {
				speeds = append(speeds, *p.Speed)
			}
		}
	}
	s.Distance /= 1000

	if len(speeds) > 0 {
		sort.Float64s(speeds)
		s.MeanSpeed = stat.Mean(speeds, nil)
		s.P95Speed = stat.Quantile(0.95, stat.Empirical, speeds, nil)
	}
	return s
}
