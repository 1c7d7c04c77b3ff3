package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/planbiir/drivelog/internal/track"
)

// Name identifies a pipeline stage in device configuration.
type Name string

const (
	StageRemoveOutliers Name = "remove_outliers"
	StageFilterSpeed    Name = "filter_speed"
	StageSplit          Name = "split_trksegs"
	StageMerge          Name = "merge_segments"
	StageTrim           Name = "trim"
	StageSimplify       Name = "simplify"
)

// Names lists every stage Run understands.
var Names = []Name{
	StageRemoveOutliers,
	StageFilterSpeed,
	StageSplit,
	StageMerge,
	StageTrim,
	StageSimplify,
}

// Method selects the speed filter window strategy.
type Method string

const (
	MethodCenter   Method = "center"
	MethodExtended Method = "extended"
)

// NoMotion selects what the trimmer does with a segment that never moves.
type NoMotion string

const (
	NoMotionReject      NoMotion = "reject"
	NoMotionDropSegment NoMotion = "drop_segment"
)

// Params holds the recognised options of every stage. Each stage reads only
// its own fields; zero values fall back to DefaultParams where a default exists.
type Params struct {
	// remove_outliers
	MaxSpeed      float64 // m/s
	MaxTimeTravel int     // longest out-of-order run that is removed, in points

	// filter_speed and trim
	MinSpeed      float64 // m/s
	RollingWindow int
	Method        Method
	OnNoMotion    NoMotion

	// split_trksegs
	Threshold time.Duration

	// merge_segments
	MaxGap time.Duration

	// simplify
	Epsilon float64 // meters
}

// DefaultParams returns the values used for options a device leaves out.
func DefaultParams() Params {
	return Params{
		MaxSpeed:      100, // ~360 km/h, nothing on the road goes faster
		MaxTimeTravel: 60,
		RollingWindow: 5,
		Method:        MethodCenter,
		OnNoMotion:    NoMotionReject,
	}
}

func (p Params) withDefaults() Params {
	defaults := DefaultParams()
	if p.MaxSpeed <= 0 {
		p.MaxSpeed = defaults.MaxSpeed
	}
	if p.MaxTimeTravel <= 0 {
		p.MaxTimeTravel = defaults.MaxTimeTravel
	}
	if p.RollingWindow <= 0 {
		p.RollingWindow = defaults.RollingWindow
	}
	if p.Method == "" {
		p.Method = defaults.Method
	}
	if p.OnNoMotion == "" {
		p.OnNoMotion = defaults.OnNoMotion
	}
	return p
}

// Stage is one configured step of a device pipeline.
type Stage struct {
	Name   Name
	Params Params
}

// Removal records points a stage removed from one segment.
type Removal struct {
	Stage   Name
	Reason  string
	Segment int
	Points  []track.Point
}

// Drop records a whole segment a stage discarded.
type Drop struct {
	Stage   Name
	Reason  string
	Segment int
	Points  int
	Start   time.Time
}

// StageStats counts what a single stage did to a track.
type StageStats struct {
	Stage       Name `json:"stage"`
	PointsIn    int  `json:"points_in"`
	PointsOut   int  `json:"points_out"`
	SegmentsIn  int  `json:"segments_in"`
	SegmentsOut int  `json:"segments_out"`
}

// Result collects everything Run removed, for auditing.
type Result struct {
	Stats    []StageStats
	Removals []Removal
	Drops    []Drop
}

func (r *Result) removed(stage Name, reason string, segment int, pts []track.Point) {
	if r == nil || len(pts) == 0 {
		return
	}
	r.Removals = append(r.Removals, Removal{Stage: stage, Reason: reason, Segment: segment, Points: pts})
}

func (r *Result) dropped(stage Name, reason string, segment int, seg track.Segment) {
	if r == nil {
		return
	}
	d := Drop{Stage: stage, Reason: reason, Segment: segment, Points: len(seg.Points)}
	if len(seg.Points) > 0 {
		d.Start = seg.Points[0].Time
	}
	r.Drops = append(r.Drops, d)
}

// PointsRemoved returns how many points the given stage removed.
func (r *Result) PointsRemoved(stage Name) int {
	n := 0
	for _, rm := range r.Removals {
		if rm.Stage == stage {
			n += len(rm.Points)
		}
	}
	for _, d := range r.Drops {
		if d.Stage == stage {
			n += d.Points
		}
	}
	return n
}

// ErrInsufficientData matches every InsufficientDataError with errors.Is.
var ErrInsufficientData = errors.New("insufficient data")

// ErrUnknownStage is returned by Run for a stage name it does not know.
var ErrUnknownStage = errors.New("unknown stage")

// InsufficientDataError reports a stage that left too few points to continue.
type InsufficientDataError struct {
	Stage   Name
	Segment int
	Reason  string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data after %s (segment %d): %s", e.Stage, e.Segment, e.Reason)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}
