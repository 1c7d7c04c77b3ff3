package importer

import (
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/planbiir/drivelog/internal/audit"
	"github.com/planbiir/drivelog/internal/device"
	"github.com/planbiir/drivelog/internal/pipeline"
	"github.com/planbiir/drivelog/internal/store"
	"github.com/planbiir/drivelog/internal/track"
)

const pipelines = `
import:
  min_points: 2
devices:
  _default:
    stages:
      - stage: remove_outliers
      - stage: split_trksegs
        threshold: 300
      - stage: trim
        min_speed: 1
        rolling_window: 3
      - stage: simplify
        epsilon: 0.5
  logger:
    match: ["Bad Elf"]
    speed_unit: km/h
    stages:
      - stage: trim
        min_speed: 1
        rolling_window: 3
`

var base = time.Date(2025, 3, 14, 7, 30, 0, 0, time.UTC)

func loadConfig(t *testing.T) *device.Config {
	t.Helper()
	cfg, err := device.Parse(strings.NewReader(pipelines))
	require.NoError(t, err)
	return cfg
}

// segment drives north one point per second, ~11 m apart, with the given
// recorded speeds.
func segment(start time.Time, speeds ...float64) track.Segment {
	pts := make([]track.Point, len(speeds))
	for i, s := range speeds {
		pts[i] = track.Point{
			Lat:   47.0 + float64(i)*0.0001,
			Lon:   8.5,
			Time:  start.Add(time.Duration(i) * time.Second),
			Speed: track.Float(s),
		}
	}
	return track.Segment{Points: pts}
}

// commute is parked for two points at each end.
func commute(origin string, start time.Time) *track.Track {
	return &track.Track{
		Creator:  "Generic logger",
		Origin:   origin,
		Segments: []track.Segment{segment(start, 0, 0, 5, 5, 5, 5, 0, 0)},
	}
}

func tracks(ts ...*track.Track) iter.Seq2[*track.Track, error] {
	return func(yield func(*track.Track, error) bool) {
		for _, t := range ts {
			if !yield(t, nil) {
				return
			}
		}
	}
}

type resolverFunc func(creator string) device.Pipeline

func (f resolverFunc) Resolve(creator string) device.Pipeline { return f(creator) }

func TestRunMergesNewTrack(t *testing.T) {
	snap := store.NewSnapshot()
	rec := &audit.Recorder{}
	im := New(snap, loadConfig(t), WithSink(rec), WithMinPoints(2), WithRunID("run-1"))

	report, err := im.Run(tracks(commute("a.gpx#0", base)))
	require.NoError(t, err)

	require.Len(t, report.Imported(), 1)
	assert.Empty(t, report.Skipped())
	assert.Empty(t, report.Invalid())

	entry := report.Imported()[0]
	assert.Equal(t, base, entry.SourceTimestamp)
	assert.Equal(t, device.DefaultDevice, entry.Device)
	assert.Equal(t, 2, entry.Points)

	stored := snap.Lookup(base)
	require.NotNil(t, stored)
	assert.Equal(t, base, stored.SourceTimestamp)
	assert.Equal(t, device.DefaultDevice, stored.Device)
	// trimmed head: the stored track starts later than its identity
	assert.Equal(t, base.Add(2*time.Second), stored.UTCStart())
	assert.Equal(t, base.Add(5*time.Second), stored.UTCStop())

	assert.Len(t, rec.Of(audit.KindMerged), 1)
	parked := 0
	for _, e := range rec.Of(audit.KindPointsRemoved) {
		assert.Equal(t, "run-1", e.RunID)
		if e.Reason == "parked" {
			parked += len(e.Points)
		}
	}
	assert.Equal(t, 4, parked)
	assert.Len(t, rec.Of(audit.KindBatch), 1)
}

func TestRunReimportIsDuplicate(t *testing.T) {
	snap := store.NewSnapshot()
	cfg := loadConfig(t)

	_, err := New(snap, cfg).Run(tracks(commute("a.gpx#0", base)))
	require.NoError(t, err)
	before := snap.Lookup(base)

	report, err := New(snap, cfg).Run(tracks(commute("a.gpx#0", base)))
	require.NoError(t, err)

	assert.Equal(t, 0, report.Count(OutcomeMerged))
	assert.Equal(t, 1, report.Count(OutcomeDuplicate))
	assert.Len(t, report.Skipped(), 1)
	assert.Equal(t, []time.Time{base}, snap.AllTimestamps())
	assert.Empty(t, cmp.Diff(before, snap.Lookup(base)))
}

func TestRunStoredTrackWins(t *testing.T) {
	edited := &track.Track{
		SourceTimestamp: base,
		Device:          "bad_elf",
		Origin:          "canonical",
		Segments:        []track.Segment{segment(base.Add(time.Minute), 9, 9, 9)},
		Role:            "commute",
		VehicleOwner:    "pool car",
		Comments:        "fixed by hand",
	}
	snap := store.NewSnapshot(edited.Clone())

	report, err := New(snap, loadConfig(t)).Run(tracks(commute("a.gpx#0", base)))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(OutcomeDuplicate))
	assert.Empty(t, snap.Pending())
	assert.Empty(t, cmp.Diff(edited, snap.Lookup(base)))
}

func TestRunNoMotionRejected(t *testing.T) {
	snap := store.NewSnapshot()
	rec := &audit.Recorder{}
	parked := &track.Track{
		Origin:   "parked.gpx#0",
		Segments: []track.Segment{segment(base, 0.2, 0.1, 0.3, 0.2, 0.1, 0.2)},
	}

	report, err := New(snap, loadConfig(t), WithSink(rec)).Run(tracks(parked))
	require.NoError(t, err)

	require.Len(t, report.Invalid(), 1)
	entry := report.Invalid()[0]
	assert.Equal(t, OutcomeRejected, entry.Outcome)
	assert.True(t, errors.Is(entry.Err, pipeline.ErrInsufficientData))
	var insufficient *pipeline.InsufficientDataError
	require.ErrorAs(t, entry.Err, &insufficient)
	assert.Equal(t, pipeline.StageTrim, insufficient.Stage)

	assert.Equal(t, 0, snap.Len())
	assert.Empty(t, snap.Pending())
	require.Len(t, rec.Of(audit.KindRejected), 1)
	assert.Equal(t, 6, rec.Of(audit.KindRejected)[0].Count)
}

func TestRunSameBatchCollision(t *testing.T) {
	snap := store.NewSnapshot()
	first := commute("a.gpx#0", base)
	second := commute("b.gpx#0", base)
	second.Segments[0].Points[3].Lon += 0.0001

	report, err := New(snap, loadConfig(t)).Run(tracks(first, second))
	require.NoError(t, err)

	require.Len(t, report.Entries, 2)
	assert.Equal(t, OutcomeMerged, report.Entries[0].Outcome)
	assert.Equal(t, OutcomeCollision, report.Entries[1].Outcome)
	assert.Len(t, report.Skipped(), 1)
	assert.Equal(t, 0, report.Count(OutcomeDuplicate))

	collisions := report.Collisions()
	require.Len(t, collisions, 1)
	assert.Equal(t, []string{"a.gpx#0", "b.gpx#0"}, collisions[0].Origins)
	assert.Equal(t, base, collisions[0].Timestamp)

	assert.Equal(t, "a.gpx#0", snap.Lookup(base).Origin)
	assert.Len(t, snap.Pending(), 1)
}

func TestRunBatchOrderDecidesCollisionWinner(t *testing.T) {
	snap := store.NewSnapshot()
	_, err := New(snap, loadConfig(t)).Run(tracks(commute("b.gpx#0", base), commute("a.gpx#0", base)))
	require.NoError(t, err)
	assert.Equal(t, "b.gpx#0", snap.Lookup(base).Origin)
}

func TestRunCollisionBehindStoredTrack(t *testing.T) {
	stored := commute("canonical", base)
	stored.SourceTimestamp = base
	snap := store.NewSnapshot(stored)

	report, err := New(snap, loadConfig(t)).Run(tracks(commute("a.gpx#0", base), commute("b.gpx#0", base)))
	require.NoError(t, err)

	require.Len(t, report.Entries, 2)
	assert.Equal(t, OutcomeDuplicate, report.Entries[0].Outcome)
	assert.Equal(t, OutcomeCollision, report.Entries[1].Outcome)

	collisions := report.Collisions()
	require.Len(t, collisions, 1)
	assert.Equal(t, []string{"a.gpx#0", "b.gpx#0"}, collisions[0].Origins)
	assert.Empty(t, snap.Pending())
	assert.Equal(t, "canonical", snap.Lookup(base).Origin)
}

func TestRunIdentityIgnoresSegmentFiltering(t *testing.T) {
	snap := store.NewSnapshot()
	rec := &audit.Recorder{}
	later := base.Add(time.Hour)
	raw := &track.Track{
		Origin: "two.gpx#0",
		Segments: []track.Segment{
			segment(base, 0, 0, 5, 5, 5, 5, 0, 0),
			segment(later, 0, 0, 5, 5, 5, 5, 0, 0),
		},
	}
	ignore := device.IgnoreList{Segments: []device.Timestamp{{Time: base}}}

	report, err := New(snap, loadConfig(t), WithSink(rec), WithIgnore(ignore)).Run(tracks(raw))
	require.NoError(t, err)
	require.Len(t, report.Imported(), 1)

	stored := snap.Lookup(base)
	require.NotNil(t, stored)
	require.Len(t, stored.Segments, 1)
	assert.Equal(t, later.Add(2*time.Second), stored.UTCStart())

	var ignored []audit.Event
	for _, e := range rec.Of(audit.KindSegmentDropped) {
		if e.Stage == "ignore" {
			ignored = append(ignored, e)
		}
	}
	require.Len(t, ignored, 1)
	assert.Len(t, ignored[0].Points, 8)
}

func TestRunIgnoredTrack(t *testing.T) {
	snap := store.NewSnapshot()
	ignore := device.IgnoreList{Tracks: []device.Timestamp{{Time: base.In(time.FixedZone("CET", 3600))}}}

	report, err := New(snap, loadConfig(t), WithIgnore(ignore)).Run(tracks(
		commute("a.gpx#0", base),
		commute("b.gpx#0", base.Add(time.Hour)),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(OutcomeIgnored))
	assert.Equal(t, 1, report.Count(OutcomeMerged))
	assert.Equal(t, []time.Time{base.Add(time.Hour)}, snap.AllTimestamps())
}

func TestRunMalformedDoesNotStopBatch(t *testing.T) {
	snap := store.NewSnapshot()
	noTime := commute("notime.gpx#0", base.Add(2*time.Hour))
	noTime.Segments[0].Points[4].Time = time.Time{}

	src := func(yield func(*track.Track, error) bool) {
		if !yield(nil, &track.MalformedInputError{Origin: "broken.gpx", Reason: "cannot decode GPX"}) {
			return
		}
		if !yield(noTime, nil) {
			return
		}
		yield(commute("good.gpx#0", base), nil)
	}

	report, err := New(snap, loadConfig(t)).Run(src)
	require.NoError(t, err)

	require.Len(t, report.Entries, 3)
	assert.Equal(t, OutcomeMalformed, report.Entries[0].Outcome)
	assert.Equal(t, "broken.gpx", report.Entries[0].Origin)
	assert.Equal(t, OutcomeMalformed, report.Entries[1].Outcome)
	assert.Equal(t, "notime.gpx#0", report.Entries[1].Origin)
	var malformed *track.MalformedInputError
	assert.ErrorAs(t, report.Entries[1].Err, &malformed)
	assert.Equal(t, OutcomeMerged, report.Entries[2].Outcome)
	assert.Len(t, report.Invalid(), 2)
}

func TestRunMinPointsEmptiesTrack(t *testing.T) {
	snap := store.NewSnapshot()
	rec := &audit.Recorder{}

	report, err := New(snap, loadConfig(t), WithSink(rec), WithMinPoints(3)).Run(tracks(commute("a.gpx#0", base)))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(OutcomeEmpty))
	assert.Equal(t, 0, snap.Len())

	var short []audit.Event
	for _, e := range rec.Of(audit.KindSegmentDropped) {
		if e.Stage == "min_points" {
			short = append(short, e)
		}
	}
	require.Len(t, short, 1)
	assert.Len(t, short[0].Points, 2)
}

func TestRunNormalizesSpeedUnits(t *testing.T) {
	snap := store.NewSnapshot()
	walking := &track.Track{
		Creator:  "Bad Elf GPS Pro+",
		Origin:   "walk.gpx#0",
		Segments: []track.Segment{segment(base, 3, 3, 3, 3, 3)},
	}

	report, err := New(snap, loadConfig(t)).Run(tracks(walking))
	require.NoError(t, err)

	require.Len(t, report.Entries, 1)
	assert.Equal(t, "logger", report.Entries[0].Device)
	assert.Equal(t, OutcomeRejected, report.Entries[0].Outcome)
}

func TestRunStageTotals(t *testing.T) {
	snap := store.NewSnapshot()
	report, err := New(snap, loadConfig(t)).Run(tracks(
		commute("a.gpx#0", base),
		commute("b.gpx#0", base.Add(time.Hour)),
	))
	require.NoError(t, err)

	want := []pipeline.StageStats{
		{Stage: pipeline.StageRemoveOutliers, PointsIn: 16, PointsOut: 16, SegmentsIn: 2, SegmentsOut: 2},
		{Stage: pipeline.StageSplit, PointsIn: 16, PointsOut: 16, SegmentsIn: 2, SegmentsOut: 2},
		{Stage: pipeline.StageTrim, PointsIn: 16, PointsOut: 8, SegmentsIn: 2, SegmentsOut: 2},
		{Stage: pipeline.StageSimplify, PointsIn: 8, PointsOut: 4, SegmentsIn: 2, SegmentsOut: 2},
	}
	assert.Empty(t, cmp.Diff(want, report.Stages))
	assert.Equal(t, "merged=2 duplicate=0 collision=0 rejected=0 empty=0 malformed=0 ignored=0", report.String())
}

func TestRunAbortsOnUnknownStage(t *testing.T) {
	snap := store.NewSnapshot()
	bogus := resolverFunc(func(string) device.Pipeline {
		return device.Pipeline{Device: "bogus", Stages: []pipeline.Stage{{Name: "smooth"}}}
	})

	report, err := New(snap, bogus).Run(tracks(commute("a.gpx#0", base), commute("b.gpx#0", base.Add(time.Hour))))
	require.ErrorIs(t, err, pipeline.ErrUnknownStage)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, 0, snap.Len())
}

func TestRunLogsUnderImporterName(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	im := New(store.NewSnapshot(), loadConfig(t), WithLogger(zap.New(core)), WithRunID("run-7"))

	_, err := im.Run(tracks(commute("a.gpx#0", base)))
	require.NoError(t, err)

	batch := logs.FilterMessage("batch imported").All()
	require.Len(t, batch, 1)
	assert.Equal(t, "importer", batch[0].LoggerName)
	assert.Equal(t, "run-7", batch[0].ContextMap()["run"])
	assert.Equal(t, int64(1), batch[0].ContextMap()["merged"])
}

func TestRunStopsWhenSourceStops(t *testing.T) {
	snap := store.NewSnapshot()
	report, err := New(snap, loadConfig(t)).Run(tracks())
	require.NoError(t, err)
	assert.Empty(t, report.Entries)
	assert.NotEmpty(t, report.RunID)
}
