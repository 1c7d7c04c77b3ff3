// Package importer merges a batch of raw tracks into the canonical store.
//
// Every raw track is processed to completion before the next one is read:
// its identity is captured, the device pipeline runs, short segments are
// dropped and the result is appended unless the store already holds a track
// with the same source timestamp. The store always wins, and within a batch
// the first track of a source timestamp does.
package importer

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planbiir/drivelog/internal/audit"
	"github.com/planbiir/drivelog/internal/device"
	"github.com/planbiir/drivelog/internal/pipeline"
	"github.com/planbiir/drivelog/internal/track"
)

// Store is the canonical store view the importer reads and appends to.
// store.Snapshot implements it.
type Store interface {
	Lookup(ts time.Time) *track.Track
	Append(t *track.Track) error
	AllTimestamps() []time.Time
}

// Pipelines resolves the stage list for a GPX creator string.
// device.Config implements it.
type Pipelines interface {
	Resolve(creator string) device.Pipeline
}

// Importer runs batches against one store. It is not safe for concurrent use.
type Importer struct {
	store     Store
	pipelines Pipelines
	sink      audit.Sink
	ignore    device.IgnoreList
	minPoints int
	logger    *zap.Logger
	runID     string
}

// Option configures an Importer.
type Option func(*Importer)

// WithSink sends audit events to s.
func WithSink(s audit.Sink) Option {
	return func(im *Importer) { im.sink = s }
}

// WithIgnore skips raw tracks and segments listed in l.
func WithIgnore(l device.IgnoreList) Option {
	return func(im *Importer) { im.ignore = l }
}

// WithMinPoints drops processed segments with fewer than n points.
// Empty segments are always dropped.
func WithMinPoints(n int) Option {
	return func(im *Importer) { im.minPoints = n }
}

// WithLogger logs under the "importer" name of l.
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// WithRunID stamps audit events with id instead of a random UUID.
func WithRunID(id string) Option {
	return func(im *Importer) { im.runID = id }
}

// New returns an importer appending to store.
func New(store Store, pipelines Pipelines, opts ...Option) *Importer {
	im := &Importer{
		store:     store,
		pipelines: pipelines,
		sink:      audit.Discard,
		minPoints: 1,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.minPoints < 1 {
		im.minPoints = 1
	}
	if im.runID == "" {
		im.runID = uuid.NewString()
	}
	im.logger = im.logger.Named("importer").With(zap.String("run", im.runID))
	return im
}

// RunID identifies the batches of this importer in audit events.
func (im *Importer) RunID() string {
	return im.runID
}

// Run imports every track of src in order. Per-track failures end up in the
// report; an error is returned only when the pipeline configuration or the
// store fails, together with the report of the tracks handled so far.
func (im *Importer) Run(src iter.Seq2[*track.Track, error]) (*BatchReport, error) {
	report := newBatchReport(im.runID)
	// source timestamp key -> origin of the first track carrying it
	seen := make(map[string]string)

	for raw, err := range src {
		var entry Entry
		if err != nil {
			entry = im.malformed(nil, err)
		} else {
			entry, err = im.importTrack(raw, seen)
			if err != nil {
				report.add(entry)
				return report, err
			}
		}
		report.add(entry)
	}

	im.sink.Record(audit.Event{
		RunID:  im.runID,
		Kind:   audit.KindBatch,
		Reason: report.String(),
		Count:  len(report.Entries),
	})
	im.logger.Info("batch imported",
		zap.Int("merged", len(report.Imported())),
		zap.Int("skipped", len(report.Skipped())),
		zap.Int("invalid", len(report.Invalid())))

	return report, nil
}

func (im *Importer) importTrack(raw *track.Track, seen map[string]string) (Entry, error) {
	if err := raw.Validate(); err != nil {
		return im.malformed(raw, err), nil
	}

	t := raw.Clone()
	t.SourceTimestamp, _ = raw.FirstTime()
	t.SourceTimestamp = t.SourceTimestamp.UTC()
	entry := Entry{Origin: t.Origin, SourceTimestamp: t.SourceTimestamp, Points: raw.PointCount()}

	if im.ignore.Track(t.SourceTimestamp) {
		return im.finish(entry, OutcomeIgnored, nil), nil
	}
	im.stripIgnoredSegments(t)
	if t.PointCount() == 0 {
		return im.finish(entry, OutcomeIgnored, nil), nil
	}

	key := track.Key(t.SourceTimestamp)
	if first, ok := seen[key]; ok {
		collision := &DuplicateTimestampCollisionError{
			Timestamp: t.SourceTimestamp,
			Origins:   []string{first, t.Origin},
		}
		return im.finish(entry, OutcomeCollision, collision), nil
	}
	seen[key] = t.Origin

	p := im.pipelines.Resolve(t.Creator)
	t.Device = p.Device
	entry.Device = p.Device
	p.NormalizeSpeeds(t)

	res, err := pipeline.Run(t, p.Stages, im.logger.Named("pipeline"))
	entry.Stats = res.Stats
	im.auditResult(t, res)
	if err != nil {
		if errors.Is(err, pipeline.ErrInsufficientData) {
			return im.finish(entry, OutcomeRejected, err), nil
		}
		entry = im.finish(entry, OutcomeRejected, err)
		return entry, fmt.Errorf("device %s: %w", p.Device, err)
	}

	im.dropShortSegments(t)
	if t.PointCount() == 0 {
		return im.finish(entry, OutcomeEmpty, nil), nil
	}

	if im.store.Lookup(t.SourceTimestamp) != nil {
		return im.finish(entry, OutcomeDuplicate, nil), nil
	}

	if err := im.store.Append(t); err != nil {
		entry = im.finish(entry, OutcomeRejected, err)
		return entry, fmt.Errorf("append %s: %w", key, err)
	}
	entry.Points = t.PointCount()
	return im.finish(entry, OutcomeMerged, nil), nil
}

func (im *Importer) malformed(raw *track.Track, err error) Entry {
	entry := Entry{}
	var me *track.MalformedInputError
	if errors.As(err, &me) {
		entry.Origin = me.Origin
	}
	if raw != nil {
		if entry.Origin == "" {
			entry.Origin = raw.Origin
		}
		entry.Points = raw.PointCount()
	}
	return im.finish(entry, OutcomeMalformed, err)
}

func (im *Importer) finish(entry Entry, outcome Outcome, err error) Entry {
	entry.Outcome = outcome
	entry.Err = err

	im.sink.Record(audit.Event{
		RunID:           im.runID,
		Kind:            outcomeKinds[outcome],
		Origin:          entry.Origin,
		SourceTimestamp: entry.SourceTimestamp,
		Count:           entry.Points,
		Err:             err,
	})

	fields := []zap.Field{
		zap.String("origin", entry.Origin),
		zap.String("outcome", string(outcome)),
	}
	if !entry.SourceTimestamp.IsZero() {
		fields = append(fields, zap.Time("source_timestamp", entry.SourceTimestamp))
	}
	if err != nil {
		im.logger.Warn("track not imported", append(fields, zap.Error(err))...)
	} else {
		im.logger.Debug("track processed", fields...)
	}
	return entry
}

// stripIgnoredSegments removes raw segments listed in the ignore list, and
// empty ones, before any stage runs.
func (im *Importer) stripIgnoredSegments(t *track.Track) {
	kept := t.Segments[:0]
	for i, seg := range t.Segments {
		if len(seg.Points) == 0 {
			continue
		}
		if im.ignore.Segment(seg.Points[0].Time) {
			im.sink.Record(audit.Event{
				RunID:           im.runID,
				Kind:            audit.KindSegmentDropped,
				Origin:          t.Origin,
				SourceTimestamp: t.SourceTimestamp,
				Stage:           "ignore",
				Reason:          fmt.Sprintf("segment %d ignored", i),
				Points:          seg.Points,
				Count:           len(seg.Points),
			})
			continue
		}
		kept = append(kept, seg)
	}
	t.Segments = kept
}

func (im *Importer) dropShortSegments(t *track.Track) {
	kept := t.Segments[:0]
	for i, seg := range t.Segments {
		if len(seg.Points) >= im.minPoints {
			kept = append(kept, seg)
			continue
		}
		if len(seg.Points) == 0 {
			continue
		}
		im.sink.Record(audit.Event{
			RunID:           im.runID,
			Kind:            audit.KindSegmentDropped,
			Origin:          t.Origin,
			SourceTimestamp: t.SourceTimestamp,
			Stage:           "min_points",
			Reason:          fmt.Sprintf("segment %d has %d points, need %d", i, len(seg.Points), im.minPoints),
			Points:          seg.Points,
			Count:           len(seg.Points),
		})
	}
	t.Segments = kept
}

func (im *Importer) auditResult(t *track.Track, res *pipeline.Result) {
	for _, rm := range res.Removals {
		im.sink.Record(audit.Event{
			RunID:           im.runID,
			Kind:            audit.KindPointsRemoved,
			Origin:          t.Origin,
			SourceTimestamp: t.SourceTimestamp,
			Stage:           string(rm.Stage),
			Reason:          rm.Reason,
			Points:          rm.Points,
		})
	}
	for _, d := range res.Drops {
		im.sink.Record(audit.Event{
			RunID:           im.runID,
			Kind:            audit.KindSegmentDropped,
			Origin:          t.Origin,
			SourceTimestamp: t.SourceTimestamp,
			Stage:           string(d.Stage),
			Reason:          d.Reason,
			Count:           d.Points,
		})
	}
}
