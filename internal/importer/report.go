package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/planbiir/drivelog/internal/audit"
	"github.com/planbiir/drivelog/internal/pipeline"
	"github.com/planbiir/drivelog/internal/track"
)

// Outcome is the terminal state of one raw track.
type Outcome string

const (
	OutcomeMerged    Outcome = "merged"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeCollision Outcome = "collision"
	OutcomeRejected  Outcome = "rejected"
	OutcomeEmpty     Outcome = "empty"
	OutcomeMalformed Outcome = "malformed"
	OutcomeIgnored   Outcome = "ignored"
)

var outcomeKinds = map[Outcome]audit.Kind{
	OutcomeMerged:    audit.KindMerged,
	OutcomeDuplicate: audit.KindDuplicate,
	OutcomeCollision: audit.KindCollision,
	OutcomeRejected:  audit.KindRejected,
	OutcomeEmpty:     audit.KindEmpty,
	OutcomeMalformed: audit.KindMalformed,
	OutcomeIgnored:   audit.KindIgnored,
}

// Entry is what happened to one raw track.
type Entry struct {
	Origin          string
	SourceTimestamp time.Time
	Device          string
	Outcome         Outcome
	// Points is the stored point count for merged tracks and the raw
	// count otherwise.
	Points int
	Stats  []pipeline.StageStats
	Err    error
}

// BatchReport partitions a batch into imported, skipped and invalid tracks.
type BatchReport struct {
	RunID   string
	Entries []Entry
	// Stages sums the stage statistics of every track, in first-run order.
	Stages []pipeline.StageStats
}

func newBatchReport(runID string) *BatchReport {
	return &BatchReport{RunID: runID}
}

func (r *BatchReport) add(e Entry) {
	r.Entries = append(r.Entries, e)
	for _, st := range e.Stats {
		_, idx, found := lo.FindIndexOf(r.Stages, func(s pipeline.StageStats) bool { return s.Stage == st.Stage })
		if !found {
			r.Stages = append(r.Stages, st)
			continue
		}
		r.Stages[idx].PointsIn += st.PointsIn
		r.Stages[idx].PointsOut += st.PointsOut
		r.Stages[idx].SegmentsIn += st.SegmentsIn
		r.Stages[idx].SegmentsOut += st.SegmentsOut
	}
}

func (r *BatchReport) with(outcomes ...Outcome) []Entry {
	return lo.Filter(r.Entries, func(e Entry, _ int) bool {
		return lo.Contains(outcomes, e.Outcome)
	})
}

// Imported returns the tracks appended to the store.
func (r *BatchReport) Imported() []Entry {
	return r.with(OutcomeMerged)
}

// Skipped returns tracks whose source timestamp was already stored,
// including same-batch collisions.
func (r *BatchReport) Skipped() []Entry {
	return r.with(OutcomeDuplicate, OutcomeCollision)
}

// Invalid returns tracks that were ignored, malformed, rejected by a stage
// or left empty.
func (r *BatchReport) Invalid() []Entry {
	return r.with(OutcomeEmpty, OutcomeRejected, OutcomeMalformed, OutcomeIgnored)
}

// Count returns the number of tracks with the given outcome.
func (r *BatchReport) Count(o Outcome) int {
	return len(r.with(o))
}

// Collisions returns the same-batch timestamp collisions.
func (r *BatchReport) Collisions() []*DuplicateTimestampCollisionError {
	return lo.FilterMap(r.Entries, func(e Entry, _ int) (*DuplicateTimestampCollisionError, bool) {
		c, ok := e.Err.(*DuplicateTimestampCollisionError)
		return c, ok
	})
}

func (r *BatchReport) String() string {
	return fmt.Sprintf("merged=%d duplicate=%d collision=%d rejected=%d empty=%d malformed=%d ignored=%d",
		r.Count(OutcomeMerged), r.Count(OutcomeDuplicate), r.Count(OutcomeCollision),
		r.Count(OutcomeRejected), r.Count(OutcomeEmpty), r.Count(OutcomeMalformed), r.Count(OutcomeIgnored))
}

// DuplicateTimestampCollisionError reports raw tracks of one batch sharing a
// source timestamp. The first one processed was kept.
type DuplicateTimestampCollisionError struct {
	Timestamp time.Time
	Origins   []string
}

func (e *DuplicateTimestampCollisionError) Error() string {
	return fmt.Sprintf("source timestamp %s shared within batch by %s",
		track.Key(e.Timestamp), strings.Join(e.Origins, ", "))
}
