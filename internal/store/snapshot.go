// Package store holds the canonical driving track store: an in-memory
// snapshot the importer mutates and the SQLite repository that loads and
// commits it.
package store

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/planbiir/drivelog/internal/track"
)

// ErrDuplicateTimestamp is returned when appending a track whose source
// timestamp is already in the store.
var ErrDuplicateTimestamp = errors.New("source timestamp already stored")

// Snapshot is a fully loaded copy of the canonical store plus the tracks
// appended since it was loaded. It is not safe for concurrent use.
type Snapshot struct {
	tracks  map[string]*track.Track
	pending []*track.Track
}

// NewSnapshot returns a snapshot holding the given committed tracks.
func NewSnapshot(committed ...*track.Track) *Snapshot {
	s := &Snapshot{tracks: make(map[string]*track.Track, len(committed))}
	for _, t := range committed {
		s.tracks[track.Key(t.SourceTimestamp)] = t
	}
	return s
}

// Lookup returns a copy of the stored track with the given source
// timestamp, or nil.
func (s *Snapshot) Lookup(ts time.Time) *track.Track {
	t, ok := s.tracks[track.Key(ts)]
	if !ok {
		return nil
	}
	return t.Clone()
}

// Append adds a new track, indexed by its source timestamp.
func (s *Snapshot) Append(t *track.Track) error {
	if t.SourceTimestamp.IsZero() {
		return fmt.Errorf("append %s: missing source timestamp", t.Origin)
	}
	key := track.Key(t.SourceTimestamp)
	if _, ok := s.tracks[key]; ok {
		return fmt.Errorf("append %s: %w", key, ErrDuplicateTimestamp)
	}
	c := t.Clone()
	s.tracks[key] = c
	s.pending = append(s.pending, c)
	return nil
}

// AllTimestamps returns every stored source timestamp in ascending order.
func (s *Snapshot) AllTimestamps() []time.Time {
	out := lo.MapToSlice(s.tracks, func(_ string, t *track.Track) time.Time {
		return t.SourceTimestamp.UTC()
	})
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// Tracks returns the stored tracks ordered by source timestamp.
func (s *Snapshot) Tracks() []*track.Track {
	out := lo.Values(s.tracks)
	slices.SortFunc(out, func(a, b *track.Track) int { return a.SourceTimestamp.Compare(b.SourceTimestamp) })
	return out
}

// Pending returns the tracks appended since the snapshot was loaded.
func (s *Snapshot) Pending() []*track.Track {
	return slices.Clone(s.pending)
}

// Len returns the number of stored tracks, pending included.
func (s *Snapshot) Len() int {
	return len(s.tracks)
}

func (s *Snapshot) markCommitted() {
	s.pending = nil
}
