package gpx

import (
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"time"

	"github.com/planbiir/drivelog/internal/track"
)

// Source yields raw tracks from GPX files, one per <trk>, lazily in file order.
type Source struct {
	Paths []string
}

// NewSource returns a source over the given files.
func NewSource(paths ...string) *Source {
	return &Source{Paths: paths}
}

// Tracks parses each file only when the previous one has been consumed. A
// file that cannot be decoded yields a single MalformedInputError and the
// sequence continues with the next file. A <trk> holding a point that cannot
// be converted yields its own error; the other tracks of the file still pass.
func (s *Source) Tracks() iter.Seq2[*track.Track, error] {
	return func(yield func(*track.Track, error) bool) {
		for _, path := range s.Paths {
			g, err := Parse(path)
			if err != nil {
				if !yield(nil, &track.MalformedInputError{Origin: path, Reason: "cannot decode GPX", Err: err}) {
					return
				}
				continue
			}

			for ti := range g.Tracks {
				if !yield(ToTrack(g, ti, path)) {
					return
				}
			}
		}
	}
}

// ToTracks converts every <trk> of a document into a raw track. Tracks that
// fail to convert are left out and their errors joined.
func ToTracks(g *GPX, origin string) ([]*track.Track, error) {
	out := make([]*track.Track, 0, len(g.Tracks))
	var errs []error
	for ti := range g.Tracks {
		t, err := ToTrack(g, ti, origin)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, t)
	}
	return out, errors.Join(errs...)
}

// ToTrack converts the ti-th <trk> of a document. Empty segments are left
// out; point validation is the importer's job.
func ToTrack(g *GPX, ti int, origin string) (*track.Track, error) {
	t := &track.Track{
		Creator: g.Creator,
		Origin:  fmt.Sprintf("%s#%d", filepath.Base(origin), ti),
	}
	for _, seg := range g.Tracks[ti].Segments {
		if len(seg.Points) == 0 {
			continue
		}
		pts := make([]track.Point, len(seg.Points))
		for pi, p := range seg.Points {
			pt, err := toPoint(p)
			if err != nil {
				return nil, &track.MalformedInputError{
					Origin: t.Origin,
					Reason: fmt.Sprintf("point %d", pi),
					Err:    err,
				}
			}
			pts[pi] = pt
		}
		t.Segments = append(t.Segments, track.Segment{Points: pts})
	}
	return t, nil
}

func toPoint(p Point) (track.Point, error) {
	pt := track.Point{Lat: p.Lat, Lon: p.Lon, Time: p.Time.UTC()}
	if p.Speed != nil {
		pt.Speed = track.Float(*p.Speed)
		return pt, nil
	}

	v, ok, err := extensionSpeed(p.Extensions)
	if err != nil {
		return pt, err
	}
	if ok {
		pt.Speed = track.Float(v)
	}
	return pt, nil
}

// FromTracks builds a GPX document holding the given tracks, named by their
// source timestamp.
func FromTracks(tracks []*track.Track, creator string) *GPX {
	g := &GPX{
		Version:  "1.1",
		Creator:  creator,
		XMLNS:    namespaceGPX11,
		Metadata: &Metadata{Name: "drivelog export", Time: time.Now().UTC().Truncate(time.Second)},
	}
	for _, t := range tracks {
		trk := Track{
			Name:        track.Key(t.SourceTimestamp),
			Description: describe(t),
		}
		for _, seg := range t.Segments {
			ts := TrackSegment{Points: make([]Point, len(seg.Points))}
			for i, p := range seg.Points {
				ts.Points[i] = Point{Lat: p.Lat, Lon: p.Lon, Time: p.Time.UTC()}
				if p.Speed != nil {
					ts.Points[i].Extensions = RawXML(fmt.Sprintf("<speed>%g</speed>", *p.Speed))
				}
			}
			trk.Segments = append(trk.Segments, ts)
		}
		g.Tracks = append(g.Tracks, trk)
	}
	return g
}

func describe(t *track.Track) string {
	desc := t.Creator
	for _, extra := range []string{t.Role, t.VehicleOwner, t.Comments} {
		if extra == "" {
			continue
		}
		if desc != "" {
			desc += "; "
		}
		desc += extra
	}
	return desc
}
