package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/planbiir/drivelog/internal/track"
)

var csvHeader = []string{
	"run_id", "kind", "origin", "source_timestamp", "stage", "reason",
	"point_time", "lat", "lon", "count", "error",
}

// CSVSink writes one row per removed point and one row per other event.
// The first write error is kept and returned by Close.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
	err    error
}

// NewCSVSink writes the report to w.
func NewCSVSink(w io.Writer) *CSVSink {
	s := &CSVSink{w: csv.NewWriter(w)}
	s.write(csvHeader)
	return s
}

// CreateCSV creates (truncating) a report file.
func CreateCSV(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report %s: %w", path, err)
	}
	s := NewCSVSink(f)
	s.closer = f
	return s, nil
}

func (s *CSVSink) Record(e Event) {
	row := func(p *track.Point) []string {
		r := []string{
			e.RunID, string(e.Kind), e.Origin, formatTime(e.SourceTimestamp), e.Stage, e.Reason,
			"", "", "", "", "",
		}
		if p != nil {
			r[6] = formatTime(p.Time)
			r[7] = strconv.FormatFloat(p.Lat, 'f', -1, 64)
			r[8] = strconv.FormatFloat(p.Lon, 'f', -1, 64)
		}
		if e.Count > 0 {
			r[9] = strconv.Itoa(e.Count)
		}
		if e.Err != nil {
			r[10] = e.Err.Error()
		}
		return r
	}

	if len(e.Points) == 0 {
		s.write(row(nil))
		return
	}
	for i := range e.Points {
		s.write(row(&e.Points[i]))
	}
}

func (s *CSVSink) write(record []string) {
	if s.err != nil {
		return
	}
	s.err = s.w.Write(record)
}

// Close flushes the report and closes the file it was created with.
func (s *CSVSink) Close() error {
	s.w.Flush()
	if s.err == nil {
		s.err = s.w.Error()
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil && s.err == nil {
			s.err = err
		}
	}
	return s.err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return track.Key(t)
}
