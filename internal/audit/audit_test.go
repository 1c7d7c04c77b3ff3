package audit

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/planbiir/drivelog/internal/track"
)

var started = time.Date(2025, 6, 2, 16, 45, 0, 0, time.UTC)

func removal() Event {
	return Event{
		RunID:           "run-7",
		Kind:            KindPointsRemoved,
		Origin:          "drive.gpx#0",
		SourceTimestamp: started,
		Stage:           "trim",
		Reason:          "parked",
		Points: []track.Point{
			{Lat: 46.1, Lon: 7.25, Time: started},
			{Lat: 46.2, Lon: 7.5, Time: started.Add(time.Second)},
		},
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	calls := 0
	sink := Multi{a, nil, b, SinkFunc(func(Event) { calls++ })}

	sink.Record(removal())
	sink.Record(Event{Kind: KindMerged})

	assert.Len(t, a.Events, 2)
	assert.Len(t, b.Events, 2)
	assert.Equal(t, 2, calls)
	assert.Len(t, a.Of(KindMerged), 1)
	assert.Empty(t, a.Of(KindRejected))
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewCSVSink(&buf)

	sink.Record(removal())
	sink.Record(Event{
		RunID:  "run-7",
		Kind:   KindRejected,
		Origin: "parked.gpx#0",
		Count:  12,
		Err:    errors.New("insufficient data after trim (segment 0): no motion above threshold"),
	})
	require.NoError(t, sink.Close())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"run-7", "points_removed", "drive.gpx#0", "2025-06-02T16:45:00Z", "trim", "parked",
		"2025-06-02T16:45:00Z", "46.1", "7.25", "", "",
	}, rows[1])
	assert.Equal(t, "2025-06-02T16:45:01Z", rows[2][6])
	assert.Equal(t, []string{
		"run-7", "rejected", "parked.gpx#0", "", "", "",
		"", "", "", "12", "insufficient data after trim (segment 0): no motion above threshold",
	}, rows[3])
}

func TestCreateCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	sink, err := CreateCSV(path)
	require.NoError(t, err)
	sink.Record(Event{RunID: "r", Kind: KindBatch, Reason: "merged=1", Count: 1})
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "r,batch,,,,merged=1,,,,1,\n")

	_, err = CreateCSV(filepath.Join(t.TempDir(), "missing", "report.csv"))
	assert.Error(t, err)
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewZapSink(zap.New(core))

	sink.Record(removal())
	sink.Record(Event{RunID: "run-7", Kind: KindMerged, Origin: "drive.gpx#0", SourceTimestamp: started})
	sink.Record(Event{RunID: "run-7", Kind: KindMalformed, Origin: "broken.gpx", Err: errors.New("bad xml")})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "audit", entries[0].LoggerName)

	fields := entries[0].ContextMap()
	assert.Equal(t, "trim", fields["stage"])
	assert.Equal(t, int64(2), fields["points"])
	assert.Equal(t, "2025-06-02T16:45:00Z", entries[1].ContextMap()["source_timestamp"])
	assert.Equal(t, "bad xml", entries[2].ContextMap()["error"])
}
