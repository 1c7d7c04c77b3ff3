package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"go.uber.org/zap"

	"github.com/planbiir/drivelog/internal/track"
)

const timeLayout = time.RFC3339Nano

// Run is the summary of one import batch kept next to the tracks it added.
type Run struct {
	ID         string
	StartedAt  time.Time
	Merged     int
	Duplicates int
	Collisions int
	Rejected   int
	Empty      int
	Malformed  int
	Ignored    int
}

// Repository loads and commits canonical store snapshots.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository returns a repository over a migrated store.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, logger: db.logger}
}

// Load reads every committed track, points included, into a new snapshot.
func (r *Repository) Load(ctx context.Context) (*Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT fid, creator, device, role, vehicle_owner, comments, source_track_timestamp
		FROM driving_tracks ORDER BY fid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}

	byFID := make(map[int64]*track.Track)
	var ordered []*track.Track
	for rows.Next() {
		var (
			fid int64
			ts  string
			t   track.Track
		)
		if err := rows.Scan(&fid, &t.Creator, &t.Device, &t.Role, &t.VehicleOwner, &t.Comments, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		if t.SourceTimestamp, err = time.Parse(timeLayout, ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("track %d: bad source timestamp %q: %w", fid, ts, err)
		}
		byFID[fid] = &t
		ordered = append(ordered, &t)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if err := r.loadPoints(ctx, byFID); err != nil {
		return nil, err
	}

	r.logger.Debug("snapshot loaded", zap.Int("tracks", len(ordered)))
	return NewSnapshot(ordered...), nil
}

func (r *Repository) loadPoints(ctx context.Context, byFID map[int64]*track.Track) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT track_fid, segment, lat, lon, time, speed
		FROM track_points ORDER BY track_fid, segment, seq`)
	if err != nil {
		return fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fid     int64
			segment int
			ts      string
			speed   sql.NullFloat64
			p       track.Point
		)
		if err := rows.Scan(&fid, &segment, &p.Lat, &p.Lon, &ts, &speed); err != nil {
			return fmt.Errorf("failed to scan point: %w", err)
		}
		if p.Time, err = time.Parse(timeLayout, ts); err != nil {
			return fmt.Errorf("track %d: bad point time %q: %w", fid, ts, err)
		}
		if speed.Valid {
			p.Speed = track.Float(speed.Float64)
		}

		t, ok := byFID[fid]
		if !ok {
			continue
		}
		for len(t.Segments) <= segment {
			t.Segments = append(t.Segments, track.Segment{})
		}
		t.Segments[segment].Points = append(t.Segments[segment].Points, p)
	}
	return rows.Err()
}

// Commit writes the snapshot's pending tracks, and the run summary when
// given, in a single transaction.
func (r *Repository) Commit(ctx context.Context, snap *Snapshot, run *Run) (int, error) {
	pending := snap.Pending()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range pending {
		if err := insertTrack(ctx, tx, t); err != nil {
			return 0, err
		}
	}

	if run != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO import_runs (run_id, started_at, merged, duplicates, collisions, rejected, empty, malformed, ignored)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.StartedAt.UTC().Format(timeLayout), run.Merged, run.Duplicates,
			run.Collisions, run.Rejected, run.Empty, run.Malformed, run.Ignored)
		if err != nil {
			return 0, fmt.Errorf("failed to record run %s: %w", run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	snap.markCommitted()

	r.logger.Info("snapshot committed", zap.Int("tracks", len(pending)))
	return len(pending), nil
}

func insertTrack(ctx context.Context, tx *sql.Tx, t *track.Track) error {
	mls := t.MultiLineString()
	geom, err := wkb.Marshal(mls)
	if err != nil {
		return fmt.Errorf("failed to encode geometry of %s: %w", track.Key(t.SourceTimestamp), err)
	}
	bound := mls.Bound()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO driving_tracks
			(geometry, utc_start, utc_stop, creator, device, role, vehicle_owner, comments,
			 source_track_timestamp, min_lon, min_lat, max_lon, max_lat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		geom,
		t.UTCStart().Format(timeLayout), t.UTCStop().Format(timeLayout),
		t.Creator, t.Device, t.Role, t.VehicleOwner, t.Comments,
		track.Key(t.SourceTimestamp),
		bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
	if err != nil {
		return fmt.Errorf("failed to insert track %s: %w", track.Key(t.SourceTimestamp), err)
	}
	fid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read track id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO track_points (track_fid, segment, seq, lat, lon, time, speed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare point insert: %w", err)
	}
	defer stmt.Close()

	for si, seg := range t.Segments {
		for pi, p := range seg.Points {
			var speed sql.NullFloat64
			if p.Speed != nil {
				speed = sql.NullFloat64{Float64: *p.Speed, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, fid, si, pi, p.Lat, p.Lon, p.Time.UTC().Format(timeLayout), speed); err != nil {
				return fmt.Errorf("failed to insert point %d/%d of %s: %w", si, pi, track.Key(t.SourceTimestamp), err)
			}
		}
	}
	return nil
}

// Timestamps lists the stored source timestamps in ascending order.
func (r *Repository) Timestamps(ctx context.Context) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT source_track_timestamp FROM driving_tracks ORDER BY source_track_timestamp`)
	if err != nil {
		return nil, fmt.Errorf("failed to query timestamps: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		ts, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, fmt.Errorf("bad source timestamp %q: %w", s, err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Backup writes a consistent copy of the store to dest, which must not exist.
func (r *Repository) Backup(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target %s already exists", dest)
	}
	if _, err := r.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to back up store to %s: %w", dest, err)
	}
	r.logger.Info("store backed up", zap.String("path", dest))
	return nil
}

// Check verifies the store invariants and returns one message per problem.
func (r *Repository) Check(ctx context.Context) ([]string, error) {
	var problems []string

	var total, distinct int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT source_track_timestamp) FROM driving_tracks`).Scan(&total, &distinct)
	if err != nil {
		return nil, fmt.Errorf("failed to count tracks: %w", err)
	}
	if total != distinct {
		problems = append(problems, fmt.Sprintf("%d tracks share a source timestamp", total-distinct))
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.source_track_timestamp, t.geometry, COUNT(p.seq)
		FROM driving_tracks t LEFT JOIN track_points p ON p.track_fid = t.fid
		GROUP BY t.fid ORDER BY t.source_track_timestamp`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ts     string
			geom   []byte
			points int
		)
		if err := rows.Scan(&ts, &geom, &points); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		if points == 0 {
			problems = append(problems, fmt.Sprintf("%s: track has no points", ts))
			continue
		}

		g, err := wkb.Unmarshal(geom)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: unreadable geometry: %v", ts, err))
			continue
		}
		mls, ok := g.(orb.MultiLineString)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: geometry is %s, want MultiLineString", ts, g.GeoJSONType()))
			continue
		}
		if n := countVertices(mls); n != points {
			problems = append(problems, fmt.Sprintf("%s: geometry has %d vertices but %d points are stored", ts, n, points))
		}
	}
	return problems, rows.Err()
}

func countVertices(mls orb.MultiLineString) int {
	n := 0
	for _, ls := range mls {
		n += len(ls)
	}
	return n
}
