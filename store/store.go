// Package store persists sample points, crawl responses, and deduplicated
// panoramas in a single SQLite database. The database is the source of truth
// for crawl progress: a run can be interrupted at any point and resumed from
// the pending rows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alexwolson/toronto-streetview-count/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sample_points (
    id INTEGER PRIMARY KEY,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    road_id TEXT,
    road_type TEXT,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'queried', 'failed')),
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sample_points_status ON sample_points(status);

CREATE TABLE IF NOT EXISTS responses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sample_id INTEGER NOT NULL REFERENCES sample_points(id),
    status TEXT NOT NULL,
    pano_id TEXT,
    lat REAL,
    lon REAL,
    date TEXT,
    copyright TEXT,
    error_message TEXT,
    queried_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_responses_sample ON responses(sample_id);
CREATE INDEX IF NOT EXISTS idx_responses_pano ON responses(pano_id) WHERE pano_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS panoramas (
    pano_id TEXT PRIMARY KEY,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    date TEXT,
    copyright TEXT,
    first_seen TEXT NOT NULL,
    sample_count INTEGER NOT NULL DEFAULT 1
);
`

// Store wraps the SQLite database holding crawl state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Writes are serialized through a single connection; SQLite is a
// single-writer store and the crawler's per-point writes are independent, so
// one connection keeps contention out of the driver.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=10000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSamplePoints bulk-inserts sample points keyed by ID. Re-running with
// an unchanged input set never regresses crawl progress: the conflict clause
// refreshes coordinates and road tags but leaves status and created_at alone.
func (s *Store) UpsertSamplePoints(ctx context.Context, points []models.SamplePoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sample_points (id, lat, lon, road_id, road_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			road_id = excluded.road_id,
			road_type = excluded.road_type`)
	if err != nil {
		return fmt.Errorf("store: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		status := p.Status
		if status == "" {
			status = models.StatusPending
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Lat, p.Lon,
			nullString(p.RoadID), nullString(p.RoadType), status, formatTime(createdAt)); err != nil {
			return fmt.Errorf("store: upsert point %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit upsert: %w", err)
	}
	return nil
}

// GetPending returns pending sample points ordered by ID. limit <= 0 means
// no limit. Failed points are excluded; they are only retried after an
// explicit ResetFailed.
func (s *Store) GetPending(ctx context.Context, limit int) ([]models.SamplePoint, error) {
	query := `SELECT id, lat, lon, road_id, road_type, status, created_at
		FROM sample_points WHERE status = 'pending' ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query pending: %w", err)
	}
	defer rows.Close()

	var points []models.SamplePoint
	for rows.Next() {
		p, err := scanSamplePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// MarkStatus records the outcome of a crawl attempt for one point.
func (s *Store) MarkStatus(ctx context.Context, id int64, status string) error {
	if status != models.StatusPending && status != models.StatusQueried && status != models.StatusFailed {
		return fmt.Errorf("store: invalid status %q", status)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE sample_points SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("store: mark point %d %s: %w", id, status, err)
	}
	return nil
}

// ResetFailed flips failed points back to pending so a resume run retries
// them. Returns the number of points reset.
func (s *Store) ResetFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sample_points SET status = 'pending' WHERE status = 'failed'")
	if err != nil {
		return 0, fmt.Errorf("store: reset failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reset failed rows: %w", err)
	}
	return n, nil
}

// AppendResponse adds one attempt row to the response log. The log is
// append-only; retries and re-runs add rows rather than updating them.
func (s *Store) AppendResponse(ctx context.Context, r models.MetadataResponse) error {
	queriedAt := r.QueriedAt
	if queriedAt.IsZero() {
		queriedAt = time.Now().UTC()
	}
	// A location is only meaningful when the response carried a panorama;
	// checking the floats themselves would turn a legal 0 coordinate into NULL.
	var lat, lon any
	if r.PanoID != "" {
		lat, lon = r.Lat, r.Lon
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (sample_id, status, pano_id, lat, lon, date, copyright, error_message, queried_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SampleID, r.Status, nullString(r.PanoID), lat, lon,
		nullString(r.Date), nullString(r.Copyright), nullString(r.ErrorMessage), formatTime(queriedAt))
	if err != nil {
		return fmt.Errorf("store: append response for %d: %w", r.SampleID, err)
	}
	return nil
}

// RecordSighting registers a panorama sighting: first sight inserts the row
// with a count of 1, later sights atomically increment the count. The upsert
// runs as a single statement so concurrent sightings of the same panorama
// cannot lose increments. Returns true when the panorama was new.
func (s *Store) RecordSighting(ctx context.Context, r models.MetadataResponse) (bool, error) {
	if r.PanoID == "" {
		return false, fmt.Errorf("store: sighting without pano id for sample %d", r.SampleID)
	}
	firstSeen := r.QueriedAt
	if firstSeen.IsZero() {
		firstSeen = time.Now().UTC()
	}

	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO panoramas (pano_id, lat, lon, date, copyright, first_seen, sample_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(pano_id) DO UPDATE SET sample_count = sample_count + 1
		RETURNING sample_count`,
		r.PanoID, r.Lat, r.Lon, nullString(r.Date), nullString(r.Copyright), formatTime(firstSeen),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: record sighting %s: %w", r.PanoID, err)
	}
	return count == 1, nil
}

// CountPanoramas returns the deduplicated panorama count, the pipeline's
// primary output.
func (s *Store) CountPanoramas(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM panoramas").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count panoramas: %w", err)
	}
	return n, nil
}

// Stats recomputes aggregate counters from the tables.
func (s *Store) Stats(ctx context.Context) (models.ProcessingStats, error) {
	var stats models.ProcessingStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sample_points),
			(SELECT COUNT(*) FROM sample_points WHERE status = 'queried'),
			(SELECT COUNT(*) FROM sample_points WHERE status = 'failed'),
			(SELECT COUNT(*) FROM panoramas),
			(SELECT COUNT(*) FROM responses),
			(SELECT COUNT(*) FROM responses WHERE error_message IS NULL)`).
		Scan(&stats.TotalSamplePoints, &stats.PointsQueried, &stats.PointsFailed,
			&stats.UniquePanoramas, &stats.TotalRequests, &stats.SuccessfulRequests)
	if err != nil {
		return stats, fmt.Errorf("store: stats: %w", err)
	}
	return stats, nil
}

// RoadTypeCount pairs a road type with its sample point count.
type RoadTypeCount struct {
	RoadType string
	Count    int64
}

// RoadTypeDistribution returns per-road-type sample point counts, most
// common first.
func (s *Store) RoadTypeDistribution(ctx context.Context) ([]RoadTypeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(road_type, 'unknown'), COUNT(*) AS n
		FROM sample_points GROUP BY road_type ORDER BY n DESC, road_type`)
	if err != nil {
		return nil, fmt.Errorf("store: road type distribution: %w", err)
	}
	defer rows.Close()

	var out []RoadTypeCount
	for rows.Next() {
		var rc RoadTypeCount
		if err := rows.Scan(&rc.RoadType, &rc.Count); err != nil {
			return nil, fmt.Errorf("store: scan road type: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// ListPanoramas returns all panoramas ordered by first sighting.
func (s *Store) ListPanoramas(ctx context.Context) ([]models.Panorama, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pano_id, lat, lon, date, copyright, first_seen, sample_count
		FROM panoramas ORDER BY first_seen, pano_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list panoramas: %w", err)
	}
	defer rows.Close()

	var out []models.Panorama
	for rows.Next() {
		var p models.Panorama
		var date, copyright sql.NullString
		var firstSeen string
		if err := rows.Scan(&p.PanoID, &p.Lat, &p.Lon, &date, &copyright, &firstSeen, &p.SampleCount); err != nil {
			return nil, fmt.Errorf("store: scan panorama: %w", err)
		}
		p.Date = date.String
		p.Copyright = copyright.String
		p.FirstSeen = parseTime(firstSeen)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SamplePointResult joins a sample point with its most recent crawl attempt.
type SamplePointResult struct {
	models.SamplePoint
	ResponseStatus string
	PanoID         string
	ErrorMessage   string
}

// ListSamplePointResults returns every sample point with the outcome of its
// latest attempt, ordered by ID, for export.
func (s *Store) ListSamplePointResults(ctx context.Context) ([]SamplePointResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.id, sp.lat, sp.lon, sp.road_id, sp.road_type, sp.status, sp.created_at,
			r.status, r.pano_id, r.error_message
		FROM sample_points sp
		LEFT JOIN responses r ON r.id = (
			SELECT MAX(id) FROM responses WHERE sample_id = sp.id
		)
		ORDER BY sp.id`)
	if err != nil {
		return nil, fmt.Errorf("store: list results: %w", err)
	}
	defer rows.Close()

	var out []SamplePointResult
	for rows.Next() {
		var res SamplePointResult
		var roadID, roadType, createdAt sql.NullString
		var respStatus, panoID, errMsg sql.NullString
		if err := rows.Scan(&res.ID, &res.Lat, &res.Lon, &roadID, &roadType, &res.Status, &createdAt,
			&respStatus, &panoID, &errMsg); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		res.RoadID = roadID.String
		res.RoadType = roadType.String
		res.CreatedAt = parseTime(createdAt.String)
		res.ResponseStatus = respStatus.String
		res.PanoID = panoID.String
		res.ErrorMessage = errMsg.String
		out = append(out, res)
	}
	return out, rows.Err()
}

// CountResponsesForPano returns the number of "found" response rows carrying
// the pano id. The panoramas.sample_count column must always equal this.
func (s *Store) CountResponsesForPano(ctx context.Context, panoID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM responses WHERE pano_id = ? AND error_message IS NULL", panoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count responses for %s: %w", panoID, err)
	}
	return n, nil
}

func scanSamplePoint(rows *sql.Rows) (models.SamplePoint, error) {
	var p models.SamplePoint
	var roadID, roadType sql.NullString
	var createdAt string
	if err := rows.Scan(&p.ID, &p.Lat, &p.Lon, &roadID, &roadType, &p.Status, &createdAt); err != nil {
		return p, fmt.Errorf("store: scan sample point: %w", err)
	}
	p.RoadID = roadID.String
	p.RoadType = roadType.String
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
