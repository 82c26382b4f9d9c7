package recording

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SegmentRepository persists segment records so recordings survive a
// viewer restart and stay auditable.
type SegmentRepository interface {
	// Add stores a new open segment
	Add(ctx context.Context, segment *Segment) error

	// CloseSegment marks a segment finalized with its measured size and duration
	CloseSegment(ctx context.Context, id string, endTime time.Time, sizeBytes int64, duration time.Duration) error

	// GetByID retrieves a segment by its ID
	GetByID(ctx context.Context, id string) (*Segment, error)

	// GetByRecording retrieves all segments of one recording session, in sequence order
	GetByRecording(ctx context.Context, recordingID string) ([]*Segment, error)

	// GetOpen retrieves segments still marked open for a camera. Segments
	// left open by a crash are found here on the next start.
	GetOpen(ctx context.Context, camera string) ([]*Segment, error)
}

// SQLiteSegmentRepository implements SegmentRepository using SQLite
type SQLiteSegmentRepository struct {
	db *sql.DB
}

// NewSQLiteSegmentRepository creates a new SQLite-based SegmentRepository
func NewSQLiteSegmentRepository(db *sql.DB) (*SQLiteSegmentRepository, error) {
	repo := &SQLiteSegmentRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteSegmentRepository) createTables() error {
	createSegmentsTable := `
	CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		camera TEXT NOT NULL,
		recording_id TEXT NOT NULL,
		path TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		status TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		duration INTEGER NOT NULL DEFAULT 0
	);`

	_, err := r.db.Exec(createSegmentsTable)
	return err
}

const segmentColumns = `id, camera, recording_id, path, sequence, start_time, end_time, status, size_bytes, duration`

// Add stores a new segment record
func (r *SQLiteSegmentRepository) Add(ctx context.Context, segment *Segment) error {
	query := `
	INSERT INTO segments (` + segmentColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var endTime string
	if !segment.EndTime.IsZero() {
		endTime = timeToString(segment.EndTime)
	}

	_, err := r.db.ExecContext(ctx, query,
		segment.ID, segment.Camera, segment.RecordingID, segment.Path, segment.Sequence,
		timeToString(segment.StartTime), endTime, string(segment.Status),
		segment.SizeBytes, int64(segment.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to add segment: %w", err)
	}
	return nil
}

// CloseSegment marks the segment closed and records its final size and duration
func (r *SQLiteSegmentRepository) CloseSegment(ctx context.Context, id string, endTime time.Time, sizeBytes int64, duration time.Duration) error {
	query := `
	UPDATE segments
	SET status = ?, end_time = ?, size_bytes = ?, duration = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(SegmentClosed), timeToString(endTime), sizeBytes, int64(duration), id)
	if err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check close result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("segment %s not found", id)
	}
	return nil
}

// GetByID retrieves a segment by its ID
func (r *SQLiteSegmentRepository) GetByID(ctx context.Context, id string) (*Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	segment, err := scanSegment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get segment by ID: %w", err)
	}
	return segment, nil
}

// GetByRecording retrieves all segments of one recording session
func (r *SQLiteSegmentRepository) GetByRecording(ctx context.Context, recordingID string) ([]*Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE recording_id = ? ORDER BY sequence`

	rows, err := r.db.QueryContext(ctx, query, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	return scanSegments(rows)
}

// GetOpen retrieves segments still marked open for a camera
func (r *SQLiteSegmentRepository) GetOpen(ctx context.Context, camera string) ([]*Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE camera = ? AND status = ? ORDER BY start_time`

	rows, err := r.db.QueryContext(ctx, query, camera, string(SegmentOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query open segments: %w", err)
	}
	defer rows.Close()

	return scanSegments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (*Segment, error) {
	segment := &Segment{}
	var startStr string
	var endStr sql.NullString
	var status string
	var durationNanos int64

	err := row.Scan(
		&segment.ID, &segment.Camera, &segment.RecordingID, &segment.Path, &segment.Sequence,
		&startStr, &endStr, &status, &segment.SizeBytes, &durationNanos,
	)
	if err != nil {
		return nil, err
	}

	segment.StartTime, err = stringToTime(startStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start time: %w", err)
	}
	if endStr.Valid && endStr.String != "" {
		segment.EndTime, err = stringToTime(endStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end time: %w", err)
		}
	}
	segment.Status = SegmentStatus(status)
	segment.Duration = time.Duration(durationNanos)
	return segment, nil
}

func scanSegments(rows *sql.Rows) ([]*Segment, error) {
	var segments []*Segment
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, segment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}
	return segments, nil
}

// timeToString converts a time.Time to an RFC3339 string for storage
func timeToString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// stringToTime converts a stored RFC3339 string back to a time.Time
func stringToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
