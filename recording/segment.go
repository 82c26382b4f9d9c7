package recording

import (
	"fmt"
	"strings"
	"time"
)

type SegmentStatus string

const (
	// SegmentOpen means the backend is still writing the file.
	SegmentOpen SegmentStatus = "open"
	// SegmentClosed means the file is finalized; no further writes.
	SegmentClosed SegmentStatus = "closed"
)

// Segment is one recorded output file. Exactly one segment is open at a
// time per active recording; rotation closes the current one and opens
// the next.
type Segment struct {
	ID          string        `json:"id"`
	Camera      string        `json:"camera"`
	RecordingID string        `json:"recording_id"`
	Path        string        `json:"path"`
	Sequence    int           `json:"sequence"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time,omitempty"`
	Status      SegmentStatus `json:"status"`
	SizeBytes   int64         `json:"size_bytes"`
	Duration    time.Duration `json:"duration"`
}

// timestampLayout is used in session directory and segment file names.
const timestampLayout = "20060102_150405"

// sanitizeName keeps camera names filesystem-safe.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// sessionDirName builds the per-recording directory name
// {cameraName}_{startTimestamp}.
func sessionDirName(camera string, start time.Time) string {
	return fmt.Sprintf("%s_%s", sanitizeName(camera), start.Format(timestampLayout))
}

// segmentFileName builds the segment file name
// {cameraName}_{segmentStartTimestamp}.mp4.
func segmentFileName(camera string, start time.Time) string {
	return fmt.Sprintf("%s_%s.mp4", sanitizeName(camera), start.Format(timestampLayout))
}
