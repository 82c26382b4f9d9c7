package recording

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xfrr/goffmpeg/transcoder"

	"github.com/imbgar/rtsp-viewer/logging"
)

// SegmentMetadata describes a finalized segment file as probed from its
// container.
type SegmentMetadata struct {
	Duration   time.Duration
	Width      int
	Height     int
	VideoCodec string
}

// SegmentProbe inspects a finalized segment file.
type SegmentProbe interface {
	Probe(path string) (*SegmentMetadata, error)
}

// FFmpegSegmentProbe implements SegmentProbe using goffmpeg's ffprobe
// wrapper.
type FFmpegSegmentProbe struct {
	logger logging.Logger
}

func NewFFmpegSegmentProbe(logger logging.Logger) *FFmpegSegmentProbe {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &FFmpegSegmentProbe{logger: logger}
}

// Probe reads container metadata from a segment file on disk.
func (p *FFmpegSegmentProbe) Probe(path string) (*SegmentMetadata, error) {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(path, ""); err != nil {
		return nil, fmt.Errorf("failed to probe segment %s: %w", path, err)
	}

	metadata := trans.MediaFile().Metadata()

	result := &SegmentMetadata{}
	if duration, err := parseDuration(metadata.Format.Duration); err == nil {
		result.Duration = duration
	} else {
		p.logger.Warn("Segment duration missing from metadata", "path", path, "error", err)
	}

	for _, stream := range metadata.Streams {
		if stream.CodecType == "video" {
			result.Width = stream.Width
			result.Height = stream.Height
			result.VideoCodec = stream.CodecName
			break
		}
	}

	return result, nil
}

func parseDuration(durationStr string) (time.Duration, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration in metadata")
	}

	durationSeconds, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration '%s': %w", durationStr, err)
	}
	if durationSeconds <= 0 {
		return 0, fmt.Errorf("invalid or zero duration: %f seconds", durationSeconds)
	}

	return time.Duration(durationSeconds * float64(time.Second)), nil
}

// NopProbe skips probing; used when ffprobe is unavailable and in tests.
type NopProbe struct{}

func (NopProbe) Probe(path string) (*SegmentMetadata, error) {
	return &SegmentMetadata{}, nil
}
