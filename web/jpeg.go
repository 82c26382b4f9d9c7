package web

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/imbgar/rtsp-viewer/frames"
)

// encodeJPEG compresses a decoded BGR frame to JPEG for HTTP delivery.
func encodeJPEG(frame frames.Frame) ([]byte, error) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame data: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	defer buf.Close()

	// The native buffer is freed on Close; hand back a copy.
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
