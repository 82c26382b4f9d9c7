package capture

import (
	"fmt"
	"os"
	"strings"

	"gocv.io/x/gocv"
)

// ffmpegOptionsEnv is read by OpenCV's FFmpeg capture backend at open
// time. It is process-global, so all cameras share the same transport
// and timeout settings; the values are identical per session anyway.
const ffmpegOptionsEnv = "OPENCV_FFMPEG_CAPTURE_OPTIONS"

// GoCVBackend decodes an RTSP stream through OpenCV's FFmpeg backend.
type GoCVBackend struct {
	cap    *gocv.VideoCapture
	img    gocv.Mat
	opened bool
	info   StreamInfo
}

func NewGoCVBackend() *GoCVBackend {
	return &GoCVBackend{}
}

// NewGoCVBackendFactory returns a BackendFactory producing fresh gocv
// backends, one per connect attempt.
func NewGoCVBackendFactory() BackendFactory {
	return func() Backend {
		return NewGoCVBackend()
	}
}

func (b *GoCVBackend) Open(url string, opts OpenOptions) error {
	os.Setenv(ffmpegOptionsEnv, buildFFmpegOptions(opts))

	cap, err := gocv.OpenVideoCaptureWithAPI(url, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("stream did not open")
	}

	// Keep at most one frame queued inside OpenCV; staleness is handled
	// by Drain, not by a deep buffer.
	cap.Set(gocv.VideoCaptureBufferSize, 1)

	b.cap = cap
	b.img = gocv.NewMat()
	b.opened = true
	b.detectInfo()
	return nil
}

// buildFFmpegOptions assembles the option string OpenCV forwards to
// FFmpeg. stimeout is in microseconds.
func buildFFmpegOptions(opts OpenOptions) string {
	transport := opts.Transport
	if transport == "" {
		transport = "tcp"
	}

	options := []string{
		fmt.Sprintf("rtsp_transport;%s", transport),
	}
	if opts.ReadTimeout > 0 {
		options = append(options, fmt.Sprintf("stimeout;%d", opts.ReadTimeout.Microseconds()))
	}
	if opts.LowLatency {
		options = append(options,
			"fflags;nobuffer",
			"flags;low_delay",
			"fflags;discardcorrupt",
			"avioflags;direct",
			"analyzeduration;500000",
			"probesize;500000",
		)
	}
	return strings.Join(options, "|")
}

func (b *GoCVBackend) detectInfo() {
	b.info = StreamInfo{
		Width:  int(b.cap.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(b.cap.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    b.cap.Get(gocv.VideoCaptureFPS),
	}

	fourcc := int64(b.cap.Get(gocv.VideoCaptureFOURCC))
	if fourcc > 0 {
		codec := make([]byte, 0, 4)
		for i := 0; i < 4; i++ {
			codec = append(codec, byte((fourcc>>(8*i))&0xFF))
		}
		b.info.Codec = string(codec)
	}
}

func (b *GoCVBackend) Info() StreamInfo {
	return b.info
}

func (b *GoCVBackend) Drain(n int) {
	if b.cap == nil || n <= 0 {
		return
	}
	b.cap.Grab(n)
}

func (b *GoCVBackend) Read() (Image, bool) {
	if b.cap == nil {
		return Image{}, false
	}
	if ok := b.cap.Read(&b.img); !ok {
		return Image{}, false
	}
	if b.img.Empty() {
		return Image{}, false
	}

	data, err := b.img.ToBytes()
	if err != nil {
		return Image{}, false
	}

	return Image{
		Data:   data,
		Width:  b.img.Cols(),
		Height: b.img.Rows(),
	}, true
}

func (b *GoCVBackend) Close() error {
	if !b.opened {
		return nil
	}
	b.opened = false
	b.img.Close()
	err := b.cap.Close()
	b.cap = nil
	return err
}
