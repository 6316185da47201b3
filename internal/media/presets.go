package media

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Options describes capture parameters for one ffmpeg invocation.
type Options struct {
	FPS         int
	BitrateKbps int

	// Device overrides the platform default capture source: a v4l2
	// path, an avfoundation index, or a dshow device string.
	Device string
}

// CameraArgs builds the ffmpeg arguments to capture the camera and send
// H264 RTP to the local ingest port.
func CameraArgs(opts Options, port int) []string {
	return append(cameraInput(opts), outputArgs(opts, port)...)
}

// ScreenArgs builds the ffmpeg arguments to capture the screen.
func ScreenArgs(opts Options, port int) []string {
	return append(screenInput(opts), outputArgs(opts, port)...)
}

func cameraInput(opts Options) []string {
	device := opts.Device
	switch runtime.GOOS {
	case "darwin":
		if device == "" {
			device = "0:"
		}
		return []string{
			"-f", "avfoundation",
			"-framerate", strconv.Itoa(opts.FPS),
			"-video_size", "1280x720",
			"-i", device,
		}
	case "windows":
		if device == "" {
			device = "video=Integrated Camera"
		}
		return []string{
			"-f", "dshow",
			"-framerate", strconv.Itoa(opts.FPS),
			"-i", device,
		}
	default:
		if device == "" {
			device = "/dev/video0"
		}
		return []string{
			"-f", "v4l2",
			"-framerate", strconv.Itoa(opts.FPS),
			"-video_size", "1280x720",
			"-i", device,
		}
	}
}

func screenInput(opts Options) []string {
	switch runtime.GOOS {
	case "darwin":
		device := opts.Device
		if device == "" {
			// Screen devices come after the cameras in avfoundation's
			// listing; 1 is the first screen on a single-camera machine.
			device = "1:"
		}
		return []string{
			"-f", "avfoundation",
			"-framerate", strconv.Itoa(opts.FPS),
			"-capture_cursor", "1",
			"-i", device,
		}
	case "windows":
		return []string{
			"-f", "gdigrab",
			"-framerate", strconv.Itoa(opts.FPS),
			"-i", "desktop",
		}
	default:
		display := opts.Device
		if display == "" {
			display = os.Getenv("DISPLAY")
		}
		if display == "" {
			display = ":0.0"
		}
		return []string{
			"-f", "x11grab",
			"-framerate", strconv.Itoa(opts.FPS),
			"-i", display,
		}
	}
}

func outputArgs(opts Options, port int) []string {
	// Frequent keyframes so the remote decoder recovers quickly after
	// renegotiation.
	keyint := opts.FPS
	if keyint <= 0 {
		keyint = 30
	}
	if keyint < 15 {
		keyint = 15
	}
	return []string{
		"-an",
		"-vcodec", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-g", strconv.Itoa(keyint),
		"-keyint_min", strconv.Itoa(keyint),
		"-bf", "0",
		"-x264-params", "scenecut=0:repeat-headers=1",
		"-pix_fmt", "yuv420p",
		"-b:v", fmt.Sprintf("%dk", opts.BitrateKbps),
		"-payload_type", "96",
		"-f", "rtp",
		fmt.Sprintf("rtp://127.0.0.1:%d?pkt_size=1200", port),
	}
}
