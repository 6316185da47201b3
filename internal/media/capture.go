package media

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/parleyhq/parley/internal/config"
)

// FFmpegAcquirer captures with one external ffmpeg process per source.
type FFmpegAcquirer struct {
	cfg *config.Config
}

func NewFFmpegAcquirer(cfg *config.Config) *FFmpegAcquirer {
	return &FFmpegAcquirer{cfg: cfg}
}

func (a *FFmpegAcquirer) AcquireCamera(ctx context.Context) (*TrackSet, error) {
	return a.acquire(ctx, "camera", a.cfg.CameraDevice, CameraArgs)
}

func (a *FFmpegAcquirer) AcquireScreen(ctx context.Context) (*TrackSet, error) {
	return a.acquire(ctx, "screen", "", ScreenArgs)
}

func (a *FFmpegAcquirer) acquire(ctx context.Context, label, device string, build func(Options, int) []string) (*TrackSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := newIngest(0)
	if err != nil {
		return nil, fmt.Errorf("bind ingest port: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, label, "parley")
	if err != nil {
		in.close()
		return nil, fmt.Errorf("create %s track: %w", label, err)
	}

	opts := Options{
		FPS:         a.cfg.CaptureFPS,
		BitrateKbps: a.cfg.BitrateKbps,
		Device:      device,
	}
	stop, err := NewRunner(a.cfg.FFmpegPath).Start(build(opts, in.port()))
	if err != nil {
		in.close()
		return nil, fmt.Errorf("capture %s: %w", label, err)
	}

	in.start(track)
	return NewTrackSet(
		[]webrtc.TrackLocal{track},
		stop,
		func() error { in.close(); return nil },
	), nil
}
