// Package media turns capture devices into WebRTC tracks. Capture runs
// in an external ffmpeg process that encodes H264 and sends RTP to a
// loopback port; the ingest loop forwards those packets into a local
// track.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Acquirer obtains local media as sendable tracks.
type Acquirer interface {
	AcquireCamera(ctx context.Context) (*TrackSet, error)
	AcquireScreen(ctx context.Context) (*TrackSet, error)
}

// TrackSet bundles tracks with the capture resources behind them. The
// set owns the resources: closing it stops capture, but the tracks'
// senders must be removed from the connection by the caller.
type TrackSet struct {
	tracks []webrtc.TrackLocal
	stops  []func() error
}

// NewTrackSet bundles tracks with the stop functions that release
// their capture resources.
func NewTrackSet(tracks []webrtc.TrackLocal, stops ...func() error) *TrackSet {
	return &TrackSet{tracks: tracks, stops: stops}
}

// Tracks returns the sendable tracks in the set.
func (s *TrackSet) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// Empty reports whether the set carries no tracks.
func (s *TrackSet) Empty() bool {
	return len(s.tracks) == 0
}

// Close stops every capture resource in the set. Safe on an empty set
// and after a previous Close.
func (s *TrackSet) Close() error {
	var first error
	for _, stop := range s.stops {
		if err := stop(); err != nil && first == nil {
			first = err
		}
	}
	s.stops = nil
	return first
}

// NullAcquirer produces empty track sets without touching any device.
// Sessions running with --no-media still negotiate, carrying only the
// data channel.
type NullAcquirer struct{}

func (NullAcquirer) AcquireCamera(context.Context) (*TrackSet, error) {
	return &TrackSet{}, nil
}

func (NullAcquirer) AcquireScreen(context.Context) (*TrackSet, error) {
	return &TrackSet{}, nil
}
