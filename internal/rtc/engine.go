// Package rtc adapts a pion peer connection to the negotiation machine.
package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/peer"
	"github.com/parleyhq/parley/internal/probe"
)

var _ peer.Engine = (*Engine)(nil)

// Engine owns one peer connection, its senders, and the probe channel.
// Methods follow WebRTC's perfect-negotiation shape: offers and answers
// are applied locally before the SDP is handed back for signaling.
type Engine struct {
	pc    *webrtc.PeerConnection
	probe *webrtc.DataChannel

	mu      sync.Mutex
	senders map[webrtc.TrackLocal]*webrtc.RTPSender
	inbound map[string]*trackCounter
}

// New builds a peer connection from the configured ICE servers. The
// probe data channel is created up front, pre-agreed on ID 0, so both
// sides open the same channel without announcing it in band.
func New(cfg *config.Config) (*Engine, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(media, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = slogFactory{}
	// Both ends of a call may sit on the same machine; without loopback
	// candidates those calls never pair.
	se.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(media),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(configuration(cfg))
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ordered := true
	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("probe", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create probe channel: %w", err)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		slog.Debug("peer connection state", "state", s.String())
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		if s == webrtc.ICEConnectionStateFailed {
			slog.Warn("ice connection failed")
			return
		}
		slog.Debug("ice connection state", "state", s.String())
	})

	return &Engine{
		pc:      pc,
		probe:   dc,
		senders: make(map[webrtc.TrackLocal]*webrtc.RTPSender),
		inbound: make(map[string]*trackCounter),
	}, nil
}

func configuration(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 && stun[0] != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

func (e *Engine) CreateOffer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return e.pc.LocalDescription().SDP, nil
}

func (e *Engine) CreateAnswer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return e.pc.LocalDescription().SDP, nil
}

func (e *Engine) SetRemoteDescription(ctx context.Context, sdpType, sdp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var t webrtc.SDPType
	switch sdpType {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("unexpected description type %q", sdpType)
	}

	desc := webrtc.SessionDescription{Type: t, SDP: sdp}
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (e *Engine) AddICECandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (e *Engine) AddTrack(track webrtc.TrackLocal) error {
	sender, err := e.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	e.mu.Lock()
	e.senders[track] = sender
	e.mu.Unlock()

	// Drain RTCP so the interceptors see feedback. Ends when the sender
	// stops.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (e *Engine) RemoveTrack(track webrtc.TrackLocal) error {
	e.mu.Lock()
	sender, ok := e.senders[track]
	delete(e.senders, track)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("track %q has no sender", track.ID())
	}
	if err := e.pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("remove track: %w", err)
	}
	return nil
}

func (e *Engine) OnICECandidate(fn func(json.RawMessage)) {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(b)
	})
}

func (e *Engine) OnRemoteTrack(fn func(peer.RemoteTrack)) {
	e.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		info := peer.RemoteTrack{
			Kind:     track.Kind().String(),
			ID:       track.ID(),
			StreamID: track.StreamID(),
		}
		slog.Debug("remote track", "kind", info.Kind, "id", info.ID, "stream", info.StreamID)
		fn(info)
		go e.drain(track)
	})
}

func (e *Engine) Close() error {
	return e.pc.Close()
}

// ProbeLink exposes the probe channel as a transport the prober can run
// over.
func (e *Engine) ProbeLink() probe.Link {
	return dataChannelLink{dc: e.probe}
}

type dataChannelLink struct {
	dc *webrtc.DataChannel
}

func (l dataChannelLink) Send(data []byte) error { return l.dc.Send(data) }

func (l dataChannelLink) OnMessage(fn func(data []byte)) {
	l.dc.OnMessage(func(m webrtc.DataChannelMessage) { fn(m.Data) })
}

func (l dataChannelLink) OnOpen(fn func()) { l.dc.OnOpen(fn) }

// TrackStats counts traffic received on one remote track.
type TrackStats struct {
	Kind     string
	ID       string
	StreamID string
	Packets  uint64
	Bytes    uint64
}

// InboundStats reports per-track receive counters, ordered by kind and
// track ID.
func (e *Engine) InboundStats() []TrackStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]TrackStats, 0, len(e.inbound))
	for _, c := range e.inbound {
		out = append(out, TrackStats{
			Kind:     c.kind,
			ID:       c.id,
			StreamID: c.streamID,
			Packets:  c.packets.Load(),
			Bytes:    c.bytes.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type trackCounter struct {
	kind, id, streamID string
	packets            atomic.Uint64
	bytes              atomic.Uint64
}

// drain keeps reading a remote track so the jitter buffer and
// interceptors make progress, counting as it goes. Nothing renders in a
// terminal; the counters feed the end-of-call report.
func (e *Engine) drain(track *webrtc.TrackRemote) {
	c := &trackCounter{
		kind:     track.Kind().String(),
		id:       track.ID(),
		streamID: track.StreamID(),
	}
	e.mu.Lock()
	e.inbound[c.kind+":"+c.id] = c
	e.mu.Unlock()

	buf := make([]byte, 1600)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		c.packets.Add(1)
		c.bytes.Add(uint64(n))
	}
}
