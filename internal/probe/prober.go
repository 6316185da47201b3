package probe

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	pingInterval = 2 * time.Second
	maxSamples   = 32
)

// Stats is a snapshot of measured link quality.
type Stats struct {
	Samples int
	Last    time.Duration
	Min     time.Duration
	Avg     time.Duration
	Max     time.Duration
	Jitter  time.Duration
}

// Prober runs on both ends of a link: it answers the peer's pings and
// times its own. Round trips are measured end to end through the data
// channel, so they include SCTP and DTLS overhead, which is what a user
// of the call actually experiences.
type Prober struct {
	link Link

	mu          sync.Mutex
	seq         uint64
	outstanding map[uint64]time.Time
	samples     []time.Duration

	quit chan struct{}
	once sync.Once
}

// NewProber wires a prober to a link. Call Start before the link opens.
func NewProber(link Link) *Prober {
	return &Prober{
		link:        link,
		outstanding: make(map[uint64]time.Time),
		quit:        make(chan struct{}),
	}
}

// Start registers the link handlers. Pinging begins when the link opens
// and stops at Close.
func (p *Prober) Start() {
	p.link.OnMessage(p.onMessage)
	p.link.OnOpen(func() {
		go p.pingLoop()
	})
}

// Close stops the ping loop. Safe to call more than once.
func (p *Prober) Close() {
	p.once.Do(func() { close(p.quit) })
}

// Stats returns a snapshot of the measurements so far.
func (p *Prober) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Samples: len(p.samples)}
	if s.Samples == 0 {
		return s
	}

	var sum time.Duration
	s.Min = p.samples[0]
	for _, rtt := range p.samples {
		sum += rtt
		if rtt < s.Min {
			s.Min = rtt
		}
		if rtt > s.Max {
			s.Max = rtt
		}
	}
	s.Last = p.samples[len(p.samples)-1]
	s.Avg = sum / time.Duration(s.Samples)

	// Mean absolute difference between consecutive round trips.
	if s.Samples > 1 {
		var diffs time.Duration
		for i := 1; i < len(p.samples); i++ {
			d := p.samples[i] - p.samples[i-1]
			if d < 0 {
				d = -d
			}
			diffs += d
		}
		s.Jitter = diffs / time.Duration(s.Samples-1)
	}
	return s
}

func (p *Prober) pingLoop() {
	p.ping()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.ping()
		}
	}
}

func (p *Prober) ping() {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	now := time.Now()
	p.outstanding[seq] = now
	p.mu.Unlock()

	frame, err := NewFrame(TypePing, PingPayload{Seq: seq, SentAt: now.UnixNano()})
	if err != nil {
		return
	}
	b, err := msgpack.Marshal(frame)
	if err != nil {
		return
	}
	if err := p.link.Send(b); err != nil {
		slog.Debug("probe ping not sent", "err", err)
	}
}

func (p *Prober) onMessage(data []byte) {
	var frame Frame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		slog.Debug("probe frame not understood", "err", err)
		return
	}

	switch frame.Type {
	case TypePing:
		// Echo the payload back so the peer can time its round trip.
		reply := Frame{Type: TypePong, Payload: frame.Payload}
		b, err := msgpack.Marshal(reply)
		if err != nil {
			return
		}
		if err := p.link.Send(b); err != nil {
			slog.Debug("probe pong not sent", "err", err)
		}

	case TypePong:
		var payload PingPayload
		if err := frame.DecodePayload(&payload); err != nil {
			return
		}
		p.record(payload.Seq)
	}
}

func (p *Prober) record(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sent, ok := p.outstanding[seq]
	if !ok {
		return
	}
	delete(p.outstanding, seq)

	p.samples = append(p.samples, time.Since(sent))
	if len(p.samples) > maxSamples {
		p.samples = p.samples[1:]
	}
}
