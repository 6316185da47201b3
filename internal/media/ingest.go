package media

import (
	"net"
	"sync"

	"github.com/pion/rtp"
)

// rtpSink is where ingested packets go. *webrtc.TrackLocalStaticRTP
// satisfies it.
type rtpSink interface {
	WriteRTP(p *rtp.Packet) error
}

// ingest receives RTP on a loopback UDP port and forwards every valid
// packet into a sink. Binding with port 0 picks a free port, which the
// capture process is then pointed at; there is no reserve-then-rebind
// window.
type ingest struct {
	conn *net.UDPConn
	once sync.Once
}

func newIngest(port int) (*ingest, error) {
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &ingest{conn: conn}, nil
}

func (in *ingest) port() int {
	return in.conn.LocalAddr().(*net.UDPAddr).Port
}

func (in *ingest) start(sink rtpSink) {
	go in.loop(sink)
}

// close stops the forward loop by closing the socket.
func (in *ingest) close() {
	in.once.Do(func() { _ = in.conn.Close() })
}

func (in *ingest) loop(sink rtpSink) {
	buf := make([]byte, 1600)
	for {
		n, _, err := in.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		_ = sink.WriteRTP(&pkt)
	}
}
