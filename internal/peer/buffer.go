package peer

import "encoding/json"

// candidateBuffer holds remote ICE candidates that arrive before the
// current round has a remote description. Order is receipt order.
type candidateBuffer struct {
	pending []json.RawMessage
}

func (b *candidateBuffer) add(c json.RawMessage) {
	b.pending = append(b.pending, c)
}

// drain returns the buffered candidates in receipt order and empties the
// buffer.
func (b *candidateBuffer) drain() []json.RawMessage {
	out := b.pending
	b.pending = nil
	return out
}

func (b *candidateBuffer) clear() {
	b.pending = nil
}

func (b *candidateBuffer) size() int {
	return len(b.pending)
}
