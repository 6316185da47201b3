// Package chat keeps the message transcript of a call.
package chat

import (
	"sync"
	"time"
)

// Line is one chat message as it is shown to the user.
type Line struct {
	From string
	Text string
	At   time.Time
}

func (l Line) String() string {
	return l.From + ": " + l.Text
}

// Transcript accumulates messages in arrival order. Delivery order is
// the relay's order, which both sides share.
type Transcript struct {
	mu    sync.Mutex
	lines []Line
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append records a message and returns the stamped line.
func (t *Transcript) Append(from, text string) Line {
	line := Line{From: from, Text: text, At: time.Now()}
	t.mu.Lock()
	t.lines = append(t.lines, line)
	t.mu.Unlock()
	return line
}

// Lines returns a copy of the transcript.
func (t *Transcript) Lines() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Line(nil), t.lines...)
}

// Strings renders the transcript one "from: text" line per message.
func (t *Transcript) Strings() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	for i, l := range t.lines {
		out[i] = l.String()
	}
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}
