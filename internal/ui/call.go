// Package ui renders the terminal surfaces: the live call view, the
// room banner, spinners, and the end-of-call summary.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/peer"
	"github.com/parleyhq/parley/internal/session"
)

// Caller is the slice of the session controller the call view drives.
type Caller interface {
	Events() <-chan session.Event
	Snapshot() session.Snapshot
	Transcript() []chat.Line
	SendChat(text string) error
	StartScreenShare()
	StopScreenShare()
	Disconnect()
	RoomID() string
	UserID() string
}

const chatWindow = 12

type sessionEventMsg session.Event

type statsTickMsg time.Time

// callModel is the live view for an active call: status header, chat
// log, input line, and link stats.
type callModel struct {
	call Caller

	spinner spinner.Model
	input   textinput.Model
	width   int

	phase       peer.Phase
	peerName    string
	lastPeer    string
	sharing     bool
	lines       []chat.Line
	notices     []string
	startTime   time.Time
	connectedAt time.Time

	lastSnap session.Snapshot
	lastErr  error
	closed   bool
	quitting bool
}

func newCallModel(call Caller) *callModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	ti := textinput.New()
	ti.Placeholder = "Type a message and press Enter"
	ti.CharLimit = 512
	ti.Width = 60
	ti.Focus()

	return &callModel{
		call:      call,
		spinner:   s,
		input:     ti,
		width:     80,
		startTime: time.Now(),
	}
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenForEvents(),
		statsTick(),
		textinput.Blink,
	)
}

// listenForEvents forwards one session event into the program. The
// handler re-arms it, so the stream keeps flowing.
func (m *callModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return sessionEventMsg(<-m.call.Events())
	}
}

func statsTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return statsTickMsg(t)
	})
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, m.quit()
		case "ctrl+s":
			if m.sharing {
				m.call.StopScreenShare()
			} else {
				m.call.StartScreenShare()
			}
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				if err := m.call.SendChat(text); err != nil {
					m.pushNotice(FormatError(err))
				}
				m.input.Reset()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-8)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case statsTickMsg:
		if !m.quitting {
			m.lastSnap = m.call.Snapshot()
			cmds = append(cmds, statsTick())
		}

	case sessionEventMsg:
		m.handleEvent(session.Event(msg))
		if m.closed {
			return m, tea.Quit
		}
		cmds = append(cmds, m.listenForEvents())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *callModel) quit() tea.Cmd {
	if !m.quitting {
		m.quitting = true
		m.lastSnap = m.call.Snapshot()
		m.call.Disconnect()
	}
	return tea.Quit
}

func (m *callModel) handleEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventPhase:
		m.phase = ev.Phase
		if ev.Phase == peer.PhaseConnected && m.connectedAt.IsZero() {
			m.connectedAt = time.Now()
		}

	case session.EventPeerJoined:
		m.peerName = ev.Peer
		m.lastPeer = ev.Peer
		m.pushNotice(SuccessStyle.Render(fmt.Sprintf("%s %s joined", IconPeer, ev.Peer)))

	case session.EventPeerLeft:
		name := ev.Peer
		if name == "" {
			name = "your peer"
		}
		m.pushNotice(WarningStyle.Render(fmt.Sprintf("%s %s left, waiting for someone new", IconWave, name)))
		m.peerName = ""

	case session.EventChat:
		// The joining side never gets a join notification, so the first
		// message is how it learns the peer's name.
		if m.peerName == "" && ev.Line.From != m.call.UserID() {
			m.peerName = ev.Line.From
			m.lastPeer = ev.Line.From
		}
		m.lines = append(m.lines, ev.Line)

	case session.EventRemoteTrack:
		m.pushNotice(MutedStyle.Render(fmt.Sprintf("%s receiving %s (%s)", IconCamera, ev.Track.Kind, ev.Track.ID)))

	case session.EventScreenShare:
		m.sharing = ev.Sharing
		if ev.Sharing {
			m.pushNotice(SuccessStyle.Render(fmt.Sprintf("%s sharing your screen", IconScreen)))
		} else {
			m.pushNotice(MutedStyle.Render(fmt.Sprintf("%s screen share stopped", IconScreen)))
		}

	case session.EventError:
		if ev.Err != nil {
			m.lastErr = ev.Err
			m.pushNotice(FormatError(ev.Err))
		}

	case session.EventClosed:
		m.closed = true
	}
}

func (m *callModel) pushNotice(notice string) {
	m.notices = append(m.notices, notice)
	if len(m.notices) > 3 {
		m.notices = m.notices[len(m.notices)-3:]
	}
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s parley %s", IconRoom, m.call.RoomID())))
	b.WriteString("\n\n")
	b.WriteString(m.viewStatus())
	b.WriteString("\n\n")

	lines := m.lines
	if len(lines) > chatWindow {
		lines = lines[len(lines)-chatWindow:]
	}
	if len(lines) == 0 {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  %s No messages yet", IconChat)))
		b.WriteString("\n")
	}
	for _, line := range lines {
		style := PeerNameStyle
		if line.From == m.call.UserID() {
			style = SelfNameStyle
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", style.Render(line.From+":"), line.Text))
	}
	b.WriteString("\n")

	for _, notice := range m.notices {
		b.WriteString("  " + notice + "\n")
	}
	if len(m.notices) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("  " + m.input.View() + "\n\n")
	b.WriteString(MutedStyle.Render("  Enter send · Ctrl+S share screen · Esc leave"))
	b.WriteString("\n")

	return b.String()
}

func (m *callModel) viewStatus() string {
	switch {
	case m.peerName == "" && m.phase == peer.PhaseIdle:
		return fmt.Sprintf("%s Waiting for someone to join...", m.spinner.View())

	case m.phase == peer.PhaseConnected:
		status := SuccessStyle.Render(fmt.Sprintf("%s Connected", IconConnect))
		if m.peerName != "" {
			status = SuccessStyle.Render(fmt.Sprintf("%s In call with %s", IconConnect, m.peerName))
		}
		if m.lastSnap.Probe.Samples > 0 {
			status += MutedStyle.Render(fmt.Sprintf("  %s %dms rtt", IconSignal, m.lastSnap.Probe.Avg.Milliseconds()))
		}
		if m.sharing {
			status += MutedStyle.Render(fmt.Sprintf("  %s sharing", IconScreen))
		}
		return status

	default:
		who := m.peerName
		if who == "" {
			who = "peer"
		}
		return fmt.Sprintf("%s Negotiating with %s (%s)...", m.spinner.View(), who, m.phase)
	}
}

func (m *callModel) report() CallReport {
	var dur time.Duration
	if !m.connectedAt.IsZero() {
		dur = time.Since(m.connectedAt)
	}
	return CallReport{
		Room:     m.call.RoomID(),
		Peer:     m.lastPeer,
		Duration: dur,
		Messages: len(m.lines),
		Probe:    m.lastSnap.Probe,
		Inbound:  m.lastSnap.Inbound,
		Err:      m.lastErr,
	}
}

// RunCall runs the live call view until the user leaves or the session
// ends, then reports what happened for the summary table.
func RunCall(call Caller) (CallReport, error) {
	model := newCallModel(call)
	out, err := tea.NewProgram(model).Run()
	if err != nil {
		return CallReport{}, err
	}
	final, ok := out.(*callModel)
	if !ok {
		return CallReport{}, fmt.Errorf("unexpected model type %T", out)
	}
	return final.report(), nil
}
