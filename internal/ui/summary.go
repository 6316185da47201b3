package ui

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/parleyhq/parley/internal/probe"
	"github.com/parleyhq/parley/internal/rtc"
)

// CallReport summarizes a finished call for the end-of-call table.
type CallReport struct {
	Room     string
	Peer     string
	Duration time.Duration
	Messages int
	Probe    probe.Stats
	Inbound  []rtc.TrackStats
	Err      error
}

// CallReportView renders the report as a go-pretty table.
func CallReportView(r CallReport) string {
	peerName := r.Peer
	if peerName == "" {
		peerName = "nobody joined"
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s Call Summary", IconSignal))
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", r.Room},
		{"Peer", peerName},
		{"Duration", formatCallDuration(r.Duration)},
		{"Messages", r.Messages},
	})

	if r.Probe.Samples > 0 {
		t.AppendRows([]table.Row{
			{"Avg RTT", fmt.Sprintf("%d ms", r.Probe.Avg.Milliseconds())},
			{"Jitter", fmt.Sprintf("%d ms", r.Probe.Jitter.Milliseconds())},
		})
	}
	for _, tr := range r.Inbound {
		t.AppendRow(table.Row{
			fmt.Sprintf("Received %s (%s)", tr.Kind, tr.ID),
			fmt.Sprintf("%d pkts, %s", tr.Packets, formatBytes(int64(tr.Bytes))),
		})
	}

	return t.Render()
}

// RenderCallReport prints the summary table to stdout.
func RenderCallReport(r CallReport) {
	fmt.Println(CallReportView(r))
}

// RoomInfo is the banner a host shows while waiting for the other
// caller.
type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{RoomID: roomID, RoomLink: roomLink}
}

func (r *RoomInfo) View() string {
	content := fmt.Sprintf("%s Room ready!\n\n%s Code:  %s\n%s Link:  %s\n\nShare the code with the other caller.",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)
	return RoomBoxStyle.Render(content)
}

func RenderRoomInfo(roomID, roomLink string) {
	fmt.Println(NewRoomInfo(roomID, roomLink).View())
}

func formatCallDuration(d time.Duration) string {
	seconds := d.Seconds()
	switch {
	case seconds < 1:
		return "<1s"
	case seconds < 60:
		return fmt.Sprintf("%.0fs", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm%ds", int(seconds)/60, int(seconds)%60)
	default:
		return fmt.Sprintf("%dh%dm", int(seconds)/3600, (int(seconds)%3600)/60)
	}
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
