package cli

import (
	"fmt"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/media"
	"github.com/parleyhq/parley/internal/peer"
	"github.com/parleyhq/parley/internal/rtc"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/signaling"
	"github.com/parleyhq/parley/internal/ui"
)

// callOptions are the flags host and join share.
type callOptions struct {
	name     string
	domain   string
	server   string
	stun     string
	turn     string
	turnUser string
	turnPass string
	relay    bool
	noMedia  bool
}

func (o *callOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.name, "name", "n", "", "Display name (defaults to your username)")
	f.StringVarP(&o.domain, "domain", "d", "", "Custom relay domain")
	f.StringVar(&o.server, "server", "", "Full relay URL (ws:// or wss://)")
	f.StringVarP(&o.stun, "stun", "s", "", "Custom STUN server")
	f.StringVarP(&o.turn, "turn", "t", "", "Custom TURN server")
	f.StringVar(&o.turnUser, "turn-user", "", "TURN username")
	f.StringVar(&o.turnPass, "turn-pass", "", "TURN password")
	f.BoolVarP(&o.relay, "relay", "r", false, "Force TURN relay mode")
	f.BoolVar(&o.noMedia, "no-media", false, "Join without camera capture")
}

func (o *callOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Domain:     o.domain,
		ServerURL:  o.server,
		STUNServer: o.stun,
		TURNServer: o.turn,
		TURNUser:   o.turnUser,
		TURNPass:   o.turnPass,
		ForceRelay: o.relay,
		NoMedia:    o.noMedia,
	})
	if err != nil {
		return nil, session.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without a TURN server configured")
	}

	return cfg, nil
}

// userName resolves the display name: the --name flag, or the OS
// username.
func (o *callOptions) userName() (string, error) {
	if o.name != "" {
		return o.name, nil
	}
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "", fmt.Errorf("could not determine a display name, pass --name")
	}
	return sanitizeName(u.Username), nil
}

// sanitizeName makes an OS username safe as a call identifier: Windows
// usernames carry a DOMAIN\ prefix and names may contain spaces.
func sanitizeName(name string) string {
	if i := strings.LastIndexByte(name, '\\'); i >= 0 {
		name = name[i+1:]
	}
	return strings.Join(strings.Fields(name), "-")
}

// runCall connects to the relay, assembles the session, and runs the
// call view until the user leaves.
func runCall(cfg *config.Config, roomID, userID string) error {
	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	defer stopSpinner()

	channel := signaling.NewChannel(cfg.WebSocketURL)
	if err := channel.Connect(); err != nil {
		return session.WrapError("connect to relay", session.ErrChannelUnavailable, err.Error())
	}
	defer channel.Close()
	stopSpinner()

	var acquirer media.Acquirer = media.NullAcquirer{}
	if !cfg.NoMedia {
		acquirer = media.NewFFmpegAcquirer(cfg)
	}

	ctrl := session.New(session.Options{
		Bus:      channel,
		Acquirer: acquirer,
		NewEngine: func() (peer.Engine, error) {
			return rtc.New(cfg)
		},
		RoomID: roomID,
		UserID: userID,
	})
	if err := ctrl.Start(); err != nil {
		return err
	}

	report, err := ui.RunCall(ctrl)
	ctrl.Disconnect()
	if err != nil {
		return session.NewError("run call view", err)
	}

	fmt.Println()
	ui.RenderCallReport(report)
	return nil
}
