package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/roomcode"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/ui"
)

var hostOpts callOptions

var hostCmd = &cobra.Command{
	Use:     "host",
	Aliases: []string{"h"},
	Short:   "Create a room and wait for the other caller",
	Long: `Create a room on the relay and join it as the first caller.

Examples:
  parley host
  parley host --name ada
  parley host --no-media
  parley host --server ws://localhost:8080/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostCall()
	},
}

func hostCall() error {
	cfg, err := hostOpts.loadConfig()
	if err != nil {
		return err
	}
	name, err := hostOpts.userName()
	if err != nil {
		return err
	}

	roomID, err := roomcode.Generate()
	if err != nil {
		return session.NewError("create room", err)
	}

	fmt.Println()
	ui.RenderRoomInfo(roomID, cfg.GetRoomLink(roomID))
	fmt.Println()

	return runCall(cfg, roomID, name)
}

func init() {
	rootCmd.AddCommand(hostCmd)
	hostOpts.register(hostCmd)
}
