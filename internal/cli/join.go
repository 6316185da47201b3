package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/ui"
)

var joinOpts callOptions

var joinCmd = &cobra.Command{
	Use:     "join <room-code|url>",
	Aliases: []string{"j"},
	Short:   "Join an existing room",
	Long: `Join a room another caller created.

Examples:
  parley join cozy-otter-waffle-comet
  parley join https://call.parley.dev/r/cozy-otter-waffle-comet
  parley join cozy-otter-waffle-comet --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinCall(roomID)
	},
}

func joinCall(roomID string) error {
	cfg, err := joinOpts.loadConfig()
	if err != nil {
		return err
	}
	name, err := joinOpts.userName()
	if err != nil {
		return err
	}

	return runCall(cfg, roomID, name)
}

// parseRoomInput accepts either a bare room code or a browser link and
// returns the room code.
func parseRoomInput(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("room code cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, ".") {
		roomID, err := extractRoomFromURL(input)
		if err != nil {
			return "", err
		}
		ui.PrintSuccessf("Extracted room code: %s", roomID)
		return roomID, nil
	}

	return input, nil
}

func extractRoomFromURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", session.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsed.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not find a room code in %q", raw)
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinOpts.register(joinCmd)
}
