// Package cli wires the parley commands.
package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/ui"
	"github.com/parleyhq/parley/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "parley",
	Short:   "Two-party video calls in the terminal, over WebRTC",
	Long:    `Parley hosts and joins two-party video calls without a media server. A small relay passes signaling messages; video, screen shares, and latency probes travel directly between the peers over WebRTC. Chat rides the relay, so it keeps working even while the peers are still connecting.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
