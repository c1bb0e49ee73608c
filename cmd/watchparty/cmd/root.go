package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "watchparty",
	Short: "Real-time watch party server",
	Long: `watchparty synchronizes video playback, chat, lobbies and WebRTC
signalling for groups watching together.

Available commands:
  serve      Run the websocket server
  token      Issue a signed identity token for WS_AUTH_MODE=token
  version    Print the version

Use "watchparty [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
