package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sauhard74/voice-interaction-plat/internal/session"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Streaming voice conversation",
	Long: `Start a streaming conversation: microphone chunks are shipped over a
persistent socket as you speak, and transcript and audio events arrive as
the backend produces them. Replies can land while you are still talking;
the newest reply always wins the speaker.

Keys are the same as for 'call'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(session.ModeStreaming)
	},
}

func init() {
	rootCmd.AddCommand(liveCmd)
}
