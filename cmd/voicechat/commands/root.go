package commands

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "voicechat",
	Short:         "Voice conversation client",
	Long:          "Talk to the conversation backend from the terminal: capture the microphone, stream or post the audio, and play the agent's replies.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
