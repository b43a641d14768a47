package main

import (
	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatwarden",
		Short:         "Telegram group moderation, news digests and AI replies",
		SilenceUsage:  true,
		Version:       version,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringP("config", "c", "./config.yaml", "Config file path (.yaml, .yml or .json).")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newFeedCmd())
	return cmd
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}
