package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"chatwarden/internal/app"
	"chatwarden/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Parse and validate the config file without starting the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(configPath(cmd)).Parse()
			if err != nil {
				return fmt.Errorf("parse %s: %w", configPath(cmd), err)
			}
			if err := app.Validate(cfg); err != nil {
				return fmt.Errorf("invalid %s: %w", configPath(cmd), err)
			}
			printSummary(cmd, cfg)
			return nil
		},
	})
	return cmd
}

func printSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	topics := make([]string, 0, len(cfg.News.Topics))
	for k := range cfg.News.Topics {
		topics = append(topics, k)
	}
	sort.Strings(topics)
	driver := cfg.Storage.Driver
	if driver == "" {
		driver = "memory"
	}
	fmt.Fprintf(out, "config ok: %s\n", configPath(cmd))
	fmt.Fprintf(out, "  owners:     %d\n", len(cfg.Telegram.OwnerUserIDs))
	fmt.Fprintf(out, "  storage:    %s\n", driver)
	fmt.Fprintf(out, "  news:       enabled=%t topics=[%s]\n", cfg.News.Enabled, strings.Join(topics, ", "))
	fmt.Fprintf(out, "  assistant:  enabled=%t model=%q\n", cfg.Assistant.Enabled, cfg.Assistant.Model)
	fmt.Fprintf(out, "  moderation: warn_threshold=%d bad_words=%d\n", cfg.Moderation.WarnThreshold, len(cfg.Moderation.BadWords))
	fmt.Fprintf(out, "  notifier:   enabled=%t\n", cfg.Notifier.Enabled)
	fmt.Fprintf(out, "  http:       enabled=%t addr=%q pprof=%t\n", cfg.HTTP.Enabled, cfg.HTTP.Addr, cfg.HTTP.Pprof)
}
