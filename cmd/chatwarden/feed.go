package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chatwarden/internal/config"
	"chatwarden/internal/feed"
	"chatwarden/internal/news"
)

func newFeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Feed source helpers",
	}
	cmd.AddCommand(newFeedProbeCmd())
	return cmd
}

func newFeedProbeCmd() *cobra.Command {
	var (
		topic   string
		limit   int
		timeout time.Duration
		preview bool
	)
	cmd := &cobra.Command{
		Use:   "probe [url]",
		Short: "Fetch a feed URL, or a configured topic, and print its newest items",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (topic == "") == (len(args) == 0) {
				return fmt.Errorf("give exactly one of a url or --topic")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout+5*time.Second)
			defer cancel()

			var (
				items []feed.Item
				err   error
			)
			if topic != "" {
				cfg, perr := config.NewConfigManager(configPath(cmd)).Parse()
				if perr != nil {
					return perr
				}
				f := feed.NewFetcher(cfg.News.Topics, feed.Options{Timeout: timeout, UserAgent: cfg.News.UserAgent})
				if !f.Topics().Has(topic) {
					return fmt.Errorf("topic %q is not configured", topic)
				}
				items, err = f.Fetch(ctx, topic)
			} else {
				items, err = feed.NewFetcher(nil, feed.Options{Timeout: timeout}).FetchURL(ctx, args[0])
			}
			if err != nil {
				return err
			}
			printItems(cmd, items, limit, preview)
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Configured topic key to fetch instead of a url.")
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Number of items to print.")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Per-source fetch timeout.")
	cmd.Flags().BoolVar(&preview, "preview", false, "Print each item as it would be posted.")
	return cmd
}

func printItems(cmd *cobra.Command, items []feed.Item, limit int, preview bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d items\n", len(items))
	for i, it := range items {
		if limit > 0 && i == limit {
			break
		}
		if preview {
			fmt.Fprintf(out, "\n----- %s\n%s\n", it.ID, news.Format(it, news.DefaultCaptionLimit))
			continue
		}
		published := "-"
		if !it.Published.IsZero() {
			published = it.Published.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "\n%d. %s\n   id:        %s\n   published: %s\n   link:      %s\n   image:     %s\n   tags:      %v\n",
			i+1, it.Title, it.ID, published, it.Link, it.ImageURL, it.Hashtags())
	}
}
