// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sfatew/Meme-Generator/internal/feed"
	"github.com/sfatew/Meme-Generator/pkg/types"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download source memes without sorting them",
	Long: `Fetch downloads a range of meme images into the local cache and exits.
Already cached identifiers are served from disk on later runs, so a fetch
pass ahead of a sorting session makes the interactive part faster.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().Int("start", 0, "first meme identifier")
	fetchCmd.Flags().Int("count", 10, "number of consecutive identifiers to fetch")
	fetchCmd.Flags().Duration("delay", 0, "pause between downloads (default 1s)")
	fetchCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")
	fetchCmd.Flags().String("base-url", "", "meme site base URL (default from config)")
	fetchCmd.Flags().String("download-dir", "meme_downloads", "cache directory for source images")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	start, _ := cmd.Flags().GetInt("start")
	count, _ := cmd.Flags().GetInt("count")
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	delay, _ := cmd.Flags().GetDuration("delay")
	if delay == 0 {
		delay = defaultDelay
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}
	baseURL, _ := cmd.Flags().GetString("base-url")
	if baseURL == "" {
		baseURL = viper.GetString("feed.base_url")
	}
	if baseURL == "" {
		return fmt.Errorf("no meme site configured: pass --base-url or set feed.base_url")
	}
	downloadDir, _ := cmd.Flags().GetString("download-dir")

	cfg := types.FeedConfig{
		HTTPConfig:  types.HTTPConfig{Timeout: timeout, UserAgent: defaultUserAgent},
		BaseURL:     baseURL,
		DownloadDir: downloadDir,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result := feed.NewClient(nil, cfg).FetchBatch(ctx, start, count, delay, os.Stdout)
	if result.HasFailures() {
		return fmt.Errorf("%d meme(s) failed to download", result.Failed)
	}
	return nil
}
