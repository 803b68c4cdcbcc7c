// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sfatew/Meme-Generator/internal/caption"
	"github.com/sfatew/Meme-Generator/pkg/types"
)

var captionCmd = &cobra.Command{
	Use:   "caption",
	Short: "Tag sorted character images for training",
	Long: `Caption runs every sorted character image through a tagging inference
service and writes the tags as a comma-separated .txt sidecar next to each
image. Images that already have a sidecar are skipped, so interrupted
batches can simply be re-run.`,
	RunE: runCaption,
}

func init() {
	captionCmd.Flags().String("output-dir", "sorted_characters", "base directory holding the sorted category folders")
	captionCmd.Flags().StringSlice("categories", nil, "named categories (default Bo,Gau)")
	captionCmd.Flags().String("caption-endpoint", "", "tagging service base URL (default from config)")
	captionCmd.Flags().String("caption-api-key", "", "tagging service API key (default from .secrets/)")
	captionCmd.Flags().Int("workers", 2, "concurrent tagging requests")
	captionCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")

	rootCmd.AddCommand(captionCmd)
}

func runCaption(cmd *cobra.Command, args []string) error {
	outputDir, _ := cmd.Flags().GetString("output-dir")
	categories, _ := cmd.Flags().GetStringSlice("categories")
	endpoint, _ := cmd.Flags().GetString("caption-endpoint")
	if endpoint == "" {
		endpoint = viper.GetString("caption.endpoint")
	}
	if endpoint == "" {
		return fmt.Errorf("no tagging service configured: pass --caption-endpoint or set caption.endpoint")
	}
	apiKey, _ := cmd.Flags().GetString("caption-api-key")
	workers, _ := cmd.Flags().GetInt("workers")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}

	set := types.DefaultCategories()
	if len(categories) > 0 {
		set = types.NewCategorySet(categories)
	}

	cfg := types.CaptionConfig{
		HTTPConfig: types.HTTPConfig{Timeout: timeout, UserAgent: defaultUserAgent},
		Endpoint:   endpoint,
		APIKey:     secretDefault("caption-api-key", apiKey),
		Workers:    workers,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	backend := caption.NewHTTPBackend(cfg, nil)
	sum, err := caption.CaptionBatch(ctx, backend, outputDir, set, cfg.Workers, os.Stdout)
	if err != nil {
		return err
	}
	if sum.HasFailures() {
		return fmt.Errorf("%d image(s) failed captioning", sum.Failed)
	}
	return nil
}
