// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sfatew/Meme-Generator/internal/container"
	"github.com/sfatew/Meme-Generator/internal/feed"
	"github.com/sfatew/Meme-Generator/internal/handoff"
	"github.com/sfatew/Meme-Generator/internal/logging"
	"github.com/sfatew/Meme-Generator/internal/metastore"
	"github.com/sfatew/Meme-Generator/internal/pipeline"
	"github.com/sfatew/Meme-Generator/internal/segment"
	"github.com/sfatew/Meme-Generator/internal/triage"
	"github.com/sfatew/Meme-Generator/pkg/types"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultDelay     = 1 * time.Second
	defaultUserAgent = "memesort/0.1"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, segment, and interactively sort a range of memes",
	Long: `Run drives a full sorting session. A background producer downloads memes
by identifier and segments them into character crops while the operator
sorts crops one at a time in the foreground. Decisions commit immediately;
quitting mid-range and re-running the same range continues where the last
session stopped.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("start", 0, "first meme identifier")
	runCmd.Flags().Int("count", 10, "number of consecutive identifiers to process")
	runCmd.Flags().Duration("delay", 0, "pause between identifiers (default 1s)")
	runCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")
	runCmd.Flags().String("base-url", "", "meme site base URL (default from config)")
	runCmd.Flags().String("download-dir", "meme_downloads", "cache directory for source images")
	runCmd.Flags().String("output-dir", "sorted_characters", "base directory for sorted crops and the index")
	runCmd.Flags().StringSlice("categories", nil, "named categories (default Bo,Gau)")
	runCmd.Flags().Int("buffer-size", handoff.DefaultCapacity, "producer hand-off buffer capacity")
	runCmd.Flags().String("segment-endpoint", "", "segmentation service base URL (default from config)")
	runCmd.Flags().String("segment-api-key", "", "segmentation service API key (default from .secrets/)")
	runCmd.Flags().Float64("min-score", segment.DefaultMinScore, "minimum detection confidence")
	runCmd.Flags().Int("padding", segment.DefaultPadding, "crop padding in pixels")
	runCmd.Flags().Bool("start-server", false, "start the segmentation container before the run and stop it after")
	runCmd.Flags().Int("server-port", 9900, "host port for the segmentation container")
	runCmd.Flags().String("log-file", "", "structured log file (disabled when empty)")
	runCmd.Flags().Bool("verbose", false, "log at debug level")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
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
	outputDir, _ := cmd.Flags().GetString("output-dir")
	categories, _ := cmd.Flags().GetStringSlice("categories")
	bufferSize, _ := cmd.Flags().GetInt("buffer-size")
	logFile, _ := cmd.Flags().GetString("log-file")
	verbose, _ := cmd.Flags().GetBool("verbose")

	log, err := logging.New(logFile, verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	set := types.DefaultCategories()
	if len(categories) > 0 {
		set = types.NewCategorySet(categories)
	}

	httpCfg := types.HTTPConfig{Timeout: timeout, UserAgent: defaultUserAgent}
	runCfg := types.RunConfig{StartID: start, Count: count, Delay: delay}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	segCfg, shutdown, err := segmentationConfig(ctx, cmd, httpCfg)
	if err != nil {
		return err
	}
	defer shutdown()

	store, err := metastore.Open(outputDir, set)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}
	if snap.Repaired {
		fmt.Fprintln(os.Stderr, "Repaired drifted counters from stored records.")
	}
	session, err := store.BeginSession(ctx, runCfg)
	if err != nil {
		return err
	}
	log.Infow("session started", "session", session, "start", start, "count", count)

	producerCtx, cancelProducer := context.WithCancel(ctx)
	defer cancelProducer()

	feedClient := feed.NewClient(nil, types.FeedConfig{
		HTTPConfig:  httpCfg,
		BaseURL:     baseURL,
		DownloadDir: downloadDir,
	})
	segClient := segment.NewClient(segCfg, nil)
	buf := handoff.New(bufferSize)
	runner := pipeline.NewRunner(feedClient, segClient, store, buf, log)

	go func() {
		if err := runner.Run(producerCtx, runCfg); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("producer stopped early", "error", err)
		}
	}()

	presenter := newTerminalPresenter(os.Stdout, set, filepath.Join(outputDir, ".preview.png"))
	eng := triage.NewEngine(triage.Config{
		Store:          store,
		Buffer:         buf,
		Set:            set,
		Presenter:      presenter,
		Session:        session,
		Stats:          snap.Stats,
		CancelProducer: cancelProducer,
		Log:            log,
	})

	fmt.Printf("Sorting memes %d..%d. Waiting for the first character...\n", start, start+count-1)
	if err := eng.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if err := commandLoop(ctx, eng, presenter); err != nil {
		return err
	}

	printSummary(os.Stdout, set, eng.Stats())
	return nil
}

// commandLoop reads operator commands until the session ends.
func commandLoop(ctx context.Context, eng *triage.Engine, presenter *terminalPresenter) error {
	scanner := bufio.NewScanner(os.Stdin)
	for eng.State() == triage.StateAwaitingInput {
		fmt.Print("> ")
		if !scanner.Scan() {
			return eng.Stop(ctx)
		}
		input := strings.ToLower(strings.TrimSpace(scanner.Text()))

		var err error
		switch input {
		case "":
			continue
		case "q":
			err = eng.Stop(ctx)
		case "u":
			err = eng.Undo(ctx)
		default:
			cat, ok := presenter.categoryFor(input)
			if !ok {
				fmt.Println(presenter.optionsLine())
				continue
			}
			err = eng.Classify(ctx, cat)
		}

		switch {
		case err == nil:
		case errors.Is(err, triage.ErrNothingToUndo):
			fmt.Println("Nothing to undo.")
		case errors.Is(err, triage.ErrStopped), errors.Is(err, context.Canceled):
			return nil
		default:
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// segmentationConfig resolves the segmentation endpoint, optionally
// starting the local inference container. The returned shutdown func stops
// the container when one was started.
func segmentationConfig(ctx context.Context, cmd *cobra.Command, httpCfg types.HTTPConfig) (types.SegmentationConfig, func(), error) {
	endpoint, _ := cmd.Flags().GetString("segment-endpoint")
	if endpoint == "" {
		endpoint = viper.GetString("segmentation.endpoint")
	}
	apiKey, _ := cmd.Flags().GetString("segment-api-key")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	padding, _ := cmd.Flags().GetInt("padding")
	startServer, _ := cmd.Flags().GetBool("start-server")
	serverPort, _ := cmd.Flags().GetInt("server-port")

	cfg := types.SegmentationConfig{
		HTTPConfig: httpCfg,
		Endpoint:   endpoint,
		APIKey:     secretDefault("segment-api-key", apiKey),
		MinScore:   minScore,
		Padding:    padding,
	}
	noop := func() {}

	if !startServer {
		if cfg.Endpoint == "" {
			return cfg, noop, fmt.Errorf("no segmentation service configured: pass --segment-endpoint or --start-server")
		}
		return cfg, noop, nil
	}

	rt, err := container.DetectRuntime()
	if err != nil {
		return cfg, noop, err
	}
	srv, err := segment.NewServer(rt, serverPort)
	if err != nil {
		return cfg, noop, err
	}

	fmt.Fprintln(os.Stderr, "Starting segmentation server...")
	startCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := srv.Start(startCtx); err != nil {
		return cfg, noop, err
	}

	cfg.Endpoint = srv.Endpoint()
	return cfg, func() {
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: stopping segmentation server: %v\n", err)
		}
	}, nil
}

// printSummary writes the end-of-session totals.
func printSummary(w io.Writer, set types.CategorySet, stats types.SessionStats) {
	fmt.Fprintln(w, "\nSession summary:")
	fmt.Fprintf(w, "  Processed:  %d\n", stats.Processed)
	fmt.Fprintf(w, "  Downloaded: %d\n", stats.Downloaded)
	fmt.Fprintf(w, "  Skipped:    %d\n", stats.Skipped)
	for _, cat := range set.All() {
		fmt.Fprintf(w, "  %-11s %d\n", string(cat)+":", stats.Categories[cat])
	}
}
