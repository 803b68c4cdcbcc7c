// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package caption tags sorted character images for dataset training. Tags
// come from an inference service and are written as comma-separated text
// sidecars next to each image, so downstream training tools can pick them
// up without a database. Images that already have a sidecar are skipped,
// which makes batch runs resumable.
package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sfatew/Meme-Generator/internal/httputil"
	"github.com/sfatew/Meme-Generator/pkg/types"
)

const defaultWorkers = 2

// Backend generates tags for a single encoded image.
type Backend interface {
	Name() string
	Caption(ctx context.Context, imageData []byte) ([]string, error)
}

// HTTPBackend is a Backend talking to a tagging inference service.
type HTTPBackend struct {
	http *http.Client
	cfg  types.CaptionConfig
}

// NewHTTPBackend creates a backend. If httpClient is nil a default client
// with the configured timeout is used.
func NewHTTPBackend(cfg types.CaptionConfig, httpClient *http.Client) *HTTPBackend {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPBackend{http: httpClient, cfg: cfg}
}

// Name returns the backend identifier.
func (b *HTTPBackend) Name() string { return "http" }

// Caption posts the image and returns tag names ordered by descending
// confidence.
func (b *HTTPBackend) Caption(ctx context.Context, imageData []byte) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint+"/caption", bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if b.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", b.cfg.UserAgent)
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, b.http, req, b.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("caption service: unexpected status %s", resp.Status)
	}

	var payload struct {
		Tags []struct {
			Name  string  `json:"name"`
			Score float64 `json:"score"`
		} `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	sort.SliceStable(payload.Tags, func(i, j int) bool {
		return payload.Tags[i].Score > payload.Tags[j].Score
	})
	tags := make([]string, 0, len(payload.Tags))
	for _, tg := range payload.Tags {
		tags = append(tags, tg.Name)
	}
	return tags, nil
}

// BatchSummary reports the outcome of a captioning pass.
type BatchSummary struct {
	Captioned int
	Skipped   int
	Failed    int
}

// Total returns the number of images considered.
func (s BatchSummary) Total() int { return s.Captioned + s.Skipped + s.Failed }

// HasFailures reports whether any image failed.
func (s BatchSummary) HasFailures() bool { return s.Failed > 0 }

// CaptionBatch tags every PNG under the saveable category directories of
// outputDir, fanning requests out to workers concurrent goroutines.
// Progress goes to w. Per-image failures are reported and counted without
// stopping the batch.
func CaptionBatch(ctx context.Context, backend Backend, outputDir string, set types.CategorySet, workers int, w io.Writer) (BatchSummary, error) {
	if workers <= 0 {
		workers = defaultWorkers
	}

	paths, err := listImages(outputDir, set)
	if err != nil {
		return BatchSummary{}, err
	}
	if len(paths) == 0 {
		fmt.Fprintln(w, "No images to caption.")
		return BatchSummary{}, nil
	}
	fmt.Fprintf(w, "Captioning %d images with %d workers...\n", len(paths), workers)

	type result struct {
		path string
		tags int
		skip bool
		err  error
	}

	jobs := make(chan string)
	results := make(chan result, len(paths))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				skip, tags, err := captionOne(ctx, backend, path)
				results <- result{path: path, tags: tags, skip: skip, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range paths {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var sum BatchSummary
	for r := range results {
		switch {
		case r.err != nil:
			sum.Failed++
			fmt.Fprintf(w, "warning: %s: %v\n", filepath.Base(r.path), r.err)
		case r.skip:
			sum.Skipped++
		default:
			sum.Captioned++
			fmt.Fprintf(w, "%s: %d tags\n", filepath.Base(r.path), r.tags)
		}
	}

	fmt.Fprintf(w, "Captioned %d, skipped %d, failed %d.\n", sum.Captioned, sum.Skipped, sum.Failed)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

// captionOne tags a single image unless its sidecar already exists.
func captionOne(ctx context.Context, backend Backend, path string) (skipped bool, tagCount int, err error) {
	sidecar := sidecarPath(path)
	if _, statErr := os.Stat(sidecar); statErr == nil {
		return true, 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, 0, fmt.Errorf("reading image: %w", err)
	}

	tags, err := backend.Caption(ctx, data)
	if err != nil {
		return false, 0, err
	}

	if err := writeSidecar(sidecar, tags); err != nil {
		return false, 0, err
	}
	return false, len(tags), nil
}

// ReadSidecar returns the tags stored next to an image, or nil when no
// sidecar exists.
func ReadSidecar(imagePath string) ([]string, error) {
	data, err := os.ReadFile(sidecarPath(imagePath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tags []string
	for _, t := range strings.Split(string(data), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}

func sidecarPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".txt"
}

func writeSidecar(path string, tags []string) error {
	if err := os.WriteFile(path, []byte(strings.Join(tags, ", ")), 0o644); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}
	return nil
}

// listImages collects PNGs from each saveable category directory in a
// stable order.
func listImages(outputDir string, set types.CategorySet) ([]string, error) {
	var paths []string
	for _, cat := range set.Saveable() {
		matches, err := filepath.Glob(filepath.Join(outputDir, string(cat), "*.png"))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", cat, err)
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	return paths, nil
}
