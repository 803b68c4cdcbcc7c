// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package feed fetches source memes from the meme site. For each
// identifier it scrapes the meme page, locates the full-size image, and
// downloads it into the local cache with a temp-file-then-rename so a
// partial download never looks complete.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sfatew/Meme-Generator/internal/httputil"
	"github.com/sfatew/Meme-Generator/pkg/types"
)

var (
	// ErrNotFound reports that the site has no page for the identifier.
	ErrNotFound = errors.New("meme not found")

	// ErrNoImage reports that the page exists but offers no downloadable
	// image. The pipeline treats this as a skip, not a failure.
	ErrNoImage = errors.New("page has no downloadable image")
)

// imageExtensions are the cache file suffixes recognized on disk.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Client fetches meme images. A fetched image is cached under
// DownloadDir/meme_{id}{ext}; later fetches of the same identifier are
// served from the cache without touching the network.
type Client struct {
	http *http.Client
	cfg  types.FeedConfig
}

// NewClient builds a feed client. A nil http.Client gets a default with
// the configured timeout.
func NewClient(client *http.Client, cfg types.FeedConfig) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{http: client, cfg: cfg}
}

// Fetch returns the image bytes for one meme identifier, downloading and
// caching them if needed. The returned path is the cache location.
func (c *Client) Fetch(ctx context.Context, id int) (string, []byte, error) {
	if p, ok := c.cachedPath(id); ok {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", nil, fmt.Errorf("reading cached image %s: %w", p, err)
		}
		return p, data, nil
	}

	imageURL, err := c.resolveImageURL(ctx, id)
	if err != nil {
		return "", nil, err
	}

	destPath := filepath.Join(c.cfg.DownloadDir, fmt.Sprintf("meme_%d%s", id, extensionOf(imageURL)))
	if err := c.download(ctx, imageURL, destPath); err != nil {
		return "", nil, fmt.Errorf("downloading meme %d: %w", id, err)
	}

	data, err := os.ReadFile(destPath)
	if err != nil {
		return "", nil, fmt.Errorf("reading downloaded image %s: %w", destPath, err)
	}
	return destPath, data, nil
}

// cachedPath looks for an already-downloaded image for id.
func (c *Client) cachedPath(id int) (string, bool) {
	for _, ext := range imageExtensions {
		p := filepath.Join(c.cfg.DownloadDir, fmt.Sprintf("meme_%d%s", id, ext))
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// resolveImageURL scrapes the meme page and returns the absolute URL of
// its full-size image.
func (c *Client) resolveImageURL(ctx context.Context, id int) (string, error) {
	pageURL := fmt.Sprintf("%s/meme/%d", strings.TrimRight(c.cfg.BaseURL, "/"), id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, c.http, req, 0)
	if err != nil {
		return "", fmt.Errorf("fetching page for meme %d: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("meme %d: %w", id, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("meme %d: HTTP %d from %s", id, resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parsing page for meme %d: %w", id, err)
	}

	ref := findImageRef(doc)
	if ref == "" {
		return "", fmt.Errorf("meme %d: %w", id, ErrNoImage)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parsing page URL: %w", err)
	}
	abs, err := base.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("resolving image URL %q: %w", ref, err)
	}
	return abs.String(), nil
}

// findImageRef locates the image reference on a meme page: the download
// anchor the site renders for saved memes, falling back to the og:image
// meta tag.
func findImageRef(doc *goquery.Document) string {
	if href, ok := doc.Find("a.download-meme").First().Attr("href"); ok && href != "" {
		return href
	}
	if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && content != "" {
		return content
	}
	return ""
}

// download fetches url into destPath through a temp file in the same
// directory, renaming only on success.
func (c *Client) download(ctx context.Context, imageURL, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, c.http, req, 0)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, imageURL)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".feed-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// extensionOf picks a cache file extension from the image URL, defaulting
// to .jpg when the URL has none.
func extensionOf(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, known := range imageExtensions {
		if ext == known {
			return ext
		}
	}
	return ".jpg"
}

// BatchResult holds the outcome of a fetch-only batch run.
type BatchResult struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// Total returns the number of identifiers processed.
func (r BatchResult) Total() int {
	return r.Downloaded + r.Skipped + r.Failed
}

// HasFailures reports whether any identifier failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// FetchBatch downloads the identifier range [startID, startID+count)
// without sorting, printing per-item status and returning a summary. It
// continues after individual failures and applies delay between
// consecutive identifiers. Pages without an image count as skipped.
func (c *Client) FetchBatch(ctx context.Context, startID, count int, delay time.Duration, w io.Writer) BatchResult {
	var result BatchResult
	for i := 0; i < count; i++ {
		id := startID + i
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return result
			case <-time.After(delay):
			}
		}

		p, _, err := c.Fetch(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoImage):
			fmt.Fprintf(w, "skipped: meme %d (%v)\n", id, err)
			result.Skipped++
		case err != nil:
			fmt.Fprintf(w, "failed:  meme %d (%v)\n", id, err)
			result.Failed++
		default:
			fmt.Fprintf(w, "fetched: meme %d -> %s\n", id, p)
			result.Downloaded++
		}
	}
	fmt.Fprintf(w, "\nBatch summary: %d fetched, %d skipped, %d failed (total: %d)\n",
		result.Downloaded, result.Skipped, result.Failed, result.Total())
	return result
}
