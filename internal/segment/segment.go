// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package segment extracts character crops from meme images. Detection runs
// on an external inference service; cropping happens locally so the service
// only ever sees the image once and returns plain bounding boxes.
package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"net/http"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/sfatew/Meme-Generator/internal/httputil"
	"github.com/sfatew/Meme-Generator/pkg/types"
)

const (
	// DefaultMinScore drops detection boxes below this confidence.
	DefaultMinScore = 0.5

	// DefaultPadding is the pixel margin added around each box before
	// cropping, clamped to the image bounds.
	DefaultPadding = 10
)

// Crop is one character cut out of a source image.
type Crop struct {
	Image image.Image
	Score float64
}

// box is a detection in the inference service's response. Coordinates are
// in source-image pixels.
type box struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	W     int     `json:"w"`
	H     int     `json:"h"`
	Score float64 `json:"score"`
}

// Client calls the segmentation inference service.
type Client struct {
	http *http.Client
	cfg  types.SegmentationConfig
}

// NewClient creates a segmentation client. If httpClient is nil a default
// client with the configured timeout is used.
func NewClient(cfg types.SegmentationConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.Padding == 0 {
		cfg.Padding = DefaultPadding
	}
	return &Client{http: httpClient, cfg: cfg}
}

// Segment detects characters in the encoded image and returns one padded
// crop per accepted detection. An image with no characters yields an empty
// slice and a nil error; only transport, protocol, and decode failures are
// errors.
func (c *Client) Segment(ctx context.Context, data []byte) ([]Crop, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	boxes, err := c.detect(ctx, data)
	if err != nil {
		return nil, err
	}

	crops := make([]Crop, 0, len(boxes))
	for _, b := range boxes {
		if b.Score < c.cfg.MinScore {
			continue
		}
		r := padRect(image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H), c.cfg.Padding, src.Bounds())
		if r.Empty() {
			continue
		}
		crops = append(crops, Crop{Image: cropImage(src, r), Score: b.Score})
	}
	return crops, nil
}

// detect posts the image to the inference service and decodes the returned
// bounding boxes.
func (c *Client) detect(ctx context.Context, data []byte) ([]box, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/segment", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, c.http, req, c.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segmentation service: unexpected status %s", resp.Status)
	}

	var payload struct {
		Boxes []box `json:"boxes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload.Boxes, nil
}

// padRect grows r by pad pixels on every side and clamps it to bounds.
func padRect(r image.Rectangle, pad int, bounds image.Rectangle) image.Rectangle {
	r.Min.X -= pad
	r.Min.Y -= pad
	r.Max.X += pad
	r.Max.Y += pad
	return r.Intersect(bounds)
}

// cropImage copies the region r of src into a fresh RGBA image anchored at
// the origin, so the crop stays valid after src is released.
func cropImage(src image.Image, r image.Rectangle) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}
