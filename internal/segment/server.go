// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package segment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sfatew/Meme-Generator/internal/container"
)

const (
	// ImageSegmenter is the container image that serves the detection
	// model over HTTP.
	ImageSegmenter = "meme-segmenter:latest"

	serverPort = 8080
)

// Server manages a locally hosted segmentation service container. It
// depends on a container.Runtime (docker or podman) injected at
// construction time.
type Server struct {
	runtime  container.Runtime
	hostPort int
	id       string
}

// NewServer creates a server manager for the segmentation image, verifying
// that the image exists locally before returning.
func NewServer(rt container.Runtime, hostPort int) (*Server, error) {
	if err := rt.ImageExists(ImageSegmenter); err != nil {
		return nil, fmt.Errorf("segmenter image not available in %s: %w", rt.Name(), err)
	}
	return &Server{runtime: rt, hostPort: hostPort}, nil
}

// Endpoint returns the base URL clients should use once the server is up.
func (s *Server) Endpoint() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.hostPort)
}

// Start launches the detached container and waits for it to answer health
// checks. Model loading can take a while, so readiness is polled until the
// context expires.
func (s *Server) Start(ctx context.Context) error {
	id, err := s.runtime.Start(ImageSegmenter, s.hostPort, serverPort)
	if err != nil {
		return err
	}
	s.id = id

	if err := s.waitReady(ctx); err != nil {
		_ = s.runtime.Stop(id)
		s.id = ""
		return fmt.Errorf("segmentation server did not become ready: %w", err)
	}
	return nil
}

// Stop stops the running container. It is a no-op if Start never succeeded.
func (s *Server) Stop() error {
	if s.id == "" {
		return nil
	}
	err := s.runtime.Stop(s.id)
	s.id = ""
	return err
}

func (s *Server) waitReady(ctx context.Context) error {
	client := &http.Client{Timeout: 2 * time.Second}
	url := s.Endpoint() + "/healthz"

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
