// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package segment

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime implements container.Runtime without a real container engine.
type fakeRuntime struct {
	imageErr error
	startErr error
	started  []string
	stopped  []string
}

func (f *fakeRuntime) Name() string { return "fake" }

func (f *fakeRuntime) Available() bool { return true }

func (f *fakeRuntime) ImageExists(image string) error { return f.imageErr }

func (f *fakeRuntime) Start(image string, hostPort, containerPort int) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, image)
	return "cid-1", nil
}

func (f *fakeRuntime) Stop(id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}

// healthzPort starts a local health endpoint and returns its port, so the
// server manager's readiness poll has something to hit.
func healthzPort(t *testing.T, status int) int {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(status)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestServerStartWaitsForHealth(t *testing.T) {
	rt := &fakeRuntime{}
	srv, err := NewServer(rt, healthzPort(t, http.StatusOK))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, srv.Start(ctx))
	assert.Equal(t, []string{ImageSegmenter}, rt.started)

	require.NoError(t, srv.Stop())
	assert.Equal(t, []string{"cid-1"}, rt.stopped)
}

func TestServerStartStopsContainerWhenNeverReady(t *testing.T) {
	rt := &fakeRuntime{}
	srv, err := NewServer(rt, healthzPort(t, http.StatusServiceUnavailable))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()

	err = srv.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not become ready")
	// The half-started container must not be leaked.
	assert.Equal(t, []string{"cid-1"}, rt.stopped)
}

func TestNewServerRequiresImage(t *testing.T) {
	rt := &fakeRuntime{imageErr: assert.AnError}
	_, err := NewServer(rt, 9900)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}

func TestServerStopWithoutStartIsNoop(t *testing.T) {
	rt := &fakeRuntime{}
	srv, err := NewServer(rt, 9900)
	require.NoError(t, err)
	require.NoError(t, srv.Stop())
	assert.Empty(t, rt.stopped)
}
