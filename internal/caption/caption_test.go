// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package caption

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfatew/Meme-Generator/pkg/types"
)

// fakeBackend tags images by payload content and records call counts.
type fakeBackend struct {
	tags map[string][]string // image content -> tags
	errs map[string]error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Caption(_ context.Context, data []byte) ([]string, error) {
	if err, ok := f.errs[string(data)]; ok {
		return nil, err
	}
	return f.tags[string(data)], nil
}

// newOutputDir creates category directories with the given images, mapping
// relative path -> file content.
func newOutputDir(t *testing.T, images map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range images {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestCaptionBatchWritesSidecars(t *testing.T) {
	dir := newOutputDir(t, map[string]string{
		filepath.Join("Bo", "meme_0_char_00.png"):  "img-a",
		filepath.Join("Gau", "meme_1_char_00.png"): "img-b",
	})
	backend := &fakeBackend{tags: map[string][]string{
		"img-a": {"1girl", "smile"},
		"img-b": {"1boy"},
	}}

	var out bytes.Buffer
	sum, err := CaptionBatch(context.Background(), backend, dir, types.DefaultCategories(), 2, &out)
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Captioned: 2}, sum)
	assert.False(t, sum.HasFailures())

	data, err := os.ReadFile(filepath.Join(dir, "Bo", "meme_0_char_00.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1girl, smile", string(data))

	tags, err := ReadSidecar(filepath.Join(dir, "Gau", "meme_1_char_00.png"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1boy"}, tags)
}

func TestCaptionBatchSkipsExistingSidecars(t *testing.T) {
	dir := newOutputDir(t, map[string]string{
		filepath.Join("Bo", "a.png"): "img-a",
		filepath.Join("Bo", "a.txt"): "old, tags",
		filepath.Join("Bo", "b.png"): "img-b",
	})
	backend := &fakeBackend{tags: map[string][]string{"img-b": {"fresh"}}}

	var out bytes.Buffer
	sum, err := CaptionBatch(context.Background(), backend, dir, types.DefaultCategories(), 1, &out)
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Captioned: 1, Skipped: 1}, sum)

	// The existing sidecar is left untouched.
	data, err := os.ReadFile(filepath.Join(dir, "Bo", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old, tags", string(data))
}

func TestCaptionBatchCountsFailures(t *testing.T) {
	dir := newOutputDir(t, map[string]string{
		filepath.Join("Bo", "a.png"):     "img-a",
		filepath.Join("Others", "c.png"): "img-c",
	})
	backend := &fakeBackend{
		tags: map[string][]string{"img-a": {"ok"}},
		errs: map[string]error{"img-c": errors.New("model exploded")},
	}

	var out bytes.Buffer
	sum, err := CaptionBatch(context.Background(), backend, dir, types.DefaultCategories(), 2, &out)
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Captioned: 1, Failed: 1}, sum)
	assert.True(t, sum.HasFailures())
	assert.Contains(t, out.String(), "warning: c.png")
}

func TestCaptionBatchEmptyDirectories(t *testing.T) {
	dir := newOutputDir(t, nil)

	var out bytes.Buffer
	sum, err := CaptionBatch(context.Background(), &fakeBackend{}, dir, types.DefaultCategories(), 2, &out)
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{}, sum)
	assert.Contains(t, out.String(), "No images to caption")
}

func TestReadSidecarMissingIsNil(t *testing.T) {
	dir := t.TempDir()
	tags, err := ReadSidecar(filepath.Join(dir, "nope.png"))
	require.NoError(t, err)
	assert.Nil(t, tags)
}

// newTagServer serves a fixed JSON body on POST /caption and returns its URL.
func newTagServer(t *testing.T, body string) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/caption" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func newStatusServer(t *testing.T, status int) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestHTTPBackendOrdersTagsByScore(t *testing.T) {
	srv := newTagServer(t, `{"tags":[{"name":"low","score":0.4},{"name":"high","score":0.97},{"name":"mid","score":0.6}]}`)
	b := NewHTTPBackend(types.CaptionConfig{Endpoint: srv}, nil)

	tags, err := b.Caption(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, tags)
}

func TestHTTPBackendServiceError(t *testing.T) {
	srv := newStatusServer(t, 500)
	b := NewHTTPBackend(types.CaptionConfig{Endpoint: srv}, nil)

	_, err := b.Caption(context.Background(), []byte("png-bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}
