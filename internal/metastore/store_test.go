// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metastore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/sfatew/Meme-Generator/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), types.DefaultCategories())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(path string, sourceID, index int, cat types.Category) types.MetadataRecord {
	return types.MetadataRecord{
		Path:     path,
		SourceID: sourceID,
		Index:    index,
		Category: cat,
		Score:    0.9,
		SortedAt: time.Now(),
	}
}

func TestOpenCreatesCategoryDirectories(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, types.DefaultCategories())
	require.NoError(t, err)
	defer s.Close()

	for _, c := range []string{"Bo", "Gau", "Others"} {
		info, err := os.Stat(filepath.Join(dir, c))
		require.NoError(t, err, "category directory %s", c)
		assert.True(t, info.IsDir())
	}
	// Discards are never saved, so no directory exists for them.
	_, err = os.Stat(filepath.Join(dir, "Discarded"))
	assert.True(t, os.IsNotExist(err))
}

func TestRecordSortAndLoadAll(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSort(ctx, record("Bo/meme_0_char_00.png", 0, 0, "Bo")))
	require.NoError(t, s.RecordSort(ctx, record("Gau/meme_2_char_00.png", 2, 0, "Gau")))
	require.NoError(t, s.RecordDiscard(ctx))

	snap, err := s.LoadAll(ctx)
	require.NoError(t, err)

	assert.Len(t, snap.Records, 2)
	assert.Equal(t, 1, snap.Stats.Categories["Bo"])
	assert.Equal(t, 1, snap.Stats.Categories["Gau"])
	assert.Equal(t, 0, snap.Stats.Categories[types.CategoryOthers])
	assert.Equal(t, 1, snap.Stats.Categories[types.CategoryDiscarded])
	assert.False(t, snap.Repaired)

	// Counter equals record count for every saveable category.
	perCategory := map[types.Category]int{}
	for _, r := range snap.Records {
		perCategory[r.Category]++
	}
	for _, c := range types.DefaultCategories().Saveable() {
		assert.Equal(t, perCategory[c], snap.Stats.Categories[c], "category %s", c)
	}
}

func TestRecordSortDuplicatePathRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSort(ctx, record("Bo/a.png", 0, 0, "Bo")))
	err := s.RecordSort(ctx, record("Bo/a.png", 0, 1, "Bo"))
	require.Error(t, err)

	// The failed insert must not move the counter.
	snap, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stats.Categories["Bo"])
}

func TestRemoveRecordReversesSort(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := record("Others/meme_5_char_01.png", 5, 1, types.CategoryOthers)
	require.NoError(t, s.RecordSort(ctx, rec))
	require.NoError(t, s.RemoveRecord(ctx, rec.Path))

	snap, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.Equal(t, 0, snap.Stats.Categories[types.CategoryOthers])
}

func TestRemoveRecordMissingPath(t *testing.T) {
	s := testStore(t)
	err := s.RemoveRecord(context.Background(), "Bo/never-saved.png")
	require.Error(t, err)
}

func TestDriftRepairRecordsWin(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSort(ctx, record("Bo/a.png", 0, 0, "Bo")))
	require.NoError(t, s.RecordSort(ctx, record("Bo/b.png", 0, 1, "Bo")))

	// Simulate a drifted snapshot, as after an ill-timed crash.
	require.NoError(t, s.writeCounter(ctx, "Bo", 7))

	snap, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Repaired)
	assert.Equal(t, 2, snap.Stats.Categories["Bo"])

	// The repair is durable: a second load sees no drift.
	snap, err = s.LoadAll(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Repaired)
	assert.Equal(t, 2, snap.Stats.Categories["Bo"])
}

func TestMarkSourceDoneAndResumeSet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	session, err := s.BeginSession(ctx, types.RunConfig{StartID: 0, Count: 3})
	require.NoError(t, err)

	require.NoError(t, s.MarkSourceDone(ctx, 0, 2, session))
	require.NoError(t, s.MarkSourceDone(ctx, 1, 0, session))

	done, err := s.IsSourceDone(ctx, 0)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.IsSourceDone(ctx, 2)
	require.NoError(t, err)
	assert.False(t, done)

	snap, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 2, 1: 0}, snap.DoneSources)
	assert.Equal(t, 2, snap.Stats.Processed)
	assert.Equal(t, 2, snap.Stats.Downloaded)
}

func TestBumpSkipped(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.BumpSkipped(ctx))
	require.NoError(t, s.BumpSkipped(ctx))

	snap, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Stats.Skipped)
}

func TestStatsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	set := types.DefaultCategories()
	ctx := context.Background()

	s, err := Open(dir, set)
	require.NoError(t, err)
	require.NoError(t, s.RecordSort(ctx, record("Gau/a.png", 3, 0, "Gau")))
	require.NoError(t, s.RecordDiscard(ctx))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	s, err = Open(dir, set)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stats.Categories["Gau"])
	assert.Equal(t, 1, snap.Stats.Categories[types.CategoryDiscarded])
	assert.Len(t, snap.Records, 1)
}

func TestExportYAML(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSort(ctx, record("Bo/meme_1_char_00.png", 1, 0, "Bo")))

	path, err := s.ExportYAML(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc Export
	require.NoError(t, yaml.Unmarshal(data, &doc))
	require.Len(t, doc.Records, 1)
	assert.Equal(t, "Bo/meme_1_char_00.png", doc.Records[0].Path)
	assert.Equal(t, 1, doc.Stats.Categories["Bo"])
}
