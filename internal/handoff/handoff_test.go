// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package handoff

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfatew/Meme-Generator/pkg/types"
)

func subEntry(sourceID, index int) Entry {
	return Entry{Sub: &types.SubItem{SourceID: sourceID, Index: index, Total: index + 1}}
}

func TestPutGetFIFO(t *testing.T) {
	b := New(4)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Put(ctx, subEntry(7, i)))
	}

	for i := 0; i < 4; i++ {
		e, err := b.Get(time.Second)
		require.NoError(t, err)
		require.NotNil(t, e.Sub)
		assert.Equal(t, i, e.Sub.Index, "entries must come out in producer order")
	}
}

func TestPutBlocksWhenFull(t *testing.T) {
	b := New(2)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, subEntry(0, 0)))
	require.NoError(t, b.Put(ctx, subEntry(0, 1)))
	assert.Equal(t, 2, b.Len())

	var completed atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Put(ctx, subEntry(0, 2)); err == nil {
			completed.Store(true)
		}
	}()

	// The third put must still be blocked: capacity is never exceeded.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, completed.Load(), "put beyond capacity must block")
	assert.Equal(t, 2, b.Len())

	// Consuming one entry unblocks the producer.
	_, err := b.Get(time.Second)
	require.NoError(t, err)
	<-done
	assert.True(t, completed.Load())
}

func TestPutCancelledWhileFull(t *testing.T) {
	b := New(1)
	require.NoError(t, b.Put(context.Background(), subEntry(0, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Put(ctx, subEntry(0, 1)) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled put did not return")
	}
}

func TestGetTimeout(t *testing.T) {
	b := New(1)
	start := time.Now()
	_, err := b.Get(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCloseDeliversSentinelAfterQueuedEntries(t *testing.T) {
	b := New(4)
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, subEntry(1, 0)))
	require.NoError(t, b.Put(ctx, Entry{Marker: &ItemMarker{SourceID: 1, Outcome: OutcomeProcessed, SubItems: 1}}))
	b.Close()

	e, err := b.Get(time.Second)
	require.NoError(t, err)
	assert.NotNil(t, e.Sub)

	e, err = b.Get(time.Second)
	require.NoError(t, err)
	require.NotNil(t, e.Marker)
	assert.Equal(t, OutcomeProcessed, e.Marker.Outcome)

	_, err = b.Get(time.Second)
	assert.ErrorIs(t, err, ErrDone)

	// The sentinel is terminal: later gets keep reporting ErrDone.
	_, err = b.Get(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrDone)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(1)
	b.Close()
	assert.NotPanics(t, func() { b.Close() })

	_, err := b.Get(time.Second)
	assert.ErrorIs(t, err, ErrDone)
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, DefaultCapacity, New(-3).Cap())
	assert.Equal(t, 2, New(2).Cap())
}
