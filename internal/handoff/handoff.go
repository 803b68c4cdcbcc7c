// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package handoff implements the bounded FIFO buffer between the producer
// pipeline and the triage loop. Puts block while the buffer is full, so a
// fast producer is paced by the operator; gets use a bounded wait so the
// consumer can periodically check for termination. Closing the buffer is
// the end-of-stream sentinel and happens exactly once.
package handoff

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sfatew/Meme-Generator/pkg/types"
)

// DefaultCapacity is used when the configured buffer size is not positive.
const DefaultCapacity = 8

var (
	// ErrTimeout reports that no entry arrived within the wait bound.
	ErrTimeout = errors.New("handoff: get timed out")

	// ErrDone reports that the end-of-stream sentinel was consumed.
	ErrDone = errors.New("handoff: stream ended")
)

// ItemOutcome describes how the producer finished one source item.
type ItemOutcome string

const (
	// OutcomeProcessed means the item was fetched and segmented; its
	// sub-items, if any, precede the marker in the stream.
	OutcomeProcessed ItemOutcome = "processed"

	// OutcomeResumed means the item was already complete in the store.
	OutcomeResumed ItemOutcome = "resumed"

	// OutcomeFailed means fetching or segmenting the item failed.
	OutcomeFailed ItemOutcome = "failed"
)

// ItemMarker is a producer bookkeeping event for one source item. Markers
// travel in-band so the consumer, the store's only writer, commits them in
// stream order: an item's marker is consumed only after every one of its
// sub-items has been decided.
type ItemMarker struct {
	SourceID int
	Outcome  ItemOutcome

	// SubItems is the number of crops the item yielded (OutcomeProcessed only).
	SubItems int
}

// Entry is one element of the stream: exactly one of Sub or Marker is set.
type Entry struct {
	Sub    *types.SubItem
	Marker *ItemMarker
}

// Buffer is the bounded hand-off channel. Safe for one producer and one
// consumer; no external locking is required.
type Buffer struct {
	ch        chan Entry
	capacity  int
	closeOnce sync.Once
}

// New creates a buffer with the given capacity. Non-positive capacities
// fall back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{ch: make(chan Entry, capacity), capacity: capacity}
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Len returns the number of queued entries.
func (b *Buffer) Len() int { return len(b.ch) }

// Put appends an entry, blocking while the buffer is full. It returns
// ctx.Err() if the context is cancelled before space frees up. Put must
// not be called after Close.
func (b *Buffer) Put(ctx context.Context, e Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case b.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes the oldest entry, waiting up to timeout for one to arrive.
// It returns ErrTimeout when the wait bound expires and ErrDone once the
// stream sentinel has been consumed.
func (b *Buffer) Get(timeout time.Duration) (Entry, error) {
	// Drain queued entries before honoring the sentinel: a closed channel
	// still yields buffered values first, which preserves FIFO delivery
	// of everything produced before Close.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e, ok := <-b.ch:
		if !ok {
			return Entry{}, ErrDone
		}
		return e, nil
	case <-timer.C:
		return Entry{}, ErrTimeout
	}
}

// Close marks the end of the stream. Safe to call more than once; only the
// first call has effect, so the sentinel is delivered exactly once.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() { close(b.ch) })
}
