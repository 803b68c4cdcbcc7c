// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline drives the producer side of a sorting session: it walks
// a range of meme identifiers, fetches and segments each one, and feeds the
// resulting sub-items into the hand-off buffer. Bookkeeping for each item
// travels in-band as a marker behind the item's sub-items, so the consumer
// commits an item's completion only after deciding all of its crops.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sfatew/Meme-Generator/internal/feed"
	"github.com/sfatew/Meme-Generator/internal/handoff"
	"github.com/sfatew/Meme-Generator/internal/segment"
	"github.com/sfatew/Meme-Generator/pkg/types"
)

// Feed fetches source images by identifier.
type Feed interface {
	Fetch(ctx context.Context, id int) (string, []byte, error)
}

// Segmenter extracts character crops from an encoded image.
type Segmenter interface {
	Segment(ctx context.Context, data []byte) ([]segment.Crop, error)
}

// SourceIndex answers resume queries against the metadata store. The
// producer only ever reads; all writes happen on the consumer side.
type SourceIndex interface {
	IsSourceDone(ctx context.Context, sourceID int) (bool, error)
}

// Runner executes one producer pass over a contiguous identifier range.
type Runner struct {
	feed  Feed
	seg   Segmenter
	index SourceIndex
	buf   *handoff.Buffer
	log   *zap.SugaredLogger
}

// NewRunner wires a producer. A nil logger disables logging.
func NewRunner(f Feed, s Segmenter, idx SourceIndex, buf *handoff.Buffer, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{feed: f, seg: s, index: idx, buf: buf, log: log}
}

// Run processes identifiers [run.StartID, run.StartID+run.Count) in order,
// pausing run.Delay between consecutive identifiers. The hand-off buffer is
// closed on every exit path, so the consumer always sees the end-of-stream
// sentinel exactly once. Run returns early only when the context is
// cancelled; per-item failures are reported in-band and do not stop the
// pass.
func (r *Runner) Run(ctx context.Context, run types.RunConfig) error {
	defer r.buf.Close()

	if run.Count <= 0 {
		return fmt.Errorf("non-positive count %d", run.Count)
	}

	for i := 0; i < run.Count; i++ {
		id := run.StartID + i

		if i > 0 && run.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(run.Delay):
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.processOne(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// processOne handles a single identifier. Only context cancellation is
// returned as an error; everything else becomes an in-band marker.
func (r *Runner) processOne(ctx context.Context, id int) error {
	done, err := r.index.IsSourceDone(ctx, id)
	if err != nil {
		return fmt.Errorf("resume check for meme %d: %w", id, err)
	}
	if done {
		r.log.Debugw("already sorted, skipping", "id", id)
		return r.putMarker(ctx, handoff.ItemMarker{SourceID: id, Outcome: handoff.OutcomeResumed})
	}

	path, data, err := r.feed.Fetch(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		switch {
		case errors.Is(err, feed.ErrNotFound), errors.Is(err, feed.ErrNoImage):
			r.log.Infow("nothing to fetch", "id", id, "reason", err)
		default:
			r.log.Warnw("fetch failed", "id", id, "error", err)
		}
		return r.putMarker(ctx, handoff.ItemMarker{SourceID: id, Outcome: handoff.OutcomeFailed})
	}

	crops, err := r.seg.Segment(ctx, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.log.Warnw("segmentation failed", "id", id, "path", path, "error", err)
		return r.putMarker(ctx, handoff.ItemMarker{SourceID: id, Outcome: handoff.OutcomeFailed})
	}

	r.log.Infow("segmented", "id", id, "characters", len(crops))

	for idx, crop := range crops {
		sub := &types.SubItem{
			SourceID: id,
			Index:    idx,
			Total:    len(crops),
			Image:    crop.Image,
			Score:    crop.Score,
			Status:   types.SubItemPending,
		}
		if err := r.buf.Put(ctx, handoff.Entry{Sub: sub}); err != nil {
			return err
		}
	}

	return r.putMarker(ctx, handoff.ItemMarker{
		SourceID: id,
		Outcome:  handoff.OutcomeProcessed,
		SubItems: len(crops),
	})
}

func (r *Runner) putMarker(ctx context.Context, m handoff.ItemMarker) error {
	return r.buf.Put(ctx, handoff.Entry{Marker: &m})
}
