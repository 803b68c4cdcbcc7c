// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package triage implements the interactive sorting loop. The engine pulls
// cropped characters from the hand-off buffer one at a time, presents each
// to the operator, and commits every decision to the metadata store before
// the next sub-item appears. It is the store's only writer: producer
// bookkeeping arrives in-band as markers and is committed here, in stream
// order, so a source item is never marked complete before all of its crops
// have been decided.
package triage

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sfatew/Meme-Generator/internal/handoff"
	"github.com/sfatew/Meme-Generator/internal/metastore"
	"github.com/sfatew/Meme-Generator/pkg/types"
)

// pollInterval bounds each buffer wait so the loop can notice a stop
// request even while the producer is stalled.
const pollInterval = 100 * time.Millisecond

var (
	// ErrNoSubItem reports a decision with nothing presented.
	ErrNoSubItem = errors.New("triage: no sub-item awaiting a decision")

	// ErrNothingToUndo reports an undo with an empty history.
	ErrNothingToUndo = errors.New("triage: nothing to undo")

	// ErrStopped reports an operation after the session ended.
	ErrStopped = errors.New("triage: session has ended")
)

// State is the engine's lifecycle phase.
type State string

const (
	// StateIdle is before Start.
	StateIdle State = "idle"

	// StateAwaitingInput means a sub-item is presented and the engine is
	// blocked on the operator.
	StateAwaitingInput State = "awaiting_input"

	// StateDone means the stream ended or the operator stopped the session.
	StateDone State = "done"
)

// Presenter receives engine events. Calls arrive from whichever goroutine
// drives the engine, never concurrently.
type Presenter interface {
	// OnSubItemReady announces the sub-item now awaiting a decision.
	OnSubItemReady(sub *types.SubItem)

	// OnStatsUpdated reports the running totals after each committed change.
	OnStatsUpdated(stats types.SessionStats)

	// OnPipelineDone announces the end of the session.
	OnPipelineDone()
}

// Config wires an Engine.
type Config struct {
	Store     *metastore.Store
	Buffer    *handoff.Buffer
	Set       types.CategorySet
	Presenter Presenter

	// Session identifies this run in the store's completion index.
	Session string

	// Stats seeds the in-memory counters, typically from a store snapshot.
	Stats types.SessionStats

	// CancelProducer stops the producer when the operator quits. Optional.
	CancelProducer context.CancelFunc

	Log *zap.SugaredLogger
}

// Engine is the consumer-side state machine. All public methods serialize
// on an internal mutex; the stop flag alone is touched lock-free so Stop
// can interrupt an in-progress buffer wait.
type Engine struct {
	mu sync.Mutex

	store          *metastore.Store
	buf            *handoff.Buffer
	set            types.CategorySet
	presenter      Presenter
	session        string
	cancelProducer context.CancelFunc
	log            *zap.SugaredLogger

	state   State
	current *types.SubItem

	// pending holds sub-items displaced by an undo, re-presented LIFO
	// before anything new is pulled from the buffer.
	pending []*types.SubItem

	// history is the undo stack, most recent decision last.
	history []types.SortAction

	stats types.SessionStats

	stopRequested atomic.Bool
}

// NewEngine builds an engine in StateIdle.
func NewEngine(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	stats := cfg.Stats
	if stats.Categories == nil {
		stats = types.NewSessionStats(cfg.Set)
	}
	return &Engine{
		store:          cfg.Store,
		buf:            cfg.Buffer,
		set:            cfg.Set,
		presenter:      cfg.Presenter,
		session:        cfg.Session,
		cancelProducer: cfg.CancelProducer,
		log:            log,
		state:          StateIdle,
		stats:          stats,
	}
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a copy of the running totals.
func (e *Engine) Stats() types.SessionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.Clone()
}

// Current returns the sub-item awaiting a decision, or nil.
func (e *Engine) Current() *types.SubItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Start pulls the first sub-item, committing any markers that precede it.
// It blocks until something is presented, the stream ends, or the context
// is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return fmt.Errorf("triage: start from state %q", e.state)
	}
	return e.advance(ctx)
}

// Classify commits the operator's decision for the presented sub-item and
// advances to the next one. Saveable categories write a PNG artifact and a
// metadata record in one step; Discarded only bumps its counter. On any
// persistence failure the sub-item stays presented so the operator can
// retry or stop.
func (e *Engine) Classify(ctx context.Context, cat types.Category) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDone {
		return ErrStopped
	}
	if e.state != StateAwaitingInput || e.current == nil {
		return ErrNoSubItem
	}
	if !e.set.Contains(cat) {
		return fmt.Errorf("triage: unknown category %q", cat)
	}

	sub := e.current
	action := types.SortAction{Sub: sub, Category: cat, DecidedAt: time.Now().UTC()}

	if cat == types.CategoryDiscarded {
		if err := e.store.RecordDiscard(ctx); err != nil {
			return fmt.Errorf("recording discard: %w", err)
		}
		sub.Status = types.SubItemDiscarded
	} else {
		rel, err := e.saveArtifact(sub, cat)
		if err != nil {
			return err
		}
		rec := types.MetadataRecord{
			Path:     rel,
			SourceID: sub.SourceID,
			Index:    sub.Index,
			Category: cat,
			Score:    sub.Score,
			SortedAt: action.DecidedAt,
		}
		if err := e.store.RecordSort(ctx, rec); err != nil {
			// Artifact without a record would be invisible to the index.
			os.Remove(filepath.Join(e.store.OutputDir(), rel))
			return fmt.Errorf("recording sort: %w", err)
		}
		action.Path = rel
		sub.Status = types.SubItemClassified
	}

	e.history = append(e.history, action)
	e.stats.Categories[cat]++
	e.log.Debugw("classified",
		"source", sub.SourceID, "index", sub.Index, "category", cat, "path", action.Path)
	e.presenter.OnStatsUpdated(e.stats.Clone())

	return e.advance(ctx)
}

// Undo reverses the most recent decision and re-presents its sub-item. A
// sub-item already on display is pushed aside and comes back, most recent
// first, once the undone one is re-decided.
func (e *Engine) Undo(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDone {
		return ErrStopped
	}
	if len(e.history) == 0 {
		return ErrNothingToUndo
	}

	action := e.history[len(e.history)-1]

	if action.Path != "" {
		if err := e.store.RemoveRecord(ctx, action.Path); err != nil {
			return fmt.Errorf("reversing sort: %w", err)
		}
		if err := os.Remove(filepath.Join(e.store.OutputDir(), action.Path)); err != nil && !os.IsNotExist(err) {
			e.log.Warnw("artifact removal failed", "path", action.Path, "error", err)
		}
	} else {
		if err := e.store.RemoveDiscard(ctx); err != nil {
			return fmt.Errorf("reversing discard: %w", err)
		}
	}

	e.history = e.history[:len(e.history)-1]
	e.stats.Categories[action.Category]--

	if e.current != nil {
		e.pending = append(e.pending, e.current)
	}
	action.Sub.Status = types.SubItemPending
	e.current = action.Sub
	e.state = StateAwaitingInput

	e.log.Debugw("undid decision",
		"source", action.Sub.SourceID, "index", action.Sub.Index, "category", action.Category)
	e.presenter.OnStatsUpdated(e.stats.Clone())
	e.presenter.OnSubItemReady(action.Sub)
	return nil
}

// Stop ends the session. The stop flag and producer cancellation happen
// before the lock is taken, so a Start or Classify blocked in the buffer
// wait unblocks rather than deadlocking against us.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopRequested.Store(true)
	if e.cancelProducer != nil {
		e.cancelProducer()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDone {
		return nil
	}
	return e.finish(ctx)
}

// advance presents the next sub-item: first from the undo pushback stack,
// then from the buffer. Markers pulled on the way are committed
// immediately; because they trail their item's sub-items in the stream,
// a completion commits only after every crop of that item was decided.
// Called with the mutex held.
func (e *Engine) advance(ctx context.Context) error {
	e.current = nil

	if n := len(e.pending); n > 0 {
		e.current = e.pending[n-1]
		e.pending = e.pending[:n-1]
		e.state = StateAwaitingInput
		e.presenter.OnSubItemReady(e.current)
		return nil
	}

	for {
		if e.stopRequested.Load() {
			return e.finish(ctx)
		}
		if err := ctx.Err(); err != nil {
			e.finish(context.WithoutCancel(ctx))
			return err
		}

		entry, err := e.buf.Get(pollInterval)
		if errors.Is(err, handoff.ErrTimeout) {
			continue
		}
		if errors.Is(err, handoff.ErrDone) {
			return e.finish(ctx)
		}
		if err != nil {
			return err
		}

		if entry.Marker != nil {
			if err := e.commitMarker(ctx, *entry.Marker); err != nil {
				return err
			}
			e.presenter.OnStatsUpdated(e.stats.Clone())
			continue
		}

		e.current = entry.Sub
		e.state = StateAwaitingInput
		e.presenter.OnSubItemReady(entry.Sub)
		return nil
	}
}

// commitMarker persists one producer bookkeeping event.
func (e *Engine) commitMarker(ctx context.Context, m handoff.ItemMarker) error {
	switch m.Outcome {
	case handoff.OutcomeProcessed:
		if err := e.store.MarkSourceDone(ctx, m.SourceID, m.SubItems, e.session); err != nil {
			return fmt.Errorf("marking meme %d done: %w", m.SourceID, err)
		}
		e.stats.Processed++
		e.stats.Downloaded++
	case handoff.OutcomeResumed, handoff.OutcomeFailed:
		if err := e.store.BumpSkipped(ctx); err != nil {
			return fmt.Errorf("bumping skip count: %w", err)
		}
		e.stats.Skipped++
	default:
		return fmt.Errorf("unknown item outcome %q", m.Outcome)
	}
	return nil
}

// finish flushes the store and closes out the session. Called with the
// mutex held; safe to call once per engine.
func (e *Engine) finish(ctx context.Context) error {
	e.state = StateDone
	e.current = nil

	err := e.store.Flush(ctx)
	if err != nil {
		e.log.Warnw("final flush failed", "error", err)
	}
	e.presenter.OnPipelineDone()
	return err
}

// saveArtifact encodes the sub-item's image under the category directory
// and returns the path relative to the output directory. Name collisions
// get a numeric suffix rather than overwriting an existing artifact.
func (e *Engine) saveArtifact(sub *types.SubItem, cat types.Category) (string, error) {
	name := fmt.Sprintf("meme_%d_char_%02d.png", sub.SourceID, sub.Index)
	rel, err := uniquePath(e.store.OutputDir(), string(cat), name)
	if err != nil {
		return "", err
	}

	f, err := os.Create(filepath.Join(e.store.OutputDir(), rel))
	if err != nil {
		return "", fmt.Errorf("creating artifact: %w", err)
	}
	if err := png.Encode(f, sub.Image); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encoding artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing artifact: %w", err)
	}
	return rel, nil
}

// uniquePath returns dir-relative "subdir/name", suffixing the stem with
// _1, _2, ... while the candidate already exists.
func uniquePath(root, subdir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]

	candidate := filepath.Join(subdir, name)
	for n := 1; ; n++ {
		_, err := os.Stat(filepath.Join(root, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("probing artifact path: %w", err)
		}
		candidate = filepath.Join(subdir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}
