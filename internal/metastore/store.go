// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metastore persists sorting decisions and session statistics in a
// SQLite database under the output directory. Every classify and undo is
// committed in one transaction that touches both the per-artifact record
// and the matching counter, so stored counters never drift from stored
// records; any drift found at startup is repaired from the records, which
// are authoritative.
package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sfatew/Meme-Generator/pkg/types"
)

const dbFile = "memesort.db"

// Builtin counter names. Category names share the stats table namespace,
// so a class must not be named after one of these.
const (
	statProcessed  = "processed"
	statDownloaded = "downloaded"
	statSkipped    = "skipped"
)

// Store manages the sorting metadata SQLite database. It has exactly one
// writer at a time (the triage engine); the producer only reads the
// completed-source set through IsSourceDone.
type Store struct {
	db        *sql.DB
	outputDir string
	set       types.CategorySet
}

// Open opens or creates the database at outputDir/memesort.db, creating the
// output directory and one subdirectory per saveable category.
func Open(outputDir string, set types.CategorySet) (*Store, error) {
	for _, c := range set.Saveable() {
		dir := filepath.Join(outputDir, string(c))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating category directory %s: %w", dir, err)
		}
	}

	dbPath := filepath.Join(outputDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, outputDir: outputDir, set: set}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// OutputDir returns the directory the store manages.
func (s *Store) OutputDir() string { return s.outputDir }

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			path TEXT PRIMARY KEY,
			source_id INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			category TEXT NOT NULL,
			score REAL NOT NULL,
			sorted_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_category ON records(category)`,
		`CREATE TABLE IF NOT EXISTS stats (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS source_items (
			id INTEGER PRIMARY KEY,
			subitems INTEGER NOT NULL,
			session TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			start_id INTEGER NOT NULL,
			count INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// BeginSession records the start of a sorting run and returns its identifier.
func (s *Store) BeginSession(ctx context.Context, run types.RunConfig) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, start_id, count) VALUES (?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339), run.StartID, run.Count,
	)
	if err != nil {
		return "", fmt.Errorf("recording session: %w", err)
	}
	return id, nil
}

// bumpStat adjusts one counter inside an open transaction.
func bumpStat(ctx context.Context, tx *sql.Tx, name string, delta int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO stats (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = stats.value + excluded.value`,
		name, delta,
	)
	if err != nil {
		return fmt.Errorf("adjusting counter %s: %w", name, err)
	}
	return nil
}

// RecordSort durably appends one artifact record and bumps its category
// counter in the same transaction.
func (s *Store) RecordSort(ctx context.Context, rec types.MetadataRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (path, source_id, idx, category, score, sorted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Path, rec.SourceID, rec.Index, string(rec.Category), rec.Score,
		rec.SortedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", rec.Path, err)
	}
	if err := bumpStat(ctx, tx, string(rec.Category), 1); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveRecord deletes the record at path and decrements its category
// counter, reversing a prior RecordSort.
func (s *Store) RemoveRecord(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var category string
	err = tx.QueryRowContext(ctx, `SELECT category FROM records WHERE path = ?`, path).Scan(&category)
	if err != nil {
		return fmt.Errorf("looking up record %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting record %s: %w", path, err)
	}
	if err := bumpStat(ctx, tx, category, -1); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordDiscard bumps the Discarded counter. Discards have no artifact and
// no record row.
func (s *Store) RecordDiscard(ctx context.Context) error {
	return s.adjustCounter(ctx, string(types.CategoryDiscarded), 1)
}

// RemoveDiscard reverses a RecordDiscard.
func (s *Store) RemoveDiscard(ctx context.Context) error {
	return s.adjustCounter(ctx, string(types.CategoryDiscarded), -1)
}

// BumpSkipped counts one source item passed over without sub-items.
func (s *Store) BumpSkipped(ctx context.Context) error {
	return s.adjustCounter(ctx, statSkipped, 1)
}

func (s *Store) adjustCounter(ctx context.Context, name string, delta int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := bumpStat(ctx, tx, name, delta); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkSourceDone records that a source item's sub-items have all been
// decided, making it skippable on resume, and bumps the processed and
// downloaded counters in the same transaction.
func (s *Store) MarkSourceDone(ctx context.Context, sourceID, subitems int, session string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO source_items (id, subitems, session, finished_at)
		 VALUES (?, ?, ?, ?)`,
		sourceID, subitems, session, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("marking source %d done: %w", sourceID, err)
	}
	if err := bumpStat(ctx, tx, statProcessed, 1); err != nil {
		return err
	}
	if err := bumpStat(ctx, tx, statDownloaded, 1); err != nil {
		return err
	}
	return tx.Commit()
}

// IsSourceDone reports whether the source item is already fully recorded.
// The producer polls this to honor resume semantics without writing.
func (s *Store) IsSourceDone(ctx context.Context, sourceID int) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM source_items WHERE id = ?`, sourceID,
	).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("checking source %d: %w", sourceID, err)
	}
	return true, nil
}

// Snapshot is the store's full state as loaded at startup.
type Snapshot struct {
	// Records holds every persisted artifact record.
	Records []types.MetadataRecord

	// Stats are the session counters, with category counts taken from the
	// records when the persisted snapshot disagreed.
	Stats types.SessionStats

	// DoneSources maps completed source ids to their sub-item counts.
	DoneSources map[int]int

	// Repaired reports whether any persisted counter had drifted and was
	// rewritten from the record-derived value.
	Repaired bool
}

// LoadAll reads all records, reconstructs session statistics, and repairs
// any divergence between persisted counters and true record counts.
// Counts derived from records always win; processed, downloaded, skipped,
// and Discarded have no backing records and are trusted as stored.
func (s *Store) LoadAll(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Stats:       types.NewSessionStats(s.set),
		DoneSources: make(map[int]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, source_id, idx, category, score, sorted_at
		 FROM records ORDER BY sorted_at, path`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	derived := make(map[types.Category]int)
	for rows.Next() {
		var rec types.MetadataRecord
		var category, sortedAt string
		if err := rows.Scan(&rec.Path, &rec.SourceID, &rec.Index, &category, &rec.Score, &sortedAt); err != nil {
			return Snapshot{}, fmt.Errorf("scanning record: %w", err)
		}
		rec.Category = types.Category(category)
		if t, parseErr := time.Parse(time.RFC3339Nano, sortedAt); parseErr == nil {
			rec.SortedAt = t
		}
		derived[rec.Category]++
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterating records: %w", err)
	}

	stored, err := s.readCounters(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap.Stats.Processed = stored[statProcessed]
	snap.Stats.Downloaded = stored[statDownloaded]
	snap.Stats.Skipped = stored[statSkipped]
	snap.Stats.Categories[types.CategoryDiscarded] = stored[string(types.CategoryDiscarded)]

	for _, c := range s.set.Saveable() {
		want := derived[c]
		if stored[string(c)] != want {
			snap.Repaired = true
			if err := s.writeCounter(ctx, string(c), want); err != nil {
				return Snapshot{}, err
			}
		}
		snap.Stats.Categories[c] = want
	}

	srcRows, err := s.db.QueryContext(ctx, `SELECT id, subitems FROM source_items`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying source items: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var id, n int
		if err := srcRows.Scan(&id, &n); err != nil {
			return Snapshot{}, fmt.Errorf("scanning source item: %w", err)
		}
		snap.DoneSources[id] = n
	}
	if err := srcRows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterating source items: %w", err)
	}

	return snap, nil
}

func (s *Store) readCounters(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM stats`)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var value int
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning counter: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stats: %w", err)
	}
	return out, nil
}

func (s *Store) writeCounter(ctx context.Context, name string, value int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("writing counter %s: %w", name, err)
	}
	return nil
}

// Flush forces pending WAL content into the main database file. Individual
// commits are already durable; this is the shutdown checkpoint.
func (s *Store) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpointing: %w", err)
	}
	return nil
}
