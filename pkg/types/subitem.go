// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared domain model: configuration, sub-items,
// categories, sort actions, metadata records, and session statistics.
package types

import (
	"image"
	"time"
)

// Category is one classification outcome for a sub-item.
type Category string

const (
	// CategoryOthers collects characters that belong to neither named class.
	CategoryOthers Category = "Others"

	// CategoryDiscarded marks sub-items rejected by the operator. Discards
	// are counted but never saved: no artifact, no metadata record.
	CategoryDiscarded Category = "Discarded"
)

// CategorySet is the fixed, ordered set of classification outcomes for a
// sorting session: two project-specific classes, then Others, then Discarded.
type CategorySet struct {
	// Named holds the two project-specific classes (e.g. "Bo", "Gau").
	Named []Category
}

// DefaultCategories returns the category set used by the original dataset.
func DefaultCategories() CategorySet {
	return CategorySet{Named: []Category{"Bo", "Gau"}}
}

// NewCategorySet builds a set from the configured class names.
func NewCategorySet(named []string) CategorySet {
	set := CategorySet{Named: make([]Category, 0, len(named))}
	for _, n := range named {
		set.Named = append(set.Named, Category(n))
	}
	return set
}

// All returns every category in presentation order, Discarded last.
func (c CategorySet) All() []Category {
	out := make([]Category, 0, len(c.Named)+2)
	out = append(out, c.Named...)
	return append(out, CategoryOthers, CategoryDiscarded)
}

// Saveable returns the categories that produce artifacts and metadata
// records, i.e. everything except Discarded.
func (c CategorySet) Saveable() []Category {
	out := make([]Category, 0, len(c.Named)+1)
	out = append(out, c.Named...)
	return append(out, CategoryOthers)
}

// Contains reports whether cat is a member of the set.
func (c CategorySet) Contains(cat Category) bool {
	for _, m := range c.All() {
		if m == cat {
			return true
		}
	}
	return false
}

// SubItemStatus tracks where a sub-item is in its lifecycle.
type SubItemStatus string

const (
	SubItemPending    SubItemStatus = "pending"
	SubItemClassified SubItemStatus = "classified"
	SubItemDiscarded  SubItemStatus = "discarded"
)

// SubItem is one candidate character cropped from a source meme. It is
// owned by exactly one component at a time: the producer while being
// cropped, the hand-off buffer while queued, the triage engine while a
// decision is pending.
type SubItem struct {
	// SourceID is the meme identifier the crop came from.
	SourceID int

	// Index is the crop's position within its source meme, in the order
	// the segmenter returned it.
	Index int

	// Total is the number of crops the source meme produced. The triage
	// engine uses it to recognize the item's last sub-item.
	Total int

	// Image is the cropped character image.
	Image image.Image

	// Score is the segmenter's confidence for this crop.
	Score float64

	// Status is pending until the operator decides.
	Status SubItemStatus
}

// MetadataRecord is the persisted description of one sorted artifact,
// keyed by its saved path. Discarded sub-items have no record.
type MetadataRecord struct {
	// Path is the saved artifact location, relative to the output directory.
	Path string `json:"path" yaml:"path"`

	// SourceID and Index identify the sub-item the artifact came from.
	SourceID int `json:"source_id" yaml:"source_id"`
	Index    int `json:"index" yaml:"index"`

	// Category is the operator's decision.
	Category Category `json:"category" yaml:"category"`

	// Score is the segmentation confidence carried through for dataset QA.
	Score float64 `json:"score" yaml:"score"`

	// SortedAt is when the decision was committed.
	SortedAt time.Time `json:"sorted_at" yaml:"sorted_at"`
}

// SortAction is one undoable operator decision. Classify pushes an action;
// Undo pops the most recent one and reverses its persisted effect.
type SortAction struct {
	// Sub is the decided sub-item, retained so Undo can re-present it.
	Sub *SubItem

	// Category is the decision being reversed on undo.
	Category Category

	// Path is the saved artifact location, empty for discards.
	Path string

	// DecidedAt is when the action was committed.
	DecidedAt time.Time
}

// SessionStats aggregates counters across a sorting session. The category
// counters are kept equal to the number of stored metadata records per
// category; Discarded alone has no backing records.
type SessionStats struct {
	// Processed counts source items whose segmentation completed.
	Processed int `json:"processed" yaml:"processed"`

	// Downloaded counts source items fetched from the feed.
	Downloaded int `json:"downloaded" yaml:"downloaded"`

	// Skipped counts source items passed over: already complete on
	// resume, fetch failures, or segmentation failures.
	Skipped int `json:"skipped" yaml:"skipped"`

	// Categories maps each category, including Discarded, to its count.
	Categories map[Category]int `json:"categories" yaml:"categories"`
}

// NewSessionStats returns zeroed stats covering every category in set.
func NewSessionStats(set CategorySet) SessionStats {
	s := SessionStats{Categories: make(map[Category]int, len(set.Named)+2)}
	for _, c := range set.All() {
		s.Categories[c] = 0
	}
	return s
}

// Clone returns a deep copy, safe to hand to observers.
func (s SessionStats) Clone() SessionStats {
	out := s
	out.Categories = make(map[Category]int, len(s.Categories))
	for c, n := range s.Categories {
		out.Categories[c] = n
	}
	return out
}

// Sorted returns the total number of operator decisions still in effect.
func (s SessionStats) Sorted() int {
	total := 0
	for _, n := range s.Categories {
		total += n
	}
	return total
}
