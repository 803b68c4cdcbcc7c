// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sfatew/Meme-Generator/pkg/types"
)

// terminalPresenter renders triage events on the console. Each presented
// crop is also written to a preview file so the operator can keep an image
// viewer pointed at it.
type terminalPresenter struct {
	out         io.Writer
	set         types.CategorySet
	previewPath string
}

func newTerminalPresenter(out io.Writer, set types.CategorySet, previewPath string) *terminalPresenter {
	return &terminalPresenter{out: out, set: set, previewPath: previewPath}
}

func (p *terminalPresenter) OnSubItemReady(sub *types.SubItem) {
	if err := p.writePreview(sub); err != nil {
		fmt.Fprintf(p.out, "warning: preview not written: %v\n", err)
	}

	fmt.Fprintf(p.out, "\nMeme %d, character %d/%d (score %.2f)\n",
		sub.SourceID, sub.Index+1, sub.Total, sub.Score)
	if p.previewPath != "" {
		fmt.Fprintf(p.out, "Preview: %s\n", p.previewPath)
	}
	fmt.Fprintln(p.out, p.optionsLine())
}

func (p *terminalPresenter) OnStatsUpdated(stats types.SessionStats) {
	parts := make([]string, 0, len(p.set.Named)+5)
	for _, cat := range p.set.All() {
		parts = append(parts, fmt.Sprintf("%s %d", cat, stats.Categories[cat]))
	}
	parts = append(parts,
		fmt.Sprintf("processed %d", stats.Processed),
		fmt.Sprintf("skipped %d", stats.Skipped),
	)
	fmt.Fprintf(p.out, "  [%s]\n", strings.Join(parts, " | "))
}

func (p *terminalPresenter) OnPipelineDone() {
	if p.previewPath != "" {
		os.Remove(p.previewPath)
	}
	fmt.Fprintln(p.out, "\nNo more characters to sort.")
}

// categoryFor maps operator input to a category: digits select the named
// classes, "o" is Others, "d" is Discarded.
func (p *terminalPresenter) categoryFor(input string) (types.Category, bool) {
	switch input {
	case "o":
		return types.CategoryOthers, true
	case "d":
		return types.CategoryDiscarded, true
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(p.set.Named) {
		return "", false
	}
	return p.set.Named[n-1], true
}

func (p *terminalPresenter) optionsLine() string {
	var b strings.Builder
	for i, cat := range p.set.Named {
		fmt.Fprintf(&b, "[%d] %s  ", i+1, cat)
	}
	b.WriteString("[o] Others  [d] Discard  [u] Undo  [q] Quit")
	return b.String()
}

func (p *terminalPresenter) writePreview(sub *types.SubItem) error {
	if p.previewPath == "" || sub.Image == nil {
		return nil
	}
	f, err := os.Create(p.previewPath)
	if err != nil {
		return err
	}
	if err := png.Encode(f, sub.Image); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
