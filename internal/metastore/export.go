// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/sfatew/Meme-Generator/pkg/types"
)

// Export is the YAML document written by ExportYAML: the session counters
// plus every artifact record, in sort order.
type Export struct {
	Stats   types.SessionStats     `yaml:"session_stats"`
	Records []types.MetadataRecord `yaml:"sorted_images"`
}

const exportFile = "export.yaml"

// ExportYAML writes the store's contents to outputDir/export.yaml so the
// sorted dataset can be inspected or consumed without SQLite. The file is
// replaced atomically.
func (s *Store) ExportYAML(ctx context.Context) (string, error) {
	snap, err := s.LoadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("loading store for export: %w", err)
	}

	doc := Export{Stats: snap.Stats, Records: snap.Records}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshaling export: %w", err)
	}

	path := filepath.Join(s.outputDir, exportFile)
	tmp, err := os.CreateTemp(s.outputDir, ".export-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing export: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("replacing export file: %w", err)
	}
	return path, nil
}
