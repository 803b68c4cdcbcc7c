// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sfatew/Meme-Generator/internal/metastore"
	"github.com/sfatew/Meme-Generator/pkg/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report sorting totals from the metadata index",
	Long: `Stats reads the local index and prints the per-category counts along
with processed, downloaded, and skipped totals. Counters that drifted from
the stored records are repaired on load. Use --export to also write the
full index to export.yaml.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().String("output-dir", "sorted_characters", "base directory holding the index")
	statsCmd.Flags().StringSlice("categories", nil, "named categories (default Bo,Gau)")
	statsCmd.Flags().Bool("json", false, "output stats as JSON")
	statsCmd.Flags().Bool("export", false, "write records and stats to export.yaml")

	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	outputDir, _ := cmd.Flags().GetString("output-dir")
	categories, _ := cmd.Flags().GetStringSlice("categories")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	export, _ := cmd.Flags().GetBool("export")

	set := types.DefaultCategories()
	if len(categories) > 0 {
		set = types.NewCategorySet(categories)
	}

	store, err := metastore.Open(outputDir, set)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	snap, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}
	if snap.Repaired {
		fmt.Fprintln(os.Stderr, "Repaired drifted counters from stored records.")
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap.Stats); err != nil {
			return err
		}
	} else {
		printSummary(os.Stdout, set, snap.Stats)
		fmt.Printf("  Records:    %d\n", len(snap.Records))
	}

	if export {
		path, err := store.ExportYAML(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Exported to", path)
	}
	return nil
}
