package main

import (
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [dir]...",
	Short: "Remove stale recovery leftovers",
	Long: `Clean sweeps the temp and output directories, plus any extra
directories given, removing orphaned scratch files and displaced
.locked- originals left by interrupted runs. Files still held open are
skipped and reported.`,
	Example: `  echotrace clean
  echotrace clean /path/to/chat/data`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	result, err := apiClient.SweepStale(args...)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":        true,
			"temp_removed":   result.TempRemoved,
			"locked_removed": result.LockedRemoved,
			"skipped":        result.Skipped,
			"bytes_freed":    result.BytesFreed,
		})
		return nil
	}

	printInfo("Removed %d scratch files, %d displaced originals (%s freed)",
		result.TempRemoved, result.LockedRemoved, formatBytes(result.BytesFreed))
	if result.Skipped > 0 {
		printWarning("%d files still held open, left for the next sweep", result.Skipped)
	}
	return nil
}
