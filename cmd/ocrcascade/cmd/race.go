package cmd

import (
	"github.com/spf13/cobra"
)

// raceCmd represents the race command.
var raceCmd = &cobra.Command{
	Use:   "race [flags] <file>...",
	Short: "Race all engines on whole images and keep the first reliable answer",
	Long: `Run the baseline, guided and secondary engines concurrently on each image.
The first engine to return a reliable result wins and the others are
cancelled. Every engine's output is reported, including aborted ones.

Examples:
  ocrcascade race receipt.png
  ocrcascade race label.jpg --timeout 2s --engine-timeout 1s --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return processImages(cmd, args, true)
	},
}

func init() {
	rootCmd.AddCommand(raceCmd)
	addImageOutputFlags(raceCmd)
	raceCmd.Flags().Duration("timeout", 0, "overall race timeout (default from config)")
	raceCmd.Flags().Duration("engine-timeout", 0, "per-engine timeout (default from config)")

	bindFlags(raceCmd.Flags(), map[string]string{
		"race.timeout":        "timeout",
		"race.engine_timeout": "engine-timeout",
	})
}
