package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/ocrcascade/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), version.Get())
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "print version information as JSON")
}
