package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/benchmark"
	"github.com/spf13/cobra"
)

// benchCmd represents the bench command.
var benchCmd = &cobra.Command{
	Use:   "bench [flags] <file>...",
	Short: "Time the pipeline in each mode and check the budgets",
	Long: `Run every image through the pipeline several times per mode and report
the fastest, average and slowest runs. Runs that take longer than the
mode's budget are counted.

Examples:
  ocrcascade bench receipt.png
  ocrcascade bench *.png --modes fast,steady --iterations 5 --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		iterations, _ := cmd.Flags().GetInt("iterations")
		if iterations < 1 {
			return fmt.Errorf("iterations must be positive, got %d", iterations)
		}

		table, err := cfg.ModeTable()
		if err != nil {
			return err
		}
		modes := table.Names()
		if list, _ := cmd.Flags().GetString("modes"); strings.TrimSpace(list) != "" {
			modes = nil
			for m := range strings.SplitSeq(list, ",") {
				modes = append(modes, strings.TrimSpace(m))
			}
		}
		for _, m := range modes {
			if !table.Known(m) {
				return fmt.Errorf("unknown mode %q", m)
			}
		}

		runner, cleanup, err := newRunner(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		suite := benchmark.NewSuite()
		for _, file := range args {
			img, err := loadImage(file)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", file, err)
			}
			for _, m := range modes {
				policy := table.Lookup(m)
				var budget time.Duration
				if policy.Bounded() {
					budget = policy.Budget
				}
				suite.Add(m+"/"+filepath.Base(file), budget, func(ctx context.Context) error {
					res := runner.Run(ctx, img, m)
					if res.Error != "" {
						return errors.New(res.Error)
					}
					return nil
				})
			}
		}

		results := suite.RunAll(ctx, iterations)
		if format == outputFormatJSON {
			return writeJSON(cmd.OutOrStdout(), results)
		}
		printBenchResults(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	benchCmd.Flags().String("modes", "", "comma-separated modes to benchmark (default: all configured modes)")
	benchCmd.Flags().IntP("iterations", "n", 3, "runs per image and mode")
}

func printBenchResults(w io.Writer, results []benchmark.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CASE\tRUNS\tMIN\tAVG\tMAX\tBUDGET\tOVER\tALLOC")
	for _, r := range results {
		if r.Error != "" {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", r.Name, errorColor.Sprint(r.Error))
			continue
		}
		budget := "none"
		if r.Budget > 0 {
			budget = r.Budget.String()
		}
		over := reliableColor.Sprint(r.OverBudget)
		if r.OverBudget > 0 {
			over = weakColor.Sprint(r.OverBudget)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%v\t%v\t%v\t%s\t%s\t%d KB\n",
			r.Name, len(r.Durations), r.Min().Round(time.Microsecond), r.Mean().Round(time.Microsecond),
			r.Max().Round(time.Microsecond), budget, over, r.AllocatedKB())
	}
	_ = tw.Flush()
}
