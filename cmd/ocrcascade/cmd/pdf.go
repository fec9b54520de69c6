package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/ocrcascade/internal/pdf"
	"github.com/spf13/cobra"
)

// pdfCmd represents the pdf command.
var pdfCmd = &cobra.Command{
	Use:   "pdf [flags] <file>...",
	Short: "Extract text from the images embedded in PDF files",
	Long: `Extract the images embedded in each PDF and run every image through the
pipeline of the selected mode. Results are grouped by page.

Examples:
  ocrcascade pdf scan.pdf
  ocrcascade pdf scan.pdf --pages 1-3,7 --format json
  ocrcascade pdf a.pdf b.pdf --mode fast --output text.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		pages, _ := cmd.Flags().GetString("pages")
		outputFile, _ := cmd.Flags().GetString("output")

		runner, cleanup, err := newRunner(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, closeOutput, err := openOutput(cmd.OutOrStdout(), outputFile)
		if err != nil {
			return err
		}
		defer func() { _ = closeOutput() }()

		processor := pdf.NewProcessor(runner, cfg.Mode)
		docs := make([]*pdf.DocumentResult, 0, len(args))
		for _, file := range args {
			doc, err := processor.ProcessFile(ctx, file, pages)
			if err != nil {
				return fmt.Errorf("failed to process %s: %w", file, err)
			}
			if format == outputFormatText {
				_, _ = headerColor.Fprintf(w, "# %s (%d pages, %dms)\n", doc.Filename, doc.TotalPages, doc.Processing.TotalTimeMs)
				_, _ = fmt.Fprint(w, doc.String())
			}
			docs = append(docs, doc)
		}

		if format == outputFormatJSON {
			return writeJSON(w, docs)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pdfCmd)
	pdfCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	pdfCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	pdfCmd.Flags().String("pages", "", "page range to process (e.g., '1-5', '1,3,5')")
}
