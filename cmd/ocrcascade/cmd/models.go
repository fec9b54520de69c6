package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/MeKo-Tech/ocrcascade/internal/models"
	"github.com/MeKo-Tech/ocrcascade/internal/onnx"
	"github.com/spf13/cobra"
)

// modelEntry is one line of `models` output.
type modelEntry struct {
	models.ModelInfo
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// modelsCmd represents the models command.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List model files and check the ONNX Runtime setup",
	Long: `List the model, dictionary and corpus files the engines load, where they
are expected under the models directory, and whether they exist.

With --check-runtime the ONNX Runtime library is loaded and released to
verify the installation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		dir := models.GetModelsDir(cfg.ModelsDir)
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}

		entries := make([]modelEntry, 0)
		for _, info := range models.ListAvailableModels() {
			path := models.ResolveModelPath(dir, info.Type, info.Variant, info.Filename)
			entries = append(entries, modelEntry{
				ModelInfo: info,
				Path:      path,
				Exists:    models.ValidateModelExists(path) == nil,
			})
		}

		out := cmd.OutOrStdout()
		if format == outputFormatJSON {
			if err := writeJSON(out, entries); err != nil {
				return err
			}
		} else {
			_, _ = headerColor.Fprintf(out, "Models directory: %s\n", dir)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tTYPE\tSTATUS\tPATH")
			for _, e := range entries {
				status := reliableColor.Sprint("ok")
				if !e.Exists {
					status = errorColor.Sprint("missing")
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Type, status, e.Path)
			}
			_ = tw.Flush()
		}

		if check, _ := cmd.Flags().GetBool("check-runtime"); check {
			if err := onnx.Init(cfg.GPU.Enabled); err != nil {
				_, _ = errorColor.Fprintf(cmd.ErrOrStderr(), "ONNX Runtime check failed: %v\n", err)
				return err
			}
			onnx.Shutdown()
			_, _ = reliableColor.Fprintln(out, "ONNX Runtime is ready for use.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	modelsCmd.Flags().Bool("check-runtime", false, "load the ONNX Runtime library to verify the setup")
}
