package main

import (
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
)

// samplePages are the pages written per category. Each page becomes one
// synthetic text image.
var samplePages = map[string][]string{
	"receipts": {
		"the quick brown fox\ntotal 12.50",
		"hello world\nthank you",
	},
	"labels": {
		"the lazy dog",
		"jumps over the fox",
	},
	"scans": {
		"hello world\nthe quick brown fox\njumps over the lazy dog",
	},
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var (
		outDir  = flag.String("out", "", "output directory (default: <project root>/testdata)")
		corpus  = flag.Bool("corpus", true, "write corpus.json next to the images")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate a sample batch tree for ocrcascade.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLE:\n  %s -out /tmp/pages && ocrcascade batch /tmp/pages/batch\n", os.Args[0])
	}
	flag.Parse()

	dir := *outDir
	if dir == "" {
		root, err := testutil.GetProjectRoot()
		if err != nil {
			slog.Error("Failed to find project root", "error", err)
			os.Exit(1)
		}
		dir = filepath.Join(root, "testdata")
	}

	n, err := generate(dir, *corpus, *verbose)
	if err != nil {
		slog.Error("Test data generation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Test data generated", "dir", dir, "images", n)
}

// generate writes <dir>/batch/<category>/page_NN.png for every sample page
// and optionally <dir>/corpus.json. It returns the number of images written.
func generate(dir string, withCorpus, verbose bool) (int, error) {
	categories := make([]string, 0, len(samplePages))
	for c := range samplePages {
		categories = append(categories, c)
	}
	slices.Sort(categories)

	count := 0
	for _, category := range categories {
		catDir := filepath.Join(dir, "batch", category)
		if err := testutil.EnsureDir(catDir); err != nil {
			return count, err
		}
		for i, text := range samplePages[category] {
			path := filepath.Join(catDir, fmt.Sprintf("page_%02d.png", i+1))
			config := testutil.DefaultTextImageConfig()
			config.Lines = strings.Split(text, "\n")
			if err := writePNG(path, config); err != nil {
				return count, err
			}
			count++
			if verbose {
				slog.Info("Wrote image", "path", path)
			}
		}
	}

	if withCorpus {
		data, err := testutil.CorpusJSON()
		if err != nil {
			return count, err
		}
		if err := os.WriteFile(filepath.Join(dir, "corpus.json"), data, 0o600); err != nil {
			return count, fmt.Errorf("failed to write corpus: %w", err)
		}
	}
	return count, nil
}

func writePNG(path string, config testutil.TextImageConfig) error {
	f, err := os.Create(path) //nolint:gosec // G304: path is built from the output flag
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, testutil.GenerateTextImage(config)); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
