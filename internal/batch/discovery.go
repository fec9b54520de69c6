package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/ocrcascade/internal/utils"
)

// fileFilter selects images by base-name glob. Exclusions win over
// inclusions; an empty include list accepts every supported image.
type fileFilter struct {
	include []string
	exclude []string
}

func (f fileFilter) accepts(path string) bool {
	if !utils.IsSupportedImage(path) {
		return false
	}
	base := filepath.Base(path)
	if globAny(base, f.exclude) {
		return false
	}
	return len(f.include) == 0 || globAny(base, f.include)
}

func globAny(name string, patterns []string) bool {
	return slices.ContainsFunc(patterns, func(p string) bool {
		ok, _ := filepath.Match(p, name)
		return ok
	})
}

// discoverImageFiles expands inputs (files or directories) into a sorted,
// duplicate-free list of images. Hidden directories are skipped.
func discoverImageFiles(inputs []string, recursive bool, include, exclude []string) ([]string, error) {
	filter := fileFilter{include: include, exclude: exclude}
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		clean := filepath.Clean(path)
		if !seen[clean] {
			seen[clean] = true
			files = append(files, clean)
		}
	}

	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", input, err)
		}
		if !info.IsDir() {
			if filter.accepts(input) {
				add(input)
			}
			continue
		}

		root := filepath.Clean(input)
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path == root {
					return nil
				}
				if !recursive || strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if filter.accepts(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", input, err)
		}
	}

	slices.Sort(files)
	return files, nil
}

// categoryOf names the run log category for a file: its parent directory.
func categoryOf(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	if dir == "." || dir == string(filepath.Separator) {
		return "default"
	}
	return dir
}
