// Package pdf extracts embedded page images from PDF documents and runs
// them through the OCR pipeline.
package pdf

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/ocrcascade/internal/utils"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ExtractImages extracts all images from a PDF file using pdfcpu, grouped by
// page number. An empty pageRange selects every page.
func ExtractImages(filename string, pageRange string) (map[int][]image.Image, error) {
	pageNumbers, err := parsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	tempDir, err := os.MkdirTemp("", "ocrcascade-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var pageStrings []string
	for _, pageNum := range pageNumbers {
		pageStrings = append(pageStrings, strconv.Itoa(pageNum))
	}

	if err := api.ExtractImagesFile(filename, tempDir, pageStrings, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	result, err := collectExtractedImages(tempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	return result, nil
}

// PageCount returns the number of pages in the document.
func PageCount(filename string) (int, error) {
	n, err := api.PageCountFile(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to read page count: %w", err)
	}
	return n, nil
}

// collectExtractedImages walks dir and groups decodable images by the page
// number encoded in their file names. Other files are skipped.
func collectExtractedImages(dir string) (map[int][]image.Image, error) {
	result := make(map[int][]image.Image)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		pageNum, err := parsePageFromFilename(d.Name())
		if err != nil {
			return nil
		}
		img, _, err := utils.LoadImage(path)
		if err != nil {
			return nil
		}
		result[pageNum] = append(result[pageNum], img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parsePageFromFilename extracts the page number from an extracted image
// name. Both page_<page>_image_<idx>.<ext> and pdfcpu's
// <base>_<page>_<id>.<ext> are understood.
func parsePageFromFilename(filename string) (int, error) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return 0, errors.New("invalid filename format")
	}

	candidate := parts[len(parts)-2]
	if parts[0] == "page" {
		candidate = parts[1]
	}
	pageNum, err := strconv.Atoi(candidate)
	if err != nil || pageNum < 1 {
		return 0, errors.New("invalid page number")
	}
	return pageNum, nil
}

// parsePageRange parses a page range string like "1-5" or "1,3,5".
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	var pages []int
	for part := range strings.SplitSeq(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

// parseRangeToken parses either a single page token (e.g., "3") or a range token (e.g., "1-5").
func parseRangeToken(part string) ([]int, error) {
	if strings.Contains(part, "-") {
		rangeParts := strings.Split(part, "-")
		if len(rangeParts) != 2 {
			return nil, fmt.Errorf("invalid range format: %s", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid start page: %s", rangeParts[0])
		}
		end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", rangeParts[1])
		}
		if start < 1 {
			return nil, fmt.Errorf("page numbers start at 1, got %d", start)
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	if page < 1 {
		return nil, fmt.Errorf("page numbers start at 1, got %d", page)
	}
	return []int{page}, nil
}
