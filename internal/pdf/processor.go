package pdf

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/utils"
)

// Runner is the part of the coordinator the PDF processor needs.
type Runner interface {
	Run(ctx context.Context, img image.Image, modeName string) pipeline.Result
}

// ImageResult is the pipeline outcome for one embedded image.
type ImageResult struct {
	ImageIndex int             `json:"image_index"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Result     pipeline.Result `json:"result"`
}

// PageResult collects the images of one page.
type PageResult struct {
	PageNumber int           `json:"page_number"`
	Images     []ImageResult `json:"images"`
}

// Text joins the accepted text of every image on the page.
func (p PageResult) Text() string {
	var parts []string
	for _, img := range p.Images {
		if t := img.Result.FinalResult.Text; t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// ProcessingInfo contains timing information.
type ProcessingInfo struct {
	ExtractionTimeMs int64 `json:"extraction_time_ms"`
	OCRTimeMs        int64 `json:"ocr_time_ms"`
	TotalTimeMs      int64 `json:"total_time_ms"`
}

// DocumentResult is the outcome for a whole document.
type DocumentResult struct {
	Filename   string         `json:"filename"`
	TotalPages int            `json:"total_pages"`
	Pages      []PageResult   `json:"pages"`
	Processing ProcessingInfo `json:"processing"`
}

// Processor runs extracted page images through a Runner.
type Processor struct {
	runner Runner
	mode   string
}

// NewProcessor returns a processor that uses the named mode for every image.
func NewProcessor(runner Runner, modeName string) *Processor {
	return &Processor{runner: runner, mode: modeName}
}

// ProcessFile extracts the images of the selected pages and recognizes them
// page by page.
func (p *Processor) ProcessFile(ctx context.Context, filename, pageRange string) (*DocumentResult, error) {
	start := time.Now()
	pages, err := ExtractImages(filename, pageRange)
	if err != nil {
		return nil, err
	}
	extraction := time.Since(start)

	doc := p.ProcessImages(ctx, pages)
	doc.Filename = filepath.Base(filename)
	if n, err := PageCount(filename); err == nil {
		doc.TotalPages = n
	} else {
		slog.Warn("Could not read page count", "file", filename, "error", err)
	}
	doc.Processing.ExtractionTimeMs = extraction.Milliseconds()
	doc.Processing.TotalTimeMs = time.Since(start).Milliseconds()
	return doc, nil
}

// ProcessImages recognizes already extracted page images in page order.
// Processing stops early when ctx is cancelled.
func (p *Processor) ProcessImages(ctx context.Context, pages map[int][]image.Image) *DocumentResult {
	start := time.Now()
	doc := &DocumentResult{TotalPages: len(pages)}

	for _, pageNum := range slices.Sorted(maps.Keys(pages)) {
		if ctx.Err() != nil {
			break
		}
		page := PageResult{PageNumber: pageNum}
		for idx, img := range pages[pageNum] {
			if ctx.Err() != nil {
				break
			}
			img = utils.FitWithin(img, utils.DefaultImageConstraints())
			b := img.Bounds()
			res := p.runner.Run(ctx, img, p.mode)
			page.Images = append(page.Images, ImageResult{ImageIndex: idx, Width: b.Dx(), Height: b.Dy(), Result: res})
			slog.Debug("PDF image processed", "page", pageNum, "image", idx, "case", res.CaseTriggered)
		}
		doc.Pages = append(doc.Pages, page)
	}

	ocr := time.Since(start)
	doc.Processing.OCRTimeMs = ocr.Milliseconds()
	doc.Processing.TotalTimeMs = ocr.Milliseconds()
	return doc
}

// String renders the document text with page headers.
func (d *DocumentResult) String() string {
	var b strings.Builder
	for i, page := range d.Pages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## Page %d\n", page.PageNumber)
		if text := page.Text(); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return b.String()
}
