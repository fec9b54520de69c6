// Package capture grabs frames from the screen and feeds them into a
// framebuf.Slot for the live loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/framebuf"
	"github.com/kbinani/screenshot"
)

// DefaultInterval is the pause between two captures.
const DefaultInterval = 200 * time.Millisecond

// ErrNoDisplay is returned when no active display is available.
var ErrNoDisplay = errors.New("no active displays found")

// Source produces frames.
type Source interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Region is a rectangle in virtual screen coordinates.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Empty reports whether the region selects nothing, meaning the whole screen.
func (r Region) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Rect converts the region into an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Screen captures a display, the union of all displays, or a fixed region.
type Screen struct {
	// Display selects one display; negative means all of them.
	Display int
	Region  Region
}

// Bounds resolves the rectangle that will be captured.
func (s Screen) Bounds() (image.Rectangle, error) {
	if !s.Region.Empty() {
		return s.Region.Rect(), nil
	}
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, ErrNoDisplay
	}
	if s.Display >= 0 {
		if s.Display >= n {
			return image.Rectangle{}, fmt.Errorf("display %d out of range (have %d)", s.Display, n)
		}
		return screenshot.GetDisplayBounds(s.Display), nil
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return union, nil
}

// Capture grabs one frame.
func (s Screen) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds, err := s.Bounds()
	if err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to capture %v: %w", bounds, err)
	}
	return img, nil
}

// Loop captures from src every interval and puts each frame into slot until
// ctx is cancelled. Capture errors are logged and the loop carries on; it
// gives up after maxFailures consecutive failures when maxFailures > 0.
func Loop(ctx context.Context, src Source, slot *framebuf.Slot, interval time.Duration, maxFailures int) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		img, err := src.Capture(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			slog.Warn("Capture failed", "error", err, "consecutive", failures)
			if maxFailures > 0 && failures >= maxFailures {
				return fmt.Errorf("capture failed %d times: %w", failures, err)
			}
		default:
			failures = 0
			id := slot.Put(img)
			slog.Debug("Captured frame", "frame_id", id, "bounds", img.Bounds())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
