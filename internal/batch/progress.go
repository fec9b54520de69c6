package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ProgressCallback is told about every processed image.
type ProgressCallback interface {
	OnStart(total int)
	// OnItem is called after each image, failed ones included.
	OnItem(current, total int, item Item)
	OnError(current int, path string, err error)
	OnComplete()
}

// NoOpProgressCallback discards all updates.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)                {}
func (NoOpProgressCallback) OnItem(int, int, Item)      {}
func (NoOpProgressCallback) OnError(int, string, error) {}
func (NoOpProgressCallback) OnComplete()                {}

// ConsoleProgressCallback redraws a one-line bar with the number of
// reliable results so far.
type ConsoleProgressCallback struct {
	mu       sync.Mutex
	w        io.Writer
	prefix   string
	width    int
	throttle time.Duration
	started  time.Time
	lastDraw time.Time
	reliable int
	errColor *color.Color
	barColor *color.Color
}

// NewConsoleProgressCallback writes to w, or stderr when w is nil.
func NewConsoleProgressCallback(w io.Writer, prefix string) *ConsoleProgressCallback {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgressCallback{
		w:        w,
		prefix:   prefix,
		width:    30,
		throttle: 100 * time.Millisecond,
		errColor: color.New(color.FgRed),
		barColor: color.New(color.FgGreen),
	}
}

// WithWidth sets the bar width in cells.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	c.width = max(width, 1)
	return c
}

// WithUpdateInterval limits redraws to one per interval. The last item is
// always drawn.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.throttle = interval
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = time.Now()
	c.lastDraw = time.Time{}
	c.reliable = 0
	_, _ = fmt.Fprintf(c.w, "%s: %d image(s)\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnItem(current, total int, item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item.Reliable() {
		c.reliable++
	}
	now := time.Now()
	if current < total && now.Sub(c.lastDraw) < c.throttle {
		return
	}
	c.lastDraw = now
	c.draw(current, total, item, now)
}

func (c *ConsoleProgressCallback) OnError(current int, path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.errColor.Fprintf(c.w, "\n%s: #%d %s: %v\n", c.prefix, current, filepath.Base(path), err)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "\n%s: done in %v, %d reliable\n", c.prefix, time.Since(c.started).Round(time.Millisecond), c.reliable)
}

func (c *ConsoleProgressCallback) draw(current, total int, item Item, now time.Time) {
	if total <= 0 {
		return
	}
	current = min(current, total)
	filled := c.width * current / total
	bar := c.barColor.Sprint(strings.Repeat("=", filled)) + strings.Repeat(".", c.width-filled)

	line := fmt.Sprintf("\r%s [%s] %d/%d reliable=%d", c.prefix, bar, current, total, c.reliable)
	if elapsed := now.Sub(c.started); current < total && current > 0 && elapsed > 0 {
		perImage := elapsed / time.Duration(current)
		line += fmt.Sprintf(" eta=%v", (perImage * time.Duration(total-current)).Round(time.Second))
	}
	line += " " + filepath.Join(item.Category, filepath.Base(item.Path))
	_, _ = fmt.Fprint(c.w, line)
}

// LogProgressCallback reports through slog every interval images.
type LogProgressCallback struct {
	logger   *slog.Logger
	level    slog.Level
	every    int
	lastLog  int
	reliable int
	started  time.Time
}

// NewLogProgressCallback logs at level on logger, or the default logger
// when nil.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level, every int) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, every: max(every, 1)}
}

func (l *LogProgressCallback) OnStart(total int) {
	l.started = time.Now()
	l.lastLog = 0
	l.reliable = 0
	l.logger.Log(context.Background(), l.level, "Batch started", "images", total)
}

func (l *LogProgressCallback) OnItem(current, total int, item Item) {
	if item.Reliable() {
		l.reliable++
	}
	l.logger.Debug("Image processed", "file", item.Path, "category", item.Category, "reliable", item.Reliable())
	if current-l.lastLog < l.every && current != total {
		return
	}
	l.lastLog = current
	l.logger.Log(context.Background(), l.level, "Batch progress",
		"current", current,
		"total", total,
		"reliable", l.reliable,
		"elapsed", time.Since(l.started).Round(time.Millisecond),
	)
}

func (l *LogProgressCallback) OnError(current int, path string, err error) {
	l.logger.Log(context.Background(), slog.LevelError, "Batch image failed", "current", current, "file", path, "error", err)
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Log(context.Background(), l.level, "Batch completed",
		"reliable", l.reliable,
		"elapsed", time.Since(l.started).Round(time.Millisecond))
}
