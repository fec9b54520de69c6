package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/capture"
	"github.com/MeKo-Tech/ocrcascade/internal/framebuf"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/spf13/cobra"
)

const liveReadyPoll = 10 * time.Millisecond

// liveCmd represents the live command.
var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Continuously capture the screen and print recognized text",
	Long: `Capture a display or a screen region at a fixed interval and run the
newest frame through the pipeline whenever it is idle. Frames captured while
a run is in flight replace each other; only the latest one is processed.
Text is printed when it changes.

Examples:
  ocrcascade live
  ocrcascade live --region 0,0,800,200 --mode fast
  ocrcascade live --display 1 --interval 500ms --duration 1m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		screen := cfg.Screen()
		if regionFlag, _ := cmd.Flags().GetString("region"); regionFlag != "" {
			region, err := parseRegion(regionFlag)
			if err != nil {
				return err
			}
			screen.Region = region
		}
		bounds, err := screen.Bounds()
		if err != nil {
			return fmt.Errorf("failed to resolve capture area: %w", err)
		}

		runner, cleanup, err := newRunner(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		slog.Info("Live capture started", "bounds", bounds, "mode", cfg.Mode, "interval", cfg.Live.Interval)
		return runLive(ctx, cmd.OutOrStdout(), runner, screen, liveOptions{
			Mode:        cfg.Mode,
			Interval:    cfg.Live.Interval,
			MaxFailures: cfg.Live.MaxFailures,
		})
	},
}

type liveOptions struct {
	Mode        string
	Interval    time.Duration
	MaxFailures int
}

// runLive feeds src into a frame slot and processes the latest frame each
// time the pipeline becomes ready, until ctx ends or capture gives up.
func runLive(ctx context.Context, w io.Writer, runner pipeline.Runner, src capture.Source, opts liveOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slot := framebuf.New()
	async := pipeline.NewAsync(runner, opts.Mode)
	defer async.Close()

	var (
		wg         sync.WaitGroup
		captureErr error
	)
	wg.Go(func() {
		captureErr = capture.Loop(ctx, src, slot, opts.Interval, opts.MaxFailures)
		cancel()
	})

	consumeFrames(ctx, w, slot, async)
	wg.Wait()

	rec, ok := slot.LatestResult()
	slog.Info("Live capture stopped", "dropped_frames", slot.Dropped(), "last_frame", rec.FrameID, "has_result", ok)
	if captureErr != nil && !errors.Is(captureErr, context.Canceled) {
		return captureErr
	}
	return nil
}

// consumeFrames is the only submitter to async. It waits until the wrapper is
// ready before taking a frame so frames are never lost to a rejected submit.
func consumeFrames(ctx context.Context, w io.Writer, slot *framebuf.Slot, async *pipeline.Async) {
	ticker := time.NewTicker(liveReadyPoll)
	defer ticker.Stop()

	lastText := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !async.PollReady() {
			continue
		}
		frame, ok := slot.Take()
		if !ok {
			continue
		}
		ch, ok := async.SubmitChan(ctx, frame.Image)
		if !ok {
			continue
		}
		var res pipeline.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return
		}
		slot.SetResult(frame.ID, res)

		text := res.FinalResult.Text
		slog.Debug("Frame processed", "frame_id", frame.ID, "case", res.CaseTriggered,
			"reliable", res.FinalResult.Reliable, "runtime", res.TotalRuntime.Float())
		if text == lastText || text == "" {
			continue
		}
		lastText = text
		stamp := time.Now().Format(time.TimeOnly)
		_, _ = fmt.Fprintf(w, "%s %s\n", headerColor.Sprintf("[%s #%d]", stamp, frame.ID), resultColor(res.FinalResult).Sprint(text))
	}
}

// parseRegion parses "x,y,width,height".
func parseRegion(s string) (capture.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return capture.Region{}, fmt.Errorf("invalid region %q: want x,y,width,height", s)
	}
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return capture.Region{}, fmt.Errorf("invalid region %q: %w", s, err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return capture.Region{}, fmt.Errorf("invalid region %q: width and height must be positive", s)
	}
	return capture.Region{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}

func init() {
	rootCmd.AddCommand(liveCmd)
	liveCmd.Flags().Duration("interval", capture.DefaultInterval, "pause between captures")
	liveCmd.Flags().Int("display", 0, "display index to capture (-1 for all displays)")
	liveCmd.Flags().String("region", "", "capture region as x,y,width,height (overrides --display)")
	liveCmd.Flags().Int("max-failures", 10, "stop after this many consecutive capture failures (0 = never)")
	liveCmd.Flags().Duration("duration", 0, "stop after this long (0 = until interrupted)")

	bindFlags(liveCmd.Flags(), map[string]string{
		"live.interval":     "interval",
		"live.display":      "display",
		"live.max_failures": "max-failures",
	})
}
