package cmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/capture"
	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSource) Capture(context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return testutil.TextImage(fakeText), nil
}

// syncBuffer guards a bytes.Buffer shared with the live loop.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunLive_PrintsChangedTextOnce(t *testing.T) {
	runner := &fakeRunner{}
	src := &fakeSource{}
	out := &syncBuffer{}

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()
	err := runLive(ctx, out, runner, src, liveOptions{Mode: "fast", Interval: 5 * time.Millisecond, MaxFailures: 3})
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out.String(), fakeText))
	modes := runner.ranModes()
	require.NotEmpty(t, modes)
	assert.Equal(t, "fast", modes[0])
	assert.Greater(t, src.calls, len(modes))
}

func TestRunLive_StopsAfterCaptureFailures(t *testing.T) {
	src := &fakeSource{err: errors.New("display gone")}

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	err := runLive(ctx, &syncBuffer{}, &fakeRunner{}, src, liveOptions{Mode: "fast", Interval: time.Millisecond, MaxFailures: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display gone")
	assert.Equal(t, 2, src.calls)
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		in      string
		want    capture.Region
		wantErr bool
	}{
		{in: "0,0,800,200", want: capture.Region{Width: 800, Height: 200}},
		{in: " 10, 20 ,30,40", want: capture.Region{X: 10, Y: 20, Width: 30, Height: 40}},
		{in: "-100,0,50,50", want: capture.Region{X: -100, Width: 50, Height: 50}},
		{in: "1,2,3", wantErr: true},
		{in: "a,b,c,d", wantErr: true},
		{in: "0,0,0,10", wantErr: true},
		{in: "0,0,10,-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRegion(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
