package framebuf

import (
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlot_Empty(t *testing.T) {
	s := New()
	_, ok := s.Latest()
	assert.False(t, ok)
	_, ok = s.Take()
	assert.False(t, ok)
	_, ok = s.LatestResult()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), s.Put(nil))
}

func TestSlot_LastWriteWins(t *testing.T) {
	s := New()
	id1 := s.Put(testutil.BlankImage(4, 4, color.White))
	id2 := s.Put(testutil.BlankImage(8, 8, color.Black))
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)

	f, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, id2, f.ID)
	assert.Equal(t, 8, f.Image.Bounds().Dx())
	assert.Equal(t, uint64(1), s.Dropped())

	taken, ok := s.Take()
	require.True(t, ok)
	assert.Equal(t, id2, taken.ID)
	_, ok = s.Latest()
	assert.False(t, ok)
}

func TestSlot_StoresCopy(t *testing.T) {
	s := New()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	s.Put(img)
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	f, ok := s.Latest()
	require.True(t, ok)
	r, _, _, a := f.Image.At(0, 0).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, a)
}

func TestSlot_ResultIgnoresOlderFrames(t *testing.T) {
	s := New()
	s.SetResult(3, pipeline.Result{FinalResult: engine.EngineResult{Text: "newer"}})
	s.SetResult(2, pipeline.Result{FinalResult: engine.EngineResult{Text: "older"}})

	r, ok := s.LatestResult()
	require.True(t, ok)
	assert.Equal(t, uint64(3), r.FrameID)
	assert.Equal(t, "newer", r.Result.FinalResult.Text)
}

func TestSlot_ConcurrentIDsAreMonotonic(t *testing.T) {
	s := New()
	img := testutil.BlankImage(2, 2, color.White)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			s.Put(img)
		}
	}()

	var last uint64
	for range 200 {
		if f, ok := s.Latest(); ok {
			require.GreaterOrEqual(t, f.ID, last)
			last = f.ID
		}
	}
	wg.Wait()

	f, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(200), f.ID)
}
