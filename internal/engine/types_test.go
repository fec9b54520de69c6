package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBox_Geometry(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 50, Y2: 40}
	assert.Equal(t, 40, b.Width())
	assert.Equal(t, 20, b.Height())
	assert.Equal(t, 30, b.CenterY())
	assert.True(t, b.Valid())
	assert.Equal(t, 800, b.Area())

	assert.False(t, Box{X1: 5, Y1: 5, X2: 5, Y2: 10}.Valid())
	assert.Equal(t, 0, Box{X1: 5, Y1: 5, X2: 5, Y2: 10}.Area())
}

func TestBox_UnionAndClip(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Box{X1: 5, Y1: -5, X2: 20, Y2: 8}
	assert.Equal(t, Box{X1: 0, Y1: -5, X2: 20, Y2: 10}, a.Union(b))
	assert.Equal(t, Box{X1: 0, Y1: 0, X2: 15, Y2: 8}, b.Clip(15, 100))
}

func TestBox_IoU(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)
	assert.InDelta(t, 0.0, a.IoU(Box{X1: 20, Y1: 20, X2: 30, Y2: 30}), 1e-9)
	// 5x10 overlap, union 150
	assert.InDelta(t, 50.0/150.0, a.IoU(Box{X1: 5, Y1: 0, X2: 15, Y2: 10}), 1e-9)
}

func TestDetectorResult_AverageConfidence(t *testing.T) {
	assert.Equal(t, 0.0, DetectorResult{}.AverageConfidence())
	d := NewDetectorResult([]Region{{Confidence: 0.9}, {Confidence: 0.6}})
	assert.Equal(t, 2, d.RegionCount)
	assert.Equal(t, 0.75, d.AverageConfidence())
}

func TestSeconds_JSON(t *testing.T) {
	r := EngineResult{Text: "hello", Engine: "baseline", Runtime: Seconds(1234567 * time.Microsecond)}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"runtime":1.235`)
	assert.NotContains(t, string(data), "error")

	var back EngineResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 1.235, back.Runtime.Float())
}

func TestError_Unwrap(t *testing.T) {
	err := Failure("baseline", "recognize", errors.New("boom"))
	assert.ErrorIs(t, err, ErrEngineFailure)
	assert.Contains(t, err.Error(), "baseline recognize")

	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "baseline", engErr.Engine)
	assert.False(t, IsTimeout(err))
}

func TestSeconds_Forever(t *testing.T) {
	data, err := json.Marshal(struct {
		Budget Seconds `json:"budget"`
	}{Forever})
	require.NoError(t, err)
	assert.JSONEq(t, `{"budget":null}`, string(data))

	var s Seconds
	require.NoError(t, json.Unmarshal([]byte("null"), &s))
	assert.Equal(t, Forever, s)
}
