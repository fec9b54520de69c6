package batch

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/runlog"
	"github.com/stretchr/testify/assert"
)

func progressItem(name string, reliable bool) Item {
	res := pipeline.Result{FinalResult: engine.EngineResult{Text: "hello", Reliable: reliable}}
	return Item{
		Path:     "/in/receipts/" + name,
		Category: "receipts",
		Entry:    runlog.Entry{Pipeline: &res},
	}
}

func TestNoOpProgressCallback(t *testing.T) {
	var cb ProgressCallback = NoOpProgressCallback{}
	cb.OnStart(10)
	cb.OnItem(5, 10, Item{})
	cb.OnError(3, "x.png", errors.New("x"))
	cb.OnComplete()
}

func TestConsoleProgressCallback(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	cb := NewConsoleProgressCallback(&buf, "Test").WithWidth(10).WithUpdateInterval(0)

	cb.OnStart(4)
	assert.Contains(t, buf.String(), "Test: 4 image(s)")

	buf.Reset()
	time.Sleep(2 * time.Millisecond)
	cb.OnItem(1, 4, progressItem("a.png", true))
	cb.OnItem(2, 4, progressItem("b.png", false))
	out := buf.String()
	assert.Contains(t, out, "[=====.....] 2/4 reliable=1")
	assert.Contains(t, out, "eta=")
	assert.Contains(t, out, "receipts/b.png")

	buf.Reset()
	cb.OnError(3, "/in/receipts/c.png", errors.New("bad file"))
	assert.Contains(t, buf.String(), "Test: #3 c.png: bad file")

	buf.Reset()
	cb.OnComplete()
	assert.Contains(t, buf.String(), "Test: done in")
	assert.Contains(t, buf.String(), "1 reliable")
}

func TestConsoleProgressCallback_Throttles(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	cb := NewConsoleProgressCallback(&buf, "").WithUpdateInterval(time.Hour)
	cb.OnStart(3)

	buf.Reset()
	cb.OnItem(1, 3, progressItem("a.png", true))
	assert.NotEmpty(t, buf.String())

	buf.Reset()
	cb.OnItem(2, 3, progressItem("b.png", true))
	assert.Empty(t, buf.String())

	cb.OnItem(3, 3, progressItem("c.png", true))
	assert.Contains(t, buf.String(), "3/3 reliable=3")
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cb := NewLogProgressCallback(logger, slog.LevelInfo, 2)

	cb.OnStart(4)
	cb.OnItem(1, 4, progressItem("a.png", true))
	cb.OnItem(2, 4, progressItem("b.png", false))
	cb.OnItem(4, 4, progressItem("d.png", true))
	cb.OnError(3, "c.png", errors.New("boom"))
	cb.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "Batch started")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("Batch progress")))
	assert.NotContains(t, out, "Image processed")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "reliable=2")
	assert.Contains(t, out, "Batch completed")
}
