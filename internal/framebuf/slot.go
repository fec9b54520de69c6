// Package framebuf holds the most recent captured frame for a live loop.
//
// A Slot has one writer (the capture source) and one reader (the OCR loop).
// Writes replace the previous frame; frames that were never read are
// dropped. Every accepted frame gets the next id, and the last OCR result is
// kept next to the frame it was computed for.
package framebuf

import (
	"image"
	"sync"

	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/disintegration/imaging"
)

// Frame is a captured image and its id.
type Frame struct {
	ID    uint64
	Image image.Image
}

// Recognition pairs a pipeline result with the frame it belongs to.
type Recognition struct {
	FrameID uint64          `json:"frame_id"`
	Result  pipeline.Result `json:"result"`
}

// Slot is a mutex-guarded latest-frame buffer.
type Slot struct {
	mu      sync.Mutex
	frame   *Frame
	nextID  uint64
	latest  *Recognition
	dropped uint64
}

// New returns an empty slot.
func New() *Slot { return &Slot{} }

// Put stores a copy of img and returns its frame id.
func (s *Slot) Put(img image.Image) uint64 {
	if img == nil {
		return 0
	}
	clone := imaging.Clone(img)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.frame != nil {
		s.dropped++
	}
	s.frame = &Frame{ID: s.nextID, Image: clone}
	return s.nextID
}

// Latest returns the newest frame without removing it.
func (s *Slot) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return Frame{}, false
	}
	return *s.frame, true
}

// Take returns the newest frame and empties the slot, so the same frame is
// not processed twice.
func (s *Slot) Take() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return Frame{}, false
	}
	f := *s.frame
	s.frame = nil
	return f, true
}

// SetResult records the result for frameID. Results for frames older than
// the one already stored are ignored.
func (s *Slot) SetResult(frameID uint64, result pipeline.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil && frameID < s.latest.FrameID {
		return
	}
	s.latest = &Recognition{FrameID: frameID, Result: result}
}

// LatestResult returns the most recent recognition.
func (s *Slot) LatestResult() (Recognition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Recognition{}, false
	}
	return *s.latest, true
}

// Dropped reports how many frames were overwritten before being taken.
func (s *Slot) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
