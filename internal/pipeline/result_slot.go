package pipeline

import (
	"sync"
	"time"
)

// SlotValue is one published hazard result together with the image served for it
type SlotValue struct {
	Result    *HazardResult
	Image     []byte    // Encoded JPEG served by the stream endpoints
	FrameSeq  uint64    // Sequence of the frame the result was published for
	UpdatedAt time.Time // Time of the last publish or republish
	Version   uint64    // Incremented on every publish or republish
}

// ResultSlot holds the most recent hazard result. Single writer (the inference
// driver), any number of readers. Values are replaced whole, never mutated.
type ResultSlot struct {
	mu    sync.RWMutex
	value *SlotValue
}

// NewResultSlot creates an empty slot
func NewResultSlot() *ResultSlot {
	return &ResultSlot{}
}

// Publish replaces the slot value
func (s *ResultSlot) Publish(result *HazardResult, image []byte, frameSeq uint64) {
	if result == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var version uint64 = 1
	if s.value != nil {
		version = s.value.Version + 1
	}
	s.value = &SlotValue{
		Result:    result,
		Image:     image,
		FrameSeq:  frameSeq,
		UpdatedAt: time.Now(),
		Version:   version,
	}
}

// Republish keeps the current result and image but records that it still
// applies to frameSeq. It is a no-op on an empty slot.
func (s *ResultSlot) Republish(frameSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value == nil {
		return
	}
	next := *s.value
	next.FrameSeq = frameSeq
	next.UpdatedAt = time.Now()
	next.Version++
	s.value = &next
}

// Latest returns the current value, or false if nothing was published yet
func (s *ResultSlot) Latest() (SlotValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.value == nil {
		return SlotValue{}, false
	}
	return *s.value, true
}

// LatestResult returns the current hazard result, or nil
func (s *ResultSlot) LatestResult() *HazardResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.value == nil {
		return nil
	}
	return s.value.Result
}

// LatestImage returns the current image bytes, or nil
func (s *ResultSlot) LatestImage() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.value == nil {
		return nil
	}
	return s.value.Image
}

// Ready reports whether a result has been published
func (s *ResultSlot) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value != nil
}
