package pipeline

import (
	"fmt"
	"sync"
)

// DefaultBufferCapacity is the number of recent frames kept by the capture buffer
const DefaultBufferCapacity = 10

// CaptureBuffer holds the most recent K frames, oldest evicted first.
// Append is O(1) and never blocks on readers for longer than a slot copy;
// readers get copies of the frame references, never a view of the ring.
type CaptureBuffer struct {
	mu       sync.RWMutex
	frames   []*Frame
	capacity int
	head     int // next write position
	size     int
	appended uint64
}

// NewCaptureBuffer creates a buffer holding at most capacity frames
func NewCaptureBuffer(capacity int) *CaptureBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &CaptureBuffer{
		frames:   make([]*Frame, capacity),
		capacity: capacity,
	}
}

// Append adds a frame, replacing the oldest if at capacity
func (b *CaptureBuffer) Append(frame *Frame) {
	if frame == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames[b.head] = frame
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	b.appended++

	if b.size > b.capacity {
		panic(fmt.Sprintf("capture buffer holds %d frames, capacity %d", b.size, b.capacity))
	}
}

// Snapshot returns the held frames in append order (oldest first)
func (b *CaptureBuffer) Snapshot() []*Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return nil
	}

	result := make([]*Frame, b.size)
	if b.size < b.capacity {
		copy(result, b.frames[:b.size])
	} else {
		// Full: oldest frame sits at head
		n := copy(result, b.frames[b.head:])
		copy(result[n:], b.frames[:b.head])
	}
	return result
}

// Latest returns the most recently appended frame
func (b *CaptureBuffer) Latest() (*Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return nil, false
	}
	idx := (b.head - 1 + b.capacity) % b.capacity
	return b.frames[idx], true
}

// Len returns the number of frames currently held
func (b *CaptureBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer capacity
func (b *CaptureBuffer) Cap() int {
	return b.capacity
}

// Appended returns the total number of frames ever appended
func (b *CaptureBuffer) Appended() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.appended
}

var _ FrameSink = (*CaptureBuffer)(nil)
