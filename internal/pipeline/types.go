package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnsupportedFrame is returned for frames that cannot be decoded or have no pixels
	ErrUnsupportedFrame = errors.New("unsupported frame")
	// ErrEvaluatorUnavailable is returned when the hazard evaluator cannot be reached
	ErrEvaluatorUnavailable = errors.New("hazard evaluator unavailable")
)

// Frame is a single captured video frame.
// A frame is never mutated after creation. Sources that deliver encoded JPEG
// bytes create frames lazily decoded on first access to Image.
type Frame struct {
	Seq       uint64    // Capture-order sequence number
	Timestamp time.Time // Capture timestamp
	Data      []byte    // Encoded JPEG as delivered by the source (may be nil)

	once   sync.Once
	img    image.Image
	imgErr error
}

// NewFrame creates a frame from decoded pixels
func NewFrame(seq uint64, img image.Image) *Frame {
	f := &Frame{Seq: seq, Timestamp: time.Now(), img: img}
	f.once.Do(func() {
		if img == nil || img.Bounds().Empty() {
			f.imgErr = fmt.Errorf("%w: empty image", ErrUnsupportedFrame)
		}
	})
	return f
}

// NewEncodedFrame creates a frame from JPEG bytes, decoded on demand
func NewEncodedFrame(seq uint64, data []byte) *Frame {
	return &Frame{Seq: seq, Timestamp: time.Now(), Data: data}
}

// Image returns the decoded pixel buffer
func (f *Frame) Image() (image.Image, error) {
	f.once.Do(func() {
		if len(f.Data) == 0 {
			f.imgErr = fmt.Errorf("%w: no data", ErrUnsupportedFrame)
			return
		}
		img, _, err := image.Decode(bytes.NewReader(f.Data))
		if err != nil {
			f.imgErr = fmt.Errorf("%w: %v", ErrUnsupportedFrame, err)
			return
		}
		if img.Bounds().Empty() {
			f.imgErr = fmt.Errorf("%w: empty image", ErrUnsupportedFrame)
			return
		}
		f.img = img
	})
	return f.img, f.imgErr
}

// JPEG returns the frame encoded as JPEG, reusing the source bytes when present
func (f *Frame) JPEG(quality int) ([]byte, error) {
	if len(f.Data) > 0 {
		return f.Data, nil
	}
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", f.Seq, err)
	}
	return buf.Bytes(), nil
}

// WarningLevel is the ordinal risk classification of a frame
type WarningLevel int

const (
	WarningLow WarningLevel = iota
	WarningMedium
	WarningHigh
)

// String returns the lowercase level name used on the wire ("low", "medium", "high")
func (l WarningLevel) String() string {
	switch l {
	case WarningLow:
		return "low"
	case WarningMedium:
		return "medium"
	case WarningHigh:
		return "high"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Valid reports whether l is one of the known levels
func (l WarningLevel) Valid() bool {
	return l >= WarningLow && l <= WarningHigh
}

// ParseWarningLevel parses a level name
func ParseWarningLevel(s string) (WarningLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return WarningLow, nil
	case "medium":
		return WarningMedium, nil
	case "high":
		return WarningHigh, nil
	}
	return WarningLow, fmt.Errorf("unknown warning level %q", s)
}

// Child is one detected subject and its distance to the nearest pool edge
type Child struct {
	InPool   bool    `json:"isInPool"`
	Distance float64 `json:"distance"` // +Inf when no pairing was found
}

// MarshalJSON encodes an infinite distance as null, which JSON cannot represent
func (c Child) MarshalJSON() ([]byte, error) {
	var dist *float64
	if !math.IsInf(c.Distance, 0) && !math.IsNaN(c.Distance) {
		d := c.Distance
		dist = &d
	}
	return json.Marshal(struct {
		InPool   bool     `json:"isInPool"`
		Distance *float64 `json:"distance"`
	}{c.InPool, dist})
}

// UnmarshalJSON treats a null or missing distance as +Inf
func (c *Child) UnmarshalJSON(data []byte) error {
	var raw struct {
		InPool   bool     `json:"isInPool"`
		Distance *float64 `json:"distance"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.InPool = raw.InPool
	c.Distance = math.Inf(1)
	if raw.Distance != nil {
		c.Distance = *raw.Distance
	}
	return nil
}

// HazardResult is the evaluator output for one frame. Immutable once produced.
type HazardResult struct {
	AnnotatedImage []byte       `json:"-"`
	Children       []Child      `json:"children"`
	WarningLevel   WarningLevel `json:"warningLevel"`
}

// MinDistance returns the smallest child distance, or +Inf if there are no children
func (r *HazardResult) MinDistance() float64 {
	min := math.Inf(1)
	for _, c := range r.Children {
		if !math.IsNaN(c.Distance) && c.Distance < min {
			min = c.Distance
		}
	}
	return min
}

// RiskTransitionEvent is emitted when the published warning level changes
type RiskTransitionEvent struct {
	ID        string       `json:"id"`
	Previous  WarningLevel `json:"previous"`
	Current   WarningLevel `json:"current"`
	FrameSeq  uint64       `json:"frame_seq"`
	Timestamp time.Time    `json:"timestamp"`
}

// Thresholds map a minimum child distance onto a warning level.
// Used only when the evaluator does not report a level itself.
type Thresholds struct {
	High   float64 `yaml:"high" json:"high"`     // distance <= High is high risk
	Medium float64 `yaml:"medium" json:"medium"` // distance < Medium is medium risk
}

// DefaultThresholds returns the thresholds used by the reference evaluator
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.5, Medium: 3.0}
}

// Classify derives a warning level from the children of a result
func (t Thresholds) Classify(children []Child) WarningLevel {
	level := WarningLow
	for _, c := range children {
		if c.InPool {
			return WarningHigh
		}
		d := c.Distance
		if math.IsNaN(d) || math.IsInf(d, 1) {
			continue
		}
		switch {
		case d <= t.High:
			return WarningHigh
		case d < t.Medium:
			level = WarningMedium
		}
	}
	return level
}
