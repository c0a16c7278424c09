package pipeline

import (
	"context"
)

// Evaluator is the hazard-evaluation backend (local model or remote service).
// Implementations are expected to be slow and fallible.
type Evaluator interface {
	// Name returns the evaluator identifier (e.g., "http", "grpc")
	Name() string

	// Evaluate classifies proximity risk in a single frame
	Evaluate(ctx context.Context, frame *Frame) (*HazardResult, error)

	// IsHealthy returns true if the evaluator is operational
	IsHealthy(ctx context.Context) bool

	// Close releases evaluator resources
	Close() error
}

// FrameSource captures frames from a camera or file and appends them to a sink
type FrameSource interface {
	// Start begins producing frames asynchronously
	Start(ctx context.Context) error

	// Stop signals the capture loop to exit; best-effort
	Stop()

	// Stats returns capture statistics
	Stats() CaptureStats
}

// FrameSink receives captured frames. Append must never block the caller.
type FrameSink interface {
	Append(frame *Frame)
}

// FrameReader gives access to the newest captured frame
type FrameReader interface {
	Latest() (*Frame, bool)
}

// FrameDecorator rewrites the image published for a result (e.g. a HUD overlay)
type FrameDecorator func(image []byte, result *HazardResult) ([]byte, error)

// CaptureStats contains frame capture statistics
type CaptureStats struct {
	Source            string  `json:"source"`
	FramesCaptured    uint64  `json:"frames_captured"`
	FramesDropped     uint64  `json:"frames_dropped"`
	CurrentFPS        float32 `json:"current_fps"`
	LastFrameTime     int64   `json:"last_frame_time"` // Unix timestamp
	ReconnectAttempts uint64  `json:"reconnect_attempts"`
}

// RiskEventHandler receives risk transition events
type RiskEventHandler interface {
	// OnRiskTransition is called synchronously from the publishing goroutine
	OnRiskTransition(event RiskTransitionEvent)
}

// RiskEventHandlerFunc adapts a function to RiskEventHandler
type RiskEventHandlerFunc func(event RiskTransitionEvent)

// OnRiskTransition implements RiskEventHandler
func (f RiskEventHandlerFunc) OnRiskTransition(event RiskTransitionEvent) {
	f(event)
}

// DriverStats contains inference loop statistics
type DriverStats struct {
	Ticks            uint64  `json:"ticks"`
	GateSkips        uint64  `json:"gate_skips"`
	CacheHits        uint64  `json:"cache_hits"`
	EvaluatorCalls   uint64  `json:"evaluator_calls"`
	EvaluatorErrors  uint64  `json:"evaluator_errors"`
	RejectedFrames   uint64  `json:"rejected_frames"`
	Transitions      uint64  `json:"transitions"`
	AvgInferenceMs   float32 `json:"avg_inference_ms"`
	LastFrameSeq     uint64  `json:"last_frame_seq"`
	LastPublishedAt  int64   `json:"last_published_at"` // Unix timestamp
	CurrentLevel     string  `json:"current_level,omitempty"`
	EvaluatorHealthy bool    `json:"evaluator_healthy"`
}
