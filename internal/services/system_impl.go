package services

import (
	"context"
	"time"

	"poolguard/internal/pipeline"
)

// ClientCounter reports connected streaming clients
type ClientCounter interface {
	Clients() int
}

// SystemStatus is the overall pipeline status
type SystemStatus struct {
	Uptime           string                `json:"uptime"`
	StartedAt        time.Time             `json:"started_at"`
	Capture          pipeline.CaptureStats `json:"capture"`
	BufferLength     int                   `json:"buffer_length"`
	BufferCapacity   int                   `json:"buffer_capacity"`
	Inference        pipeline.DriverStats  `json:"inference"`
	Cache            pipeline.CacheStats   `json:"cache"`
	Evaluator        string                `json:"evaluator"`
	EvaluatorHealthy bool                  `json:"evaluator_healthy"`
	StreamClients    int                   `json:"stream_clients"`
	EventClients     int                   `json:"event_clients"`
	EventsDropped    uint64                `json:"events_dropped"`
}

// SystemImplementation implements the system service
type SystemImplementation struct {
	source    pipeline.FrameSource
	buffer    *pipeline.CaptureBuffer
	driver    *pipeline.InferenceDriver
	evaluator pipeline.Evaluator
	stream    ClientCounter
	events    func() int
	startTime time.Time
}

// NewSystemService creates a new system service implementation
func NewSystemService(source pipeline.FrameSource, buffer *pipeline.CaptureBuffer, driver *pipeline.InferenceDriver, evaluator pipeline.Evaluator) *SystemImplementation {
	return &SystemImplementation{
		source:    source,
		buffer:    buffer,
		driver:    driver,
		evaluator: evaluator,
		startTime: time.Now(),
	}
}

// SetClientCounters wires the stream and event channel client counts
func (s *SystemImplementation) SetClientCounters(stream ClientCounter, events func() int) {
	s.stream = stream
	s.events = events
}

// Status returns the overall system status
func (s *SystemImplementation) Status(ctx context.Context) *SystemStatus {
	status := &SystemStatus{
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		StartedAt:      s.startTime,
		Capture:        s.source.Stats(),
		BufferLength:   s.buffer.Len(),
		BufferCapacity: s.buffer.Cap(),
		Inference:      s.driver.Stats(),
		Cache:          s.driver.CacheStats(),
		Evaluator:      s.evaluator.Name(),
		EventsDropped:  s.driver.Bus().Dropped(),
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status.EvaluatorHealthy = s.evaluator.IsHealthy(ctx)

	if s.stream != nil {
		status.StreamClients = s.stream.Clients()
	}
	if s.events != nil {
		status.EventClients = s.events()
	}
	return status
}
