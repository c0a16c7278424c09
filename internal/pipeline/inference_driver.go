package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepOutcome describes what a single inference iteration did
type StepOutcome int

const (
	StepIdle      StepOutcome = iota // No new frame to inspect
	StepSkipped                      // Change gate suppressed the frame, previous result republished
	StepCacheHit                     // Result adopted from the cache
	StepEvaluated                    // Evaluator called and result cached
	StepFailed                       // Frame rejected or evaluator failed, previous result kept
)

func (o StepOutcome) String() string {
	switch o {
	case StepIdle:
		return "idle"
	case StepSkipped:
		return "skipped"
	case StepCacheHit:
		return "cache_hit"
	case StepEvaluated:
		return "evaluated"
	case StepFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DriverConfig configures the inference loop
type DriverConfig struct {
	GateThreshold    float64       // Mean absolute difference at or below which a frame is skipped
	GateStride       int           // Pixel sampling stride for the change gate
	PollInterval     time.Duration // Wait between polls when no new frame is available
	EvaluateTimeout  time.Duration // Deadline for one evaluator call
	CanonicalWidth   int           // Fingerprint resize width
	CanonicalQuality int           // Fingerprint JPEG quality
	JPEGQuality      int           // Quality used when a frame must be encoded for publishing
}

// DefaultDriverConfig returns the default inference loop configuration
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		GateThreshold:    2.0,
		GateStride:       1,
		PollInterval:     20 * time.Millisecond,
		EvaluateTimeout:  30 * time.Second,
		CanonicalWidth:   DefaultCanonicalWidth,
		CanonicalQuality: DefaultCanonicalQuality,
		JPEGQuality:      85,
	}
}

// InferenceDriver pulls the newest captured frame, runs it through the change
// gate, the result cache and finally the evaluator, then publishes the result
// and emits risk transitions. Step is not safe for concurrent use; one
// goroutine owns the loop.
type InferenceDriver struct {
	frames        FrameReader
	evaluator     Evaluator
	cache         *ResultCache
	slot          *ResultSlot
	bus           *EventBus
	gate          *ChangeGate
	fingerprinter *Fingerprinter
	decorate      FrameDecorator
	config        DriverConfig

	// Loop-owned state
	inspected     bool
	lastInspected uint64
	lastSubmitted image.Image
	hasLevel      bool
	prevLevel     WarningLevel

	stats   DriverStats
	statsMu sync.RWMutex
}

// NewInferenceDriver creates a driver wired to the given collaborators
func NewInferenceDriver(
	frames FrameReader,
	evaluator Evaluator,
	cache *ResultCache,
	slot *ResultSlot,
	bus *EventBus,
	config DriverConfig,
) *InferenceDriver {
	defaults := DefaultDriverConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.EvaluateTimeout <= 0 {
		config.EvaluateTimeout = defaults.EvaluateTimeout
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = defaults.JPEGQuality
	}
	if cache == nil {
		cache = NewResultCache(DefaultCacheCapacity)
	}
	if slot == nil {
		slot = NewResultSlot()
	}
	if bus == nil {
		bus = NewEventBus()
	}

	gate := NewChangeGate(config.GateThreshold)
	if config.GateStride > 0 {
		gate.Stride = config.GateStride
	}

	return &InferenceDriver{
		frames:        frames,
		evaluator:     evaluator,
		cache:         cache,
		slot:          slot,
		bus:           bus,
		gate:          gate,
		fingerprinter: NewFingerprinter(config.CanonicalWidth, config.CanonicalQuality),
		config:        config,
		stats:         DriverStats{EvaluatorHealthy: true},
	}
}

// SetDecorator installs a decorator applied to every newly published image.
// Must be called before Run.
func (d *InferenceDriver) SetDecorator(decorate FrameDecorator) {
	d.decorate = decorate
}

// Bus returns the event bus risk transitions are published on
func (d *InferenceDriver) Bus() *EventBus {
	return d.bus
}

// Run drives Step until ctx is cancelled
func (d *InferenceDriver) Run(ctx context.Context) error {
	log.Printf("[Pipeline] Inference loop started (evaluator: %s, gate threshold: %.2f)",
		d.evaluator.Name(), d.config.GateThreshold)

	timer := time.NewTimer(d.config.PollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			log.Printf("[Pipeline] Inference loop stopped")
			return nil
		}

		outcome, err := d.Step(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("[Pipeline] Frame %d not evaluated: %v", d.lastInspected, err)
		}

		if outcome != StepIdle {
			if ticks := d.Stats().Ticks; ticks%100 == 0 {
				stats := d.Stats()
				cache := d.cache.Stats()
				log.Printf("[Pipeline] Progress: %d ticks, %d evaluated, %d cache hits, %d skipped, %d errors (cache %d/%d)",
					ticks, stats.EvaluatorCalls, stats.CacheHits, stats.GateSkips, stats.EvaluatorErrors,
					cache.Size, cache.Capacity)
			}
			continue
		}

		timer.Reset(d.config.PollInterval)
		select {
		case <-ctx.Done():
			log.Printf("[Pipeline] Inference loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Step runs one iteration of the inference loop on the newest frame
func (d *InferenceDriver) Step(ctx context.Context) (StepOutcome, error) {
	frame, ok := d.frames.Latest()
	if !ok || (d.inspected && frame.Seq == d.lastInspected) {
		return StepIdle, nil
	}
	d.inspected = true
	d.lastInspected = frame.Seq
	d.updateStats(func(s *DriverStats) {
		s.Ticks++
		s.LastFrameSeq = frame.Seq
	})

	img, err := frame.Image()
	if err != nil {
		d.updateStats(func(s *DriverStats) { s.RejectedFrames++ })
		return StepFailed, err
	}

	if d.lastSubmitted != nil && !d.gate.ShouldSubmit(d.lastSubmitted, img) {
		d.slot.Republish(frame.Seq)
		d.updateStats(func(s *DriverStats) { s.GateSkips++ })
		return StepSkipped, nil
	}

	key, err := d.fingerprinter.Fingerprint(img)
	if err != nil {
		d.updateStats(func(s *DriverStats) { s.RejectedFrames++ })
		return StepFailed, err
	}

	outcome := StepCacheHit
	result, hit := d.cache.Get(key)
	if hit {
		d.updateStats(func(s *DriverStats) { s.CacheHits++ })
	} else {
		result, err = d.evaluate(ctx, frame)
		if err != nil {
			return StepFailed, err
		}
		d.cache.Put(key, result)
		outcome = StepEvaluated
	}

	d.lastSubmitted = img
	d.publish(frame, result)
	return outcome, nil
}

func (d *InferenceDriver) evaluate(ctx context.Context, frame *Frame) (*HazardResult, error) {
	evalCtx, cancel := context.WithTimeout(ctx, d.config.EvaluateTimeout)
	defer cancel()

	start := time.Now()
	result, err := d.evaluator.Evaluate(evalCtx, frame)
	elapsed := float32(time.Since(start).Microseconds()) / 1000

	if err == nil && result == nil {
		err = errors.New("evaluator returned no result")
	}
	if err == nil && !result.WarningLevel.Valid() {
		err = fmt.Errorf("evaluator returned invalid warning level %d", int(result.WarningLevel))
	}
	if err != nil {
		d.updateStats(func(s *DriverStats) {
			s.EvaluatorCalls++
			s.EvaluatorErrors++
			s.EvaluatorHealthy = !errors.Is(err, ErrEvaluatorUnavailable)
		})
		return nil, fmt.Errorf("%s evaluator: %w", d.evaluator.Name(), err)
	}

	d.updateStats(func(s *DriverStats) {
		s.EvaluatorCalls++
		s.EvaluatorHealthy = true
		if s.AvgInferenceMs == 0 {
			s.AvgInferenceMs = elapsed
		} else {
			s.AvgInferenceMs = (s.AvgInferenceMs + elapsed) / 2
		}
	})
	return result, nil
}

func (d *InferenceDriver) publish(frame *Frame, result *HazardResult) {
	img := result.AnnotatedImage
	if len(img) == 0 {
		encoded, err := frame.JPEG(d.config.JPEGQuality)
		if err != nil {
			log.Printf("[Pipeline] Failed to encode frame %d for publishing: %v", frame.Seq, err)
		}
		img = encoded
	}
	if d.decorate != nil && len(img) > 0 {
		if decorated, err := d.decorate(img, result); err != nil {
			log.Printf("[Pipeline] Overlay failed for frame %d: %v", frame.Seq, err)
		} else {
			img = decorated
		}
	}

	d.slot.Publish(result, img, frame.Seq)

	level := result.WarningLevel
	transition := d.hasLevel && level != d.prevLevel
	previous := d.prevLevel
	d.prevLevel = level
	d.hasLevel = true

	d.updateStats(func(s *DriverStats) {
		s.LastPublishedAt = time.Now().Unix()
		s.CurrentLevel = level.String()
		if transition {
			s.Transitions++
		}
	})

	if transition {
		event := RiskTransitionEvent{
			ID:        uuid.New().String(),
			Previous:  previous,
			Current:   level,
			FrameSeq:  frame.Seq,
			Timestamp: time.Now(),
		}
		log.Printf("[Pipeline] Risk changed %s -> %s (frame %d)", previous, level, frame.Seq)
		d.bus.Publish(event)
	}
}

func (d *InferenceDriver) updateStats(fn func(s *DriverStats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}

// Stats returns a copy of the driver statistics
func (d *InferenceDriver) Stats() DriverStats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}

// CacheStats returns the result cache statistics
func (d *InferenceDriver) CacheStats() CacheStats {
	return d.cache.Stats()
}
