package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type driverFixture struct {
	buffer    *CaptureBuffer
	evaluator *scriptedEvaluator
	cache     *ResultCache
	slot      *ResultSlot
	bus       *EventBus
	events    <-chan RiskTransitionEvent
	driver    *InferenceDriver
}

func newDriverFixture(t *testing.T, evaluator *scriptedEvaluator, config DriverConfig) *driverFixture {
	t.Helper()
	f := &driverFixture{
		buffer:    NewCaptureBuffer(DefaultBufferCapacity),
		evaluator: evaluator,
		cache:     NewResultCache(DefaultCacheCapacity),
		slot:      NewResultSlot(),
		bus:       NewEventBus(),
	}
	events, unsubscribe := f.bus.SubscribeChannel(16)
	t.Cleanup(unsubscribe)
	f.events = events
	f.driver = NewInferenceDriver(f.buffer, evaluator, f.cache, f.slot, f.bus, config)
	return f
}

func (f *driverFixture) feed(t *testing.T, frame *Frame) (StepOutcome, error) {
	t.Helper()
	f.buffer.Append(frame)
	return f.driver.Step(context.Background())
}

func (f *driverFixture) drainEvents() []RiskTransitionEvent {
	var out []RiskTransitionEvent
	for {
		select {
		case e := <-f.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestInferenceDriver_IdleWithoutFrames(t *testing.T) {
	f := newDriverFixture(t, &scriptedEvaluator{}, DefaultDriverConfig())

	outcome, err := f.driver.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepIdle, outcome)
	assert.False(t, f.slot.Ready())
}

func TestInferenceDriver_SameFrameInspectedOnce(t *testing.T) {
	f := newDriverFixture(t, &scriptedEvaluator{}, DefaultDriverConfig())

	outcome, err := f.feed(t, grayFrame(1, 10))
	require.NoError(t, err)
	assert.Equal(t, StepEvaluated, outcome)

	outcome, err = f.driver.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepIdle, outcome)
	assert.Equal(t, 1, f.evaluator.Calls())
}

func TestInferenceDriver_LoopReusesCachedResult(t *testing.T) {
	first := levelResult(WarningMedium, "frame1")
	second := levelResult(WarningLow, "frame2")
	f := newDriverFixture(t, &scriptedEvaluator{results: []*HazardResult{first, second}}, DefaultDriverConfig())

	// Frames 1 and 3 are bit-identical, frame 2 differs sharply
	frame1 := encodeJPEG(t, solidImage(64, 48, grayRGBA(20)))
	frame2 := encodeJPEG(t, solidImage(64, 48, grayRGBA(220)))

	outcome, err := f.feed(t, NewEncodedFrame(1, frame1))
	require.NoError(t, err)
	assert.Equal(t, StepEvaluated, outcome)

	outcome, err = f.feed(t, NewEncodedFrame(2, frame2))
	require.NoError(t, err)
	assert.Equal(t, StepEvaluated, outcome)

	outcome, err = f.feed(t, NewEncodedFrame(3, append([]byte(nil), frame1...)))
	require.NoError(t, err)
	assert.Equal(t, StepCacheHit, outcome)

	assert.Equal(t, 2, f.evaluator.Calls())
	assert.Equal(t, []uint64{1, 2}, f.evaluator.seqs)

	latest, ok := f.slot.Latest()
	require.True(t, ok)
	assert.Same(t, first, latest.Result)
	assert.Equal(t, first.AnnotatedImage, latest.Image)
	assert.Equal(t, uint64(3), latest.FrameSeq)

	stats := f.driver.Stats()
	assert.Equal(t, uint64(3), stats.Ticks)
	assert.Equal(t, uint64(2), stats.EvaluatorCalls)
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, 2, f.cache.Len())
}

func TestInferenceDriver_GateSkipRepublishes(t *testing.T) {
	result := levelResult(WarningLow, "static")
	f := newDriverFixture(t, &scriptedEvaluator{results: []*HazardResult{result}}, DefaultDriverConfig())

	_, err := f.feed(t, grayFrame(1, 100))
	require.NoError(t, err)
	before, _ := f.slot.Latest()

	outcome, err := f.feed(t, grayFrame(2, 101))
	require.NoError(t, err)
	assert.Equal(t, StepSkipped, outcome)

	after, ok := f.slot.Latest()
	require.True(t, ok)
	assert.Same(t, result, after.Result)
	assert.Equal(t, before.Image, after.Image)
	assert.Equal(t, uint64(2), after.FrameSeq)
	assert.Greater(t, after.Version, before.Version)

	assert.Equal(t, 1, f.evaluator.Calls())
	assert.Equal(t, uint64(1), f.driver.Stats().GateSkips)
	assert.Equal(t, CacheStats{Size: 1, Capacity: DefaultCacheCapacity, Misses: 1}, f.cache.Stats())
}

func TestInferenceDriver_EvaluatorErrorKeepsPreviousResult(t *testing.T) {
	first := levelResult(WarningLow, "ok")
	evaluator := &scriptedEvaluator{
		results: []*HazardResult{first, levelResult(WarningHigh, "unused"), levelResult(WarningHigh, "later")},
		errs:    []error{nil, ErrEvaluatorUnavailable},
	}
	f := newDriverFixture(t, evaluator, DefaultDriverConfig())

	_, err := f.feed(t, grayFrame(1, 10))
	require.NoError(t, err)

	outcome, err := f.feed(t, grayFrame(2, 200))
	assert.Equal(t, StepFailed, outcome)
	assert.ErrorIs(t, err, ErrEvaluatorUnavailable)

	assert.Same(t, first, f.slot.LatestResult())
	assert.Empty(t, f.drainEvents())

	stats := f.driver.Stats()
	assert.Equal(t, uint64(1), stats.EvaluatorErrors)
	assert.False(t, stats.EvaluatorHealthy)
	assert.Equal(t, "low", stats.CurrentLevel)

	// The failed frame is not cached and the next frame is retried normally
	outcome, err = f.feed(t, grayFrame(3, 200))
	require.NoError(t, err)
	assert.Equal(t, StepEvaluated, outcome)
	assert.Equal(t, WarningHigh, f.slot.LatestResult().WarningLevel)
	assert.True(t, f.driver.Stats().EvaluatorHealthy)

	events := f.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, WarningLow, events[0].Previous)
	assert.Equal(t, WarningHigh, events[0].Current)
}

func TestInferenceDriver_RiskTransitions(t *testing.T) {
	levels := []WarningLevel{WarningLow, WarningMedium, WarningMedium, WarningHigh, WarningLow}
	results := make([]*HazardResult, len(levels))
	for i, level := range levels {
		results[i] = levelResult(level, level.String())
	}
	f := newDriverFixture(t, &scriptedEvaluator{results: results}, DefaultDriverConfig())

	for i := range levels {
		outcome, err := f.feed(t, grayFrame(uint64(i+1), uint8(i*50)))
		require.NoError(t, err)
		require.Equal(t, StepEvaluated, outcome)
	}

	events := f.drainEvents()
	require.Len(t, events, 3)
	want := [][2]WarningLevel{
		{WarningLow, WarningMedium},
		{WarningMedium, WarningHigh},
		{WarningHigh, WarningLow},
	}
	for i, e := range events {
		assert.Equal(t, want[i][0], e.Previous, "event %d previous", i)
		assert.Equal(t, want[i][1], e.Current, "event %d current", i)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Equal(t, uint64(4), events[1].FrameSeq)
	assert.Equal(t, uint64(3), f.driver.Stats().Transitions)
}

func TestInferenceDriver_FirstResultEmitsNoEvent(t *testing.T) {
	f := newDriverFixture(t, &scriptedEvaluator{results: []*HazardResult{levelResult(WarningHigh, "h")}}, DefaultDriverConfig())

	_, err := f.feed(t, grayFrame(1, 10))
	require.NoError(t, err)
	assert.Empty(t, f.drainEvents())
}

func TestInferenceDriver_MalformedFrameRejected(t *testing.T) {
	f := newDriverFixture(t, &scriptedEvaluator{}, DefaultDriverConfig())

	outcome, err := f.feed(t, NewEncodedFrame(1, []byte("garbage")))
	assert.Equal(t, StepFailed, outcome)
	assert.ErrorIs(t, err, ErrUnsupportedFrame)
	assert.Equal(t, 0, f.evaluator.Calls())
	assert.Equal(t, uint64(1), f.driver.Stats().RejectedFrames)
	assert.False(t, f.slot.Ready())
}

func TestInferenceDriver_InvalidLevelIsFailure(t *testing.T) {
	f := newDriverFixture(t, &scriptedEvaluator{results: []*HazardResult{{WarningLevel: WarningLevel(9)}}}, DefaultDriverConfig())

	outcome, err := f.feed(t, grayFrame(1, 10))
	assert.Equal(t, StepFailed, outcome)
	assert.Error(t, err)
	assert.Equal(t, 0, f.cache.Len())
	assert.False(t, f.slot.Ready())
}

func TestInferenceDriver_TimeoutIsFailure(t *testing.T) {
	config := DefaultDriverConfig()
	config.EvaluateTimeout = 30 * time.Millisecond
	f := newDriverFixture(t, &scriptedEvaluator{block: true}, config)

	outcome, err := f.feed(t, grayFrame(1, 10))
	assert.Equal(t, StepFailed, outcome)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, f.cache.Len())
	assert.False(t, f.slot.Ready())
}

func TestInferenceDriver_PublishesFrameWhenNoAnnotatedImage(t *testing.T) {
	f := newDriverFixture(t, &scriptedEvaluator{results: []*HazardResult{{WarningLevel: WarningLow}}}, DefaultDriverConfig())

	_, err := f.feed(t, grayFrame(1, 60))
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(f.slot.LatestImage()))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestInferenceDriver_Decorator(t *testing.T) {
	f := newDriverFixture(t, &scriptedEvaluator{results: []*HazardResult{levelResult(WarningMedium, "x")}}, DefaultDriverConfig())
	f.driver.SetDecorator(func(image []byte, result *HazardResult) ([]byte, error) {
		return append([]byte("hud:"), image...), nil
	})

	_, err := f.feed(t, grayFrame(1, 60))
	require.NoError(t, err)
	assert.Equal(t, []byte("hud:annotated-x"), f.slot.LatestImage())
}

func TestInferenceDriver_Run(t *testing.T) {
	config := DefaultDriverConfig()
	config.PollInterval = 5 * time.Millisecond
	f := newDriverFixture(t, &scriptedEvaluator{results: []*HazardResult{levelResult(WarningLow, "a"), levelResult(WarningHigh, "b")}}, config)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.driver.Run(ctx) }()

	f.buffer.Append(grayFrame(1, 10))
	require.Eventually(t, func() bool { return f.slot.Ready() }, time.Second, 5*time.Millisecond)

	f.buffer.Append(grayFrame(2, 240))
	require.Eventually(t, func() bool {
		r := f.slot.LatestResult()
		return r != nil && r.WarningLevel == WarningHigh
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("inference loop did not stop")
	}

	assert.Equal(t, 2, f.evaluator.Calls())
}
