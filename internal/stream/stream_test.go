package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolguard/internal/pipeline"
)

func testJPEG(t *testing.T, v uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestPacer_HoldsRateUnderVariableWork(t *testing.T) {
	const ticks = 40
	pacer := NewPacer(50) // 20ms period
	require.Equal(t, 20*time.Millisecond, pacer.Period())

	work := []time.Duration{0, 2 * time.Millisecond, 9 * time.Millisecond, 15 * time.Millisecond, 5 * time.Millisecond}
	var stamps []time.Time

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := pacer.Run(ctx, func() error {
		stamps = append(stamps, time.Now())
		if len(stamps) == ticks {
			cancel()
			return nil
		}
		time.Sleep(work[len(stamps)%len(work)])
		return nil
	})
	require.NoError(t, err)
	require.Len(t, stamps, ticks)

	mean := stamps[ticks-1].Sub(stamps[0]) / (ticks - 1)
	assert.InDelta(t, float64(pacer.Period()), float64(mean), float64(3*time.Millisecond),
		"mean interval %v", mean)
	assert.Equal(t, uint64(0), pacer.Resyncs())
}

func TestPacer_ResyncsWhenFarBehind(t *testing.T) {
	pacer := NewPacer(100) // 10ms period
	var stamps []time.Time

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pacer.Run(ctx, func() error {
		stamps = append(stamps, time.Now())
		switch len(stamps) {
		case 1:
			time.Sleep(50 * time.Millisecond)
		case 4:
			cancel()
		}
		return nil
	})

	require.Len(t, stamps, 4)
	// Missed deadlines are dropped rather than replayed as a burst
	assert.GreaterOrEqual(t, stamps[3].Sub(stamps[1]), 15*time.Millisecond)
	assert.Equal(t, uint64(1), pacer.Resyncs())
}

func TestPacer_StopsOnTickError(t *testing.T) {
	pacer := NewPacer(1000)
	boom := errors.New("client gone")
	calls := 0

	err := pacer.Run(context.Background(), func() error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(2), pacer.Ticks())
}

func TestSnapshotHandler(t *testing.T) {
	slot := pipeline.NewResultSlot()
	h := NewSnapshotHandler(slot)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	frame := testJPEG(t, 100)
	slot.Publish(&pipeline.HazardResult{}, frame, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, frame, rec.Body.Bytes())
}

func TestMJPEGHandler_StreamsLatestFrame(t *testing.T) {
	slot := pipeline.NewResultSlot()
	h := NewMJPEGHandler(slot, 50)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	assert.Equal(t, "frame", params["boundary"])

	// Nothing is emitted until a result is published
	first := testJPEG(t, 30)
	time.Sleep(50 * time.Millisecond)
	slot.Publish(&pipeline.HazardResult{}, first, 1)

	reader := multipart.NewReader(resp.Body, "frame")
	part, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	data, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, first, data)
	assert.Equal(t, 1, h.Clients())

	second := testJPEG(t, 220)
	slot.Publish(&pipeline.HazardResult{}, second, 2)
	require.Eventually(t, func() bool {
		part, err := reader.NextPart()
		if err != nil {
			return false
		}
		data, _ := io.ReadAll(part)
		return bytes.Equal(second, data)
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHUD_DrawsBanner(t *testing.T) {
	frame := testJPEG(t, 128)
	decorate := HUD(85)

	out, err := decorate(frame, &pipeline.HazardResult{
		Children:     []pipeline.Child{{Distance: 0.3}, {Distance: math.Inf(1)}},
		WarningLevel: pipeline.WarningHigh,
	})
	require.NoError(t, err)
	assert.NotEqual(t, frame, out)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 160, 120), img.Bounds())

	// Border pixels carry the high-risk color
	r, g, _, _ := img.At(1, 60).RGBA()
	assert.Greater(t, r>>8, uint32(150))
	assert.Less(t, g>>8, uint32(80))

	_, err = decorate([]byte("nope"), &pipeline.HazardResult{})
	assert.Error(t, err)
}

func TestHUDText(t *testing.T) {
	assert.Equal(t, "RISK low  children: 0", hudText(&pipeline.HazardResult{}))
	assert.Equal(t, "RISK high  children: 1  nearest: 0.25m  IN POOL",
		hudText(&pipeline.HazardResult{
			Children:     []pipeline.Child{{InPool: true, Distance: 0.25}},
			WarningLevel: pipeline.WarningHigh,
		}))
}

func TestDrawBox_ClipsToBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	drawBox(img, -5, -5, 30, 30, color.RGBA{255, 0, 0, 255}, 2)
	drawLabel(img, 8, 8, "clipped", color.RGBA{255, 255, 255, 255})
}

// annotatingEvaluator returns the given annotated images in call order
type annotatingEvaluator struct {
	images [][]byte
	calls  int
}

func (e *annotatingEvaluator) Name() string { return "annotating" }

func (e *annotatingEvaluator) Evaluate(ctx context.Context, frame *pipeline.Frame) (*pipeline.HazardResult, error) {
	img := e.images[e.calls%len(e.images)]
	e.calls++
	return &pipeline.HazardResult{AnnotatedImage: img}, nil
}

func (e *annotatingEvaluator) IsHealthy(ctx context.Context) bool { return true }

func (e *annotatingEvaluator) Close() error { return nil }

func TestMJPEGHandler_ServesCachedResultForRepeatedFrame(t *testing.T) {
	annotated1 := testJPEG(t, 60)
	annotated2 := testJPEG(t, 200)
	evaluator := &annotatingEvaluator{images: [][]byte{annotated1, annotated2}}

	buffer := pipeline.NewCaptureBuffer(pipeline.DefaultBufferCapacity)
	slot := pipeline.NewResultSlot()
	driver := pipeline.NewInferenceDriver(buffer, evaluator, pipeline.NewResultCache(pipeline.DefaultCacheCapacity),
		slot, pipeline.NewEventBus(), pipeline.DefaultDriverConfig())

	// Frames 1 and 3 are bit-identical, frame 2 differs sharply
	frame1 := testJPEG(t, 20)
	frame2 := testJPEG(t, 220)
	frames := []*pipeline.Frame{
		pipeline.NewEncodedFrame(1, frame1),
		pipeline.NewEncodedFrame(2, frame2),
		pipeline.NewEncodedFrame(3, append([]byte(nil), frame1...)),
	}
	want := []pipeline.StepOutcome{pipeline.StepEvaluated, pipeline.StepEvaluated, pipeline.StepCacheHit}
	for i, frame := range frames {
		buffer.Append(frame)
		outcome, err := driver.Step(context.Background())
		require.NoError(t, err)
		require.Equal(t, want[i], outcome, "frame %d", frame.Seq)
	}
	assert.Equal(t, 2, evaluator.calls)

	srv := httptest.NewServer(NewMJPEGHandler(slot, 50))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	part, err := multipart.NewReader(resp.Body, "frame").NextPart()
	require.NoError(t, err)
	data, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, annotated1, data)
}
