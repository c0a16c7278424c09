package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = 255
	}
	return img
}

func grayRGBA(v uint8) color.RGBA {
	return color.RGBA{R: v, G: v, B: v, A: 255}
}

func grayFrame(seq uint64, v uint8) *Frame {
	return NewFrame(seq, solidImage(64, 48, grayRGBA(v)))
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// scriptedEvaluator returns results[i] or errs[i] for the i-th call
type scriptedEvaluator struct {
	mu      sync.Mutex
	calls   int
	seqs    []uint64
	results []*HazardResult
	errs    []error
	block   bool
}

func (e *scriptedEvaluator) Name() string { return "scripted" }

func (e *scriptedEvaluator) Evaluate(ctx context.Context, frame *Frame) (*HazardResult, error) {
	e.mu.Lock()
	i := e.calls
	e.calls++
	e.seqs = append(e.seqs, frame.Seq)
	block := e.block
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i < len(e.errs) && e.errs[i] != nil {
		return nil, e.errs[i]
	}
	if len(e.results) == 0 {
		return &HazardResult{WarningLevel: WarningLow}, nil
	}
	return e.results[i%len(e.results)], nil
}

func (e *scriptedEvaluator) IsHealthy(ctx context.Context) bool { return true }

func (e *scriptedEvaluator) Close() error { return nil }

func (e *scriptedEvaluator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func levelResult(level WarningLevel, tag string) *HazardResult {
	return &HazardResult{
		AnnotatedImage: []byte(fmt.Sprintf("annotated-%s", tag)),
		WarningLevel:   level,
	}
}
