package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"poolguard/internal/pipeline"
)

// ErrStopped is returned by Start on a source that was already stopped
var ErrStopped = errors.New("source stopped")

// ReconnectPolicy controls the backoff between reconnection attempts
type ReconnectPolicy struct {
	InitialDelay time.Duration // Delay before the first retry (default: 1 second)
	MaxDelay     time.Duration // Backoff cap (default: 30 seconds)
}

// DefaultReconnectPolicy returns the default reconnection policy
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// InitialDelay * 2^(attempt-1), capped at MaxDelay
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := p.InitialDelay * time.Duration(1<<uint(attempt-1))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay <= 0) {
		delay = p.MaxDelay
	}
	return delay
}

// capture is the bookkeeping shared by all sources: sequence numbering,
// statistics and the start/stop lifecycle
type capture struct {
	name string
	sink pipeline.FrameSink

	seq     atomic.Uint64
	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	stats      pipeline.CaptureStats
	statsMu    sync.RWMutex
	fpsWindow  time.Time
	fpsCounter int
}

func (c *capture) init(name string, sink pipeline.FrameSink) {
	c.name = name
	c.sink = sink
	c.stats = pipeline.CaptureStats{Source: name}
}

// start launches loop in a goroutine bound to a child of ctx
func (c *capture) start(ctx context.Context, loop func(ctx context.Context)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.cancel != nil {
		return fmt.Errorf("%s source already started", c.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		c.running.Store(true)
		defer close(c.done)
		defer c.running.Store(false)
		loop(runCtx)
	}()

	log.Printf("[Source] Started %s capture", c.name)
	return nil
}

// Stop signals the capture loop to exit and waits briefly for it
func (c *capture) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.stopped = true
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Printf("[Source] %s capture did not stop within 2s", c.name)
	}
	log.Printf("[Source] Stopped %s capture", c.name)
}

// Running reports whether the capture loop is active
func (c *capture) Running() bool {
	return c.running.Load()
}

// Stats returns capture statistics
func (c *capture) Stats() pipeline.CaptureStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// emitEncoded appends a JPEG frame to the sink
func (c *capture) emitEncoded(data []byte) {
	c.emit(pipeline.NewEncodedFrame(c.seq.Add(1), data))
}

func (c *capture) emit(frame *pipeline.Frame) {
	now := frame.Timestamp

	c.statsMu.Lock()
	c.stats.FramesCaptured++
	c.stats.LastFrameTime = now.Unix()
	if c.fpsWindow.IsZero() {
		c.fpsWindow = now
	}
	c.fpsCounter++
	if elapsed := now.Sub(c.fpsWindow); elapsed >= time.Second {
		c.stats.CurrentFPS = float32(float64(c.fpsCounter) / elapsed.Seconds())
		c.fpsWindow = now
		c.fpsCounter = 0
	}
	captured := c.stats.FramesCaptured
	c.statsMu.Unlock()

	c.sink.Append(frame)

	if captured%100 == 0 {
		log.Printf("[Source] %s: frame %d", c.name, frame.Seq)
	}
}

func (c *capture) dropped() {
	c.statsMu.Lock()
	c.stats.FramesDropped++
	c.statsMu.Unlock()
}

// connectFunc runs one capture session. It returns when the session ends;
// produced reports whether any frame was delivered during it.
type connectFunc func(ctx context.Context) (produced bool, err error)

// runWithReconnect repeats connect until ctx is cancelled, backing off between
// sessions. The backoff resets after any session that produced frames.
func (c *capture) runWithReconnect(ctx context.Context, policy ReconnectPolicy, connect connectFunc) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		produced, err := connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if produced {
			attempt = 0
		}
		attempt++

		c.statsMu.Lock()
		c.stats.ReconnectAttempts++
		c.statsMu.Unlock()

		delay := policy.Backoff(attempt)
		if err != nil {
			log.Printf("[Source] %s capture failed: %v (retry in %v)", c.name, err, delay)
		} else {
			log.Printf("[Source] %s stream ended (retry in %v)", c.name, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
