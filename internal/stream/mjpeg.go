package stream

import (
	"fmt"
	"log"
	"net/http"
	"sync/atomic"

	"poolguard/internal/pipeline"
)

// MJPEGHandler serves the latest published frame as a multipart MJPEG stream.
// Every client gets its own pacer; a client never waits on inference.
type MJPEGHandler struct {
	slot    *pipeline.ResultSlot
	rate    float64
	clients atomic.Int32
}

// NewMJPEGHandler creates a stream handler emitting rate frames per second
func NewMJPEGHandler(slot *pipeline.ResultSlot, rate float64) *MJPEGHandler {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &MJPEGHandler{slot: slot, rate: rate}
}

// Clients returns the number of connected stream clients
func (h *MJPEGHandler) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP serves the MJPEG stream to a client
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	n := h.clients.Add(1)
	defer h.clients.Add(-1)
	log.Printf("[Stream] Client connected from %s (%d active)", r.RemoteAddr, n)

	pacer := NewPacer(h.rate)
	err := pacer.Run(r.Context(), func() error {
		frame := h.slot.LatestImage()
		if len(frame) == 0 {
			return nil
		}
		if err := WritePart(w, frame); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	if err != nil {
		log.Printf("[Stream] Client %s dropped: %v", r.RemoteAddr, err)
		return
	}
	log.Printf("[Stream] Client disconnected from %s", r.RemoteAddr)
}

// WritePart writes one JPEG as a multipart part with boundary "frame"
func WritePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// SnapshotHandler serves the single latest frame
type SnapshotHandler struct {
	slot *pipeline.ResultSlot
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(slot *pipeline.ResultSlot) *SnapshotHandler {
	return &SnapshotHandler{slot: slot}
}

// ServeHTTP serves a single JPEG snapshot, or 503 before the first result
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	frame := h.slot.LatestImage()
	if len(frame) == 0 {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}
