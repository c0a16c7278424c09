package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"poolguard/internal/pipeline"
)

// reloadDebounce coalesces bursts of directory events into one reload
const reloadDebounce = 250 * time.Millisecond

// loopFrame is one preloaded frame; exactly one of jpeg or img is set
type loopFrame struct {
	name string
	jpeg []byte
	img  image.Image
}

// LoopSource replays an ordered directory of still frames at a fixed rate,
// forever and in the same order, so downstream caching sees a cyclic workload.
// Frames are loaded once and reloaded when the directory changes.
type LoopSource struct {
	capture

	dir    string
	fps    int
	watch  bool
	loader func() ([]loopFrame, error)

	mu     sync.RWMutex
	frames []loopFrame
	index  int
}

// NewLoopSource creates a looped source over the JPEG/PNG files in dir
func NewLoopSource(dir string, fps int, sink pipeline.FrameSink) *LoopSource {
	if fps <= 0 {
		fps = 10
	}
	s := &LoopSource{dir: dir, fps: fps, watch: true}
	s.loader = func() ([]loopFrame, error) { return loadFrames(dir) }
	s.init("loop", sink)
	return s
}

// SetWatch enables or disables reloading on directory changes. Call before Start.
func (s *LoopSource) SetWatch(watch bool) {
	s.watch = watch
}

// Load reads the frame directory. Start calls it; it may be called again to reload.
func (s *LoopSource) Load() error {
	frames, err := s.loader()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.frames = frames
	s.index = 0
	s.mu.Unlock()

	log.Printf("[Source] Loaded %d frames from %s", len(frames), s.dir)
	return nil
}

// Len returns the number of frames in one loop
func (s *LoopSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Start loads the frames and begins replaying them
func (s *LoopSource) Start(ctx context.Context) error {
	if err := s.Load(); err != nil {
		return err
	}

	var watcher *fsnotify.Watcher
	if s.watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Printf("[Source] Directory watch unavailable: %v", err)
		} else if err := w.Add(s.dir); err != nil {
			log.Printf("[Source] Failed to watch %s: %v", s.dir, err)
			w.Close()
		} else {
			watcher = w
		}
	}

	err := s.start(ctx, func(ctx context.Context) {
		if watcher != nil {
			defer watcher.Close()
			go s.watchDir(ctx, watcher)
		}
		s.replay(ctx)
	})
	if err != nil && watcher != nil {
		watcher.Close()
	}
	return err
}

// Next appends the next frame of the loop to the sink. It is what the replay
// loop calls on every tick.
func (s *LoopSource) Next() bool {
	s.mu.Lock()
	if len(s.frames) == 0 {
		s.mu.Unlock()
		return false
	}
	f := s.frames[s.index]
	s.index = (s.index + 1) % len(s.frames)
	s.mu.Unlock()

	seq := s.seq.Add(1)
	if f.jpeg != nil {
		s.emit(pipeline.NewEncodedFrame(seq, f.jpeg))
	} else {
		s.emit(pipeline.NewFrame(seq, f.img))
	}
	return true
}

func (s *LoopSource) replay(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Next() {
				s.dropped()
			}
		}
	}
}

func (s *LoopSource) watchDir(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isFrameFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Source] Watch error on %s: %v", s.dir, err)
		case <-debounce:
			debounce = nil
			if err := s.Load(); err != nil {
				log.Printf("[Source] Reload of %s failed, keeping previous frames: %v", s.dir, err)
			}
		}
	}
}

func isFrameFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// loadFrames reads every frame file in dir, ordered by file name
func loadFrames(dir string) ([]loopFrame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isFrameFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]loopFrame, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		if strings.EqualFold(filepath.Ext(name), ".png") {
			img, err := png.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", name, err)
			}
			frames = append(frames, loopFrame{name: name, img: img})
			continue
		}
		frames = append(frames, loopFrame{name: name, jpeg: data})
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	return frames, nil
}

var _ pipeline.FrameSource = (*LoopSource)(nil)
