package source

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"poolguard/internal/pipeline"
)

// Source kinds
const (
	KindLoop   = "loop"
	KindVideo  = "video"
	KindMJPEG  = "mjpeg"
	KindAxis   = "axis"
	KindFFmpeg = "ffmpeg"
)

// Config selects and configures a frame source
type Config struct {
	Kind     string `yaml:"kind"`
	URL      string `yaml:"url"`      // mjpeg, ffmpeg (rtsp://, http://, /dev/videoN)
	Dir      string `yaml:"dir"`      // loop
	Path     string `yaml:"path"`     // video
	Host     string `yaml:"host"`     // axis
	Username string `yaml:"username"` // axis
	Password string `yaml:"password"` // axis
	FPS      int    `yaml:"fps"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	Watch    bool   `yaml:"watch"` // loop: reload on directory changes

	Reconnect ReconnectPolicy `yaml:"-"`
}

// New creates the frame source described by cfg, appending to sink
func New(cfg Config, sink pipeline.FrameSink) (pipeline.FrameSource, error) {
	policy := cfg.Reconnect
	if policy.InitialDelay <= 0 {
		policy = DefaultReconnectPolicy()
	}

	switch strings.ToLower(cfg.Kind) {
	case KindLoop:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("loop source requires a frame directory")
		}
		s := NewLoopSource(cfg.Dir, cfg.FPS, sink)
		s.SetWatch(cfg.Watch)
		return s, nil
	case KindVideo:
		if cfg.Path == "" {
			return nil, fmt.Errorf("video source requires a file path")
		}
		return NewVideoSource(cfg.Path, cfg.FPS, sink), nil
	case KindAxis:
		if cfg.Host == "" {
			return nil, fmt.Errorf("axis source requires a camera host")
		}
		return NewMJPEGSource(AxisMJPEGURL(cfg.Host, cfg.Username, cfg.Password), sink, policy), nil
	case KindMJPEG:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mjpeg source requires a stream url")
		}
		return NewMJPEGSource(cfg.URL, sink, policy), nil
	case KindFFmpeg:
		if cfg.URL == "" {
			return nil, fmt.Errorf("ffmpeg source requires an input url or device")
		}
		return NewFFmpegSource(cfg.URL, cfg.FPS, cfg.Width, cfg.Height, sink, policy), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// NewVideoSource creates a looped source over the decoded frames of a video
// file. fps <= 0 uses the file's native rate.
func NewVideoSource(path string, fps int, sink pipeline.FrameSink) *LoopSource {
	s := &LoopSource{dir: filepath.Dir(path), fps: fps}
	s.loader = func() ([]loopFrame, error) {
		frames, native, err := loadVideoFrames(path)
		if err != nil {
			return nil, err
		}
		if s.fps <= 0 {
			s.fps = int(math.Round(native))
			if s.fps <= 0 {
				s.fps = 10
			}
		}
		return frames, nil
	}
	s.init("video", sink)
	return s
}
