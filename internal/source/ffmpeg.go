package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"poolguard/internal/pipeline"
)

// FFmpegSource captures frames through an ffmpeg subprocess that transcodes
// the input (RTSP, HTTP, V4L2 device or file) to an MJPEG pipe
type FFmpegSource struct {
	capture

	device string
	fps    int
	width  int
	height int
	binary string
	policy ReconnectPolicy
}

// NewFFmpegSource creates an ffmpeg-backed source
func NewFFmpegSource(device string, fps, width, height int, sink pipeline.FrameSink, policy ReconnectPolicy) *FFmpegSource {
	if fps <= 0 {
		fps = 10
	}
	s := &FFmpegSource{
		device: device,
		fps:    fps,
		width:  width,
		height: height,
		binary: "ffmpeg",
		policy: policy,
	}
	s.init("ffmpeg", sink)
	return s
}

// Start launches ffmpeg and restarts it when it exits
func (s *FFmpegSource) Start(ctx context.Context) error {
	if _, err := exec.LookPath(s.binary); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return s.start(ctx, func(ctx context.Context) {
		s.runWithReconnect(ctx, s.policy, s.session)
	})
}

// args builds the ffmpeg command line for the configured device
func (s *FFmpegSource) args() []string {
	output := []string{
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", s.fps),
		"-q:v", "5",
		"-",
	}

	switch {
	case strings.HasPrefix(s.device, "rtsp://"):
		return append([]string{"-rtsp_transport", "tcp", "-i", s.device}, output...)
	case strings.HasPrefix(s.device, "/dev/video"):
		input := []string{"-f", "v4l2"}
		if s.width > 0 && s.height > 0 {
			input = append(input, "-video_size", fmt.Sprintf("%dx%d", s.width, s.height))
		}
		input = append(input, "-framerate", fmt.Sprintf("%d", s.fps), "-i", s.device)
		// v4l2 already delivers at the requested rate
		return append(input, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	case strings.HasPrefix(s.device, "http://"), strings.HasPrefix(s.device, "https://"):
		return append([]string{"-i", s.device}, output...)
	default:
		// Local video file, replayed in real time and looped
		return append([]string{"-re", "-stream_loop", "-1", "-i", s.device}, output...)
	}
}

func (s *FFmpegSource) session(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, s.binary, s.args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return false, fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	// Keep the last stderr line for error reporting
	lastLine := make(chan string, 1)
	go func() {
		var last string
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			last = scanner.Text()
		}
		lastLine <- last
	}()

	produced := false
	readErr := scanJPEGFrames(stdout, func(frame []byte) {
		produced = true
		s.emitEncoded(frame)
	})

	if readErr != nil && !errors.Is(readErr, io.EOF) {
		cmd.Process.Kill()
	}
	detail := <-lastLine
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return produced, nil
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return produced, fmt.Errorf("error reading frames: %w", readErr)
	}
	if waitErr != nil {
		if detail != "" {
			return produced, fmt.Errorf("ffmpeg exited: %w (%s)", waitErr, detail)
		}
		return produced, fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return produced, nil
}

var _ pipeline.FrameSource = (*FFmpegSource)(nil)
