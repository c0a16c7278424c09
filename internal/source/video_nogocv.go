//go:build !gocv

package source

import (
	"errors"
)

// ErrVideoUnsupported is returned for video file sources in builds without OpenCV
var ErrVideoUnsupported = errors.New("video file decoding requires the gocv build tag; use the ffmpeg source instead")

func loadVideoFrames(path string) ([]loopFrame, float64, error) {
	return nil, 0, ErrVideoUnsupported
}
