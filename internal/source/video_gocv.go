//go:build gocv

package source

import (
	"bytes"
	"fmt"

	"gocv.io/x/gocv"
)

// loadVideoFrames decodes every frame of a video file with OpenCV and returns
// them JPEG-encoded, along with the file's native frame rate
func loadVideoFrames(path string) ([]loopFrame, float64, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	defer vc.Close()

	fps := vc.Get(gocv.VideoCaptureFPS)

	mat := gocv.NewMat()
	defer mat.Close()

	var frames []loopFrame
	for i := 0; ; i++ {
		if ok := vc.Read(&mat); !ok || mat.Empty() {
			break
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
		data := bytes.Clone(buf.GetBytes())
		buf.Close()

		frames = append(frames, loopFrame{name: fmt.Sprintf("%s#%d", path, i), jpeg: data})
	}

	if len(frames) == 0 {
		return nil, 0, fmt.Errorf("no frames decoded from %s", path)
	}
	return frames, fps, nil
}
