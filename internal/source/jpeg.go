package source

import (
	"bytes"
	"io"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxFrameBuffer bounds the scan buffer when a stream never closes a frame
const maxFrameBuffer = 8 << 20

// extractJPEGFrame removes and returns the first complete JPEG image in buffer.
// Bytes before the start marker are discarded. Returns nil if no complete frame
// is buffered yet.
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	start := bytes.Index(buf, jpegSOI)
	if start == -1 {
		// Keep a trailing 0xFF in case the marker is split across reads
		if buf[len(buf)-1] == 0xFF {
			*buffer = append(buf[:0], 0xFF)
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	end := bytes.Index(buf[start+2:], jpegEOI)
	if end == -1 {
		if start > 0 {
			*buffer = append(buf[:0], buf[start:]...)
		}
		return nil
	}
	end += start + 2 + len(jpegEOI)

	frame := make([]byte, end-start)
	copy(frame, buf[start:end])

	*buffer = append(buf[:0], buf[end:]...)
	return frame
}

// scanJPEGFrames reads r until it fails, calling emit for every complete JPEG
// found in the byte stream
func scanJPEGFrames(r io.Reader, emit func([]byte)) error {
	buffer := make([]byte, 0, 1<<20)
	chunk := make([]byte, 32*1024)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buffer)
				if frame == nil {
					break
				}
				emit(frame)
			}
			if len(buffer) > maxFrameBuffer {
				buffer = buffer[:0]
			}
		}
		if err != nil {
			return err
		}
	}
}
