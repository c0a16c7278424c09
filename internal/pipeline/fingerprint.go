package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	// DefaultCanonicalWidth is the width frames are resized to before hashing
	DefaultCanonicalWidth = 320
	// DefaultCanonicalQuality is the JPEG quality of the canonical encoding
	DefaultCanonicalQuality = 75
)

// Fingerprint is a content digest of a canonicalized frame, used as a cache key
type Fingerprint [sha256.Size]byte

// String returns the hex encoding of the fingerprint
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex digits, for log lines
func (f Fingerprint) Short() string {
	return f.String()[:12]
}

// Fingerprinter computes fingerprints over a deterministic resize + fixed-quality
// JPEG encoding, so minor re-encoding noise in the source does not defeat the cache
type Fingerprinter struct {
	width   int
	quality int
}

// NewFingerprinter creates a fingerprinter. Zero values select the defaults.
func NewFingerprinter(width, quality int) *Fingerprinter {
	if width <= 0 {
		width = DefaultCanonicalWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultCanonicalQuality
	}
	return &Fingerprinter{width: width, quality: quality}
}

// Canonicalize returns the canonical JPEG encoding of img
func (fp *Fingerprinter) Canonicalize(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedFrame)
	}

	src := img.Bounds()
	height := src.Dy() * fp.width / src.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, fp.width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: fp.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode canonical frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Fingerprint returns the digest of the canonical encoding of img
func (fp *Fingerprinter) Fingerprint(img image.Image) (Fingerprint, error) {
	canonical, err := fp.Canonicalize(img)
	if err != nil {
		return Fingerprint{}, err
	}

	h := sha256.New()
	fmt.Fprintf(h, "jpeg/q%d/w%d\n", fp.quality, fp.width)
	h.Write(canonical)

	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out, nil
}
