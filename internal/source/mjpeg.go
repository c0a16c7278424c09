package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"poolguard/internal/pipeline"
)

// maxPartSize bounds a single multipart JPEG part
const maxPartSize = 16 << 20

// AxisMJPEGURL builds the MJPEG endpoint URL of an Axis network camera
func AxisMJPEGURL(host, username, password string) string {
	u := url.URL{Scheme: "http", Host: host, Path: "/axis-cgi/mjpg/video.cgi"}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}
	return u.String()
}

// MJPEGSource reads a multipart MJPEG stream over HTTP (e.g. an IP camera)
// and reconnects after the stream drops
type MJPEGSource struct {
	capture

	url     string
	client  *http.Client
	policy  ReconnectPolicy
	maxPart int64
}

// NewMJPEGSource creates a source for the given stream URL. Credentials in the
// URL user info are sent as basic auth.
func NewMJPEGSource(streamURL string, sink pipeline.FrameSink, policy ReconnectPolicy) *MJPEGSource {
	s := &MJPEGSource{
		url: streamURL,
		// No overall timeout: the response body is an endless stream
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 10 * time.Second,
				IdleConnTimeout:       30 * time.Second,
			},
		},
		policy:  policy,
		maxPart: maxPartSize,
	}
	s.init("mjpeg", sink)
	return s
}

// Start begins reading the stream in the background
func (s *MJPEGSource) Start(ctx context.Context) error {
	return s.start(ctx, func(ctx context.Context) {
		s.runWithReconnect(ctx, s.policy, s.session)
	})
}

func (s *MJPEGSource) session(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("invalid stream url: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream returned %s", resp.Status)
	}

	produced := false
	emit := func(frame []byte) {
		produced = true
		s.emitEncoded(frame)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		boundary := strings.TrimPrefix(params["boundary"], "--")
		err = s.readParts(multipart.NewReader(resp.Body, boundary), emit)
	} else {
		err = scanJPEGFrames(resp.Body, emit)
	}

	if errors.Is(err, io.EOF) {
		err = nil
	}
	return produced, err
}

func (s *MJPEGSource) readParts(reader *multipart.Reader, emit func([]byte)) error {
	for {
		part, err := reader.NextPart()
		if err != nil {
			return err
		}

		data, err := io.ReadAll(io.LimitReader(part, s.maxPart+1))
		part.Close()
		if err != nil {
			return err
		}

		// Oversized parts are dropped whole rather than emitted truncated
		if int64(len(data)) > s.maxPart || len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
			s.dropped()
			continue
		}
		emit(data)
	}
}

var _ pipeline.FrameSource = (*MJPEGSource)(nil)
