package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/perimetric/facegate/internal/config"
)

// Frame is one captured image with its capture time. Data is the encoded
// JPEG payload as read from the camera.
type Frame struct {
	Data []byte
	At   time.Time
}

// FrameSource yields frames from one camera stream.
type FrameSource interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// SourceFactory builds a FrameSource for a camera source URL.
type SourceFactory func(source string, cfg *config.Config) FrameSource

// mjpegSource reads MJPEG-over-HTTP streams, the transport IP cameras most
// commonly expose. The requested geometry and rate are passed as query
// hints; cameras that do not understand them ignore them. Frame buffering
// lives in the pipeline's bounded channel, not in the source.
type mjpegSource struct {
	url    string
	width  int
	height int
	fps    int
	client *http.Client

	resp   *http.Response
	reader *multipart.Reader
}

// NewMJPEGSource is the default SourceFactory.
func NewMJPEGSource(source string, cfg *config.Config) FrameSource {
	return &mjpegSource{
		url:    source,
		width:  cfg.Recognition.FrameWidth,
		height: cfg.Recognition.FrameHeight,
		fps:    cfg.Recognition.FrameFPS,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				ResponseHeaderTimeout: 10 * time.Second,
			},
		},
	}
}

func (s *mjpegSource) Open(ctx context.Context) error {
	u, err := url.Parse(s.url)
	if err != nil {
		return fmt.Errorf("parse camera source: %w", err)
	}
	q := u.Query()
	if q.Get("resolution") == "" {
		q.Set("resolution", fmt.Sprintf("%dx%d", s.width, s.height))
	}
	if q.Get("fps") == "" {
		q.Set("fps", strconv.Itoa(s.fps))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build camera request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("open camera stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("camera stream returned status %d", resp.StatusCode)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		resp.Body.Close()
		return fmt.Errorf("camera stream is not multipart mjpeg (content type %q)", resp.Header.Get("Content-Type"))
	}
	s.resp = resp
	s.reader = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

// Read returns the next frame. Cancellation arrives through the Open
// context, which tears down the underlying connection.
func (s *mjpegSource) Read(context.Context) (Frame, error) {
	if s.reader == nil {
		return Frame{}, errors.New("camera stream is not open")
	}
	part, err := s.reader.NextPart()
	if err != nil {
		return Frame{}, err
	}
	data, err := io.ReadAll(part)
	part.Close()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, At: time.Now().UTC()}, nil
}

func (s *mjpegSource) Close() error {
	if s.resp == nil {
		return nil
	}
	err := s.resp.Body.Close()
	s.resp, s.reader = nil, nil
	return err
}
