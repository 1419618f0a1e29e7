// Package inference provides an HTTP client for the face inference service.
//
// The service wraps the detection models (InsightFace buffalo_l and friends)
// behind a small multipart API: it takes a frame, returns the detected faces
// with bounding box, detector confidence and embedding vector. Model weights
// are loaded lazily on first use and stay resident.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/pkg/logger"
)

// Module provides the inference client as an fx module
var Module = fx.Module("inference",
	fx.Provide(NewClient),
)

// Client is an HTTP client for the face inference service
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	enabled    bool
	log        *slog.Logger

	// ensured tracks models confirmed loaded on the service. A failed load
	// is retried on the next call rather than latched.
	mu      sync.Mutex
	ensured map[string]bool
}

// NewClient creates a new inference client
func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Inference.Timeout(),
		},
		baseURL: cfg.Inference.ServiceURL,
		timeout: cfg.Inference.Timeout(),
		enabled: cfg.Inference.Enabled,
		log:     log.With(logger.Scope("inference")),
		ensured: make(map[string]bool),
	}
}

// IsEnabled returns true if the inference service is configured
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// Face is one detected face in a frame.
type Face struct {
	// BBox is [x1, y1, x2, y2] in pixel coordinates.
	BBox [4]float32 `json:"bbox"`

	// DetScore is the detector confidence in [0, 1].
	DetScore float32 `json:"det_score"`

	// Embedding is the unit-normalized face embedding.
	Embedding []float32 `json:"embedding"`
}

// Area returns the bounding-box area in square pixels.
func (f Face) Area() float32 {
	return (f.BBox[2] - f.BBox[0]) * (f.BBox[3] - f.BBox[1])
}

// detectResponse is the wire shape of POST /detect.
type detectResponse struct {
	Faces []Face `json:"faces"`
	Model string `json:"model,omitempty"`
}

// HealthResponse is the health check response from the inference service
type HealthResponse struct {
	Status  string   `json:"status"` // "healthy" or "unhealthy"
	Models  []string `json:"models,omitempty"`
	Version string   `json:"version,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Error represents an inference service error
type Error struct {
	// Message is the human-friendly error message
	Message string
	// Detail is the technical error detail
	Detail string
	// StatusCode is the HTTP status code
	StatusCode int
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Temporary reports whether the failure is worth retrying: service-side
// errors and timeouts are, request errors are not.
func (e *Error) Temporary() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

// Detect runs face detection on a single encoded frame and returns the faces
// found. Zero faces is a normal result, not an error.
func (c *Client) Detect(ctx context.Context, frame []byte, model string) ([]Face, error) {
	if !c.enabled {
		return nil, &Error{
			Message:    "inference service is not enabled",
			StatusCode: http.StatusServiceUnavailable,
		}
	}

	if err := c.ensureModel(ctx, model); err != nil {
		return nil, err
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return nil, fmt.Errorf("write frame content: %w", err)
	}
	if err := writer.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{
				Message:    "inference request timed out",
				StatusCode: http.StatusRequestTimeout,
			}
		}
		return nil, &Error{
			Message:    fmt.Sprintf("inference service unavailable at %s", c.baseURL),
			Detail:     err.Error(),
			StatusCode: http.StatusServiceUnavailable,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp.StatusCode, body, model)
	}

	var result detectResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.log.Debug("detection completed",
		slog.String("model", model),
		slog.Int("faces", len(result.Faces)),
		slog.Duration("duration", time.Since(start)))

	return result.Faces, nil
}

// ensureModel asks the service to load the model once per client lifetime.
func (c *Client) ensureModel(ctx context.Context, model string) error {
	c.mu.Lock()
	if c.ensured[model] {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]string{"model": model})
	if err != nil {
		return fmt.Errorf("marshal model load request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/load", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create model load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{
			Message:    fmt.Sprintf("inference service unavailable at %s", c.baseURL),
			Detail:     err.Error(),
			StatusCode: http.StatusServiceUnavailable,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return c.handleErrorResponse(resp.StatusCode, body, model)
	}
	io.Copy(io.Discard, resp.Body)

	c.mu.Lock()
	c.ensured[model] = true
	c.mu.Unlock()

	c.log.Info("model loaded", slog.String("model", model))
	return nil
}

// handleErrorResponse converts HTTP error responses to Error
func (c *Client) handleErrorResponse(statusCode int, body []byte, model string) *Error {
	var errResp struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}

	var message, detail string
	if err := json.Unmarshal(body, &errResp); err == nil {
		message = errResp.Error
		if message == "" {
			message = errResp.Message
		}
		detail = errResp.Detail
	} else {
		message = string(body)
	}

	if message == "" {
		message = fmt.Sprintf("inference error for model %s", model)
	}

	c.log.Warn("inference error",
		slog.String("model", model),
		slog.Int("status_code", statusCode),
		slog.String("message", message),
		slog.String("detail", detail))

	return &Error{
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// HealthCheck checks the health status of the inference service
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("inference health check failed", slog.Any("error", err))
		return &HealthResponse{Status: "unhealthy", Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return &HealthResponse{Status: "unhealthy", Error: "failed to decode health response"}, nil
	}
	return &health, nil
}
