package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPClient talks to the inference sidecar over its HTTP/JSON API.
//
// Every call carries a per-request timeout; a transport error, timeout, or
// non-200 status is returned to the caller, which treats the cycle as
// skipped ("no data", not "no violation").
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPClient creates a sidecar client with the given base URL
// (e.g. "http://127.0.0.1:5000") and per-call timeout.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type detectRequest struct {
	ImageB64 string `json:"image_b64"`
}

func (c *HTTPClient) DetectUnified(ctx context.Context, image []byte) (*UnifiedResult, error) {
	var res UnifiedResult
	if err := c.postImage(ctx, "/api/detections/unified", image, &res); err != nil {
		return nil, fmt.Errorf("DetectUnified: %w", err)
	}
	return &res, nil
}

func (c *HTTPClient) DetectHeadPose(ctx context.Context, image []byte) (*HeadPoseResult, error) {
	var res HeadPoseResult
	if err := c.postImage(ctx, "/api/detections/head_pose", image, &res); err != nil {
		return nil, fmt.Errorf("DetectHeadPose: %w", err)
	}
	return &res, nil
}

func (c *HTTPClient) DetectMultiPerson(ctx context.Context, image []byte) (*MultiPersonResult, error) {
	var res MultiPersonResult
	if err := c.postImage(ctx, "/api/detections/multi_person", image, &res); err != nil {
		return nil, fmt.Errorf("DetectMultiPerson: %w", err)
	}
	return &res, nil
}

func (c *HTTPClient) DetectBodyVisibility(ctx context.Context, image []byte) (*BodyVisibilityResult, error) {
	var res BodyVisibilityResult
	if err := c.postImage(ctx, "/api/detections/body_visibility", image, &res); err != nil {
		return nil, fmt.Errorf("DetectBodyVisibility: %w", err)
	}
	return &res, nil
}

// SystemStatus fetches the sidecar's model status document without
// interpreting it; the API layer forwards it verbatim.
func (c *HTTPClient) SystemStatus(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/system/status", nil)
	if err != nil {
		return nil, fmt.Errorf("SystemStatus: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SystemStatus: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SystemStatus: sidecar returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("SystemStatus: %w", err)
	}
	return json.RawMessage(body), nil
}

func (c *HTTPClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *HTTPClient) postImage(ctx context.Context, path string, image []byte, out any) error {
	payload, err := json.Marshal(detectRequest{
		ImageB64: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("sidecar detection call failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("sidecar returned %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
