package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls a remote synthesis service over HTTP. The service accepts the
// grouped contributions and returns the mixed track with per-country timings.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the given endpoint.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Groups []CountryGroup `json:"groups"`
}

// Generate posts the country groups and decodes the generated anthem. The
// response is validated before use so a misbehaving service cannot smuggle
// inconsistent timings into the pipeline.
func (c *Client) Generate(ctx context.Context, groups []CountryGroup) (*Result, error) {
	body, err := json.Marshal(generateRequest{Groups: groups})
	if err != nil {
		return nil, fmt.Errorf("marshal synth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call synth service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synth service: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode synth response: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}
