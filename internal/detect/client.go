package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to the detection service over HTTP.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
}

// ClientOption customizes an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient overrides the underlying transport.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.httpc = c
		}
	}
}

// NewHTTPClient builds a client with a bounded request timeout.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type detectResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// DetectFields fetches placement suggestions for one envelope.
func (c *HTTPClient) DetectFields(ctx context.Context, envelopeID string) ([]Suggestion, error) {
	url := fmt.Sprintf("%s/v1/envelopes/%s/detect-fields", c.baseURL, envelopeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect fields: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect fields: unexpected status %d", resp.StatusCode)
	}
	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("detect fields: decode: %w", err)
	}
	return out.Suggestions, nil
}
