package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/policy"
)

// StoreClient talks to the central policy service.
type StoreClient interface {
	// Health probes the service; nil means reachable and serving.
	Health(ctx context.Context) error

	// FetchPolicies retrieves the full current policy set and its version.
	FetchPolicies(ctx context.Context) (uint64, []*policy.Definition, error)

	// UploadEvents ships locally recorded events to the central archive.
	UploadEvents(ctx context.Context, batch []*events.Event) error
}

// HTTPClient is the StoreClient over the policy service's REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Health implements StoreClient.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned %d", resp.StatusCode)
	}
	return nil
}

// FetchPolicies implements StoreClient.
func (c *HTTPClient) FetchPolicies(ctx context.Context) (uint64, []*policy.Definition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/policies", nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, nil, fmt.Errorf("policy fetch returned %d", resp.StatusCode)
	}

	var body struct {
		Version  uint64               `json:"version"`
		Policies []*policy.Definition `json:"policies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, nil, fmt.Errorf("failed to decode policy set: %w", err)
	}
	return body.Version, body.Policies, nil
}

// UploadEvents implements StoreClient.
func (c *HTTPClient) UploadEvents(ctx context.Context, batch []*events.Event) error {
	if len(batch) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{"events": batch})
	if err != nil {
		return fmt.Errorf("failed to encode event batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/events/batch", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("event upload returned %d", resp.StatusCode)
	}
	return nil
}

// drain reads the body to completion so the connection can be reused.
func drain(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}
