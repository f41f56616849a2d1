package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"media-pipeline/internal/domain"
)

// APIError is a non-2xx provider response.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.Status, e.Body)
}

// classify marks client errors other than 408 and 429 as permanent: the same
// request will be rejected again.
func classify(op string, err error) error {
	apiErr, ok := err.(*APIError)
	if !ok {
		return err
	}
	if apiErr.Status >= 400 && apiErr.Status < 500 &&
		apiErr.Status != http.StatusTooManyRequests && apiErr.Status != http.StatusRequestTimeout {
		return domain.Precondition(op, err)
	}
	return err
}

type httpClient struct {
	provider string
	baseURL  string
	headers  map[string]string
	client   *http.Client
}

func newHTTPClient(provider, baseURL string, headers map[string]string, timeout time.Duration) httpClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return httpClient{
		provider: provider,
		baseURL:  baseURL,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}
}

// post sends body as JSON and returns the raw response body.
func (c httpClient) post(ctx context.Context, path, accept string, body interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request data: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		return nil, &APIError{Provider: c.provider, Status: resp.StatusCode, Body: snippet}
	}
	return data, nil
}
