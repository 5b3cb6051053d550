package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slhuckstead/accountmap/internal/models"
)

const dateLayout = "2006-01-02"

// SyncClient calls the synchronization service over HTTP.
type SyncClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewSyncClient(baseURL, apiKey string, timeout time.Duration) *SyncClient {
	return &SyncClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type syncRequestBody struct {
	RequestID string `json:"requestId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Synchronize posts the date range and decodes the run summary.
func (c *SyncClient) Synchronize(ctx context.Context, req models.SyncRequest) (*models.SyncResult, error) {
	body, err := json.Marshal(syncRequestBody{
		RequestID: req.RequestID,
		StartDate: req.StartDate.Format(dateLayout),
		EndDate:   req.EndDate.Format(dateLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("API error: status=%d", resp.StatusCode)
	}

	var result models.SyncResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.RequestID == "" {
		result.RequestID = req.RequestID
	}
	return &result, nil
}

func (c *SyncClient) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
