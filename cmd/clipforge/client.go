package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clipforge/internal/daemon"
	"clipforge/internal/events"
)

type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func newAPIClient(address, token string) *apiClient {
	return &apiClient{
		base:   "http://" + strings.TrimSpace(address),
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("connect to daemon at %s: %w (is clipforged running?)", c.base, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &failure) == nil && failure.Error != "" {
			return resp.StatusCode, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, failure.Error)
		}
		return resp.StatusCode, fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *apiClient) Status() (daemon.StatusResponse, error) {
	var status daemon.StatusResponse
	_, err := c.do(http.MethodGet, "/api/status", nil, &status)
	return status, err
}

func (c *apiClient) Submit(event events.Event) (daemon.SubmitResponse, int, error) {
	var receipt daemon.SubmitResponse
	code, err := c.do(http.MethodPost, "/api/events", event, &receipt)
	return receipt, code, err
}

func (c *apiClient) QueueList(statuses []string) (daemon.QueueListResponse, error) {
	path := "/api/queue"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var listing daemon.QueueListResponse
	_, err := c.do(http.MethodGet, path, nil, &listing)
	return listing, err
}

func (c *apiClient) QueueGet(id string) (daemon.JobView, error) {
	var view daemon.JobView
	_, err := c.do(http.MethodGet, "/api/queue/"+url.PathEscape(id), nil, &view)
	return view, err
}

func (c *apiClient) QueueRetry(id string) error {
	_, err := c.do(http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/retry", nil, nil)
	return err
}

func (c *apiClient) QueueClear() (int64, error) {
	var result struct {
		Cleared int64 `json:"cleared"`
	}
	_, err := c.do(http.MethodDelete, "/api/queue", nil, &result)
	return result.Cleared, err
}
