package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type trackerClient struct {
	baseURL string
	user    string
	http    *http.Client
}

func newClient() *trackerClient {
	return &trackerClient{
		baseURL: serverURL,
		user:    resolvedUser(),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *trackerClient) do(method, path string, body any, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set("X-Remote-User", c.user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *trackerClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *trackerClient) postJSON(path string, body any, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

func (c *trackerClient) putJSON(path string, body any, v any) error {
	return c.do(http.MethodPut, path, body, v)
}

func (c *trackerClient) deleteJSON(path string, body any, v any) error {
	return c.do(http.MethodDelete, path, body, v)
}
