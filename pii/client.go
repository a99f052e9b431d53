package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig holds configuration for the pattern-service client.
type ClientConfig struct {
	BaseURL string        `json:"baseUrl"`
	Token   string        `json:"token"`
	Timeout time.Duration `json:"timeout"`
}

// Client is an HTTP implementation of Service against the PII pattern
// service's match endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a pattern-service client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type matchRequest struct {
	Text string `json:"text"`
}

type matchResponse struct {
	Matches []TextMatch `json:"matches"`
}

// Match sends one string to the pattern service and returns its matches in
// offset order.
func (c *Client) Match(ctx context.Context, text string) ([]TextMatch, error) {
	body, err := json.Marshal(matchRequest{Text: text})
	if err != nil {
		return nil, Errors.NewWithCause(ErrServiceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/match", bytes.NewReader(body))
	if err != nil {
		return nil, Errors.NewWithCause(ErrServiceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Errors.NewWithCause(ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, Errors.New(ErrServiceUnavailable).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", string(payload))
	}

	var parsed matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, Errors.NewWithCause(ErrServiceUnavailable, fmt.Errorf("decode response: %w", err))
	}
	for i := range parsed.Matches {
		parsed.Matches[i].Category = ParseCategory(string(parsed.Matches[i].Category))
	}
	return parsed.Matches, nil
}
