// ABOUTME: REST client for the Chatwoot support platform API.
// ABOUTME: Handles auth headers, JSON envelopes, and API error mapping.

package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured is returned by New when required settings are missing.
var ErrNotConfigured = errors.New("chatwoot not configured")

// APIError is a non-2xx answer from the platform.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatwoot returned status %d: %s", e.Status, e.Body)
}

// Config holds connection settings for one account and inbox.
type Config struct {
	BaseURL   string
	APIKey    string
	AccountID int64
	InboxID   int64
	Timeout   time.Duration
}

// Client talks to one Chatwoot account.
type Client struct {
	baseURL   string
	apiKey    string
	accountID int64
	inboxID   int64
	http      *http.Client
}

// New creates a client. All of base URL, API key, account and inbox are required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.AccountID == 0 || cfg.InboxID == 0 {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		accountID: cfg.AccountID,
		inboxID:   cfg.InboxID,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// InboxID returns the inbox this client routes conversations through.
func (c *Client) InboxID() int64 {
	return c.inboxID
}

func (c *Client) accountURL(path string, query url.Values) string {
	u := fmt.Sprintf("%s/api/v1/accounts/%d/%s", c.baseURL, c.accountID, strings.TrimPrefix(path, "/"))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends a JSON request and returns the raw response body on 2xx.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.accountURL(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("api_access_token", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// decodeList finds the first JSON array in a response, looking through the
// "payload" and "data" envelopes the API wraps lists in.
func decodeList[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decoding list: %w", err)
		}
		return out, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	for _, key := range []string{"payload", "data"} {
		if inner, ok := envelope[key]; ok {
			return decodeList[T](inner)
		}
	}
	return nil, nil
}

// decodeObject finds the object carrying an "id" field, looking through the
// "payload", "data", and named envelopes.
func decodeObject[T any](data []byte, names ...string) (T, error) {
	var out T
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return out, fmt.Errorf("decoding object: %w", err)
	}
	if _, ok := envelope["id"]; ok {
		err := json.Unmarshal(data, &out)
		return out, err
	}
	for _, key := range append([]string{"payload", "data"}, names...) {
		inner, ok := envelope[key]
		if !ok || len(bytes.TrimSpace(inner)) == 0 || bytes.TrimSpace(inner)[0] != '{' {
			continue
		}
		if obj, err := decodeObject[T](inner, names...); err == nil {
			return obj, nil
		}
	}
	return out, errors.New("no object with id in response")
}
