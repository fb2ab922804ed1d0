// Package remote is an HTTP client for a record service. Its methods match
// the engine's sync, delete and fetch functions.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/stowaway/internal/record"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

// IdempotencyHeader carries the batch key so the service can deduplicate a
// retried batch.
const IdempotencyHeader = "Idempotency-Key"

// Client is an HTTP client for a record service.
//
// Endpoints:
//
//	POST {base}/records:batch   {"records": [...]}
//	POST {base}/records:delete  {"ids": [...]}
//	GET  {base}/records         {"records": [...]}
type Client[T record.Record] struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a client for the service at baseURL.
func New[T record.Record](baseURL, apiKey string) *Client[T] {
	return &Client[T]{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

// BatchRequest is the body of POST /records:batch.
type BatchRequest[T record.Record] struct {
	Records []T `json:"records"`
}

// DeleteRequest is the body of POST /records:delete.
type DeleteRequest struct {
	IDs []string `json:"ids"`
}

// ListResponse is the response from GET /records.
type ListResponse[T record.Record] struct {
	Records []T `json:"records"`
}

// SyncBatch upserts records on the service.
func (c *Client[T]) SyncBatch(ctx context.Context, records []T) error {
	return c.do(ctx, http.MethodPost, "/records:batch", BatchRequest[T]{Records: records}, nil)
}

// DeleteBatch removes records from the service by id.
func (c *Client[T]) DeleteBatch(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPost, "/records:delete", DeleteRequest{IDs: ids}, nil)
}

// FetchAll returns every record held by the service.
func (c *Client[T]) FetchAll(ctx context.Context) ([]T, error) {
	var resp ListResponse[T]
	if err := c.do(ctx, http.MethodGet, "/records", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Records == nil {
		return []T{}, nil
	}
	return resp.Records, nil
}

// APIError is the standard error body from the service.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (c *Client[T]) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if key, ok := record.BatchKeyFrom(ctx); ok {
		req.Header.Set(IdempotencyHeader, key)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

func (c *Client[T]) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func statusError(status int, body []byte) error {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) != nil || apiErr.Code == "" {
		apiErr = APIError{Code: http.StatusText(status), Message: strings.TrimSpace(string(body))}
	}
	apiErr.Status = status

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	}
	return fmt.Errorf("HTTP %d: %w", status, &apiErr)
}
