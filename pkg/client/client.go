// Package client is a Go HTTP client for the surrealshop API.
//
// It covers the administrative endpoints used to drive a migration (reading and changing
// the phase, metrics, drift records, health) and a generic entity surface over the five
// shop tables. The phase sub-command of the surrealshop binary is built on it.
//
// # Usage Example
//
//	c := client.NewClient("http://localhost:8080")
//
//	state, err := c.Phase(ctx)
//	if err != nil {
//		return err
//	}
//	fmt.Println(state.Current)
//
//	// advance one phase; fails with ErrGateClosed while the monitor sees drift
//	_, err = c.SetPhase(ctx, client.PhaseRequest{Phase: "dual_write_source_read"})
//
// Errors returned for non-2xx answers are [*APIError] values; the status code is also
// mapped to the sentinels below so callers can branch with [errors.Is].
package client

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

	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/monitor"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalid            = errors.New("invalid request")
	ErrConflict           = errors.New("conflict")
	ErrGateClosed         = errors.New("advancement gate closed")
	ErrUnavailable        = errors.New("backend unavailable")
	ErrAuthoritativeWrite = errors.New("authoritative write failed")
)

// PhaseRequest is the body of POST /api/admin/phase.
type PhaseRequest struct {
	Phase    string `json:"phase"`
	Rollback bool   `json:"rollback,omitempty"`
	// Force bypasses the advancement gate.
	Force bool `json:"force,omitempty"`
}

// PhaseResponse reports the phase of a server. Previous is set only by a phase change.
type PhaseResponse struct {
	Previous string `json:"previous,omitempty"`
	Current  string `json:"current"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	// Reason is the error class, for example not_found or constraint.
	Reason string `json:"reason,omitempty"`
}

// APIError is a non-2xx answer.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("API error: status=%d reason=%s: %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("API error: status=%d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrInvalid
	case http.StatusConflict:
		return ErrConflict
	case http.StatusPreconditionFailed:
		return ErrGateClosed
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	case http.StatusBadGateway:
		return ErrAuthoritativeWrite
	}
	return nil
}

// Client provides typed access to the surrealshop API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL, for example
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// doRequest performs an HTTP request with JSON headers.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// decodeResponse decodes the JSON response into target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var er ErrorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			apiErr.Message, apiErr.Reason = er.Error, er.Reason
		}
		return apiErr
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, target any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, target)
}

// Health checks the health status of the server.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var result map[string]any
	if err := c.call(ctx, http.MethodGet, "/health", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Administration

// Phase returns the active migration phase.
func (c *Client) Phase(ctx context.Context) (*PhaseResponse, error) {
	var result PhaseResponse
	if err := c.call(ctx, http.MethodGet, "/api/admin/phase", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetPhase asks the server to move to req.Phase.
func (c *Client) SetPhase(ctx context.Context, req PhaseRequest) (*PhaseResponse, error) {
	var result PhaseResponse
	if err := c.call(ctx, http.MethodPost, "/api/admin/phase", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Metrics returns the monitor snapshot.
func (c *Client) Metrics(ctx context.Context) (map[string]float64, error) {
	var result map[string]float64
	if err := c.call(ctx, http.MethodGet, "/api/admin/metrics", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Drift returns the most recent drift records.
func (c *Client) Drift(ctx context.Context) ([]monitor.DriftRecord, error) {
	var result []monitor.DriftRecord
	if err := c.call(ctx, http.MethodGet, "/api/admin/drift", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Entities

// Create stores rec and returns the stored record.
func Create[T models.Record](ctx context.Context, c *Client, rec T) (T, error) {
	var out T
	err := c.call(ctx, http.MethodPost, "/api/"+rec.Table(), rec, &out)
	return out, err
}

// Get fetches the record of kind with identity id.
func Get[T models.Record](ctx context.Context, c *Client, kind models.Kind[T], id string) (T, error) {
	out := kind.New()
	if err := c.call(ctx, http.MethodGet, entityPath(kind.Table, id), nil, out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Update applies patch to the record of kind with identity id.
func Update[T models.Record](ctx context.Context, c *Client, kind models.Kind[T], id string, patch models.Patch) (T, error) {
	out := kind.New()
	if err := c.call(ctx, http.MethodPatch, entityPath(kind.Table, id), patch, out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Delete removes the record of kind with identity id. Deleting an absent record fails
// with ErrNotFound.
func Delete[T models.Record](ctx context.Context, c *Client, kind models.Kind[T], id string) error {
	return c.call(ctx, http.MethodDelete, entityPath(kind.Table, id), nil, nil)
}

// FindBy returns the records of kind whose field equals value.
func FindBy[T models.Record](ctx context.Context, c *Client, kind models.Kind[T], field, value string) ([]T, error) {
	q := url.Values{"field": {field}, "value": {value}}
	var out []T
	if err := c.call(ctx, http.MethodGet, "/api/"+kind.Table+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func entityPath(table, id string) string {
	return "/api/" + table + "/" + url.PathEscape(id)
}
