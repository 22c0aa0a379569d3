// Package client is a typed Go client for the reportdesk HTTP API. Render
// workers use it to report job progress; operators' tooling uses the rest.
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
	"strconv"
	"time"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/factory"
	"github.com/Mindburn-Labs/reportdesk/pkg/release"
	"github.com/Mindburn-Labs/reportdesk/pkg/snapshot"
	"github.com/Mindburn-Labs/reportdesk/pkg/workorder"
)

// APIError is returned when the API responds with a non-2xx status. It carries
// the problem document the server sent.
type APIError struct {
	Status  int             `json:"status"`
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Detail  string          `json:"detail"`
	TraceID string          `json:"trace_id"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reportdesk api %d: %s: %s", e.Status, e.Title, e.Detail)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// Client is a typed client for the reportdesk API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(tok string) Option {
	return func(c *Client) { c.Token = tok }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.HTTPClient = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Title = http.StatusText(resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func workOrderPath(id string, rest ...string) string {
	p := "/v1/work-orders/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// CreateWorkOrder calls POST /v1/work-orders.
func (c *Client) CreateWorkOrder(ctx context.Context, in workorder.CreateInput) (*workorder.Detail, error) {
	var out workorder.Detail
	if err := c.do(ctx, http.MethodPost, "/v1/work-orders", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWorkOrder calls GET /v1/work-orders/{id}.
func (c *Client) GetWorkOrder(ctx context.Context, id string) (*workorder.Detail, error) {
	var out workorder.Detail
	if err := c.do(ctx, http.MethodGet, workOrderPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkOrders calls GET /v1/work-orders.
func (c *Client) ListWorkOrders(ctx context.Context, f workorder.ListFilter) ([]*contracts.WorkOrder, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	path := "/v1/work-orders"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		WorkOrders []*contracts.WorkOrder `json:"work_orders"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.WorkOrders, nil
}

// PatchContract calls PATCH /v1/work-orders/{id}/contract.
func (c *Client) PatchContract(ctx context.Context, id string, patch map[string]any) (*snapshot.PatchResult, error) {
	var out snapshot.PatchResult
	if err := c.do(ctx, http.MethodPatch, workOrderPath(id, "contract"), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutEvidence calls PUT /v1/work-orders/{id}/evidence/{evidenceID}.
func (c *Client) PutEvidence(ctx context.Context, id, evidenceID string, in evidence.ItemInput) (*contracts.EvidenceItem, error) {
	var out contracts.EvidenceItem
	if err := c.do(ctx, http.MethodPut, workOrderPath(id, "evidence", url.PathEscape(evidenceID)), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Link calls PUT /v1/work-orders/{id}/links.
func (c *Client) Link(ctx context.Context, id string, in evidence.LinkInput) (*contracts.FieldEvidenceLink, error) {
	var out contracts.FieldEvidenceLink
	if err := c.do(ctx, http.MethodPut, workOrderPath(id, "links"), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transition calls POST /v1/work-orders/{id}/transitions.
func (c *Client) Transition(ctx context.Context, id string, status contracts.Status, note string) (*workorder.Detail, error) {
	var out workorder.Detail
	body := map[string]any{"status": status, "note": note}
	if err := c.do(ctx, http.MethodPost, workOrderPath(id, "transitions"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnsurePack calls POST /v1/work-orders/{id}/pack. An empty key lets the
// server derive one.
func (c *Client) EnsurePack(ctx context.Context, id, idempotencyKey string) (*factory.EnsureResult, error) {
	var out factory.EnsureResult
	var body any
	if idempotencyKey != "" {
		body = map[string]string{"idempotency_key": idempotencyKey}
	}
	if err := c.do(ctx, http.MethodPost, workOrderPath(id, "pack"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportJobStatus calls POST /v1/jobs/{id}/status.
func (c *Client) ReportJobStatus(ctx context.Context, jobID string, status contracts.JobStatus, errMsg string) (*contracts.GenerationJob, error) {
	var out contracts.GenerationJob
	body := map[string]any{"status": status, "error": errMsg}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Release calls POST /v1/work-orders/{id}/release.
func (c *Client) Release(ctx context.Context, id string, req release.Request) (*release.Result, error) {
	var out release.Result
	if err := c.do(ctx, http.MethodPost, workOrderPath(id, "release"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddComment calls POST /v1/work-orders/{id}/comments.
func (c *Client) AddComment(ctx context.Context, id, body string) (*contracts.Comment, error) {
	var out contracts.Comment
	if err := c.do(ctx, http.MethodPost, workOrderPath(id, "comments"), map[string]string{"body": body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
