// Package client provides a typed Go client for the DEFCON governance API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/defcon"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

// APIError is returned when the API responds with a non-2xx status. Kind
// is the governance error kind (e.g. "TimelockNotExpired") or the HTTP
// title for transport-level failures.
type APIError struct {
	Status                   int
	Kind                     string
	Detail                   string
	RemainingTimelockSeconds int64
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("defcon api %d: %s", e.Status, e.Kind)
	}
	return fmt.Sprintf("defcon api %d: %s: %s", e.Status, e.Kind, e.Detail)
}

type problem struct {
	Title                    string `json:"title"`
	Status                   int    `json:"status"`
	Detail                   string `json:"detail"`
	RemainingTimelockSeconds int64  `json:"remaining_timelock_seconds"`
}

// Client is a typed client for the DEFCON API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a new Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token used for mutations.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
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
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var p problem
		if err := json.NewDecoder(resp.Body).Decode(&p); err == nil && p.Title != "" {
			return &APIError{
				Status:                   resp.StatusCode,
				Kind:                     p.Title,
				Detail:                   p.Detail,
				RemainingTimelockSeconds: p.RemainingTimelockSeconds,
			}
		}
		return &APIError{Status: resp.StatusCode, Kind: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Health is the body of GET /health.
type Health struct {
	Status   string `json:"status"`
	Sequence uint64 `json:"sequence"`
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls GET /v1/defcon/status.
func (c *Client) Status(ctx context.Context) (*defcon.Report, error) {
	var out defcon.Report
	if err := c.do(ctx, http.MethodGet, "/v1/defcon/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuditPage is the body of GET /v1/defcon/audit.
type AuditPage struct {
	Entries  []*auditlog.Entry `json:"entries"`
	Head     string            `json:"head"`
	Sequence uint64            `json:"sequence"`
}

// Audit calls GET /v1/defcon/audit. Zero filter fields are omitted.
func (c *Client) Audit(ctx context.Context, filter auditlog.Filter) (*AuditPage, error) {
	q := url.Values{}
	if filter.FromSeq > 0 {
		q.Set("from", strconv.FormatUint(filter.FromSeq, 10))
	}
	if filter.ToSeq > 0 {
		q.Set("to", strconv.FormatUint(filter.ToSeq, 10))
	}
	if filter.Kind != "" {
		q.Set("kind", string(filter.Kind))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/v1/defcon/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out AuditPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result is returned by every accepted mutation.
type Result struct {
	Sequence uint64        `json:"sequence"`
	Status   defcon.Status `json:"status"`
}

func (c *Client) mutate(ctx context.Context, method, path string, body any) (*Result, error) {
	var out Result
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Activate calls POST /v1/defcon/activate.
func (c *Client) Activate(ctx context.Context) (*Result, error) {
	return c.mutate(ctx, http.MethodPost, "/v1/defcon/activate", nil)
}

// RequestDeactivation calls POST /v1/defcon/request-deactivation.
func (c *Client) RequestDeactivation(ctx context.Context) (*Result, error) {
	return c.mutate(ctx, http.MethodPost, "/v1/defcon/request-deactivation", nil)
}

// FinalizeDeactivation calls POST /v1/defcon/finalize-deactivation.
func (c *Client) FinalizeDeactivation(ctx context.Context) (*Result, error) {
	return c.mutate(ctx, http.MethodPost, "/v1/defcon/finalize-deactivation", nil)
}

// CancelDeactivation calls POST /v1/defcon/cancel-deactivation.
func (c *Client) CancelDeactivation(ctx context.Context) (*Result, error) {
	return c.mutate(ctx, http.MethodPost, "/v1/defcon/cancel-deactivation", nil)
}

// UpdateOracle calls PUT /v1/defcon/oracle.
func (c *Client) UpdateOracle(ctx context.Context, oracle identity.Address) (*Result, error) {
	return c.mutate(ctx, http.MethodPut, "/v1/defcon/oracle", map[string]string{"oracle": oracle.String()})
}
