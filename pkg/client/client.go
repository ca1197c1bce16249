// Package client calls the kapi HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hostclick/kapi/pkg/types"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// StatusError carries a non-2xx reply.
type StatusError struct {
	Code   int
	Status string
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("status %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("status %d", e.Code)
}

type Client struct {
	base  string
	http  *http.Client
	token string
}

func New(base, token string) *Client {
	return &Client{base: trim(base), http: http.DefaultClient, token: token}
}

// WithHTTPClient replaces the underlying transport.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func trim(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}

func (c *Client) req(ctx context.Context, method, path string, body any) (*http.Request, error) {
	br := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		br = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, br)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.req(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		var wr types.WebhookResponse
		_ = json.NewDecoder(resp.Body).Decode(&wr)
		return &StatusError{Code: resp.StatusCode, Status: wr.Status, Reason: wr.Reason}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) webhook(ctx context.Context, path string, body any) (types.WebhookResponse, error) {
	var v types.WebhookResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/webhooks/"+path, body, &v)
	return v, err
}

// Suspend sends the billing suspend webhook for subdomain.
func (c *Client) Suspend(ctx context.Context, subdomain string) (types.WebhookResponse, error) {
	return c.webhook(ctx, "suspend", types.SubdomainPayload{Subdomain: subdomain})
}

func (c *Client) Unsuspend(ctx context.Context, subdomain string) (types.WebhookResponse, error) {
	return c.webhook(ctx, "unsuspend", types.SubdomainPayload{Subdomain: subdomain})
}

// SuspendDomain uses the raw route with a full domain and optional name.
func (c *Client) SuspendDomain(ctx context.Context, domain, name string) (types.WebhookResponse, error) {
	return c.webhook(ctx, "raw/suspend", types.DomainPayload{Domain: domain, Name: name})
}

func (c *Client) UnsuspendDomain(ctx context.Context, domain, name string) (types.WebhookResponse, error) {
	return c.webhook(ctx, "raw/unsuspend", types.DomainPayload{Domain: domain, Name: name})
}

func (c *Client) TenantState(ctx context.Context, vhost string) (types.TenantState, error) {
	var v types.TenantState
	err := c.do(ctx, http.MethodGet, "/api/v1/tenants/"+url.PathEscape(vhost), nil, &v)
	return v, err
}

// Transitions lists recent transitions, newest first. limit <= 0 uses the
// server default.
func (c *Client) Transitions(ctx context.Context, vhost string, limit int) ([]types.Transition, error) {
	path := "/api/v1/tenants/" + url.PathEscape(vhost) + "/transitions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var v []types.Transition
	err := c.do(ctx, http.MethodGet, path, nil, &v)
	return v, err
}

func (c *Client) Version(ctx context.Context) (types.Version, error) {
	var v types.Version
	err := c.do(ctx, http.MethodGet, "/api/v1/version", nil, &v)
	return v, err
}
