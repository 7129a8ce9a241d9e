package waha

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

	"noticebot/internal/transport"
	logx "noticebot/pkg/logx"
)

// Client talks to the automation service. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("waha base url is empty")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("waha base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("waha base url: unsupported scheme %q", u.Scheme)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:   u,
		apiKey: strings.TrimSpace(cfg.APIKey),
		http:   transport.NewClient(cfg.Timeout),
		log:    log,
	}, nil
}

// Session returns the handle for the named session.
func (c *Client) Session(name string) Session {
	return Session{c: c, name: strings.TrimSpace(name)}
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	return req, nil
}

// do performs the request and returns the response on 2xx. On any other
// status it returns a *transport.Error and closes the body.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transport.Failed(op, req.URL.Redacted(), err)
	}
	if !transport.OK(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, transport.StatusError(op, resp)
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, op, method, endpoint string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.do(op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transport.Failed(op, req.URL.Redacted(), fmt.Errorf("decode response: %w", err))
	}
	return nil
}
