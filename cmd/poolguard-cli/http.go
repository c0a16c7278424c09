package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	goahttp "goa.design/goa/v3/http"
)

// client performs requests against a poolguard server
type client struct {
	base  *url.URL
	token string
	doer  goahttp.Doer
	debug bool
}

func newClient(addr, token string, timeout int, debug bool) (*client, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %#v: %w", addr, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %#v: scheme and host are required", addr)
	}

	var (
		doer goahttp.Doer
	)
	{
		doer = &http.Client{Timeout: time.Duration(timeout) * time.Second}
		if debug {
			doer = goahttp.NewDebugDoer(doer)
		}
	}

	return &client{base: u, token: token, doer: doer, debug: debug}, nil
}

func (c *client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and returns the response when the status is in the 2xx range
func (c *client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.doer.Do(req)
	if c.debug {
		c.doer.(goahttp.DebugDoer).Fprint(os.Stderr)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if derr := goahttp.ResponseDecoder(resp).Decode(&e); derr == nil && (e.Error != "" || e.Message != "") {
			return nil, fmt.Errorf("%s %s: %s: %s%s", req.Method, req.URL.Path, resp.Status, e.Error, e.Message)
		}
		return nil, fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return resp, nil
}

// getJSON decodes the JSON body of a GET on path into v
func (c *client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return goahttp.ResponseDecoder(resp).Decode(v)
}

// wsURL returns the websocket URL for path
func (c *client) wsURL(path string) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if c.token != "" {
		u.RawQuery = url.Values{"token": {c.token}}.Encode()
	}
	return u.String()
}
