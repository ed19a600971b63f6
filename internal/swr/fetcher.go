package swr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// hop-by-hop and proxy headers that must not reach the origin
var proxyHeaders = []string{
	"Accept-Encoding",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Upgrade",
}

// ClientFetcher sends requests with an http.Client. Redirects are returned as
// responses rather than followed, so they are cached like any other status.
type ClientFetcher struct {
	client *http.Client
}

// NewClientFetcher uses transport (http.DefaultTransport when nil). A zero
// timeout leaves fetches unbounded.
func NewClientFetcher(transport http.RoundTripper, timeout time.Duration) *ClientFetcher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &ClientFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *ClientFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	// must be empty in client requests
	out.RequestURI = ""
	for _, h := range proxyHeaders {
		out.Header.Del(h)
	}
	return f.client.Do(out)
}

// duplicate buffers resp's body and returns two independent responses:
// one to store and one to hand to the caller.
func duplicate(resp *http.Response) (*http.Response, *http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}

	clone := func() *http.Response {
		c := *resp
		c.Header = resp.Header.Clone()
		if c.Header == nil {
			c.Header = make(http.Header)
		}
		c.Body = io.NopCloser(bytes.NewReader(body))
		c.ContentLength = int64(len(body))
		c.TransferEncoding = nil
		return &c
	}
	return clone(), clone(), nil
}
