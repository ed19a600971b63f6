package swr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFetcher(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/app.js", http.StatusFound)
			return
		}
		w.Header().Set("X-Proxy-Connection", r.Header.Get("Proxy-Connection"))
		_, _ = w.Write([]byte("body of " + r.URL.Path))
	}))
	defer upstream.Close()

	fetcher := NewClientFetcher(nil, 5*time.Second)

	t.Run("proxied request", func(t *testing.T) {
		// as received by a forward proxy
		req := httptest.NewRequest(http.MethodGet, upstream.URL+"/app.js", nil)
		req.Header.Set("Proxy-Connection", "keep-alive")
		require.NotEmpty(t, req.RequestURI)

		resp, err := fetcher.Fetch(context.Background(), req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "body of /app.js", string(body))
		assert.Empty(t, resp.Header.Get("X-Proxy-Connection"))
		assert.Equal(t, "keep-alive", req.Header.Get("Proxy-Connection"), "the caller's request is not modified")
	})

	t.Run("redirects are not followed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, upstream.URL+"/moved", nil)

		resp, err := fetcher.Fetch(context.Background(), req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusFound, resp.StatusCode)
	})

	t.Run("unreachable", func(t *testing.T) {
		closed := httptest.NewServer(http.NotFoundHandler())
		closed.Close()

		_, err := fetcher.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, closed.URL, nil))
		assert.Error(t, err)
	})
}

func TestDuplicate(t *testing.T) {
	resp := &http.Response{
		StatusCode:       http.StatusOK,
		Header:           http.Header{"Content-Type": []string{"text/plain"}},
		Body:             io.NopCloser(strings.NewReader("hello")),
		ContentLength:    -1,
		TransferEncoding: []string{"chunked"},
	}

	a, b, err := duplicate(resp)
	require.NoError(t, err)

	a.Header.Set("X-Cache", "HIT")
	assert.Empty(t, b.Header.Get("X-Cache"), "headers are independent")

	for _, r := range []*http.Response{a, b} {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
		assert.Equal(t, int64(5), r.ContentLength)
		assert.Nil(t, r.TransferEncoding)
	}
}

func TestClientFetcherWithoutTimeoutWaitsForSlowOrigin(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("slow but fine"))
	}))
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/slow", nil)

	resp, err := NewClientFetcher(nil, 0).Fetch(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "slow but fine", string(body))

	_, err = NewClientFetcher(nil, 50*time.Millisecond).Fetch(context.Background(), req)
	assert.Error(t, err, "an explicit timeout still bounds the fetch")
}
