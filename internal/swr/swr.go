// Package swr answers GET requests from a named cache bucket while refreshing
// that bucket from the network in the background (stale-while-revalidate).
//
// The policy is a plain function of the request, a Store and a Fetcher, so it
// runs the same behind a proxy, in a RoundTripper, or in a test.
package swr

import (
	"context"
	"errors"
	"net/http"
)

// ErrNetwork is the only failure surfaced to callers: the network fetch failed
// and the bucket held nothing to fall back on.
var ErrNetwork = errors.New("network error")

// Store hands out named buckets. A bucket is created on first Open.
type Store interface {
	Open(ctx context.Context, name string) (Bucket, error)
}

// Bucket maps a request identity (method and URL) to its last known response.
type Bucket interface {
	// Match returns a fresh copy of the stored response, or nil, nil.
	Match(ctx context.Context, req *http.Request) (*http.Response, error)
	// Put stores resp under req's identity, replacing any previous entry.
	Put(ctx context.Context, req *http.Request, resp *http.Response) error
}

// Fetcher performs the network request.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// Outcome describes how a request was answered
type Outcome string

const (
	// OutcomeBypass: not a GET, the caller forwards the request itself
	OutcomeBypass Outcome = "bypass"
	OutcomeHit    Outcome = "hit"
	OutcomeMiss   Outcome = "miss"
	OutcomeError  Outcome = "error"
)

// RefreshResult describes how a background network fetch ended
type RefreshResult string

const (
	RefreshStored      RefreshResult = "stored"
	RefreshFailed      RefreshResult = "failed"
	RefreshStoreFailed RefreshResult = "store_failed"
)

// Observer receives outcomes, e.g. for metrics. Calls may come from any goroutine.
type Observer interface {
	ObserveRequest(Outcome)
	ObserveRefresh(RefreshResult)
}
